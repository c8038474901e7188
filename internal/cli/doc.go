package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vellum-db/vellum/internal/doc"
	"github.com/vellum-db/vellum/internal/query"
	"github.com/vellum-db/vellum/internal/vellum"
	"github.com/vellum-db/vellum/internal/version"
)

// NewAddCommand creates the add command: stage documents from JSON files.
func NewAddCommand(root *RootOptions) *cobra.Command {
	var saveMsg string

	cmd := &cobra.Command{
		Use:   "add <file>...",
		Short: "Stage documents on the current branch",
		Long:  "Reads one JSON document per file (use - for stdin) and stages them on the current branch. Documents without an id get a fresh one.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := root.formatter(cmd)
			db, err := root.openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			docs := make([]*doc.Document, 0, len(args))
			for _, arg := range args {
				d, err := readDocument(cmd, arg)
				if err != nil {
					return WrapExitError(ExitCommandError, "read document "+arg, err)
				}
				if d.ID == "" {
					fresh := db.NewDocument(d.ClassName)
					d.ID = fresh.ID
					if d.CreatedAt.IsZero() {
						d.CreatedAt = fresh.CreatedAt
					}
				}
				docs = append(docs, d)
			}

			var opts []vellum.Option
			if saveMsg != "" {
				opts = append(opts, vellum.WithSave(saveMsg))
			}
			if err := db.AddMany(cmd.Context(), docs, opts...); err != nil {
				return WrapExitError(ExitFailure, "add documents", err)
			}

			ids := make([]string, len(docs))
			for i, d := range docs {
				ids[i] = d.ID
			}
			if out.Format == "json" {
				return out.Success(map[string]any{"added": ids})
			}
			return out.Successf("added %d document(s)", len(ids))
		},
	}
	cmd.Flags().StringVarP(&saveMsg, "save", "m", "", "save immediately with this commit message")
	return cmd
}

func readDocument(cmd *cobra.Command, arg string) (*doc.Document, error) {
	var data []byte
	var err error
	if arg == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(arg)
	}
	if err != nil {
		return nil, err
	}
	var d doc.Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// NewFindCommand creates the find command: query documents in a read scope.
func NewFindCommand(root *RootOptions) *cobra.Command {
	var (
		queryJSON string
		snapshot  string
		commit    string
		history   bool
	)

	cmd := &cobra.Command{
		Use:   "find",
		Short: "Find documents matching a query",
		Long:  "Evaluates a JSON clause list against the selected read scope: all history, a snapshot, a commit, or the working state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := root.formatter(cmd)
			db, err := root.openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			var clauses []query.Clause
			if queryJSON != "" {
				clauses, err = query.ParseClauses([]byte(queryJSON))
				if err != nil {
					return WrapExitError(ExitCommandError, "parse query", err)
				}
			}

			docs, err := db.Find(cmd.Context(), clauses, version.FindOptions{
				SnapshotID:   snapshot,
				CommitHash:   commit,
				InAllHistory: history,
			})
			if err != nil {
				return WrapExitError(ExitFailure, "find", err)
			}

			if out.Format == "json" {
				return out.Success(docs)
			}
			for _, d := range docs {
				if err := out.Successf("%s\t%s", d.ID, d.ClassName); err != nil {
					return err
				}
			}
			return out.Successf("%d document(s)", len(docs))
		},
	}
	cmd.Flags().StringVarP(&queryJSON, "query", "q", "", "JSON clause list")
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "read from a snapshot id")
	cmd.Flags().StringVar(&commit, "commit", "", "read from a commit hash")
	cmd.Flags().BoolVar(&history, "all-history", false, "read every stored document version")
	return cmd
}

// NewRmCommand creates the rm command: remove documents by id.
func NewRmCommand(root *RootOptions) *cobra.Command {
	var saveMsg string

	cmd := &cobra.Command{
		Use:   "rm <document-id>...",
		Short: "Remove documents from the current branch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := root.formatter(cmd)
			db, err := root.openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			var opts []vellum.Option
			if saveMsg != "" {
				opts = append(opts, vellum.WithSave(saveMsg))
			}
			if err := db.DeleteMany(cmd.Context(), args, opts...); err != nil {
				return WrapExitError(ExitFailure, "remove documents", err)
			}
			return out.Successf("removed %d document(s)", len(args))
		},
	}
	cmd.Flags().StringVarP(&saveMsg, "save", "m", "", "save immediately with this commit message")
	return cmd
}

// NewSaveCommand creates the save command: commit the working snapshot.
func NewSaveCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save <message>",
		Short: "Commit the current branch's working snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := root.formatter(cmd)
			db, err := root.openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			hash, err := db.Save(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "save", err)
			}
			if hash == "" {
				return out.Success("nothing to save")
			}
			if out.Format == "json" {
				return out.Success(map[string]string{"commit_hash": hash})
			}
			return out.Successf("committed %s", hash)
		},
	}
	return cmd
}

// NewRevertCommand creates the revert command: discard the working snapshot.
func NewRevertCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revert",
		Short: "Discard the current branch's working snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := root.formatter(cmd)
			db, err := root.openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Revert(cmd.Context()); err != nil {
				return WrapExitError(ExitFailure, "revert", err)
			}
			return out.Success("reverted")
		},
	}
}

// NewLogCommand creates the log command: walk the commit chain nearest-first.
func NewLogCommand(root *RootOptions) *cobra.Command {
	var fromCommit string

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the current branch's commit history",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := root.formatter(cmd)
			db, err := root.openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			history, err := db.History(cmd.Context(), fromCommit)
			if err != nil {
				return WrapExitError(ExitFailure, "history", err)
			}
			if out.Format == "json" {
				return out.Success(history)
			}
			for _, entry := range history {
				line := fmt.Sprintf("%d\t%s\tsnapshot %s\t%s",
					entry.Depth, entry.CommitHash, entry.SnapshotID,
					entry.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
				for _, name := range entry.RefNames {
					line += "\t(" + name + ")"
				}
				if err := out.Success(line); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fromCommit, "from", "", "start from this commit hash instead of the branch tip")
	return cmd
}

// NewCheckoutCommand creates the checkout command: repoint the branch ref.
func NewCheckoutCommand(root *RootOptions) *cobra.Command {
	var (
		snapshot string
		commit   string
	)

	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Point the current branch at a past commit or snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := root.formatter(cmd)
			if snapshot == "" && commit == "" {
				return NewExitError(ExitCommandError, "need --commit or --snapshot")
			}
			db, err := root.openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Checkout(cmd.Context(), snapshot, commit); err != nil {
				return WrapExitError(ExitFailure, "checkout", err)
			}
			return out.Success("checked out")
		},
	}
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "snapshot id to check out")
	cmd.Flags().StringVar(&commit, "commit", "", "commit hash to check out")
	return cmd
}
