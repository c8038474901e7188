package cli

import (
	"github.com/spf13/cobra"
)

// NewBranchCommand creates the branch command group: list, add, rm, freeze.
func NewBranchCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branch",
		Short: "Manage branches",
	}
	cmd.AddCommand(newBranchListCommand(root))
	cmd.AddCommand(newBranchAddCommand(root))
	cmd.AddCommand(newBranchRmCommand(root))
	cmd.AddCommand(newBranchFreezeCommand(root))
	return cmd
}

type branchInfo struct {
	ID      string `json:"id"`
	Parent  string `json:"parent,omitempty"`
	Frozen  bool   `json:"frozen,omitempty"`
	Current bool   `json:"current,omitempty"`
}

func newBranchListCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List branches in creation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := root.formatter(cmd)
			db, err := root.openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			current := db.Branches().Current()
			var infos []branchInfo
			for _, id := range db.Branches().AllBranchIDs() {
				b, err := db.Branches().Get(id)
				if err != nil {
					return WrapExitError(ExitFailure, "read branch", err)
				}
				infos = append(infos, branchInfo{
					ID:      b.ID,
					Parent:  b.ParentID,
					Frozen:  b.Frozen,
					Current: b.ID == current,
				})
			}
			if out.Format == "json" {
				return out.Success(infos)
			}
			for _, b := range infos {
				marker := "  "
				if b.Current {
					marker = "* "
				}
				line := marker + b.ID
				if b.Frozen {
					line += " (frozen)"
				}
				if err := out.Success(line); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newBranchAddCommand(root *RootOptions) *cobra.Command {
	var parent string

	cmd := &cobra.Command{
		Use:   "add <branch-id>",
		Short: "Create a branch and make it current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := root.formatter(cmd)
			db, err := root.openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Branches().Add(cmd.Context(), args[0], parent); err != nil {
				return WrapExitError(ExitFailure, "add branch", err)
			}
			return out.Successf("created branch %s", args[0])
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "parent branch (defaults to the current branch)")
	return cmd
}

func newBranchRmCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <branch-id>",
		Short: "Delete a leaf, unfrozen branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := root.formatter(cmd)
			db, err := root.openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Branches().Delete(cmd.Context(), args[0]); err != nil {
				return WrapExitError(ExitFailure, "delete branch", err)
			}
			return out.Successf("deleted branch %s", args[0])
		},
	}
}

func newBranchFreezeCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "freeze <branch-id>",
		Short: "Freeze a branch (no further commits)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := root.formatter(cmd)
			db, err := root.openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Branches().Freeze(cmd.Context(), args[0]); err != nil {
				return WrapExitError(ExitFailure, "freeze branch", err)
			}
			return out.Successf("froze branch %s", args[0])
		},
	}
}
