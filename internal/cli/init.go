package cli

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vellum-db/vellum/internal/config"
)

// NewInitCommand creates the init command: write a default config file and
// initialize the database it points at.
func NewInitCommand(root *RootOptions) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a vellum database",
		Long:  "Writes a default configuration file and creates the store, blob root, and first branch.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := root.formatter(cmd)

			cfg := config.Default(dir)
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return WrapExitError(ExitCommandError, "encode config", err)
			}
			if _, err := os.Stat(root.ConfigPath); err == nil {
				return NewExitError(ExitCommandError, "config already exists: "+root.ConfigPath)
			}
			if err := os.WriteFile(root.ConfigPath, data, 0o644); err != nil {
				return WrapExitError(ExitCommandError, "write config", err)
			}

			db, err := root.openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if len(db.Branches().AllBranchIDs()) == 0 {
				if err := db.Branches().Add(cmd.Context(), "main", ""); err != nil {
					return WrapExitError(ExitFailure, "create initial branch", err)
				}
			}
			return out.Successf("initialized vellum database at %s", cfg.StorePath)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "directory for the store and blob root")
	return cmd
}
