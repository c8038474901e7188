// Package cli implements the vellum command line interface on cobra, with
// JSON or text output and stable process exit codes.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vellum-db/vellum/internal/config"
	"github.com/vellum-db/vellum/internal/vellum"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the vellum CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:          "vellum",
		Short:        "Versioned document database",
		Long:         "vellum stores JSON-like documents on branches with content-addressed, commit-chained history.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "vellum.yaml", "path to the configuration file")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewBranchCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewFindCommand(opts))
	cmd.AddCommand(NewRmCommand(opts))
	cmd.AddCommand(NewSaveCommand(opts))
	cmd.AddCommand(NewRevertCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewCheckoutCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:  o.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: o.Verbose,
	}
}

// loadConfig reads the configured YAML file, falling back to defaults rooted
// at the working directory when the default path does not exist.
func (o *RootOptions) loadConfig() (config.Config, error) {
	if _, err := os.Stat(o.ConfigPath); err != nil {
		if os.IsNotExist(err) && o.ConfigPath == "vellum.yaml" {
			return config.Default("."), nil
		}
		return config.Config{}, WrapExitError(ExitCommandError, "config not readable", err)
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

// openDB opens the database described by the configuration.
func (o *RootOptions) openDB(cmd *cobra.Command) (*vellum.DB, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	level := parseLevel(cfg.LogLevel)
	if o.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	db, err := vellum.Open(cmd.Context(), cfg, vellum.Parts{Logger: logger})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open database", err)
	}
	return db, nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
