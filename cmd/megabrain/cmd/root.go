// Package cmd provides the CLI commands for MegaBrain.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/olexmal/megabrain/internal/logging"
	"github.com/olexmal/megabrain/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the megabrain CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "megabrain",
		Short: "Search orchestration CLI for a self-hosted code-knowledge index",
		Long: `MegaBrain fans a query out to a keyword index, a vector index, and a
graph closure over structural relationships, merges the results with a
weighted sum of per-source normalized scores, and returns ranked chunks.

This binary is a thin CLI over the orchestrator and index-state store; it
does not run a server.`,
		Version:      version.Version,
		SilenceUsage: true,
	}

	cmd.SetVersionTemplate("megabrain version {{.Version}}\n")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.megabrain/logs/")
	cmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Override the index data directory (default: ./.megabrain)")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newIndexStateCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging enables debug file logging when --debug is set.
func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to set up debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
