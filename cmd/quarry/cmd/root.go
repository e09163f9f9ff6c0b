// Package cmd provides the CLI commands for quarry.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/quarry-search/quarry/internal/config"
	"github.com/quarry-search/quarry/internal/logging"
	"github.com/quarry-search/quarry/pkg/version"
)

var (
	configPath     string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the quarry CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quarry",
		Short: "Batch hybrid search over dense, sparse, and structured indexes",
		Long: `Quarry answers batches of queries against a hybrid retrieval engine:
a dense ANN vector index, a sparse keyword index, and a structured
document database. Rankings are merged with weighted fusion; structured
queries can embed similar() clauses that run as one batched vector pass.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("quarry version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "quarry.yaml", "Config file path")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setupLogging configures the default logger from config plus flags.
func setupLogging(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.FilePath,
		WriteToStderr: cfg.Logging.FilePath == "",
	}
	if debugMode {
		logCfg.Level = "debug"
	}

	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
