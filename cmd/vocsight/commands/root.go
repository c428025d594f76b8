// Package commands defines all Cobra CLI commands for the vocsight binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/vocsight/vocsight-go/internal/audit"
	"github.com/vocsight/vocsight-go/internal/config"
	"github.com/vocsight/vocsight-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vocsight",
		Short: "VocSight — governed classification of customer device issues",
		Long: `VocSight is a local-first pipeline for classifying voice-of-customer (VOC)
device issue reports with an LLM.

It embeds each report, drops near-duplicate rows, reuses prior classification
results above a governed similarity threshold, and classifies the remainder
in bounded-concurrency batches. Results, sessions, and embeddings persist in
local SQLite stores; similarity search over everything stored is available
from the CLI and the HTTP API.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.vocsight/config.yaml).
See 'vocsight --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.vocsight/config.yaml)")

	root.AddCommand(
		NewProcessCmd(),
		NewServeCmd(),
		NewQueryCmd(),
		NewSeedCmd(),
		NewStatsCmd(),
		NewDedupeCmd(),
		NewSweepCmd(),
		NewLedgerCmd(),
		NewVersionCmd(),
	)

	return root
}
