// Package commands defines all Cobra CLI commands for the bowen binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/joedaviesio/magna/internal/audit"
	"github.com/joedaviesio/magna/internal/config"
	"github.com/joedaviesio/magna/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bowen",
		Short: "Bowen, a legal information assistant for New Zealand legislation",
		Long: `Bowen answers questions about New Zealand statutes using retrieval over
the text of the acts and a language model for the explanation.

The offline pipeline turns legislation.govt.nz HTML into a searchable index:

  bowen parse    HTML acts      -> per-act section JSON
  bowen chunk    section JSON   -> token-bounded chunks
  bowen embed    chunks         -> embedding snapshot (optionally mirrored to Qdrant)

Then 'bowen serve' starts the HTTP API, or 'bowen search' and 'bowen ask'
query the snapshot from the terminal.

Providers and paths are configured via environment variables or a YAML
config file (~/.bowen/config.yaml). Bowen provides information, not legal
advice.`,
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

			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.bowen/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewParseCmd(),
		NewChunkCmd(),
		NewEmbedCmd(),
		NewSearchCmd(),
		NewAskCmd(),
		NewDiagnoseCmd(),
		NewVersionCmd(),
	)

	return root
}
