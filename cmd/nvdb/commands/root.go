package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/nounverb/nvdb/pkg/config"
	"github.com/nounverb/nvdb/pkg/query"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "nvdb",
	Short: "Inspect and smoke-test an nvdb database",
	Long: `nvdb - command line companion for an embeddable vector-plus-graph
database.

Every subcommand loads its configuration from a YAML file (see
pkg/config.Config for the schema) and opens the database it describes
for the duration of the command.

Examples:
  nvdb -c nvdb.yaml status
  nvdb -c nvdb.yaml health
  nvdb -c nvdb.yaml insert '[0.1, 0.2, 0.3]' --metadata noun=doc
  nvdb -c nvdb.yaml search '[0.1, 0.2, 0.3]' --k 5`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "nvdb.yaml", "path to the database config YAML file")
}

// openDB loads the configured database for the lifetime of a single
// command invocation. Callers are responsible for calling Shutdown.
func openDB(ctx context.Context) (*query.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return query.Open(ctx, cfg)
}
