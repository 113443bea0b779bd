package cmd

import (
	"github.com/spf13/cobra"

	"github.com/linkhop/linkhop/pkg/engine"
)

//nolint:gochecknoglobals // Cobra flags are typically global
var (
	workerCfgFile string
)

//nolint:gochecknoglobals // Cobra commands are typically global
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the linkhop analytics worker",
	Long: `The worker consumes queued click events into Postgres and executes
scheduled stat rollups. It does not serve redirects.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runEngine(cmd, workerCfgFile, engine.Roles{Pipeline: true})
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().StringVar(&workerCfgFile, "config", "worker.yaml", "config file (default is worker.yaml)")
}
