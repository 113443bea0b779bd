package cmd

import (
	"github.com/spf13/cobra"

	"github.com/linkhop/linkhop/pkg/engine"
)

//nolint:gochecknoglobals // Cobra flags are typically global
var (
	redirectorCfgFile string
)

//nolint:gochecknoglobals // Cobra commands are typically global
var redirectorCmd = &cobra.Command{
	Use:   "redirector",
	Short: "Start the linkhop redirector service",
	Long: `The redirector serves the public redirect endpoint and emits click
events without running the analytics pipeline.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runEngine(cmd, redirectorCfgFile, engine.Roles{Redirector: true})
	},
}

func init() {
	rootCmd.AddCommand(redirectorCmd)
	redirectorCmd.Flags().StringVar(&redirectorCfgFile, "config", "redirector.yaml", "config file (default is redirector.yaml)")
}
