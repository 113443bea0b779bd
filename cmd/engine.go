package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/creasty/defaults"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/linkhop/linkhop/pkg/engine"
)

//nolint:gochecknoglobals // Cobra flags are typically global
var (
	engineCfgFile string
)

//nolint:gochecknoglobals // Cobra commands are typically global
var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Start the full linkhop engine",
	Long:  `The engine runs the redirector and the analytics pipeline in a single process.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runEngine(cmd, engineCfgFile, engine.Roles{Redirector: true, Pipeline: true})
	},
}

func init() {
	rootCmd.AddCommand(engineCmd)
	engineCmd.Flags().StringVar(&engineCfgFile, "config", "engine.yaml", "config file (default is engine.yaml)")
}

func loadEngineConfigFromFile(file string) (*engine.Config, error) {
	config := &engine.Config{}

	if err := defaults.Set(config); err != nil {
		return nil, err
	}

	yamlFile, err := os.ReadFile(file) //nolint:gosec // User-provided config file path
	if err != nil {
		return nil, err
	}

	// Expand ${VAR} references first so credentials can stay in the environment
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(yamlFile))), config); err != nil {
		return nil, err
	}

	return config, nil
}

func runEngine(cmd *cobra.Command, file string, roles engine.Roles) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	// Load configuration
	config, err := loadEngineConfigFromFile(file)
	if err != nil {
		return err
	}

	// Setup logger
	level, err := logrus.ParseLevel(config.Logging)
	if err != nil {
		return err
	}
	log := logrus.New()
	log.SetLevel(level)

	log.Info("Configuration loaded")

	// Create and start the engine
	app, err := engine.NewService(log, config, roles)
	if err != nil {
		return err
	}

	if err := app.Start(); err != nil {
		return err
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	return app.Stop()
}
