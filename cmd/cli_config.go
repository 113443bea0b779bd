package cmd

import (
	"os"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	r "github.com/linkhop/linkhop/pkg/redis"
	"github.com/linkhop/linkhop/pkg/rollup"
)

// CLIConfig is the minimal configuration the maintenance commands need.
// An engine config file works unchanged; the extra sections are ignored.
type CLIConfig struct {
	// Logging level
	Logging string `yaml:"logging" default:"error" validate:"oneof=panic fatal warn info debug trace"`

	// Redis configuration
	Redis r.Config `yaml:"redis"`

	// Rollup configuration (only the queue settings matter here)
	Rollup rollup.Config `yaml:"rollup"`
}

// Validate validates the CLI configuration
func (c *CLIConfig) Validate() error {
	if err := c.Redis.Validate(); err != nil {
		return err
	}

	return c.Rollup.Validate()
}

// LoadCLIConfig loads CLI configuration from a YAML file
func LoadCLIConfig(path string) (*CLIConfig, error) {
	if path == "" {
		path = "config.yaml"
	}

	config := &CLIConfig{}

	if err := defaults.Set(config); err != nil {
		return nil, err
	}

	// Try to read the file, but allow it to not exist
	yamlFile, err := os.ReadFile(path) //nolint:gosec // User-provided config file path
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, rely on defaults and flags
			return config, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(yamlFile))), config); err != nil {
		return nil, err
	}

	return config, nil
}
