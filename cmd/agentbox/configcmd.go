package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/isdmx/agentbox/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the fully resolved configuration (defaults merged with any
config file found) as YAML, after validation.`,
	RunE: showConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func showConfig(_ *cobra.Command, _ []string) error {
	cfg, err := config.New()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	_, err = os.Stdout.Write(data)
	return err
}
