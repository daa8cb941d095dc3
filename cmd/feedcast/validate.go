package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/feedcast/config"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a feedcast configuration file without starting the server.

This command parses the YAML, expands environment variables, validates all
fields and builds every source, including grid expansions and route paths.
It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  feedcast validate -c config.yaml
  feedcast validate --config /etc/feedcast/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	sources, err := config.BuildSources(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	direct := len(cfg.Sources)
	fromGrids := len(sources) - direct

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:             %d\n", cfg.Port)
	fmt.Fprintf(out, "  Default interval: %s\n", cfg.DefaultInterval.Duration())
	fmt.Fprintf(out, "  Sources:          %d direct + %d from grids = %d total\n",
		direct, fromGrids, len(sources))
	for _, src := range sources {
		fmt.Fprintf(out, "    /%s -> %s\n", src.Path(), src.Type())
	}

	return nil
}
