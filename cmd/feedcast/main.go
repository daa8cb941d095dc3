// Package main is the entry point for the feedcast CLI.
//
// feedcast can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	feedcast serve -c config.yaml    # Start broadcasting
//	feedcast validate -c config.yaml # Validate configuration
//	feedcast version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "feedcast",
	Short: "Poll feeds and push changes to websocket clients",
	Long: `feedcast polls JSON and XML feeds and pushes every change to the
websocket clients connected on each feed's route.

Polling only runs while at least one client is connected.

Quick start:
  1. Create a config file (feedcast.yaml)
  2. Run: feedcast serve -c feedcast.yaml
  3. Open http://localhost:8080 in your browser

Example config:
  port: 8080
  default_interval: 2s
  sources:
    - type: json-example
      url: https://example.com/feed.json
      compare: field:0.pubDate`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// cobra already prints the error
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this feedcast binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "feedcast %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
