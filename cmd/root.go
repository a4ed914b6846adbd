// Package cmd wires the gateway's command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	versionInfo string
	buildInfo   string
)

var rootCmd = &cobra.Command{
	Use:   "claude-gateway",
	Short: "Anthropic-compatible gateway for OpenAI-style providers",
	Long: `claude-gateway accepts requests in the Anthropic Messages wire format,
translates them for OpenAI-compatible chat completion providers, and
converts responses back, in both buffered and streaming delivery modes.

It ships a response cache keyed on request semantics, concurrent batch
processing, provider failover with circuit breaking, and Prometheus
metrics.`,
}

// Execute runs the CLI. Version strings come from the main package so
// build-time ldflags land here.
func Execute(version, build string) {
	versionInfo = version
	buildInfo = build
	rootCmd.Version = versionInfo
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd, batchCmd, versionCmd)
}
