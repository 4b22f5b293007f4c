// Package main is the agentbox command-line runner: a one-shot interface
// to the sandbox execution engine for use outside the MCP server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agentbox",
	Short: "agentbox - sandboxed execution of untrusted code",
	Long: `agentbox executes untrusted, model-generated code inside one of three
isolation tiers: restricted OS subprocesses, a fuel-metered WebAssembly
virtual machine, or ephemeral containers. The tier is selected by the
sandbox.execution_env configuration key.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
