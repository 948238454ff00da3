// Package main provides the CLI entry point for the Nexus core dispatcher.
//
// nexus-core wires the dispatch pipeline (routing, lanes, hooks, context
// bank, rollout bookkeeping, the watchdog-guarded agentic loop) to an HTTP
// ingress, a module lifecycle manager, and the two scheduled administrative
// sweeps, then serves until SIGINT/SIGTERM.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "nexus-core",
		Short: "Runtime dispatcher for the Nexus agent core",
	}
	root.AddCommand(buildServeCmd(), buildModulesCmd(), buildVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
