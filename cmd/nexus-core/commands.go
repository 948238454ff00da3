package main

import (
	"github.com/spf13/cobra"

	"github.com/nexuscore/runtime/internal/config"
)

const defaultConfigPath = "nexus-core.yaml"

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dispatcher's HTTP ingress, module workers, and scheduled sweeps",
		Long: `Start the Nexus core dispatcher.

The server will:
1. Load configuration from the specified file (or nexus-core.yaml).
2. Construct the storage, lane, hook, context bank, and module managers.
3. Start the HTTP ingress behind the bearer-token auth middleware.
4. Start the idle-lane-prune and module-health-sweep cron jobs.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func buildModulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modules",
		Short: "Manage installed modules",
	}
	cmd.AddCommand(buildModulesListCmd(), buildModulesEnableCmd(), buildModulesDisableCmd())
	return cmd
}

func buildModulesListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed modules and their enabled state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModulesList(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func buildModulesEnableCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "enable <name>",
		Short: "Enable an installed module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModulesSetEnabled(cmd.Context(), configPath, args[0], true)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func buildModulesDisableCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "disable <name>",
		Short: "Disable an installed module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModulesSetEnabled(cmd.Context(), configPath, args[0], false)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the supported configuration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Printf("config version %d\n", config.CurrentVersion)
			return nil
		},
	}
}
