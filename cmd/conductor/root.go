package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Conductor - single-process chat agent orchestrator",
	Long: color.CyanString(logo) + "\nMediates Telegram, Discord, and Slack transports, a single LLM agent\n" +
		"turn loop, and scheduled memory maintenance, in one process.",
	RunE: runConductor,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json (defaults to ~/.conductor/config.json)")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
