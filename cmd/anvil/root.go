package main

import (
	"os"

	"github.com/spf13/cobra"
)

var apiURL string

var rootCmd = &cobra.Command{
	Use:   "anvil",
	Short: "Orchestrate 3D generation jobs on a remote TRELLIS-style service",
	Long: `anvil submits text and image prompts to a remote 3D generation service,
tracks each job through submission, polling and artifact download, and keeps
a local journal of everything it has run.

Run "anvil serve" to start the orchestrator daemon, then drive it with the
other subcommands (or any HTTP client, see the /v1 API).`,
	SilenceUsage: true,
}

// Execute runs the root command. Cobra prints the failing command's error,
// so all that is left for us is the exit code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "base URL of the anvil daemon (default derived from ANVIL_LISTEN_ADDR)")
}
