package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the daemon and the generation service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c := newAPIClient()

		var daemon struct {
			Status string `json:"status"`
		}
		if err := c.get(ctx, "/healthz", &daemon); err != nil {
			return fmt.Errorf("daemon unreachable at %s: %w", c.base, err)
		}
		fmt.Printf("daemon: %s (%s)\n", daemon.Status, c.base)

		var stats statsResult
		if err := c.get(ctx, "/v1/stats", &stats); err == nil {
			fmt.Printf("jobs:   %d active, %d journaled\n", stats.Active, stats.Total)
		}

		var remote struct {
			Status string `json:"status"`
		}
		if err := c.get(ctx, "/v1/remote/health", &remote); err != nil {
			fmt.Printf("remote: unavailable\n")
			return err
		}
		fmt.Printf("remote: %s\n", remote.Status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
