package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop settled jobs from the registry",
	Long: `Removes every job that has reached a terminal status (completed,
failed or download_failed) from the live registry. The journal keeps their
history; "anvil history" still shows them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Removed int `json:"removed"`
		}
		if err := newAPIClient().del(cmd.Context(), "/v1/jobs/completed", &out); err != nil {
			return err
		}
		fmt.Printf("removed %d settled job(s)\n", out.Removed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(clearCmd)
}
