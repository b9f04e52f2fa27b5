package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs tracked by the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out listJobsResult
		if err := newAPIClient().get(cmd.Context(), "/v1/jobs", &out); err != nil {
			return err
		}
		if listJSON {
			return printJSON(out)
		}
		if out.Total == 0 {
			fmt.Println("no tracked jobs")
			return nil
		}
		printJobRows(out.Jobs)
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "JSON output")
	rootCmd.AddCommand(listCmd)
}
