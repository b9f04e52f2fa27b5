package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	historyLimit  int
	historyOffset int
	historyJSON   bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show journaled jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := fmt.Sprintf("/v1/history?limit=%d&offset=%d", historyLimit, historyOffset)

		var out historyResult
		if err := newAPIClient().get(cmd.Context(), path, &out); err != nil {
			return err
		}
		if historyJSON {
			return printJSON(out)
		}
		if out.Total == 0 {
			fmt.Println("journal is empty")
			return nil
		}
		printJobRows(out.Jobs)
		fmt.Printf("showing %d of %d\n", len(out.Jobs), out.Total)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "max rows")
	historyCmd.Flags().IntVar(&historyOffset, "offset", 0, "rows to skip")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "JSON output")
	rootCmd.AddCommand(historyCmd)
}
