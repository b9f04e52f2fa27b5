package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seantiz/anvil/internal/config"
	"github.com/seantiz/anvil/internal/model"
	"github.com/seantiz/anvil/internal/trellis"
)

var removeRemote bool

var removeCmd = &cobra.Command{
	Use:   "remove <job-id>",
	Short: "Remove a job from the daemon's registry",
	Long: `Removes a job from the live registry. An in-flight job is cancelled
first; journal history is kept either way. With --remote the job is also
deleted on the generation service itself.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var job model.Job
		if err := newAPIClient().del(ctx, "/v1/jobs/"+args[0], &job); err != nil {
			return err
		}
		fmt.Printf("removed job %s (status %s)\n", job.ID, job.Status)

		if !removeRemote {
			return nil
		}
		if job.RemoteID == "" {
			fmt.Println("job was never submitted remotely, nothing to delete on the service")
			return nil
		}

		cfg := config.Load()
		client := trellis.NewClient(cfg.ServerURL, cfg.HTTPTimeout)
		if err := client.DeleteJob(ctx, job.RemoteID); err != nil {
			return fmt.Errorf("local removal done, but remote delete failed: %w", err)
		}
		fmt.Printf("deleted remote job %s\n", job.RemoteID)
		return nil
	},
}

func init() {
	removeCmd.Flags().BoolVar(&removeRemote, "remote", false, "also delete the job on the generation service")
	rootCmd.AddCommand(removeCmd)
}
