package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/anvil/internal/engine"
	"github.com/seantiz/anvil/internal/model"
)

var (
	statusFollow bool
	statusJSON   bool
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job, optionally following it until it settles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c := newAPIClient()
		id := args[0]

		if statusFollow {
			return followJob(ctx, c, id, statusJSON)
		}

		job, err := c.getJob(ctx, id)
		if err != nil {
			return err
		}
		if statusJSON {
			return printJSON(job)
		}
		printJob(job)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusFollow, "follow", false, "stream job events until the job settles")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "JSON output")
	rootCmd.AddCommand(statusCmd)
}

// followJob streams a job's event feed and prints each transition, then
// reports the final state. A failed job (or one whose artifacts all failed to
// download) becomes a non-zero exit.
func followJob(ctx context.Context, c *apiClient, id string, asJSON bool) error {
	resp, err := c.events(ctx, id)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	doneNext := false
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "event: done":
			doneNext = true
		case strings.HasPrefix(line, "data: "):
			payload := strings.TrimPrefix(line, "data: ")
			if doneNext {
				return reportSettled(ctx, c, id, payload, asJSON)
			}
			if asJSON {
				fmt.Println(payload)
				continue
			}
			var ev engine.Event
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				continue
			}
			printEvent(ev)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("event stream: %w", err)
	}
	return fmt.Errorf("event stream ended before job %s settled", id)
}

func printEvent(ev engine.Event) {
	line := fmt.Sprintf("%s  %-15s", ev.At.Local().Format("15:04:05"), ev.Status)
	if ev.Stage != "" {
		line += "  " + ev.Stage
	}
	if ev.Error != "" {
		line += "  error: " + ev.Error
	}
	fmt.Println(line)
}

// reportSettled prints the final snapshot once the stream's done event
// arrives. finalStatus is the done payload, used as a fallback when the job
// was removed before we could fetch it.
func reportSettled(ctx context.Context, c *apiClient, id, finalStatus string, asJSON bool) error {
	job, err := c.getJob(ctx, id)
	if err != nil {
		// Removed from the registry between the last event and now; all we
		// have is the status the stream reported.
		if finalStatus == model.StatusCompleted {
			return nil
		}
		return fmt.Errorf("job %s settled with status %s", id, finalStatus)
	}

	if asJSON {
		return printJSON(job)
	}

	switch job.Status {
	case model.StatusCompleted:
		fmt.Printf("job %s completed in %s\n", job.ID, fmtDuration(job.Elapsed(time.Now())))
		for _, kind := range model.FetchOrder {
			if p, ok := job.LocalArtifacts[kind]; ok {
				fmt.Printf("  %s: %s\n", kind, p)
			}
		}
		for kind, msg := range job.ArtifactErrors {
			fmt.Printf("  %s: download failed: %s\n", kind, msg)
		}
		return nil
	case model.StatusDownloadFailed:
		for kind, msg := range job.ArtifactErrors {
			fmt.Printf("  %s: download failed: %s\n", kind, msg)
		}
		return fmt.Errorf("job %s generated but no artifact could be downloaded", job.ID)
	case model.StatusFailed:
		if job.Error != "" {
			return fmt.Errorf("job %s failed: %s", job.ID, job.Error)
		}
		return fmt.Errorf("job %s failed", job.ID)
	default:
		return fmt.Errorf("job %s settled with status %s", job.ID, job.Status)
	}
}
