package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seantiz/anvil/internal/model"
)

var (
	submitImagePath string
	submitQuality   string
	submitSeed      int
	submitWait      bool
	submitJSON      bool
)

var submitCmd = &cobra.Command{
	Use:   "submit [prompt]",
	Short: "Submit a text or image generation job",
	Long: `Submits a generation job to the daemon. Give a text prompt as the
argument, or --image with a file path for image-to-3D. The remote service is
health-checked first; submission is refused while it is down.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c := newAPIClient()

		// The generation service holds the queue; probing it up front beats
		// discovering a dead backend three polls into a tracked job.
		var health struct {
			Status string `json:"status"`
		}
		if err := c.get(ctx, "/v1/remote/health", &health); err != nil {
			return fmt.Errorf("refusing to submit, generation service unavailable: %w", err)
		}

		var seed *int
		if cmd.Flags().Changed("seed") {
			seed = &submitSeed
		}

		var (
			job *model.Job
			err error
		)
		if submitImagePath != "" {
			data, rerr := os.ReadFile(submitImagePath)
			if rerr != nil {
				return fmt.Errorf("read image: %w", rerr)
			}
			job, err = c.submitImage(ctx, filepath.Base(submitImagePath), data, submitQuality, seed)
		} else {
			if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
				return errors.New("provide a text prompt or --image")
			}
			job, err = c.submitText(ctx, args[0], submitQuality, seed)
		}
		if err != nil {
			return err
		}

		if submitJSON && !submitWait {
			return printJSON(job)
		}

		est := model.QualityEstimate(job.Quality)
		fmt.Printf("job %s submitted (quality %s, typically ~%s)\n", job.ID, job.Quality, fmtDuration(est))

		if !submitWait {
			fmt.Printf("follow it with: anvil status %s --follow\n", job.ID)
			return nil
		}
		return followJob(ctx, c, job.ID, submitJSON)
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitImagePath, "image", "", "path to an image file for image-to-3D")
	submitCmd.Flags().StringVar(&submitQuality, "quality", "", "quality preset (superfast|fast|balanced|high, default balanced)")
	submitCmd.Flags().IntVar(&submitSeed, "seed", 0, "generation seed")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "stream job events until the job settles")
	submitCmd.Flags().BoolVar(&submitJSON, "json", false, "JSON output")
	rootCmd.AddCommand(submitCmd)
}
