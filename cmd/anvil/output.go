package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/seantiz/anvil/internal/model"
)

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

// printJob renders the detail view used by status and remove.
func printJob(j *model.Job) {
	fmt.Printf("id:        %s\n", j.ID)
	if j.RemoteID != "" {
		fmt.Printf("remote id: %s\n", j.RemoteID)
	}
	fmt.Printf("kind:      %s\n", j.Kind)
	if j.Prompt != "" {
		fmt.Printf("prompt:    %s\n", j.Prompt)
	}
	if j.ImageName != "" {
		fmt.Printf("image:     %s\n", j.ImageName)
	}
	fmt.Printf("status:    %s\n", j.Status)
	if j.Stage != "" {
		fmt.Printf("stage:     %s\n", j.Stage)
	}
	fmt.Printf("quality:   %s\n", j.Quality)
	fmt.Printf("seed:      %d\n", j.Seed)
	fmt.Printf("polls:     %d\n", j.Polls)
	if d := j.Elapsed(time.Now()); d > 0 {
		fmt.Printf("elapsed:   %s\n", fmtDuration(d))
	}
	if j.Error != "" {
		fmt.Printf("error:     %s\n", j.Error)
	}
	for _, kind := range model.FetchOrder {
		if p, ok := j.LocalArtifacts[kind]; ok {
			fmt.Printf("%-9s  %s\n", kind+":", p)
		}
	}
	for kind, msg := range j.ArtifactErrors {
		fmt.Printf("%-9s  download failed: %s\n", kind+":", msg)
	}
	if len(j.Timings) > 0 {
		fmt.Printf("timings:  ")
		for k, v := range j.Timings {
			fmt.Printf(" %s=%.1fs", k, v)
		}
		fmt.Println()
	}
}

// printJobRows renders the one-line-per-job view used by list and history.
func printJobRows(jobs []*model.Job) {
	now := time.Now()
	for _, j := range jobs {
		detail := j.Stage
		if j.Error != "" {
			detail = "error: " + j.Error
		}
		fmt.Printf("%s  %-5s  %-15s  %-9s  %8s  %s\n",
			j.ID, j.Kind, j.Status, j.Quality, fmtDuration(j.Elapsed(now)), detail)
	}
}

// fmtDuration trims sub-second noise off durations longer than a second.
func fmtDuration(d time.Duration) string {
	if d >= time.Minute {
		return d.Round(time.Second).String()
	}
	if d >= time.Second {
		return d.Round(100 * time.Millisecond).String()
	}
	return d.Round(time.Millisecond).String()
}
