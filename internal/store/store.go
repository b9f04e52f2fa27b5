package store

import (
	"context"

	"github.com/seantiz/anvil/internal/model"
)

// JobStats holds aggregate statistics over the job journal.
type JobStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByKind   map[string]int `json:"count_by_kind"`
	AvgElapsedS   float64        `json:"avg_elapsed_s"`
}

// Store defines the persistence operations for the job journal.
type Store interface {
	CreateJob(ctx context.Context, j *model.Job) error
	UpdateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error)
	DeleteJob(ctx context.Context, id string) error
	GetJobStats(ctx context.Context) (*JobStats, error)
	Close() error
}
