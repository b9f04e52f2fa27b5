package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/seantiz/anvil/internal/model"

	_ "modernc.org/sqlite"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id              TEXT PRIMARY KEY,
    remote_id       TEXT,
    kind            TEXT NOT NULL,
    status          TEXT NOT NULL,
    prompt          TEXT,
    image_name      TEXT,
    quality         TEXT NOT NULL,
    seed            INTEGER NOT NULL,
    stage           TEXT,
    error           TEXT,
    polls           INTEGER NOT NULL DEFAULT 0,
    artifact_urls   TEXT,
    local_artifacts TEXT,
    artifact_errors TEXT,
    timings         TEXT,
    created_at      DATETIME NOT NULL,
    submitted_at    DATETIME,
    started_at      DATETIME,
    finished_at     DATETIME
)`

// ErrNotFound is returned when a job is not in the journal.
var ErrNotFound = errors.New("job not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createJobsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create jobs table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateJob inserts a new job record.
func (s *SQLiteStore) CreateJob(ctx context.Context, j *model.Job) error {
	urls, locals, errs, timings, err := encodeJobMaps(j)
	if err != nil {
		return fmt.Errorf("encode job maps: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (
			id, remote_id, kind, status, prompt, image_name,
			quality, seed, stage, error, polls,
			artifact_urls, local_artifacts, artifact_errors, timings,
			created_at, submitted_at, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.RemoteID, j.Kind, j.Status, j.Prompt, j.ImageName,
		j.Quality, j.Seed, j.Stage, j.Error, j.Polls,
		urls, locals, errs, timings,
		j.CreatedAt, j.SubmittedAt, j.StartedAt, j.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJob overwrites the stored record for j.ID with the job's current state.
func (s *SQLiteStore) UpdateJob(ctx context.Context, j *model.Job) error {
	urls, locals, errs, timings, err := encodeJobMaps(j)
	if err != nil {
		return fmt.Errorf("encode job maps: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET
			remote_id = ?, kind = ?, status = ?, prompt = ?, image_name = ?,
			quality = ?, seed = ?, stage = ?, error = ?, polls = ?,
			artifact_urls = ?, local_artifacts = ?, artifact_errors = ?, timings = ?,
			created_at = ?, submitted_at = ?, started_at = ?, finished_at = ?
		WHERE id = ?`,
		j.RemoteID, j.Kind, j.Status, j.Prompt, j.ImageName,
		j.Quality, j.Seed, j.Stage, j.Error, j.Polls,
		urls, locals, errs, timings,
		j.CreatedAt, j.SubmittedAt, j.StartedAt, j.FinishedAt,
		j.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, remote_id, kind, status, prompt, image_name,
			quality, seed, stage, error, polls,
			artifact_urls, local_artifacts, artifact_errors, timings,
			created_at, submitted_at, started_at, finished_at
		FROM jobs WHERE id = ?`, id,
	)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns a paginated list of jobs ordered by created_at DESC, along
// with the total count of all jobs.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, remote_id, kind, status, prompt, image_name,
			quality, seed, stage, error, polls,
			artifact_urls, local_artifacts, artifact_errors, timings,
			created_at, submitted_at, started_at, finished_at
		FROM jobs ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, total, nil
}

// DeleteJob removes a job from the journal.
func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJobStats aggregates counts by status and kind plus the average remote
// processing time of completed jobs.
func (s *SQLiteStore) GetJobStats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{
		CountByStatus: make(map[string]int),
		CountByKind:   make(map[string]int),
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	kindRows, err := s.db.QueryContext(ctx, "SELECT kind, COUNT(*) FROM jobs GROUP BY kind")
	if err != nil {
		return nil, fmt.Errorf("count by kind: %w", err)
	}
	defer kindRows.Close()
	for kindRows.Next() {
		var kind string
		var count int
		if err := kindRows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("scan kind count: %w", err)
		}
		stats.CountByKind[kind] = count
	}
	if err := kindRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kind counts: %w", err)
	}

	// Elapsed time is computed in Go rather than SQL so it does not depend on
	// the driver's timestamp encoding.
	elapsedRows, err := s.db.QueryContext(ctx,
		`SELECT started_at, finished_at FROM jobs
		WHERE status = ? AND started_at IS NOT NULL AND finished_at IS NOT NULL`,
		model.StatusCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("query elapsed times: %w", err)
	}
	defer elapsedRows.Close()

	var sum float64
	var n int
	for elapsedRows.Next() {
		var j model.Job
		if err := elapsedRows.Scan(&j.StartedAt, &j.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan elapsed times: %w", err)
		}
		if j.StartedAt != nil && j.FinishedAt != nil {
			sum += j.FinishedAt.Sub(*j.StartedAt).Seconds()
			n++
		}
	}
	if err := elapsedRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate elapsed times: %w", err)
	}
	if n > 0 {
		stats.AvgElapsedS = sum / float64(n)
	}

	return stats, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanJob.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*model.Job, error) {
	j := &model.Job{}
	var urls, locals, errs, timings sql.NullString
	if err := sc.Scan(
		&j.ID, &j.RemoteID, &j.Kind, &j.Status, &j.Prompt, &j.ImageName,
		&j.Quality, &j.Seed, &j.Stage, &j.Error, &j.Polls,
		&urls, &locals, &errs, &timings,
		&j.CreatedAt, &j.SubmittedAt, &j.StartedAt, &j.FinishedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if j.ArtifactURLs, err = decodeMap[string](urls); err != nil {
		return nil, fmt.Errorf("decode artifact_urls: %w", err)
	}
	if j.LocalArtifacts, err = decodeMap[string](locals); err != nil {
		return nil, fmt.Errorf("decode local_artifacts: %w", err)
	}
	if j.ArtifactErrors, err = decodeMap[string](errs); err != nil {
		return nil, fmt.Errorf("decode artifact_errors: %w", err)
	}
	if j.Timings, err = decodeMap[float64](timings); err != nil {
		return nil, fmt.Errorf("decode timings: %w", err)
	}
	return j, nil
}

func encodeJobMaps(j *model.Job) (urls, locals, errs, timings sql.NullString, err error) {
	if urls, err = encodeMap(j.ArtifactURLs); err != nil {
		return
	}
	if locals, err = encodeMap(j.LocalArtifacts); err != nil {
		return
	}
	if errs, err = encodeMap(j.ArtifactErrors); err != nil {
		return
	}
	timings, err = encodeMap(j.Timings)
	return
}

// encodeMap serializes a map column as JSON text, NULL when empty.
func encodeMap[V any](m map[string]V) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// decodeMap parses a JSON text column, returning nil for NULL or empty.
func decodeMap[V any](s sql.NullString) (map[string]V, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]V
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}
