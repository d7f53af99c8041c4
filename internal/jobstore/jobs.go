package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"spectreimport/pkg/importjob"
)

type userRepository struct {
	store  *Store
	userID int64
}

const jobColumns = `id, user_id, stage, configuration, version, created_at, updated_at`

// Create inserts a new job in the initial stage.
func (r *userRepository) Create(ctx context.Context, configuration map[string]any) (*importjob.Job, error) {
	ctx = ensureContext(ctx)
	if configuration == nil {
		configuration = map[string]any{}
	}
	payload, err := json.Marshal(configuration)
	if err != nil {
		return nil, fmt.Errorf("marshal configuration: %w", err)
	}

	id := uuid.New().String()
	timestamp := r.store.now().Format(time.RFC3339Nano)
	if _, err := r.store.execWithRetry(ctx,
		`INSERT INTO import_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, 1, ?, ?)`,
		id, r.userID, string(importjob.StageNew), string(payload), timestamp, timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return r.Find(ctx, id)
}

// Find fetches a job owned by the scoped user.
func (r *userRepository) Find(ctx context.Context, id string) (*importjob.Job, error) {
	ctx = ensureContext(ctx)
	row := r.store.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM import_jobs WHERE id = ? AND user_id = ?`,
		id, r.userID,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns the user's jobs, newest first.
func (r *userRepository) List(ctx context.Context) ([]*importjob.Job, error) {
	ctx = ensureContext(ctx)
	rows, err := r.store.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM import_jobs WHERE user_id = ? ORDER BY created_at DESC, id`,
		r.userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*importjob.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// Save writes stage and configuration in one statement guarded by the version
// the caller loaded.
func (r *userRepository) Save(ctx context.Context, job *importjob.Job) error {
	if job == nil {
		return fmt.Errorf("save job: nil job")
	}
	payload, err := json.Marshal(job.Configuration)
	if err != nil {
		return fmt.Errorf("marshal configuration: %w", err)
	}
	return r.update(ctx, job, job.Stage,
		`UPDATE import_jobs SET stage = ?, configuration = ?, version = version + 1, updated_at = ?
         WHERE id = ? AND user_id = ? AND version = ?`,
		string(job.Stage), string(payload))
}

// SetStage moves the job to stage without touching its configuration.
func (r *userRepository) SetStage(ctx context.Context, job *importjob.Job, stage importjob.Stage) error {
	if job == nil {
		return fmt.Errorf("set stage: nil job")
	}
	return r.update(ctx, job, stage,
		`UPDATE import_jobs SET stage = ?, version = version + 1, updated_at = ?
         WHERE id = ? AND user_id = ? AND version = ?`,
		string(stage))
}

func (r *userRepository) update(ctx context.Context, job *importjob.Job, stage importjob.Stage, query string, leading ...any) error {
	ctx = ensureContext(ctx)
	now := r.store.now()

	args := append(leading, now.Format(time.RFC3339Nano), job.ID, r.userID, job.Version)
	res, err := r.store.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if affected == 0 {
		return r.missOrConflict(ctx, job)
	}

	job.Stage = stage
	job.Version++
	job.UpdatedAt = now
	return nil
}

func (r *userRepository) missOrConflict(ctx context.Context, job *importjob.Job) error {
	var current int64
	err := r.store.db.QueryRowContext(ctx,
		`SELECT version FROM import_jobs WHERE id = ? AND user_id = ?`, job.ID, r.userID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	if err != nil {
		return fmt.Errorf("check job version: %w", err)
	}
	return fmt.Errorf("%w: job %s is at version %d, write was based on %d", ErrConflict, job.ID, current, job.Version)
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*importjob.Job, error) {
	var (
		job           importjob.Job
		stage         string
		configuration string
		createdAt     string
		updatedAt     string
	)
	if err := scanner.Scan(&job.ID, &job.UserID, &stage, &configuration, &job.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	job.Stage = importjob.Stage(stage)

	job.Configuration = map[string]any{}
	if configuration != "" {
		if err := json.Unmarshal([]byte(configuration), &job.Configuration); err != nil {
			return nil, fmt.Errorf("decode configuration for job %s: %w", job.ID, err)
		}
	}

	var err error
	if job.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if job.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &job, nil
}
