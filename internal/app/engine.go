package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "spectreimport/internal/errors"
	"spectreimport/pkg/importjob"
)

var (
	// ErrUnknownStage is wrapped when a job's stage has no handler.
	ErrUnknownStage = errors.New("unknown stage")
	// ErrNotBound is wrapped when an operation runs before BindJob.
	ErrNotBound = errors.New("no job bound")
)

// Engine is the entry point for configuring import jobs. It is safe for
// concurrent use; per-job state lives in the JobConfiguration it hands out.
type Engine struct {
	registry *Registry
	jobs     importjob.Scoper
	logger   *slog.Logger
}

// NewEngine creates an engine resolving handlers from registry and scoping
// repositories through jobs.
func NewEngine(registry *Registry, jobs importjob.Scoper, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{registry: registry, jobs: jobs, logger: logger}
}

// Configuration starts a new dispatch. The returned value must be bound to a
// job before use and is not shared between goroutines.
func (e *Engine) Configuration() *JobConfiguration {
	return &JobConfiguration{engine: e}
}

// JobConfiguration delegates the workflow operations to the handler of one
// bound job.
type JobConfiguration struct {
	engine  *Engine
	job     *importjob.Job
	handler Handler
}

// BindJob scopes the repository to the job owner and resolves the handler for
// the job's current stage.
func (c *JobConfiguration) BindJob(_ context.Context, job *importjob.Job) error {
	if job == nil {
		return apperrors.NewConfigurationError(
			"Cannot configure import job",
			"no job was supplied",
			"Load the job before binding it",
			fmt.Errorf("%w: nil job", ErrNotBound),
		)
	}

	repo := c.engine.jobs.ForUser(job.UserID)
	handler, err := c.engine.registry.Resolve(job, repo)
	if err != nil {
		c.engine.logger.Error("Failed to resolve stage handler", "jobId", job.ID, "stage", job.Stage, "error", err)
		return err
	}

	c.job = job
	c.handler = handler
	c.engine.logger.Debug("Bound import job", "jobId", job.ID, "userId", job.UserID, "stage", job.Stage)
	return nil
}

// Job returns the bound job, or nil before BindJob.
func (c *JobConfiguration) Job() *importjob.Job {
	return c.job
}

func (c *JobConfiguration) bound(op string) (Handler, error) {
	if c.handler == nil {
		return nil, apperrors.NewConfigurationError(
			"Cannot configure import job",
			fmt.Sprintf("%s was called before a job was bound", op),
			"Call BindJob first",
			fmt.Errorf("%w: %s", ErrNotBound, op),
		)
	}
	return c.handler, nil
}

// IsConfigurationComplete reports whether the current stage is satisfied.
func (c *JobConfiguration) IsConfigurationComplete(context.Context) (bool, error) {
	handler, err := c.bound("IsConfigurationComplete")
	if err != nil {
		return false, err
	}
	return handler.IsComplete(), nil
}

// Configure submits user data to the current stage. A non-empty bag means the
// data was rejected and nothing changed.
func (c *JobConfiguration) Configure(ctx context.Context, data map[string]any) (MessageBag, error) {
	handler, err := c.bound("Configure")
	if err != nil {
		return MessageBag{}, err
	}

	stage := c.job.Stage
	messages, err := handler.Configure(ctx, data)
	if err != nil {
		c.engine.logger.Error("Configure failed", "jobId", c.job.ID, "stage", stage, "error", err)
		return MessageBag{}, err
	}
	if !messages.Empty() {
		c.engine.logger.Info("Configure returned messages",
			"jobId", c.job.ID, "stage", stage, "count", messages.Len(), "retryable", messages.Retryable())
	}
	return messages, nil
}

// NextData describes what the presentation layer must show or collect next.
func (c *JobConfiguration) NextData(ctx context.Context) (map[string]any, error) {
	handler, err := c.bound("NextData")
	if err != nil {
		return nil, err
	}
	return handler.NextData(ctx)
}

// NextView returns the template id for the current stage.
func (c *JobConfiguration) NextView() (string, error) {
	handler, err := c.bound("NextView")
	if err != nil {
		return "", err
	}
	return handler.NextView(), nil
}

// Result is what a dispatch reports back to its caller.
type Result struct {
	Job      *importjob.Job
	Messages MessageBag
	Complete bool
	View     string
	Data     map[string]any
}

// Show loads a job and describes its current step without changing it.
func (e *Engine) Show(ctx context.Context, jobID string, userID int64) (*Result, error) {
	job, err := e.find(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	cfg := e.Configuration()
	if err := cfg.BindJob(ctx, job); err != nil {
		return nil, err
	}
	return cfg.describe(ctx, MessageBag{})
}

// Dispatch loads a job, submits data to its current stage and describes the
// step that follows.
func (e *Engine) Dispatch(ctx context.Context, jobID string, userID int64, data map[string]any) (*Result, error) {
	job, err := e.find(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}

	cfg := e.Configuration()
	if err := cfg.BindJob(ctx, job); err != nil {
		return nil, err
	}
	bound := job.Stage
	messages, err := cfg.Configure(ctx, data)
	if err != nil {
		return nil, err
	}
	if cfg.Job().Stage == bound {
		// Same handler, so whatever it fetched while configuring is reused.
		return cfg.describe(ctx, messages)
	}

	next := e.Configuration()
	if err := next.BindJob(ctx, cfg.Job()); err != nil {
		return nil, err
	}
	return next.describe(ctx, messages)
}

func (c *JobConfiguration) describe(ctx context.Context, messages MessageBag) (*Result, error) {
	complete, err := c.IsConfigurationComplete(ctx)
	if err != nil {
		return nil, err
	}
	view, err := c.NextView()
	if err != nil {
		return nil, err
	}
	data, err := c.NextData(ctx)
	if err != nil {
		return nil, err
	}
	return &Result{Job: c.job, Messages: messages, Complete: complete, View: view, Data: data}, nil
}

func (e *Engine) find(ctx context.Context, jobID string, userID int64) (*importjob.Job, error) {
	job, err := e.jobs.ForUser(userID).Find(ctx, jobID)
	if errors.Is(err, importjob.ErrNotFound) {
		return nil, apperrors.NewNotFoundError(
			"Cannot load import job",
			fmt.Sprintf("job %s does not exist for user %d", jobID, userID),
			"Check the job id with 'spectreimport job list'",
			err,
		)
	}
	if err != nil {
		return nil, apperrors.NewStorageError(
			"Cannot load import job",
			err.Error(),
			"Check that the job database is readable",
			fmt.Errorf("find job %s: %w", jobID, err),
		)
	}
	return job, nil
}
