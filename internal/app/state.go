package app

import (
	"context"
	"fmt"
	"log/slog"

	apperrors "spectreimport/internal/errors"
	"spectreimport/pkg/importjob"
)

// exitTransitions lists where each stage may move when its handler commits.
// A handler may also commit without changing stage, e.g. to store a pending
// challenge.
var exitTransitions = map[importjob.Stage][]importjob.Stage{
	importjob.StageNew:            {importjob.StageChooseLogin, importjob.StageAuthenticated},
	importjob.StageChooseLogin:    {importjob.StageDoAuthenticate},
	importjob.StageDoAuthenticate: {importjob.StageAuthenticated},
	importjob.StageAuthenticated:  {importjob.StageChooseAccounts},
	importjob.StageChooseAccounts: {importjob.StageGoForImport},
	importjob.StageGoForImport:    nil,
}

func canTransition(from, to importjob.Stage) bool {
	if from == to {
		return true
	}
	for _, next := range exitTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// stageBase carries the binding shared by every handler.
type stageBase struct {
	stage  importjob.Stage
	job    *importjob.Job
	repo   importjob.Repository
	logger *slog.Logger
}

func newStageBase(stage importjob.Stage, logger *slog.Logger) stageBase {
	if logger == nil {
		logger = slog.Default()
	}
	return stageBase{stage: stage, logger: logger}
}

func (b *stageBase) Stage() importjob.Stage {
	return b.stage
}

func (b *stageBase) Bind(job *importjob.Job, repo importjob.Repository) {
	b.job = job
	b.repo = repo
}

// IsComplete is true once the bound job has left this handler's stage.
func (b *stageBase) IsComplete() bool {
	return b.job != nil && b.job.Stage != b.stage
}

// draft returns a copy of the bound job to stage changes on.
func (b *stageBase) draft() *importjob.Job {
	return b.job.Clone()
}

// commit persists next in a single repository write and, once accepted,
// publishes it to the bound job. Nothing changes when the write fails.
func (b *stageBase) commit(ctx context.Context, next *importjob.Job) error {
	if !canTransition(b.job.Stage, next.Stage) {
		return apperrors.NewConfigurationError(
			"Cannot advance this import job",
			fmt.Sprintf("stage %q may not move to %q", b.job.Stage, next.Stage),
			"This is a bug in the stage handler",
			fmt.Errorf("illegal transition from %q to %q", b.job.Stage, next.Stage),
		)
	}

	if err := b.repo.Save(ctx, next); err != nil {
		return apperrors.NewStorageError(
			"Could not save the import job",
			err.Error(),
			"Reload the job and submit the step again",
			fmt.Errorf("save job %s: %w", b.job.ID, err),
		)
	}

	if next.Stage != b.job.Stage {
		b.logger.Info("Import job advanced", "jobId", next.ID, "from", b.job.Stage, "to", next.Stage)
	}
	*b.job = *next
	return nil
}

// fetchOnce caches the result of a provider call for the lifetime of a bound
// handler. A success is kept for good. A failure is kept for get, so repeated
// NextData calls stay identical, but retry calls the provider again.
type fetchOnce[T any] struct {
	done  bool
	value T
	err   error
}

func (f *fetchOnce[T]) get(fetch func() (T, error)) (T, error) {
	if !f.done {
		f.value, f.err = fetch()
		f.done = true
	}
	return f.value, f.err
}

// retry behaves like get unless the cached result is a failure, in which
// case the call is made again.
func (f *fetchOnce[T]) retry(fetch func() (T, error)) (T, error) {
	if f.done && f.err != nil {
		f.done = false
	}
	return f.get(fetch)
}
