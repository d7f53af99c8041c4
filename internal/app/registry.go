package app

import (
	"fmt"
	"log/slog"
	"sort"

	apperrors "spectreimport/internal/errors"
	"spectreimport/pkg/importjob"
)

// Registry maps every reachable stage to the factory of its handler. The
// table is closed: stages are added here, never looked up dynamically.
type Registry struct {
	deps      Dependencies
	factories map[importjob.Stage]HandlerFactory
}

// NewRegistry creates the registry for the reference stage handlers.
func NewRegistry(deps Dependencies) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Registry{
		deps: deps,
		factories: map[importjob.Stage]HandlerFactory{
			importjob.StageNew:            newNewJobHandler,
			importjob.StageChooseLogin:    newChooseLoginHandler,
			importjob.StageDoAuthenticate: newDoAuthenticateHandler,
			importjob.StageAuthenticated:  newAuthenticatedHandler,
			importjob.StageChooseAccounts: newChooseAccountsHandler,
			importjob.StageGoForImport:    newGoForImportHandler,
		},
	}
}

// Resolve builds the handler for job's current stage and binds the job and
// repository to it.
func (r *Registry) Resolve(job *importjob.Job, repo importjob.Repository) (Handler, error) {
	factory, ok := r.factories[job.Stage]
	if !ok {
		return nil, apperrors.NewConfigurationError(
			"Cannot continue configuring this import job",
			fmt.Sprintf("stage %q has no configuration handler", job.Stage),
			"Check the job record or the provider integration",
			fmt.Errorf("%w: cannot create a configuration handler for stage %q", ErrUnknownStage, job.Stage),
		)
	}

	handler := factory(r.deps)
	handler.Bind(job, repo)
	return handler, nil
}

// Stages returns the mapped stages in workflow order.
func (r *Registry) Stages() []importjob.Stage {
	stages := make([]importjob.Stage, 0, len(r.factories))
	for stage := range r.factories {
		stages = append(stages, stage)
	}
	sort.Slice(stages, func(i, j int) bool {
		return stages[i].Position() < stages[j].Position()
	})
	return stages
}
