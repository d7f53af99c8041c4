package app

import (
	"context"
	"log/slog"

	"spectreimport/pkg/importjob"
	"spectreimport/pkg/provider"
)

// Handler implements the configuration logic of one workflow stage. A handler
// is built and bound to a job for a single dispatch and never reused.
type Handler interface {
	Stage() importjob.Stage
	Bind(job *importjob.Job, repo importjob.Repository)
	// IsComplete reports whether this stage has everything it needs.
	IsComplete() bool
	// Configure validates data, persists accepted values and advances the
	// stage. Recoverable problems are returned as messages; the error is
	// reserved for failures the user cannot fix.
	Configure(ctx context.Context, data map[string]any) (MessageBag, error)
	// NextData reports what the next view needs. Provider data is fetched at
	// most once per binding; a failed fetch is reported under "errors" and
	// repeated as is until Configure retries the call.
	NextData(ctx context.Context) (map[string]any, error)
	NextView() string
}

// Dependencies are the collaborators handed to every handler factory.
type Dependencies struct {
	Client provider.Client
	Logger *slog.Logger
}

// HandlerFactory builds an unbound handler.
type HandlerFactory func(deps Dependencies) Handler
