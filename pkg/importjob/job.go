// Package importjob holds the import job record shared by the configuration
// engine and the repositories that persist it.
package importjob

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when no job with the id exists for
// the scoped user.
var ErrNotFound = errors.New("import job not found")

// Stage identifies the position of a job in the provider linking workflow.
type Stage string

const (
	StageNew            Stage = "new"
	StageChooseLogin    Stage = "choose-login"
	StageDoAuthenticate Stage = "do-authenticate"
	StageAuthenticated  Stage = "authenticated"
	StageChooseAccounts Stage = "choose-accounts"
	StageGoForImport    Stage = "go-for-import"
)

// Configuration keys written by the stage handlers.
const (
	KeyCustomerID       = "customer_id"
	KeyLogins           = "logins"
	KeyLogin            = "login"
	KeySession          = "session"
	KeyChallenge        = "challenge"
	KeyAccounts         = "accounts"
	KeySelectedAccounts = "selected_accounts"
)

var workflowOrder = []Stage{
	StageNew,
	StageChooseLogin,
	StageDoAuthenticate,
	StageAuthenticated,
	StageChooseAccounts,
	StageGoForImport,
}

// Stages returns the known stages in workflow order.
func Stages() []Stage {
	cp := make([]Stage, len(workflowOrder))
	copy(cp, workflowOrder)
	return cp
}

// Position returns the index of the stage in the workflow, or -1 when unknown.
func (s Stage) Position() int {
	for i, stage := range workflowOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

// Terminal reports whether the stage ends the configuration workflow.
func (s Stage) Terminal() bool {
	return s == StageGoForImport
}

// Job is the persisted record tracking a user's provider linking workflow.
type Job struct {
	ID            string
	UserID        int64
	Stage         Stage
	Configuration map[string]any
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Clone copies the job so handlers can stage changes without touching the
// caller's value. Slices stored in the configuration are copied one level deep.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Configuration = make(map[string]any, len(j.Configuration))
	for key, value := range j.Configuration {
		switch v := value.(type) {
		case []string:
			cp.Configuration[key] = append([]string(nil), v...)
		case []any:
			cp.Configuration[key] = append([]any(nil), v...)
		default:
			cp.Configuration[key] = value
		}
	}
	return &cp
}

// String returns the configuration value for key when it is a non-empty string.
func (j *Job) String(key string) string {
	if j == nil || j.Configuration == nil {
		return ""
	}
	value, _ := j.Configuration[key].(string)
	return value
}

// Strings returns the configuration value for key as a string slice. Values
// decoded from JSON arrive as []any and are converted.
func (j *Job) Strings(key string) []string {
	if j == nil || j.Configuration == nil {
		return nil
	}
	switch v := j.Configuration[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Set writes a configuration value, allocating the map when needed.
func (j *Job) Set(key string, value any) {
	if j.Configuration == nil {
		j.Configuration = make(map[string]any)
	}
	j.Configuration[key] = value
}

// Repository persists jobs for a single user. Implementations must apply
// writes for the same job id under mutual exclusion.
type Repository interface {
	Create(ctx context.Context, configuration map[string]any) (*Job, error)
	Find(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context) ([]*Job, error)
	// Save commits stage and configuration together. On success job.Version
	// and job.UpdatedAt reflect the stored row.
	Save(ctx context.Context, job *Job) error
	SetStage(ctx context.Context, job *Job, stage Stage) error
}

// Scoper hands out repositories restricted to one owning user.
type Scoper interface {
	ForUser(userID int64) Repository
}
