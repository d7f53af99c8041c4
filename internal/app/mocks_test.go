package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"spectreimport/pkg/importjob"
	"spectreimport/pkg/provider"
)

// MockClient is a mock implementation of provider.Client
type MockClient struct {
	*mock.Mock
}

func NewMockClient() *MockClient {
	return &MockClient{Mock: &mock.Mock{}}
}

func (m *MockClient) ListLogins(ctx context.Context, customerID string) ([]provider.Login, error) {
	args := m.Called(ctx, customerID)
	logins, _ := args.Get(0).([]provider.Login)
	return logins, args.Error(1)
}

func (m *MockClient) Authenticate(ctx context.Context, req provider.AuthRequest) (provider.AuthResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(provider.AuthResult), args.Error(1)
}

func (m *MockClient) ListAccounts(ctx context.Context, session string) ([]provider.Account, error) {
	args := m.Called(ctx, session)
	accounts, _ := args.Get(0).([]provider.Account)
	return accounts, args.Error(1)
}

func (m *MockClient) CheckSession(ctx context.Context, session string) (bool, error) {
	args := m.Called(ctx, session)
	return args.Bool(0), args.Error(1)
}

var errStaleWrite = errors.New("stale write")

// memoryJobs is an in-memory importjob.Scoper with the same version guard as
// the SQLite store.
type memoryJobs struct {
	mu      sync.Mutex
	jobs    map[string]*importjob.Job
	saves   int
	saveErr error
}

func newMemoryJobs() *memoryJobs {
	return &memoryJobs{jobs: map[string]*importjob.Job{}}
}

func (m *memoryJobs) ForUser(userID int64) importjob.Repository {
	return &memoryRepo{jobs: m, userID: userID}
}

// put stores job and returns a copy as a caller would load it.
func (m *memoryJobs) put(job *importjob.Job) *importjob.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.Version == 0 {
		job.Version = 1
	}
	m.jobs[job.ID] = job.Clone()
	return job.Clone()
}

func (m *memoryJobs) stored(id string) *importjob.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id].Clone()
}

func (m *memoryJobs) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type memoryRepo struct {
	jobs   *memoryJobs
	userID int64
}

func (r *memoryRepo) Create(_ context.Context, configuration map[string]any) (*importjob.Job, error) {
	r.jobs.mu.Lock()
	defer r.jobs.mu.Unlock()
	job := &importjob.Job{
		ID:            fmt.Sprintf("job-%d", len(r.jobs.jobs)+1),
		UserID:        r.userID,
		Stage:         importjob.StageNew,
		Configuration: configuration,
		Version:       1,
		CreatedAt:     time.Now(),
	}
	r.jobs.jobs[job.ID] = job.Clone()
	return job, nil
}

func (r *memoryRepo) Find(_ context.Context, id string) (*importjob.Job, error) {
	r.jobs.mu.Lock()
	defer r.jobs.mu.Unlock()
	job, ok := r.jobs.jobs[id]
	if !ok || job.UserID != r.userID {
		return nil, fmt.Errorf("%w: %s", importjob.ErrNotFound, id)
	}
	return job.Clone(), nil
}

func (r *memoryRepo) List(context.Context) ([]*importjob.Job, error) {
	r.jobs.mu.Lock()
	defer r.jobs.mu.Unlock()
	var out []*importjob.Job
	for _, job := range r.jobs.jobs {
		if job.UserID == r.userID {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

func (r *memoryRepo) Save(_ context.Context, job *importjob.Job) error {
	r.jobs.mu.Lock()
	defer r.jobs.mu.Unlock()
	if r.jobs.saveErr != nil {
		return r.jobs.saveErr
	}
	current, ok := r.jobs.jobs[job.ID]
	if !ok || current.UserID != r.userID {
		return fmt.Errorf("%w: %s", importjob.ErrNotFound, job.ID)
	}
	if current.Version != job.Version {
		return errStaleWrite
	}
	job.Version++
	job.UpdatedAt = time.Now()
	r.jobs.jobs[job.ID] = job.Clone()
	r.jobs.saves++
	return nil
}

func (r *memoryRepo) SetStage(ctx context.Context, job *importjob.Job, stage importjob.Stage) error {
	next := job.Clone()
	next.Stage = stage
	if err := r.Save(ctx, next); err != nil {
		return err
	}
	*job = *next
	return nil
}
