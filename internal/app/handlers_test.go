package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "spectreimport/internal/errors"
	"spectreimport/pkg/importjob"
	"spectreimport/pkg/provider"
)

// bindHandler stores job and returns the handler bound to a loaded copy.
func bindHandler(t *testing.T, jobs *memoryJobs, client provider.Client, job *importjob.Job) (Handler, *importjob.Job) {
	t.Helper()
	loaded := jobs.put(job)
	handler, err := NewRegistry(Dependencies{Client: client}).Resolve(loaded, jobs.ForUser(loaded.UserID))
	require.NoError(t, err)
	return handler, loaded
}

func newJob(stage importjob.Stage, configuration map[string]any) *importjob.Job {
	if configuration == nil {
		configuration = map[string]any{}
	}
	return &importjob.Job{ID: "job-1", UserID: 1, Stage: stage, Configuration: configuration}
}

var errUnavailable = &provider.Error{Op: "list logins", StatusCode: 503, Message: "service unavailable"}

func TestNewJobListsLogins(t *testing.T) {
	ctx := context.Background()
	jobs := newMemoryJobs()
	client := NewMockClient()
	client.On("ListLogins", mock.Anything, "cust-1").
		Return([]provider.Login{{ID: "L1"}, {ID: "L2"}}, nil).Once()

	handler, job := bindHandler(t, jobs, client, newJob(importjob.StageNew, map[string]any{
		importjob.KeyCustomerID: "cust-1",
	}))

	first, err := handler.NextData(ctx)
	require.NoError(t, err)
	second, err := handler.NextData(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"logins": []string{"L1", "L2"}}, first)
	assert.Equal(t, first, second)
	assert.False(t, handler.IsComplete())

	messages, err := handler.Configure(ctx, nil)
	require.NoError(t, err)
	assert.True(t, messages.Empty())
	assert.True(t, handler.IsComplete())
	assert.Equal(t, importjob.StageChooseLogin, job.Stage)

	stored := jobs.stored("job-1")
	assert.Equal(t, importjob.StageChooseLogin, stored.Stage)
	assert.Equal(t, []string{"L1", "L2"}, stored.Strings(importjob.KeyLogins))
	client.AssertNumberOfCalls(t, "ListLogins", 1)
	client.AssertExpectations(t)
}

func TestNewJobReusesValidSession(t *testing.T) {
	jobs := newMemoryJobs()
	client := NewMockClient()
	client.On("CheckSession", mock.Anything, "sess-1").Return(true, nil)

	handler, job := bindHandler(t, jobs, client, newJob(importjob.StageNew, map[string]any{
		importjob.KeyCustomerID: "cust-1",
		importjob.KeySession:    "sess-1",
	}))

	messages, err := handler.Configure(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, messages.Empty())
	assert.Equal(t, importjob.StageAuthenticated, job.Stage)
	client.AssertNotCalled(t, "ListLogins", mock.Anything, mock.Anything)
}

func TestNewJobDropsExpiredSession(t *testing.T) {
	jobs := newMemoryJobs()
	client := NewMockClient()
	client.On("CheckSession", mock.Anything, "sess-1").Return(false, nil)
	client.On("ListLogins", mock.Anything, "cust-1").Return([]provider.Login{{ID: "L1"}}, nil)

	handler, job := bindHandler(t, jobs, client, newJob(importjob.StageNew, map[string]any{
		importjob.KeyCustomerID: "cust-1",
		importjob.KeySession:    "sess-1",
	}))

	messages, err := handler.Configure(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, messages.Empty())
	assert.Equal(t, importjob.StageChooseLogin, job.Stage)
	assert.Empty(t, job.String(importjob.KeySession))
}

func TestNewJobAcceptsCustomerFromInput(t *testing.T) {
	jobs := newMemoryJobs()
	client := NewMockClient()
	client.On("ListLogins", mock.Anything, "cust-9").Return([]provider.Login{}, nil)

	handler, job := bindHandler(t, jobs, client, newJob(importjob.StageNew, nil))

	data, err := handler.NextData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{importjob.KeyCustomerID}, data["fields"])

	messages, err := handler.Configure(context.Background(), map[string]any{"customer_id": "cust-9"})
	require.NoError(t, err)
	assert.True(t, messages.Empty())
	assert.Equal(t, importjob.StageChooseLogin, job.Stage)
	assert.Equal(t, "cust-9", job.String(importjob.KeyCustomerID))
	assert.Empty(t, job.Strings(importjob.KeyLogins))
}

func TestNewJobRequiresCustomer(t *testing.T) {
	jobs := newMemoryJobs()
	client := NewMockClient()
	handler, job := bindHandler(t, jobs, client, newJob(importjob.StageNew, nil))

	messages, err := handler.Configure(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Field 'customer_id' is required"}, messages.Strings())
	assert.False(t, messages.Retryable())
	assert.Equal(t, importjob.StageNew, job.Stage)
	assert.Zero(t, jobs.saveCount())
}

func TestNewJobProviderFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	jobs := newMemoryJobs()
	client := NewMockClient()
	client.On("ListLogins", mock.Anything, "cust-1").Return(nil, errUnavailable).Once()

	handler, job := bindHandler(t, jobs, client, newJob(importjob.StageNew, map[string]any{
		importjob.KeyCustomerID: "cust-1",
	}))

	messages, err := handler.Configure(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Provider error: list logins: service unavailable"}, messages.Strings())
	assert.True(t, messages.Retryable())
	assert.True(t, messages.Temporary())
	assert.Equal(t, importjob.StageNew, job.Stage)
	assert.Zero(t, jobs.saveCount())

	data, err := handler.NextData(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{}, data["logins"])
	assert.Equal(t, []string{"Provider error: list logins: service unavailable"}, data["errors"])
	client.AssertNumberOfCalls(t, "ListLogins", 1)
}

func TestNewJobConfigureRetriesFailedNextData(t *testing.T) {
	ctx := context.Background()
	jobs := newMemoryJobs()
	client := NewMockClient()
	client.On("ListLogins", mock.Anything, "cust-1").Return(nil, errUnavailable).Once()
	client.On("ListLogins", mock.Anything, "cust-1").Return([]provider.Login{{ID: "L1"}}, nil).Once()

	handler, job := bindHandler(t, jobs, client, newJob(importjob.StageNew, map[string]any{
		importjob.KeyCustomerID: "cust-1",
	}))

	first, err := handler.NextData(ctx)
	require.NoError(t, err)
	second, err := handler.NextData(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first["errors"])
	client.AssertNumberOfCalls(t, "ListLogins", 1)

	messages, err := handler.Configure(ctx, nil)
	require.NoError(t, err)
	assert.True(t, messages.Empty())
	assert.Equal(t, importjob.StageChooseLogin, job.Stage)
	assert.Equal(t, []string{"L1"}, job.Strings(importjob.KeyLogins))
	client.AssertNumberOfCalls(t, "ListLogins", 2)
}

func TestAuthenticatedConfigureRetriesFailedNextData(t *testing.T) {
	ctx := context.Background()
	jobs := newMemoryJobs()
	client := NewMockClient()
	client.On("ListAccounts", mock.Anything, "sess-1").
		Return(nil, &provider.Error{Op: "list accounts", StatusCode: 503, Message: "busy"}).Once()
	client.On("ListAccounts", mock.Anything, "sess-1").Return([]provider.Account{{ID: "A1"}}, nil).Once()

	handler, job := bindHandler(t, jobs, client, newJob(importjob.StageAuthenticated, map[string]any{
		importjob.KeySession: "sess-1",
	}))

	data, err := handler.NextData(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Provider error: list accounts: busy"}, data["errors"])

	messages, err := handler.Configure(ctx, nil)
	require.NoError(t, err)
	assert.True(t, messages.Empty())
	assert.Equal(t, importjob.StageChooseAccounts, job.Stage)
	client.AssertNumberOfCalls(t, "ListAccounts", 2)
}

func TestChooseLogin(t *testing.T) {
	tests := []struct {
		name     string
		data     map[string]any
		messages []string
		stage    importjob.Stage
		login    string
	}{
		{
			name:     "Unknown login",
			data:     map[string]any{"login": "L3"},
			messages: []string{"Unknown login: L3"},
			stage:    importjob.StageChooseLogin,
		},
		{
			name:     "Missing login",
			data:     map[string]any{},
			messages: []string{"Field 'login' is required"},
			stage:    importjob.StageChooseLogin,
		},
		{
			name:  "Existing login",
			data:  map[string]any{"login": "L2"},
			stage: importjob.StageDoAuthenticate,
			login: "L2",
		},
		{
			name:  "New login",
			data:  map[string]any{"login": NewLogin},
			stage: importjob.StageDoAuthenticate,
			login: NewLogin,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := newMemoryJobs()
			handler, job := bindHandler(t, jobs, NewMockClient(), newJob(importjob.StageChooseLogin, map[string]any{
				importjob.KeyLogins: []any{"L1", "L2"},
			}))

			data, err := handler.NextData(context.Background())
			require.NoError(t, err)
			assert.Equal(t, []string{"L1", "L2"}, data["logins"])

			messages, err := handler.Configure(context.Background(), tt.data)
			require.NoError(t, err)
			if tt.messages == nil {
				assert.True(t, messages.Empty())
			} else {
				assert.Equal(t, tt.messages, messages.Strings())
			}
			assert.Equal(t, tt.stage, job.Stage)
			assert.Equal(t, tt.stage, jobs.stored("job-1").Stage)
			assert.Equal(t, tt.login, job.String(importjob.KeyLogin))
		})
	}
}

func TestDoAuthenticateNewLogin(t *testing.T) {
	jobs := newMemoryJobs()
	client := NewMockClient()
	client.On("Authenticate", mock.Anything, provider.AuthRequest{
		CustomerID:  "cust-1",
		Credentials: map[string]string{"login": "alice", "password": "secret"},
	}).Return(provider.AuthResult{Status: provider.AuthSuccess, LoginID: "L9", Session: "sess-1"}, nil)

	handler, job := bindHandler(t, jobs, client, newJob(importjob.StageDoAuthenticate, map[string]any{
		importjob.KeyCustomerID: "cust-1",
		importjob.KeyLogin:      NewLogin,
	}))

	data, err := handler.NextData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"username", "password"}, data["fields"])

	messages, err := handler.Configure(context.Background(), map[string]any{"username": "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Field 'password' is required"}, messages.Strings())
	assert.Equal(t, importjob.StageDoAuthenticate, job.Stage)
	client.AssertNotCalled(t, "Authenticate", mock.Anything, mock.Anything)

	messages, err = handler.Configure(context.Background(), map[string]any{"username": "alice", "password": "secret"})
	require.NoError(t, err)
	assert.True(t, messages.Empty())
	assert.Equal(t, importjob.StageAuthenticated, job.Stage)
	assert.Equal(t, "sess-1", job.String(importjob.KeySession))
	assert.Equal(t, "L9", job.String(importjob.KeyLogin))
}

func TestDoAuthenticateChallengeRoundTrip(t *testing.T) {
	ctx := context.Background()
	jobs := newMemoryJobs()
	client := NewMockClient()
	client.On("Authenticate", mock.Anything, provider.AuthRequest{CustomerID: "cust-1", LoginID: "L1"}).
		Return(provider.AuthResult{Status: provider.AuthChallenge, Prompt: "Enter SMS code"}, nil)
	client.On("Authenticate", mock.Anything, provider.AuthRequest{
		CustomerID: "cust-1", LoginID: "L1", Challenge: "Enter SMS code", Response: "123456",
	}).Return(provider.AuthResult{Status: provider.AuthSuccess, Session: "sess-2"}, nil)

	handler, job := bindHandler(t, jobs, client, newJob(importjob.StageDoAuthenticate, map[string]any{
		importjob.KeyCustomerID: "cust-1",
		importjob.KeyLogin:      "L1",
	}))

	messages, err := handler.Configure(ctx, nil)
	require.NoError(t, err)
	assert.True(t, messages.Empty())
	assert.Equal(t, importjob.StageDoAuthenticate, job.Stage)
	assert.False(t, handler.IsComplete())
	assert.Equal(t, "Enter SMS code", jobs.stored("job-1").String(importjob.KeyChallenge))

	// The next round trip is a separate dispatch.
	handler, job = bindHandler(t, jobs, client, jobs.stored("job-1"))
	data, err := handler.NextData(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"code"}, data["fields"])
	assert.Equal(t, "Enter SMS code", data["challenge"])

	messages, err = handler.Configure(ctx, map[string]any{"code": 123456})
	require.NoError(t, err)
	assert.True(t, messages.Empty())
	assert.Equal(t, importjob.StageAuthenticated, job.Stage)
	assert.Empty(t, job.String(importjob.KeyChallenge))
	assert.Equal(t, "sess-2", job.String(importjob.KeySession))
}

func TestDoAuthenticateFailures(t *testing.T) {
	tests := []struct {
		name     string
		result   provider.AuthResult
		err      error
		messages []string
	}{
		{
			name:     "Rejected",
			result:   provider.AuthResult{Status: provider.AuthRejected, Reason: "invalid credentials"},
			messages: []string{"Authentication rejected: invalid credentials"},
		},
		{
			name:     "Provider error",
			err:      &provider.Error{Op: "authenticate", StatusCode: 504, Message: "gateway timeout"},
			messages: []string{"Provider error: authenticate: gateway timeout"},
		},
		{
			name:     "Success without session",
			result:   provider.AuthResult{Status: provider.AuthSuccess},
			messages: []string{"Provider error: authentication succeeded without a session"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := newMemoryJobs()
			client := NewMockClient()
			client.On("Authenticate", mock.Anything, mock.Anything).Return(tt.result, tt.err)

			handler, job := bindHandler(t, jobs, client, newJob(importjob.StageDoAuthenticate, map[string]any{
				importjob.KeyLogin: "L1",
			}))

			messages, err := handler.Configure(context.Background(), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.messages, messages.Strings())
			assert.True(t, messages.Retryable())
			assert.Equal(t, importjob.StageDoAuthenticate, job.Stage)
			assert.Zero(t, jobs.saveCount())
		})
	}
}

func TestAuthenticatedFetchesAccounts(t *testing.T) {
	ctx := context.Background()
	jobs := newMemoryJobs()
	client := NewMockClient()
	client.On("ListAccounts", mock.Anything, "sess-1").
		Return([]provider.Account{{ID: "A1"}, {ID: "A2"}}, nil).Once()

	handler, job := bindHandler(t, jobs, client, newJob(importjob.StageAuthenticated, map[string]any{
		importjob.KeySession: "sess-1",
	}))

	first, err := handler.NextData(ctx)
	require.NoError(t, err)
	second, err := handler.NextData(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"accounts": []string{"A1", "A2"}}, first)
	assert.Equal(t, first, second)

	messages, err := handler.Configure(ctx, nil)
	require.NoError(t, err)
	assert.True(t, messages.Empty())
	assert.Equal(t, importjob.StageChooseAccounts, job.Stage)
	assert.Equal(t, []string{"A1", "A2"}, jobs.stored("job-1").Strings(importjob.KeyAccounts))
	client.AssertNumberOfCalls(t, "ListAccounts", 1)
}

func TestAuthenticatedWithoutAccounts(t *testing.T) {
	jobs := newMemoryJobs()
	client := NewMockClient()
	client.On("ListAccounts", mock.Anything, "sess-1").Return([]provider.Account{}, nil)

	handler, job := bindHandler(t, jobs, client, newJob(importjob.StageAuthenticated, map[string]any{
		importjob.KeySession: "sess-1",
	}))

	messages, err := handler.Configure(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"The provider returned no accounts for this login"}, messages.Strings())
	assert.Equal(t, importjob.StageAuthenticated, job.Stage)
}

func TestAuthenticatedWithoutSessionIsFatal(t *testing.T) {
	jobs := newMemoryJobs()
	handler, _ := bindHandler(t, jobs, NewMockClient(), newJob(importjob.StageAuthenticated, nil))

	_, err := handler.Configure(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConfiguration))

	_, err = handler.NextData(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrConfiguration))
}

func TestChooseAccounts(t *testing.T) {
	tests := []struct {
		name     string
		data     map[string]any
		messages []string
		stage    importjob.Stage
	}{
		{
			name:  "Subset of fetched accounts",
			data:  map[string]any{"accounts": []string{"A1"}},
			stage: importjob.StageGoForImport,
		},
		{
			name:  "Single value",
			data:  map[string]any{"accounts": "A2"},
			stage: importjob.StageGoForImport,
		},
		{
			name:     "Unknown account",
			data:     map[string]any{"accounts": []string{"A1", "A3"}},
			messages: []string{"Unknown account: A3"},
			stage:    importjob.StageChooseAccounts,
		},
		{
			name:     "Duplicates",
			data:     map[string]any{"accounts": []string{"A1", "A1"}},
			messages: []string{"Field 'accounts' must not contain duplicates"},
			stage:    importjob.StageChooseAccounts,
		},
		{
			name:     "Missing",
			data:     map[string]any{},
			messages: []string{"Field 'accounts' is required"},
			stage:    importjob.StageChooseAccounts,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := newMemoryJobs()
			handler, job := bindHandler(t, jobs, NewMockClient(), newJob(importjob.StageChooseAccounts, map[string]any{
				importjob.KeyAccounts: []string{"A1", "A2"},
			}))

			messages, err := handler.Configure(context.Background(), tt.data)
			require.NoError(t, err)
			if tt.messages == nil {
				assert.True(t, messages.Empty())
				assert.NotEmpty(t, job.Strings(importjob.KeySelectedAccounts))
			} else {
				assert.Equal(t, tt.messages, messages.Strings())
				assert.Zero(t, jobs.saveCount())
			}
			assert.Equal(t, tt.stage, job.Stage)
		})
	}
}

func TestGoForImportIsTerminal(t *testing.T) {
	jobs := newMemoryJobs()
	handler, job := bindHandler(t, jobs, NewMockClient(), newJob(importjob.StageGoForImport, map[string]any{
		importjob.KeySelectedAccounts: []any{"A1"},
	}))

	assert.True(t, handler.IsComplete())
	messages, err := handler.Configure(context.Background(), map[string]any{"anything": 1})
	require.NoError(t, err)
	assert.True(t, messages.Empty())
	assert.Equal(t, importjob.StageGoForImport, job.Stage)

	data, err := handler.NextData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"selected_accounts": []string{"A1"}}, data)
	assert.Zero(t, jobs.saveCount())
}

func TestStorageFailureLeavesJobUntouched(t *testing.T) {
	jobs := newMemoryJobs()
	handler, job := bindHandler(t, jobs, NewMockClient(), newJob(importjob.StageChooseLogin, map[string]any{
		importjob.KeyLogins: []string{"L1"},
	}))
	jobs.saveErr = errors.New("disk full")

	_, err := handler.Configure(context.Background(), map[string]any{"login": "L1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrStorage))
	assert.Equal(t, importjob.StageChooseLogin, job.Stage)
	assert.Empty(t, job.String(importjob.KeyLogin))
	assert.Equal(t, importjob.StageChooseLogin, jobs.stored("job-1").Stage)
}

func TestStaleWriteIsRejected(t *testing.T) {
	jobs := newMemoryJobs()
	job := newJob(importjob.StageChooseLogin, map[string]any{importjob.KeyLogins: []string{"L1", "L2"}})
	first, _ := bindHandler(t, jobs, NewMockClient(), job)
	loaded := jobs.stored("job-1")
	second, err := NewRegistry(Dependencies{}).Resolve(loaded, jobs.ForUser(1))
	require.NoError(t, err)

	_, err = first.Configure(context.Background(), map[string]any{"login": "L1"})
	require.NoError(t, err)

	_, err = second.Configure(context.Background(), map[string]any{"login": "L2"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errStaleWrite))
	assert.Equal(t, "L1", jobs.stored("job-1").String(importjob.KeyLogin))
}
