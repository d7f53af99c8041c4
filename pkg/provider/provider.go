// Package provider defines the contract for the external account aggregation
// service linked by an import job.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Login is an existing connection between a customer and a bank.
type Login struct {
	ID           string `json:"id"`
	ProviderName string `json:"provider_name"`
	Status       string `json:"status"`
}

// Account is an external account reachable through an authenticated session.
type Account struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Nature   string `json:"nature"`
	Currency string `json:"currency_code"`
}

// AuthStatus is the outcome of a single authentication round trip.
type AuthStatus string

const (
	AuthSuccess   AuthStatus = "success"
	AuthChallenge AuthStatus = "challenge"
	AuthRejected  AuthStatus = "rejected"
)

// AuthRequest carries either credentials for a new login, a login id to
// reconnect, or the answer to a pending challenge.
type AuthRequest struct {
	CustomerID  string            `json:"customer_id,omitempty"`
	LoginID     string            `json:"login_id,omitempty"`
	Credentials map[string]string `json:"credentials,omitempty"`
	Challenge   string            `json:"challenge,omitempty"`
	Response    string            `json:"response,omitempty"`
}

// AuthResult reports what the provider wants next.
type AuthResult struct {
	Status  AuthStatus `json:"status"`
	LoginID string     `json:"login_id,omitempty"`
	Session string     `json:"session,omitempty"`
	Prompt  string     `json:"prompt,omitempty"`
	Reason  string     `json:"reason,omitempty"`
}

// Client is the set of remote operations the stage handlers need.
type Client interface {
	ListLogins(ctx context.Context, customerID string) ([]Login, error)
	Authenticate(ctx context.Context, req AuthRequest) (AuthResult, error)
	ListAccounts(ctx context.Context, session string) ([]Account, error)
	CheckSession(ctx context.Context, session string) (bool, error)
}

// Error is returned by Client implementations for failed remote calls.
type Error struct {
	Op         string
	StatusCode int
	Class      string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Class != "" && e.Message != "":
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Class)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the same call later may succeed.
func (e *Error) Temporary() bool {
	if e.Err != nil && e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsTemporary reports whether err is a provider error worth retrying.
func IsTemporary(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Temporary()
	}
	return false
}
