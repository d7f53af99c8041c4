// Package spectre implements the account aggregation API client used by the
// stage handlers.
package spectre

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"

	"spectreimport/internal/config"
	"spectreimport/pkg/provider"
)

const maxErrorBody = 64 * 1024

// Client implements provider.Client over the provider's JSON API.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	appID   string
	secret  string
	logger  *slog.Logger
}

var _ provider.Client = (*Client)(nil)

// NewClient creates a client from the provider configuration. Transport
// retries are limited to cfg.RetryMax; zero disables them.
func NewClient(cfg config.Provider, logger *slog.Logger) (*Client, error) {
	if cfg.AppID == "" || cfg.Secret == "" {
		return nil, fmt.Errorf("provider app id and secret are required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid provider base URL %q", cfg.BaseURL)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.HTTPClient.Timeout = cfg.Timeout
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = nil
	if logger != nil {
		client.Logger = logger
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		http:    client,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		appID:   cfg.AppID,
		secret:  cfg.Secret,
		logger:  logger,
	}, nil
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Class   string `json:"class"`
		Message string `json:"message"`
	} `json:"error"`
}

// ListLogins returns the logins the customer already has with the provider.
func (c *Client) ListLogins(ctx context.Context, customerID string) ([]provider.Login, error) {
	query := url.Values{}
	if customerID != "" {
		query.Set("customer_id", customerID)
	}
	var out envelope[[]provider.Login]
	if err := c.do(ctx, "list logins", http.MethodGet, "/logins", query, nil, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("Fetched provider logins", "customerId", customerID, "count", len(out.Data))
	return out.Data, nil
}

// Authenticate performs one step of the login flow.
func (c *Client) Authenticate(ctx context.Context, req provider.AuthRequest) (provider.AuthResult, error) {
	var out envelope[provider.AuthResult]
	if err := c.do(ctx, "authenticate", http.MethodPost, "/logins/authenticate", nil, envelope[provider.AuthRequest]{Data: req}, &out); err != nil {
		return provider.AuthResult{}, err
	}
	if out.Data.Status == "" {
		return provider.AuthResult{}, &provider.Error{Op: "authenticate", Message: "response did not include a status"}
	}
	return out.Data, nil
}

// ListAccounts returns the accounts visible through session.
func (c *Client) ListAccounts(ctx context.Context, session string) ([]provider.Account, error) {
	query := url.Values{"session": {session}}
	var out envelope[[]provider.Account]
	if err := c.do(ctx, "list accounts", http.MethodGet, "/accounts", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// CheckSession reports whether session can still be used to read accounts.
func (c *Client) CheckSession(ctx context.Context, session string) (bool, error) {
	var out envelope[struct {
		Valid bool `json:"valid"`
	}]
	err := c.do(ctx, "check session", http.MethodGet, "/sessions/"+url.PathEscape(session), nil, nil, &out)
	var perr *provider.Error
	if errors.As(err, &perr) && perr.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return out.Data.Valid, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return &provider.Error{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return &provider.Error{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("App-id", c.appID)
	req.Header.Set("Secret", c.secret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// With retries exhausted the passthrough handler hands back the last
	// response alongside the retry policy's error.
	resp, err := c.http.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return decodeError(op, resp)
		}
		return &provider.Error{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(op, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &provider.Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func decodeError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	perr := &provider.Error{Op: op, StatusCode: resp.StatusCode}

	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error.Message != "" {
		perr.Class = env.Error.Class
		perr.Message = env.Error.Message
		return perr
	}
	if text := string(bytes.TrimSpace(raw)); text != "" && len(text) < 200 {
		perr.Message = text
	} else {
		perr.Message = http.StatusText(resp.StatusCode)
	}
	return perr
}
