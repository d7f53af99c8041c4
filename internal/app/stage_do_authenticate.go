package app

import (
	"context"

	"spectreimport/pkg/importjob"
	"spectreimport/pkg/provider"
)

// doAuthenticateHandler drives the provider login. Each configure is one
// round trip; a challenge keeps the job here until the provider reports
// success.
type doAuthenticateHandler struct {
	stageBase
	client provider.Client
}

type credentialsInput struct {
	Username string `form:"username" validate:"required,max=256"`
	Password string `form:"password" validate:"required,max=256"`
}

type challengeInput struct {
	Code string `form:"code" validate:"required,max=64"`
}

func newDoAuthenticateHandler(deps Dependencies) Handler {
	return &doAuthenticateHandler{
		stageBase: newStageBase(importjob.StageDoAuthenticate, deps.Logger),
		client:    deps.Client,
	}
}

func (h *doAuthenticateHandler) NextView() string {
	return "import.spectre.authenticate"
}

func (h *doAuthenticateHandler) NextData(context.Context) (map[string]any, error) {
	return map[string]any{
		"login":     h.job.String(importjob.KeyLogin),
		"challenge": h.job.String(importjob.KeyChallenge),
		"fields":    h.fields(),
	}, nil
}

// fields lists the inputs the next configure expects.
func (h *doAuthenticateHandler) fields() []string {
	switch {
	case h.job.String(importjob.KeyChallenge) != "":
		return []string{"code"}
	case h.newLogin():
		return []string{"username", "password"}
	default:
		return []string{}
	}
}

func (h *doAuthenticateHandler) newLogin() bool {
	login := h.job.String(importjob.KeyLogin)
	return login == "" || login == NewLogin
}

func (h *doAuthenticateHandler) Configure(ctx context.Context, data map[string]any) (MessageBag, error) {
	req := provider.AuthRequest{CustomerID: h.job.String(importjob.KeyCustomerID)}
	if !h.newLogin() {
		req.LoginID = h.job.String(importjob.KeyLogin)
	}

	switch challenge := h.job.String(importjob.KeyChallenge); {
	case challenge != "":
		var input challengeInput
		if bag := decodeInput(data, &input); !bag.Empty() {
			return bag, nil
		}
		req.Challenge = challenge
		req.Response = input.Code
	case h.newLogin():
		var input credentialsInput
		if bag := decodeInput(data, &input); !bag.Empty() {
			return bag, nil
		}
		req.Credentials = map[string]string{"login": input.Username, "password": input.Password}
	}

	var bag MessageBag
	result, err := h.client.Authenticate(ctx, req)
	if err != nil {
		bag.ProviderFailure(err)
		return bag, nil
	}

	next := h.draft()
	switch result.Status {
	case provider.AuthSuccess:
		if result.Session == "" {
			bag.ProviderNotice("Provider error: authentication succeeded without a session")
			return bag, nil
		}
		if result.LoginID != "" {
			next.Set(importjob.KeyLogin, result.LoginID)
		}
		next.Set(importjob.KeySession, result.Session)
		delete(next.Configuration, importjob.KeyChallenge)
		next.Stage = importjob.StageAuthenticated
	case provider.AuthChallenge:
		if result.LoginID != "" {
			next.Set(importjob.KeyLogin, result.LoginID)
		}
		next.Set(importjob.KeyChallenge, result.Prompt)
		h.logger.Info("Provider requested a challenge", "jobId", h.job.ID)
	case provider.AuthRejected:
		reason := result.Reason
		if reason == "" {
			reason = "credentials were not accepted"
		}
		bag.ProviderNotice("Authentication rejected: %s", reason)
		return bag, nil
	default:
		bag.ProviderNotice("Provider error: unexpected authentication status %q", result.Status)
		return bag, nil
	}

	return bag, h.commit(ctx, next)
}
