package app

import (
	"context"
	"fmt"

	apperrors "spectreimport/internal/errors"
	"spectreimport/pkg/importjob"
	"spectreimport/pkg/provider"
)

type authenticatedHandler struct {
	stageBase
	client   provider.Client
	accounts fetchOnce[[]provider.Account]
}

func newAuthenticatedHandler(deps Dependencies) Handler {
	return &authenticatedHandler{
		stageBase: newStageBase(importjob.StageAuthenticated, deps.Logger),
		client:    deps.Client,
	}
}

func (h *authenticatedHandler) NextView() string {
	return "import.spectre.authenticated"
}

func (h *authenticatedHandler) NextData(ctx context.Context) (map[string]any, error) {
	session, err := h.session()
	if err != nil {
		return nil, err
	}
	accounts, err := h.fetchAccounts(ctx, session, false)
	if err != nil {
		return map[string]any{"accounts": []string{}, "errors": providerErrors(err)}, nil
	}
	return map[string]any{"accounts": accountIDs(accounts)}, nil
}

func (h *authenticatedHandler) Configure(ctx context.Context, _ map[string]any) (MessageBag, error) {
	var bag MessageBag
	session, err := h.session()
	if err != nil {
		return bag, err
	}

	accounts, err := h.fetchAccounts(ctx, session, true)
	if err != nil {
		bag.ProviderFailure(err)
		return bag, nil
	}
	if len(accounts) == 0 {
		bag.ProviderNotice("The provider returned no accounts for this login")
		return bag, nil
	}

	next := h.draft()
	next.Set(importjob.KeyAccounts, accountIDs(accounts))
	next.Stage = importjob.StageChooseAccounts
	return bag, h.commit(ctx, next)
}

// session returns the persisted session reference. A job cannot reach this
// stage without one, so its absence is a corrupt record.
func (h *authenticatedHandler) session() (string, error) {
	session := h.job.String(importjob.KeySession)
	if session == "" {
		return "", apperrors.NewConfigurationError(
			"Cannot list accounts for this import job",
			"the job is authenticated but has no provider session",
			"Start a new import job",
			fmt.Errorf("job %s: missing %q in configuration", h.job.ID, importjob.KeySession),
		)
	}
	return session, nil
}

func (h *authenticatedHandler) fetchAccounts(ctx context.Context, session string, retry bool) ([]provider.Account, error) {
	fetch := func() ([]provider.Account, error) {
		h.logger.Debug("Listing provider accounts", "jobId", h.job.ID)
		return h.client.ListAccounts(ctx, session)
	}
	if retry {
		return h.accounts.retry(fetch)
	}
	return h.accounts.get(fetch)
}

func accountIDs(accounts []provider.Account) []string {
	ids := make([]string, 0, len(accounts))
	for _, account := range accounts {
		ids = append(ids, account.ID)
	}
	return ids
}
