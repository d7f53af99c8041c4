package app

import (
	"context"

	"spectreimport/pkg/importjob"
	"spectreimport/pkg/provider"
)

// newJobHandler checks for a reusable provider session and otherwise offers
// the customer's existing logins.
type newJobHandler struct {
	stageBase
	client provider.Client

	loginsFor string
	logins    fetchOnce[[]provider.Login]
}

type newJobInput struct {
	CustomerID string `form:"customer_id" validate:"omitempty,max=128"`
}

func newNewJobHandler(deps Dependencies) Handler {
	return &newJobHandler{
		stageBase: newStageBase(importjob.StageNew, deps.Logger),
		client:    deps.Client,
	}
}

func (h *newJobHandler) NextView() string {
	return "import.spectre.new"
}

func (h *newJobHandler) NextData(ctx context.Context) (map[string]any, error) {
	customerID := h.job.String(importjob.KeyCustomerID)
	if customerID == "" {
		return map[string]any{"logins": []string{}, "fields": []string{importjob.KeyCustomerID}}, nil
	}

	logins, err := h.fetchLogins(ctx, customerID, false)
	if err != nil {
		return map[string]any{"logins": []string{}, "errors": providerErrors(err)}, nil
	}
	return map[string]any{"logins": loginIDs(logins)}, nil
}

func (h *newJobHandler) Configure(ctx context.Context, data map[string]any) (MessageBag, error) {
	var input newJobInput
	if bag := decodeInput(data, &input); !bag.Empty() {
		return bag, nil
	}

	var bag MessageBag
	next := h.draft()

	if session := h.job.String(importjob.KeySession); session != "" {
		valid, err := h.client.CheckSession(ctx, session)
		if err != nil {
			bag.ProviderFailure(err)
			return bag, nil
		}
		if valid {
			next.Stage = importjob.StageAuthenticated
			return bag, h.commit(ctx, next)
		}
		delete(next.Configuration, importjob.KeySession)
	}

	customerID := input.CustomerID
	if customerID == "" {
		customerID = h.job.String(importjob.KeyCustomerID)
	}
	if customerID == "" {
		bag.Invalid("Field '%s' is required", importjob.KeyCustomerID)
		return bag, nil
	}

	logins, err := h.fetchLogins(ctx, customerID, true)
	if err != nil {
		bag.ProviderFailure(err)
		return bag, nil
	}

	next.Set(importjob.KeyCustomerID, customerID)
	next.Set(importjob.KeyLogins, loginIDs(logins))
	next.Stage = importjob.StageChooseLogin
	return bag, h.commit(ctx, next)
}

// fetchLogins lists the customer's logins once per binding. Configure passes
// retry so a failure seen by NextData does not block the submitted step.
func (h *newJobHandler) fetchLogins(ctx context.Context, customerID string, retry bool) ([]provider.Login, error) {
	if h.loginsFor != customerID {
		h.logins = fetchOnce[[]provider.Login]{}
		h.loginsFor = customerID
	}
	fetch := func() ([]provider.Login, error) {
		h.logger.Debug("Listing provider logins", "jobId", h.job.ID, "customerId", customerID)
		return h.client.ListLogins(ctx, customerID)
	}
	if retry {
		return h.logins.retry(fetch)
	}
	return h.logins.get(fetch)
}

func loginIDs(logins []provider.Login) []string {
	ids := make([]string, 0, len(logins))
	for _, login := range logins {
		ids = append(ids, login.ID)
	}
	return ids
}

func providerErrors(err error) []string {
	var bag MessageBag
	bag.ProviderFailure(err)
	return bag.Strings()
}
