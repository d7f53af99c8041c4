package app

import (
	"context"
	"slices"

	"spectreimport/pkg/importjob"
)

type chooseAccountsHandler struct {
	stageBase
}

type chooseAccountsInput struct {
	Accounts []string `form:"accounts" validate:"required,min=1,unique,dive,required"`
}

func newChooseAccountsHandler(deps Dependencies) Handler {
	return &chooseAccountsHandler{stageBase: newStageBase(importjob.StageChooseAccounts, deps.Logger)}
}

func (h *chooseAccountsHandler) NextView() string {
	return "import.spectre.choose-accounts"
}

func (h *chooseAccountsHandler) NextData(context.Context) (map[string]any, error) {
	accounts := h.job.Strings(importjob.KeyAccounts)
	if accounts == nil {
		accounts = []string{}
	}
	return map[string]any{"accounts": accounts}, nil
}

func (h *chooseAccountsHandler) Configure(ctx context.Context, data map[string]any) (MessageBag, error) {
	var input chooseAccountsInput
	if bag := decodeInput(data, &input); !bag.Empty() {
		return bag, nil
	}

	var bag MessageBag
	fetched := h.job.Strings(importjob.KeyAccounts)
	for _, id := range input.Accounts {
		if !slices.Contains(fetched, id) {
			bag.Invalid("Unknown account: %s", id)
		}
	}
	if !bag.Empty() {
		return bag, nil
	}

	next := h.draft()
	next.Set(importjob.KeySelectedAccounts, input.Accounts)
	next.Stage = importjob.StageGoForImport
	return bag, h.commit(ctx, next)
}
