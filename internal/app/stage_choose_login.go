package app

import (
	"context"
	"slices"

	"spectreimport/pkg/importjob"
)

// NewLogin is the login choice that starts a fresh connection instead of
// reusing an existing one.
const NewLogin = "new"

type chooseLoginHandler struct {
	stageBase
}

type chooseLoginInput struct {
	Login string `form:"login" validate:"required,max=128"`
}

func newChooseLoginHandler(deps Dependencies) Handler {
	return &chooseLoginHandler{stageBase: newStageBase(importjob.StageChooseLogin, deps.Logger)}
}

func (h *chooseLoginHandler) NextView() string {
	return "import.spectre.choose-login"
}

func (h *chooseLoginHandler) NextData(context.Context) (map[string]any, error) {
	logins := h.job.Strings(importjob.KeyLogins)
	if logins == nil {
		logins = []string{}
	}
	return map[string]any{"logins": logins}, nil
}

func (h *chooseLoginHandler) Configure(ctx context.Context, data map[string]any) (MessageBag, error) {
	var input chooseLoginInput
	if bag := decodeInput(data, &input); !bag.Empty() {
		return bag, nil
	}

	var bag MessageBag
	if input.Login != NewLogin && !slices.Contains(h.job.Strings(importjob.KeyLogins), input.Login) {
		bag.Invalid("Unknown login: %s", input.Login)
		return bag, nil
	}

	next := h.draft()
	next.Set(importjob.KeyLogin, input.Login)
	delete(next.Configuration, importjob.KeyChallenge)
	next.Stage = importjob.StageDoAuthenticate
	return bag, h.commit(ctx, next)
}
