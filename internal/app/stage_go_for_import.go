package app

import (
	"context"

	"spectreimport/pkg/importjob"
)

// goForImportHandler serves jobs whose configuration is finished and waiting
// for the import run.
type goForImportHandler struct {
	stageBase
}

func newGoForImportHandler(deps Dependencies) Handler {
	return &goForImportHandler{stageBase: newStageBase(importjob.StageGoForImport, deps.Logger)}
}

func (h *goForImportHandler) IsComplete() bool {
	return true
}

func (h *goForImportHandler) NextView() string {
	return "import.spectre.ready"
}

func (h *goForImportHandler) NextData(context.Context) (map[string]any, error) {
	selected := h.job.Strings(importjob.KeySelectedAccounts)
	if selected == nil {
		selected = []string{}
	}
	return map[string]any{"selected_accounts": selected}, nil
}

func (h *goForImportHandler) Configure(context.Context, map[string]any) (MessageBag, error) {
	return MessageBag{}, nil
}
