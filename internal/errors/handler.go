package errors

import (
	"context"
	"errors"
	"log/slog"

	"spectreimport/internal/ui"
)

// ErrorHandler records failures as JSON lines in the log file and prints the
// user-facing detail to the console.
type ErrorHandler struct {
	logger  *slog.Logger
	console *ui.Console
}

func NewErrorHandler() (*ErrorHandler, error) {
	logFile, err := openLogFile()
	if err != nil {
		return nil, err
	}

	return &ErrorHandler{
		logger:  slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelInfo})),
		console: ui.NewConsole(),
	}, nil
}

func (h *ErrorHandler) Handle(err error) {
	if err == nil {
		return
	}

	var importErr *ImportError
	if !errors.As(err, &importErr) {
		h.logger.Error("Unhandled error occurred", "error", err.Error(), "type", "generic")
		h.console.PrintError(err.Error())
		return
	}

	h.logger.LogAttrs(context.Background(), slog.LevelError, "Import error occurred", importAttrs(importErr)...)
	h.console.PrintError(h.console.FormatErrorMessage(importErr.Context, importErr.Cause, importErr.Suggestion))
}

func importAttrs(err *ImportError) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("error", err.Error()),
		slog.String("type", err.ErrorKind()),
		slog.String("context", err.Context),
		slog.Bool("fatal", err.Fatal()),
	}
	if err.Cause != "" {
		attrs = append(attrs, slog.String("cause", err.Cause))
	}
	if err.Suggestion != "" {
		attrs = append(attrs, slog.String("suggestion", err.Suggestion))
	}
	return attrs
}

var errorTypeNames = map[error]string{
	ErrConfiguration: "configuration",
	ErrValidation:    "validation",
	ErrStorage:       "storage",
	ErrConfigInvalid: "config",
	ErrNotFound:      "not_found",
}

func getErrorTypeName(errType error) string {
	if name, ok := errorTypeNames[errType]; ok {
		return name
	}
	return "unknown"
}
