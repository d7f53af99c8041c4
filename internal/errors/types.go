package errors

import "errors"

var (
	ErrConfiguration = errors.New("job configuration failed")
	ErrValidation    = errors.New("input validation failed")
	ErrStorage       = errors.New("job storage failed")
	ErrConfigInvalid = errors.New("configuration invalid")
	ErrNotFound      = errors.New("not found")
)

// ImportError decorates an error with the detail shown to the user.
type ImportError struct {
	Type        error
	Context     string
	Cause       string
	Suggestion  string
	OriginalErr error
}

func (e *ImportError) Error() string {
	switch {
	case e.OriginalErr != nil:
		return e.OriginalErr.Error()
	case e.Context != "":
		return e.Context
	default:
		return e.Type.Error()
	}
}

func (e *ImportError) Unwrap() []error {
	if e.OriginalErr == nil {
		return []error{e.Type}
	}
	return []error{e.Type, e.OriginalErr}
}

// ErrorKind classifies the error for callers that map failures to responses.
func (e *ImportError) ErrorKind() string {
	return getErrorTypeName(e.Type)
}

// Fatal reports whether the error signals an integration bug rather than
// something the user can fix or retry.
func (e *ImportError) Fatal() bool {
	return e.Type == ErrConfiguration || e.Type == ErrStorage || e.Type == ErrConfigInvalid
}

func NewImportError(errorType error, context, cause, suggestion string, originalErr error) *ImportError {
	return &ImportError{
		Type:        errorType,
		Context:     context,
		Cause:       cause,
		Suggestion:  suggestion,
		OriginalErr: originalErr,
	}
}

func NewConfigurationError(context, cause, suggestion string, originalErr error) *ImportError {
	return NewImportError(ErrConfiguration, context, cause, suggestion, originalErr)
}

func NewValidationError(context, cause, suggestion string, originalErr error) *ImportError {
	return NewImportError(ErrValidation, context, cause, suggestion, originalErr)
}

func NewStorageError(context, cause, suggestion string, originalErr error) *ImportError {
	return NewImportError(ErrStorage, context, cause, suggestion, originalErr)
}

func NewConfigError(context, cause, suggestion string, originalErr error) *ImportError {
	return NewImportError(ErrConfigInvalid, context, cause, suggestion, originalErr)
}

func NewNotFoundError(context, cause, suggestion string, originalErr error) *ImportError {
	return NewImportError(ErrNotFound, context, cause, suggestion, originalErr)
}

// Is reports whether any error in err's chain matches target. It mirrors the
// standard library so callers need only this package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
