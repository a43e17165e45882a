package errors

import "fmt"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Kind classifies an application error for the boundary layer.
type Kind string

const (
	KindAlreadyExists    Kind = "already_exists"
	KindNotFound         Kind = "not_found"
	KindCannotFollowSelf Kind = "cannot_follow_self"
	KindInvalidCursor    Kind = "invalid_cursor"
	KindInvalidArgument  Kind = "invalid_argument"
	KindUnavailable      Kind = "unavailable"
)

type AppError struct {
	Kind      Kind
	Message   string
	Severity  Severity
	Retryable bool
	cause     error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

// Is lets errors.Is match two AppErrors by kind.
func (e *AppError) Is(target error) bool {
	other, ok := target.(*AppError)
	if !ok || e == nil || other == nil {
		return false
	}

	return e.Kind == other.Kind
}

func NewAlreadyExists(what string) *AppError {
	return &AppError{
		Kind:      KindAlreadyExists,
		Message:   fmt.Sprintf("%s already exists", what),
		Severity:  SeverityLow,
		Retryable: false,
	}
}

func NewNotFound(what string) *AppError {
	return &AppError{
		Kind:      KindNotFound,
		Message:   fmt.Sprintf("%s not found", what),
		Severity:  SeverityLow,
		Retryable: false,
	}
}

func NewCannotFollowSelf() *AppError {
	return &AppError{
		Kind:      KindCannotFollowSelf,
		Message:   "users cannot follow themselves",
		Severity:  SeverityLow,
		Retryable: false,
	}
}

func NewInvalidCursor(cause error) *AppError {
	return &AppError{
		Kind:      KindInvalidCursor,
		Message:   "pagination cursor is invalid",
		Severity:  SeverityLow,
		Retryable: false,
		cause:     cause,
	}
}

func NewInvalidArgument(msg string) *AppError {
	return &AppError{
		Kind:      KindInvalidArgument,
		Message:   msg,
		Severity:  SeverityLow,
		Retryable: false,
	}
}

func NewUnavailable(component string, cause error) *AppError {
	var underlyingMsg string
	if cause != nil {
		underlyingMsg = cause.Error()
	}

	return &AppError{
		Kind:      KindUnavailable,
		Message:   fmt.Sprintf("%s unavailable: %s", component, underlyingMsg),
		Severity:  SeverityHigh,
		Retryable: true,
		cause:     cause,
	}
}
