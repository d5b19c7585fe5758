package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidPrompt     = errors.New("invalid prompt")
	ErrInvalidKind       = errors.New("invalid kind")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrUnsupportedTier   = errors.New("unsupported tier")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// FailureReason is the typed cause attached to a failed job. The string value
// doubles as the stable `code` returned to API clients.
type FailureReason string

const (
	ReasonValidation          FailureReason = "validation_error"
	ReasonQuotaExceeded       FailureReason = "quota_exceeded"
	ReasonQuotaUnavailable    FailureReason = "quota_unavailable"
	ReasonProviderRejected    FailureReason = "provider_rejected"
	ReasonProviderUnavailable FailureReason = "provider_unavailable"
	ReasonGenerationFailed    FailureReason = "provider_generation_failed"
	ReasonTimeout             FailureReason = "timeout"
	ReasonNoOutputs           FailureReason = "no_outputs_produced"
	ReasonInternal            FailureReason = "internal_error"
)

// ValidationError reports caller input that cannot be processed. It is never
// retried and its message is surfaced verbatim.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
