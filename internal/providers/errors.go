package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind is the failure taxonomy the orchestrator branches on.
type ErrorKind string

const (
	KindAuthentication     ErrorKind = "authentication_failed"
	KindRateLimited        ErrorKind = "rate_limited"
	KindValidationRejected ErrorKind = "validation_rejected"
	KindTransient          ErrorKind = "transient"
	KindUnexpected         ErrorKind = "unexpected"
)

// Error is returned by provider clients for every failed vendor call.
type Error struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Code       string
	Message    string
	Raw        []byte
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the call may succeed when repeated.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimited
}

// KindOf classifies any error returned by a provider client. Errors that did
// not come from a client are treated as unexpected.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if isTransportTimeout(err) {
		return KindTransient
	}
	return KindUnexpected
}

// IsRetryable reports whether err is transient or rate limited.
func IsRetryable(err error) bool {
	kind := KindOf(err)
	return kind == KindTransient || kind == KindRateLimited
}

// ClassifyStatus maps an HTTP status code onto the taxonomy.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthentication
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTransient
	case status >= 500:
		return KindTransient
	case status == http.StatusBadRequest || status == http.StatusNotFound ||
		status == http.StatusUnprocessableEntity || status == http.StatusRequestEntityTooLarge ||
		status == http.StatusUnsupportedMediaType:
		return KindValidationRejected
	default:
		return KindUnexpected
	}
}

// FromResponse builds an Error from a non-2xx vendor response, pulling the
// vendor code and message out of the body when it is JSON.
func FromResponse(provider string, status int, body []byte) *Error {
	code, message := ExtractError(body)
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	return &Error{
		Provider:   provider,
		Kind:       ClassifyStatus(status),
		StatusCode: status,
		Code:       code,
		Message:    message,
		Raw:        body,
	}
}

// FromTransport wraps a failed round trip. Timeouts and connection failures are
// transient; cancellation by the caller is not.
func FromTransport(provider string, err error) *Error {
	kind := KindTransient
	if errors.Is(err, context.Canceled) {
		kind = KindUnexpected
	}
	return &Error{Provider: provider, Kind: kind, Err: err}
}

func isTransportTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
