package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var ErrEmptyResponse = errors.New("empty response")

// Error is a classified gateway failure.
type Error struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient gateway failure.
// Unclassified errors other than ErrEmptyResponse are treated as transient.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrEmptyResponse) {
		return false
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Retryable
	}
	return true
}

// retryableStatus: upstream 5xx and 429 may succeed later, other 4xx will not.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

func statusError(provider string, code int, msg string) error {
	return &Error{
		Provider:   provider,
		StatusCode: code,
		Retryable:  retryableStatus(code),
		Err:        errors.New(msg),
	}
}

// transportError classifies errors raised before a response was read.
func transportError(provider string, err error) error {
	// timeouts and network failures may succeed later; cancellation will not
	return &Error{Provider: provider, Retryable: !errors.Is(err, context.Canceled), Err: err}
}

// permanentError wraps malformed or empty responses.
func permanentError(provider string, err error) error {
	return &Error{Provider: provider, Retryable: false, Err: err}
}
