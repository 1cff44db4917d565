package analysis

import (
	"errors"

	"github.com/suPer8Hu/oneiros/internal/ai"
)

var (
	ErrJobNotFound   = errors.New("interpretation job not found")
	ErrConflict      = errors.New("entry belongs to another user")
	ErrStaleTask     = errors.New("task superseded by a newer submission")
	ErrDispatch      = errors.New("could not dispatch task")
	ErrEmptyMessage  = errors.New("message is empty")
	errUnexpectedJob = errors.New("job in unexpected state")
)

type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindGatewayTransient ErrorKind = "gateway_transient"
	KindGatewayPermanent ErrorKind = "gateway_permanent"
	KindStale            ErrorKind = "stale"
	KindInternal         ErrorKind = "internal"
)

// TaskError is what the worker handlers return. Public is the short,
// non-sensitive text stored on the job and shown to clients.
type TaskError struct {
	Kind   ErrorKind
	Public string
	Err    error
}

func (e *TaskError) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Public
}

func (e *TaskError) Unwrap() error { return e.Err }

func (e *TaskError) Retryable() bool {
	return e.Kind == KindGatewayTransient || e.Kind == KindInternal
}

func (e *TaskError) Superseded() bool { return e.Kind == KindStale }

func (e *TaskError) PublicMessage() string { return e.Public }

func notFound(public string, err error) *TaskError {
	return &TaskError{Kind: KindNotFound, Public: public, Err: err}
}

func internal(err error) *TaskError {
	return &TaskError{Kind: KindInternal, Public: "Internal error", Err: err}
}

func stale(err error) *TaskError {
	return &TaskError{Kind: KindStale, Public: "Superseded", Err: err}
}

// gatewayError classifies a model gateway failure.
func gatewayError(err error) *TaskError {
	if ai.IsRetryable(err) {
		return &TaskError{Kind: KindGatewayTransient, Public: "Model service error: temporarily unavailable", Err: err}
	}
	return &TaskError{Kind: KindGatewayPermanent, Public: "Model service error: unusable response", Err: err}
}
