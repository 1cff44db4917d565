package tasks

import (
	"context"
	"time"
)

// State is the broker-side execution state of one task.
type State string

const (
	StatePending State = "pending"
	StateStarted State = "started"
	StateRetry   State = "retry"
	StateSuccess State = "success"
	StateFailure State = "failure"
)

func (s State) Ready() bool { return s == StateSuccess || s == StateFailure }

// Result is the recorded outcome of a task execution.
type Result struct {
	Status    State
	Kind      Kind
	Owner     uint64
	Result    string
	Error     string
	UpdatedAt time.Time
}

// ResultStore persists task execution results. Get returns (nil, nil) for
// refs it has never seen or that expired.
type ResultStore interface {
	Set(ctx context.Context, taskRef string, r Result) error
	Get(ctx context.Context, taskRef string) (*Result, error)
}
