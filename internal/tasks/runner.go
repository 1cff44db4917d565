package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/oneiros/internal/metrics"
)

// Handler executes one task and returns its textual result.
type Handler func(ctx context.Context, env Envelope) (string, error)

// Handlers maps every task kind to its handler.
type Handlers map[Kind]Handler

// Outcome tells the broker what to do with a delivery.
type Outcome int

const (
	Ack    Outcome = iota // done, successfully or superseded
	Retry                 // redeliver later
	Reject                // dead-letter
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	default:
		return "reject"
	}
}

// Handler errors may implement these to steer the outcome. Errors that
// implement neither are treated as non-retryable.
type (
	retryable  interface{ Retryable() bool }
	superseded interface{ Superseded() bool }
	publicErr  interface{ PublicMessage() string }
)

// SupersededMessage is the error recorded for a task whose job was taken over
// by a newer submission.
const SupersededMessage = "superseded by a newer submission"

type Runner struct {
	handlers    Handlers
	results     ResultStore
	maxAttempts int
	log         zerolog.Logger
	now         func() time.Time
}

func NewRunner(handlers Handlers, results ResultStore, maxAttempts int, log zerolog.Logger) *Runner {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Runner{handlers: handlers, results: results, maxAttempts: maxAttempts, log: log, now: time.Now}
}

// Run executes env through its registered handler and records the result.
func (r *Runner) Run(ctx context.Context, env Envelope) Outcome {
	log := r.log.With().
		Str("task_ref", env.TaskID).
		Str("kind", string(env.Kind)).
		Int("attempt", env.Attempt).
		Logger()

	h, ok := r.handlers[env.Kind]
	if !ok {
		log.Error().Msg("no handler registered for task kind")
		r.record(ctx, env, Result{Status: StateFailure, Error: "unknown task kind"})
		metrics.IncJob(string(env.Kind), "rejected")
		return Reject
	}

	// at-least-once delivery: a task that already reached a terminal state
	// (e.g. its ack was lost) is not run again
	if prev, err := r.results.Get(ctx, env.TaskID); err != nil {
		log.Warn().Err(err).Msg("read task state failed")
	} else if prev != nil && prev.Status.Ready() {
		log.Info().Str("status", string(prev.Status)).Msg("task already finished, skipping redelivery")
		metrics.IncJob(string(env.Kind), "duplicate")
		return Ack
	}

	r.record(ctx, env, Result{Status: StateStarted})

	start := time.Now()
	out, err := h(ctx, env)
	cost := time.Since(start)

	if err == nil {
		r.record(ctx, env, Result{Status: StateSuccess, Result: out})
		metrics.IncJob(string(env.Kind), "success")
		log.Info().Dur("cost", cost).Msg("task done")
		return Ack
	}

	var s superseded
	if errors.As(err, &s) && s.Superseded() {
		r.record(ctx, env, Result{Status: StateFailure, Error: SupersededMessage})
		metrics.IncStaleTask()
		log.Info().Dur("cost", cost).Msg("task superseded by a newer submission")
		return Ack
	}

	msg := publicMessage(err)
	var rt retryable
	if errors.As(err, &rt) && rt.Retryable() && env.Attempt < r.maxAttempts {
		r.record(ctx, env, Result{Status: StateRetry, Error: msg})
		metrics.IncJob(string(env.Kind), "retry")
		log.Warn().Err(err).Dur("cost", cost).Msg("task failed, scheduling retry")
		return Retry
	}

	r.record(ctx, env, Result{Status: StateFailure, Error: msg})
	metrics.IncJob(string(env.Kind), "failure")
	log.Error().Err(err).Dur("cost", cost).Msg("task failed")
	return Reject
}

func (r *Runner) record(ctx context.Context, env Envelope, res Result) {
	res.Kind = env.Kind
	res.Owner = env.Owner
	res.UpdatedAt = r.now().UTC()
	if err := r.results.Set(ctx, env.TaskID, res); err != nil {
		r.log.Warn().Err(err).Str("task_ref", env.TaskID).Str("status", string(res.Status)).Msg("record task state failed")
	}
}

func publicMessage(err error) string {
	var p publicErr
	if errors.As(err, &p) {
		return p.PublicMessage()
	}
	if errors.Is(err, ErrBadEnvelope) {
		return "malformed task"
	}
	return "internal error"
}
