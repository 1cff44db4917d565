package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Publisher delivers an encoded envelope to the broker.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Dispatcher enqueues tasks: it records the pending state, then publishes.
type Dispatcher struct {
	pub     Publisher
	results ResultStore
	log     zerolog.Logger
	now     func() time.Time
}

func NewDispatcher(pub Publisher, results ResultStore, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{pub: pub, results: results, log: log, now: time.Now}
}

// Enqueue publishes a task on behalf of owner, the only user allowed to poll
// taskRef.
func (d *Dispatcher) Enqueue(ctx context.Context, kind Kind, taskRef string, owner uint64, args any) error {
	if !kind.Valid() {
		return fmt.Errorf("enqueue: unknown task kind %q", kind)
	}
	env, err := NewEnvelope(taskRef, kind, args)
	if err != nil {
		return err
	}
	env.Owner = owner

	// a missing pending record only degrades polling; publishing still matters
	if err := d.results.Set(ctx, taskRef, Result{Status: StatePending, Kind: kind, Owner: owner, UpdatedAt: d.now().UTC()}); err != nil {
		d.log.Warn().Err(err).Str("task_ref", taskRef).Msg("record pending state failed")
	}

	if err := d.pub.Publish(ctx, env); err != nil {
		_ = d.results.Set(ctx, taskRef, Result{
			Status:    StateFailure,
			Kind:      kind,
			Owner:     owner,
			Error:     "dispatch failed",
			UpdatedAt: d.now().UTC(),
		})
		return fmt.Errorf("publish %s: %w", kind, err)
	}

	d.log.Debug().Str("task_ref", taskRef).Str("kind", string(kind)).Msg("task enqueued")
	return nil
}
