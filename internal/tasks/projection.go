package tasks

import (
	"context"
	"time"
)

// View is the client-facing status of one task.
type View struct {
	TaskRef   string     `json:"task_ref"`
	Status    State      `json:"status"`
	Ready     bool       `json:"ready"`
	Result    *string    `json:"result"`
	Error     *string    `json:"error"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Projection is a read-only view over the result store. Unknown refs, and refs
// owned by another user, project as pending.
type Projection struct {
	results ResultStore
}

func NewProjection(results ResultStore) *Projection {
	return &Projection{results: results}
}

func (p *Projection) Status(ctx context.Context, taskRef string, userID uint64) (View, error) {
	v := View{TaskRef: taskRef, Status: StatePending}

	r, err := p.results.Get(ctx, taskRef)
	if err != nil {
		return View{}, err
	}
	if r == nil || (r.Owner != 0 && r.Owner != userID) {
		return v, nil
	}

	v.Status = r.Status
	v.Ready = r.Status.Ready()
	if !r.UpdatedAt.IsZero() {
		t := r.UpdatedAt
		v.UpdatedAt = &t
	}
	switch r.Status {
	case StateSuccess:
		res := r.Result
		v.Result = &res
	case StateFailure, StateRetry:
		if r.Error != "" {
			e := r.Error
			v.Error = &e
		}
	}
	return v, nil
}
