package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrBadEnvelope = errors.New("malformed task envelope")

// Envelope is the broker message body. TaskID doubles as the task ref clients
// poll with; Attempt starts at 1. Owner is the user allowed to poll the task.
type Envelope struct {
	TaskID  string          `json:"task_id"`
	Kind    Kind            `json:"kind"`
	Args    json.RawMessage `json:"args"`
	Attempt int             `json:"attempt"`
	Owner   uint64          `json:"owner,omitempty"`
}

func NewEnvelope(taskID string, kind Kind, args any) (Envelope, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s args: %w", kind, err)
	}
	return Envelope{TaskID: taskID, Kind: kind, Args: raw, Attempt: 1}, nil
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Next returns the envelope for the following delivery attempt.
func (e Envelope) Next() Envelope {
	e.Attempt++
	return e
}

// Decode parses a broker message body.
func Decode(body []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if e.TaskID == "" || e.Kind == "" {
		return Envelope{}, fmt.Errorf("%w: missing task_id or kind", ErrBadEnvelope)
	}
	if e.Attempt <= 0 {
		e.Attempt = 1
	}
	return e, nil
}

func (e Envelope) InterpretArgs() (InterpretArgs, error) {
	var a InterpretArgs
	if err := json.Unmarshal(e.Args, &a); err != nil {
		return a, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if err := a.validate(); err != nil {
		return a, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	return a, nil
}

func (e Envelope) ReplyArgs() (ReplyArgs, error) {
	var a ReplyArgs
	if err := json.Unmarshal(e.Args, &a); err != nil {
		return a, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if err := a.validate(); err != nil {
		return a, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	return a, nil
}
