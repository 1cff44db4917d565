// Package tasks defines the background task kinds, their wire envelope, the
// handler registry the worker dispatches through, and the read-only status
// projection over the task result store.
package tasks

import "fmt"

type Kind string

const (
	KindInterpretEntry Kind = "interpret_entry"
	KindReplyToThread  Kind = "reply_to_thread"
)

func (k Kind) Valid() bool {
	switch k {
	case KindInterpretEntry, KindReplyToThread:
		return true
	}
	return false
}

// InterpretArgs are the arguments of KindInterpretEntry.
type InterpretArgs struct {
	JobID string `json:"job_id"`
}

// ReplyArgs are the arguments of KindReplyToThread.
type ReplyArgs struct {
	UserID  uint64 `json:"user_id"`
	EntryID string `json:"entry_id"`
}

func (a InterpretArgs) validate() error {
	if a.JobID == "" {
		return fmt.Errorf("%s: missing job_id", KindInterpretEntry)
	}
	return nil
}

func (a ReplyArgs) validate() error {
	if a.UserID == 0 || a.EntryID == "" {
		return fmt.Errorf("%s: missing user_id or entry_id", KindReplyToThread)
	}
	return nil
}
