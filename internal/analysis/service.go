package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/oneiros/internal/common"
	"github.com/suPer8Hu/oneiros/internal/conversation"
	"github.com/suPer8Hu/oneiros/internal/journal"
	"github.com/suPer8Hu/oneiros/internal/logging"
	"github.com/suPer8Hu/oneiros/internal/metrics"
	"github.com/suPer8Hu/oneiros/internal/tasks"
	"gorm.io/gorm"
)

// Thread paging bounds shared with the HTTP layer.
const (
	DefaultThreadLimit = 50
	MaxThreadLimit     = 200
)

const maxJobList = 100

// Enqueuer hands a task to the broker under a caller-chosen task ref. Only
// owner may read the task state back.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind tasks.Kind, taskRef string, owner uint64, args any) error
}

// Service is the job state machine plus the thread operations of the client
// surface.
type Service struct {
	db       *gorm.DB
	jobs     *Repo
	entries  *journal.Store
	messages *conversation.Store
	enq      Enqueuer
	log      zerolog.Logger

	newID func() (string, error)
	now   func() time.Time
}

func NewService(db *gorm.DB, entries *journal.Store, messages *conversation.Store, enq Enqueuer, log zerolog.Logger) *Service {
	return &Service{
		db:       db,
		jobs:     NewRepo(db),
		entries:  entries,
		messages: messages,
		enq:      enq,
		log:      log,
		newID:    common.NewULID,
		now:      time.Now,
	}
}

// Submit creates the entry's job, or resets the existing one, and dispatches
// a fresh interpretation task. A reset purges the entry's messages in the
// same transaction; either way the thread then opens with the entry text.
func (s *Service) Submit(ctx context.Context, userID uint64, entryID string) (*Job, error) {
	entry, err := s.entries.GetEntry(ctx, entryID, userID)
	if err != nil {
		return nil, err
	}

	ref, err := s.newID()
	if err != nil {
		return nil, err
	}

	job, err := s.createOrReset(ctx, entry, ref)
	if err != nil && !errors.Is(err, ErrConflict) {
		// lost a concurrent first submission; the row exists now
		if _, gerr := s.jobs.GetByEntry(ctx, entryID); gerr == nil {
			job, err = s.createOrReset(ctx, entry, ref)
		}
	}
	if err != nil {
		return nil, err
	}

	log := logging.Ctx(ctx, s.log).With().
		Str("job_id", job.ID).
		Str("task_ref", ref).
		Str("entry_id", entryID).
		Logger()

	if err := s.enq.Enqueue(ctx, tasks.KindInterpretEntry, ref, userID, tasks.InterpretArgs{JobID: job.ID}); err != nil {
		if _, ferr := s.jobs.MarkFailed(ctx, job.ID, ref, "Could not dispatch interpretation"); ferr != nil {
			log.Error().Err(ferr).Msg("mark job failed after dispatch error")
		}
		log.Error().Err(err).Msg("dispatch interpretation")
		return nil, fmt.Errorf("%w: %v", ErrDispatch, err)
	}

	metrics.IncJob(string(tasks.KindInterpretEntry), "submitted")
	log.Info().Msg("interpretation submitted")
	return job, nil
}

func (s *Service) createOrReset(ctx context.Context, entry *journal.Entry, ref string) (*Job, error) {
	userID, entryID := entry.UserID, entry.ID
	var out *Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		jobs := s.jobs.WithTx(tx)
		messages := s.messages.WithTx(tx)

		existing, err := jobs.GetByEntry(ctx, entryID)
		switch {
		case err == nil:
			if existing.UserID != userID {
				return ErrConflict
			}
			if _, err := messages.PurgeEntry(ctx, userID, entryID); err != nil {
				return err
			}
			if err := jobs.Reset(ctx, existing.ID, ref); err != nil {
				return err
			}
			if _, err := messages.AppendUserIfAbsent(ctx, userID, entryID, entry.Content); err != nil {
				return err
			}
			out, err = jobs.GetByID(ctx, existing.ID)
			return err

		case errors.Is(err, ErrJobNotFound):
			id, err := s.newID()
			if err != nil {
				return err
			}
			j := &Job{
				ID:      id,
				EntryID: entryID,
				UserID:  userID,
				Status:  JobPending,
				TaskRef: &ref,
			}
			if err := jobs.Create(ctx, j); err != nil {
				return err
			}
			if _, err := messages.AppendUserIfAbsent(ctx, userID, entryID, entry.Content); err != nil {
				return err
			}
			out = j
			return nil

		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BeginProcessing moves the job to processing for the task ref. A completed
// job under the same ref is returned unchanged so duplicate deliveries can
// short-circuit.
func (s *Service) BeginProcessing(ctx context.Context, jobID, ref string) (*Job, error) {
	if _, err := s.jobs.MarkProcessing(ctx, jobID, ref); err != nil {
		return nil, err
	}
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.ownedBy(ref) {
		return nil, ErrStaleTask
	}
	return job, nil
}

// Complete stores the result and appends it to the entry's thread in one
// transaction. Completing an already completed job is a no-op.
func (s *Service) Complete(ctx context.Context, job *Job, ref, result string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		jobs := s.jobs.WithTx(tx)

		n, err := jobs.MarkCompleted(ctx, job.ID, ref, result, s.now().UTC())
		if err != nil {
			return err
		}
		if n == 0 {
			cur, err := jobs.GetByID(ctx, job.ID)
			if err != nil {
				return err
			}
			switch {
			case !cur.ownedBy(ref):
				return ErrStaleTask
			case cur.Status == JobCompleted:
				return nil
			default:
				return fmt.Errorf("complete job %s: %w (%s)", job.ID, errUnexpectedJob, cur.Status)
			}
		}

		entryID := job.EntryID
		return s.messages.WithTx(tx).Append(ctx, &conversation.Message{
			UserID:  job.UserID,
			EntryID: &entryID,
			Role:    conversation.RoleAssistant,
			Content: result,
		})
	})
}

// Fail marks the job failed with a public error text. A completed job is left
// untouched.
func (s *Service) Fail(ctx context.Context, jobID, ref, errMsg string) error {
	n, err := s.jobs.MarkFailed(ctx, jobID, ref, errMsg)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	cur, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if !cur.ownedBy(ref) {
		return ErrStaleTask
	}
	return nil
}

// Status resolves a job id or a task ref to the caller's job.
func (s *Service) Status(ctx context.Context, userID uint64, idOrRef string) (*Job, error) {
	job, err := s.jobs.GetByID(ctx, idOrRef)
	if errors.Is(err, ErrJobNotFound) {
		job, err = s.jobs.GetByTaskRef(ctx, idOrRef)
	}
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *Service) JobForEntry(ctx context.Context, userID uint64, entryID string) (*Job, error) {
	job, err := s.jobs.GetByEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *Service) ListJobs(ctx context.Context, userID uint64, limit int) ([]Job, error) {
	if limit <= 0 || limit > maxJobList {
		limit = maxJobList
	}
	return s.jobs.ListByUser(ctx, userID, limit)
}

// PostMessage stores a follow-up user message on the entry's thread and
// dispatches the reply task. It returns the stored message and the task ref.
// The entry text is stored ahead of the first follow-up so it stays the
// thread's anchor.
func (s *Service) PostMessage(ctx context.Context, userID uint64, entryID, text string) (*conversation.Message, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, "", ErrEmptyMessage
	}
	entry, err := s.entries.GetEntry(ctx, entryID, userID)
	if err != nil {
		return nil, "", err
	}

	ref, err := s.newID()
	if err != nil {
		return nil, "", err
	}

	eid := entryID
	msg := &conversation.Message{
		UserID:  userID,
		EntryID: &eid,
		Role:    conversation.RoleUser,
		Content: text,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		messages := s.messages.WithTx(tx)
		if err := s.ensureAnchor(ctx, messages, entry); err != nil {
			return err
		}
		return messages.Append(ctx, msg)
	})
	if err != nil {
		return nil, "", err
	}

	if err := s.enq.Enqueue(ctx, tasks.KindReplyToThread, ref, userID, tasks.ReplyArgs{UserID: userID, EntryID: entryID}); err != nil {
		logging.Ctx(ctx, s.log).Error().Err(err).Str("entry_id", entryID).Msg("dispatch reply")
		return nil, "", fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	return msg, ref, nil
}

// Thread returns one page of the entry's messages and the total count.
func (s *Service) Thread(ctx context.Context, userID uint64, entryID string, limit, offset int) ([]conversation.Message, int64, error) {
	if _, err := s.entries.GetEntry(ctx, entryID, userID); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = DefaultThreadLimit
	}
	if limit > MaxThreadLimit {
		limit = MaxThreadLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.messages.ListThread(ctx, userID, entryID, limit, offset)
}

// DeleteEntry removes the entry together with its job and messages.
func (s *Service) DeleteEntry(ctx context.Context, userID uint64, entryID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.entries.WithTx(tx).DeleteEntry(ctx, entryID, userID); err != nil {
			return err
		}
		if _, err := s.messages.WithTx(tx).PurgeEntry(ctx, userID, entryID); err != nil {
			return err
		}
		return s.jobs.WithTx(tx).DeleteByEntry(ctx, entryID)
	})
}

// ensureAnchor stores the entry text when the thread has no user message yet.
func (s *Service) ensureAnchor(ctx context.Context, messages *conversation.Store, entry *journal.Entry) error {
	n, err := messages.CountRole(ctx, entry.UserID, entry.ID, conversation.RoleUser)
	if err != nil || n > 0 {
		return err
	}
	_, err = messages.AppendUserIfAbsent(ctx, entry.UserID, entry.ID, entry.Content)
	return err
}
