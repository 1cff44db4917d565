package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/oneiros/internal/ai"
	"github.com/suPer8Hu/oneiros/internal/conversation"
	"github.com/suPer8Hu/oneiros/internal/journal"
	"github.com/suPer8Hu/oneiros/internal/metrics"
	"github.com/suPer8Hu/oneiros/internal/prompts"
	"github.com/suPer8Hu/oneiros/internal/tasks"
)

const slowJob = 2 * time.Second

// Processor is the background worker logic behind the task kinds.
type Processor struct {
	svc          *Service
	entries      *journal.Store
	messages     *conversation.Store
	assembler    *conversation.Assembler
	provider     ai.Provider
	modelTimeout time.Duration
	log          zerolog.Logger
}

func NewProcessor(
	svc *Service,
	entries *journal.Store,
	messages *conversation.Store,
	assembler *conversation.Assembler,
	provider ai.Provider,
	modelTimeout time.Duration,
	log zerolog.Logger,
) *Processor {
	return &Processor{
		svc:          svc,
		entries:      entries,
		messages:     messages,
		assembler:    assembler,
		provider:     provider,
		modelTimeout: modelTimeout,
		log:          log,
	}
}

// Handlers registers the processor for every task kind.
func (p *Processor) Handlers() tasks.Handlers {
	return tasks.Handlers{
		tasks.KindInterpretEntry: p.Interpret,
		tasks.KindReplyToThread:  p.ReplyToThread,
	}
}

// Interpret runs one interpretation job end to end. Every failure after the
// job is claimed leaves it failed with a public error, unless a newer task has
// taken the job over.
func (p *Processor) Interpret(ctx context.Context, env tasks.Envelope) (string, error) {
	args, err := env.InterpretArgs()
	if err != nil {
		return "", err
	}
	ref := env.TaskID
	log := p.log.With().Str("job_id", args.JobID).Str("task_ref", ref).Int("attempt", env.Attempt).Logger()

	jobStart := time.Now()

	t0 := time.Now()
	job, err := p.svc.BeginProcessing(ctx, args.JobID, ref)
	beginCost := time.Since(t0)
	switch {
	case errors.Is(err, ErrStaleTask):
		return "", stale(err)
	case errors.Is(err, ErrJobNotFound):
		return "", notFound("Interpretation not found", err)
	case err != nil:
		return "", internal(err)
	}
	if job.Status == JobCompleted && job.Result != nil {
		log.Info().Msg("job already completed, duplicate delivery")
		return *job.Result, nil
	}

	entry, err := p.entries.GetEntry(ctx, job.EntryID, job.UserID)
	if err != nil {
		if errors.Is(err, journal.ErrEntryNotFound) {
			return "", p.fail(ctx, log, job, ref, notFound("Entry not found", err))
		}
		return "", p.fail(ctx, log, job, ref, internal(err))
	}
	user, err := p.entries.GetUser(ctx, job.UserID)
	if err != nil {
		if errors.Is(err, journal.ErrUserNotFound) {
			return "", p.fail(ctx, log, job, ref, notFound("User not found", err))
		}
		return "", p.fail(ctx, log, job, ref, internal(err))
	}

	if _, err := p.messages.AppendUserIfAbsent(ctx, job.UserID, job.EntryID, entry.Content); err != nil {
		return "", p.fail(ctx, log, job, ref, internal(err))
	}

	t1 := time.Now()
	msgs, st, err := p.assembler.Build(ctx, job.UserID, job.EntryID, prompts.System(selfDescription(user)))
	buildCost := time.Since(t1)
	if err != nil {
		return "", p.fail(ctx, log, job, ref, internal(err))
	}

	t2 := time.Now()
	reply, err := p.chat(ctx, msgs)
	genCost := time.Since(t2)
	if err != nil {
		log.Warn().Err(err).Dur("gen", genCost).Msg("model gateway call failed")
		return "", p.fail(ctx, log, job, ref, gatewayError(err))
	}

	t3 := time.Now()
	if err := p.svc.Complete(ctx, job, ref, reply); err != nil {
		if errors.Is(err, ErrStaleTask) {
			return "", stale(err)
		}
		if errors.Is(err, ErrJobNotFound) {
			return "", notFound("Interpretation not found", err)
		}
		return "", internal(err)
	}
	completeCost := time.Since(t3)

	if total := time.Since(jobStart); total > slowJob {
		log.Info().
			Dur("begin", beginCost).
			Dur("build", buildCost).
			Dur("gen", genCost).
			Dur("complete", completeCost).
			Dur("total", total).
			Int("context_chars", st.Chars).
			Int("anchors_dropped", st.AnchorsDropped).
			Msg("job_timing")
	}
	return reply, nil
}

// ReplyToThread answers the latest follow-up on an entry. The user message is
// already stored; job state is not touched.
func (p *Processor) ReplyToThread(ctx context.Context, env tasks.Envelope) (string, error) {
	args, err := env.ReplyArgs()
	if err != nil {
		return "", err
	}
	log := p.log.With().Str("entry_id", args.EntryID).Str("task_ref", env.TaskID).Int("attempt", env.Attempt).Logger()

	if _, err := p.entries.GetEntry(ctx, args.EntryID, args.UserID); err != nil {
		if errors.Is(err, journal.ErrEntryNotFound) {
			return "", notFound("Entry not found", err)
		}
		return "", internal(err)
	}
	user, err := p.entries.GetUser(ctx, args.UserID)
	if err != nil {
		if errors.Is(err, journal.ErrUserNotFound) {
			return "", notFound("User not found", err)
		}
		return "", internal(err)
	}

	msgs, _, err := p.assembler.Build(ctx, args.UserID, args.EntryID, prompts.System(selfDescription(user)))
	if err != nil {
		return "", internal(err)
	}

	start := time.Now()
	reply, err := p.chat(ctx, msgs)
	if err != nil {
		log.Warn().Err(err).Dur("gen", time.Since(start)).Msg("model gateway call failed")
		return "", gatewayError(err)
	}

	eid := args.EntryID
	if err := p.messages.Append(ctx, &conversation.Message{
		UserID:  args.UserID,
		EntryID: &eid,
		Role:    conversation.RoleAssistant,
		Content: reply,
	}); err != nil {
		return "", internal(err)
	}
	return reply, nil
}

func (p *Processor) chat(ctx context.Context, msgs []ai.Message) (string, error) {
	if p.modelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.modelTimeout)
		defer cancel()
	}
	start := time.Now()
	reply, err := p.provider.Chat(ctx, msgs)
	metrics.ObserveGateway(ai.ProviderName(p.provider), time.Since(start), err == nil)
	return reply, err
}

// fail records te on the job and returns it, or a stale error when a newer
// task owns the job.
func (p *Processor) fail(ctx context.Context, log zerolog.Logger, job *Job, ref string, te *TaskError) error {
	if err := p.svc.Fail(ctx, job.ID, ref, te.Public); err != nil {
		if errors.Is(err, ErrStaleTask) {
			return stale(err)
		}
		log.Error().Err(err).Str("kind", string(te.Kind)).Msg("mark job failed")
	}
	return te
}

func selfDescription(u *journal.User) string {
	if u == nil || u.SelfDescription == nil {
		return ""
	}
	return *u.SelfDescription
}
