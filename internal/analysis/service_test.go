package analysis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/oneiros/internal/ai"
	"github.com/suPer8Hu/oneiros/internal/conversation"
	"github.com/suPer8Hu/oneiros/internal/journal"
	"github.com/suPer8Hu/oneiros/internal/tasks"
	"github.com/suPer8Hu/oneiros/internal/testdb"
	"gorm.io/gorm"
)

type enqueued struct {
	kind  tasks.Kind
	ref   string
	owner uint64
	args  any
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	sent []enqueued
	err  error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, kind tasks.Kind, ref string, owner uint64, args any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, enqueued{kind: kind, ref: ref, owner: owner, args: args})
	return nil
}

func (f *fakeEnqueuer) last() enqueued {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

type recordingProvider struct {
	mu    sync.Mutex
	last  []ai.Message
	calls int
	reply func(call int) (string, error)
}

func (p *recordingProvider) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	// copy to avoid mutations
	p.last = append([]ai.Message(nil), messages...)
	p.mu.Unlock()
	if p.reply == nil {
		return "ok", nil
	}
	return p.reply(call)
}

type fixture struct {
	db       *gorm.DB
	svc      *Service
	proc     *Processor
	entries  *journal.Store
	messages *conversation.Store
	enq      *fakeEnqueuer
	prov     *recordingProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testdb.Open(t, &journal.User{}, &journal.Entry{}, &conversation.Message{}, &Job{})

	entries := journal.NewStore(db, 0)
	messages := conversation.NewStore(db)
	enq := &fakeEnqueuer{}
	prov := &recordingProvider{}

	svc := NewService(db, entries, messages, enq, zerolog.Nop())
	asm := conversation.NewAssembler(messages, entries, conversation.Limits{})
	proc := NewProcessor(svc, entries, messages, asm, prov, time.Second, zerolog.Nop())

	return &fixture{db: db, svc: svc, proc: proc, entries: entries, messages: messages, enq: enq, prov: prov}
}

func (f *fixture) user(t *testing.T, id uint64) {
	t.Helper()
	desc := "keeps a dream diary"
	require.NoError(t, f.entries.UpsertUser(context.Background(), &journal.User{ID: id, SelfDescription: &desc}))
}

func (f *fixture) entry(t *testing.T, userID uint64, content string) *journal.Entry {
	t.Helper()
	e, err := f.entries.CreateEntry(context.Background(), userID, "", content)
	require.NoError(t, err)
	return e
}

func (f *fixture) envelope(t *testing.T, e enqueued) tasks.Envelope {
	t.Helper()
	env, err := tasks.NewEnvelope(e.ref, e.kind, e.args)
	require.NoError(t, err)
	env.Owner = e.owner
	return env
}

func (f *fixture) thread(t *testing.T, userID uint64, entryID string) []conversation.Message {
	t.Helper()
	msgs, err := f.messages.EntryMessages(context.Background(), userID, entryID)
	require.NoError(t, err)
	return msgs
}

func (f *fixture) jobCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&Job{}).Count(&n).Error)
	return n
}

func TestSubmitAndInterpret_FirstInterpretation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1)
	e := f.entry(t, 1, "I walked through a house with endless rooms")
	f.prov.reply = func(int) (string, error) { return "The house is the self.", nil }

	job, err := f.svc.Submit(ctx, 1, e.ID)
	require.NoError(t, err)
	assert.Equal(t, JobPending, job.Status)
	require.NotNil(t, job.TaskRef)

	sent := f.enq.last()
	assert.Equal(t, tasks.KindInterpretEntry, sent.kind)
	assert.Equal(t, *job.TaskRef, sent.ref)
	assert.EqualValues(t, 1, sent.owner)
	assert.Equal(t, tasks.InterpretArgs{JobID: job.ID}, sent.args)

	out, err := f.proc.Interpret(ctx, f.envelope(t, sent))
	require.NoError(t, err)
	assert.Equal(t, "The house is the self.", out)

	got, err := f.svc.Status(ctx, 1, *job.TaskRef)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "The house is the self.", *got.Result)
	assert.Nil(t, got.Error)
	assert.NotNil(t, got.CompletedAt)

	msgs := f.thread(t, 1, e.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, conversation.RoleUser, msgs[0].Role)
	assert.Equal(t, e.Content, msgs[0].Content)
	assert.Equal(t, conversation.RoleAssistant, msgs[1].Role)

	// system segment carries the user's self description, then the current anchor
	require.Len(t, f.prov.last, 2)
	assert.Contains(t, f.prov.last[0].Content, "USER CONTEXT: keeps a dream diary")
	assert.True(t, strings.HasPrefix(f.prov.last[1].Content, "[Current dream of "))
}

func TestInterpret_DuplicateDeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1)
	e := f.entry(t, 1, "a locked door")

	_, err := f.svc.Submit(ctx, 1, e.ID)
	require.NoError(t, err)
	env := f.envelope(t, f.enq.last())

	first, err := f.proc.Interpret(ctx, env)
	require.NoError(t, err)
	second, err := f.proc.Interpret(ctx, env.Next())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.prov.calls)
	assert.Len(t, f.thread(t, 1, e.ID), 2)
}

func TestResubmission_LaterTaskWins(t *testing.T) {
	for _, order := range []string{"old-first", "new-first"} {
		t.Run(order, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.user(t, 1)
			e := f.entry(t, 1, "a wolf at the window")

			j1, err := f.svc.Submit(ctx, 1, e.ID)
			require.NoError(t, err)
			oldTask := f.envelope(t, f.enq.last())

			j2, err := f.svc.Submit(ctx, 1, e.ID)
			require.NoError(t, err)
			newTask := f.envelope(t, f.enq.last())

			assert.Equal(t, j1.ID, j2.ID)
			assert.NotEqual(t, oldTask.TaskID, newTask.TaskID)
			assert.EqualValues(t, 1, f.jobCount(t))

			f.prov.reply = func(int) (string, error) { return "reading", nil }

			run := func(env tasks.Envelope) error {
				_, err := f.proc.Interpret(ctx, env)
				return err
			}
			var oldErr error
			if order == "old-first" {
				oldErr = run(oldTask)
				require.NoError(t, run(newTask))
			} else {
				require.NoError(t, run(newTask))
				oldErr = run(oldTask)
			}

			var te *TaskError
			require.ErrorAs(t, oldErr, &te)
			assert.True(t, te.Superseded())

			got, err := f.svc.Status(ctx, 1, j1.ID)
			require.NoError(t, err)
			assert.Equal(t, JobCompleted, got.Status)
			assert.Equal(t, newTask.TaskID, *got.TaskRef)
			assert.Len(t, f.thread(t, 1, e.ID), 2)
			assert.Equal(t, 1, f.prov.calls)
		})
	}
}

func TestResubmission_PurgesThreadAndGuardsInFlightTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1)
	e := f.entry(t, 1, "the sea rising")

	_, err := f.svc.Submit(ctx, 1, e.ID)
	require.NoError(t, err)
	first := f.envelope(t, f.enq.last())
	_, err = f.proc.Interpret(ctx, first)
	require.NoError(t, err)
	_, _, err = f.svc.PostMessage(ctx, 1, e.ID, "why the sea?")
	require.NoError(t, err)
	require.Len(t, f.thread(t, 1, e.ID), 3)

	// a second task claims the job, then the user resubmits before it finishes
	_, err = f.svc.Submit(ctx, 1, e.ID)
	require.NoError(t, err)
	inFlight := f.enq.last().ref
	job, err := f.svc.BeginProcessing(ctx, f.enq.last().args.(tasks.InterpretArgs).JobID, inFlight)
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, 1, e.ID)
	require.NoError(t, err)
	msgs := f.thread(t, 1, e.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, e.Content, msgs[0].Content)

	err = f.svc.Complete(ctx, job, inFlight, "stale reading")
	assert.ErrorIs(t, err, ErrStaleTask)
	err = f.svc.Fail(ctx, job.ID, inFlight, "late failure")
	assert.ErrorIs(t, err, ErrStaleTask)

	got, err := f.svc.Status(ctx, 1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobPending, got.Status)
	assert.Nil(t, got.Result)
	assert.Nil(t, got.Error)
	assert.Len(t, f.thread(t, 1, e.ID), 1)
}

func TestReplyToThread_FollowUpSegment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1)
	e := f.entry(t, 1, "a staircase to nowhere")

	_, err := f.svc.Submit(ctx, 1, e.ID)
	require.NoError(t, err)
	_, err = f.proc.Interpret(ctx, f.envelope(t, f.enq.last()))
	require.NoError(t, err)

	var last enqueued
	for _, q := range []string{"q1", "q2", "q3"} {
		msg, ref, err := f.svc.PostMessage(ctx, 1, e.ID, q)
		require.NoError(t, err)
		assert.Equal(t, q, msg.Content)
		last = f.enq.last()
		assert.Equal(t, ref, last.ref)
		assert.Equal(t, tasks.KindReplyToThread, last.kind)
	}

	f.prov.reply = func(int) (string, error) { return "short answer", nil }
	out, err := f.proc.ReplyToThread(ctx, f.envelope(t, last))
	require.NoError(t, err)
	assert.Equal(t, "short answer", out)

	// system, 2 anchors, 3 follow-ups
	require.Len(t, f.prov.last, 6)
	assert.Equal(t, ai.RoleAssistant, f.prov.last[2].Role)
	assert.Equal(t, "ok", f.prov.last[2].Content)
	for i, q := range []string{"q1", "q2", "q3"} {
		assert.Equal(t, q, f.prov.last[3+i].Content)
	}

	msgs := f.thread(t, 1, e.ID)
	require.Len(t, msgs, 6)
	assert.Equal(t, "short answer", msgs[5].Content)

	job, err := f.svc.JobForEntry(ctx, 1, e.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, job.Status)
}

func TestInterpret_GatewayTimeoutFailsJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1)
	e := f.entry(t, 1, "running in slow motion")

	f.proc.modelTimeout = 20 * time.Millisecond
	f.prov.reply = nil
	slow := &blockingProvider{}
	f.proc.provider = slow

	job, err := f.svc.Submit(ctx, 1, e.ID)
	require.NoError(t, err)

	_, err = f.proc.Interpret(ctx, f.envelope(t, f.enq.last()))
	var te *TaskError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindGatewayTransient, te.Kind)
	assert.True(t, te.Retryable())

	got, err := f.svc.Status(ctx, 1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.NotEmpty(t, *got.Error)
	assert.Nil(t, got.Result)

	msgs := f.thread(t, 1, e.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, conversation.RoleUser, msgs[0].Role)
}

type blockingProvider struct{}

func (blockingProvider) Chat(ctx context.Context, _ []ai.Message) (string, error) {
	<-ctx.Done()
	return "", &ai.Error{Provider: "fake", Retryable: true, Err: ctx.Err()}
}

func TestInterpret_RetryAfterFailureDoesNotDuplicateUserMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1)
	e := f.entry(t, 1, "teeth falling out")
	f.prov.reply = func(call int) (string, error) {
		if call == 1 {
			return "", &ai.Error{Provider: "fake", StatusCode: 503, Retryable: true, Err: errors.New("unavailable")}
		}
		return "anxiety about appearance", nil
	}

	_, err := f.svc.Submit(ctx, 1, e.ID)
	require.NoError(t, err)
	env := f.envelope(t, f.enq.last())

	_, err = f.proc.Interpret(ctx, env)
	require.Error(t, err)

	out, err := f.proc.Interpret(ctx, env.Next())
	require.NoError(t, err)
	assert.Equal(t, "anxiety about appearance", out)

	msgs := f.thread(t, 1, e.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, conversation.RoleUser, msgs[0].Role)
	assert.Equal(t, conversation.RoleAssistant, msgs[1].Role)
}

func TestInterpret_PermanentGatewayErrorAndMissingUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// no profile row for user 2
	e := f.entry(t, 2, "a missing person")
	job, err := f.svc.Submit(ctx, 2, e.ID)
	require.NoError(t, err)

	_, err = f.proc.Interpret(ctx, f.envelope(t, f.enq.last()))
	var te *TaskError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindNotFound, te.Kind)
	assert.False(t, te.Retryable())

	got, err := f.svc.Status(ctx, 2, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, got.Status)
	assert.Equal(t, "User not found", *got.Error)

	f.user(t, 2)
	f.prov.reply = func(int) (string, error) { return "", ai.ErrEmptyResponse }
	_, err = f.svc.Submit(ctx, 2, e.ID)
	require.NoError(t, err)

	_, err = f.proc.Interpret(ctx, f.envelope(t, f.enq.last()))
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindGatewayPermanent, te.Kind)
	assert.False(t, te.Retryable())
}

func TestSubmit_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1)
	e := f.entry(t, 1, "a bridge")

	_, err := f.svc.Submit(ctx, 2, e.ID)
	assert.ErrorIs(t, err, journal.ErrEntryNotFound)

	// a job row owned by someone else is a conflict
	ref := "01FOREIGNREF0000000000000A"
	require.NoError(t, f.db.Create(&Job{ID: "01FOREIGNJOB0000000000000A", EntryID: e.ID, UserID: 9, Status: JobCompleted, TaskRef: &ref}).Error)
	_, err = f.svc.Submit(ctx, 1, e.ID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSubmit_DispatchFailureMarksJobFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1)
	e := f.entry(t, 1, "an empty station")
	f.enq.err = errors.New("broker down")

	_, err := f.svc.Submit(ctx, 1, e.ID)
	require.ErrorIs(t, err, ErrDispatch)

	job, err := f.svc.JobForEntry(ctx, 1, e.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, job.Status)
	require.NotNil(t, job.Error)
}

func TestStatusAndListOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1)
	a := f.entry(t, 1, "first")
	b := f.entry(t, 1, "second")

	ja, err := f.svc.Submit(ctx, 1, a.ID)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, 1, b.ID)
	require.NoError(t, err)

	_, err = f.svc.Status(ctx, 2, ja.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = f.svc.Status(ctx, 1, "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = f.svc.JobForEntry(ctx, 2, a.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)

	jobs, err := f.svc.ListJobs(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestThreadAndPostMessageValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1)
	e := f.entry(t, 1, "a flood")

	_, _, err := f.svc.PostMessage(ctx, 1, e.ID, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, _, err = f.svc.PostMessage(ctx, 2, e.ID, "hi")
	assert.ErrorIs(t, err, journal.ErrEntryNotFound)

	for i := 0; i < 3; i++ {
		_, _, err := f.svc.PostMessage(ctx, 1, e.ID, "msg")
		require.NoError(t, err)
	}
	// entry text first, then the follow-ups
	page, total, err := f.svc.Thread(ctx, 1, e.ID, 0, -5)
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	require.Len(t, page, 4)
	assert.Equal(t, "a flood", page[0].Content)

	_, _, err = f.svc.Thread(ctx, 2, e.ID, 10, 0)
	assert.ErrorIs(t, err, journal.ErrEntryNotFound)
}

func TestDeleteEntry_Cascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1)
	e := f.entry(t, 1, "a burning tree")
	keep := f.entry(t, 1, "a quiet lake")

	_, err := f.svc.Submit(ctx, 1, e.ID)
	require.NoError(t, err)
	env := f.envelope(t, f.enq.last())
	_, err = f.proc.Interpret(ctx, env)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, 1, keep.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeleteEntry(ctx, 2, e.ID), journal.ErrEntryNotFound)
	require.NoError(t, f.svc.DeleteEntry(ctx, 1, e.ID))

	_, err = f.svc.JobForEntry(ctx, 1, e.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.Empty(t, f.thread(t, 1, e.ID))
	assert.EqualValues(t, 1, f.jobCount(t))

	// a redelivered task for the deleted job has nothing to do
	_, err = f.proc.Interpret(ctx, env.Next())
	var te *TaskError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindNotFound, te.Kind)
}

func TestInterpret_FollowUpWhilePendingKeepsEntryAsAnchor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1)
	e := f.entry(t, 1, "a crow on the windowsill")

	_, err := f.svc.Submit(ctx, 1, e.ID)
	require.NoError(t, err)
	interpret := f.envelope(t, f.enq.last())

	// the user asks before the interpretation ran
	_, _, err = f.svc.PostMessage(ctx, 1, e.ID, "is it a bad omen?")
	require.NoError(t, err)

	f.prov.reply = func(int) (string, error) { return "crows stand for change", nil }
	_, err = f.proc.Interpret(ctx, interpret)
	require.NoError(t, err)

	require.Len(t, f.prov.last, 3)
	assert.True(t, strings.HasPrefix(f.prov.last[1].Content, "[Current dream of "))
	assert.True(t, strings.HasSuffix(f.prov.last[1].Content, "\na crow on the windowsill"))
	assert.Equal(t, "is it a bad omen?", f.prov.last[2].Content)

	msgs := f.thread(t, 1, e.ID)
	require.Len(t, msgs, 3)
	assert.Equal(t, "a crow on the windowsill", msgs[0].Content)
	assert.Equal(t, "is it a bad omen?", msgs[1].Content)
	assert.Equal(t, conversation.RoleAssistant, msgs[2].Role)
}

func TestPostMessage_WithoutSubmissionStoresEntryFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1)
	e := f.entry(t, 1, "a silent choir")

	_, _, err := f.svc.PostMessage(ctx, 1, e.ID, "why silent?")
	require.NoError(t, err)
	_, _, err = f.svc.PostMessage(ctx, 1, e.ID, "and why a choir?")
	require.NoError(t, err)

	msgs := f.thread(t, 1, e.ID)
	require.Len(t, msgs, 3)
	assert.Equal(t, "a silent choir", msgs[0].Content)
	assert.Equal(t, "why silent?", msgs[1].Content)
	assert.Equal(t, "and why a choir?", msgs[2].Content)

	_, err = f.proc.ReplyToThread(ctx, f.envelope(t, f.enq.last()))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(f.prov.last[1].Content, "\na silent choir"))
}

type memResults struct {
	mu sync.Mutex
	m  map[string]tasks.Result
}

func (s *memResults) Set(_ context.Context, ref string, r tasks.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = map[string]tasks.Result{}
	}
	s.m[ref] = r
	return nil
}

func (s *memResults) Get(_ context.Context, ref string) (*tasks.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.m[ref]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func TestReplyToThread_RedeliveryDoesNotDuplicateReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, 1)
	e := f.entry(t, 1, "a door in the ocean")

	_, err := f.svc.Submit(ctx, 1, e.ID)
	require.NoError(t, err)
	_, err = f.proc.Interpret(ctx, f.envelope(t, f.enq.last()))
	require.NoError(t, err)

	_, _, err = f.svc.PostMessage(ctx, 1, e.ID, "where does it lead?")
	require.NoError(t, err)
	env := f.envelope(t, f.enq.last())

	results := &memResults{}
	runner := tasks.NewRunner(f.proc.Handlers(), results, 3, zerolog.Nop())
	f.prov.reply = func(int) (string, error) { return "inward", nil }

	// the broker hands the same delivery over twice, e.g. after a lost ack
	assert.Equal(t, tasks.Ack, runner.Run(ctx, env))
	assert.Equal(t, tasks.Ack, runner.Run(ctx, env))

	assert.Equal(t, 2, f.prov.calls)
	msgs := f.thread(t, 1, e.ID)
	require.Len(t, msgs, 4)
	assert.Equal(t, "inward", msgs[3].Content)

	got, err := results.Get(ctx, env.TaskID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tasks.StateSuccess, got.Status)
	assert.EqualValues(t, 1, got.Owner)
}
