package conversation

import (
	"context"
	"unicode/utf8"

	"github.com/suPer8Hu/oneiros/internal/ai"
	"github.com/suPer8Hu/oneiros/internal/journal"
	"github.com/suPer8Hu/oneiros/internal/metrics"
	"github.com/suPer8Hu/oneiros/internal/prompts"
)

const (
	DefaultCharBudget  = 28000
	DefaultFollowUpCap = 20
)

// Limits bounds an assembled context. Character counts are in runes.
type Limits struct {
	CharBudget  int
	FollowUpCap int
}

func (l Limits) normalized() Limits {
	if l.CharBudget <= 0 {
		l.CharBudget = DefaultCharBudget
	}
	if l.FollowUpCap <= 0 {
		l.FollowUpCap = DefaultFollowUpCap
	}
	return l
}

// Pair is the anchor of one entry: its first user message (already prefixed
// with the entry marker) and its first assistant message. Either may be
// missing.
type Pair struct {
	EntryID  string
	Messages []ai.Message
}

func (p Pair) chars() int { return chars(p.Messages) }

// Stats describes one assembled context.
type Stats struct {
	Chars          int
	AnchorsKept    int
	AnchorsDropped int
	FollowUps      int
}

// Assemble builds [system] + [kept anchors] + [follow-ups].
//
// The follow-up segment is capped by count only and is never trimmed for size.
// Anchors share what is left of the budget: they are considered newest entry
// first, and a pair that does not fit is skipped while older, smaller pairs
// may still be accepted. Kept pairs retain chronological order. Message
// content is never truncated.
func Assemble(system string, anchors []Pair, followUps []ai.Message, lim Limits) ([]ai.Message, Stats) {
	lim = lim.normalized()

	if len(followUps) > lim.FollowUpCap {
		followUps = followUps[len(followUps)-lim.FollowUpCap:]
	}

	systemChars := utf8.RuneCountInString(system)
	followChars := chars(followUps)

	remaining := lim.CharBudget - systemChars - followChars
	if remaining < 0 {
		remaining = 0
	}

	keep := make([]bool, len(anchors))
	used := 0
	var st Stats
	for i := len(anchors) - 1; i >= 0; i-- {
		if len(anchors[i].Messages) == 0 {
			continue
		}
		n := anchors[i].chars()
		if used+n > remaining {
			st.AnchorsDropped++
			continue
		}
		keep[i] = true
		used += n
		st.AnchorsKept++
	}

	out := make([]ai.Message, 0, 1+2*st.AnchorsKept+len(followUps))
	out = append(out, ai.Message{Role: ai.RoleSystem, Content: system})
	for i, p := range anchors {
		if keep[i] {
			out = append(out, p.Messages...)
		}
	}
	out = append(out, followUps...)

	st.Chars = systemChars + used + followChars
	st.FollowUps = len(followUps)
	return out, st
}

func chars(msgs []ai.Message) int {
	n := 0
	for _, m := range msgs {
		n += utf8.RuneCountInString(m.Content)
	}
	return n
}

// EntryLister lists a user's entries in ascending creation order.
type EntryLister interface {
	ListEntries(ctx context.Context, userID uint64) ([]journal.Entry, error)
}

// Assembler loads a user's history and assembles the model context for one
// current entry.
type Assembler struct {
	store   *Store
	entries EntryLister
	limits  Limits
}

func NewAssembler(store *Store, entries EntryLister, limits Limits) *Assembler {
	return &Assembler{store: store, entries: entries, limits: limits.normalized()}
}

// Build assembles the context for currentEntryID with system as the system
// segment.
func (a *Assembler) Build(ctx context.Context, userID uint64, currentEntryID, system string) ([]ai.Message, Stats, error) {
	entries, err := a.entries.ListEntries(ctx, userID)
	if err != nil {
		return nil, Stats{}, err
	}

	firsts, err := a.store.FirstMessages(ctx, userID)
	if err != nil {
		return nil, Stats{}, err
	}

	type firstPair struct{ user, assistant *Message }
	byEntry := make(map[string]*firstPair, len(entries))
	anchorIDs := make(map[uint64]struct{}, len(firsts))
	for i := range firsts {
		m := &firsts[i]
		if m.EntryID == nil {
			continue
		}
		fp := byEntry[*m.EntryID]
		if fp == nil {
			fp = &firstPair{}
			byEntry[*m.EntryID] = fp
		}
		switch m.Role {
		case RoleUser:
			fp.user = m
		case RoleAssistant:
			fp.assistant = m
		}
		if *m.EntryID == currentEntryID {
			anchorIDs[m.ID] = struct{}{}
		}
	}

	anchors := make([]Pair, 0, len(entries))
	for _, e := range entries {
		fp := byEntry[e.ID]
		if fp == nil {
			continue
		}
		p := Pair{EntryID: e.ID}
		if fp.user != nil {
			p.Messages = append(p.Messages, ai.Message{
				Role:    ai.RoleUser,
				Content: prompts.Anchor(fp.user.Content, e.CreatedAt, e.ID == currentEntryID),
			})
		}
		if fp.assistant != nil {
			p.Messages = append(p.Messages, ai.Message{Role: ai.RoleAssistant, Content: fp.assistant.Content})
		}
		if len(p.Messages) > 0 {
			anchors = append(anchors, p)
		}
	}

	current, err := a.store.EntryMessages(ctx, userID, currentEntryID)
	if err != nil {
		return nil, Stats{}, err
	}
	followUps := make([]ai.Message, 0, len(current))
	for _, m := range current {
		if _, ok := anchorIDs[m.ID]; ok {
			continue
		}
		followUps = append(followUps, ai.Message{Role: string(m.Role), Content: m.Content})
	}

	msgs, st := Assemble(system, anchors, followUps, a.limits)
	metrics.ObserveContext(st.Chars, st.AnchorsDropped)
	return msgs, st, nil
}
