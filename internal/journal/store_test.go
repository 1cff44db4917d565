package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/suPer8Hu/oneiros/internal/testdb"
)

func TestCreateEntry_DefaultTitleAndOwnership(t *testing.T) {
	db := testdb.Open(t, &User{}, &Entry{})
	s := NewStore(db, 0)
	ctx := context.Background()

	e, err := s.CreateEntry(ctx, 7, "", "  I was flying over a dark sea  ")
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if e.Title != "I was flying ove..." {
		t.Fatalf("unexpected default title %q", e.Title)
	}
	if e.Content != "I was flying over a dark sea" {
		t.Fatalf("content not trimmed: %q", e.Content)
	}

	if _, err := s.GetEntry(ctx, e.ID, 7); err != nil {
		t.Fatalf("get own entry: %v", err)
	}
	if _, err := s.GetEntry(ctx, e.ID, 8); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound for foreign owner, got %v", err)
	}
}

func TestCreateEntry_RejectsEmpty(t *testing.T) {
	db := testdb.Open(t, &Entry{})
	s := NewStore(db, 0)

	if _, err := s.CreateEntry(context.Background(), 1, "t", "   "); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
}

func TestCreateEntry_DailyLimit(t *testing.T) {
	db := testdb.Open(t, &Entry{})
	s := NewStore(db, 2)
	s.now = func() time.Time { return time.Now().UTC() }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := s.CreateEntry(ctx, 3, "", "dream"); err != nil {
			t.Fatalf("create entry %d: %v", i, err)
		}
	}
	if _, err := s.CreateEntry(ctx, 3, "", "dream"); !errors.Is(err, ErrDailyLimit) {
		t.Fatalf("expected ErrDailyLimit, got %v", err)
	}
	// other users are unaffected
	if _, err := s.CreateEntry(ctx, 4, "", "dream"); err != nil {
		t.Fatalf("create entry for other user: %v", err)
	}
}

func TestListEntries_AscendingByCreation(t *testing.T) {
	db := testdb.Open(t, &Entry{})
	s := NewStore(db, 0)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	seed := []Entry{
		{ID: "01J00000000000000000000003", UserID: 1, Content: "third", CreatedAt: base.Add(2 * time.Hour)},
		{ID: "01J00000000000000000000001", UserID: 1, Content: "first", CreatedAt: base},
		{ID: "01J00000000000000000000002", UserID: 1, Content: "second", CreatedAt: base.Add(time.Hour)},
		{ID: "01J00000000000000000000009", UserID: 2, Content: "foreign", CreatedAt: base},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	got, err := s.ListEntries(ctx, 1)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	for i, want := range []string{"first", "second", "third"} {
		if got[i].Content != want {
			t.Fatalf("entry %d: want %q got %q", i, want, got[i].Content)
		}
	}
}

func TestDeleteEntry_OwnerOnly(t *testing.T) {
	db := testdb.Open(t, &Entry{})
	s := NewStore(db, 0)
	ctx := context.Background()

	e, err := s.CreateEntry(ctx, 1, "", "dream")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.DeleteEntry(ctx, e.ID, 2); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
	if err := s.DeleteEntry(ctx, e.ID, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetEntry(ctx, e.ID, 1); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected entry gone, got %v", err)
	}
}

func TestGetUser(t *testing.T) {
	db := testdb.Open(t, &User{})
	s := NewStore(db, 0)
	ctx := context.Background()

	desc := "night-shift nurse"
	if err := s.UpsertUser(ctx, &User{ID: 5, SelfDescription: &desc}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	u, err := s.GetUser(ctx, 5)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.SelfDescription == nil || *u.SelfDescription != desc {
		t.Fatalf("unexpected self description %v", u.SelfDescription)
	}
	if _, err := s.GetUser(ctx, 6); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUpdateEntry(t *testing.T) {
	db := testdb.Open(t, &Entry{})
	s := NewStore(db, 0)
	ctx := context.Background()

	e, err := s.CreateEntry(ctx, 1, "old", "a grey city")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	content := "  a grey city under water  "
	got, err := s.UpdateEntry(ctx, e.ID, 1, nil, &content)
	if err != nil {
		t.Fatalf("update content: %v", err)
	}
	if got.Content != "a grey city under water" || got.Title != "old" {
		t.Fatalf("unexpected entry after update: %+v", got)
	}

	empty := ""
	got, err = s.UpdateEntry(ctx, e.ID, 1, &empty, nil)
	if err != nil {
		t.Fatalf("clear title: %v", err)
	}
	if got.Title != "a grey city unde..." {
		t.Fatalf("expected preview title, got %q", got.Title)
	}

	blank := "   "
	if _, err := s.UpdateEntry(ctx, e.ID, 1, nil, &blank); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	long := strings.Repeat("t", 101)
	if _, err := s.UpdateEntry(ctx, e.ID, 1, &long, nil); !errors.Is(err, ErrTitleTooLong) {
		t.Fatalf("expected ErrTitleTooLong, got %v", err)
	}
	if _, err := s.UpdateEntry(ctx, e.ID, 2, nil, &content); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound for foreign owner, got %v", err)
	}
}

func TestSearchEntries_CaseInsensitiveNewestFirst(t *testing.T) {
	db := testdb.Open(t, &Entry{})
	s := NewStore(db, 0)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	seed := []Entry{
		{ID: "01J00000000000000000000001", UserID: 1, Title: "Ocean", Content: "waves", CreatedAt: base},
		{ID: "01J00000000000000000000002", UserID: 1, Title: "t", Content: "an OCEAN of sand", CreatedAt: base.Add(time.Hour)},
		{ID: "01J00000000000000000000003", UserID: 1, Title: "t", Content: "100% lucid", CreatedAt: base.Add(2 * time.Hour)},
		{ID: "01J00000000000000000000004", UserID: 2, Title: "ocean", Content: "foreign", CreatedAt: base},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	got, err := s.SearchEntries(ctx, 1, "ocean")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 || got[0].ID != seed[1].ID || got[1].ID != seed[0].ID {
		t.Fatalf("unexpected search result: %+v", got)
	}

	// wildcards are literal
	got, err = s.SearchEntries(ctx, 1, "%")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ID != seed[2].ID {
		t.Fatalf("expected only the entry containing %%, got %+v", got)
	}
}

func TestStats(t *testing.T) {
	db := testdb.Open(t, &Entry{})
	s := NewStore(db, 0)
	s.now = func() time.Time { return time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC) } // a Wednesday
	ctx := context.Background()

	empty, err := s.Stats(ctx, 1)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if empty.TotalEntries != 0 || empty.StreakDays != 0 || empty.AvgTimeOfDay != nil || len(empty.EntriesByWeekday) != 7 {
		t.Fatalf("unexpected empty stats: %+v", empty)
	}

	stamps := []time.Time{
		time.Date(2025, 1, 8, 6, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 7, 8, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 6, 7, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 3, 9, 0, 0, 0, time.UTC),
	}
	for i, at := range stamps {
		e := Entry{ID: fmt.Sprintf("01J0000000000000000000000%d", i), UserID: 1, Content: "x", CreatedAt: at}
		if err := db.Create(&e).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	st, err := s.Stats(ctx, 1)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalEntries != 4 {
		t.Fatalf("total: want 4 got %d", st.TotalEntries)
	}
	if st.StreakDays != 3 {
		t.Fatalf("streak: want 3 got %d", st.StreakDays)
	}
	if st.AvgTimeOfDay == nil || *st.AvgTimeOfDay != "07:30" {
		t.Fatalf("avg time: got %v", st.AvgTimeOfDay)
	}
	want := map[string]int{"Mon": 1, "Tue": 1, "Wed": 1, "Thu": 0, "Fri": 1, "Sat": 0, "Sun": 0}
	for d, n := range want {
		if st.EntriesByWeekday[d] != n {
			t.Fatalf("%s: want %d got %d", d, n, st.EntriesByWeekday[d])
		}
	}
}
