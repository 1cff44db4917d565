package journal

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/suPer8Hu/oneiros/internal/common"
	"gorm.io/gorm"
)

var (
	ErrEntryNotFound = errors.New("entry not found")
	ErrUserNotFound  = errors.New("user not found")
	ErrDailyLimit    = errors.New("daily entry limit reached")
	ErrEmptyContent  = errors.New("entry content is empty")
	ErrTitleTooLong  = errors.New("entry title is too long")
)

const (
	titlePreviewRunes = 16
	maxTitleRunes     = 100
)

type Store struct {
	db          *gorm.DB
	perDayLimit int
	now         func() time.Time
}

func NewStore(db *gorm.DB, perDayLimit int) *Store {
	return &Store{db: db, perDayLimit: perDayLimit, now: time.Now}
}

// WithTx returns a Store bound to tx.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx, perDayLimit: s.perDayLimit, now: s.now}
}

func (s *Store) GetUser(ctx context.Context, id uint64) (*User, error) {
	var u User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// UpsertUser creates the profile row or updates its mutable fields.
func (s *Store) UpsertUser(ctx context.Context, u *User) error {
	return s.db.WithContext(ctx).Save(u).Error
}

// CreateEntry stores a new entry for userID. A positive per-day limit caps the
// number of entries created since the start of the current UTC day.
func (s *Store) CreateEntry(ctx context.Context, userID uint64, title, content string) (*Entry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	if s.perDayLimit > 0 {
		n, err := s.CountEntriesSince(ctx, userID, startOfDay(s.now()))
		if err != nil {
			return nil, err
		}
		if n >= int64(s.perDayLimit) {
			return nil, ErrDailyLimit
		}
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultTitle(content)
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		return nil, ErrTitleTooLong
	}

	e := &Entry{
		ID:      id,
		UserID:  userID,
		Title:   title,
		Content: content,
	}
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return nil, err
	}
	return e, nil
}

// GetEntry returns the entry only when it belongs to owner.
func (s *Store) GetEntry(ctx context.Context, id string, owner uint64) (*Entry, error) {
	var e Entry
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, owner).
		First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return &e, nil
}

// ListEntries returns every entry of userID in ASC creation order.
func (s *Store) ListEntries(ctx context.Context, userID uint64) ([]Entry, error) {
	var out []Entry
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateEntry changes the title and/or content of owner's entry. Nil fields
// are left as they are; an empty title falls back to the content preview.
func (s *Store) UpdateEntry(ctx context.Context, id string, owner uint64, title, content *string) (*Entry, error) {
	e, err := s.GetEntry(ctx, id, owner)
	if err != nil {
		return nil, err
	}

	if content != nil {
		c := strings.TrimSpace(*content)
		if c == "" {
			return nil, ErrEmptyContent
		}
		e.Content = c
	}
	if title != nil {
		t := strings.TrimSpace(*title)
		if t == "" {
			t = defaultTitle(e.Content)
		}
		if utf8.RuneCountInString(t) > maxTitleRunes {
			return nil, ErrTitleTooLong
		}
		e.Title = t
	}

	err = s.db.WithContext(ctx).Model(e).
		Select("title", "content", "updated_at").
		Updates(&Entry{Title: e.Title, Content: e.Content, UpdatedAt: s.now().UTC()}).Error
	if err != nil {
		return nil, err
	}
	return s.GetEntry(ctx, id, owner)
}

// SearchEntries returns owner's entries whose title or content contains q,
// ignoring case, newest first.
func (s *Store) SearchEntries(ctx context.Context, userID uint64, q string) ([]Entry, error) {
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(q))) + "%"
	var out []Entry
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("(LOWER(title) LIKE ? ESCAPE '!' OR LOWER(content) LIKE ? ESCAPE '!')", pattern, pattern).
		Order("created_at DESC").
		Order("id DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CountEntriesSince(ctx context.Context, userID uint64, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Entry{}).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Count(&n).Error
	return n, err
}

// DeleteEntry removes the entry row only. Callers cascade dependent rows.
func (s *Store) DeleteEntry(ctx context.Context, id string, owner uint64) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, owner).
		Delete(&Entry{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func escapeLike(q string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(q)
}

func defaultTitle(content string) string {
	r := []rune(content)
	if len(r) <= titlePreviewRunes {
		return content
	}
	return string(r[:titlePreviewRunes]) + "..."
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
