package conversation

import (
	"context"

	"gorm.io/gorm"
)

// Store is the append-only log of exchanged messages.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a Store bound to tx.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

func (s *Store) Append(ctx context.Context, m *Message) error {
	return s.db.WithContext(ctx).Create(m).Error
}

// AppendUserIfAbsent inserts a user message with content for the entry unless
// an identical one is already stored. The returned bool reports whether a row
// was written.
func (s *Store) AppendUserIfAbsent(ctx context.Context, userID uint64, entryID, content string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Message{}).
		Where("user_id = ? AND entry_id = ? AND role = ? AND content = ?", userID, entryID, RoleUser, content).
		Count(&n).Error; err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	eid := entryID
	err := s.Append(ctx, &Message{UserID: userID, EntryID: &eid, Role: RoleUser, Content: content})
	return err == nil, err
}

// CountRole counts the entry's messages with the given role.
func (s *Store) CountRole(ctx context.Context, userID uint64, entryID string, role Role) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Message{}).
		Where("user_id = ? AND entry_id = ? AND role = ?", userID, entryID, role).
		Count(&n).Error
	return n, err
}

// ListThread returns one page of an entry's messages in ASC order plus the
// total count.
func (s *Store) ListThread(ctx context.Context, userID uint64, entryID string, limit, offset int) ([]Message, int64, error) {
	base := s.db.WithContext(ctx).Model(&Message{}).
		Where("user_id = ? AND entry_id = ?", userID, entryID)

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var msgs []Message
	if err := base.Session(&gorm.Session{}).
		Order("created_at ASC").
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

// EntryMessages returns every message of an entry in ASC order.
func (s *Store) EntryMessages(ctx context.Context, userID uint64, entryID string) ([]Message, error) {
	var msgs []Message
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND entry_id = ?", userID, entryID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// FirstMessages returns, for every entry of userID, its first user message and
// its first assistant message (at most two rows per entry).
func (s *Store) FirstMessages(ctx context.Context, userID uint64) ([]Message, error) {
	const q = `
SELECT id, user_id, entry_id, role, content, created_at FROM (
  SELECT m.*, ROW_NUMBER() OVER (
    PARTITION BY m.entry_id, m.role ORDER BY m.created_at ASC, m.id ASC
  ) AS rn
  FROM analysis_messages m
  WHERE m.user_id = ? AND m.entry_id IS NOT NULL AND m.role IN (?, ?)
) firsts
WHERE rn = 1`

	var msgs []Message
	if err := s.db.WithContext(ctx).
		Raw(q, userID, RoleUser, RoleAssistant).
		Scan(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// PurgeEntry deletes every message scoped to the entry.
func (s *Store) PurgeEntry(ctx context.Context, userID uint64, entryID string) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND entry_id = ?", userID, entryID).
		Delete(&Message{})
	return res.RowsAffected, res.Error
}
