package conversation

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one persisted exchange row. Rows are never mutated; they are
// removed only when their entry is reset or deleted.
type Message struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint64    `gorm:"not null;index:idx_msg_user_entry_created,priority:1" json:"-"`
	EntryID   *string   `gorm:"size:26;index:idx_msg_user_entry_created,priority:2" json:"entry_id"`
	Role      Role      `gorm:"type:varchar(16);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index:idx_msg_user_entry_created,priority:3" json:"created_at"`
}

func (Message) TableName() string { return "analysis_messages" }
