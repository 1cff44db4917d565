package journal

import "time"

// User carries the profile fields the interpretation pipeline needs.
// Accounts and authentication live elsewhere.
type User struct {
	ID              uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Email           string    `gorm:"type:varchar(255);index" json:"email,omitempty"`
	SelfDescription *string   `gorm:"type:text" json:"self_description"`
	Locale          string    `gorm:"type:varchar(16)" json:"locale"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// Entry is a user-submitted dream record.
type Entry struct {
	ID        string    `gorm:"primaryKey;size:26" json:"id"` // ULID
	UserID    uint64    `gorm:"not null;index:idx_entries_user_created,priority:1" json:"-"`
	Title     string    `gorm:"type:varchar(100)" json:"title"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index:idx_entries_user_created,priority:2" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Entry) TableName() string { return "entries" }
