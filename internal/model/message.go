package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is append-only; rows are never mutated after creation. SessionKey
// is the owning session row, SessionID the caller-facing identifier (kept
// denormalized so audit history survives a session being cleared and
// re-created under the same identifier).
type Message struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	SessionKey uint      `gorm:"not null;index" json:"-"`
	SessionID  string    `gorm:"size:64;not null;index" json:"session_id"`
	Role       string    `gorm:"size:16;not null" json:"role"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	HasImage   bool      `gorm:"not null;default:false" json:"has_image"`
	ImageRef   string    `gorm:"size:512" json:"image_ref,omitempty"`
	TokensUsed *int      `json:"tokens_used,omitempty"`
	Timestamp  time.Time `gorm:"autoCreateTime;index" json:"timestamp"`
}
