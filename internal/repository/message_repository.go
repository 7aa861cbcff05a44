package repository

import (
	"fmt"

	"gorm.io/gorm"

	"bankchat/internal/model"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(message *model.Message) error {
	if err := r.db.Create(message).Error; err != nil {
		return fmt.Errorf("create message failed: %w", err)
	}
	return nil
}

// ListBySessionID returns every message ever appended under the identifier,
// across cleared and re-created sessions, oldest first.
func (r *MessageRepository) ListBySessionID(sessionID string) ([]model.Message, error) {
	var messages []model.Message
	if err := r.db.Where("session_id = ?", sessionID).
		Order("timestamp ASC, id ASC").
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	return messages, nil
}

// ListRecentBySessionKey returns the newest limit messages of one session
// record in chronological order.
func (r *MessageRepository) ListRecentBySessionKey(sessionKey uint, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 10
	}
	var messages []model.Message
	if err := r.db.Where("session_key = ?", sessionKey).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list recent messages failed: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
