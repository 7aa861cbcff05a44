package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"bankchat/internal/model"
)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(session *model.Session) error {
	if err := r.db.Create(session).Error; err != nil {
		return fmt.Errorf("create session failed: %w", err)
	}
	return nil
}

// GetActiveBySessionID returns the most recent active session carrying the
// identifier, or nil when none is active.
func (r *SessionRepository) GetActiveBySessionID(sessionID string) (*model.Session, error) {
	var session model.Session
	err := r.db.Where("session_id = ? AND active = ?", sessionID, true).
		Order("created_at DESC").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active session failed: %w", err)
	}
	return &session, nil
}

func (r *SessionRepository) ExistsBySessionID(sessionID string) (bool, error) {
	var count int64
	if err := r.db.Model(&model.Session{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("check session exists failed: %w", err)
	}
	return count > 0, nil
}

func (r *SessionRepository) Deactivate(sessionID string) error {
	if err := r.db.Model(&model.Session{}).
		Where("session_id = ? AND active = ?", sessionID, true).
		Update("active", false).Error; err != nil {
		return fmt.Errorf("deactivate session failed: %w", err)
	}
	return nil
}

func (r *SessionRepository) Touch(sessionKey uint) error {
	if err := r.db.Model(&model.Session{}).
		Where("id = ?", sessionKey).
		Update("updated_at", gorm.Expr("CURRENT_TIMESTAMP")).Error; err != nil {
		return fmt.Errorf("touch session failed: %w", err)
	}
	return nil
}
