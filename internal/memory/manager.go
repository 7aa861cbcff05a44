package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bankchat/internal/cache"
	"bankchat/internal/model"
	"bankchat/internal/repository"
)

const defaultWindowSize = 10

// Manager owns conversational state. Every message is persisted durably;
// a per-session in-process window keeps the most recent turns for prompt
// assembly without a round trip. Clearing a session deactivates its row
// and drops the window, but the durable transcript survives for audit.
type Manager struct {
	sessions   *repository.SessionRepository
	messages   *repository.MessageRepository
	history    *cache.HistoryCache
	windowSize int

	mu      sync.Mutex
	windows map[string][]model.Message
}

func NewManager(sessions *repository.SessionRepository, messages *repository.MessageRepository, history *cache.HistoryCache, windowSize int) *Manager {
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	return &Manager{
		sessions:   sessions,
		messages:   messages,
		history:    history,
		windowSize: windowSize,
		windows:    make(map[string][]model.Message),
	}
}

// GetOrCreate resolves the active session for an id, creating a fresh one
// when the id is empty or no active session exists. A cleared id gets a
// brand-new session row under the same external id.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID, userID string) (*model.Session, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	existing, err := m.sessions.GetActiveBySessionID(sessionID)
	if err != nil {
		return nil, fmt.Errorf("lookup session failed: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	session := &model.Session{
		SessionID: sessionID,
		UserID:    userID,
		Active:    true,
	}
	if err := m.sessions.Create(session); err != nil {
		return nil, fmt.Errorf("create session failed: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"user_id":    userID,
	}).Info("session created")
	return session, nil
}

// Append persists a message and pushes it onto the session's recency
// window, evicting the oldest entry once the window is full.
func (m *Manager) Append(ctx context.Context, session *model.Session, msg *model.Message) error {
	msg.SessionKey = session.ID
	msg.SessionID = session.SessionID

	if err := m.messages.Create(msg); err != nil {
		return fmt.Errorf("persist message failed: %w", err)
	}
	if err := m.sessions.Touch(session.ID); err != nil {
		logrus.WithError(err).WithField("session_id", session.SessionID).Warn("touch session failed")
	}
	if m.history != nil {
		if err := m.history.MarkDirty(ctx, session.SessionID); err != nil {
			logrus.WithError(err).Warn("mark history dirty failed")
		}
		if err := m.history.DeleteHistory(ctx, session.SessionID); err != nil {
			logrus.WithError(err).Warn("invalidate history cache failed")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	window := append(m.windows[session.SessionID], *msg)
	if len(window) > m.windowSize {
		window = window[len(window)-m.windowSize:]
	}
	m.windows[session.SessionID] = window
	return nil
}

// Window returns a copy of the recent messages for prompt assembly. When
// the process has no window yet (restart, first call) it is rebuilt from
// the durable store.
func (m *Manager) Window(ctx context.Context, session *model.Session) ([]model.Message, error) {
	m.mu.Lock()
	if window, ok := m.windows[session.SessionID]; ok {
		out := make([]model.Message, len(window))
		copy(out, window)
		m.mu.Unlock()
		return out, nil
	}
	m.mu.Unlock()

	recent, err := m.messages.ListRecentBySessionKey(session.ID, m.windowSize)
	if err != nil {
		return nil, fmt.Errorf("load recent messages failed: %w", err)
	}

	m.mu.Lock()
	m.windows[session.SessionID] = recent
	out := make([]model.Message, len(recent))
	copy(out, recent)
	m.mu.Unlock()
	return out, nil
}

// History returns every message ever recorded under the external session
// id, across clear and re-create cycles. Unknown ids yield an empty slice.
func (m *Manager) History(ctx context.Context, sessionID string) ([]model.Message, error) {
	if m.history != nil {
		dirty, err := m.history.IsDirty(ctx, sessionID)
		if err != nil {
			logrus.WithError(err).Warn("check history dirty marker failed")
		} else if !dirty {
			cached, hit, err := m.history.GetHistory(ctx, sessionID)
			if err != nil {
				logrus.WithError(err).Warn("read history cache failed")
			} else if hit {
				return cached, nil
			}
		}
	}

	messages, err := m.messages.ListBySessionID(sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history failed: %w", err)
	}

	if m.history != nil && len(messages) > 0 {
		if err := m.history.SetHistory(ctx, sessionID, messages); err != nil {
			logrus.WithError(err).Warn("populate history cache failed")
		}
	}
	return messages, nil
}

// Clear deactivates the session and forgets its window. A subsequent
// message under the same id starts from a blank context. Clearing an
// unknown id is a no-op.
func (m *Manager) Clear(ctx context.Context, sessionID string) error {
	if err := m.sessions.Deactivate(sessionID); err != nil {
		return fmt.Errorf("deactivate session failed: %w", err)
	}

	m.mu.Lock()
	delete(m.windows, sessionID)
	m.mu.Unlock()

	if m.history != nil {
		if err := m.history.DeleteHistory(ctx, sessionID); err != nil {
			logrus.WithError(err).Warn("drop history cache failed")
		}
	}
	logrus.WithField("session_id", sessionID).Info("session cleared")
	return nil
}
