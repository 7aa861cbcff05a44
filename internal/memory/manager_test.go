package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bankchat/internal/model"
	"bankchat/internal/repository"
)

func newTestManager(t *testing.T, windowSize int) *Manager {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.Session{}, &model.Message{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewManager(repository.NewSessionRepository(db), repository.NewMessageRepository(db), nil, windowSize)
}

func appendTurn(t *testing.T, m *Manager, session *model.Session, role, content string) {
	t.Helper()
	if err := m.Append(context.Background(), session, &model.Message{Role: role, Content: content}); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestGetOrCreateGeneratesID(t *testing.T) {
	m := newTestManager(t, 10)

	session, err := m.GetOrCreate(context.Background(), "", "user-1")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if session.SessionID == "" {
		t.Fatalf("expected generated session id")
	}
	if !session.Active {
		t.Fatalf("new session must be active")
	}
}

func TestGetOrCreateReturnsExistingActive(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, 10)

	first, err := m.GetOrCreate(ctx, "s-1", "user-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := m.GetOrCreate(ctx, "s-1", "user-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the same session record, got %d and %d", first.ID, second.ID)
	}
}

func TestWindowKeepsRecentMessagesOnly(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, 4)

	session, err := m.GetOrCreate(ctx, "s-1", "user-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 6; i++ {
		appendTurn(t, m, session, model.RoleUser, fmt.Sprintf("message %d", i))
	}

	window, err := m.Window(ctx, session)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(window) != 4 {
		t.Fatalf("expected window of 4, got %d", len(window))
	}
	if window[0].Content != "message 2" || window[3].Content != "message 5" {
		t.Fatalf("expected oldest entries evicted, got %q .. %q", window[0].Content, window[3].Content)
	}
}

func TestClearStartsBlankButKeepsHistory(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, 10)

	session, err := m.GetOrCreate(ctx, "s-1", "user-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	appendTurn(t, m, session, model.RoleUser, "before clear")
	appendTurn(t, m, session, model.RoleAssistant, "reply before clear")

	if err := m.Clear(ctx, "s-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	renewed, err := m.GetOrCreate(ctx, "s-1", "user-1")
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if renewed.ID == session.ID {
		t.Fatalf("cleared session must be replaced by a new record")
	}

	window, err := m.Window(ctx, renewed)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(window) != 0 {
		t.Fatalf("expected blank context after clear, got %d messages", len(window))
	}

	history, err := m.History(ctx, "s-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("durable history must survive clear, got %d messages", len(history))
	}
}

func TestClearUnknownSessionIsNoOp(t *testing.T) {
	m := newTestManager(t, 10)
	if err := m.Clear(context.Background(), "never-seen"); err != nil {
		t.Fatalf("clearing unknown session must succeed, got %v", err)
	}
}

func TestHistoryUnknownSessionEmpty(t *testing.T) {
	m := newTestManager(t, 10)
	history, err := m.History(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d", len(history))
	}
}

func TestWindowRebuiltFromStore(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, 10)

	session, err := m.GetOrCreate(ctx, "s-1", "user-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	appendTurn(t, m, session, model.RoleUser, "hello")
	appendTurn(t, m, session, model.RoleAssistant, "hi there")

	// Simulate a process restart losing the in-memory window.
	m.mu.Lock()
	delete(m.windows, session.SessionID)
	m.mu.Unlock()

	window, err := m.Window(ctx, session)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(window) != 2 {
		t.Fatalf("expected window rebuilt from store, got %d messages", len(window))
	}
	if window[0].Content != "hello" || window[1].Content != "hi there" {
		t.Fatalf("expected chronological order, got %q then %q", window[0].Content, window[1].Content)
	}
}
