package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bankchat/internal/ai"
	"bankchat/internal/chunker"
	"bankchat/internal/client"
	"bankchat/internal/extract"
	"bankchat/internal/ingest"
	"bankchat/internal/memory"
	"bankchat/internal/model"
	"bankchat/internal/repository"
	"bankchat/internal/retrieval"
	"bankchat/internal/tools"
	vectormem "bankchat/internal/vectorstore/memory"
)

type fakeModel struct {
	reply      string
	err        error
	chunks     []string
	lastPrompt []ai.ChatMessage
}

func (f *fakeModel) Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage, defs []ai.ToolDefinition, exec ai.ToolExecutor) (string, error) {
	f.lastPrompt = messages
	return f.reply, f.err
}

func (f *fakeModel) StreamComplete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage, defs []ai.ToolDefinition, exec ai.ToolExecutor, onChunk func(chunk string) error) (string, error) {
	f.lastPrompt = messages
	if f.err != nil {
		return "", f.err
	}
	for _, chunk := range f.chunks {
		if err := onChunk(chunk); err != nil {
			return "", err
		}
	}
	return f.reply, nil
}

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func newTestChatService(t *testing.T, fm *fakeModel) (*ChatService, *memory.Manager) {
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

	mem := memory.NewManager(repository.NewSessionRepository(db), repository.NewMessageRepository(db), nil, 10)
	engine := retrieval.NewEngine(vectormem.NewStore(), fixedEmbedder{}, retrieval.Config{})
	return NewChatService(fm, ai.ChatConfig{Model: "test-model"}, mem, engine, tools.NewDispatcher()), mem
}

func TestProcessPersistsBothTurns(t *testing.T) {
	ctx := context.Background()
	fm := &fakeModel{reply: "The savings account pays monthly interest."}
	svc, _ := newTestChatService(t, fm)

	resp := svc.Process(ctx, ChatRequest{Message: "How does the savings account pay interest?", UserID: "u-1"})
	if !resp.Success {
		t.Fatalf("expected success, got error %q", resp.Error)
	}
	if resp.SessionID == "" {
		t.Fatalf("expected generated session id in response")
	}
	if resp.Message != fm.reply {
		t.Fatalf("expected model reply, got %q", resp.Message)
	}

	history, err := svc.History(ctx, resp.SessionID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected user and assistant messages persisted, got %d", len(history))
	}
	if history[0].Role != model.RoleUser || history[1].Role != model.RoleAssistant {
		t.Fatalf("unexpected roles %q, %q", history[0].Role, history[1].Role)
	}
}

func TestProcessModelFailureKeepsUserMessage(t *testing.T) {
	ctx := context.Background()
	fm := &fakeModel{err: errors.New("model unavailable")}
	svc, _ := newTestChatService(t, fm)

	resp := svc.Process(ctx, ChatRequest{SessionID: "s-1", Message: "hello"})
	if resp.Success {
		t.Fatalf("expected failure response")
	}
	if resp.SessionID != "s-1" {
		t.Fatalf("failure response must carry the session id, got %q", resp.SessionID)
	}
	if !strings.Contains(resp.Message, "Sorry") {
		t.Fatalf("expected generic apology, got %q", resp.Message)
	}

	history, err := svc.History(ctx, "s-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Role != model.RoleUser {
		t.Fatalf("only the user message must be persisted on failure, got %d messages", len(history))
	}
}

func TestProcessPromptIncludesSystemContextAndWindow(t *testing.T) {
	ctx := context.Background()
	fm := &fakeModel{reply: "first answer"}
	svc, _ := newTestChatService(t, fm)

	first := svc.Process(ctx, ChatRequest{Message: "first question"})
	if !first.Success {
		t.Fatalf("first turn failed: %q", first.Error)
	}

	fm.reply = "second answer"
	second := svc.Process(ctx, ChatRequest{SessionID: first.SessionID, Message: "second question"})
	if !second.Success {
		t.Fatalf("second turn failed: %q", second.Error)
	}

	prompt := fm.lastPrompt
	if len(prompt) < 4 {
		t.Fatalf("expected system + window + user turn, got %d messages", len(prompt))
	}
	if prompt[0].Role != "system" {
		t.Fatalf("first prompt message must be the system prompt, got role %q", prompt[0].Role)
	}
	sysText, _ := prompt[0].Content.(string)
	if !strings.Contains(sysText, retrieval.NoContextSentinel) {
		t.Fatalf("empty retrieval must surface the sentinel, got %q", sysText)
	}
	last := prompt[len(prompt)-1]
	if text, _ := last.Content.(string); text != "second question" {
		t.Fatalf("prompt must end with the current user turn, got %q", text)
	}

	var sawFirstTurn bool
	for _, msg := range prompt[1 : len(prompt)-1] {
		if text, _ := msg.Content.(string); text == "first question" {
			sawFirstTurn = true
		}
	}
	if !sawFirstTurn {
		t.Fatalf("conversation window missing earlier turn")
	}
}

func TestSystemPromptCommandsGroundedAnswers(t *testing.T) {
	ctx := context.Background()
	fm := &fakeModel{reply: "ok"}
	svc, _ := newTestChatService(t, fm)

	if resp := svc.Process(ctx, ChatRequest{Message: "question"}); !resp.Success {
		t.Fatalf("turn failed: %q", resp.Error)
	}
	sysText, _ := fm.lastPrompt[0].Content.(string)
	if !strings.Contains(sysText, "Answer only from the document context") {
		t.Fatalf("system prompt must restrict answers to the provided context, got %q", sysText)
	}
	if !strings.Contains(sysText, `"I don't know"`) {
		t.Fatalf("system prompt must instruct saying \"I don't know\", got %q", sysText)
	}
}

func TestFailureAfterSessionCreationCarriesGeneratedID(t *testing.T) {
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Sessions table only, so persisting the user turn fails after the
	// session record exists.
	if err := db.AutoMigrate(&model.Session{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mem := memory.NewManager(repository.NewSessionRepository(db), repository.NewMessageRepository(db), nil, 10)
	engine := retrieval.NewEngine(vectormem.NewStore(), fixedEmbedder{}, retrieval.Config{})
	svc := NewChatService(&fakeModel{reply: "unused"}, ai.ChatConfig{Model: "test-model"}, mem, engine, tools.NewDispatcher())

	resp := svc.Process(ctx, ChatRequest{Message: "hello"})
	if resp.Success {
		t.Fatalf("expected failure when message persistence is unavailable")
	}
	if resp.SessionID == "" {
		t.Fatalf("failure response must carry the created session id")
	}
}

func TestProcessStreamingForwardsChunksInOrder(t *testing.T) {
	ctx := context.Background()
	fm := &fakeModel{chunks: []string{"The ", "savings ", "account."}, reply: "The savings account."}
	svc, _ := newTestChatService(t, fm)

	var received []string
	resp := svc.ProcessStreaming(ctx, ChatRequest{Message: "tell me"}, func(chunk string) error {
		received = append(received, chunk)
		return nil
	})
	if !resp.Success {
		t.Fatalf("expected success, got %q", resp.Error)
	}
	if strings.Join(received, "") != "The savings account." {
		t.Fatalf("chunks out of order or missing: %v", received)
	}

	history, err := svc.History(ctx, resp.SessionID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[1].Content != "The savings account." {
		t.Fatalf("full reply must be persisted after stream completes, got %+v", history)
	}
}

func TestProcessStreamingFailurePersistsNothingForAssistant(t *testing.T) {
	ctx := context.Background()
	fm := &fakeModel{err: errors.New("stream interrupted")}
	svc, _ := newTestChatService(t, fm)

	resp := svc.ProcessStreaming(ctx, ChatRequest{SessionID: "s-2", Message: "hello"}, func(string) error { return nil })
	if resp.Success {
		t.Fatalf("expected failure response")
	}

	history, err := svc.History(ctx, "s-2")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Role != model.RoleUser {
		t.Fatalf("interrupted stream must not persist an assistant turn, got %d messages", len(history))
	}
}

// countingEmbedder serves both the ingestion pipeline and the retrieval
// engine with a constant vector, so every stored chunk is a perfect match.
type countingEmbedder struct{}

func (countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0}
	}
	return vectors, nil
}

func TestEndToEndIngestedDocumentGroundsTheAnswer(t *testing.T) {
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.Document{}, &model.Chunk{}, &model.Session{}, &model.Message{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := vectormem.NewStore()
	embedder := countingEmbedder{}
	pipeline := ingest.NewPipeline(
		repository.NewDocumentRepository(db),
		repository.NewChunkRepository(db),
		extract.NewService(nil),
		chunker.New(chunker.Config{ChunkSize: 100, ChunkOverlap: 10, MinChunkSize: 2}),
		embedder,
		store,
		nil,
		t.TempDir(),
	)

	content := []byte("The gold credit card includes travel insurance up to 90 days abroad.")
	if _, err := pipeline.Ingest(ctx, content, "gold-card.md", "general", "", false); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	fm := &fakeModel{reply: "Yes, the gold credit card includes travel insurance up to 90 days abroad."}
	mem := memory.NewManager(repository.NewSessionRepository(db), repository.NewMessageRepository(db), nil, 10)
	engine := retrieval.NewEngine(store, embedder, retrieval.Config{})
	svc := NewChatService(fm, ai.ChatConfig{Model: "test-model"}, mem, engine, tools.NewDispatcher())

	resp := svc.Process(ctx, ChatRequest{Message: "Does the gold card include travel insurance?"})
	if !resp.Success {
		t.Fatalf("expected grounded answer, got error %q", resp.Error)
	}

	sysText, _ := fm.lastPrompt[0].Content.(string)
	if !strings.Contains(sysText, "travel insurance up to 90 days") {
		t.Fatalf("system prompt must carry the ingested chunk, got %q", sysText)
	}
	if strings.Contains(sysText, retrieval.NoContextSentinel) {
		t.Fatalf("retrieval should have found the document")
	}
}

func TestToolFailureDoesNotAbortTheTurn(t *testing.T) {
	ctx := context.Background()

	// The model asks for a beneficiary lookup once, receives the in-band
	// tool error, and still produces a final answer.
	var llmCalls int
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		llmCalls++
		w.Header().Set("Content-Type", "application/json")
		if llmCalls == 1 {
			fmt.Fprint(w, `{"choices":[{"message":{"content":"","tool_calls":[{"id":"c1","type":"function","function":{"name":"get_beneficiary","arguments":"{\"id\":999}"}}]}}]}`)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"I could not reach the beneficiary service, please try later."}}]}`)
	}))
	t.Cleanup(llm.Close)

	dispatcher := tools.NewDispatcher()
	tools.RegisterBankTools(
		dispatcher,
		client.NewBeneficiaryClient("http://127.0.0.1:1"),
		client.NewTransferClient("http://127.0.0.1:1"),
	)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.Session{}, &model.Message{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mem := memory.NewManager(repository.NewSessionRepository(db), repository.NewMessageRepository(db), nil, 10)
	engine := retrieval.NewEngine(vectormem.NewStore(), fixedEmbedder{}, retrieval.Config{})
	svc := NewChatService(ai.NewOpenAICompatibleClient(), ai.ChatConfig{BaseURL: llm.URL, Model: "test-model"}, mem, engine, dispatcher)

	resp := svc.Process(ctx, ChatRequest{Message: "who is beneficiary 999?"})
	if !resp.Success {
		t.Fatalf("tool failure must not abort the turn, got error %q", resp.Error)
	}
	if llmCalls != 2 {
		t.Fatalf("expected a tool round plus a final round, got %d llm calls", llmCalls)
	}
	if !strings.Contains(resp.Message, "could not reach") {
		t.Fatalf("unexpected final answer %q", resp.Message)
	}
}

func TestClearSessionThenNewTurnStartsBlank(t *testing.T) {
	ctx := context.Background()
	fm := &fakeModel{reply: "answer"}
	svc, _ := newTestChatService(t, fm)

	first := svc.Process(ctx, ChatRequest{Message: "question one"})
	if !first.Success {
		t.Fatalf("first turn failed")
	}
	if err := svc.ClearSession(ctx, first.SessionID); err != nil {
		t.Fatalf("clear: %v", err)
	}

	second := svc.Process(ctx, ChatRequest{SessionID: first.SessionID, Message: "question two"})
	if !second.Success {
		t.Fatalf("second turn failed")
	}

	for _, msg := range fm.lastPrompt[1 : len(fm.lastPrompt)-1] {
		if text, _ := msg.Content.(string); text == "question one" {
			t.Fatalf("cleared context leaked into the new session's prompt")
		}
	}

	history, err := svc.History(ctx, first.SessionID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("history must span the clear, got %d messages", len(history))
	}
}
