package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"bankchat/internal/ai"
	"bankchat/internal/memory"
	"bankchat/internal/model"
	"bankchat/internal/retrieval"
	"bankchat/internal/tools"
)

const systemPromptTemplate = `You are the virtual assistant of a retail bank. You help customers
with questions about banking products, their registered beneficiaries and
their transfer history.

Rules:
- Answer only from the document context below, except when a tool result
  answers the question about beneficiaries or transfers.
- Use the available tools to look up beneficiaries and transfers instead
  of guessing.
- If the context and the tool results are not sufficient to answer, say
  "I don't know".
- Never invent account data, amounts or identifiers.

%s`

const apologyMessage = "Sorry, I am unable to answer right now. Please try again in a moment."

// ModelClient is the slice of the completion client the orchestrator needs.
type ModelClient interface {
	Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage, tools []ai.ToolDefinition, exec ai.ToolExecutor) (string, error)
	StreamComplete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage, tools []ai.ToolDefinition, exec ai.ToolExecutor, onChunk func(chunk string) error) (string, error)
}

type ChatRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message" binding:"required"`
	ImageURL  string `json:"image_url"`
}

type ChatResponse struct {
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// ChatService orchestrates one conversational turn: session resolution,
// durable user-message persistence, retrieval, prompt assembly, the
// tool-capable model call, and assistant-message persistence.
type ChatService struct {
	model      ModelClient
	chatCfg    ai.ChatConfig
	memory     *memory.Manager
	retriever  *retrieval.Engine
	dispatcher *tools.Dispatcher
}

func NewChatService(model ModelClient, chatCfg ai.ChatConfig, mem *memory.Manager, retriever *retrieval.Engine, dispatcher *tools.Dispatcher) *ChatService {
	return &ChatService{
		model:      model,
		chatCfg:    chatCfg,
		memory:     mem,
		retriever:  retriever,
		dispatcher: dispatcher,
	}
}

// Process handles a non-streaming turn. The user message is persisted
// before the model call so a model failure never loses the customer's
// words; the assistant reply is persisted only when the call succeeds.
func (s *ChatService) Process(ctx context.Context, req ChatRequest) ChatResponse {
	session, prompt, err := s.prepare(ctx, req)
	if err != nil {
		return s.failure(failureSessionID(session, req), err)
	}

	reply, err := s.model.Complete(ctx, s.chatCfg, prompt, s.dispatcher.Definitions(), s.dispatcher)
	if err != nil {
		logrus.WithError(err).WithField("session_id", session.SessionID).Error("model completion failed")
		return s.failure(session.SessionID, err)
	}

	s.persistAssistant(ctx, session, reply)
	return ChatResponse{
		SessionID: session.SessionID,
		Message:   reply,
		Timestamp: time.Now(),
		Success:   true,
	}
}

// ProcessStreaming handles a streaming turn, forwarding answer fragments
// to onChunk as they arrive. The complete reply is persisted only after
// the stream finishes; a cancelled or failed stream persists nothing for
// the assistant turn.
func (s *ChatService) ProcessStreaming(ctx context.Context, req ChatRequest, onChunk func(chunk string) error) ChatResponse {
	session, prompt, err := s.prepare(ctx, req)
	if err != nil {
		return s.failure(failureSessionID(session, req), err)
	}

	reply, err := s.model.StreamComplete(ctx, s.chatCfg, prompt, s.dispatcher.Definitions(), s.dispatcher, onChunk)
	if err != nil {
		logrus.WithError(err).WithField("session_id", session.SessionID).Error("model stream failed")
		return s.failure(session.SessionID, err)
	}

	s.persistAssistant(ctx, session, reply)
	return ChatResponse{
		SessionID: session.SessionID,
		Message:   reply,
		Timestamp: time.Now(),
		Success:   true,
	}
}

// History returns the full transcript recorded under a session id.
func (s *ChatService) History(ctx context.Context, sessionID string) ([]model.Message, error) {
	return s.memory.History(ctx, sessionID)
}

// ClearSession forgets the conversational context of a session.
func (s *ChatService) ClearSession(ctx context.Context, sessionID string) error {
	return s.memory.Clear(ctx, sessionID)
}

// prepare resolves the session, persists the user turn and assembles
// the prompt. Once the session exists it is returned alongside any
// later error so failure responses can still carry its id.
func (s *ChatService) prepare(ctx context.Context, req ChatRequest) (*model.Session, []ai.ChatMessage, error) {
	session, err := s.memory.GetOrCreate(ctx, req.SessionID, req.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve session: %w", err)
	}

	window, err := s.memory.Window(ctx, session)
	if err != nil {
		return session, nil, fmt.Errorf("load conversation window: %w", err)
	}

	userMsg := &model.Message{
		Role:     model.RoleUser,
		Content:  req.Message,
		HasImage: req.ImageURL != "",
		ImageRef: req.ImageURL,
	}
	if err := s.memory.Append(ctx, session, userMsg); err != nil {
		return session, nil, fmt.Errorf("persist user message: %w", err)
	}

	chunks := s.retriever.Retrieve(ctx, req.Message, "")
	docContext := s.retriever.BuildContext(chunks)

	prompt := make([]ai.ChatMessage, 0, len(window)+2)
	prompt = append(prompt, ai.TextMessage("system", fmt.Sprintf(systemPromptTemplate, docContext)))
	for _, msg := range window {
		prompt = append(prompt, ai.TextMessage(msg.Role, msg.Content))
	}
	if req.ImageURL != "" {
		prompt = append(prompt, ai.ImageMessage(req.Message, req.ImageURL))
	} else {
		prompt = append(prompt, ai.TextMessage(model.RoleUser, req.Message))
	}

	return session, prompt, nil
}

func (s *ChatService) persistAssistant(ctx context.Context, session *model.Session, reply string) {
	assistantMsg := &model.Message{
		Role:    model.RoleAssistant,
		Content: reply,
	}
	if err := s.memory.Append(ctx, session, assistantMsg); err != nil {
		logrus.WithError(err).WithField("session_id", session.SessionID).Error("persist assistant message failed")
	}
}

func failureSessionID(session *model.Session, req ChatRequest) string {
	if session != nil {
		return session.SessionID
	}
	return req.SessionID
}

func (s *ChatService) failure(sessionID string, cause error) ChatResponse {
	return ChatResponse{
		SessionID: sessionID,
		Message:   apologyMessage,
		Timestamp: time.Now(),
		Success:   false,
		Error:     cause.Error(),
	}
}
