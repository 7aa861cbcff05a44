package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type ChatConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	MaxToolRounds int
}

// ChatMessage mirrors the OpenAI-compatible wire format. Content is either a
// plain string or a []ContentPart for multimodal turns.
type ChatMessage struct {
	Role       string      `json:"role"`
	Content    interface{} `json:"content"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

type ContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *ImageURLPart `json:"image_url,omitempty"`
}

type ImageURLPart struct {
	URL string `json:"url"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition is the function descriptor advertised to the model.
type ToolDefinition struct {
	Type     string         `json:"type"`
	Function FunctionSchema `json:"function"`
}

type FunctionSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ToolExecutor runs a named tool. Implementations must return an in-band
// error string instead of failing, so a broken tool never aborts the turn.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, arguments json.RawMessage) string
}

func TextMessage(role, text string) ChatMessage {
	return ChatMessage{Role: role, Content: text}
}

func ImageMessage(text, imageURL string) ChatMessage {
	return ChatMessage{
		Role: "user",
		Content: []ContentPart{
			{Type: "text", Text: text},
			{Type: "image_url", ImageURL: &ImageURLPart{URL: imageURL}},
		},
	}
}

type OpenAICompatibleClient struct {
	httpClient *http.Client
}

func NewOpenAICompatibleClient() *OpenAICompatibleClient {
	return &OpenAICompatibleClient{
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
}

// Complete runs a chat completion. When the model requests tool calls and an
// executor is supplied, the calls are executed and the conversation is
// re-submitted, up to cfg.MaxToolRounds times.
func (c *OpenAICompatibleClient) Complete(
	ctx context.Context,
	cfg ChatConfig,
	messages []ChatMessage,
	tools []ToolDefinition,
	exec ToolExecutor,
) (string, error) {
	rounds := cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = 5
	}

	convo := append([]ChatMessage(nil), messages...)
	for round := 0; round <= rounds; round++ {
		msg, err := c.complete(ctx, cfg, convo, tools)
		if err != nil {
			return "", err
		}
		if len(msg.ToolCalls) == 0 || exec == nil {
			content, _ := msg.Content.(string)
			return content, nil
		}
		convo = append(convo, *msg)
		convo = append(convo, executeToolCalls(ctx, exec, msg.ToolCalls)...)
	}
	return "", fmt.Errorf("tool call rounds exceeded limit %d", rounds)
}

func (c *OpenAICompatibleClient) complete(
	ctx context.Context,
	cfg ChatConfig,
	messages []ChatMessage,
	tools []ToolDefinition,
) (*ChatMessage, error) {
	reqBody := map[string]interface{}{
		"model":    cfg.Model,
		"messages": messages,
		"stream":   false,
	}
	if len(tools) > 0 {
		reqBody["tools"] = tools
	}

	raw, err := c.post(ctx, cfg, reqBody)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content   string     `json:"content"`
				ToolCalls []ToolCall `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse llm json failed: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("empty llm choices")
	}

	choice := parsed.Choices[0].Message
	return &ChatMessage{
		Role:      "assistant",
		Content:   choice.Content,
		ToolCalls: choice.ToolCalls,
	}, nil
}

func (c *OpenAICompatibleClient) post(ctx context.Context, cfg ChatConfig, body map[string]interface{}) ([]byte, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal llm request failed: %w", err)
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build llm request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read llm response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("llm response status %d: %s", resp.StatusCode, string(raw))
	}
	return raw, nil
}

// StreamComplete streams a chat completion, invoking onChunk for every text
// fragment in generation order and returning the accumulated text. Tool call
// rounds are resolved between streams; only final-answer fragments reach
// onChunk.
func (c *OpenAICompatibleClient) StreamComplete(
	ctx context.Context,
	cfg ChatConfig,
	messages []ChatMessage,
	tools []ToolDefinition,
	exec ToolExecutor,
	onChunk func(chunk string) error,
) (string, error) {
	rounds := cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = 5
	}

	convo := append([]ChatMessage(nil), messages...)
	for round := 0; round <= rounds; round++ {
		full, toolCalls, err := c.streamOnce(ctx, cfg, convo, tools, onChunk)
		if err != nil {
			return "", err
		}
		if len(toolCalls) == 0 || exec == nil {
			return full, nil
		}
		convo = append(convo, ChatMessage{Role: "assistant", Content: full, ToolCalls: toolCalls})
		convo = append(convo, executeToolCalls(ctx, exec, toolCalls)...)
	}
	return "", fmt.Errorf("tool call rounds exceeded limit %d", rounds)
}

func (c *OpenAICompatibleClient) streamOnce(
	ctx context.Context,
	cfg ChatConfig,
	messages []ChatMessage,
	tools []ToolDefinition,
	onChunk func(chunk string) error,
) (string, []ToolCall, error) {
	reqBody := map[string]interface{}{
		"model":    cfg.Model,
		"messages": messages,
		"stream":   true,
	}
	if len(tools) > 0 {
		reqBody["tools"] = tools
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", nil, fmt.Errorf("marshal llm stream request failed: %w", err)
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", nil, fmt.Errorf("build llm stream request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("llm stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return "", nil, fmt.Errorf("llm stream status %d: %s", resp.StatusCode, string(raw))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	var full strings.Builder
	var calls []ToolCall
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content   string `json:"content"`
					ToolCalls []struct {
						Index    int          `json:"index"`
						ID       string       `json:"id"`
						Function FunctionCall `json:"function"`
					} `json:"tool_calls"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		// Tool call arguments arrive as fragments keyed by index.
		for _, tc := range delta.ToolCalls {
			for len(calls) <= tc.Index {
				calls = append(calls, ToolCall{Type: "function"})
			}
			if tc.ID != "" {
				calls[tc.Index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				calls[tc.Index].Function.Name = tc.Function.Name
			}
			calls[tc.Index].Function.Arguments += tc.Function.Arguments
		}

		if delta.Content == "" {
			continue
		}
		full.WriteString(delta.Content)
		if err := onChunk(delta.Content); err != nil {
			return "", nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return "", nil, fmt.Errorf("scan llm stream failed: %w", err)
	}
	return full.String(), calls, nil
}

func executeToolCalls(ctx context.Context, exec ToolExecutor, calls []ToolCall) []ChatMessage {
	results := make([]ChatMessage, 0, len(calls))
	for _, call := range calls {
		result := exec.Execute(ctx, call.Function.Name, json.RawMessage(call.Function.Arguments))
		results = append(results, ChatMessage{
			Role:       "tool",
			Content:    result,
			ToolCallID: call.ID,
		})
	}
	return results
}
