package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type echoExecutor struct {
	calls []string
}

func (e *echoExecutor) Execute(ctx context.Context, name string, arguments json.RawMessage) string {
	e.calls = append(e.calls, name)
	return "result of " + name
}

func toolCallResponse(name, arguments string) string {
	return fmt.Sprintf(`{"choices":[{"message":{"content":"","tool_calls":[{"id":"call-1","type":"function","function":{"name":%q,"arguments":%q}}]}}]}`, name, arguments)
}

func textResponse(text string) string {
	return fmt.Sprintf(`{"choices":[{"message":{"content":%q}}]}`, text)
}

func TestCompleteResolvesToolCallRound(t *testing.T) {
	var requests []map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		requests = append(requests, body)

		w.Header().Set("Content-Type", "application/json")
		if len(requests) == 1 {
			fmt.Fprint(w, toolCallResponse("get_beneficiary", `{"id":7}`))
			return
		}
		fmt.Fprint(w, textResponse("Claire Martin is beneficiary 7."))
	}))
	defer server.Close()

	exec := &echoExecutor{}
	client := NewOpenAICompatibleClient()
	reply, err := client.Complete(context.Background(), ChatConfig{BaseURL: server.URL, Model: "m"}, []ChatMessage{
		TextMessage("user", "who is beneficiary 7?"),
	}, []ToolDefinition{{Type: "function", Function: FunctionSchema{Name: "get_beneficiary"}}}, exec)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if reply != "Claire Martin is beneficiary 7." {
		t.Fatalf("unexpected reply %q", reply)
	}
	if len(exec.calls) != 1 || exec.calls[0] != "get_beneficiary" {
		t.Fatalf("expected one executed tool call, got %v", exec.calls)
	}
	if len(requests) != 2 {
		t.Fatalf("expected 2 llm round trips, got %d", len(requests))
	}

	// The second request must carry the assistant tool call and the tool result.
	messages := requests[1]["messages"].([]interface{})
	last := messages[len(messages)-1].(map[string]interface{})
	if last["role"] != "tool" || last["tool_call_id"] != "call-1" {
		t.Fatalf("expected trailing tool result message, got %v", last)
	}
}

func TestCompleteStopsAfterRoundLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, toolCallResponse("loop_forever", `{}`))
	}))
	defer server.Close()

	client := NewOpenAICompatibleClient()
	_, err := client.Complete(context.Background(), ChatConfig{BaseURL: server.URL, Model: "m", MaxToolRounds: 2}, []ChatMessage{
		TextMessage("user", "hi"),
	}, nil, &echoExecutor{})
	if err == nil || !strings.Contains(err.Error(), "exceeded limit") {
		t.Fatalf("expected round limit error, got %v", err)
	}
}

func TestCompleteSurfacesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewOpenAICompatibleClient()
	_, err := client.Complete(context.Background(), ChatConfig{BaseURL: server.URL, Model: "m"}, []ChatMessage{
		TextMessage("user", "hi"),
	}, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestStreamCompleteAccumulatesToolCallDeltas(t *testing.T) {
	var requestCount int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		w.Header().Set("Content-Type", "text/event-stream")
		if requestCount == 1 {
			// Tool call split across deltas: name first, arguments in pieces.
			fmt.Fprint(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call-9","function":{"name":"get_transfer","arguments":"{\"id\""}}]}}]}`+"\n\n")
			fmt.Fprint(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":":3}"}}]}}]}`+"\n\n")
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"Transfer "}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"3 found."}}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	exec := &echoExecutor{}
	var chunks []string
	client := NewOpenAICompatibleClient()
	full, err := client.StreamComplete(context.Background(), ChatConfig{BaseURL: server.URL, Model: "m"}, []ChatMessage{
		TextMessage("user", "find transfer 3"),
	}, nil, exec, func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if full != "Transfer 3 found." {
		t.Fatalf("unexpected accumulated reply %q", full)
	}
	if len(exec.calls) != 1 || exec.calls[0] != "get_transfer" {
		t.Fatalf("expected accumulated tool call executed once, got %v", exec.calls)
	}
	if strings.Join(chunks, "") != full {
		t.Fatalf("onChunk fragments %v do not rebuild the reply", chunks)
	}
}

func TestStreamCompleteStopsOnChunkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"partial"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"more"}}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewOpenAICompatibleClient()
	_, err := client.StreamComplete(context.Background(), ChatConfig{BaseURL: server.URL, Model: "m"}, []ChatMessage{
		TextMessage("user", "hi"),
	}, nil, nil, func(chunk string) error {
		return fmt.Errorf("client went away")
	})
	if err == nil || !strings.Contains(err.Error(), "client went away") {
		t.Fatalf("expected onChunk error to abort the stream, got %v", err)
	}
}
