package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"bankchat/internal/app"
	"bankchat/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// SendMessage handles one non-streaming chat turn.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req app.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result := h.chatService.Process(c.Request.Context(), req)
	c.JSON(http.StatusOK, result)
}

// StreamMessage handles one chat turn over server-sent events. Fragments
// go out as "message" events; the stream ends with a "done" event carrying
// the full response envelope, or an "error" event.
func (h *ChatHandler) StreamMessage(c *gin.Context) {
	var req app.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	result := h.chatService.ProcessStreaming(c.Request.Context(), req, func(chunk string) error {
		c.SSEvent("message", chunk)
		c.Writer.Flush()
		return nil
	})

	if !result.Success {
		c.SSEvent("error", result)
		c.Writer.Flush()
		return
	}
	c.SSEvent("done", result)
	c.Writer.Flush()
}

// GetHistory returns the full transcript recorded under a session id,
// across clear and re-create cycles.
func (h *ChatHandler) GetHistory(c *gin.Context) {
	sessionID := c.Param("sessionID")
	if sessionID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing session id")
		return
	}

	messages, err := h.chatService.History(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "load history failed")
		return
	}

	response.OK(c, gin.H{
		"session_id": sessionID,
		"messages":   messages,
		"count":      len(messages),
	})
}

// ClearSession drops the conversational context of a session. Clearing an
// unknown session id succeeds and does nothing.
func (h *ChatHandler) ClearSession(c *gin.Context) {
	sessionID := c.Param("sessionID")
	if sessionID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing session id")
		return
	}

	if err := h.chatService.ClearSession(c.Request.Context(), sessionID); err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fmt.Sprintf("clear session failed: %v", err))
		return
	}

	response.OK(c, gin.H{"cleared_session_id": sessionID})
}
