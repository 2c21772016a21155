package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/pipeline"
	"messaging-service/internal/telemetry"
)

// MessageHandler exposes the message pipeline over HTTP.
type MessageHandler struct {
	pipe  *pipeline.Pipeline
	audit *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(pipe *pipeline.Pipeline, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{pipe: pipe, audit: audit}
}

// PostMessage sends a message through the pipeline. Fan-out to connected
// members happens inside the pipeline; a success here means the message is
// durably written whether or not anyone is connected.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	conversationID, ok := conversationIDParam(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}
	userID := c.GetInt64("userID")

	var req struct {
		Body string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.pipe.Send(c.Request.Context(), conversationID, userID, req.Body)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		case errors.Is(err, pipeline.ErrEmptyBody):
			c.JSON(http.StatusBadRequest, gin.H{"error": "message body is empty"})
		default:
			h.emitAudit(c, "ERROR", "message send failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		}
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// GetMessages returns the conversation's messages in ascending time order.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	conversationID, ok := conversationIDParam(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}
	userID := c.GetInt64("userID")
	limit := limitQuery(c, 0)

	msgs, err := h.pipe.ListMessages(c.Request.Context(), conversationID, userID, limit)
	if err != nil {
		if errors.Is(err, pipeline.ErrForbidden) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
			return
		}
		h.emitAudit(c, "ERROR", "message list failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// MarkRead clears the caller's unread counter for the conversation.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	conversationID, ok := conversationIDParam(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}
	userID := c.GetInt64("userID")

	if err := h.pipe.MarkRead(c.Request.Context(), conversationID, userID); err != nil {
		if errors.Is(err, pipeline.ErrForbidden) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark read"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *MessageHandler) emitAudit(c *gin.Context, level, text string) {
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
