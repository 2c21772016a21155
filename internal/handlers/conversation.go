package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/cache"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
)

const defaultConversationLimit = 50

// ConversationHandler manages the conversation endpoints.
type ConversationHandler struct {
	convRepo repositories.ConversationRepository
	store    cache.Store
	audit    *telemetry.AuditEmitter
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(convRepo repositories.ConversationRepository, store cache.Store, audit *telemetry.AuditEmitter) *ConversationHandler {
	return &ConversationHandler{convRepo: convRepo, store: store, audit: audit}
}

type conversationResponse struct {
	ID          int64                   `json:"id"`
	Kind        models.ConversationKind `json:"kind"`
	ClassRef    string                  `json:"class_ref,omitempty"`
	GroupRef    string                  `json:"group_ref,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	MemberIDs   []int64                 `json:"member_ids,omitempty"`
	LastMessage *models.Message         `json:"last_message,omitempty"`
	UnreadCount int64                   `json:"unread_count"`
}

func toConversationResponse(conv models.Conversation) conversationResponse {
	return conversationResponse{
		ID:        conv.ID,
		Kind:      conv.Kind,
		ClassRef:  conv.ClassRefValue(),
		GroupRef:  conv.GroupRefValue(),
		CreatedAt: conv.CreatedAt,
	}
}

// StartDirect creates or returns the direct conversation with another user.
func (h *ConversationHandler) StartDirect(c *gin.Context) {
	userID := c.GetInt64("userID")

	var req struct {
		UserID int64 `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, created, err := h.convRepo.FindOrCreateDirect(c.Request.Context(), userID, req.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrSelfConversation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot start a conversation with yourself"})
			return
		}
		h.emitAudit(c, "ERROR", "direct conversation create failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversation": toConversationResponse(conv), "created": created})
}

// ListConversations returns the caller's conversations with member lists,
// last message, and cache-joined unread counts.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := c.GetInt64("userID")
	limit := limitQuery(c, defaultConversationLimit)

	summaries, err := h.convRepo.ListForUser(c.Request.Context(), userID, limit)
	if err != nil {
		h.emitAudit(c, "ERROR", "conversation list failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	unread, err := h.store.UnreadCounts(c.Request.Context(), userID)
	if err != nil {
		log.Printf("unread counts read failed (degraded): %v", err)
		observability.IncCacheSoftFailure("unread_counts")
		unread = nil
	}

	responses := make([]conversationResponse, 0, len(summaries))
	for _, summary := range summaries {
		resp := toConversationResponse(summary.Conversation)
		resp.MemberIDs = summary.MemberIDs
		resp.LastMessage = summary.LastMessage
		resp.UnreadCount = unread[summary.ID]
		responses = append(responses, resp)
	}

	c.JSON(http.StatusOK, gin.H{"conversations": responses})
}

// GetGroupConversation returns the conversation tied to an external group
// ref, but only for members: non-members get the same 404 as an absent
// group.
func (h *ConversationHandler) GetGroupConversation(c *gin.Context) {
	groupRef := c.Param("group_ref")
	if groupRef == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group ref"})
		return
	}
	userID := c.GetInt64("userID")

	conv, err := h.convRepo.GetGroupConversationForUser(c.Request.Context(), groupRef, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversation": toConversationResponse(conv)})
}

// CreateClassConversation creates a class-wide conversation with an initial
// member set. The caller is always included.
func (h *ConversationHandler) CreateClassConversation(c *gin.Context) {
	userID := c.GetInt64("userID")

	var req struct {
		ClassRef  string  `json:"class_ref" binding:"required"`
		MemberIDs []int64 `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	memberSet := map[int64]struct{}{userID: {}}
	for _, id := range req.MemberIDs {
		memberSet[id] = struct{}{}
	}
	memberIDs := make([]int64, 0, len(memberSet))
	for id := range memberSet {
		memberIDs = append(memberIDs, id)
	}

	conv, err := h.convRepo.CreateClassConversation(c.Request.Context(), req.ClassRef, memberIDs)
	if err != nil {
		h.emitAudit(c, "ERROR", "class conversation create failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"conversation": toConversationResponse(conv)})
}

// GetPresence returns the user ids currently online in the conversation.
func (h *ConversationHandler) GetPresence(c *gin.Context) {
	conversationID, ok := conversationIDParam(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}
	userID := c.GetInt64("userID")

	member, err := h.convRepo.IsMember(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return
	}

	online, err := h.store.RoomOnline(c.Request.Context(), conversationID)
	if err != nil {
		log.Printf("room presence read failed (degraded): %v", err)
		observability.IncCacheSoftFailure("room_online")
		online = nil
	}
	if online == nil {
		online = []int64{}
	}

	c.JSON(http.StatusOK, gin.H{"online": online})
}

// GetOnlineUsers returns the globally online user ids. Presence is
// cache-resident and ephemeral, so an empty set after a cache restart is
// expected and rebuilds from live connections.
func (h *ConversationHandler) GetOnlineUsers(c *gin.Context) {
	online, err := h.store.OnlineUsers(c.Request.Context())
	if err != nil {
		log.Printf("online set read failed (degraded): %v", err)
		observability.IncCacheSoftFailure("online_users")
		online = nil
	}
	if online == nil {
		online = []int64{}
	}

	c.JSON(http.StatusOK, gin.H{"online": online})
}

func (h *ConversationHandler) emitAudit(c *gin.Context, level, text string) {
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
