package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

func setupConversationRouter(handler *ConversationHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", int64(1))
		c.Next()
	})
	r.POST("/conversations/direct", handler.StartDirect)
	r.POST("/conversations/class", handler.CreateClassConversation)
	r.GET("/conversations", handler.ListConversations)
	r.GET("/conversations/groups/:group_ref", handler.GetGroupConversation)
	r.GET("/conversations/:conversation_id/presence", handler.GetPresence)
	r.GET("/presence/online", handler.GetOnlineUsers)
	return r
}

func TestStartDirectSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	store := new(mocks.StoreMock)
	handler := NewConversationHandler(convRepo, store, nil)
	router := setupConversationRouter(handler)

	conv := models.Conversation{ID: 10, Kind: models.KindDirect, CreatedAt: time.Now()}
	convRepo.On("FindOrCreateDirect", mock.Anything, int64(1), int64(2)).Return(conv, true, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/direct", bytes.NewBufferString(`{"user_id":2}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Created      bool `json:"created"`
		Conversation struct {
			ID   int64  `json:"id"`
			Kind string `json:"kind"`
		} `json:"conversation"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Created)
	assert.Equal(t, int64(10), resp.Conversation.ID)
	assert.Equal(t, "direct", resp.Conversation.Kind)
	convRepo.AssertExpectations(t)
}

func TestStartDirectSelfRejected(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, new(mocks.StoreMock), nil)
	router := setupConversationRouter(handler)

	convRepo.On("FindOrCreateDirect", mock.Anything, int64(1), int64(1)).Return(models.Conversation{}, false, repositories.ErrSelfConversation).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/direct", bytes.NewBufferString(`{"user_id":1}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestStartDirectMissingUserID(t *testing.T) {
	handler := NewConversationHandler(new(mocks.ConversationRepositoryMock), new(mocks.StoreMock), nil)
	router := setupConversationRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/conversations/direct", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListConversationsJoinsUnreadCounts(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	store := new(mocks.StoreMock)
	handler := NewConversationHandler(convRepo, store, nil)
	router := setupConversationRouter(handler)

	summaries := []models.ConversationSummary{
		{Conversation: models.Conversation{ID: 5, Kind: models.KindDirect}, MemberIDs: []int64{1, 2}},
		{Conversation: models.Conversation{ID: 6, Kind: models.KindGroup}, MemberIDs: []int64{1, 2, 3}},
	}
	convRepo.On("ListForUser", mock.Anything, int64(1), 50).Return(summaries, nil).Once()
	store.On("UnreadCounts", mock.Anything, int64(1)).Return(map[int64]int64{5: 4}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Conversations []struct {
			ID          int64 `json:"id"`
			UnreadCount int64 `json:"unread_count"`
		} `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 2)
	assert.Equal(t, int64(4), resp.Conversations[0].UnreadCount)
	assert.Equal(t, int64(0), resp.Conversations[1].UnreadCount)
	store.AssertExpectations(t)
}

func TestListConversationsCacheFailureDegrades(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	store := new(mocks.StoreMock)
	handler := NewConversationHandler(convRepo, store, nil)
	router := setupConversationRouter(handler)

	convRepo.On("ListForUser", mock.Anything, int64(1), 50).Return([]models.ConversationSummary{
		{Conversation: models.Conversation{ID: 5, Kind: models.KindDirect}},
	}, nil).Once()
	store.On("UnreadCounts", mock.Anything, int64(1)).Return((map[int64]int64)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGetGroupConversationNotFoundForNonMember(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, new(mocks.StoreMock), nil)
	router := setupConversationRouter(handler)

	convRepo.On("GetGroupConversationForUser", mock.Anything, "grp-9", int64(1)).Return(models.Conversation{}, repositories.ErrConversationNotFound).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/groups/grp-9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestCreateClassConversationIncludesCaller(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, new(mocks.StoreMock), nil)
	router := setupConversationRouter(handler)

	conv := models.Conversation{ID: 11, Kind: models.KindClass}
	convRepo.On("CreateClassConversation", mock.Anything, "class-1", mock.MatchedBy(func(ids []int64) bool {
		seen := map[int64]bool{}
		for _, id := range ids {
			seen[id] = true
		}
		return len(ids) == 3 && seen[1] && seen[2] && seen[3]
	})).Return(conv, nil).Once()

	body := bytes.NewBufferString(`{"class_ref":"class-1","member_ids":[2,3,2]}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/class", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestGetPresenceForbiddenForNonMember(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	store := new(mocks.StoreMock)
	handler := NewConversationHandler(convRepo, store, nil)
	router := setupConversationRouter(handler)

	convRepo.On("IsMember", mock.Anything, int64(5), int64(1)).Return(false, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/5/presence", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	store.AssertNotCalled(t, "RoomOnline", mock.Anything, mock.Anything)
}

func TestGetOnlineUsers(t *testing.T) {
	store := new(mocks.StoreMock)
	handler := NewConversationHandler(new(mocks.ConversationRepositoryMock), store, nil)
	router := setupConversationRouter(handler)

	store.On("OnlineUsers", mock.Anything).Return([]int64{1, 4}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/presence/online", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"online":[1,4]}`, rec.Body.String())
}

func TestGetOnlineUsersCacheFailureDegrades(t *testing.T) {
	store := new(mocks.StoreMock)
	handler := NewConversationHandler(new(mocks.ConversationRepositoryMock), store, nil)
	router := setupConversationRouter(handler)

	store.On("OnlineUsers", mock.Anything).Return(([]int64)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/presence/online", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"online":[]}`, rec.Body.String())
}

func TestGetPresenceEmptyIsNotNull(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	store := new(mocks.StoreMock)
	handler := NewConversationHandler(convRepo, store, nil)
	router := setupConversationRouter(handler)

	convRepo.On("IsMember", mock.Anything, int64(5), int64(1)).Return(true, nil).Once()
	store.On("RoomOnline", mock.Anything, int64(5)).Return(([]int64)(nil), nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/5/presence", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"online":[]}`, rec.Body.String())
}
