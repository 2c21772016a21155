package repositories

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/models"
)

func TestDirectKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, directKey(1, 2), directKey(2, 1))
	assert.Equal(t, "1:2", directKey(2, 1))
	assert.Equal(t, "7:7000", directKey(7000, 7))
}

type groupDirectoryMock struct {
	mock.Mock
}

func (m *groupDirectoryMock) EnsureGroupConversation(ctx context.Context, groupRef, classRef string) (models.Conversation, error) {
	args := m.Called(ctx, groupRef, classRef)
	return args.Get(0).(models.Conversation), args.Error(1)
}

func (m *groupDirectoryMock) MemberIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *groupDirectoryMock) AddMember(ctx context.Context, conversationID, userID int64) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *groupDirectoryMock) RemoveMember(ctx context.Context, conversationID, userID int64) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *groupDirectoryMock) DeleteGroupConversation(ctx context.Context, groupRef string) (models.Conversation, []int64, error) {
	args := m.Called(ctx, groupRef)
	if args.Get(1) == nil {
		return args.Get(0).(models.Conversation), nil, args.Error(2)
	}
	return args.Get(0).(models.Conversation), args.Get(1).([]int64), args.Error(2)
}

func TestReconcileGroupMembershipAddsAndRemoves(t *testing.T) {
	dir := new(groupDirectoryMock)
	conv := models.Conversation{ID: 42, Kind: models.KindGroup}
	dir.On("EnsureGroupConversation", mock.Anything, "group-1", "class-1").Return(conv, nil)
	dir.On("MemberIDs", mock.Anything, int64(42)).Return([]int64{1, 2}, nil)
	dir.On("AddMember", mock.Anything, int64(42), int64(3)).Return(true, nil)
	dir.On("RemoveMember", mock.Anything, int64(42), int64(1)).Return(true, nil)

	got, added, removed, deleted, err := reconcileGroupMembership(context.Background(), dir, "group-1", "class-1", []int64{2, 3})
	require.NoError(t, err)
	assert.Equal(t, conv, got)
	assert.Equal(t, []int64{3}, added)
	assert.Equal(t, []int64{1}, removed)
	assert.False(t, deleted)
	dir.AssertExpectations(t)
}

func TestReconcileGroupMembershipAlreadyConverged(t *testing.T) {
	dir := new(groupDirectoryMock)
	conv := models.Conversation{ID: 42, Kind: models.KindGroup}
	dir.On("EnsureGroupConversation", mock.Anything, "group-1", "class-1").Return(conv, nil)
	dir.On("MemberIDs", mock.Anything, int64(42)).Return([]int64{1, 2}, nil)

	_, added, removed, deleted, err := reconcileGroupMembership(context.Background(), dir, "group-1", "class-1", []int64{1, 2})
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Empty(t, removed)
	assert.False(t, deleted)
	dir.AssertNotCalled(t, "AddMember", mock.Anything, mock.Anything, mock.Anything)
	dir.AssertNotCalled(t, "RemoveMember", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcileGroupMembershipEmptyDesiredDeletes(t *testing.T) {
	dir := new(groupDirectoryMock)
	conv := models.Conversation{ID: 42, Kind: models.KindGroup}
	dir.On("DeleteGroupConversation", mock.Anything, "group-1").Return(conv, []int64{1, 2}, nil)

	got, added, removed, deleted, err := reconcileGroupMembership(context.Background(), dir, "group-1", "class-1", nil)
	require.NoError(t, err)
	assert.Equal(t, conv, got)
	assert.Empty(t, added)
	assert.Equal(t, []int64{1, 2}, removed)
	assert.True(t, deleted)
	dir.AssertNotCalled(t, "EnsureGroupConversation", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcileGroupMembershipEmptyDesiredUnknownGroup(t *testing.T) {
	dir := new(groupDirectoryMock)
	dir.On("DeleteGroupConversation", mock.Anything, "group-1").Return(models.Conversation{}, nil, ErrConversationNotFound)

	got, added, removed, deleted, err := reconcileGroupMembership(context.Background(), dir, "group-1", "class-1", nil)
	require.NoError(t, err)
	assert.Zero(t, got.ID)
	assert.Empty(t, added)
	assert.Empty(t, removed)
	assert.False(t, deleted)
}
