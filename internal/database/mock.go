package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/npezzotti/gochat-realtime/internal/types"
)

type MockGoChatRepository struct {
	mock.Mock
}

func (m *MockGoChatRepository) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockGoChatRepository) GetUser(ctx context.Context, userId string) (types.User, error) {
	args := m.Called(userId)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockGoChatRepository) ListServerIDs(ctx context.Context, userId string) ([]string, error) {
	args := m.Called(userId)
	if ids, ok := args.Get(0).([]string); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) ListPresenceContacts(ctx context.Context, userId string) ([]string, error) {
	args := m.Called(userId)
	if ids, ok := args.Get(0).([]string); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) GetChannel(ctx context.Context, channelId string) (types.Channel, error) {
	args := m.Called(channelId)
	return args.Get(0).(types.Channel), args.Error(1)
}
func (m *MockGoChatRepository) GetMessage(ctx context.Context, messageId string) (types.Message, error) {
	args := m.Called(messageId)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockGoChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error) {
	args := m.Called(params)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockGoChatRepository) EditMessage(ctx context.Context, messageId, content string) (types.Message, error) {
	args := m.Called(messageId, content)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockGoChatRepository) DeleteMessage(ctx context.Context, messageId string) error {
	args := m.Called(messageId)
	return args.Error(0)
}
func (m *MockGoChatRepository) SetMessagePinned(ctx context.Context, params SetPinnedParams) (types.PinState, error) {
	args := m.Called(params)
	return args.Get(0).(types.PinState), args.Error(1)
}
func (m *MockGoChatRepository) ToggleReaction(ctx context.Context, messageId, userId, emoji string) (bool, error) {
	args := m.Called(messageId, userId, emoji)
	return args.Bool(0), args.Error(1)
}
func (m *MockGoChatRepository) GetReactions(ctx context.Context, messageId string) ([]types.Reaction, error) {
	args := m.Called(messageId)
	if r, ok := args.Get(0).([]types.Reaction); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) GetNotificationSettings(ctx context.Context, userId string) (types.NotificationSettings, error) {
	args := m.Called(userId)
	return args.Get(0).(types.NotificationSettings), args.Error(1)
}
func (m *MockGoChatRepository) CreateNotification(ctx context.Context, params CreateNotificationParams) (types.Notification, error) {
	args := m.Called(params)
	return args.Get(0).(types.Notification), args.Error(1)
}
func (m *MockGoChatRepository) UpdateUserStatus(ctx context.Context, params UpdateStatusParams) error {
	args := m.Called(params)
	return args.Error(0)
}
func (m *MockGoChatRepository) UpdateCustomStatus(ctx context.Context, params UpdateCustomStatusParams) error {
	args := m.Called(params)
	return args.Error(0)
}
func (m *MockGoChatRepository) ClearExpiredCustomStatuses(ctx context.Context, now time.Time) ([]string, error) {
	args := m.Called(now)
	if ids, ok := args.Get(0).([]string); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) CreateModerationRecord(ctx context.Context, params CreateModerationParams) (types.ModerationAction, error) {
	args := m.Called(params)
	return args.Get(0).(types.ModerationAction), args.Error(1)
}
func (m *MockGoChatRepository) GetActiveTimeout(ctx context.Context, userId, serverId string, now time.Time) (*types.ModerationAction, error) {
	args := m.Called(userId, serverId, now)
	if a, ok := args.Get(0).(*types.ModerationAction); ok {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) IsServerMember(ctx context.Context, userId, serverId string) (types.MemberRole, bool, error) {
	args := m.Called(userId, serverId)
	return args.Get(0).(types.MemberRole), args.Bool(1), args.Error(2)
}
func (m *MockGoChatRepository) IsChannelAccessible(ctx context.Context, userId, channelId string) (bool, error) {
	args := m.Called(userId, channelId)
	return args.Bool(0), args.Error(1)
}
func (m *MockGoChatRepository) IsDMParticipant(ctx context.Context, userId, dmId string) (bool, error) {
	args := m.Called(userId, dmId)
	return args.Bool(0), args.Error(1)
}
func (m *MockGoChatRepository) HasModerationRole(ctx context.Context, userId, serverId string) (bool, error) {
	args := m.Called(userId, serverId)
	return args.Bool(0), args.Error(1)
}
