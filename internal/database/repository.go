package database

import (
	"context"
	"time"

	"github.com/npezzotti/gochat-realtime/internal/types"
)

// Persistence is the durable store behind the gateway. Every write the
// gateway broadcasts goes through here first.
type Persistence interface {
	Ping(ctx context.Context) error
	GetUser(ctx context.Context, userId string) (types.User, error)
	ListServerIDs(ctx context.Context, userId string) ([]string, error)
	ListPresenceContacts(ctx context.Context, userId string) ([]string, error)
	GetChannel(ctx context.Context, channelId string) (types.Channel, error)
	GetMessage(ctx context.Context, messageId string) (types.Message, error)
	CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error)
	EditMessage(ctx context.Context, messageId, content string) (types.Message, error)
	DeleteMessage(ctx context.Context, messageId string) error
	SetMessagePinned(ctx context.Context, params SetPinnedParams) (types.PinState, error)
	ToggleReaction(ctx context.Context, messageId, userId, emoji string) (bool, error)
	GetReactions(ctx context.Context, messageId string) ([]types.Reaction, error)
	GetNotificationSettings(ctx context.Context, userId string) (types.NotificationSettings, error)
	CreateNotification(ctx context.Context, params CreateNotificationParams) (types.Notification, error)
	UpdateUserStatus(ctx context.Context, params UpdateStatusParams) error
	UpdateCustomStatus(ctx context.Context, params UpdateCustomStatusParams) error
	ClearExpiredCustomStatuses(ctx context.Context, now time.Time) ([]string, error)
	CreateModerationRecord(ctx context.Context, params CreateModerationParams) (types.ModerationAction, error)
	GetActiveTimeout(ctx context.Context, userId, serverId string, now time.Time) (*types.ModerationAction, error)
}

// Authorizer answers membership questions. Results are never cached by the
// gateway; every call reflects the store at call time.
type Authorizer interface {
	IsServerMember(ctx context.Context, userId, serverId string) (types.MemberRole, bool, error)
	IsChannelAccessible(ctx context.Context, userId, channelId string) (bool, error)
	IsDMParticipant(ctx context.Context, userId, dmId string) (bool, error)
	HasModerationRole(ctx context.Context, userId, serverId string) (bool, error)
}

type GoChatRepository interface {
	Persistence
	Authorizer
}
