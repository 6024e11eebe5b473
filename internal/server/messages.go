package server

import (
	"encoding/json"
	"time"

	"github.com/npezzotti/gochat-realtime/internal/types"
)

// Inbound events.
const (
	EventChannelJoin       = "channel:join"
	EventChannelLeave      = "channel:leave"
	EventDMJoin            = "dm:join"
	EventDMLeave           = "dm:leave"
	EventServerSubscribe   = "server:subscribe"
	EventServerUnsubscribe = "server:unsubscribe"
	EventMessageSend       = "message:send"
	EventMessageEdit       = "message:edit"
	EventMessageDelete     = "message:delete"
	EventMessageReact      = "message:react"
	EventMessageReply      = "message:reply"
	EventMessagePin        = "message:pin"
	EventMessageUnpin      = "message:unpin"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
	EventDMSend            = "dm:send"
	EventSetStatus         = "user:setStatus"
	EventSetCustomStatus   = "user:setCustomStatus"
)

// Outbound events.
const (
	EventChannelJoined       = "channel:joined"
	EventDMJoined            = "dm:joined"
	EventServerJoined        = "server:joined"
	EventMessageNew          = "message:new"
	EventMessageUpdated      = "message:updated"
	EventMessageDeleted      = "message:deleted"
	EventReactionsUpdated    = "message:reactions_updated"
	EventMessageReplied      = "message:reply"
	EventMessagePinned       = "message:pinned"
	EventMessageUnpinned     = "message:unpinned"
	EventUserStatus          = "user:status"
	EventUserStatusChanged   = "user:statusChanged"
	EventCustomStatusChanged = "user:customStatusChanged"
	EventNotificationNew     = "notification:new"
	EventError               = "error"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ServerMessage struct {
	BaseMessage
	Event      string  `json:"event"`
	Data       any     `json:"data,omitempty"`
	SkipClient *Client `json:"-"`
}

type RoomJoined struct {
	ChannelId string `json:"channelId,omitempty"`
	DmId      string `json:"dmId,omitempty"`
	ServerId  string `json:"serverId,omitempty"`
}

type MessageDeleted struct {
	Id        string `json:"id"`
	ChannelId string `json:"channelId"`
}

type ReactionsUpdated struct {
	MessageId string           `json:"messageId"`
	Reactions []types.Reaction `json:"reactions"`
	ChannelId string           `json:"channelId"`
}

type Typing struct {
	UserId    string `json:"userId"`
	Username  string `json:"username,omitempty"`
	ChannelId string `json:"channelId"`
}

type UserStatus struct {
	UserId string               `json:"userId"`
	Status types.PresenceStatus `json:"status"`
}

type CustomStatus struct {
	UserId            string     `json:"userId"`
	CustomStatus      *string    `json:"customStatus"`
	CustomStatusEmoji *string    `json:"customStatusEmoji"`
	StatusExpiresAt   *time.Time `json:"statusExpiresAt"`
}

type ErrorPayload struct {
	Message   string     `json:"message"`
	Code      ErrorKind  `json:"code"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func newServerMessage(event string, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Event: event,
		Data:  data,
	}
}

func ErrEvent(id int, e *Error) *ServerMessage {
	msg := newServerMessage(EventError, ErrorPayload{
		Message:   e.Message,
		Code:      e.Kind,
		ExpiresAt: e.ExpiresAt,
	})
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func ErrInvalidMessage(id int) *ServerMessage {
	return ErrEvent(id, validationError("Invalid message format"))
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
