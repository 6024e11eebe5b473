package types

import (
	"time"
)

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "ONLINE"
	StatusIdle    PresenceStatus = "IDLE"
	StatusDND     PresenceStatus = "DND"
	StatusOffline PresenceStatus = "OFFLINE"
)

// Valid reports whether s is one of the known presence states.
func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusIdle, StatusDND, StatusOffline:
		return true
	}
	return false
}

type MemberRole string

const (
	RoleOwner     MemberRole = "OWNER"
	RoleAdmin     MemberRole = "ADMIN"
	RoleModerator MemberRole = "MODERATOR"
	RoleMember    MemberRole = "MEMBER"
)

// CanModerate reports whether the role may delete or pin other members' messages.
func (r MemberRole) CanModerate() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleModerator
}

type User struct {
	Id       string         `json:"id"`
	Username string         `json:"username"`
	Avatar   string         `json:"avatar,omitempty"`
	Status   PresenceStatus `json:"status,omitempty"`
}

type Channel struct {
	Id       string `json:"id"`
	ServerId string `json:"server_id"`
	Name     string `json:"name"`
}

type Attachment struct {
	Id       string `json:"id"`
	Url      string `json:"url"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type Reaction struct {
	Id        string    `json:"id"`
	MessageId string    `json:"messageId"`
	Emoji     string    `json:"emoji"`
	User      User      `json:"user"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is the canonical representation broadcast for every message event.
// ChannelId carries the DM id for direct messages so clients can key their
// stores on a single field.
type Message struct {
	Id          string       `json:"id"`
	Seq         int64        `json:"seq"`
	Content     string       `json:"content"`
	Edited      bool         `json:"edited"`
	ChannelId   string       `json:"channelId,omitempty"`
	DmId        string       `json:"dmId,omitempty"`
	ParentId    string       `json:"parentId,omitempty"`
	ReplyCount  int          `json:"replyCount"`
	Pinned      bool         `json:"pinned"`
	Author      User         `json:"author"`
	Attachments []Attachment `json:"attachments"`
	Reactions   []Reaction   `json:"reactions"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// IsDirect reports whether the message belongs to a DM conversation.
func (m Message) IsDirect() bool {
	return m.DmId != ""
}

type PinState struct {
	Id         string     `json:"id"`
	ChannelId  string     `json:"channelId"`
	Pinned     bool       `json:"pinned"`
	PinnedAt   *time.Time `json:"pinnedAt,omitempty"`
	PinnedById string     `json:"pinnedById,omitempty"`
}

type NotificationType string

const (
	NotificationMention NotificationType = "MENTION"
	NotificationReply   NotificationType = "REPLY"
)

type Notification struct {
	Id        string           `json:"id"`
	UserId    string           `json:"userId"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Content   string           `json:"content"`
	Data      map[string]any   `json:"data"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"createdAt"`
}

type NotificationSettings struct {
	UserId   string `json:"userId"`
	Mentions bool   `json:"mentions"`
	Replies  bool   `json:"replies"`
}

type ModerationType string

const (
	ModerationTimeout       ModerationType = "TIMEOUT"
	ModerationUntimeout     ModerationType = "UNTIMEOUT"
	ModerationMessageDelete ModerationType = "MESSAGE_DELETE"
)

type ModerationAction struct {
	Id          string         `json:"id"`
	Type        ModerationType `json:"type"`
	ServerId    string         `json:"serverId"`
	ModeratorId string         `json:"moderatorId"`
	TargetId    string         `json:"targetId"`
	Reason      string         `json:"reason,omitempty"`
	ExpiresAt   *time.Time     `json:"expiresAt,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Active reports whether a timeout is still in force at now.
func (m ModerationAction) Active(now time.Time) bool {
	if m.Type != ModerationTimeout {
		return false
	}
	return m.ExpiresAt == nil || now.Before(*m.ExpiresAt)
}
