package database

import (
	"database/sql"
	"errors"
	"time"

	"github.com/npezzotti/gochat-realtime/internal/types"
)

var ErrNotFound = errors.New("not found")

type CreateMessageParams struct {
	Id        string
	AuthorId  string
	ChannelId string
	DmId      string
	ParentId  string
	Content   string
	CreatedAt time.Time
}

type SetPinnedParams struct {
	MessageId  string
	PinnedById string
	Pinned     bool
	At         time.Time
}

type CreateNotificationParams struct {
	Id      string
	UserId  string
	Type    types.NotificationType
	Title   string
	Content string
	Data    map[string]any
}

type UpdateStatusParams struct {
	UserId     string
	Status     types.PresenceStatus
	LastSeenAt *time.Time
}

type UpdateCustomStatusParams struct {
	UserId    string
	Text      *string
	Emoji     *string
	ExpiresAt *time.Time
}

type CreateModerationParams struct {
	Id          string
	Type        types.ModerationType
	ServerId    string
	ModeratorId string
	TargetId    string
	Reason      string
	ExpiresAt   *time.Time
}

type messageRow struct {
	Id           string         `db:"id"`
	Seq          int64          `db:"seq"`
	Content      string         `db:"content"`
	Edited       bool           `db:"edited"`
	ChannelId    sql.NullString `db:"channel_id"`
	DmId         sql.NullString `db:"dm_id"`
	ParentId     sql.NullString `db:"parent_id"`
	ReplyCount   int            `db:"reply_count"`
	Pinned       bool           `db:"pinned"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	AuthorId     string         `db:"author_id"`
	AuthorName   string         `db:"author_username"`
	AuthorAvatar sql.NullString `db:"author_avatar"`
	AuthorStatus string         `db:"author_status"`
}

func (r messageRow) toMessage() types.Message {
	return types.Message{
		Id:         r.Id,
		Seq:        r.Seq,
		Content:    r.Content,
		Edited:     r.Edited,
		ChannelId:  r.ChannelId.String,
		DmId:       r.DmId.String,
		ParentId:   r.ParentId.String,
		ReplyCount: r.ReplyCount,
		Pinned:     r.Pinned,
		Author: types.User{
			Id:       r.AuthorId,
			Username: r.AuthorName,
			Avatar:   r.AuthorAvatar.String,
			Status:   types.PresenceStatus(r.AuthorStatus),
		},
		Attachments: []types.Attachment{},
		Reactions:   []types.Reaction{},
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type reactionRow struct {
	Id        string    `db:"id"`
	MessageId string    `db:"message_id"`
	Emoji     string    `db:"emoji"`
	CreatedAt time.Time `db:"created_at"`
	UserId    string    `db:"user_id"`
	Username  string    `db:"username"`
}

type moderationRow struct {
	Id          string         `db:"id"`
	Type        string         `db:"type"`
	ServerId    string         `db:"server_id"`
	ModeratorId string         `db:"moderator_id"`
	TargetId    string         `db:"target_id"`
	Reason      sql.NullString `db:"reason"`
	ExpiresAt   sql.NullTime   `db:"expires_at"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (r moderationRow) toAction() types.ModerationAction {
	a := types.ModerationAction{
		Id:          r.Id,
		Type:        types.ModerationType(r.Type),
		ServerId:    r.ServerId,
		ModeratorId: r.ModeratorId,
		TargetId:    r.TargetId,
		Reason:      r.Reason.String,
		CreatedAt:   r.CreatedAt,
	}
	if r.ExpiresAt.Valid {
		t := r.ExpiresAt.Time
		a.ExpiresAt = &t
	}
	return a
}
