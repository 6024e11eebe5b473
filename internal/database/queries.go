package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"

	"github.com/npezzotti/gochat-realtime/internal/types"
)

const selectMessage = `
	SELECT
		m.id, m.seq, m.content, m.edited, m.channel_id, m.dm_id, m.parent_id,
		m.reply_count, m.pinned, m.created_at, m.updated_at,
		u.id AS author_id, u.username AS author_username,
		u.avatar AS author_avatar, u.status AS author_status
	FROM messages m
	JOIN users u ON u.id = m.author_id
	WHERE m.id = $1`

func (db *PgGoChatRepository) GetUser(ctx context.Context, userId string) (types.User, error) {
	var row struct {
		Id       string         `db:"id"`
		Username string         `db:"username"`
		Avatar   sql.NullString `db:"avatar"`
		Status   string         `db:"status"`
	}
	err := db.conn.GetContext(ctx, &row,
		"SELECT id, username, avatar, status FROM users WHERE id = $1", userId)
	if errors.Is(err, sql.ErrNoRows) {
		return types.User{}, ErrNotFound
	}
	if err != nil {
		return types.User{}, err
	}

	return types.User{
		Id:       row.Id,
		Username: row.Username,
		Avatar:   row.Avatar.String,
		Status:   types.PresenceStatus(row.Status),
	}, nil
}

func (db *PgGoChatRepository) ListServerIDs(ctx context.Context, userId string) ([]string, error) {
	var ids []string
	err := db.conn.SelectContext(ctx, &ids,
		"SELECT server_id FROM server_members WHERE user_id = $1 ORDER BY server_id", userId)
	return ids, err
}

// ListPresenceContacts returns DM partners and accepted friends of userId.
func (db *PgGoChatRepository) ListPresenceContacts(ctx context.Context, userId string) ([]string, error) {
	query := `
		SELECT p.user_id FROM direct_message_participants p
		JOIN direct_message_participants me ON me.dm_id = p.dm_id AND me.user_id = $1
		WHERE p.user_id <> $1
		UNION
		SELECT friend_id FROM friendships WHERE user_id = $1 AND status = 'ACCEPTED'
		UNION
		SELECT user_id FROM friendships WHERE friend_id = $1 AND status = 'ACCEPTED'`

	var ids []string
	err := db.conn.SelectContext(ctx, &ids, query, userId)
	return ids, err
}

func (db *PgGoChatRepository) GetChannel(ctx context.Context, channelId string) (types.Channel, error) {
	var ch types.Channel
	row := db.conn.QueryRowxContext(ctx,
		"SELECT id, server_id, name FROM channels WHERE id = $1", channelId)
	err := row.Scan(&ch.Id, &ch.ServerId, &ch.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Channel{}, ErrNotFound
	}
	return ch, err
}

func (db *PgGoChatRepository) GetMessage(ctx context.Context, messageId string) (types.Message, error) {
	return db.getMessage(ctx, db.conn, messageId)
}

func (db *PgGoChatRepository) getMessage(ctx context.Context, q sqlx.QueryerContext, messageId string) (types.Message, error) {
	var row messageRow
	err := sqlx.GetContext(ctx, q, &row, selectMessage, messageId)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Message{}, ErrNotFound
	}
	if err != nil {
		return types.Message{}, err
	}

	msg := row.toMessage()

	var attachments []types.Attachment
	if err := sqlx.SelectContext(ctx, q, &attachments,
		"SELECT id, url, filename, size FROM attachments WHERE message_id = $1 ORDER BY id",
		messageId); err != nil {
		return types.Message{}, fmt.Errorf("select attachments: %w", err)
	}
	if attachments != nil {
		msg.Attachments = attachments
	}

	reactions, err := selectReactions(ctx, q, messageId)
	if err != nil {
		return types.Message{}, err
	}
	msg.Reactions = reactions

	return msg, nil
}

// CreateMessage stores the message and bumps the owning room's sequence
// counter in one transaction, so seq is dense and monotonic per room.
func (db *PgGoChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return types.Message{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if params.DmId != "" {
		err = tx.QueryRowxContext(ctx,
			"UPDATE direct_messages SET seq_id = seq_id + 1, updated_at = $2 WHERE id = $1 RETURNING seq_id",
			params.DmId, params.CreatedAt).Scan(&seq)
	} else {
		err = tx.QueryRowxContext(ctx,
			"UPDATE channels SET seq_id = seq_id + 1 WHERE id = $1 RETURNING seq_id",
			params.ChannelId).Scan(&seq)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return types.Message{}, ErrNotFound
	}
	if err != nil {
		return types.Message{}, fmt.Errorf("increment seq: %w", err)
	}

	if params.ParentId != "" {
		res, err := tx.ExecContext(ctx,
			"UPDATE messages SET reply_count = reply_count + 1 WHERE id = $1", params.ParentId)
		if err != nil {
			return types.Message{}, fmt.Errorf("increment reply count: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.Message{}, ErrNotFound
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO messages (id, seq, content, channel_id, dm_id, parent_id, author_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)",
		params.Id,
		seq,
		params.Content,
		nullString(params.ChannelId),
		nullString(params.DmId),
		nullString(params.ParentId),
		params.AuthorId,
		params.CreatedAt,
	); err != nil {
		return types.Message{}, fmt.Errorf("insert message: %w", err)
	}

	msg, err := db.getMessage(ctx, tx, params.Id)
	if err != nil {
		return types.Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.Message{}, fmt.Errorf("commit: %w", err)
	}

	return msg, nil
}

func (db *PgGoChatRepository) EditMessage(ctx context.Context, messageId, content string) (types.Message, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET content = $2, edited = TRUE, updated_at = $3 WHERE id = $1",
		messageId, content, time.Now().UTC())
	if err != nil {
		return types.Message{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.Message{}, ErrNotFound
	}

	return db.getMessage(ctx, db.conn, messageId)
}

func (db *PgGoChatRepository) DeleteMessage(ctx context.Context, messageId string) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM messages WHERE id = $1", messageId)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *PgGoChatRepository) SetMessagePinned(ctx context.Context, params SetPinnedParams) (types.PinState, error) {
	var (
		pinnedAt   *time.Time
		pinnedById sql.NullString
	)
	if params.Pinned {
		at := params.At
		pinnedAt = &at
		pinnedById = nullString(params.PinnedById)
	}

	var (
		state     types.PinState
		channelId sql.NullString
		at        sql.NullTime
		by        sql.NullString
	)
	err := db.conn.QueryRowxContext(ctx,
		"UPDATE messages SET pinned = $2, pinned_at = $3, pinned_by_id = $4 WHERE id = $1 "+
			"RETURNING id, channel_id, pinned, pinned_at, pinned_by_id",
		params.MessageId, params.Pinned, pinnedAt, pinnedById,
	).Scan(&state.Id, &channelId, &state.Pinned, &at, &by)
	if errors.Is(err, sql.ErrNoRows) {
		return types.PinState{}, ErrNotFound
	}
	if err != nil {
		return types.PinState{}, err
	}

	state.ChannelId = channelId.String
	state.PinnedById = by.String
	if at.Valid {
		t := at.Time
		state.PinnedAt = &t
	}
	return state, nil
}

// ToggleReaction removes the (message, user, emoji) reaction if present and
// adds it otherwise. The unique constraint makes concurrent toggles safe:
// a racing insert is absorbed by ON CONFLICT rather than duplicated.
func (db *PgGoChatRepository) ToggleReaction(ctx context.Context, messageId, userId, emoji string) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3",
		messageId, userId, emoji)
	if err != nil {
		return false, fmt.Errorf("delete reaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}

	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO message_reactions (id, message_id, user_id, emoji, created_at) VALUES ($1, $2, $3, $4, $5) "+
			"ON CONFLICT (message_id, user_id, emoji) DO NOTHING",
		ulid.Make().String(), messageId, userId, emoji, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("insert reaction: %w", err)
	}
	return true, nil
}

func (db *PgGoChatRepository) GetReactions(ctx context.Context, messageId string) ([]types.Reaction, error) {
	return selectReactions(ctx, db.conn, messageId)
}

func selectReactions(ctx context.Context, q sqlx.QueryerContext, messageId string) ([]types.Reaction, error) {
	var rows []reactionRow
	err := sqlx.SelectContext(ctx, q, &rows,
		"SELECT r.id, r.message_id, r.emoji, r.created_at, u.id AS user_id, u.username "+
			"FROM message_reactions r JOIN users u ON u.id = r.user_id "+
			"WHERE r.message_id = $1 ORDER BY r.created_at, r.id",
		messageId)
	if err != nil {
		return nil, fmt.Errorf("select reactions: %w", err)
	}

	reactions := make([]types.Reaction, 0, len(rows))
	for _, r := range rows {
		reactions = append(reactions, types.Reaction{
			Id:        r.Id,
			MessageId: r.MessageId,
			Emoji:     r.Emoji,
			User:      types.User{Id: r.UserId, Username: r.Username},
			CreatedAt: r.CreatedAt,
		})
	}
	return reactions, nil
}

// GetNotificationSettings falls back to everything enabled when the user
// never saved settings.
func (db *PgGoChatRepository) GetNotificationSettings(ctx context.Context, userId string) (types.NotificationSettings, error) {
	settings := types.NotificationSettings{UserId: userId, Mentions: true, Replies: true}
	err := db.conn.QueryRowxContext(ctx,
		"SELECT mentions, replies FROM notification_settings WHERE user_id = $1", userId,
	).Scan(&settings.Mentions, &settings.Replies)
	if errors.Is(err, sql.ErrNoRows) {
		return settings, nil
	}
	return settings, err
}

func (db *PgGoChatRepository) CreateNotification(ctx context.Context, params CreateNotificationParams) (types.Notification, error) {
	data, err := json.Marshal(params.Data)
	if err != nil {
		return types.Notification{}, fmt.Errorf("marshal notification data: %w", err)
	}

	n := types.Notification{
		Id:      params.Id,
		UserId:  params.UserId,
		Type:    params.Type,
		Title:   params.Title,
		Content: params.Content,
		Data:    params.Data,
	}
	err = db.conn.QueryRowxContext(ctx,
		"INSERT INTO notifications (id, user_id, type, title, content, data) VALUES ($1, $2, $3, $4, $5, $6) "+
			"RETURNING created_at",
		params.Id, params.UserId, string(params.Type), params.Title, params.Content, data,
	).Scan(&n.CreatedAt)
	return n, err
}

func (db *PgGoChatRepository) UpdateUserStatus(ctx context.Context, params UpdateStatusParams) error {
	var err error
	if params.LastSeenAt != nil {
		_, err = db.conn.ExecContext(ctx,
			"UPDATE users SET status = $2, last_seen_at = $3 WHERE id = $1",
			params.UserId, string(params.Status), *params.LastSeenAt)
	} else {
		_, err = db.conn.ExecContext(ctx,
			"UPDATE users SET status = $2 WHERE id = $1",
			params.UserId, string(params.Status))
	}
	return err
}

func (db *PgGoChatRepository) UpdateCustomStatus(ctx context.Context, params UpdateCustomStatusParams) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE users SET custom_status = $2, custom_status_emoji = $3, status_expires_at = $4 WHERE id = $1",
		params.UserId, params.Text, params.Emoji, params.ExpiresAt)
	return err
}

// ClearExpiredCustomStatuses wipes every custom status whose expiry is at or
// before now and returns the affected users.
func (db *PgGoChatRepository) ClearExpiredCustomStatuses(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := sqlx.SelectContext(ctx, db.conn, &ids,
		"UPDATE users SET custom_status = NULL, custom_status_emoji = NULL, status_expires_at = NULL "+
			"WHERE status_expires_at IS NOT NULL AND status_expires_at <= $1 RETURNING id",
		now)
	return ids, err
}

func (db *PgGoChatRepository) CreateModerationRecord(ctx context.Context, params CreateModerationParams) (types.ModerationAction, error) {
	var row moderationRow
	err := db.conn.QueryRowxContext(ctx,
		"INSERT INTO moderation_actions (id, type, server_id, moderator_id, target_id, reason, expires_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7) "+
			"RETURNING id, type, server_id, moderator_id, target_id, reason, expires_at, created_at",
		params.Id, string(params.Type), params.ServerId, params.ModeratorId, params.TargetId,
		nullString(params.Reason), params.ExpiresAt,
	).StructScan(&row)
	if err != nil {
		return types.ModerationAction{}, err
	}
	return row.toAction(), nil
}

// GetActiveTimeout looks at the latest TIMEOUT/UNTIMEOUT record only; an
// UNTIMEOUT or an expired TIMEOUT both mean the user may speak.
func (db *PgGoChatRepository) GetActiveTimeout(ctx context.Context, userId, serverId string, now time.Time) (*types.ModerationAction, error) {
	var row moderationRow
	err := db.conn.GetContext(ctx, &row,
		"SELECT id, type, server_id, moderator_id, target_id, reason, expires_at, created_at "+
			"FROM moderation_actions WHERE target_id = $1 AND server_id = $2 AND type IN ('TIMEOUT', 'UNTIMEOUT') "+
			"ORDER BY created_at DESC LIMIT 1",
		userId, serverId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	action := row.toAction()
	if !action.Active(now) {
		return nil, nil
	}
	return &action, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
