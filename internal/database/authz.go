package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/npezzotti/gochat-realtime/internal/types"
)

func (db *PgGoChatRepository) IsServerMember(ctx context.Context, userId, serverId string) (types.MemberRole, bool, error) {
	var role string
	err := db.conn.QueryRowxContext(ctx,
		"SELECT role FROM server_members WHERE user_id = $1 AND server_id = $2",
		userId, serverId).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return types.MemberRole(role), true, nil
}

// IsChannelAccessible reports whether userId is a member of the server that
// owns channelId. Per-channel permission overrides live outside the gateway.
func (db *PgGoChatRepository) IsChannelAccessible(ctx context.Context, userId, channelId string) (bool, error) {
	var ok bool
	err := db.conn.QueryRowxContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM channels c "+
			"JOIN server_members sm ON sm.server_id = c.server_id "+
			"WHERE c.id = $1 AND sm.user_id = $2)",
		channelId, userId).Scan(&ok)
	return ok, err
}

func (db *PgGoChatRepository) IsDMParticipant(ctx context.Context, userId, dmId string) (bool, error) {
	var ok bool
	err := db.conn.QueryRowxContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM direct_message_participants WHERE dm_id = $1 AND user_id = $2)",
		dmId, userId).Scan(&ok)
	return ok, err
}

func (db *PgGoChatRepository) HasModerationRole(ctx context.Context, userId, serverId string) (bool, error) {
	role, ok, err := db.IsServerMember(ctx, userId, serverId)
	if err != nil || !ok {
		return false, err
	}
	return role.CanModerate(), nil
}
