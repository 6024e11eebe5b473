package server

import (
	"context"
	"sync"
	"time"

	"github.com/npezzotti/gochat-realtime/internal/database"
	"github.com/npezzotti/gochat-realtime/internal/types"
)

// presenceTracker remembers which users were last announced as online, so
// transitions are broadcast on edges only.
type presenceTracker struct {
	mu     sync.Mutex
	online map[string]bool
	locks  keyedMutex
}

func newPresenceTracker() *presenceTracker {
	return &presenceTracker{online: make(map[string]bool)}
}

func (p *presenceTracker) announced(userId string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.online[userId]
}

func (p *presenceTracker) set(userId string, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if online {
		p.online[userId] = true
	} else {
		delete(p.online, userId)
	}
}

// reconcilePresence compares the user's live connection count with the last
// announced state and, on a change, persists and broadcasts the new status.
// Racing connects and disconnects for one user are serialized here, so every
// 0->1 and 1->0 transition is announced exactly once.
func (cs *ChatServer) reconcilePresence(ctx context.Context, userId string, origin *Client) {
	unlock := cs.presence.locks.Lock(userId)
	defer unlock()

	online := cs.registry.userConnectionCount(userId) > 0
	if cs.presence.announced(userId) == online {
		return
	}

	params := database.UpdateStatusParams{UserId: userId, Status: types.StatusOnline}
	if !online {
		now := time.Now().UTC()
		params.Status = types.StatusOffline
		params.LastSeenAt = &now
	}
	if err := cs.db.UpdateUserStatus(ctx, params); err != nil {
		cs.log.Printf("UpdateUserStatus(%s, %s): %v", userId, params.Status, err)
	}

	cs.presence.set(userId, online)
	if online {
		cs.stats.Incr(metricOnlineUsers)
	} else {
		cs.stats.Decr(metricOnlineUsers)
	}

	msg := newServerMessage(EventUserStatus, UserStatus{UserId: userId, Status: params.Status})
	msg.SkipClient = origin
	cs.broadcastRooms(cs.presenceAudience(ctx, userId), msg)
}

// presenceAudience lists the rooms that observe userId's presence: every
// server the user is in and the private rooms of DM partners and friends.
func (cs *ChatServer) presenceAudience(ctx context.Context, userId string) []string {
	var rooms []string

	serverIds, err := cs.db.ListServerIDs(ctx, userId)
	if err != nil {
		cs.log.Printf("ListServerIDs(%s): %v", userId, err)
	}
	for _, id := range serverIds {
		rooms = append(rooms, ServerRoom(id))
	}

	contacts, err := cs.db.ListPresenceContacts(ctx, userId)
	if err != nil {
		cs.log.Printf("ListPresenceContacts(%s): %v", userId, err)
	}
	for _, id := range contacts {
		rooms = append(rooms, UserRoom(id))
	}

	return rooms
}

// SetStatus records an explicit status choice. It is broadcast every time,
// to the user's audience and the user's other devices.
func (cs *ChatServer) SetStatus(ctx context.Context, c *Client, status types.PresenceStatus) error {
	if !status.Valid() {
		return validationError("Invalid status")
	}

	err := cs.db.UpdateUserStatus(ctx, database.UpdateStatusParams{UserId: c.user.Id, Status: status})
	if err != nil {
		return internalError("Failed to update status", err)
	}

	msg := newServerMessage(EventUserStatusChanged, UserStatus{UserId: c.user.Id, Status: status})
	msg.SkipClient = c
	cs.broadcastRooms(append(cs.presenceAudience(ctx, c.user.Id), UserRoom(c.user.Id)), msg)
	return nil
}

func (cs *ChatServer) SetCustomStatus(ctx context.Context, c *Client, p SetCustomStatus) error {
	if p.ExpiresAt != nil && !p.ExpiresAt.After(time.Now()) {
		return validationError("Custom status expiry must be in the future")
	}

	err := cs.db.UpdateCustomStatus(ctx, database.UpdateCustomStatusParams{
		UserId:    c.user.Id,
		Text:      p.Status,
		Emoji:     p.Emoji,
		ExpiresAt: p.ExpiresAt,
	})
	if err != nil {
		return internalError("Failed to update custom status", err)
	}

	msg := newServerMessage(EventCustomStatusChanged, CustomStatus{
		UserId:            c.user.Id,
		CustomStatus:      p.Status,
		CustomStatusEmoji: p.Emoji,
		StatusExpiresAt:   p.ExpiresAt,
	})
	msg.SkipClient = c
	cs.broadcastRooms(append(cs.presenceAudience(ctx, c.user.Id), UserRoom(c.user.Id)), msg)
	return nil
}

// sweepCustomStatuses clears custom statuses past their expiry and tells
// each affected user's audience.
func (cs *ChatServer) sweepCustomStatuses(ctx context.Context) {
	userIds, err := cs.db.ClearExpiredCustomStatuses(ctx, time.Now().UTC())
	if err != nil {
		cs.log.Printf("ClearExpiredCustomStatuses: %v", err)
		return
	}

	for _, id := range userIds {
		msg := newServerMessage(EventCustomStatusChanged, CustomStatus{UserId: id})
		cs.broadcastRooms(append(cs.presenceAudience(ctx, id), UserRoom(id)), msg)
	}
}
