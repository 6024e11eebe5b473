package server

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/npezzotti/gochat-realtime/internal/database"
	"github.com/npezzotti/gochat-realtime/internal/events"
	"github.com/npezzotti/gochat-realtime/internal/types"
)

const maxContentLength = 4000

func newEventId() string {
	return ulid.Make().String()
}

func checkContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", validationError("Message content cannot be empty")
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return "", validationError("Message content is too long")
	}
	return content, nil
}

// messageRoom is the room a stored message is broadcast to.
func messageRoom(m types.Message) string {
	if m.IsDirect() {
		return DMRoom(m.DmId)
	}
	return ChannelRoom(m.ChannelId)
}

// targetId is the id clients key their message stores on; DMs use the DM id.
func targetId(m types.Message) string {
	if m.IsDirect() {
		return m.DmId
	}
	return m.ChannelId
}

func canonical(m types.Message) types.Message {
	if m.IsDirect() {
		m.ChannelId = m.DmId
	}
	return m
}

// Send posts a new message to a channel.
func (cs *ChatServer) Send(ctx context.Context, c *Client, p MessageSend) error {
	content, err := checkContent(p.Content)
	if err != nil {
		return err
	}

	ch, err := cs.authorizeChannel(ctx, c, p.ChannelId, "Failed to send message")
	if err != nil {
		return err
	}
	if err := cs.checkTimeout(ctx, c, ch.ServerId); err != nil {
		return err
	}
	if err := cs.checkRate(ctx, c); err != nil {
		return err
	}

	msg, err := cs.createAndBroadcast(ctx, EventMessageNew, database.CreateMessageParams{
		Id:        newEventId(),
		AuthorId:  c.user.Id,
		ChannelId: ch.Id,
		Content:   content,
		CreatedAt: Now(),
	})
	if err != nil {
		return internalError("Failed to send message", err)
	}

	cs.notifyMentions(ctx, c, msg)
	return nil
}

// SendDM posts a new message to a DM conversation.
func (cs *ChatServer) SendDM(ctx context.Context, c *Client, p DMSend) error {
	content, err := checkContent(p.Content)
	if err != nil {
		return err
	}

	ok, err := cs.db.IsDMParticipant(ctx, c.user.Id, p.DmId)
	if err != nil {
		return internalError("Failed to send DM", err)
	}
	if !ok {
		return accessDenied("Access denied")
	}
	if err := cs.checkRate(ctx, c); err != nil {
		return err
	}

	msg, err := cs.createAndBroadcast(ctx, EventMessageNew, database.CreateMessageParams{
		Id:        newEventId(),
		AuthorId:  c.user.Id,
		DmId:      p.DmId,
		Content:   content,
		CreatedAt: Now(),
	})
	if err != nil {
		return internalError("Failed to send DM", err)
	}

	cs.notifyMentions(ctx, c, msg)
	return nil
}

// Edit replaces the content of a message. Only the author may edit.
func (cs *ChatServer) Edit(ctx context.Context, c *Client, p MessageEdit) error {
	content, err := checkContent(p.Content)
	if err != nil {
		return err
	}

	orig, err := cs.db.GetMessage(ctx, p.MessageId)
	if errors.Is(err, database.ErrNotFound) {
		return notFound("Message not found")
	}
	if err != nil {
		return internalError("Failed to edit message", err)
	}
	if orig.Author.Id != c.user.Id {
		return accessDenied("Permission denied")
	}

	room := messageRoom(orig)
	unlock := cs.roomLocks.Lock(room)
	defer unlock()

	updated, err := cs.db.EditMessage(ctx, p.MessageId, content)
	if errors.Is(err, database.ErrNotFound) {
		return notFound("Message not found")
	}
	if err != nil {
		return internalError("Failed to edit message", err)
	}

	cs.broadcast(room, newServerMessage(EventMessageUpdated, canonical(updated)))
	return nil
}

// Delete removes a message. Authors may delete their own messages; server
// moderators may delete anyone's, which is recorded as a moderation action.
func (cs *ChatServer) Delete(ctx context.Context, c *Client, p MessageDelete) error {
	msg, err := cs.db.GetMessage(ctx, p.MessageId)
	if errors.Is(err, database.ErrNotFound) {
		return notFound("Message not found")
	}
	if err != nil {
		return internalError("Failed to delete message", err)
	}

	var serverId string
	moderated := msg.Author.Id != c.user.Id
	if moderated {
		if msg.IsDirect() {
			return accessDenied("Permission denied")
		}

		ch, err := cs.db.GetChannel(ctx, msg.ChannelId)
		if err != nil {
			return internalError("Failed to delete message", err)
		}
		ok, err := cs.db.HasModerationRole(ctx, c.user.Id, ch.ServerId)
		if err != nil {
			return internalError("Failed to delete message", err)
		}
		if !ok {
			return accessDenied("Permission denied")
		}
		serverId = ch.ServerId
	}

	room := messageRoom(msg)
	unlock := cs.roomLocks.Lock(room)
	err = cs.db.DeleteMessage(ctx, msg.Id)
	if err == nil {
		cs.broadcast(room, newServerMessage(EventMessageDeleted, MessageDeleted{
			Id:        msg.Id,
			ChannelId: targetId(msg),
		}))
	}
	unlock()

	if errors.Is(err, database.ErrNotFound) {
		return notFound("Message not found")
	}
	if err != nil {
		return internalError("Failed to delete message", err)
	}

	if moderated {
		cs.recordModeration(ctx, c, serverId, msg)
	}
	return nil
}

func (cs *ChatServer) recordModeration(ctx context.Context, c *Client, serverId string, msg types.Message) {
	action, err := cs.db.CreateModerationRecord(ctx, database.CreateModerationParams{
		Id:          newEventId(),
		Type:        types.ModerationMessageDelete,
		ServerId:    serverId,
		ModeratorId: c.user.Id,
		TargetId:    msg.Author.Id,
		Reason:      "message " + msg.Id + " deleted",
	})
	if err != nil {
		cs.log.Printf("CreateModerationRecord(%s): %v", msg.Id, err)
		return
	}

	cs.publish(ctx, events.RoutingModeration, events.NewEnvelope("moderation.message_delete", c.user.Id, action))
}

// React toggles the user's emoji reaction and broadcasts the full reaction
// list as stored afterwards.
func (cs *ChatServer) React(ctx context.Context, c *Client, p MessageReact) error {
	msg, err := cs.db.GetMessage(ctx, p.MessageId)
	if errors.Is(err, database.ErrNotFound) {
		return notFound("Message not found")
	}
	if err != nil {
		return internalError("Failed to react to message", err)
	}
	if err := cs.authorizeMessage(ctx, c, msg, "Failed to react to message"); err != nil {
		return err
	}

	room := messageRoom(msg)
	unlock := cs.roomLocks.Lock(room)
	defer unlock()

	if _, err := cs.db.ToggleReaction(ctx, msg.Id, c.user.Id, p.Emoji); err != nil {
		return internalError("Failed to react to message", err)
	}

	reactions, err := cs.db.GetReactions(ctx, msg.Id)
	if err != nil {
		return internalError("Failed to react to message", err)
	}
	if reactions == nil {
		reactions = []types.Reaction{}
	}

	cs.broadcast(room, newServerMessage(EventReactionsUpdated, ReactionsUpdated{
		MessageId: msg.Id,
		Reactions: reactions,
		ChannelId: targetId(msg),
	}))
	return nil
}

// Reply posts a message in the parent's room and bumps the parent's reply
// count in the same write.
func (cs *ChatServer) Reply(ctx context.Context, c *Client, p MessageReply) error {
	content, err := checkContent(p.Content)
	if err != nil {
		return err
	}

	parent, err := cs.db.GetMessage(ctx, p.ParentId)
	if errors.Is(err, database.ErrNotFound) {
		return notFound("Parent message not found")
	}
	if err != nil {
		return internalError("Failed to send reply", err)
	}
	if p.ChannelId != "" && p.ChannelId != targetId(parent) {
		return validationError("Reply must be sent to the parent message's channel")
	}
	if err := cs.authorizeMessage(ctx, c, parent, "Failed to send reply"); err != nil {
		return err
	}

	if !parent.IsDirect() {
		ch, err := cs.db.GetChannel(ctx, parent.ChannelId)
		if err != nil {
			return internalError("Failed to send reply", err)
		}
		if err := cs.checkTimeout(ctx, c, ch.ServerId); err != nil {
			return err
		}
	}
	if err := cs.checkRate(ctx, c); err != nil {
		return err
	}

	reply, err := cs.createAndBroadcast(ctx, EventMessageReplied, database.CreateMessageParams{
		Id:        newEventId(),
		AuthorId:  c.user.Id,
		ChannelId: parent.ChannelId,
		DmId:      parent.DmId,
		ParentId:  parent.Id,
		Content:   content,
		CreatedAt: Now(),
	})
	if errors.Is(err, database.ErrNotFound) {
		return notFound("Parent message not found")
	}
	if err != nil {
		return internalError("Failed to send reply", err)
	}

	if parent.Author.Id != c.user.Id {
		cs.notifyReply(ctx, c, parent, reply)
	}
	return nil
}

// Pin marks a channel message as pinned. Requires a moderating role.
func (cs *ChatServer) Pin(ctx context.Context, c *Client, messageId string) error {
	return cs.setPinned(ctx, c, messageId, true)
}

func (cs *ChatServer) Unpin(ctx context.Context, c *Client, messageId string) error {
	return cs.setPinned(ctx, c, messageId, false)
}

func (cs *ChatServer) setPinned(ctx context.Context, c *Client, messageId string, pinned bool) error {
	failure, event := "Failed to pin message", EventMessagePinned
	if !pinned {
		failure, event = "Failed to unpin message", EventMessageUnpinned
	}

	msg, err := cs.db.GetMessage(ctx, messageId)
	if errors.Is(err, database.ErrNotFound) {
		return notFound("Message not found")
	}
	if err != nil {
		return internalError(failure, err)
	}
	if msg.IsDirect() {
		return accessDenied("Access denied")
	}

	ch, err := cs.db.GetChannel(ctx, msg.ChannelId)
	if err != nil {
		return internalError(failure, err)
	}
	role, member, err := cs.db.IsServerMember(ctx, c.user.Id, ch.ServerId)
	if err != nil {
		return internalError(failure, err)
	}
	if !member {
		return accessDenied("Access denied")
	}
	if !role.CanModerate() {
		return accessDenied("Insufficient permissions")
	}

	room := messageRoom(msg)
	unlock := cs.roomLocks.Lock(room)
	defer unlock()

	state, err := cs.db.SetMessagePinned(ctx, database.SetPinnedParams{
		MessageId:  msg.Id,
		PinnedById: c.user.Id,
		Pinned:     pinned,
		At:         Now(),
	})
	if errors.Is(err, database.ErrNotFound) {
		return notFound("Message not found")
	}
	if err != nil {
		return internalError(failure, err)
	}

	cs.broadcast(room, newServerMessage(event, state))
	return nil
}

// createAndBroadcast persists a message and broadcasts it while holding the
// room lock, so delivery order matches seq order within a room.
func (cs *ChatServer) createAndBroadcast(ctx context.Context, event string, params database.CreateMessageParams) (types.Message, error) {
	room := ChannelRoom(params.ChannelId)
	if params.DmId != "" {
		room = DMRoom(params.DmId)
	}

	unlock := cs.roomLocks.Lock(room)
	defer unlock()

	msg, err := cs.db.CreateMessage(ctx, params)
	if err != nil {
		return types.Message{}, err
	}

	msg = canonical(msg)
	cs.broadcast(room, newServerMessage(event, msg))
	return msg, nil
}

// authorizeChannel resolves channelId and checks the user may post there.
// A missing channel is reported as access denied.
func (cs *ChatServer) authorizeChannel(ctx context.Context, c *Client, channelId, failure string) (types.Channel, error) {
	ch, err := cs.db.GetChannel(ctx, channelId)
	if errors.Is(err, database.ErrNotFound) {
		return types.Channel{}, accessDenied("Access denied")
	}
	if err != nil {
		return types.Channel{}, internalError(failure, err)
	}

	ok, err := cs.db.IsChannelAccessible(ctx, c.user.Id, channelId)
	if err != nil {
		return types.Channel{}, internalError(failure, err)
	}
	if !ok {
		return types.Channel{}, accessDenied("Access denied")
	}
	return ch, nil
}

// authorizeMessage checks the user can see the room msg lives in.
func (cs *ChatServer) authorizeMessage(ctx context.Context, c *Client, msg types.Message, failure string) error {
	var (
		ok  bool
		err error
	)
	if msg.IsDirect() {
		ok, err = cs.db.IsDMParticipant(ctx, c.user.Id, msg.DmId)
	} else {
		ok, err = cs.db.IsChannelAccessible(ctx, c.user.Id, msg.ChannelId)
	}
	if err != nil {
		return internalError(failure, err)
	}
	if !ok {
		return accessDenied("Access denied")
	}
	return nil
}

func (cs *ChatServer) checkTimeout(ctx context.Context, c *Client, serverId string) error {
	timeout, err := cs.db.GetActiveTimeout(ctx, c.user.Id, serverId, time.Now().UTC())
	if err != nil {
		return internalError("Failed to send message", err)
	}
	if timeout != nil {
		return forbidden("You are timed out from sending messages in this server", timeout.ExpiresAt)
	}
	return nil
}

// checkRate fails open: a limiter error is logged and the send proceeds.
func (cs *ChatServer) checkRate(ctx context.Context, c *Client) error {
	if cs.limiter == nil {
		return nil
	}

	ok, err := cs.limiter.Allow(ctx, c.user.Id)
	if err != nil {
		cs.log.Printf("rate limiter: %v", err)
		return nil
	}
	if !ok {
		return forbidden("You are sending messages too quickly", nil)
	}
	return nil
}
