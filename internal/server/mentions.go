package server

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/npezzotti/gochat-realtime/internal/database"
	"github.com/npezzotti/gochat-realtime/internal/types"
)

const notificationPreviewLength = 100

var mentionPattern = regexp.MustCompile(`<@(\w+)>`)

// mentionedUserIds returns each distinct <@id> in content, in order.
func mentionedUserIds(content string) []string {
	var ids []string
	seen := make(map[string]struct{})
	for _, m := range mentionPattern.FindAllStringSubmatch(content, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		ids = append(ids, m[1])
	}
	return ids
}

func preview(content string) string {
	r := []rune(content)
	if len(r) <= notificationPreviewLength {
		return content
	}
	return string(r[:notificationPreviewLength])
}

// notifyMentions notifies every mentioned user who can see the message and
// has mention notifications on. Failures are logged, never reported to the
// sender: the message itself was delivered.
func (cs *ChatServer) notifyMentions(ctx context.Context, c *Client, msg types.Message) {
	for _, userId := range mentionedUserIds(msg.Content) {
		if userId == c.user.Id {
			continue
		}

		var (
			visible bool
			err     error
		)
		if msg.IsDirect() {
			visible, err = cs.db.IsDMParticipant(ctx, userId, msg.DmId)
		} else {
			visible, err = cs.db.IsChannelAccessible(ctx, userId, msg.ChannelId)
		}
		if err != nil {
			cs.log.Printf("mention access check for %s: %v", userId, err)
			continue
		}
		if !visible {
			continue
		}

		settings, err := cs.db.GetNotificationSettings(ctx, userId)
		if err != nil {
			if !errors.Is(err, database.ErrNotFound) {
				cs.log.Printf("GetNotificationSettings(%s): %v", userId, err)
			}
			continue
		}
		if !settings.Mentions {
			continue
		}

		cs.notify(ctx, database.CreateNotificationParams{
			Id:      newEventId(),
			UserId:  userId,
			Type:    types.NotificationMention,
			Title:   fmt.Sprintf("%s mentioned you", c.user.Username),
			Content: preview(msg.Content),
			Data: map[string]any{
				"channelId": targetId(msg),
				"messageId": msg.Id,
				"authorId":  c.user.Id,
				"username":  c.user.Username,
			},
		})
	}
}

func (cs *ChatServer) notifyReply(ctx context.Context, c *Client, parent, reply types.Message) {
	settings, err := cs.db.GetNotificationSettings(ctx, parent.Author.Id)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			cs.log.Printf("GetNotificationSettings(%s): %v", parent.Author.Id, err)
		}
		return
	}
	if !settings.Replies {
		return
	}

	cs.notify(ctx, database.CreateNotificationParams{
		Id:      newEventId(),
		UserId:  parent.Author.Id,
		Type:    types.NotificationReply,
		Title:   fmt.Sprintf("%s replied to your message", c.user.Username),
		Content: preview(reply.Content),
		Data: map[string]any{
			"channelId": targetId(reply),
			"messageId": reply.Id,
			"parentId":  parent.Id,
			"authorId":  c.user.Id,
			"username":  c.user.Username,
		},
	})
}

// notify stores a notification and delivers it to every device of its user.
func (cs *ChatServer) notify(ctx context.Context, params database.CreateNotificationParams) {
	n, err := cs.db.CreateNotification(ctx, params)
	if err != nil {
		cs.log.Printf("CreateNotification(%s): %v", params.UserId, err)
		return
	}

	cs.broadcast(UserRoom(params.UserId), newServerMessage(EventNotificationNew, n))
}
