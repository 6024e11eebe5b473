package server

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/npezzotti/gochat-realtime/internal/database"
	"github.com/npezzotti/gochat-realtime/internal/types"
)

func TestMentionedUserIds(t *testing.T) {
	assert.Equal(t, []string{"b", "c"}, mentionedUserIds("hey <@b> and <@c>, also <@b>"))
	assert.Nil(t, mentionedUserIds("no mentions @b <@>"))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("short"))

	long := strings.Repeat("ü", 150)
	assert.Equal(t, strings.Repeat("ü", 100), preview(long))
}

func TestSendNotifiesMentions(t *testing.T) {
	f := newFanoutFixture(t, Options{})
	f.allowChannel("a")
	carol := newTestClient(t, f.cs, "c", "carol")
	dave := newTestClient(t, f.cs, "d", "dave")

	content := "ping <@b> <@c> <@d> <@x> <@a>"
	f.db.On("CreateMessage", mock.Anything).Return(storedMessage("m1", userAlice, content), nil).Once()

	// b can see the channel and wants mentions
	f.db.On("IsChannelAccessible", "b", "c1").Return(true, nil).Once()
	f.db.On("GetNotificationSettings", "b").Return(types.NotificationSettings{Mentions: true, Replies: true}, nil).Once()
	// c has mentions turned off
	f.db.On("IsChannelAccessible", "c", "c1").Return(true, nil).Once()
	f.db.On("GetNotificationSettings", "c").Return(types.NotificationSettings{Mentions: false, Replies: true}, nil).Once()
	// d cannot see the channel
	f.db.On("IsChannelAccessible", "d", "c1").Return(false, nil).Once()
	// x lookup fails
	f.db.On("IsChannelAccessible", "x", "c1").Return(false, assert.AnError).Once()

	f.db.On("CreateNotification", mock.MatchedBy(func(p database.CreateNotificationParams) bool {
		return p.UserId == "b" && p.Type == types.NotificationMention &&
			p.Title == "alice mentioned you" && p.Content == content &&
			p.Data["messageId"] == "m1" && p.Data["channelId"] == "c1"
	})).Return(types.Notification{Id: "n1", UserId: "b", Type: types.NotificationMention}, nil).Once()

	require.NoError(t, f.cs.Send(context.Background(), f.alice, MessageSend{ChannelId: "c1", Content: content}))

	msgs := drain(f.bob)
	require.Len(t, msgs, 2)
	assert.Equal(t, EventMessageNew, msgs[0].Event)
	assert.Equal(t, EventNotificationNew, msgs[1].Event)
	assert.Equal(t, types.Notification{Id: "n1", UserId: "b", Type: types.NotificationMention}, msgs[1].Data)

	assertNoMessage(t, carol)
	assertNoMessage(t, dave)
	f.db.AssertNotCalled(t, "GetNotificationSettings", "a")
}

func TestReplyToSelfDoesNotNotify(t *testing.T) {
	f := newFanoutFixture(t, Options{})
	f.allowChannel("a")

	parent := storedMessage("p1", userAlice, "thinking")
	f.db.On("GetMessage", "p1").Return(parent, nil).Once()
	reply := storedMessage("r1", userAlice, "more thoughts")
	reply.ParentId = "p1"
	f.db.On("CreateMessage", mock.Anything).Return(reply, nil).Once()

	require.NoError(t, f.cs.Reply(context.Background(), f.alice, MessageReply{ParentId: "p1", Content: "more thoughts"}))

	assert.Equal(t, EventMessageReplied, recv(t, f.bob).Event)
	f.db.AssertNotCalled(t, "GetNotificationSettings", mock.Anything)
	f.db.AssertNotCalled(t, "CreateNotification", mock.Anything)
}
