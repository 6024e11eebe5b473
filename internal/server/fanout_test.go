package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/npezzotti/gochat-realtime/internal/database"
	"github.com/npezzotti/gochat-realtime/internal/events"
	"github.com/npezzotti/gochat-realtime/internal/stats"
	"github.com/npezzotti/gochat-realtime/internal/types"
)

var (
	userAlice = types.User{Id: "a", Username: "alice"}
	userBob   = types.User{Id: "b", Username: "bob"}
)

type fanoutFixture struct {
	cs    *ChatServer
	db    *database.MockGoChatRepository
	alice *Client
	bob   *Client
}

// newFanoutFixture puts alice and bob in channel c1 of server s1.
func newFanoutFixture(t *testing.T, opts Options) *fanoutFixture {
	db := &database.MockGoChatRepository{}
	t.Cleanup(func() { db.AssertExpectations(t) })

	cs := newTestChatServer(t, db, &stats.MockStatsUpdater{}, opts)
	f := &fanoutFixture{
		cs:    cs,
		db:    db,
		alice: newTestClient(t, cs, userAlice.Id, userAlice.Username),
		bob:   newTestClient(t, cs, userBob.Id, userBob.Username),
	}
	cs.registry.join(f.alice, ChannelRoom("c1"))
	cs.registry.join(f.bob, ChannelRoom("c1"))
	return f
}

func (f *fanoutFixture) allowChannel(userId string) {
	f.db.On("GetChannel", "c1").Return(types.Channel{Id: "c1", ServerId: "s1", Name: "general"}, nil)
	f.db.On("IsChannelAccessible", userId, "c1").Return(true, nil)
	f.db.On("GetActiveTimeout", userId, "s1", mock.Anything).Return(nil, nil)
}

func storedMessage(id string, author types.User, content string) types.Message {
	return types.Message{
		Id:          id,
		Seq:         1,
		Content:     content,
		ChannelId:   "c1",
		Author:      author,
		Attachments: []types.Attachment{},
		Reactions:   []types.Reaction{},
	}
}

func TestSend(t *testing.T) {
	f := newFanoutFixture(t, Options{})
	f.allowChannel("a")

	created := storedMessage("m1", userAlice, "hello")
	f.db.On("CreateMessage", mock.MatchedBy(func(p database.CreateMessageParams) bool {
		return p.AuthorId == "a" && p.ChannelId == "c1" && p.Content == "hello" && p.Id != ""
	})).Return(created, nil).Once()

	require.NoError(t, f.cs.Send(context.Background(), f.alice, MessageSend{ChannelId: "c1", Content: "  hello  "}))

	for _, c := range []*Client{f.alice, f.bob} {
		msg := recv(t, c)
		assert.Equal(t, EventMessageNew, msg.Event)
		assert.Equal(t, created, msg.Data)
	}
	assertNoMessage(t, f.alice)
	assertNoMessage(t, f.bob)
}

func TestSendValidation(t *testing.T) {
	f := newFanoutFixture(t, Options{})
	ctx := context.Background()

	err := f.cs.Send(ctx, f.alice, MessageSend{ChannelId: "c1", Content: "   "})
	assert.Equal(t, "Message content cannot be empty", asError(err).Message)
	assert.Equal(t, KindValidation, asError(err).Kind)

	long := make([]rune, maxContentLength+1)
	for i := range long {
		long[i] = 'é'
	}
	err = f.cs.Send(ctx, f.alice, MessageSend{ChannelId: "c1", Content: string(long)})
	assert.Equal(t, "Message content is too long", asError(err).Message)

	assertNoMessage(t, f.bob)
}

func TestSendAccessDenied(t *testing.T) {
	f := newFanoutFixture(t, Options{})
	ctx := context.Background()

	f.db.On("GetChannel", "missing").Return(types.Channel{}, database.ErrNotFound).Once()
	err := f.cs.Send(ctx, f.alice, MessageSend{ChannelId: "missing", Content: "hi"})
	assert.Equal(t, accessDenied("Access denied"), err)

	f.db.On("GetChannel", "c2").Return(types.Channel{Id: "c2", ServerId: "s2"}, nil).Once()
	f.db.On("IsChannelAccessible", "a", "c2").Return(false, nil).Once()
	err = f.cs.Send(ctx, f.alice, MessageSend{ChannelId: "c2", Content: "hi"})
	assert.Equal(t, KindAccessDenied, asError(err).Kind)

	f.db.AssertNotCalled(t, "CreateMessage", mock.Anything)
}

func TestSendTimedOut(t *testing.T) {
	f := newFanoutFixture(t, Options{})
	expires := time.Now().Add(10 * time.Minute).UTC()

	f.db.On("GetChannel", "c1").Return(types.Channel{Id: "c1", ServerId: "s1"}, nil)
	f.db.On("IsChannelAccessible", "a", "c1").Return(true, nil)
	f.db.On("GetActiveTimeout", "a", "s1", mock.Anything).Return(&types.ModerationAction{
		Type:      types.ModerationTimeout,
		ExpiresAt: &expires,
	}, nil).Once()

	err := f.cs.Send(context.Background(), f.alice, MessageSend{ChannelId: "c1", Content: "hi"})

	e := asError(err)
	assert.Equal(t, KindForbidden, e.Kind)
	assert.Equal(t, "You are timed out from sending messages in this server", e.Message)
	require.NotNil(t, e.ExpiresAt)
	assert.True(t, expires.Equal(*e.ExpiresAt))
	assertNoMessage(t, f.bob)
}

type fakeLimiter struct {
	allow bool
	err   error
}

func (l fakeLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return l.allow, l.err
}

func TestSendRateLimited(t *testing.T) {
	t.Run("over the limit", func(t *testing.T) {
		f := newFanoutFixture(t, Options{RateLimiter: fakeLimiter{allow: false}})
		f.allowChannel("a")

		err := f.cs.Send(context.Background(), f.alice, MessageSend{ChannelId: "c1", Content: "hi"})
		assert.Equal(t, forbidden("You are sending messages too quickly", nil), err)
		assertNoMessage(t, f.bob)
	})

	t.Run("limiter failure lets the message through", func(t *testing.T) {
		f := newFanoutFixture(t, Options{RateLimiter: fakeLimiter{err: assert.AnError}})
		f.allowChannel("a")
		f.db.On("CreateMessage", mock.Anything).Return(storedMessage("m1", userAlice, "hi"), nil).Once()

		require.NoError(t, f.cs.Send(context.Background(), f.alice, MessageSend{ChannelId: "c1", Content: "hi"}))
		assert.Equal(t, EventMessageNew, recv(t, f.bob).Event)
	})
}

func TestSendDM(t *testing.T) {
	f := newFanoutFixture(t, Options{})
	f.cs.registry.join(f.alice, DMRoom("d1"))
	f.cs.registry.join(f.bob, DMRoom("d1"))

	f.db.On("IsDMParticipant", "a", "d1").Return(true, nil).Once()
	f.db.On("CreateMessage", mock.MatchedBy(func(p database.CreateMessageParams) bool {
		return p.DmId == "d1" && p.ChannelId == ""
	})).Return(types.Message{Id: "m1", DmId: "d1", Content: "psst", Author: userAlice}, nil).Once()

	require.NoError(t, f.cs.SendDM(context.Background(), f.alice, DMSend{DmId: "d1", Content: "psst"}))

	msg := recv(t, f.bob)
	assert.Equal(t, EventMessageNew, msg.Event)
	m := msg.Data.(types.Message)
	assert.Equal(t, "d1", m.ChannelId, "expected DM messages to carry the DM id as channelId")
	assert.Equal(t, "d1", m.DmId)

	f.db.On("IsDMParticipant", "a", "d2").Return(false, nil).Once()
	err := f.cs.SendDM(context.Background(), f.alice, DMSend{DmId: "d2", Content: "psst"})
	assert.Equal(t, KindAccessDenied, asError(err).Kind)
}

func TestEdit(t *testing.T) {
	f := newFanoutFixture(t, Options{})
	ctx := context.Background()
	orig := storedMessage("m1", userAlice, "helo")

	t.Run("author edits", func(t *testing.T) {
		updated := orig
		updated.Content, updated.Edited = "hello", true
		f.db.On("GetMessage", "m1").Return(orig, nil).Once()
		f.db.On("EditMessage", "m1", "hello").Return(updated, nil).Once()

		require.NoError(t, f.cs.Edit(ctx, f.alice, MessageEdit{MessageId: "m1", Content: "hello"}))

		for _, c := range []*Client{f.alice, f.bob} {
			msg := recv(t, c)
			assert.Equal(t, EventMessageUpdated, msg.Event)
			assert.Equal(t, updated, msg.Data)
		}
	})

	t.Run("other user denied regardless of role", func(t *testing.T) {
		f.db.On("GetMessage", "m1").Return(orig, nil).Once()

		err := f.cs.Edit(ctx, f.bob, MessageEdit{MessageId: "m1", Content: "hacked"})
		assert.Equal(t, accessDenied("Permission denied"), err)
		f.db.AssertNotCalled(t, "EditMessage", "m1", "hacked")
		f.db.AssertNotCalled(t, "IsServerMember", mock.Anything, mock.Anything)
	})

	t.Run("missing message", func(t *testing.T) {
		f.db.On("GetMessage", "nope").Return(types.Message{}, database.ErrNotFound).Once()

		err := f.cs.Edit(ctx, f.alice, MessageEdit{MessageId: "nope", Content: "x"})
		assert.Equal(t, notFound("Message not found"), err)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("author deletes", func(t *testing.T) {
		f := newFanoutFixture(t, Options{})
		f.db.On("GetMessage", "m1").Return(storedMessage("m1", userAlice, "x"), nil).Once()
		f.db.On("DeleteMessage", "m1").Return(nil).Once()

		require.NoError(t, f.cs.Delete(ctx, f.alice, MessageDelete{MessageId: "m1", ChannelId: "c1"}))

		msg := recv(t, f.bob)
		assert.Equal(t, EventMessageDeleted, msg.Event)
		assert.Equal(t, MessageDeleted{Id: "m1", ChannelId: "c1"}, msg.Data)
	})

	t.Run("moderator delete is recorded", func(t *testing.T) {
		pub := &events.MockPublisher{}
		defer pub.AssertExpectations(t)
		f := newFanoutFixture(t, Options{Publisher: pub})

		f.db.On("GetMessage", "m1").Return(storedMessage("m1", userAlice, "x"), nil).Once()
		f.db.On("GetChannel", "c1").Return(types.Channel{Id: "c1", ServerId: "s1"}, nil).Once()
		f.db.On("HasModerationRole", "b", "s1").Return(true, nil).Once()
		f.db.On("DeleteMessage", "m1").Return(nil).Once()
		f.db.On("CreateModerationRecord", mock.MatchedBy(func(p database.CreateModerationParams) bool {
			return p.Type == types.ModerationMessageDelete && p.ServerId == "s1" &&
				p.ModeratorId == "b" && p.TargetId == "a"
		})).Return(types.ModerationAction{Id: "mod1", Type: types.ModerationMessageDelete}, nil).Once()
		pub.On("Publish", events.RoutingModeration, mock.MatchedBy(func(env events.Envelope) bool {
			return env.UserId == "b" && env.EventType == "moderation.message_delete"
		})).Return(nil).Once()

		require.NoError(t, f.cs.Delete(ctx, f.bob, MessageDelete{MessageId: "m1"}))
		assert.Equal(t, EventMessageDeleted, recv(t, f.alice).Event)
	})

	t.Run("plain member cannot delete others", func(t *testing.T) {
		f := newFanoutFixture(t, Options{})
		f.db.On("GetMessage", "m1").Return(storedMessage("m1", userAlice, "x"), nil).Once()
		f.db.On("GetChannel", "c1").Return(types.Channel{Id: "c1", ServerId: "s1"}, nil).Once()
		f.db.On("HasModerationRole", "b", "s1").Return(false, nil).Once()

		err := f.cs.Delete(ctx, f.bob, MessageDelete{MessageId: "m1"})
		assert.Equal(t, accessDenied("Permission denied"), err)
		assertNoMessage(t, f.alice)
	})

	t.Run("dm partner cannot delete", func(t *testing.T) {
		f := newFanoutFixture(t, Options{})
		f.db.On("GetMessage", "m1").Return(types.Message{Id: "m1", DmId: "d1", Author: userAlice}, nil).Once()

		err := f.cs.Delete(ctx, f.bob, MessageDelete{MessageId: "m1"})
		assert.Equal(t, accessDenied("Permission denied"), err)
	})
}

func TestReact(t *testing.T) {
	f := newFanoutFixture(t, Options{})
	ctx := context.Background()

	f.db.On("GetMessage", "m1").Return(storedMessage("m1", userAlice, "x"), nil)
	f.db.On("IsChannelAccessible", "b", "c1").Return(true, nil)

	thumbs := types.Reaction{Id: "r1", MessageId: "m1", Emoji: "👍", User: userBob}
	f.db.On("ToggleReaction", "m1", "b", "👍").Return(true, nil).Once()
	f.db.On("GetReactions", "m1").Return([]types.Reaction{thumbs}, nil).Once()

	require.NoError(t, f.cs.React(ctx, f.bob, MessageReact{MessageId: "m1", Emoji: "👍"}))
	msg := recv(t, f.alice)
	assert.Equal(t, EventReactionsUpdated, msg.Event)
	assert.Equal(t, ReactionsUpdated{MessageId: "m1", ChannelId: "c1", Reactions: []types.Reaction{thumbs}}, msg.Data)

	// the same reaction again removes it
	f.db.On("ToggleReaction", "m1", "b", "👍").Return(false, nil).Once()
	f.db.On("GetReactions", "m1").Return(nil, nil).Once()

	require.NoError(t, f.cs.React(ctx, f.bob, MessageReact{MessageId: "m1", Emoji: "👍"}))
	msg = recv(t, f.alice)
	assert.Equal(t, ReactionsUpdated{MessageId: "m1", ChannelId: "c1", Reactions: []types.Reaction{}}, msg.Data)
}

func TestMessageNotFound(t *testing.T) {
	ctx := context.Background()

	tcases := []struct {
		name  string
		setup func(f *fanoutFixture)
		call  func(f *fanoutFixture) error
	}{
		{
			name: "delete an already deleted message",
			setup: func(f *fanoutFixture) {
				f.db.On("GetMessage", "m1").Return(types.Message{}, database.ErrNotFound).Once()
			},
			call: func(f *fanoutFixture) error {
				return f.cs.Delete(ctx, f.alice, MessageDelete{MessageId: "m1", ChannelId: "c1"})
			},
		},
		{
			name: "message deleted between lookup and delete",
			setup: func(f *fanoutFixture) {
				f.db.On("GetMessage", "m1").Return(storedMessage("m1", userAlice, "x"), nil).Once()
				f.db.On("DeleteMessage", "m1").Return(database.ErrNotFound).Once()
			},
			call: func(f *fanoutFixture) error {
				return f.cs.Delete(ctx, f.alice, MessageDelete{MessageId: "m1", ChannelId: "c1"})
			},
		},
		{
			name: "react to a missing message",
			setup: func(f *fanoutFixture) {
				f.db.On("GetMessage", "m1").Return(types.Message{}, database.ErrNotFound).Once()
			},
			call: func(f *fanoutFixture) error {
				return f.cs.React(ctx, f.alice, MessageReact{MessageId: "m1", Emoji: "👍"})
			},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFanoutFixture(t, Options{})
			tc.setup(f)

			err := tc.call(f)
			assert.Equal(t, notFound("Message not found"), err)
			assertNoMessage(t, f.bob)
			assertNoMessage(t, f.alice)
		})
	}

	t.Run("second delete of the same message", func(t *testing.T) {
		f := newFanoutFixture(t, Options{})
		f.db.On("GetMessage", "m1").Return(storedMessage("m1", userAlice, "x"), nil).Once()
		f.db.On("DeleteMessage", "m1").Return(nil).Once()
		f.db.On("GetMessage", "m1").Return(types.Message{}, database.ErrNotFound).Once()

		require.NoError(t, f.cs.Delete(ctx, f.alice, MessageDelete{MessageId: "m1", ChannelId: "c1"}))
		assert.Equal(t, EventMessageDeleted, recv(t, f.bob).Event)

		err := f.cs.Delete(ctx, f.alice, MessageDelete{MessageId: "m1", ChannelId: "c1"})
		assert.Equal(t, notFound("Message not found"), err)
		assertNoMessage(t, f.bob)
	})
}

func TestReply(t *testing.T) {
	ctx := context.Background()
	parent := storedMessage("p1", userAlice, "question?")

	t.Run("reply notifies the parent author", func(t *testing.T) {
		f := newFanoutFixture(t, Options{})
		f.allowChannel("b")
		f.db.On("GetMessage", "p1").Return(parent, nil).Once()

		reply := storedMessage("r1", userBob, "answer")
		reply.ParentId = "p1"
		f.db.On("CreateMessage", mock.MatchedBy(func(p database.CreateMessageParams) bool {
			return p.ParentId == "p1" && p.ChannelId == "c1" && p.AuthorId == "b"
		})).Return(reply, nil).Once()
		f.db.On("GetNotificationSettings", "a").Return(types.NotificationSettings{UserId: "a", Mentions: true, Replies: true}, nil).Once()
		f.db.On("CreateNotification", mock.MatchedBy(func(p database.CreateNotificationParams) bool {
			return p.UserId == "a" && p.Type == types.NotificationReply && p.Title == "bob replied to your message"
		})).Return(types.Notification{Id: "n1", UserId: "a", Type: types.NotificationReply}, nil).Once()

		require.NoError(t, f.cs.Reply(ctx, f.bob, MessageReply{ParentId: "p1", Content: "answer"}))

		msgs := drain(f.alice)
		require.Len(t, msgs, 2)
		assert.Equal(t, EventMessageReplied, msgs[0].Event)
		assert.Equal(t, reply, msgs[0].Data)
		assert.Equal(t, EventNotificationNew, msgs[1].Event)
	})

	t.Run("missing parent", func(t *testing.T) {
		f := newFanoutFixture(t, Options{})
		f.db.On("GetMessage", "gone").Return(types.Message{}, database.ErrNotFound).Once()

		err := f.cs.Reply(ctx, f.bob, MessageReply{ParentId: "gone", Content: "answer"})
		assert.Equal(t, notFound("Parent message not found"), err)
	})

	t.Run("wrong channel", func(t *testing.T) {
		f := newFanoutFixture(t, Options{})
		f.db.On("GetMessage", "p1").Return(parent, nil).Once()

		err := f.cs.Reply(ctx, f.bob, MessageReply{ParentId: "p1", ChannelId: "c9", Content: "answer"})
		assert.Equal(t, KindValidation, asError(err).Kind)
		assertNoMessage(t, f.alice)
	})
}

func TestPin(t *testing.T) {
	ctx := context.Background()

	t.Run("member lacks permission", func(t *testing.T) {
		f := newFanoutFixture(t, Options{})
		f.db.On("GetMessage", "m1").Return(storedMessage("m1", userAlice, "x"), nil).Once()
		f.db.On("GetChannel", "c1").Return(types.Channel{Id: "c1", ServerId: "s1"}, nil).Once()
		f.db.On("IsServerMember", "b", "s1").Return(types.RoleMember, true, nil).Once()

		err := f.cs.Pin(ctx, f.bob, "m1")
		assert.Equal(t, accessDenied("Insufficient permissions"), err)
		assertNoMessage(t, f.alice)
	})

	t.Run("moderator pins and unpins", func(t *testing.T) {
		f := newFanoutFixture(t, Options{})
		f.db.On("GetMessage", "m1").Return(storedMessage("m1", userAlice, "x"), nil).Twice()
		f.db.On("GetChannel", "c1").Return(types.Channel{Id: "c1", ServerId: "s1"}, nil).Twice()
		f.db.On("IsServerMember", "b", "s1").Return(types.RoleModerator, true, nil).Twice()

		now := Now()
		f.db.On("SetMessagePinned", mock.MatchedBy(func(p database.SetPinnedParams) bool {
			return p.MessageId == "m1" && p.Pinned && p.PinnedById == "b"
		})).Return(types.PinState{Id: "m1", ChannelId: "c1", Pinned: true, PinnedAt: &now, PinnedById: "b"}, nil).Once()
		f.db.On("SetMessagePinned", mock.MatchedBy(func(p database.SetPinnedParams) bool {
			return p.MessageId == "m1" && !p.Pinned
		})).Return(types.PinState{Id: "m1", ChannelId: "c1"}, nil).Once()

		require.NoError(t, f.cs.Pin(ctx, f.bob, "m1"))
		msg := recv(t, f.alice)
		assert.Equal(t, EventMessagePinned, msg.Event)
		assert.True(t, msg.Data.(types.PinState).Pinned)

		require.NoError(t, f.cs.Unpin(ctx, f.bob, "m1"))
		msg = recv(t, f.alice)
		assert.Equal(t, EventMessageUnpinned, msg.Event)
		assert.False(t, msg.Data.(types.PinState).Pinned)
	})

	t.Run("dm messages cannot be pinned", func(t *testing.T) {
		f := newFanoutFixture(t, Options{})
		f.db.On("GetMessage", "m1").Return(types.Message{Id: "m1", DmId: "d1", Author: userAlice}, nil).Once()

		err := f.cs.Pin(ctx, f.alice, "m1")
		assert.Equal(t, KindAccessDenied, asError(err).Kind)
	})
}

// seqRepo assigns seq numbers the way the store does, one per message.
type seqRepo struct {
	*database.MockGoChatRepository
	seq atomic.Int64
}

func (r *seqRepo) CreateMessage(ctx context.Context, p database.CreateMessageParams) (types.Message, error) {
	return types.Message{
		Id:        p.Id,
		Seq:       r.seq.Add(1),
		Content:   p.Content,
		ChannelId: p.ChannelId,
		Author:    types.User{Id: p.AuthorId},
	}, nil
}

func TestSendOrderMatchesSeq(t *testing.T) {
	mdb := &database.MockGoChatRepository{}
	mdb.On("GetChannel", "c1").Return(types.Channel{Id: "c1", ServerId: "s1"}, nil)
	mdb.On("IsChannelAccessible", mock.Anything, "c1").Return(true, nil)
	mdb.On("GetActiveTimeout", mock.Anything, "s1", mock.Anything).Return(nil, nil)

	db := &seqRepo{MockGoChatRepository: mdb}
	cs := newTestChatServer(t, db, &stats.MockStatsUpdater{}, Options{})

	observer := newTestClient(t, cs, "o", "olive")
	observer.send = make(chan *ServerMessage, 512)
	cs.registry.join(observer, ChannelRoom("c1"))

	const senders, perSender = 8, 20
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		c := newTestClient(t, cs, fmt.Sprintf("u%d", i), fmt.Sprintf("user%d", i))
		c.send = make(chan *ServerMessage, 512)
		cs.registry.join(c, ChannelRoom("c1"))

		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				assert.NoError(t, cs.Send(context.Background(), c, MessageSend{ChannelId: "c1", Content: "m"}))
			}
		}(c)
	}
	wg.Wait()

	msgs := drain(observer)
	require.Len(t, msgs, senders*perSender)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.Data.(types.Message).Seq, "expected delivery in seq order")
	}
}
