package server

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/npezzotti/gochat-realtime/internal/types"
)

func newRegistryClient(userId string) *Client {
	return &Client{
		user: types.User{Id: userId},
		send: make(chan *ServerMessage, 8),
		stop: make(chan struct{}),
	}
}

func TestRegistry(t *testing.T) {
	t.Run("add joins the user room", func(t *testing.T) {
		r := newRegistry()
		a1, a2 := newRegistryClient("a"), newRegistryClient("a")

		assert.True(t, r.add(a1), "expected first connection of user")
		assert.False(t, r.add(a2), "expected second connection not to be first")
		assert.False(t, r.add(a1), "expected re-adding to be ignored")

		assert.ElementsMatch(t, []*Client{a1, a2}, r.members(UserRoom("a")))
		assert.Equal(t, 2, r.userConnectionCount("a"))
	})

	t.Run("join and leave", func(t *testing.T) {
		r := newRegistry()
		c := newRegistryClient("a")
		r.add(c)

		assert.True(t, r.join(c, ChannelRoom("c1")))
		assert.False(t, r.join(c, ChannelRoom("c1")), "expected duplicate join to report false")
		assert.True(t, r.inRoom(c, ChannelRoom("c1")))
		assert.Equal(t, 2, r.roomCount())

		assert.True(t, r.leave(c, ChannelRoom("c1")))
		assert.False(t, r.leave(c, ChannelRoom("c1")), "expected leaving twice to be a no-op")
		assert.Empty(t, r.members(ChannelRoom("c1")))
		assert.Equal(t, 1, r.roomCount(), "expected empty room to be dropped")
	})

	t.Run("join unregistered client", func(t *testing.T) {
		r := newRegistry()
		c := newRegistryClient("a")

		assert.False(t, r.join(c, ChannelRoom("c1")))
		assert.Empty(t, r.members(ChannelRoom("c1")))
	})

	t.Run("remove clears every room", func(t *testing.T) {
		r := newRegistry()
		a1, a2 := newRegistryClient("a"), newRegistryClient("a")
		r.add(a1)
		r.add(a2)
		r.join(a1, ChannelRoom("c1"))
		r.join(a1, ServerRoom("s1"))

		last, rooms := r.remove(a1)
		assert.False(t, last, "expected another connection to remain")
		assert.Equal(t, []string{"channel:c1", "server:s1", "user:a"}, rooms)
		assert.Empty(t, r.members(ChannelRoom("c1")))
		assert.Equal(t, []*Client{a2}, r.connectionsForUser("a"))

		last, _ = r.remove(a2)
		assert.True(t, last, "expected last connection")
		assert.Empty(t, r.connectionsForUser("a"))
		assert.Zero(t, r.roomCount())
		assert.Empty(t, r.all())

		last, rooms = r.remove(a2)
		assert.False(t, last)
		assert.Nil(t, rooms, "expected unknown client to report no rooms")
	})
}

func TestKeyedMutex(t *testing.T) {
	var km keyedMutex

	unlock := km.Lock("channel:c1")
	locked := make(chan struct{})
	go func() {
		u := km.Lock("channel:c1")
		close(locked)
		u()
	}()

	select {
	case <-locked:
		t.Fatal("expected second lock on the same key to block")
	default:
	}

	unlock()
	<-locked
}
