package server

import (
	"sync"
	"time"
)

type typingKey struct {
	room   string
	userId string
}

func (k typingKey) String() string {
	return k.room + "\x00" + k.userId
}

type typingState struct {
	key          typingKey
	targetId     string
	client       *Client
	timer        *time.Timer
	gen          uint64
	lastActivity time.Time
}

// typingTracker holds the Typing state per (room, user). Absence of an entry
// means Idle. Each entry expires on its own timer unless refreshed.
//
// A transition and the broadcast announcing it happen under the key's lock,
// so observers see starts and stops in the order the state changed.
type typingTracker struct {
	mu       sync.Mutex
	keys     keyedMutex
	timeout  time.Duration
	active   map[typingKey]*typingState
	gen      uint64
	onExpire func(*typingState)
}

func newTypingTracker(timeout time.Duration, onExpire func(*typingState)) *typingTracker {
	return &typingTracker{
		timeout:  timeout,
		active:   make(map[typingKey]*typingState),
		onExpire: onExpire,
	}
}

func (t *typingTracker) lock(room, userId string) (unlock func()) {
	return t.keys.Lock(typingKey{room: room, userId: userId}.String())
}

// start moves the key to Typing. It reports true only on the Idle to Typing
// edge; a refresh just pushes the expiry out.
func (t *typingTracker) start(c *Client, room, targetId string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := typingKey{room: room, userId: c.user.Id}
	t.gen++
	gen := t.gen

	if st, ok := t.active[key]; ok {
		st.timer.Stop()
		st.client = c
		st.gen = gen
		st.lastActivity = time.Now()
		st.timer = time.AfterFunc(t.timeout, func() { t.expire(key, gen) })
		return false
	}

	t.active[key] = &typingState{
		key:          key,
		targetId:     targetId,
		client:       c,
		gen:          gen,
		lastActivity: time.Now(),
		timer:        time.AfterFunc(t.timeout, func() { t.expire(key, gen) }),
	}
	return true
}

// stop moves the key to Idle, returning the state it held if it was Typing.
func (t *typingTracker) stop(room, userId string) (*typingState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.removeLocked(typingKey{room: room, userId: userId})
}

// stopRoom ends c's indicator in room if c owns it.
func (t *typingTracker) stopRoom(c *Client, room string) (*typingState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := typingKey{room: room, userId: c.user.Id}
	if st, ok := t.active[key]; !ok || st.client != c {
		return nil, false
	}
	return t.removeLocked(key)
}

// roomsOwnedBy lists the rooms where c holds an indicator.
func (t *typingTracker) roomsOwnedBy(c *Client) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var rooms []string
	for key, st := range t.active {
		if st.client == c {
			rooms = append(rooms, key.room)
		}
	}
	return rooms
}

func (t *typingTracker) removeLocked(key typingKey) (*typingState, bool) {
	st, ok := t.active[key]
	if !ok {
		return nil, false
	}
	st.timer.Stop()
	delete(t.active, key)
	return st, true
}

func (t *typingTracker) expire(key typingKey, gen uint64) {
	unlock := t.keys.Lock(key.String())
	defer unlock()

	t.mu.Lock()
	st, ok := t.active[key]
	if !ok || st.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.active, key)
	t.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire(st)
	}
}

func (t *typingTracker) isTyping(room, userId string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.active[typingKey{room: room, userId: userId}]
	return ok
}

func (t *typingTracker) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, st := range t.active {
		st.timer.Stop()
		delete(t.active, key)
	}
}

// StartTyping marks the user as typing in target. Only the Idle to Typing
// edge is broadcast.
func (cs *ChatServer) StartTyping(c *Client, target TypingTarget) error {
	room := target.room()
	if !cs.registry.inRoom(c, room) {
		return accessDenied("Access denied")
	}

	unlock := cs.typing.lock(room, c.user.Id)
	defer unlock()

	if !cs.typing.start(c, room, target.id()) {
		return nil
	}

	cs.stats.Incr(metricTyping)
	msg := newServerMessage(EventTypingStart, Typing{
		UserId:    c.user.Id,
		Username:  c.user.Username,
		ChannelId: target.id(),
	})
	msg.SkipClient = c
	cs.broadcast(room, msg)
	return nil
}

// StopTyping returns the user to Idle. Stopping from Idle broadcasts nothing.
func (cs *ChatServer) StopTyping(c *Client, target TypingTarget) {
	room := target.room()
	unlock := cs.typing.lock(room, c.user.Id)
	defer unlock()

	st, ok := cs.typing.stop(room, c.user.Id)
	if !ok {
		return
	}

	cs.stats.Decr(metricTyping)
	cs.broadcastTypingStop(st, c)
}

// endTyping ends c's indicator in room if c owns it.
func (cs *ChatServer) endTyping(c *Client, room string, skip *Client) {
	unlock := cs.typing.lock(room, c.user.Id)
	defer unlock()

	st, ok := cs.typing.stopRoom(c, room)
	if !ok {
		return
	}

	cs.stats.Decr(metricTyping)
	cs.broadcastTypingStop(st, skip)
}

// typingExpired runs with the key's lock held by expire.
func (cs *ChatServer) typingExpired(st *typingState) {
	cs.stats.Decr(metricTyping)
	cs.broadcastTypingStop(st, st.client)
}

func (cs *ChatServer) broadcastTypingStop(st *typingState, skip *Client) {
	msg := newServerMessage(EventTypingStop, Typing{
		UserId:    st.key.userId,
		ChannelId: st.targetId,
	})
	msg.SkipClient = skip
	cs.broadcast(st.key.room, msg)
}
