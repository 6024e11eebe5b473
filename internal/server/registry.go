package server

import (
	"sort"
	"sync"
)

func ChannelRoom(id string) string { return "channel:" + id }
func DMRoom(id string) string      { return "dm:" + id }
func ServerRoom(id string) string  { return "server:" + id }
func UserRoom(id string) string    { return "user:" + id }

type clientSet map[*Client]struct{}

// registry indexes live connections by user and by room, and each
// connection's joined rooms. A room exists only while it has members.
type registry struct {
	mu      sync.RWMutex
	clients map[*Client]map[string]struct{}
	users   map[string]clientSet
	rooms   map[string]clientSet
}

func newRegistry() *registry {
	return &registry{
		clients: make(map[*Client]map[string]struct{}),
		users:   make(map[string]clientSet),
		rooms:   make(map[string]clientSet),
	}
}

// add registers c and joins it to its own user room. first reports whether c
// is the user's only live connection.
func (r *registry) add(c *Client) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c]; ok {
		return false
	}

	r.clients[c] = make(map[string]struct{})
	if r.users[c.user.Id] == nil {
		r.users[c.user.Id] = make(clientSet)
	}
	r.users[c.user.Id][c] = struct{}{}
	r.joinLocked(c, UserRoom(c.user.Id))

	return len(r.users[c.user.Id]) == 1
}

// remove drops c from every room it joined. last reports whether the user has
// no live connections left.
func (r *registry) remove(c *Client) (last bool, rooms []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.clients[c]
	if !ok {
		return false, nil
	}

	for room := range joined {
		rooms = append(rooms, room)
		r.leaveLocked(c, room)
	}
	delete(r.clients, c)

	if set, ok := r.users[c.user.Id]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.users, c.user.Id)
			last = true
		}
	}

	sort.Strings(rooms)
	return last, rooms
}

// join adds c to room. It reports false if c was already a member or is no
// longer registered.
func (r *registry) join(c *Client, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c]; !ok {
		return false
	}
	return r.joinLocked(c, room)
}

func (r *registry) joinLocked(c *Client, room string) bool {
	if _, ok := r.clients[c][room]; ok {
		return false
	}

	r.clients[c][room] = struct{}{}
	if r.rooms[room] == nil {
		r.rooms[room] = make(clientSet)
	}
	r.rooms[room][c] = struct{}{}
	return true
}

// leave removes c from room. Leaving a room c is not in is a no-op.
func (r *registry) leave(c *Client, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.leaveLocked(c, room)
}

func (r *registry) leaveLocked(c *Client, room string) bool {
	joined, ok := r.clients[c]
	if !ok {
		return false
	}
	if _, ok := joined[room]; !ok {
		return false
	}

	delete(joined, room)
	if set, ok := r.rooms[room]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.rooms, room)
		}
	}
	return true
}

func (r *registry) members(room string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.rooms[room]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

func (r *registry) inRoom(c *Client, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.clients[c][room]
	return ok
}

func (r *registry) roomsOf(c *Client) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.clients[c]))
	for room := range r.clients[c] {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

func (r *registry) connectionsForUser(userId string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.users[userId]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

func (r *registry) userConnectionCount(userId string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.users[userId])
}

func (r *registry) roomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}

func (r *registry) all() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c)
	}
	return out
}
