package app

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

var ErrConnClosed = core.ErrClosed

type ConnState int32

const (
	StateConnected ConnState = iota
	StateIdentified
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateIdentified:
		return "IDENTIFIED"
	case StateClosed:
		return "CLOSED"
	default:
		return "CONNECTED"
	}
}

// Conn is one live transport session as seen by the multiplexer.
type Conn struct {
	ID       core.ConnID
	endpoint core.SignalConnection

	mu    sync.RWMutex
	user  domain.UserID
	state ConnState
}

func NewConn(id core.ConnID, endpoint core.SignalConnection) *Conn {
	return &Conn{ID: id, endpoint: endpoint}
}

// User reports the bound identity; it survives Close so teardown can use it.
func (c *Conn) User() (domain.UserID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user, c.user != ""
}

func (c *Conn) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Identify binds the identity once; repeating it with the same user is a no-op.
func (c *Conn) Identify(uid domain.UserID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state == StateClosed:
		return ErrConnClosed
	case c.user != "" && c.user != uid:
		return fmt.Errorf("connection already bound to %s: %w", c.user, domain.ErrConflict)
	}
	c.user = uid
	c.state = StateIdentified
	return nil
}

// markClosed reports true only for the first call.
func (c *Conn) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	c.state = StateClosed
	return true
}

func (c *Conn) Send(f core.Frame) error {
	if c.State() == StateClosed {
		return ErrConnClosed
	}
	return c.endpoint.TrySend(f)
}

// Kick closes the transport; the adapter's read loop then runs the disconnect path.
func (c *Conn) Kick() { c.endpoint.Close() }

// ConnectionSet owns the live connections and the relay channel subscriptions.
type ConnectionSet struct {
	mu       sync.RWMutex
	conns    map[core.ConnID]*Conn
	channels map[domain.RoomID]map[core.ConnID]*Conn
	joined   map[core.ConnID]map[domain.RoomID]struct{}
}

func NewConnectionSet() *ConnectionSet {
	return &ConnectionSet{
		conns:    make(map[core.ConnID]*Conn),
		channels: make(map[domain.RoomID]map[core.ConnID]*Conn),
		joined:   make(map[core.ConnID]map[domain.RoomID]struct{}),
	}
}

func (s *ConnectionSet) Add(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.ID] = c
}

func (s *ConnectionSet) Get(id core.ConnID) (*Conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[id]
	return c, ok
}

func (s *ConnectionSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Remove forgets the connection and returns the channels it was subscribed to.
func (s *ConnectionSet) Remove(id core.ConnID) []domain.RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
	rooms := slices.Collect(maps.Keys(s.joined[id]))
	for _, room := range rooms {
		s.unsubscribeLocked(room, id)
	}
	delete(s.joined, id)
	return rooms
}

// Close marks the connection CLOSED and forgets it. ok is false if another
// caller already closed it.
func (s *ConnectionSet) Close(id core.ConnID) (c *Conn, rooms []domain.RoomID, ok bool) {
	c, ok = s.Get(id)
	if !ok || !c.markClosed() {
		return nil, nil, false
	}
	return c, s.Remove(id), true
}

// Subscribe reports false when the connection is unknown or already subscribed.
func (s *ConnectionSet) Subscribe(room domain.RoomID, id core.ConnID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok {
		return false
	}
	subs, ok := s.channels[room]
	if !ok {
		subs = make(map[core.ConnID]*Conn)
		s.channels[room] = subs
	}
	if _, dup := subs[id]; dup {
		return false
	}
	subs[id] = c
	if s.joined[id] == nil {
		s.joined[id] = make(map[domain.RoomID]struct{})
	}
	s.joined[id][room] = struct{}{}
	return true
}

func (s *ConnectionSet) Unsubscribe(room domain.RoomID, id core.ConnID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribeLocked(room, id)
}

func (s *ConnectionSet) unsubscribeLocked(room domain.RoomID, id core.ConnID) bool {
	subs, ok := s.channels[room]
	if !ok {
		return false
	}
	if _, ok := subs[id]; !ok {
		return false
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(s.channels, room)
	}
	delete(s.joined[id], room)
	return true
}

func (s *ConnectionSet) IsSubscribed(room domain.RoomID, id core.ConnID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.channels[room][id]
	return ok
}

func (s *ConnectionSet) Subscribers(room domain.RoomID) []*Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Collect(maps.Values(s.channels[room]))
}

func (s *ConnectionSet) ChannelsOf(id core.ConnID) []domain.RoomID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := slices.Collect(maps.Keys(s.joined[id]))
	slices.Sort(rooms)
	return rooms
}

// HasUser reports whether any connection of uid is still subscribed to room.
func (s *ConnectionSet) HasUser(room domain.RoomID, uid domain.UserID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.channels[room] {
		if u, _ := c.User(); u == uid {
			return true
		}
	}
	return false
}

// Peers lists the distinct users subscribed to room, sorted.
func (s *ConnectionSet) Peers(room domain.RoomID) []domain.UserID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	peers := make([]domain.UserID, 0, len(s.channels[room]))
	for _, c := range s.channels[room] {
		if u, ok := c.User(); ok && !slices.Contains(peers, u) {
			peers = append(peers, u)
		}
	}
	slices.Sort(peers)
	return peers
}

// EvictUser unsubscribes every connection of uid from room.
func (s *ConnectionSet) EvictUser(room domain.RoomID, uid domain.UserID) []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Conn
	for id, c := range s.channels[room] {
		if u, _ := c.User(); u == uid {
			s.unsubscribeLocked(room, id)
			out = append(out, c)
		}
	}
	return out
}

// DropChannel removes the whole channel and returns its former subscribers.
func (s *ConnectionSet) DropChannel(room domain.RoomID) []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := slices.Collect(maps.Values(s.channels[room]))
	for _, c := range subs {
		s.unsubscribeLocked(room, c.ID)
	}
	return subs
}
