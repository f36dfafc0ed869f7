package app

import (
	"errors"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// Relay forwards events between live connections. Delivery is best effort and
// at-most-once: an absent recipient or a full queue drops the frame, nothing is
// retried and no error reaches the sender.
type Relay struct {
	presence *Registry
	conns    *ConnectionSet
	policy   Policy
}

func NewRelay(presence *Registry, conns *ConnectionSet, policy Policy) *Relay {
	if policy == nil {
		policy = DropPolicy{}
	}
	return &Relay{presence: presence, conns: conns, policy: policy}
}

// BroadcastToRoom delivers to every subscriber of room except sender and
// returns how many connections accepted the frame.
func (r *Relay) BroadcastToRoom(room domain.RoomID, sender core.ConnID, event string, payload any) int {
	frame, err := Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("broadcast encode")
		return 0
	}
	sent := 0
	for _, c := range r.conns.Subscribers(room) {
		if c.ID == sender {
			continue
		}
		if r.deliver(c, frame) {
			sent++
		}
	}
	log.Debug().Str("module", "app.relay").Str("room", string(room)).Str("event", event).Str("from", string(sender)).Int("sent_to", sent).Msg("broadcast")
	return sent
}

// UnicastToUser resolves uid through presence; an offline user is a silent no-op.
func (r *Relay) UnicastToUser(uid domain.UserID, event string, payload any) bool {
	cid, ok := r.presence.Lookup(uid)
	if !ok {
		log.Debug().Str("module", "app.relay").Str("user", string(uid)).Str("event", event).Msg("recipient unavailable")
		return false
	}
	return r.SendTo(cid, event, payload)
}

func (r *Relay) SendTo(cid core.ConnID, event string, payload any) bool {
	c, ok := r.conns.Get(cid)
	if !ok {
		return false
	}
	frame, err := Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("send encode")
		return false
	}
	return r.deliver(c, frame)
}

func (r *Relay) deliver(c *Conn, frame core.Frame) bool {
	err := c.Send(frame)
	if err == nil {
		return true
	}
	if errors.Is(err, ErrConnClosed) {
		return false
	}
	switch r.policy.OnBackPressure(c) {
	case KickMember:
		log.Warn().Err(err).Str("module", "app.relay").Str("conn", string(c.ID)).Msg("slow connection kicked")
		c.Kick()
	case DropFrame, NoAction:
		log.Debug().Err(err).Str("module", "app.relay").Str("conn", string(c.ID)).Msg("frame dropped")
	}
	return false
}
