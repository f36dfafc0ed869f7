// Package orch ties live connections to room membership: it runs the
// connection lifecycle, relay channel joins and the notifications that follow
// room management calls.
package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/auth"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrUnidentified = errors.New("connection not identified")

type Orchestrator struct {
	Presence *app.Registry
	Conns    *app.ConnectionSet
	Rooms    *app.RoomService
	Relay    *app.Relay
	Auth     auth.Authenticator

	newID func() string
	now   func() time.Time
}

func New(presence *app.Registry, conns *app.ConnectionSet, rooms *app.RoomService, relay *app.Relay, authn auth.Authenticator) *Orchestrator {
	return &Orchestrator{
		Presence: presence,
		Conns:    conns,
		Rooms:    rooms,
		Relay:    relay,
		Auth:     authn,
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Connect registers a fresh transport session in the CONNECTED state.
func (o *Orchestrator) Connect(endpoint core.SignalConnection) *app.Conn {
	c := app.NewConn(core.ConnID(o.newID()), endpoint)
	o.Conns.Add(c)
	log.Info().Str("module", "orch").Str("conn", string(c.ID)).Int("live", o.Conns.Len()).Msg("connected")
	return c
}

func (o *Orchestrator) conn(cid core.ConnID) (*app.Conn, error) {
	c, ok := o.Conns.Get(cid)
	if !ok {
		return nil, app.ErrConnClosed
	}
	return c, nil
}

func (o *Orchestrator) identified(cid core.ConnID) (*app.Conn, domain.UserID, error) {
	c, err := o.conn(cid)
	if err != nil {
		return nil, "", err
	}
	uid, ok := c.User()
	if !ok {
		return nil, "", ErrUnidentified
	}
	return c, uid, nil
}

// Identify verifies the claimed identity and binds it to the connection.
// Repeating it for the same user only refreshes presence.
func (o *Orchestrator) Identify(ctx context.Context, cid core.ConnID, claimed domain.UserID, token string) (domain.UserID, error) {
	c, err := o.conn(cid)
	if err != nil {
		return "", err
	}
	uid, err := o.Auth.Verify(ctx, token, claimed)
	if err != nil {
		return "", fmt.Errorf("identify %s: %w", cid, err)
	}
	if err := c.Identify(uid); err != nil {
		return "", fmt.Errorf("identify %s: %w", cid, err)
	}
	o.Presence.Register(uid, cid)
	o.Relay.SendTo(cid, app.EventIdentified, app.IdentifiedPayload{UserID: uid, ConnectionID: cid})
	return uid, nil
}

// Disconnect is the CLOSED transition. It is safe to call more than once.
func (o *Orchestrator) Disconnect(cid core.ConnID) {
	c, rooms, ok := o.Conns.Close(cid)
	if !ok {
		return
	}
	defer c.Kick()

	uid, identified := c.User()
	if !identified {
		log.Info().Str("module", "orch").Str("conn", string(cid)).Msg("anonymous connection closed")
		return
	}
	o.Presence.Unregister(uid, cid)
	for _, room := range rooms {
		o.announceLeft(room, uid)
	}
	log.Info().Str("module", "orch").Str("conn", string(cid)).Str("user", string(uid)).Int("channels", len(rooms)).Msg("disconnected")
}

func (o *Orchestrator) announceLeft(room domain.RoomID, uid domain.UserID) {
	if o.Conns.HasUser(room, uid) {
		return
	}
	o.Relay.BroadcastToRoom(room, "", app.EventPeerLeft, app.PeerPayload{RoomID: room, UserID: uid})
}

// JoinChannel subscribes the connection to a room's relay channel. Only
// users the room currently counts as joined may subscribe.
func (o *Orchestrator) JoinChannel(ctx context.Context, cid core.ConnID, room domain.RoomID) error {
	_, uid, err := o.identified(cid)
	if err != nil {
		return err
	}
	if err := o.requireMember(ctx, room, uid); err != nil {
		return err
	}
	fresh := o.Conns.Subscribe(room, cid)
	if fresh {
		// membership may have been revoked between the check and the subscribe
		if err := o.requireMember(ctx, room, uid); err != nil {
			o.Conns.Unsubscribe(room, cid)
			return err
		}
		o.Relay.BroadcastToRoom(room, cid, app.EventPeerJoined, app.PeerPayload{RoomID: room, UserID: uid})
		log.Info().Str("module", "orch").Str("conn", string(cid)).Str("user", string(uid)).Str("room", string(room)).Msg("channel joined")
	}
	o.Relay.SendTo(cid, app.EventChannelState, app.ChannelStatePayload{RoomID: room, Peers: o.Conns.Peers(room)})
	return nil
}

func (o *Orchestrator) requireMember(ctx context.Context, room domain.RoomID, uid domain.UserID) error {
	m, err := o.Rooms.Membership(ctx, room, uid)
	if err != nil {
		return fmt.Errorf("join channel %s: %w", room, err)
	}
	if !m.InRoom() {
		return fmt.Errorf("join channel %s: %s is %s: %w", room, uid, m, domain.ErrForbidden)
	}
	return nil
}

func (o *Orchestrator) LeaveChannel(cid core.ConnID, room domain.RoomID) error {
	_, uid, err := o.identified(cid)
	if err != nil {
		return err
	}
	if !o.Conns.Unsubscribe(room, cid) {
		return fmt.Errorf("leave channel %s: not subscribed: %w", room, domain.ErrNotFound)
	}
	o.announceLeft(room, uid)
	log.Info().Str("module", "orch").Str("conn", string(cid)).Str("user", string(uid)).Str("room", string(room)).Msg("channel left")
	return nil
}

func (o *Orchestrator) WhoAmI(cid core.ConnID) error {
	c, err := o.conn(cid)
	if err != nil {
		return err
	}
	uid, _ := c.User()
	o.Relay.SendTo(cid, app.EventWhoAmI, app.WhoAmIPayload{
		UserID:       uid,
		ConnectionID: cid,
		State:        c.State().String(),
		Channels:     o.Conns.ChannelsOf(cid),
	})
	return nil
}

func (o *Orchestrator) Pong(cid core.ConnID) {
	o.Relay.SendTo(cid, app.EventPong, nil)
}

// Fail reports a rejected event back to the connection; it never closes it.
func (o *Orchestrator) Fail(cid core.ConnID, err error) {
	o.Relay.SendTo(cid, app.EventError, app.ErrorPayload{Code: ErrorCode(err), Message: err.Error()})
}
