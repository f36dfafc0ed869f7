package orch

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

const MaxMessageLen = 4096

type SignalRequest struct {
	RoomID       domain.RoomID
	TargetUserID domain.UserID
	Kind         string
	Body         json.RawMessage
	Ack          bool
}

// Signal forwards an opaque handshake payload. With a target it goes to that
// user's live connection only if both sides share the relay channel; with a
// room alone it goes to every other subscriber. An unreachable target is not
// an error.
func (o *Orchestrator) Signal(cid core.ConnID, req SignalRequest) (delivered int, err error) {
	_, uid, err := o.identified(cid)
	if err != nil {
		return 0, err
	}
	kind, err := app.ParseSignalKind(req.Kind)
	if err != nil {
		return 0, err
	}
	if len(req.Body) == 0 {
		return 0, fmt.Errorf("signal body: %w", domain.ErrInvalidInput)
	}
	if req.RoomID != "" && !o.Conns.IsSubscribed(req.RoomID, cid) {
		return 0, fmt.Errorf("signal to %s: not subscribed: %w", req.RoomID, domain.ErrForbidden)
	}
	payload := app.SignalPayload{RoomID: req.RoomID, FromUserID: uid, Kind: kind, Body: req.Body}

	switch {
	case req.TargetUserID != "":
		if target, ok := o.Presence.Lookup(req.TargetUserID); ok && o.shareChannel(cid, target, req.RoomID) {
			if o.Relay.SendTo(target, app.EventSignal, payload) {
				delivered = 1
			}
		}
	case req.RoomID != "":
		delivered = o.Relay.BroadcastToRoom(req.RoomID, cid, app.EventSignal, payload)
	default:
		return 0, fmt.Errorf("signal needs roomId or targetUserId: %w", domain.ErrInvalidInput)
	}

	log.Debug().Str("module", "orch").Str("conn", string(cid)).Str("kind", string(kind)).Str("room", string(req.RoomID)).Str("target", string(req.TargetUserID)).Int("delivered", delivered).Msg("signal relayed")
	if req.Ack {
		o.Relay.SendTo(cid, app.EventSignalAck, app.SignalAckPayload{TargetUserID: req.TargetUserID, RoomID: req.RoomID, Delivered: delivered})
	}
	return delivered, nil
}

func (o *Orchestrator) shareChannel(from, to core.ConnID, room domain.RoomID) bool {
	if room != "" {
		return o.Conns.IsSubscribed(room, to)
	}
	theirs := o.Conns.ChannelsOf(to)
	return slices.ContainsFunc(o.Conns.ChannelsOf(from), func(r domain.RoomID) bool {
		return slices.Contains(theirs, r)
	})
}

// RoomMessage relays a chat line to the other subscribers of the room.
func (o *Orchestrator) RoomMessage(cid core.ConnID, room domain.RoomID, text, ref string) (app.MessagePayload, error) {
	_, uid, err := o.identified(cid)
	if err != nil {
		return app.MessagePayload{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > MaxMessageLen {
		return app.MessagePayload{}, fmt.Errorf("message text: %w", domain.ErrInvalidInput)
	}
	if !o.Conns.IsSubscribed(room, cid) {
		return app.MessagePayload{}, fmt.Errorf("message to %s: not subscribed: %w", room, domain.ErrForbidden)
	}
	msg := app.MessagePayload{
		ID:         o.newID(),
		RoomID:     room,
		FromUserID: uid,
		Text:       text,
		Ref:        ref,
		SentAt:     o.now().UTC(),
	}
	o.Relay.BroadcastToRoom(room, cid, app.EventRoomMessage, msg)
	return msg, nil
}
