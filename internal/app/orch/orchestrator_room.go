package orch

import (
	"context"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// Management calls run one room transition and then bring the live side in
// line: affected users are notified and relay channels lose whoever the room
// no longer counts as joined.

func (o *Orchestrator) CreateRoom(ctx context.Context, actor domain.UserID, kind domain.RoomKind, title string) (*domain.Room, error) {
	return o.Rooms.CreateRoom(ctx, actor, kind, title)
}

func (o *Orchestrator) RequestJoin(ctx context.Context, uid domain.UserID, id domain.RoomID) (domain.Membership, error) {
	m, err := o.Rooms.RequestJoin(ctx, uid, id)
	if err != nil {
		return m, err
	}
	if m == domain.MemberWaiting {
		if room, err := o.Rooms.GetRoom(ctx, id); err == nil && room.Admin != "" {
			o.Relay.UnicastToUser(room.Admin, app.EventJoinRequested, app.PeerPayload{RoomID: id, UserID: uid})
		}
	}
	return m, nil
}

func (o *Orchestrator) ApproveJoin(ctx context.Context, actor domain.UserID, id domain.RoomID, target domain.UserID) (*domain.Room, error) {
	room, err := o.Rooms.ApproveJoin(ctx, actor, id, target)
	if err != nil {
		return nil, err
	}
	o.Relay.UnicastToUser(target, app.EventRoomApproved, app.RoomPayload{RoomID: id})
	return room, nil
}

func (o *Orchestrator) RejectJoin(ctx context.Context, actor domain.UserID, id domain.RoomID, target domain.UserID) (bool, error) {
	removed, err := o.Rooms.RejectJoin(ctx, actor, id, target)
	if err != nil {
		return false, err
	}
	if removed {
		o.Relay.UnicastToUser(target, app.EventRoomRejected, app.RoomPayload{RoomID: id})
	}
	return removed, nil
}

func (o *Orchestrator) RemoveMember(ctx context.Context, actor domain.UserID, id domain.RoomID, target domain.UserID) (*domain.Room, error) {
	room, err := o.Rooms.RemoveMember(ctx, actor, id, target)
	if err != nil {
		return nil, err
	}
	o.evict(id, target)
	o.Relay.UnicastToUser(target, app.EventRoomRemoved, app.RoomPayload{RoomID: id})
	return room, nil
}

func (o *Orchestrator) LeaveRoom(ctx context.Context, uid domain.UserID, id domain.RoomID) (domain.Membership, error) {
	was, err := o.Rooms.LeaveRoom(ctx, uid, id)
	if err != nil {
		return was, err
	}
	if was.InRoom() {
		o.evict(id, uid)
	}
	return was, nil
}

func (o *Orchestrator) UpdateRoom(ctx context.Context, actor domain.UserID, id domain.RoomID, patch domain.RoomPatch) (*domain.Room, error) {
	return o.Rooms.UpdateRoom(ctx, actor, id, patch)
}

func (o *Orchestrator) DeleteRoom(ctx context.Context, actor domain.UserID, id domain.RoomID) (*domain.Room, error) {
	room, err := o.Rooms.DeleteRoom(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	dropped := o.Conns.DropChannel(id)
	for _, c := range dropped {
		o.Relay.SendTo(c.ID, app.EventRoomDeleted, app.RoomPayload{RoomID: id})
	}
	log.Info().Str("module", "orch").Str("room", string(id)).Int("evicted", len(dropped)).Msg("channel dropped")
	return room, nil
}

func (o *Orchestrator) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	return o.Rooms.GetRoom(ctx, id)
}

func (o *Orchestrator) ListRooms(ctx context.Context) ([]*domain.Room, error) {
	return o.Rooms.ListRooms(ctx)
}

func (o *Orchestrator) RandomRoom(ctx context.Context, uid domain.UserID) (*domain.Room, error) {
	return o.Rooms.RandomRoom(ctx, uid)
}

// evict takes every connection of uid out of the room's relay channel.
func (o *Orchestrator) evict(id domain.RoomID, uid domain.UserID) {
	evicted := o.Conns.EvictUser(id, uid)
	if len(evicted) == 0 {
		return
	}
	o.Relay.BroadcastToRoom(id, "", app.EventPeerLeft, app.PeerPayload{RoomID: id, UserID: uid})
	log.Info().Str("module", "orch").Str("room", string(id)).Str("user", string(uid)).Int("conns", len(evicted)).Msg("evicted from channel")
}
