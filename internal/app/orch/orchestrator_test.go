package orch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/app/apptest"
	"github.com/dkeye/Huddle/internal/auth"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrchestrator() *Orchestrator {
	presence := app.NewRegistry()
	conns := app.NewConnectionSet()
	return New(presence, conns, app.NewRoomService(memory.NewRepository()), app.NewRelay(presence, conns, nil), auth.NewTrustAuthenticator("test"))
}

func online(t *testing.T, o *Orchestrator, uid domain.UserID) (core.ConnID, *apptest.Endpoint) {
	t.Helper()
	ep := apptest.NewEndpoint(64)
	c := o.Connect(ep)
	got, err := o.Identify(context.Background(), c.ID, uid, "")
	require.NoError(t, err)
	require.Equal(t, uid, got)
	ep.Expect(t, app.EventIdentified)
	return c.ID, ep
}

func room(t *testing.T, o *Orchestrator, owner domain.UserID, kind domain.RoomKind) domain.RoomID {
	t.Helper()
	r, err := o.CreateRoom(context.Background(), owner, kind, "")
	require.NoError(t, err)
	return r.ID
}

func joinChannel(t *testing.T, o *Orchestrator, cid core.ConnID, ep *apptest.Endpoint, id domain.RoomID) {
	t.Helper()
	require.NoError(t, o.JoinChannel(context.Background(), cid, id))
	ep.Expect(t, app.EventChannelState)
}

func TestOfferReachesOnlyOtherSubscriber(t *testing.T) {
	o := newOrchestrator()
	ctx := context.Background()
	r3 := room(t, o, "dave", domain.RoomPublic)
	_, err := o.RequestJoin(ctx, "erin", r3)
	require.NoError(t, err)

	c1, ep1 := online(t, o, "dave")
	c2, ep2 := online(t, o, "erin")
	joinChannel(t, o, c1, ep1, r3)
	joinChannel(t, o, c2, ep2, r3)
	ep1.Expect(t, app.EventPeerJoined)
	ep1.Drain()
	ep2.Drain()

	n, err := o.Signal(c1, SignalRequest{RoomID: r3, Kind: "offer", Body: json.RawMessage(`{"sdp":"v=0"}`)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ev := ep2.Next(t)
	require.Equal(t, app.EventSignal, ev.Type)
	var p app.SignalPayload
	ev.Decode(t, &p)
	assert.Equal(t, domain.UserID("dave"), p.FromUserID)
	assert.Equal(t, app.SignalOffer, p.Kind)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(p.Body))
	assert.True(t, ep1.Empty())
}

func TestEventsBeforeIdentifyAreRejected(t *testing.T) {
	o := newOrchestrator()
	id := room(t, o, "dave", domain.RoomPublic)
	c := o.Connect(apptest.NewEndpoint(8))

	assert.ErrorIs(t, o.JoinChannel(context.Background(), c.ID, id), ErrUnidentified)
	_, err := o.Signal(c.ID, SignalRequest{RoomID: id, Kind: "offer", Body: json.RawMessage(`1`)})
	assert.ErrorIs(t, err, ErrUnidentified)
	assert.Equal(t, CodeUnidentified, ErrorCode(err))
}

func TestIdentityIsImmutable(t *testing.T) {
	o := newOrchestrator()
	cid, _ := online(t, o, "dave")

	_, err := o.Identify(context.Background(), cid, "dave", "")
	require.NoError(t, err)
	_, err = o.Identify(context.Background(), cid, "erin", "")
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, ok := o.Presence.Lookup("dave")
	require.True(t, ok)
	assert.Equal(t, cid, got)
	_, ok = o.Presence.Lookup("erin")
	assert.False(t, ok)
}

func TestStaleDisconnectKeepsNewerSession(t *testing.T) {
	o := newOrchestrator()
	c1, ep1 := online(t, o, "dave")
	c2, _ := online(t, o, "dave")

	o.Disconnect(c1)
	assert.True(t, ep1.Closed())
	got, ok := o.Presence.Lookup("dave")
	require.True(t, ok)
	assert.Equal(t, c2, got)

	o.Disconnect(c2)
	_, ok = o.Presence.Lookup("dave")
	assert.False(t, ok)

	// a second disconnect is a no-op
	o.Disconnect(c2)
	assert.Equal(t, 0, o.Conns.Len())
}

func TestDisconnectAnnouncesPeerLeft(t *testing.T) {
	o := newOrchestrator()
	ctx := context.Background()
	id := room(t, o, "dave", domain.RoomPublic)
	_, err := o.RequestJoin(ctx, "erin", id)
	require.NoError(t, err)

	c1, ep1 := online(t, o, "dave")
	c2, ep2 := online(t, o, "erin")
	joinChannel(t, o, c1, ep1, id)
	joinChannel(t, o, c2, ep2, id)

	o.Disconnect(c2)
	var p app.PeerPayload
	ep1.Expect(t, app.EventPeerLeft).Decode(t, &p)
	assert.Equal(t, app.PeerPayload{RoomID: id, UserID: "erin"}, p)

	_, err = o.Signal(c2, SignalRequest{RoomID: id, Kind: "offer", Body: json.RawMessage(`1`)})
	assert.ErrorIs(t, err, app.ErrConnClosed)
}

func TestJoinChannelRequiresMembership(t *testing.T) {
	o := newOrchestrator()
	ctx := context.Background()
	id := room(t, o, "alice", domain.RoomPrivate)
	cid, ep := online(t, o, "bob")

	assert.ErrorIs(t, o.JoinChannel(ctx, cid, id), domain.ErrForbidden)

	m, err := o.RequestJoin(ctx, "bob", id)
	require.NoError(t, err)
	require.Equal(t, domain.MemberWaiting, m)
	assert.ErrorIs(t, o.JoinChannel(ctx, cid, id), domain.ErrForbidden)

	_, err = o.ApproveJoin(ctx, "alice", id, "bob")
	require.NoError(t, err)
	var approved app.RoomPayload
	ep.Expect(t, app.EventRoomApproved).Decode(t, &approved)
	assert.Equal(t, id, approved.RoomID)

	require.NoError(t, o.JoinChannel(ctx, cid, id))
	var state app.ChannelStatePayload
	ep.Expect(t, app.EventChannelState).Decode(t, &state)
	assert.Equal(t, []domain.UserID{"bob"}, state.Peers)

	assert.ErrorIs(t, o.JoinChannel(ctx, cid, "missing"), domain.ErrNotFound)
}

func TestJoinRequestNotifiesAdmin(t *testing.T) {
	o := newOrchestrator()
	ctx := context.Background()
	id := room(t, o, "alice", domain.RoomPrivate)
	_, adminEp := online(t, o, "alice")
	_, bobEp := online(t, o, "bob")

	_, err := o.RequestJoin(ctx, "bob", id)
	require.NoError(t, err)
	var p app.PeerPayload
	adminEp.Expect(t, app.EventJoinRequested).Decode(t, &p)
	assert.Equal(t, domain.UserID("bob"), p.UserID)

	removed, err := o.RejectJoin(ctx, "alice", id, "bob")
	require.NoError(t, err)
	assert.True(t, removed)
	bobEp.Expect(t, app.EventRoomRejected)

	// rejecting again is silent
	removed, err = o.RejectJoin(ctx, "alice", id, "bob")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.True(t, bobEp.Empty())
}

func TestRemoveMemberEvictsChannel(t *testing.T) {
	o := newOrchestrator()
	ctx := context.Background()
	id := room(t, o, "alice", domain.RoomPublic)
	_, err := o.RequestJoin(ctx, "bob", id)
	require.NoError(t, err)

	ca, epA := online(t, o, "alice")
	cb, epB := online(t, o, "bob")
	joinChannel(t, o, ca, epA, id)
	joinChannel(t, o, cb, epB, id)
	epA.Drain()

	_, err = o.RemoveMember(ctx, "bob", id, "alice")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.True(t, o.Conns.IsSubscribed(id, ca))

	_, err = o.RemoveMember(ctx, "alice", id, "bob")
	require.NoError(t, err)
	assert.False(t, o.Conns.IsSubscribed(id, cb))
	epB.Expect(t, app.EventRoomRemoved)
	var p app.PeerPayload
	epA.Expect(t, app.EventPeerLeft).Decode(t, &p)
	assert.Equal(t, domain.UserID("bob"), p.UserID)

	_, err = o.Signal(cb, SignalRequest{RoomID: id, Kind: "candidate", Body: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestLeaveRoomEvictsChannel(t *testing.T) {
	o := newOrchestrator()
	ctx := context.Background()
	id := room(t, o, "alice", domain.RoomPublic)
	_, err := o.RequestJoin(ctx, "bob", id)
	require.NoError(t, err)
	cb, epB := online(t, o, "bob")
	joinChannel(t, o, cb, epB, id)

	was, err := o.LeaveRoom(ctx, "bob", id)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberJoined, was)
	assert.Empty(t, o.Conns.ChannelsOf(cb))
}

func TestDeleteRoomDropsChannel(t *testing.T) {
	o := newOrchestrator()
	ctx := context.Background()
	id := room(t, o, "alice", domain.RoomPublic)
	ca, epA := online(t, o, "alice")
	joinChannel(t, o, ca, epA, id)

	_, err := o.DeleteRoom(ctx, "alice", id)
	require.NoError(t, err)
	var p app.RoomPayload
	epA.Expect(t, app.EventRoomDeleted).Decode(t, &p)
	assert.Equal(t, id, p.RoomID)
	assert.Empty(t, o.Conns.Subscribers(id))

	_, err = o.GetRoom(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTargetedSignalAndAck(t *testing.T) {
	o := newOrchestrator()
	ctx := context.Background()
	id := room(t, o, "dave", domain.RoomPublic)
	_, err := o.RequestJoin(ctx, "erin", id)
	require.NoError(t, err)

	c1, ep1 := online(t, o, "dave")
	c2, ep2 := online(t, o, "erin")
	c3, _ := online(t, o, "frank")
	joinChannel(t, o, c1, ep1, id)
	joinChannel(t, o, c2, ep2, id)
	ep1.Drain()

	n, err := o.Signal(c1, SignalRequest{TargetUserID: "erin", Kind: "answer", Body: json.RawMessage(`"x"`), Ack: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, app.EventSignal, ep2.Next(t).Type)
	var ack app.SignalAckPayload
	ep1.Expect(t, app.EventSignalAck).Decode(t, &ack)
	assert.Equal(t, 1, ack.Delivered)

	// no shared channel and offline users both count as undelivered
	n, err = o.Signal(c3, SignalRequest{TargetUserID: "erin", Kind: "offer", Body: json.RawMessage(`"x"`)})
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = o.Signal(c1, SignalRequest{TargetUserID: "ghost", Kind: "offer", Body: json.RawMessage(`"x"`), Ack: true})
	require.NoError(t, err)
	assert.Zero(t, n)
	ep1.Expect(t, app.EventSignalAck).Decode(t, &ack)
	assert.Zero(t, ack.Delivered)

	_, err = o.Signal(c1, SignalRequest{Kind: "offer", Body: json.RawMessage(`"x"`)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = o.Signal(c1, SignalRequest{RoomID: id, Kind: "bogus", Body: json.RawMessage(`"x"`)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRoomMessage(t *testing.T) {
	o := newOrchestrator()
	ctx := context.Background()
	id := room(t, o, "dave", domain.RoomPublic)
	_, err := o.RequestJoin(ctx, "erin", id)
	require.NoError(t, err)
	c1, ep1 := online(t, o, "dave")
	c2, ep2 := online(t, o, "erin")
	joinChannel(t, o, c1, ep1, id)
	joinChannel(t, o, c2, ep2, id)
	ep1.Drain()

	sent, err := o.RoomMessage(c2, id, "  hi all ", "m-1")
	require.NoError(t, err)
	assert.Equal(t, "hi all", sent.Text)
	assert.NotEmpty(t, sent.ID)

	var got app.MessagePayload
	ep1.Expect(t, app.EventRoomMessage).Decode(t, &got)
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, domain.UserID("erin"), got.FromUserID)
	assert.Equal(t, "m-1", got.Ref)
	assert.True(t, ep2.Empty())

	_, err = o.RoomMessage(c2, id, "   ", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestWhoAmIAndLeaveChannel(t *testing.T) {
	o := newOrchestrator()
	id := room(t, o, "dave", domain.RoomPublic)
	cid, ep := online(t, o, "dave")
	joinChannel(t, o, cid, ep, id)

	require.NoError(t, o.WhoAmI(cid))
	var who app.WhoAmIPayload
	ep.Expect(t, app.EventWhoAmI).Decode(t, &who)
	assert.Equal(t, "IDENTIFIED", who.State)
	assert.Equal(t, []domain.RoomID{id}, who.Channels)

	require.NoError(t, o.LeaveChannel(cid, id))
	assert.ErrorIs(t, o.LeaveChannel(cid, id), domain.ErrNotFound)
}
