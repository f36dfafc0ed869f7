package app

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRooms(t *testing.T) (*RoomService, *memory.Repository) {
	t.Helper()
	repo := memory.NewRepository()
	return NewRoomService(repo), repo
}

func mustCreate(t *testing.T, s *RoomService, owner domain.UserID, kind domain.RoomKind) *domain.Room {
	t.Helper()
	room, err := s.CreateRoom(context.Background(), owner, kind, "test")
	require.NoError(t, err)
	return room
}

func assertDisjoint(t *testing.T, s *RoomService, id domain.RoomID) {
	t.Helper()
	room, err := s.GetRoom(context.Background(), id)
	require.NoError(t, err)
	for _, w := range room.Waiting {
		assert.False(t, room.IsJoined(w), "%s both joined and waiting", w)
	}
}

func TestCreateRoom(t *testing.T) {
	s, _ := newRooms(t)
	room := mustCreate(t, s, "alice", domain.RoomPrivate)

	assert.Len(t, string(room.ID), roomIDLen)
	assert.Equal(t, []domain.UserID{"alice"}, room.Joined)
	assert.Equal(t, domain.UserID("alice"), room.Admin)
	assert.Equal(t, domain.UserID("alice"), room.CreatedBy)

	_, err := s.CreateRoom(context.Background(), "alice", domain.RoomKind("SECRET"), "")
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = s.CreateRoom(context.Background(), "", domain.RoomPublic, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRequestJoin_PublicAndRandomNeverWait(t *testing.T) {
	s, _ := newRooms(t)
	ctx := context.Background()
	for _, kind := range []domain.RoomKind{domain.RoomPublic, domain.RoomRandom} {
		room := mustCreate(t, s, "alice", kind)
		state, err := s.RequestJoin(ctx, "carol", room.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.MemberJoined, state, kind)

		got, err := s.GetRoom(ctx, room.ID)
		require.NoError(t, err)
		assert.True(t, got.IsJoined("carol"))
		assert.Empty(t, got.Waiting)
	}
}

func TestRequestJoin_Private(t *testing.T) {
	s, _ := newRooms(t)
	ctx := context.Background()
	room := mustCreate(t, s, "alice", domain.RoomPrivate)

	state, err := s.RequestJoin(ctx, "bob", room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberWaiting, state)

	// repeated request stays waiting and does not duplicate the entry
	state, err = s.RequestJoin(ctx, "bob", room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberWaiting, state)
	got, _ := s.GetRoom(ctx, room.ID)
	assert.Equal(t, []domain.UserID{"bob"}, got.Waiting)

	// the owner is already joined
	state, err = s.RequestJoin(ctx, "alice", room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberJoined, state)

	assertDisjoint(t, s, room.ID)
}

func TestRequestJoin_ModeratorRejoinsPrivateDirectly(t *testing.T) {
	s, _ := newRooms(t)
	ctx := context.Background()
	room := mustCreate(t, s, "alice", domain.RoomPrivate)

	_, err := s.LeaveRoom(ctx, "alice", room.ID)
	require.NoError(t, err)

	state, err := s.RequestJoin(ctx, "alice", room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberJoined, state)
}

func TestRequestJoin_MissingRoom(t *testing.T) {
	s, _ := newRooms(t)
	_, err := s.RequestJoin(context.Background(), "bob", "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRequestJoin_UnknownKindConflicts(t *testing.T) {
	s, repo := newRooms(t)
	ctx := context.Background()
	bad := domain.NewRoom("weird", "alice", domain.RoomKind("LEGACY"), "", s.now())
	require.NoError(t, repo.Create(ctx, bad))

	_, err := s.RequestJoin(ctx, "bob", "weird")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestApproveJoin(t *testing.T) {
	s, _ := newRooms(t)
	ctx := context.Background()
	room := mustCreate(t, s, "alice", domain.RoomPrivate)
	_, err := s.RequestJoin(ctx, "bob", room.ID)
	require.NoError(t, err)

	_, err = s.ApproveJoin(ctx, "mallory", room.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = s.ApproveJoin(ctx, "alice", room.ID, "carol")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := s.ApproveJoin(ctx, "alice", room.ID, "bob")
	require.NoError(t, err)
	assert.True(t, got.IsJoined("bob"))
	assert.Empty(t, got.Waiting)

	_, err = s.ApproveJoin(ctx, "alice", "nope", "bob")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRejectAfterApproveIsNoop(t *testing.T) {
	s, _ := newRooms(t)
	ctx := context.Background()
	room := mustCreate(t, s, "alice", domain.RoomPrivate)
	_, err := s.RequestJoin(ctx, "bob", room.ID)
	require.NoError(t, err)
	_, err = s.ApproveJoin(ctx, "alice", room.ID, "bob")
	require.NoError(t, err)
	before, _ := s.GetRoom(ctx, room.ID)

	removed, err := s.RejectJoin(ctx, "alice", room.ID, "bob")
	require.NoError(t, err)
	assert.False(t, removed)

	after, _ := s.GetRoom(ctx, room.ID)
	assert.Equal(t, before, after)
	assert.True(t, after.IsJoined("bob"))
}

func TestRejectJoin(t *testing.T) {
	s, _ := newRooms(t)
	ctx := context.Background()
	room := mustCreate(t, s, "alice", domain.RoomPrivate)
	_, err := s.RequestJoin(ctx, "bob", room.ID)
	require.NoError(t, err)

	_, err = s.RejectJoin(ctx, "bob", room.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	removed, err := s.RejectJoin(ctx, "alice", room.ID, "bob")
	require.NoError(t, err)
	assert.True(t, removed)

	state, err := s.Membership(ctx, room.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.MemberNone, state)
}

func TestRemoveMember_ForbiddenLeavesStateUnchanged(t *testing.T) {
	s, _ := newRooms(t)
	ctx := context.Background()
	room := mustCreate(t, s, "alice", domain.RoomPublic)
	for _, u := range []domain.UserID{"bob", "carol"} {
		_, err := s.RequestJoin(ctx, u, room.ID)
		require.NoError(t, err)
	}
	before, _ := s.GetRoom(ctx, room.ID)

	_, err := s.RemoveMember(ctx, "bob", room.ID, "carol")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = s.RemoveMember(ctx, "bob", room.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	after, _ := s.GetRoom(ctx, room.ID)
	assert.Equal(t, before, after)
}

func TestRemoveMember(t *testing.T) {
	s, _ := newRooms(t)
	ctx := context.Background()
	room := mustCreate(t, s, "alice", domain.RoomPublic)
	_, err := s.RequestJoin(ctx, "bob", room.ID)
	require.NoError(t, err)

	got, err := s.RemoveMember(ctx, "alice", room.ID, "bob")
	require.NoError(t, err)
	assert.False(t, got.IsJoined("bob"))

	_, err = s.RemoveMember(ctx, "alice", room.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLeaveRoom(t *testing.T) {
	s, _ := newRooms(t)
	ctx := context.Background()
	room := mustCreate(t, s, "alice", domain.RoomPrivate)
	_, err := s.RequestJoin(ctx, "bob", room.ID)
	require.NoError(t, err)

	was, err := s.LeaveRoom(ctx, "bob", room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberWaiting, was)

	_, err = s.LeaveRoom(ctx, "bob", room.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// the admin leaving keeps adminship
	was, err = s.LeaveRoom(ctx, "alice", room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberAdmin, was)
	got, _ := s.GetRoom(ctx, room.ID)
	assert.Empty(t, got.Joined)
	assert.Equal(t, domain.UserID("alice"), got.Admin)
}

func TestUpdateRoom(t *testing.T) {
	s, _ := newRooms(t)
	ctx := context.Background()
	room := mustCreate(t, s, "alice", domain.RoomPrivate)
	_, err := s.RequestJoin(ctx, "bob", room.ID)
	require.NoError(t, err)

	bob := domain.UserID("bob")
	_, err = s.UpdateRoom(ctx, "alice", room.ID, domain.RoomPatch{Admin: &bob})
	assert.ErrorIs(t, err, domain.ErrNotFound, "waiting users cannot become admin")

	_, err = s.ApproveJoin(ctx, "alice", room.ID, "bob")
	require.NoError(t, err)

	title := "renamed"
	public := domain.RoomPublic
	got, err := s.UpdateRoom(ctx, "alice", room.ID, domain.RoomPatch{Admin: &bob, Title: &title, Kind: &public})
	require.NoError(t, err)
	assert.Equal(t, bob, got.Admin)
	assert.Equal(t, "renamed", got.Title)
	assert.Equal(t, domain.RoomPublic, got.Kind)

	// only the current admin may update, even the creator loses the right
	_, err = s.UpdateRoom(ctx, "alice", room.ID, domain.RoomPatch{Title: &title})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	bad := domain.RoomKind("NOPE")
	_, err = s.UpdateRoom(ctx, "bob", room.ID, domain.RoomPatch{Kind: &bad})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestDeleteRoom(t *testing.T) {
	s, _ := newRooms(t)
	ctx := context.Background()
	room := mustCreate(t, s, "alice", domain.RoomPublic)
	_, err := s.RequestJoin(ctx, "bob", room.ID)
	require.NoError(t, err)

	_, err = s.DeleteRoom(ctx, "bob", room.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	last, err := s.DeleteRoom(ctx, "alice", room.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.UserID{"alice", "bob"}, last.Joined)

	_, err = s.GetRoom(ctx, room.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRandomRoom(t *testing.T) {
	s, _ := newRooms(t)
	ctx := context.Background()

	_, err := s.RandomRoom(ctx, "bob")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	mustCreate(t, s, "alice", domain.RoomPublic)
	random := mustCreate(t, s, "alice", domain.RoomRandom)

	got, err := s.RandomRoom(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, random.ID, got.ID)

	_, err = s.RandomRoom(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestScenario_PrivateApproveLeave(t *testing.T) {
	s, _ := newRooms(t)
	ctx := context.Background()
	r1 := mustCreate(t, s, "alice", domain.RoomPrivate)

	state, err := s.RequestJoin(ctx, "bob", r1.ID)
	require.NoError(t, err)
	require.Equal(t, domain.MemberWaiting, state)

	got, err := s.ApproveJoin(ctx, "alice", r1.ID, "bob")
	require.NoError(t, err)
	assert.True(t, got.IsJoined("bob"))
	assert.Empty(t, got.Waiting)

	_, err = s.LeaveRoom(ctx, "bob", r1.ID)
	require.NoError(t, err)
	got, _ = s.GetRoom(ctx, r1.ID)
	assert.Equal(t, []domain.UserID{"alice"}, got.Joined)
}

func TestConcurrentTransitionsOnOneRoom(t *testing.T) {
	s, _ := newRooms(t)
	ctx := context.Background()
	room := mustCreate(t, s, "alice", domain.RoomPrivate)

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		u := domain.UserID(fmt.Sprintf("user-%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RequestJoin(ctx, u, room.ID)
			assert.NoError(t, err)
			_, err = s.ApproveJoin(ctx, "alice", room.ID, u)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, got.Joined, n+1)
	assert.Empty(t, got.Waiting)
}
