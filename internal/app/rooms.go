package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	nanoid "github.com/jaevor/go-nanoid"
	"github.com/rs/zerolog/log"
)

const (
	roomIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	roomIDLen      = 12
	createAttempts = 3
)

// RoomService enforces the membership state machine on top of a RoomRepository.
// Every transition is a single atomic repository call, so transitions on the
// same room are linearized by the store and different rooms never contend.
type RoomService struct {
	repo  core.RoomRepository
	newID func() string
	now   func() time.Time
}

func NewRoomService(repo core.RoomRepository) *RoomService {
	gen, err := nanoid.CustomASCII(roomIDAlphabet, roomIDLen)
	if err != nil {
		// alphabet and length are constants
		panic(err)
	}
	return &RoomService{repo: repo, newID: gen, now: time.Now}
}

func moderator(actor domain.UserID) core.RoomPredicate {
	return func(r *domain.Room) error {
		if !r.CanModerate(actor) {
			return fmt.Errorf("%s is not creator or admin of %s: %w", actor, r.ID, domain.ErrForbidden)
		}
		return nil
	}
}

func knownKind(r *domain.Room) error {
	if !r.Kind.Valid() {
		return fmt.Errorf("room %s has no membership rule for kind %q: %w", r.ID, r.Kind, domain.ErrConflict)
	}
	return nil
}

func (s *RoomService) CreateRoom(ctx context.Context, owner domain.UserID, kind domain.RoomKind, title string) (*domain.Room, error) {
	if owner == "" {
		return nil, fmt.Errorf("create room: owner: %w", domain.ErrInvalidInput)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("create room: kind %q: %w", kind, domain.ErrConflict)
	}
	var err error
	for range createAttempts {
		room := domain.NewRoom(domain.RoomID(s.newID()), owner, kind, title, s.now())
		if err = s.repo.Create(ctx, room); err == nil {
			log.Info().Str("module", "app.rooms").Str("room", string(room.ID)).Str("owner", string(owner)).Str("kind", string(kind)).Msg("room created")
			return room, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			break
		}
	}
	return nil, fmt.Errorf("create room: %w", err)
}

// RequestJoin returns MemberJoined when the user is in the room afterwards and
// MemberWaiting when the request is pending approval.
func (s *RoomService) RequestJoin(ctx context.Context, uid domain.UserID, id domain.RoomID) (domain.Membership, error) {
	var state domain.Membership
	_, err := s.repo.ConditionalUpdate(ctx, id, knownKind, func(r *domain.Room) error {
		switch {
		case r.IsJoined(uid):
			state = domain.MemberJoined
			return core.ErrNoChange
		case r.CanModerate(uid) || !r.Kind.NeedsApproval():
			r.Admit(uid)
			state = domain.MemberJoined
		case r.IsWaiting(uid):
			state = domain.MemberWaiting
			return core.ErrNoChange
		default:
			r.Enqueue(uid)
			state = domain.MemberWaiting
		}
		return nil
	})
	if err != nil {
		return domain.MemberNone, fmt.Errorf("join %s: %w", id, err)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("user", string(uid)).Stringer("state", state).Msg("join requested")
	return state, nil
}

func (s *RoomService) ApproveJoin(ctx context.Context, actor domain.UserID, id domain.RoomID, target domain.UserID) (*domain.Room, error) {
	room, err := s.repo.ConditionalUpdate(ctx, id, moderator(actor), func(r *domain.Room) error {
		if !r.IsWaiting(target) {
			return fmt.Errorf("%s is not waiting: %w", target, domain.ErrNotFound)
		}
		r.Admit(target)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("approve %s in %s: %w", target, id, err)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("actor", string(actor)).Str("user", string(target)).Msg("join approved")
	return room, nil
}

// RejectJoin is idempotent; removed reports whether target was actually waiting.
func (s *RoomService) RejectJoin(ctx context.Context, actor domain.UserID, id domain.RoomID, target domain.UserID) (removed bool, err error) {
	_, err = s.repo.ConditionalUpdate(ctx, id, moderator(actor), func(r *domain.Room) error {
		removed = r.Dequeue(target)
		if !removed {
			return core.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("reject %s in %s: %w", target, id, err)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("actor", string(actor)).Str("user", string(target)).Bool("removed", removed).Msg("join rejected")
	return removed, nil
}

func (s *RoomService) RemoveMember(ctx context.Context, actor domain.UserID, id domain.RoomID, target domain.UserID) (*domain.Room, error) {
	room, err := s.repo.ConditionalUpdate(ctx, id, moderator(actor), func(r *domain.Room) error {
		if !r.Evict(target) {
			return fmt.Errorf("%s is not joined: %w", target, domain.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("remove %s from %s: %w", target, id, err)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("actor", string(actor)).Str("user", string(target)).Msg("member removed")
	return room, nil
}

// LeaveRoom drops the caller from Joined, or withdraws a pending request.
// It returns the membership the caller had before leaving. Adminship is kept
// as is; reassigning it takes an explicit UpdateRoom.
func (s *RoomService) LeaveRoom(ctx context.Context, uid domain.UserID, id domain.RoomID) (domain.Membership, error) {
	var was domain.Membership
	_, err := s.repo.ConditionalUpdate(ctx, id, nil, func(r *domain.Room) error {
		was = r.MembershipOf(uid)
		if r.Evict(uid) || r.Dequeue(uid) {
			return nil
		}
		return fmt.Errorf("%s is not a member: %w", uid, domain.ErrNotFound)
	})
	if err != nil {
		return domain.MemberNone, fmt.Errorf("leave %s: %w", id, err)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("user", string(uid)).Stringer("was", was).Msg("left room")
	return was, nil
}

func (s *RoomService) UpdateRoom(ctx context.Context, actor domain.UserID, id domain.RoomID, patch domain.RoomPatch) (*domain.Room, error) {
	isAdmin := func(r *domain.Room) error {
		if r.Admin != actor {
			return fmt.Errorf("%s is not admin of %s: %w", actor, r.ID, domain.ErrForbidden)
		}
		return nil
	}
	room, err := s.repo.ConditionalUpdate(ctx, id, isAdmin, func(r *domain.Room) error {
		if patch.Empty() {
			return core.ErrNoChange
		}
		if patch.Kind != nil {
			if !patch.Kind.Valid() {
				return fmt.Errorf("kind %q: %w", *patch.Kind, domain.ErrConflict)
			}
			r.Kind = *patch.Kind
		}
		if patch.Admin != nil {
			if !r.IsJoined(*patch.Admin) {
				return fmt.Errorf("new admin %s is not joined: %w", *patch.Admin, domain.ErrNotFound)
			}
			r.Admin = *patch.Admin
		}
		if patch.Title != nil {
			r.Title = domain.NormalizeTitle(*patch.Title)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", id, err)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("actor", string(actor)).Msg("room updated")
	return room, nil
}

// DeleteRoom returns the last snapshot so callers can tear down relay channels.
func (s *RoomService) DeleteRoom(ctx context.Context, actor domain.UserID, id domain.RoomID) (*domain.Room, error) {
	room, err := s.repo.Delete(ctx, id, moderator(actor))
	if err != nil {
		return nil, fmt.Errorf("delete %s: %w", id, err)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("actor", string(actor)).Msg("room deleted")
	return room, nil
}

func (s *RoomService) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	return s.repo.Get(ctx, id)
}

func (s *RoomService) Membership(ctx context.Context, id domain.RoomID, uid domain.UserID) (domain.Membership, error) {
	room, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.MemberNone, err
	}
	return room.MembershipOf(uid), nil
}

func (s *RoomService) ListRooms(ctx context.Context) ([]*domain.Room, error) {
	return s.repo.List(ctx)
}

// RandomRoom picks a RANDOM-kind room uid is not already in.
func (s *RoomService) RandomRoom(ctx context.Context, uid domain.UserID) (*domain.Room, error) {
	rooms, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	candidates := make([]*domain.Room, 0, len(rooms))
	for _, r := range rooms {
		if r.Kind == domain.RoomRandom && !r.IsJoined(uid) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("random room: %w", domain.ErrNotFound)
	}
	return candidates[rand.IntN(len(candidates))], nil
}
