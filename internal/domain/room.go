package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxRoomTitleLen  = 64
	DefaultRoomTitle = "Untitled room"
)

type RoomID string

type RoomKind string

const (
	RoomPublic  RoomKind = "PUBLIC"
	RoomPrivate RoomKind = "PRIVATE"
	RoomRandom  RoomKind = "RANDOM"
)

// ParseRoomKind accepts any letter case; an empty value means PUBLIC.
func ParseRoomKind(raw string) (RoomKind, error) {
	if strings.TrimSpace(raw) == "" {
		return RoomPublic, nil
	}
	k := RoomKind(strings.ToUpper(strings.TrimSpace(raw)))
	if !k.Valid() {
		return "", fmt.Errorf("room kind %q: %w", raw, ErrConflict)
	}
	return k, nil
}

func (k RoomKind) Valid() bool {
	switch k {
	case RoomPublic, RoomPrivate, RoomRandom:
		return true
	}
	return false
}

// NeedsApproval reports whether non-moderators have to wait in this kind of room.
func (k RoomKind) NeedsApproval() bool { return k == RoomPrivate }

// Membership is the state of one user relative to one room.
type Membership int

const (
	MemberNone Membership = iota
	MemberWaiting
	MemberJoined
	MemberAdmin
)

func (m Membership) String() string {
	switch m {
	case MemberWaiting:
		return "WAITING"
	case MemberJoined:
		return "JOINED"
	case MemberAdmin:
		return "ADMIN"
	default:
		return "NONE"
	}
}

func (m Membership) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// InRoom is true for states that grant access to the room's relay channel.
func (m Membership) InRoom() bool { return m == MemberJoined || m == MemberAdmin }

// Room is the authoritative membership record.
// Joined and Waiting never share a user; helpers below keep it that way.
type Room struct {
	ID        RoomID    `json:"id"`
	Title     string    `json:"title"`
	Kind      RoomKind  `json:"kind"`
	CreatedBy UserID    `json:"createdBy"`
	Admin     UserID    `json:"admin"`
	Joined    []UserID  `json:"joinedUsers"`
	Waiting   []UserID  `json:"waitingUsers"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int64     `json:"version"`
}

func NewRoom(id RoomID, owner UserID, kind RoomKind, title string, now time.Time) *Room {
	return &Room{
		ID:        id,
		Title:     NormalizeTitle(title),
		Kind:      kind,
		CreatedBy: owner,
		Admin:     owner,
		Joined:    []UserID{owner},
		Waiting:   []UserID{},
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}

// NormalizeTitle trims, truncates to MaxRoomTitleLen runes and falls back to the default.
func NormalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return DefaultRoomTitle
	}
	if utf8.RuneCountInString(title) > MaxRoomTitleLen {
		title = strings.TrimSpace(string([]rune(title)[:MaxRoomTitleLen]))
	}
	return title
}

func (r *Room) IsJoined(u UserID) bool  { return slices.Contains(r.Joined, u) }
func (r *Room) IsWaiting(u UserID) bool { return slices.Contains(r.Waiting, u) }

// CanModerate reports whether u is the creator or the admin.
func (r *Room) CanModerate(u UserID) bool {
	return u != "" && (u == r.CreatedBy || u == r.Admin)
}

func (r *Room) MembershipOf(u UserID) Membership {
	switch {
	case r.IsJoined(u) && u == r.Admin:
		return MemberAdmin
	case r.IsJoined(u):
		return MemberJoined
	case r.IsWaiting(u):
		return MemberWaiting
	default:
		return MemberNone
	}
}

// Admit moves u into Joined, clearing any pending request.
func (r *Room) Admit(u UserID) {
	r.Waiting = slices.DeleteFunc(r.Waiting, func(w UserID) bool { return w == u })
	if !r.IsJoined(u) {
		r.Joined = append(r.Joined, u)
	}
}

// Enqueue puts u in Waiting unless already joined or waiting.
func (r *Room) Enqueue(u UserID) {
	if r.IsJoined(u) || r.IsWaiting(u) {
		return
	}
	r.Waiting = append(r.Waiting, u)
}

// Dequeue removes u from Waiting and reports whether it was there.
func (r *Room) Dequeue(u UserID) bool {
	n := len(r.Waiting)
	r.Waiting = slices.DeleteFunc(r.Waiting, func(w UserID) bool { return w == u })
	return len(r.Waiting) != n
}

// Evict removes u from Joined and reports whether it was there.
func (r *Room) Evict(u UserID) bool {
	n := len(r.Joined)
	r.Joined = slices.DeleteFunc(r.Joined, func(j UserID) bool { return j == u })
	return len(r.Joined) != n
}

// Touch bumps the version after a mutation.
func (r *Room) Touch(now time.Time) {
	r.UpdatedAt = now
	r.Version++
}

func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Joined = slices.Clone(r.Joined)
	cp.Waiting = slices.Clone(r.Waiting)
	if cp.Joined == nil {
		cp.Joined = []UserID{}
	}
	if cp.Waiting == nil {
		cp.Waiting = []UserID{}
	}
	return &cp
}

// RoomPatch carries optional UpdateRoom fields; nil means unchanged.
type RoomPatch struct {
	Admin *UserID
	Title *string
	Kind  *RoomKind
}

func (p RoomPatch) Empty() bool { return p.Admin == nil && p.Title == nil && p.Kind == nil }
