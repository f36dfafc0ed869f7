// Package core holds the contracts shared between the application layer and its adapters.
package core

import (
	"context"
	"errors"

	"github.com/dkeye/Huddle/internal/domain"
)

// Frame is one encoded outbound event.
type Frame []byte

// ConnID identifies one live transport session.
type ConnID string

// SignalConnection abstracts the messaging transport of one client.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend enqueues without blocking; it fails when the queue is full or closed.
	TrySend(Frame) error
	Close()
}

// ErrClosed is returned by TrySend once the transport has been closed.
var ErrClosed = errors.New("connection closed")

// ErrNoChange may be returned by a RoomMutation to report success without
// writing; ConditionalUpdate then returns the current record and a nil error.
var ErrNoChange = errors.New("no change")

// RoomPredicate inspects the current record; a non-nil error aborts the write.
type RoomPredicate func(*domain.Room) error

// RoomMutation edits the record in place; a non-nil error aborts the write.
type RoomMutation func(*domain.Room) error

// RoomRepository is the durable store of room records.
// ConditionalUpdate and Delete are atomic check-and-set operations per room id.
type RoomRepository interface {
	Get(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	Create(ctx context.Context, room *domain.Room) error
	ConditionalUpdate(ctx context.Context, id domain.RoomID, pred RoomPredicate, mut RoomMutation) (*domain.Room, error)
	Delete(ctx context.Context, id domain.RoomID, pred RoomPredicate) (*domain.Room, error)
	List(ctx context.Context) ([]*domain.Room, error)
}
