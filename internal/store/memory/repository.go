// Package memory is an in-process core.RoomRepository.
package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// entry serializes all writers of one room; rooms never block each other.
type entry struct {
	mu      sync.Mutex
	room    *domain.Room
	deleted bool
}

type Repository struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*entry
	now   func() time.Time
}

var _ core.RoomRepository = (*Repository)(nil)

func NewRepository() *Repository {
	return &Repository{
		rooms: make(map[domain.RoomID]*entry),
		now:   time.Now,
	}
}

func (r *Repository) lookup(id domain.RoomID) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.rooms[id]
	return e, ok
}

func (r *Repository) Get(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, fmt.Errorf("room %s: %w", id, domain.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, fmt.Errorf("room %s: %w", id, domain.ErrNotFound)
	}
	return e.room.Clone(), nil
}

func (r *Repository) Create(_ context.Context, room *domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rooms[room.ID]; exists {
		return fmt.Errorf("room %s already exists: %w", room.ID, domain.ErrConflict)
	}
	r.rooms[room.ID] = &entry{room: room.Clone()}
	log.Debug().Str("module", "store.memory").Str("room", string(room.ID)).Msg("room created")
	return nil
}

// ConditionalUpdate runs pred and mut on a private copy under the room lock
// and publishes the copy only when both succeed.
func (r *Repository) ConditionalUpdate(_ context.Context, id domain.RoomID, pred core.RoomPredicate, mut core.RoomMutation) (*domain.Room, error) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, fmt.Errorf("room %s: %w", id, domain.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, fmt.Errorf("room %s: %w", id, domain.ErrNotFound)
	}

	work := e.room.Clone()
	if pred != nil {
		if err := pred(work); err != nil {
			return nil, err
		}
	}
	if mut != nil {
		if err := mut(work); err != nil {
			if errors.Is(err, core.ErrNoChange) {
				return e.room.Clone(), nil
			}
			return nil, err
		}
	}
	work.Touch(r.now())
	e.room = work
	return work.Clone(), nil
}

func (r *Repository) Delete(_ context.Context, id domain.RoomID, pred core.RoomPredicate) (*domain.Room, error) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, fmt.Errorf("room %s: %w", id, domain.ErrNotFound)
	}
	e.mu.Lock()
	if e.deleted {
		e.mu.Unlock()
		return nil, fmt.Errorf("room %s: %w", id, domain.ErrNotFound)
	}
	if pred != nil {
		if err := pred(e.room.Clone()); err != nil {
			e.mu.Unlock()
			return nil, err
		}
	}
	e.deleted = true
	last := e.room.Clone()
	e.mu.Unlock()

	r.mu.Lock()
	if cur, ok := r.rooms[id]; ok && cur == e {
		delete(r.rooms, id)
	}
	r.mu.Unlock()
	log.Debug().Str("module", "store.memory").Str("room", string(id)).Msg("room deleted")
	return last, nil
}

// List returns rooms ordered by creation time.
func (r *Repository) List(_ context.Context) ([]*domain.Room, error) {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.rooms))
	for _, e := range r.rooms {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]*domain.Room, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted {
			out = append(out, e.room.Clone())
		}
		e.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b *domain.Room) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}
