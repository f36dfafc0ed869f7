package app

import (
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry is the presence table: which connection currently speaks for a user.
// At most one connection per user; the latest Register wins.
type Registry struct {
	mu    sync.RWMutex
	users map[domain.UserID]core.ConnID
}

func NewRegistry() *Registry {
	return &Registry{users: make(map[domain.UserID]core.ConnID)}
}

func (r *Registry) Register(uid domain.UserID, cid core.ConnID) {
	r.mu.Lock()
	prev, had := r.users[uid]
	r.users[uid] = cid
	r.mu.Unlock()

	ev := log.Info().Str("module", "app.registry").Str("user", string(uid)).Str("conn", string(cid))
	if had && prev != cid {
		ev = ev.Str("replaced", string(prev))
	}
	ev.Msg("presence registered")
}

func (r *Registry) Lookup(uid domain.UserID) (core.ConnID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cid, ok := r.users[uid]
	return cid, ok
}

// Unregister drops the entry only while it still points at cid, so a stale
// disconnect cannot evict a newer session.
func (r *Registry) Unregister(uid domain.UserID, cid core.ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.users[uid]
	if !ok || cur != cid {
		log.Debug().Str("module", "app.registry").Str("user", string(uid)).Str("conn", string(cid)).Msg("stale unregister ignored")
		return false
	}
	delete(r.users, uid)
	log.Info().Str("module", "app.registry").Str("user", string(uid)).Str("conn", string(cid)).Msg("presence removed")
	return true
}

func (r *Registry) Online() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
