package game

import (
	"sync"

	game_player "github.com/roamgame/roam/game/player"
)

// Registry maps a player identity to its live transport handle. At most one
// connection is live per identity: registering a second one supersedes the
// first. All methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]game_player.GamePlayer
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]game_player.GamePlayer),
	}
}

// Register atomically installs p as the identity's connection and returns
// the superseded handle, if any. The caller must close the superseded handle.
func (r *Registry) Register(identity string, p game_player.GamePlayer) (prev game_player.GamePlayer, superseded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, superseded = r.conns[identity]
	r.conns[identity] = p
	return
}

// Lookup returns the identity's current connection.
func (r *Registry) Lookup(identity string) (game_player.GamePlayer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, found := r.conns[identity]
	return p, found
}

// Remove deletes the registration only if the currently registered handle is
// p, so a late disconnect event for a superseded connection cannot evict a
// newer one. Reports whether a removal happened.
func (r *Registry) Remove(identity string, p game_player.GamePlayer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, found := r.conns[identity]
	if !found || current != p {
		return false
	}
	delete(r.conns, identity)
	return true
}

// Connected returns a snapshot of all registered identities.
func (r *Registry) Connected() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
