package game

import (
	"sync"

	game_errors "github.com/roamgame/roam/game/errors"
)

// room is one broadcast scope. Its member set is guarded by its own mutex so
// unrelated rooms never contend. A room emptied of members is marked dead and
// dropped from the directory; holders of a stale pointer detect dead and
// retry through the directory.
type room struct {
	id      string
	mu      sync.Mutex
	dead    bool
	members map[string]struct{}
}

func newRoom(id string) *room {
	return &room{
		id:      id,
		members: make(map[string]struct{}),
	}
}

// RoomDirectory maps room identifiers to member sets and enforces that a
// player belongs to at most one room at a time. The directory mutex guards
// only the two lookup maps and is never held while acquiring a room lock;
// membership mutation happens under the affected room locks plus the
// directory lock, so assignment and membership agree at every observable
// point.
type RoomDirectory struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	byPlayer map[string]*room
}

// NewRoomDirectory creates an empty RoomDirectory.
func NewRoomDirectory() *RoomDirectory {
	return &RoomDirectory{
		rooms:    make(map[string]*room),
		byPlayer: make(map[string]*room),
	}
}

// Join adds the player to roomID, atomically moving it out of any prior room.
// The player is never observable in two rooms: the old membership is removed
// and the new one added while both room locks are held. Rooms are created
// implicitly on first join.
func (d *RoomDirectory) Join(roomID, identity string) error {
	if roomID == "" {
		return game_errors.ErrInvalidRoom
	}

	for {
		d.mu.Lock()
		old := d.byPlayer[identity]
		nr := d.rooms[roomID]
		if nr == nil {
			nr = newRoom(roomID)
			d.rooms[roomID] = nr
		}
		d.mu.Unlock()

		if old == nr {
			return nil
		}

		lockOrdered(old, nr)
		d.mu.Lock()

		// Another goroutine may have moved the player or reaped one of
		// the rooms between the lookup and the lock acquisition.
		stale := nr.dead ||
			d.byPlayer[identity] != old ||
			(old != nil && old.dead)
		if stale {
			d.mu.Unlock()
			unlockOrdered(old, nr)
			continue
		}

		if old != nil {
			delete(old.members, identity)
		}
		nr.members[identity] = struct{}{}
		d.byPlayer[identity] = nr
		if old != nil && len(old.members) == 0 {
			old.dead = true
			delete(d.rooms, old.id)
		}

		d.mu.Unlock()
		unlockOrdered(old, nr)
		return nil
	}
}

// Leave removes the player from its current room. No-op if the player is not
// in any room. Returns the room left, or "" for the no-op case.
func (d *RoomDirectory) Leave(identity string) string {
	for {
		d.mu.RLock()
		old := d.byPlayer[identity]
		d.mu.RUnlock()
		if old == nil {
			return ""
		}

		old.mu.Lock()
		d.mu.Lock()
		if old.dead || d.byPlayer[identity] != old {
			d.mu.Unlock()
			old.mu.Unlock()
			continue
		}

		delete(old.members, identity)
		delete(d.byPlayer, identity)
		if len(old.members) == 0 {
			old.dead = true
			delete(d.rooms, old.id)
		}

		d.mu.Unlock()
		old.mu.Unlock()
		return old.id
	}
}

// Members returns a snapshot of the room's member identities. The copy is
// safe to iterate while broadcasting without holding any directory state.
func (d *RoomDirectory) Members(roomID string) []string {
	d.mu.RLock()
	r := d.rooms[roomID]
	d.mu.RUnlock()
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead {
		return nil
	}
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	return ids
}

// RoomOf returns the player's current room, or "" if unassigned.
func (d *RoomDirectory) RoomOf(identity string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if r := d.byPlayer[identity]; r != nil {
		return r.id
	}
	return ""
}

// Rooms returns a snapshot of room occupancy counts. Empty rooms are never
// present; they are reaped when their last member leaves.
func (d *RoomDirectory) Rooms() map[string]int {
	d.mu.RLock()
	ptrs := make([]*room, 0, len(d.rooms))
	for _, r := range d.rooms {
		ptrs = append(ptrs, r)
	}
	d.mu.RUnlock()

	counts := make(map[string]int, len(ptrs))
	for _, r := range ptrs {
		r.mu.Lock()
		if !r.dead && len(r.members) > 0 {
			counts[r.id] = len(r.members)
		}
		r.mu.Unlock()
	}
	return counts
}

// lockOrdered acquires the locks of up to two rooms in a stable order so
// concurrent moves between the same pair cannot deadlock. a may be nil.
func lockOrdered(a, b *room) {
	if a == nil {
		b.mu.Lock()
		return
	}
	if a.id < b.id {
		a.mu.Lock()
		b.mu.Lock()
	} else {
		b.mu.Lock()
		a.mu.Lock()
	}
}

func unlockOrdered(a, b *room) {
	if a != nil {
		a.mu.Unlock()
	}
	b.mu.Unlock()
}
