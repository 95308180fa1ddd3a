package game

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	messages "github.com/roamgame/roam/game/messages"
	game_player "github.com/roamgame/roam/game/player"
)

// SendFailureHandler is invoked asynchronously when delivery to one
// connection fails. Implementations run disconnect cleanup for that identity;
// the failing handle is passed through so a stale cleanup stays a no-op.
type SendFailureHandler func(identity string, p game_player.GamePlayer, err error)

// Dispatcher serializes state deltas once and fans them out to the live
// connections of a room's members. A failed recipient never aborts delivery
// to the rest.
type Dispatcher struct {
	registry *Registry
	rooms    *RoomDirectory
	logger   *logrus.Logger

	onSendFailure SendFailureHandler

	// order serializes broadcasts per room so every member's transport
	// sees the same relative order. No guarantee is made across rooms.
	// Entries are refcounted: an entry is only reaped once the room was
	// observed empty and no broadcaster still holds a reference, so two
	// concurrent broadcasts to the same room can never end up serialized
	// on different mutexes.
	mu    sync.Mutex
	order map[string]*roomOrder
}

type roomOrder struct {
	mu   sync.Mutex
	refs int
}

// NewDispatcher creates a Dispatcher over the given registry and directory.
func NewDispatcher(registry *Registry, rooms *RoomDirectory, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		rooms:    rooms,
		logger:   logger,
		order:    make(map[string]*roomOrder),
	}
}

// SetSendFailureHandler installs the disconnect-cleanup callback. Must be
// called before the first broadcast.
func (d *Dispatcher) SetSendFailureHandler(h SendFailureHandler) {
	d.onSendFailure = h
}

// Broadcast sends msg to every currently registered connection among the
// room's members at call time. Per-recipient failures are contained: the
// failing identity gets an asynchronous disconnect cleanup and the loop
// continues.
func (d *Dispatcher) Broadcast(roomID string, msg messages.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		d.logger.WithError(err).WithField("kind", msg.Kind).Error("failed to encode broadcast")
		return
	}

	ord := d.acquireOrder(roomID)
	members := d.rooms.Members(roomID)
	for _, identity := range members {
		d.deliver(identity, payload)
	}
	d.releaseOrder(roomID, ord, len(members) == 0)
}

// Unicast sends msg to one identity's connection if present. Absence is a
// no-op, not an error: sends may race benignly with disconnects.
func (d *Dispatcher) Unicast(identity string, msg messages.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		d.logger.WithError(err).WithField("kind", msg.Kind).Error("failed to encode unicast")
		return
	}
	d.deliver(identity, payload)
}

func (d *Dispatcher) deliver(identity string, payload []byte) {
	p, found := d.registry.Lookup(identity)
	if !found {
		return
	}
	if err := p.Send(payload); err != nil {
		d.logger.WithError(err).WithField("playerID", identity).Warn("send failed, scheduling disconnect")
		if d.onSendFailure != nil {
			go d.onSendFailure(identity, p, err)
		}
	}
}

// acquireOrder takes the room's ordering mutex, registering a reference
// under the map lock first so the entry cannot be reaped while this
// broadcaster waits on it.
func (d *Dispatcher) acquireOrder(roomID string) *roomOrder {
	d.mu.Lock()
	ord, exists := d.order[roomID]
	if !exists {
		ord = &roomOrder{}
		d.order[roomID] = ord
	}
	ord.refs++
	d.mu.Unlock()

	ord.mu.Lock()
	return ord
}

// releaseOrder drops the reference and reaps the entry once the room was
// observed empty and no other broadcaster holds it, keeping the map bounded
// by rooms that actually see traffic.
func (d *Dispatcher) releaseOrder(roomID string, ord *roomOrder, empty bool) {
	ord.mu.Unlock()

	d.mu.Lock()
	ord.refs--
	if empty && ord.refs == 0 {
		delete(d.order, roomID)
	}
	d.mu.Unlock()
}
