package game

import (
	"math"
	"sync"
	"time"
)

// Point is a 2D world coordinate.
type Point struct {
	X float64
	Y float64
}

// Dist returns the euclidean distance to q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(q.X-p.X, q.Y-p.Y)
}

// Delta is one player's position change produced by a tick.
type Delta struct {
	ID      string
	X       float64
	Y       float64
	Arrived bool
}

type movementState struct {
	pos  Point
	dest Point
}

// MovementEngine advances player positions toward their destinations on a
// fixed tick. Only players in the moving working set consume tick work; idle
// players cost nothing and produce no deltas, bounding broadcast volume to
// actual movement.
type MovementEngine struct {
	mu      sync.Mutex
	speed   float64 // world units per second
	epsilon float64 // arrival distance

	players map[string]*movementState
	moving  map[string]struct{}
}

// NewMovementEngine creates an engine with the given speed (units/second)
// and arrival epsilon.
func NewMovementEngine(speed, epsilon float64) *MovementEngine {
	return &MovementEngine{
		speed:   speed,
		epsilon: epsilon,
		players: make(map[string]*movementState),
		moving:  make(map[string]struct{}),
	}
}

// Place registers a player at pos, idle. The destination defaults to the
// current position, meaning "not moving".
func (e *MovementEngine) Place(identity string, pos Point) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.players[identity] = &movementState{pos: pos, dest: pos}
	delete(e.moving, identity)
}

// SetDestination records the desired endpoint. Movement happens on
// subsequent ticks, never synchronously. A destination within epsilon of the
// current position leaves the player idle.
func (e *MovementEngine) SetDestination(identity string, target Point) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, exists := e.players[identity]
	if !exists {
		return
	}
	st.dest = target
	if st.pos.Dist(target) <= e.epsilon {
		st.pos = target
		delete(e.moving, identity)
		return
	}
	e.moving[identity] = struct{}{}
}

// Tick advances every moving player by at most speed×dt, clamped so nothing
// overshoots. Players whose remaining distance falls within the step (or
// epsilon) snap exactly to the destination and go idle. Returns one delta
// per player whose position changed.
func (e *MovementEngine) Tick(dt time.Duration) []Delta {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.moving) == 0 {
		return nil
	}

	step := e.speed * dt.Seconds()
	deltas := make([]Delta, 0, len(e.moving))
	for id := range e.moving {
		st := e.players[id]
		dist := st.pos.Dist(st.dest)
		if dist <= step || dist <= e.epsilon {
			st.pos = st.dest
			delete(e.moving, id)
			deltas = append(deltas, Delta{ID: id, X: st.pos.X, Y: st.pos.Y, Arrived: true})
			continue
		}
		st.pos.X += (st.dest.X - st.pos.X) / dist * step
		st.pos.Y += (st.dest.Y - st.pos.Y) / dist * step
		deltas = append(deltas, Delta{ID: id, X: st.pos.X, Y: st.pos.Y})
	}
	return deltas
}

// Position returns the player's current authoritative position.
func (e *MovementEngine) Position(identity string) (Point, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, exists := e.players[identity]
	if !exists {
		return Point{}, false
	}
	return st.pos, true
}

// Remove drops the player from the engine, returning its final position for
// write-back.
func (e *MovementEngine) Remove(identity string) (Point, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, exists := e.players[identity]
	if !exists {
		return Point{}, false
	}
	delete(e.players, identity)
	delete(e.moving, identity)
	return st.pos, true
}

// MovingCount returns the size of the moving working set.
func (e *MovementEngine) MovingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.moving)
}
