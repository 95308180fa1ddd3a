package game

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/roamgame/roam/datastore"
	game_errors "github.com/roamgame/roam/game/errors"
	messages "github.com/roamgame/roam/game/messages"
	game_player "github.com/roamgame/roam/game/player"
)

// SessionState is the per-connection lifecycle state.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateActive
	StateDisconnected // terminal for this connection instance
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

const saveTimeout = 5 * time.Second

// Session is one authenticated connection's lifecycle.
type Session struct {
	identity string
	player   game_player.GamePlayer
	limiter  *rate.Limiter
	state    atomic.Int32
	logger   *logrus.Entry

	coordinator *Coordinator
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(st SessionState) {
	s.state.Store(int32(st))
}

// Identity returns the player identity bound to this session.
func (s *Session) Identity() string {
	return s.identity
}

// Coordinator orchestrates the registry, room directory, movement engine and
// dispatcher: it validates inbound messages, mutates room and position state,
// and triggers the resulting broadcasts. Per-connection failures stay
// contained to that connection.
type Coordinator struct {
	logger     *logrus.Logger
	registry   *Registry
	rooms      *RoomDirectory
	movement   *MovementEngine
	dispatcher *Dispatcher
	states     datastore.PlayerStateStore

	defaultRoom  string
	messageRate  rate.Limit
	messageBurst int

	// identityLocks serializes the connect sequence against disconnect
	// cleanup for the same identity, closing the window where a stale
	// cleanup could tear down state a fresh connection just built.
	// Entries are refcounted and removed when the last holder releases,
	// so the table stays bounded by in-flight lifecycle transitions.
	idMu          sync.Mutex
	identityLocks map[string]*identityLock
}

type identityLock struct {
	mu   sync.Mutex
	refs int
}

// CoordinatorConfig carries the coordinator's tuning knobs.
type CoordinatorConfig struct {
	DefaultRoom  string
	MessageRate  float64
	MessageBurst int
}

// NewCoordinator wires a Coordinator and installs itself as the dispatcher's
// send-failure handler.
func NewCoordinator(
	logger *logrus.Logger,
	registry *Registry,
	rooms *RoomDirectory,
	movement *MovementEngine,
	dispatcher *Dispatcher,
	states datastore.PlayerStateStore,
	cfg CoordinatorConfig,
) *Coordinator {
	c := &Coordinator{
		logger:        logger,
		registry:      registry,
		rooms:         rooms,
		movement:      movement,
		dispatcher:    dispatcher,
		states:        states,
		defaultRoom:   cfg.DefaultRoom,
		messageRate:   rate.Limit(cfg.MessageRate),
		messageBurst:  cfg.MessageBurst,
		identityLocks: make(map[string]*identityLock),
	}
	dispatcher.SetSendFailureHandler(c.handleSendFailure)
	return c
}

func (c *Coordinator) lockIdentity(identity string) func() {
	c.idMu.Lock()
	l, exists := c.identityLocks[identity]
	if !exists {
		l = &identityLock{}
		c.identityLocks[identity] = l
	}
	l.refs++
	c.idMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.idMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.identityLocks, identity)
		}
		c.idMu.Unlock()
	}
}

// Connect takes an authenticated connection to Active: it registers the
// transport (superseding any previous one), restores or initialises the
// player's position, joins the player's room, announces the join, and sends
// the initial room snapshot to the new connection.
func (c *Coordinator) Connect(ctx context.Context, identity string, p game_player.GamePlayer) (*Session, error) {
	unlock := c.lockIdentity(identity)
	defer unlock()

	s := &Session{
		identity:    identity,
		player:      p,
		limiter:     rate.NewLimiter(c.messageRate, c.messageBurst),
		coordinator: c,
		logger: c.logger.WithFields(logrus.Fields{
			"playerID": identity,
		}),
	}
	s.setState(StateAuthenticated)

	prev, superseded := c.registry.Register(identity, p)
	if superseded {
		// In-memory state is authoritative while the identity is
		// connected; the fresh transport takes over the live session
		// where the old one left off, whether or not the player is
		// currently in a room. Persisted state is only consulted when
		// the identity was not registered at all.
		s.logger.Info("superseding existing connection")
		prev.CloseWithError(game_errors.ErrSuperseded)
		if roomID := c.rooms.RoomOf(identity); roomID != "" {
			c.unicastSnapshot(identity, roomID)
		}
		s.setState(StateActive)
		s.logger.Info("player reconnected")
		return s, nil
	}

	st, err := c.states.LoadPlayerState(ctx, identity)
	if err != nil {
		if !errors.Is(err, datastore.ErrPlayerStateNotFound) {
			c.registry.Remove(identity, p)
			return nil, err
		}
		st = datastore.PlayerState{}
	}
	if st.RoomID == "" {
		st.RoomID = c.defaultRoom
	}

	c.movement.Place(identity, Point{X: st.X, Y: st.Y})
	if err := c.rooms.Join(st.RoomID, identity); err != nil {
		c.movement.Remove(identity)
		c.registry.Remove(identity, p)
		return nil, err
	}

	c.dispatcher.Broadcast(st.RoomID, messages.NewPlayerJoinedMessage(identity, st.X, st.Y))
	c.unicastSnapshot(identity, st.RoomID)

	s.setState(StateActive)
	s.logger.WithField("roomID", st.RoomID).Info("player connected")
	return s, nil
}

// Run drives the session's inbound loop until the transport closes, the
// context is cancelled, or a protocol violation occurs. It always performs
// disconnect cleanup before returning.
func (s *Session) Run(ctx context.Context) {
	c := s.coordinator
	var reason error
	defer func() {
		c.disconnect(s, reason)
	}()

	for {
		msg, err := s.player.Read(ctx)
		if err != nil {
			reason = err
			return
		}
		if !s.limiter.Allow() {
			reason = game_errors.ErrMessageRateExceeded
			s.logger.Warn("inbound message rate exceeded")
			return
		}
		if err := c.handleMessage(s, msg); err != nil {
			reason = err
			return
		}
	}
}

// handleMessage applies one inbound frame. A returned error is a protocol
// violation that terminates the session.
func (c *Coordinator) handleMessage(s *Session, msg messages.ClientMessage) error {
	switch msg.Kind {
	case messages.KindJoinRoom:
		return c.handleJoinRoom(s, msg.Room)
	case messages.KindMoveTo:
		return c.handleMoveTo(s, msg.X, msg.Y)
	case messages.KindLeaveRoom:
		c.handleLeaveRoom(s)
		return nil
	case messages.KindPing:
		c.dispatcher.Unicast(s.identity, messages.NewPongMessage())
		return nil
	default:
		s.logger.WithField("kind", msg.Kind).Warn("unknown message kind")
		c.dispatcher.Unicast(s.identity, messages.NewErrorMessage("unknown message kind"))
		return game_errors.ErrProtocolViolation
	}
}

func (c *Coordinator) handleJoinRoom(s *Session, roomID string) error {
	if roomID == "" {
		c.dispatcher.Unicast(s.identity, messages.NewErrorMessage("missing room"))
		return game_errors.ErrProtocolViolation
	}

	former := c.rooms.RoomOf(s.identity)
	if former == roomID {
		c.unicastSnapshot(s.identity, roomID)
		return nil
	}

	if err := c.rooms.Join(roomID, s.identity); err != nil {
		return err
	}
	if former != "" {
		c.dispatcher.Broadcast(former, messages.NewPlayerLeftMessage(s.identity))
	}

	pos, _ := c.movement.Position(s.identity)
	c.dispatcher.Broadcast(roomID, messages.NewPlayerJoinedMessage(s.identity, pos.X, pos.Y))
	c.unicastSnapshot(s.identity, roomID)
	s.logger.WithField("roomID", roomID).Debug("player switched room")
	return nil
}

func (c *Coordinator) handleMoveTo(s *Session, x, y float64) error {
	if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
		c.dispatcher.Unicast(s.identity, messages.NewErrorMessage("invalid coordinates"))
		return game_errors.ErrProtocolViolation
	}
	c.movement.SetDestination(s.identity, Point{X: x, Y: y})
	return nil
}

func (c *Coordinator) handleLeaveRoom(s *Session) {
	former := c.rooms.Leave(s.identity)
	if former != "" {
		c.dispatcher.Broadcast(former, messages.NewPlayerLeftMessage(s.identity))
	}
}

// disconnect performs Active→Disconnected cleanup: guarded registry removal,
// room leave with a player-left broadcast, movement-state removal, and the
// write-back save. A session whose registration was superseded only closes
// its own transport; the newer connection owns the shared state.
func (c *Coordinator) disconnect(s *Session, reason error) {
	unlock := c.lockIdentity(s.identity)
	defer unlock()

	if s.State() == StateDisconnected {
		return
	}
	s.setState(StateDisconnected)

	if !c.registry.Remove(s.identity, s.player) {
		s.player.Close("closed")
		s.logger.Debug("stale disconnect, registration already superseded")
		return
	}

	former := c.rooms.Leave(s.identity)
	pos, hadPos := c.movement.Remove(s.identity)
	if former != "" {
		c.dispatcher.Broadcast(former, messages.NewPlayerLeftMessage(s.identity))
	}

	if hadPos {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		st := datastore.PlayerState{X: pos.X, Y: pos.Y, RoomID: former}
		if err := c.states.SavePlayerState(ctx, s.identity, st); err != nil {
			s.logger.WithError(err).Error("failed to save player state")
		}
		cancel()
	}

	if reason != nil && !errors.Is(reason, game_errors.ErrConnectionClosed) && !errors.Is(reason, game_errors.ErrContextCancelled) {
		s.player.CloseWithError(reason)
	} else {
		s.player.Close("session ended")
	}

	s.logger.WithFields(logrus.Fields{
		"roomID": former,
		"reason": reasonString(reason),
	}).Info("player disconnected")
}

func reasonString(err error) string {
	if err == nil {
		return "closed"
	}
	return err.Error()
}

// handleSendFailure is the dispatcher's cleanup callback for a recipient
// whose transport broke mid-broadcast. The registry guard in disconnect makes
// it a no-op when the identity has already reconnected on a new handle.
func (c *Coordinator) handleSendFailure(identity string, p game_player.GamePlayer, err error) {
	s := &Session{
		identity:    identity,
		player:      p,
		coordinator: c,
		logger: c.logger.WithFields(logrus.Fields{
			"playerID": identity,
		}),
	}
	s.setState(StateActive)
	c.disconnect(s, err)
}

// Step advances the movement engine by dt and broadcasts the resulting
// deltas to each mover's room. Deltas are emitted in identity order so a
// given tick is deterministic for observers.
func (c *Coordinator) Step(dt time.Duration) {
	deltas := c.movement.Tick(dt)
	if len(deltas) == 0 {
		return
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].ID < deltas[j].ID })

	for _, delta := range deltas {
		roomID := c.rooms.RoomOf(delta.ID)
		if roomID == "" {
			// Unassigned players keep moving but broadcast nothing.
			continue
		}
		c.dispatcher.Broadcast(roomID, messages.NewPlayerMovedMessage(delta.ID, delta.X, delta.Y, delta.Arrived))
	}
}

// Checkpoint write-backs the state of every connected player. Live in-memory
// state stays authoritative; this bounds how much a crash can lose.
func (c *Coordinator) Checkpoint(ctx context.Context) {
	for _, identity := range c.registry.Connected() {
		pos, ok := c.movement.Position(identity)
		if !ok {
			continue
		}
		st := datastore.PlayerState{X: pos.X, Y: pos.Y, RoomID: c.rooms.RoomOf(identity)}
		if err := c.states.SavePlayerState(ctx, identity, st); err != nil {
			c.logger.WithError(err).WithField("playerID", identity).Error("checkpoint save failed")
		}
	}
}

func (c *Coordinator) unicastSnapshot(identity, roomID string) {
	members := c.rooms.Members(roomID)
	players := make([]messages.PlayerSnapshot, 0, len(members))
	for _, id := range members {
		pos, ok := c.movement.Position(id)
		if !ok {
			continue
		}
		players = append(players, messages.PlayerSnapshot{ID: id, X: pos.X, Y: pos.Y})
	}
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })
	c.dispatcher.Unicast(identity, messages.NewRoomSnapshotMessage(roomID, players))
}
