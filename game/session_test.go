package game

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/roamgame/roam/datastore"
	"github.com/roamgame/roam/datastore/memory"
	game_errors "github.com/roamgame/roam/game/errors"
	messages "github.com/roamgame/roam/game/messages"
)

type coordinatorFixture struct {
	coordinator *Coordinator
	registry    *Registry
	rooms       *RoomDirectory
	movement    *MovementEngine
	store       *memory.Store
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	registry := NewRegistry()
	rooms := NewRoomDirectory()
	movement := NewMovementEngine(1.0, 1e-9)
	dispatcher := NewDispatcher(registry, rooms, logger)
	store := memory.New()

	coordinator := NewCoordinator(logger, registry, rooms, movement, dispatcher, store, CoordinatorConfig{
		DefaultRoom:  "lobby",
		MessageRate:  1000,
		MessageBurst: 1000,
	})
	return &coordinatorFixture{
		coordinator: coordinator,
		registry:    registry,
		rooms:       rooms,
		movement:    movement,
		store:       store,
	}
}

// connect registers a fake player and starts its session loop.
func (f *coordinatorFixture) connect(t *testing.T, id string) (*fakePlayer, *Session, *sync.WaitGroup) {
	t.Helper()
	p := newFakePlayer(id)
	s, err := f.coordinator.Connect(context.Background(), id, p)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Run(context.Background())
	}()
	return p, s, &wg
}

func TestCoordinatorConnect(t *testing.T) {
	t.Run("first connection lands in the default room with a snapshot", func(t *testing.T) {
		f := newCoordinatorFixture(t)

		p := newFakePlayer("alice")
		s, err := f.coordinator.Connect(context.Background(), "alice", p)
		require.NoError(t, err)
		require.Equal(t, StateActive, s.State())
		require.Equal(t, "lobby", f.rooms.RoomOf("alice"))

		snaps := p.receivedOfKind(t, messages.KindRoomSnapshot)
		require.Len(t, snaps, 1)
		require.Equal(t, "lobby", snaps[0].Room)
		require.Len(t, snaps[0].Players, 1)
		require.Equal(t, "alice", snaps[0].Players[0].ID)
	})

	t.Run("persisted state restores position and room", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		st := datastore.PlayerState{X: 4, Y: -2, RoomID: "plaza"}
		require.NoError(t, f.store.SavePlayerState(context.Background(), "alice", st))

		p := newFakePlayer("alice")
		_, err := f.coordinator.Connect(context.Background(), "alice", p)
		require.NoError(t, err)

		require.Equal(t, "plaza", f.rooms.RoomOf("alice"))
		pos, ok := f.movement.Position("alice")
		require.True(t, ok)
		require.Equal(t, Point{X: 4, Y: -2}, pos)
	})

	t.Run("existing members see the join", func(t *testing.T) {
		f := newCoordinatorFixture(t)

		a := newFakePlayer("alice")
		_, err := f.coordinator.Connect(context.Background(), "alice", a)
		require.NoError(t, err)

		b := newFakePlayer("bob")
		_, err = f.coordinator.Connect(context.Background(), "bob", b)
		require.NoError(t, err)

		joins := a.receivedOfKind(t, messages.KindPlayerJoined)
		require.Len(t, joins, 1)
		require.Equal(t, "bob", joins[0].ID)

		snaps := b.receivedOfKind(t, messages.KindRoomSnapshot)
		require.Len(t, snaps, 1)
		require.Len(t, snaps[0].Players, 2)
	})
}

func TestSessionMovement(t *testing.T) {
	f := newCoordinatorFixture(t)

	a, _, awg := f.connect(t, "alice")
	b, _, bwg := f.connect(t, "bob")

	a.in <- messages.ClientMessage{Kind: messages.KindMoveTo, X: 10, Y: 0}
	waitFor(t, func() bool { return f.movement.MovingCount() == 1 })

	for i := 0; i < 10; i++ {
		f.coordinator.Step(time.Second)
	}

	moved := b.receivedOfKind(t, messages.KindPlayerMoved)
	require.Len(t, moved, 10)
	for i, msg := range moved {
		require.Equal(t, "alice", msg.ID)
		require.Equal(t, float64(i+1), msg.X)
		require.Equal(t, 0.0, msg.Y)
		require.Equal(t, i == 9, msg.Arrived)
	}

	// Idle players produce no further traffic.
	f.coordinator.Step(time.Second)
	require.Len(t, b.receivedOfKind(t, messages.KindPlayerMoved), 10)

	a.Close("test over")
	b.Close("test over")
	awg.Wait()
	bwg.Wait()
}

func TestSessionRoomSwitch(t *testing.T) {
	f := newCoordinatorFixture(t)

	a, _, awg := f.connect(t, "alice")
	b, _, bwg := f.connect(t, "bob")

	a.in <- messages.ClientMessage{Kind: messages.KindJoinRoom, Room: "plaza"}
	waitFor(t, func() bool { return f.rooms.RoomOf("alice") == "plaza" })

	lefts := b.receivedOfKind(t, messages.KindPlayerLeft)
	require.Len(t, lefts, 1)
	require.Equal(t, "alice", lefts[0].ID)
	require.Equal(t, []string{"bob"}, f.rooms.Members("lobby"))

	snaps := a.receivedOfKind(t, messages.KindRoomSnapshot)
	require.Len(t, snaps, 2)
	require.Equal(t, "plaza", snaps[1].Room)
	require.Len(t, snaps[1].Players, 1)

	a.Close("test over")
	b.Close("test over")
	awg.Wait()
	bwg.Wait()
}

func TestSessionDisconnect(t *testing.T) {
	t.Run("close leaves the room, notifies, and persists", func(t *testing.T) {
		f := newCoordinatorFixture(t)

		a, _, awg := f.connect(t, "alice")
		b, _, bwg := f.connect(t, "bob")

		a.in <- messages.ClientMessage{Kind: messages.KindMoveTo, X: 3, Y: 0}
		waitFor(t, func() bool { return f.movement.MovingCount() == 1 })
		f.coordinator.Step(3 * time.Second)

		a.Close("client went away")
		awg.Wait()

		require.Equal(t, []string{"bob"}, f.rooms.Members("lobby"))
		_, ok := f.movement.Position("alice")
		require.False(t, ok)
		_, found := f.registry.Lookup("alice")
		require.False(t, found)

		lefts := b.receivedOfKind(t, messages.KindPlayerLeft)
		require.Len(t, lefts, 1)
		require.Equal(t, "alice", lefts[0].ID)

		st, err := f.store.LoadPlayerState(context.Background(), "alice")
		require.NoError(t, err)
		require.Equal(t, datastore.PlayerState{X: 3, Y: 0, RoomID: "lobby"}, st)

		b.Close("test over")
		bwg.Wait()
	})

	t.Run("protocol violation terminates the session", func(t *testing.T) {
		f := newCoordinatorFixture(t)

		a, s, awg := f.connect(t, "alice")
		a.in <- messages.ClientMessage{Kind: "frobnicate"}
		awg.Wait()

		require.Equal(t, StateDisconnected, s.State())
		require.True(t, a.isClosed())
		require.Contains(t, a.closeReason, game_errors.ErrProtocolViolation.Error())
		_, found := f.registry.Lookup("alice")
		require.False(t, found)
	})

	t.Run("non-finite coordinates are a violation", func(t *testing.T) {
		f := newCoordinatorFixture(t)

		a, s, awg := f.connect(t, "alice")
		a.in <- messages.ClientMessage{Kind: messages.KindMoveTo, X: math.NaN(), Y: 0}
		awg.Wait()

		require.Equal(t, StateDisconnected, s.State())
		require.True(t, a.isClosed())
	})
}

func TestSessionSupersession(t *testing.T) {
	f := newCoordinatorFixture(t)

	old, _, oldwg := f.connect(t, "alice")
	b, _, bwg := f.connect(t, "bob")

	fresh := newFakePlayer("alice")
	s, err := f.coordinator.Connect(context.Background(), "alice", fresh)
	require.NoError(t, err)
	require.Equal(t, StateActive, s.State())

	// The replaced transport is closed with the supersession status and its
	// session loop unwinds as a stale no-op: membership survives.
	oldwg.Wait()
	require.True(t, old.isClosed())
	require.True(t, strings.Contains(old.closeReason, game_errors.ErrSuperseded.Error()) || old.closeReason == "closed")

	require.Equal(t, "lobby", f.rooms.RoomOf("alice"))
	require.ElementsMatch(t, []string{"alice", "bob"}, f.rooms.Members("lobby"))

	got, found := f.registry.Lookup("alice")
	require.True(t, found)
	require.Same(t, fresh, got.(*fakePlayer))

	// Bob never saw alice leave.
	require.Empty(t, b.receivedOfKind(t, messages.KindPlayerLeft))

	snaps := fresh.receivedOfKind(t, messages.KindRoomSnapshot)
	require.Len(t, snaps, 1)
	require.Len(t, snaps[0].Players, 2)

	fresh.Close("test over")
	b.Close("test over")
	bwg.Wait()
}

func TestSessionSupersessionWhileRoomless(t *testing.T) {
	f := newCoordinatorFixture(t)

	// Stale persisted state that must not resurface while the identity
	// stays connected.
	stale := datastore.PlayerState{X: 0, Y: 0, RoomID: "lobby"}
	require.NoError(t, f.store.SavePlayerState(context.Background(), "alice", stale))

	old, _, oldwg := f.connect(t, "alice")
	old.in <- messages.ClientMessage{Kind: messages.KindMoveTo, X: 5, Y: 5}
	waitFor(t, func() bool { return f.movement.MovingCount() == 1 })
	f.coordinator.Step(10 * time.Second)

	old.in <- messages.ClientMessage{Kind: messages.KindLeaveRoom}
	waitFor(t, func() bool { return f.rooms.RoomOf("alice") == "" })

	fresh := newFakePlayer("alice")
	s, err := f.coordinator.Connect(context.Background(), "alice", fresh)
	require.NoError(t, err)
	require.Equal(t, StateActive, s.State())
	oldwg.Wait()
	require.True(t, old.isClosed())

	// The takeover keeps the live in-memory state: position survives and
	// the player is not dragged back into a room.
	pos, ok := f.movement.Position("alice")
	require.True(t, ok)
	require.Equal(t, Point{X: 5, Y: 5}, pos)
	require.Equal(t, "", f.rooms.RoomOf("alice"))
	require.Empty(t, fresh.receivedOfKind(t, messages.KindRoomSnapshot))

	got, found := f.registry.Lookup("alice")
	require.True(t, found)
	require.Same(t, fresh, got.(*fakePlayer))

	fresh.Close("test over")
}

func TestCoordinatorIdentityLockPruning(t *testing.T) {
	f := newCoordinatorFixture(t)

	a, _, awg := f.connect(t, "alice")
	b, _, bwg := f.connect(t, "bob")

	a.Close("client went away")
	awg.Wait()

	// Lifecycle locks only live for the duration of a connect or
	// disconnect; nothing is retained per identity afterwards.
	f.coordinator.idMu.Lock()
	require.Empty(t, f.coordinator.identityLocks)
	f.coordinator.idMu.Unlock()

	b.Close("test over")
	bwg.Wait()
}

func TestSessionLeaveRoom(t *testing.T) {
	f := newCoordinatorFixture(t)

	a, _, awg := f.connect(t, "alice")
	b, _, bwg := f.connect(t, "bob")

	a.in <- messages.ClientMessage{Kind: messages.KindLeaveRoom}
	waitFor(t, func() bool { return f.rooms.RoomOf("alice") == "" })

	lefts := b.receivedOfKind(t, messages.KindPlayerLeft)
	require.Len(t, lefts, 1)

	// Unassigned movement broadcasts nothing.
	a.in <- messages.ClientMessage{Kind: messages.KindMoveTo, X: 5, Y: 5}
	waitFor(t, func() bool { return f.movement.MovingCount() == 1 })
	f.coordinator.Step(time.Second)
	require.Empty(t, b.receivedOfKind(t, messages.KindPlayerMoved))

	a.Close("test over")
	b.Close("test over")
	awg.Wait()
	bwg.Wait()
}

func TestSessionPing(t *testing.T) {
	f := newCoordinatorFixture(t)

	a, _, awg := f.connect(t, "alice")
	a.in <- messages.ClientMessage{Kind: messages.KindPing}
	waitFor(t, func() bool { return len(a.receivedOfKind(t, messages.KindPong)) == 1 })

	a.Close("test over")
	awg.Wait()
}

func TestSessionRateLimit(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	registry := NewRegistry()
	rooms := NewRoomDirectory()
	movement := NewMovementEngine(1.0, 1e-9)
	dispatcher := NewDispatcher(registry, rooms, logger)
	coordinator := NewCoordinator(logger, registry, rooms, movement, dispatcher, memory.New(), CoordinatorConfig{
		DefaultRoom:  "lobby",
		MessageRate:  1,
		MessageBurst: 2,
	})

	p := newFakePlayer("alice")
	s, err := coordinator.Connect(context.Background(), "alice", p)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		p.in <- messages.ClientMessage{Kind: messages.KindPing}
	}
	s.Run(context.Background())

	require.Equal(t, StateDisconnected, s.State())
	require.True(t, p.isClosed())
	require.Contains(t, p.closeReason, game_errors.ErrMessageRateExceeded.Error())
}

func TestCoordinatorCheckpoint(t *testing.T) {
	f := newCoordinatorFixture(t)

	a, _, awg := f.connect(t, "alice")
	a.in <- messages.ClientMessage{Kind: messages.KindMoveTo, X: 2, Y: 0}
	waitFor(t, func() bool { return f.movement.MovingCount() == 1 })
	f.coordinator.Step(2 * time.Second)

	f.coordinator.Checkpoint(context.Background())

	st, err := f.store.LoadPlayerState(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, datastore.PlayerState{X: 2, Y: 0, RoomID: "lobby"}, st)

	a.Close("test over")
	awg.Wait()
}

func TestCoordinatorSendFailureCleanup(t *testing.T) {
	f := newCoordinatorFixture(t)

	a := newFakePlayer("alice")
	_, err := f.coordinator.Connect(context.Background(), "alice", a)
	require.NoError(t, err)
	b, _, bwg := f.connect(t, "bob")

	a.mu.Lock()
	a.failSend = true
	a.mu.Unlock()

	// Any broadcast that hits the broken transport evicts it.
	f.coordinator.dispatcher.Broadcast("lobby", messages.NewPongMessage())

	waitFor(t, func() bool {
		_, found := f.registry.Lookup("alice")
		return !found
	})
	waitFor(t, func() bool { return f.rooms.RoomOf("alice") == "" })

	lefts := b.receivedOfKind(t, messages.KindPlayerLeft)
	require.Len(t, lefts, 1)
	require.Equal(t, "alice", lefts[0].ID)

	b.Close("test over")
	bwg.Wait()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
