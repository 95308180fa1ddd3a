package game

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/roamgame/roam/auth"
	"github.com/roamgame/roam/config"
	"github.com/roamgame/roam/datastore"
)

// The server handles the following responsibilities:
//
// Accepting and authenticating websocket connections
// Room membership and movement coordination
// Relaying state deltas between the server and clients
// Write-back persistence of player state

const (
	GRACEFUL_SHUTDOWN_TIME_S = 10
)

// GameServer owns the HTTP surface, the coordinator, and the tick and
// checkpoint loops.
type GameServer struct {
	config   *config.Config
	serveMux *http.ServeMux
	server   *http.Server
	logger   *logrus.Logger

	registry   *Registry
	rooms      *RoomDirectory
	movement   *MovementEngine
	dispatcher *Dispatcher

	coordinator *Coordinator

	store        datastore.Datastore
	authProvider auth.Provider
	tokenIssuer  auth.Issuer

	stopc chan struct{}
}

// New wires a GameServer from its collaborators.
func New(
	conf *config.Config,
	logger *logrus.Logger,
	ap auth.Provider,
	issuer auth.Issuer,
	ds datastore.Datastore,
) (gs *GameServer) {
	registry := NewRegistry()
	rooms := NewRoomDirectory()
	movement := NewMovementEngine(conf.Game.MoveSpeed, conf.Game.ArrivalEpsilon)
	dispatcher := NewDispatcher(registry, rooms, logger)
	coordinator := NewCoordinator(logger, registry, rooms, movement, dispatcher, ds, CoordinatorConfig{
		DefaultRoom:  conf.Game.DefaultRoom,
		MessageRate:  conf.Game.MessageRate,
		MessageBurst: conf.Game.MessageBurst,
	})

	gs = &GameServer{
		config:       conf,
		logger:       logger,
		registry:     registry,
		rooms:        rooms,
		movement:     movement,
		dispatcher:   dispatcher,
		coordinator:  coordinator,
		store:        ds,
		authProvider: ap,
		tokenIssuer:  issuer,
		serveMux:     http.NewServeMux(),
		stopc:        make(chan struct{}),
	}

	gs.setupHandlers()
	gs.server = &http.Server{
		Handler: gs,
	}
	return
}

// Coordinator exposes the session coordinator, mainly for tests and for
// embedding the server in a larger process.
func (gs *GameServer) Coordinator() *Coordinator {
	return gs.coordinator
}

// Start runs the server until SIGINT/SIGTERM or Stop. It serves HTTP, drives
// the movement tick and checkpoint loops, and shuts down gracefully.
func (gs *GameServer) Start() (err error) {
	var listener net.Listener
	if listener, err = net.Listen("tcp", gs.config.Server.Addr()); err != nil {
		err = errors.Wrap(err, "failed to start game server")
		gs.logger.Error(err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		gs.logger.Infof("starting game server on: %s", listener.Addr().String())
		if serveErr := gs.server.Serve(listener); serveErr != http.ErrServerClosed {
			return errors.Wrap(serveErr, "failed to serve")
		}
		return nil
	})

	g.Go(func() error {
		gs.runTickLoop(gctx)
		return nil
	})

	g.Go(func() error {
		gs.runCheckpointLoop(gctx)
		return nil
	})

	g.Go(func() error {
		defer cancel()

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigs)

		select {
		case sig := <-sigs:
			gs.logger.Infof("terminating on sig: %v", sig)
		case <-gs.stopc:
			gs.logger.Info("terminating on stop request")
		case <-gctx.Done():
			return nil
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second*GRACEFUL_SHUTDOWN_TIME_S)
		defer shutdownCancel()

		// Closing the transports unblocks every session's read loop so
		// each one runs its own disconnect cleanup and state save.
		gs.closeConnections()
		return gs.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Stop requests a graceful shutdown.
func (gs *GameServer) Stop() {
	close(gs.stopc)
}

// runTickLoop drives the movement engine at the configured fixed interval.
// One stalled client can never stall this loop: outbound delivery is
// per-connection queued with its own deadline.
func (gs *GameServer) runTickLoop(ctx context.Context) {
	interval := gs.config.Game.TickInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gs.coordinator.Step(interval)
		}
	}
}

// runCheckpointLoop periodically write-backs connected players' state.
func (gs *GameServer) runCheckpointLoop(ctx context.Context) {
	interval := gs.config.Game.CheckpointInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gs.coordinator.Checkpoint(ctx)
		}
	}
}

func (gs *GameServer) closeConnections() {
	for _, identity := range gs.registry.Connected() {
		if p, found := gs.registry.Lookup(identity); found {
			p.Close("server shutting down")
		}
	}
}
