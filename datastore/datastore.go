// Package datastore defines the narrow persistence interfaces the coordinator
// depends on. Any backend satisfying them suffices; the coordinator never
// sees a schema.
package datastore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAccountNotFound is returned when an account lookup yields nothing.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists is returned when creating a duplicate username.
	ErrAccountExists = errors.New("account already exists")
	// ErrInvalidCredentials is returned when password verification fails.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPlayerStateNotFound is returned when a player has no saved state
	// yet; the coordinator then places the player at the default spawn.
	ErrPlayerStateNotFound = errors.New("player state not found")
)

// Account is a registered user. PlayerID is the stable identity that
// distinguishes the player across reconnects; it never changes once created.
type Account struct {
	PlayerID  string
	Username  string
	Avatar    int
	CreatedAt time.Time
}

// PlayerState is the durable last-known position and room of a player.
// While connected, the in-memory state is authoritative and this record is
// only written back (on disconnect and on periodic checkpoints).
type PlayerState struct {
	X      float64
	Y      float64
	RoomID string
}

// AccountStore persists accounts and verifies credentials.
type AccountStore interface {
	// CreateAccount registers a new account with a freshly generated
	// player identity. Returns ErrAccountExists if the username is taken.
	CreateAccount(ctx context.Context, username, password string) (Account, error)
	// Authenticate verifies credentials. Returns ErrAccountNotFound or
	// ErrInvalidCredentials on failure.
	Authenticate(ctx context.Context, username, password string) (Account, error)
}

// PlayerStateStore loads and saves last-known player state.
type PlayerStateStore interface {
	LoadPlayerState(ctx context.Context, playerID string) (PlayerState, error)
	SavePlayerState(ctx context.Context, playerID string, state PlayerState) error
}

// Datastore combines the persistence concerns the server wires together.
type Datastore interface {
	AccountStore
	PlayerStateStore
	// Health reports whether the backend is reachable.
	Health(ctx context.Context) error
	// Close releases backend resources.
	Close()
}
