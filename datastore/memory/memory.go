// Package memory provides an in-process datastore for tests and
// single-node development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roamgame/roam/datastore"
)

type account struct {
	datastore.Account
	passwordHash string
}

// Store implements datastore.Datastore with maps. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]account              // username → account
	states   map[string]datastore.PlayerState // playerID → state
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		accounts: make(map[string]account),
		states:   make(map[string]datastore.PlayerState),
	}
}

// CreateAccount registers a new account.
func (s *Store) CreateAccount(_ context.Context, username, password string) (datastore.Account, error) {
	hash, err := datastore.HashPassword(password)
	if err != nil {
		return datastore.Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[username]; exists {
		return datastore.Account{}, datastore.ErrAccountExists
	}
	acct := account{
		Account: datastore.Account{
			PlayerID:  uuid.New().String(),
			Username:  username,
			CreatedAt: time.Now().UTC(),
		},
		passwordHash: hash,
	}
	s.accounts[username] = acct
	return acct.Account, nil
}

// Authenticate verifies credentials.
func (s *Store) Authenticate(_ context.Context, username, password string) (datastore.Account, error) {
	s.mu.RLock()
	acct, exists := s.accounts[username]
	s.mu.RUnlock()

	if !exists {
		return datastore.Account{}, datastore.ErrAccountNotFound
	}
	if !datastore.CheckPassword(password, acct.passwordHash) {
		return datastore.Account{}, datastore.ErrInvalidCredentials
	}
	return acct.Account, nil
}

// LoadPlayerState returns the last saved state for a player.
func (s *Store) LoadPlayerState(_ context.Context, playerID string) (datastore.PlayerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.states[playerID]
	if !exists {
		return datastore.PlayerState{}, datastore.ErrPlayerStateNotFound
	}
	return st, nil
}

// SavePlayerState upserts the player's last-known state.
func (s *Store) SavePlayerState(_ context.Context, playerID string, state datastore.PlayerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[playerID] = state
	return nil
}

// Health always succeeds.
func (s *Store) Health(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}
