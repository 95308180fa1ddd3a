// Package redisstore provides Redis persistence for accounts and player
// state, keyed under a configurable prefix.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/roamgame/roam/config"
	"github.com/roamgame/roam/datastore"
)

// Store implements datastore.Datastore on Redis hashes.
//
// Keys: <prefix>account:<username> holds the account hash,
// <prefix>player:<playerID> holds the last-known state hash.
type Store struct {
	client *redis.Client
	prefix string
}

// New creates a connected Store. The client is pinged before returning.
func New(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &Store{client: client, prefix: cfg.Prefix}, nil
}

func (s *Store) accountKey(username string) string {
	return s.prefix + "account:" + username
}

func (s *Store) playerKey(playerID string) string {
	return s.prefix + "player:" + playerID
}

// CreateAccount registers a new account. Uniqueness is enforced by creating
// the account hash only if its key does not already exist.
func (s *Store) CreateAccount(ctx context.Context, username, password string) (datastore.Account, error) {
	hash, err := datastore.HashPassword(password)
	if err != nil {
		return datastore.Account{}, fmt.Errorf("hashing password: %w", err)
	}

	acct := datastore.Account{
		PlayerID:  uuid.New().String(),
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}

	key := s.accountKey(username)
	// HSETNX on a single field decides ownership of the key; the remaining
	// fields are filled in only by the winner.
	created, err := s.client.HSetNX(ctx, key, "player_id", acct.PlayerID).Result()
	if err != nil {
		return datastore.Account{}, fmt.Errorf("creating account: %w", err)
	}
	if !created {
		return datastore.Account{}, datastore.ErrAccountExists
	}

	err = s.client.HSet(ctx, key,
		"username", acct.Username,
		"password_hash", hash,
		"avatar", acct.Avatar,
		"created_at", acct.CreatedAt.Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return datastore.Account{}, fmt.Errorf("writing account: %w", err)
	}
	return acct, nil
}

// Authenticate verifies credentials against the stored account hash.
func (s *Store) Authenticate(ctx context.Context, username, password string) (datastore.Account, error) {
	fields, err := s.client.HGetAll(ctx, s.accountKey(username)).Result()
	if err != nil {
		return datastore.Account{}, fmt.Errorf("querying account: %w", err)
	}
	if len(fields) == 0 {
		return datastore.Account{}, datastore.ErrAccountNotFound
	}

	if !datastore.CheckPassword(password, fields["password_hash"]) {
		return datastore.Account{}, datastore.ErrInvalidCredentials
	}

	acct := datastore.Account{
		PlayerID: fields["player_id"],
		Username: fields["username"],
	}
	acct.Avatar, _ = strconv.Atoi(fields["avatar"])
	acct.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	return acct, nil
}

// LoadPlayerState returns the last saved position and room for a player.
func (s *Store) LoadPlayerState(ctx context.Context, playerID string) (datastore.PlayerState, error) {
	fields, err := s.client.HGetAll(ctx, s.playerKey(playerID)).Result()
	if err != nil {
		return datastore.PlayerState{}, fmt.Errorf("querying player state: %w", err)
	}
	if len(fields) == 0 {
		return datastore.PlayerState{}, datastore.ErrPlayerStateNotFound
	}

	var st datastore.PlayerState
	if st.X, err = strconv.ParseFloat(fields["x"], 64); err != nil {
		return datastore.PlayerState{}, fmt.Errorf("parsing player state x: %w", err)
	}
	if st.Y, err = strconv.ParseFloat(fields["y"], 64); err != nil {
		return datastore.PlayerState{}, fmt.Errorf("parsing player state y: %w", err)
	}
	st.RoomID = fields["room_id"]
	return st, nil
}

// SavePlayerState upserts the player's last-known state. Coordinates are
// stored in full float64 precision via strconv 'g' formatting.
func (s *Store) SavePlayerState(ctx context.Context, playerID string, state datastore.PlayerState) error {
	err := s.client.HSet(ctx, s.playerKey(playerID),
		"x", strconv.FormatFloat(state.X, 'g', -1, 64),
		"y", strconv.FormatFloat(state.Y, 'g', -1, 64),
		"room_id", state.RoomID,
	).Err()
	if err != nil {
		return fmt.Errorf("saving player state: %w", err)
	}
	return nil
}

// Health checks that redis responds within a short timeout.
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *Store) Close() {
	s.client.Close()
}
