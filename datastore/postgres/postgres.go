// Package postgres provides PostgreSQL persistence using pgx v5.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roamgame/roam/config"
	"github.com/roamgame/roam/datastore"
)

// Store implements datastore.Datastore on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a connected Store from the given configuration. The pool is
// pinged before returning so a bad DSN fails fast.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// CreateAccount inserts a new account with a bcrypt-hashed password and a
// generated player identity.
func (s *Store) CreateAccount(ctx context.Context, username, password string) (datastore.Account, error) {
	hash, err := datastore.HashPassword(password)
	if err != nil {
		return datastore.Account{}, fmt.Errorf("hashing password: %w", err)
	}

	playerID := uuid.New().String()
	var acct datastore.Account
	err = s.pool.QueryRow(ctx,
		`INSERT INTO accounts (player_id, username, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING player_id, username, avatar, created_at`,
		playerID, username, hash,
	).Scan(&acct.PlayerID, &acct.Username, &acct.Avatar, &acct.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return datastore.Account{}, datastore.ErrAccountExists
		}
		return datastore.Account{}, fmt.Errorf("inserting account: %w", err)
	}

	return acct, nil
}

// Authenticate verifies credentials and returns the matching account.
func (s *Store) Authenticate(ctx context.Context, username, password string) (datastore.Account, error) {
	var acct datastore.Account
	var passwordHash string
	err := s.pool.QueryRow(ctx,
		`SELECT player_id, username, avatar, created_at, password_hash
		 FROM accounts WHERE username = $1`,
		username,
	).Scan(&acct.PlayerID, &acct.Username, &acct.Avatar, &acct.CreatedAt, &passwordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return datastore.Account{}, datastore.ErrAccountNotFound
		}
		return datastore.Account{}, fmt.Errorf("querying account: %w", err)
	}

	if !datastore.CheckPassword(password, passwordHash) {
		return datastore.Account{}, datastore.ErrInvalidCredentials
	}

	return acct, nil
}

// LoadPlayerState returns the last saved position and room for a player.
func (s *Store) LoadPlayerState(ctx context.Context, playerID string) (datastore.PlayerState, error) {
	var st datastore.PlayerState
	err := s.pool.QueryRow(ctx,
		`SELECT x_location, y_location, room_id
		 FROM player_states WHERE player_id = $1`,
		playerID,
	).Scan(&st.X, &st.Y, &st.RoomID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return datastore.PlayerState{}, datastore.ErrPlayerStateNotFound
		}
		return datastore.PlayerState{}, fmt.Errorf("querying player state: %w", err)
	}
	return st, nil
}

// SavePlayerState upserts the player's last-known state.
func (s *Store) SavePlayerState(ctx context.Context, playerID string, state datastore.PlayerState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO player_states (player_id, x_location, y_location, room_id, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (player_id)
		 DO UPDATE SET x_location = $2, y_location = $3, room_id = $4, updated_at = now()`,
		playerID, state.X, state.Y, state.RoomID,
	)
	if err != nil {
		return fmt.Errorf("saving player state: %w", err)
	}
	return nil
}

// Health checks that the database responds within a short timeout.
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Close releases all pool resources.
func (s *Store) Close() {
	s.pool.Close()
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
