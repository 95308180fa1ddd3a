// Package config loads server configuration from yaml via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      string `mapstructure:"port"`
	DebugMode bool   `mapstructure:"debug_mode"`
	// LogFormat is "json" or "text".
	LogFormat string `mapstructure:"log_format"`
}

// Addr returns the "host:port" listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}

// GameConfig holds coordinator, movement, and transport tuning.
type GameConfig struct {
	// TickInterval is the fixed movement tick period.
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// MoveSpeed is player movement speed in world units per second.
	MoveSpeed float64 `mapstructure:"move_speed"`
	// ArrivalEpsilon is the distance below which a moving player snaps to
	// its destination and goes idle.
	ArrivalEpsilon float64 `mapstructure:"arrival_epsilon"`
	// DefaultRoom is the room joined right after authentication.
	DefaultRoom string `mapstructure:"default_room"`
	// SendQueueSize bounds each connection's outbound queue.
	SendQueueSize int `mapstructure:"send_queue_size"`
	// WriteTimeout bounds a single websocket write so a stalled client
	// cannot stall the tick loop or its room.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// HandshakeTimeout bounds authentication plus the initial snapshot.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	// CheckpointInterval is the period between write-back saves of
	// connected players. Zero disables periodic checkpoints.
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"`
	// MessageRate and MessageBurst limit inbound messages per connection.
	MessageRate  float64 `mapstructure:"message_rate"`
	MessageBurst int     `mapstructure:"message_burst"`
}

// AuthConfig holds token signing settings.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Name, p.SSLMode,
	)
}

// RedisConfig holds Redis connection settings for the player-state store.
type RedisConfig struct {
	Addr   string `mapstructure:"addr"`
	DB     int    `mapstructure:"db"`
	Prefix string `mapstructure:"prefix"`
}

// DatastoreConfig selects and configures the persistence backend.
// Driver is one of "postgres", "redis", or "memory". Accounts always live in
// postgres when available; the driver selects where player state is kept.
type DatastoreConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// Config is the top-level server configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Game      GameConfig      `mapstructure:"game"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Datastore DatastoreConfig `mapstructure:"datastore"`
}

const envPrefix = "ROAM"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.debug_mode", false)
	v.SetDefault("server.log_format", "text")

	v.SetDefault("game.tick_interval", 100*time.Millisecond)
	v.SetDefault("game.move_speed", 10.0)
	v.SetDefault("game.arrival_epsilon", 1e-6)
	v.SetDefault("game.default_room", "lobby")
	v.SetDefault("game.send_queue_size", 64)
	v.SetDefault("game.write_timeout", 5*time.Second)
	v.SetDefault("game.handshake_timeout", 10*time.Second)
	v.SetDefault("game.checkpoint_interval", 30*time.Second)
	v.SetDefault("game.message_rate", 30.0)
	v.SetDefault("game.message_burst", 60)

	v.SetDefault("auth.issuer", "roam")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("datastore.driver", "memory")
	v.SetDefault("datastore.postgres.sslmode", "disable")
	v.SetDefault("datastore.postgres.max_conns", 10)
	v.SetDefault("datastore.postgres.min_conns", 2)
	v.SetDefault("datastore.postgres.max_conn_lifetime", time.Hour)
	v.SetDefault("datastore.redis.addr", "localhost:6379")
	v.SetDefault("datastore.redis.prefix", "roam:")
}

// Load reads configuration from the given directory (file "roam.yaml"),
// applying defaults and ROAM_* environment overrides. A missing config file
// is not an error; defaults and the environment then apply alone.
func Load(dir string) (cfg *Config, err error) {
	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName("roam")
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		err = nil
	}

	cfg = &Config{}
	if err = v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err = cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Game.TickInterval <= 0 {
		return fmt.Errorf("game.tick_interval must be positive, got %s", c.Game.TickInterval)
	}
	if c.Game.MoveSpeed <= 0 {
		return fmt.Errorf("game.move_speed must be positive, got %g", c.Game.MoveSpeed)
	}
	if c.Game.ArrivalEpsilon <= 0 {
		return fmt.Errorf("game.arrival_epsilon must be positive, got %g", c.Game.ArrivalEpsilon)
	}
	if c.Game.DefaultRoom == "" {
		return fmt.Errorf("game.default_room must not be empty")
	}
	if c.Game.SendQueueSize <= 0 {
		return fmt.Errorf("game.send_queue_size must be positive, got %d", c.Game.SendQueueSize)
	}
	switch c.Datastore.Driver {
	case "postgres", "redis", "memory":
	default:
		return fmt.Errorf("datastore.driver must be postgres, redis, or memory, got %q", c.Datastore.Driver)
	}
	return nil
}
