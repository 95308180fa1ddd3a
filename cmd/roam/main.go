// Command roam runs the room-based realtime movement server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/roamgame/roam/auth"
	"github.com/roamgame/roam/config"
	"github.com/roamgame/roam/datastore"
	"github.com/roamgame/roam/datastore/memory"
	"github.com/roamgame/roam/datastore/postgres"
	"github.com/roamgame/roam/datastore/redisstore"
	"github.com/roamgame/roam/game"
)

func main() {
	configDir := flag.String("config", "config/", "directory containing roam.yaml")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	ds, err := newDatastore(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize datastore")
	}
	defer ds.Close()

	tokens := auth.NewTokenProvider(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	server := game.New(cfg, logger, tokens, tokens, ds)
	if err := server.Start(); err != nil {
		logger.WithError(err).Fatal("server exited with error")
	}
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	if cfg.Server.DebugMode {
		logger.SetLevel(logrus.DebugLevel)
	}
	if cfg.Server.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func newDatastore(cfg *config.Config, logger *logrus.Logger) (datastore.Datastore, error) {
	ctx := context.Background()
	switch cfg.Datastore.Driver {
	case "postgres":
		logger.WithField("host", cfg.Datastore.Postgres.Host).Info("using postgres datastore")
		return postgres.New(ctx, cfg.Datastore.Postgres)
	case "redis":
		logger.WithField("addr", cfg.Datastore.Redis.Addr).Info("using redis datastore")
		return redisstore.New(ctx, cfg.Datastore.Redis)
	default:
		logger.Warn("using in-memory datastore, state will not survive restarts")
		return memory.New(), nil
	}
}
