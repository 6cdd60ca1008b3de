package app

import (
	"context"
	"errors"
	"fmt"

	"lostfound/cmd/internal/chat"
	"lostfound/cmd/internal/migrations"
	"lostfound/cmd/internal/notify"
)

// Bootstrap loads .env files and the runtime config, and builds the logger.
func Bootstrap(envFiles ...string) (Config, Logger, error) {
	if err := LoadDotEnv(envFiles...); err != nil {
		return Config{}, nil, err
	}
	cfg, err := LoadConfig()
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, NewLogger(cfg.LogLevel, cfg.LogFormat), nil
}

// Serve runs the HTTP and realtime server until ctx is canceled.
func Serve(ctx context.Context, cfg Config, log Logger) error {
	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// Migrate applies (steps == 0) or rolls back (steps > 0) schema migrations.
func Migrate(ctx context.Context, cfg Config, log Logger, down bool, steps int) error {
	if cfg.DatabaseURL == "" {
		return errors.New("migrate: LOSTFOUND_DATABASE_URL is required")
	}
	pool, err := NewDBPool(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	if down {
		if steps <= 0 {
			return fmt.Errorf("migrate: down requires steps > 0, got %d", steps)
		}
		return migrations.Down(ctx, pool, cfg.DatabaseURL, cfg.DBSchema, steps, log)
	}
	return migrations.Up(ctx, pool, cfg.DatabaseURL, cfg.DBSchema, log)
}

// Worker consumes notification tasks until ctx is canceled.
func Worker(ctx context.Context, cfg Config, log Logger) error {
	wcfg := cfg.Notify
	if wcfg.RedisURL == "" {
		wcfg.RedisURL = cfg.RedisURL
	}

	h := notify.NewHandler(log, notify.LogEmailSender{Log: log}, chat.StaticDirectory{}, chat.StaticCatalog{})
	w, err := notify.NewWorker(log, wcfg, h)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}
