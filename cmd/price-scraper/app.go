package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/competitor-price-scraper/internal/checkpoint"
	"github.com/maltedev/competitor-price-scraper/internal/config"
	"github.com/maltedev/competitor-price-scraper/internal/database"
	"github.com/maltedev/competitor-price-scraper/pkg/logger"
)

// app holds the process-wide resources a subcommand may need. Optional
// resources stay nil when their config section is empty.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	redis  *redis.Client
	db     *database.DB
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	return &app{cfg: cfg, logger: log}, nil
}

// connectRedis opens the redis client when redis.addr is set.
func (a *app) connectRedis(ctx context.Context) error {
	if !a.cfg.Redis.Enabled() {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	a.redis = client
	return nil
}

// connectDB opens the pool and applies the schema when the database is configured.
func (a *app) connectDB(ctx context.Context) error {
	if !a.cfg.Database.Enabled() {
		return nil
	}

	db, err := database.New(ctx, a.cfg.Database)
	if err != nil {
		return err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return err
	}

	a.db = db
	return nil
}

// checkpoints returns the checkpoint factory for the configured backend.
func (a *app) checkpoints() checkpoint.Factory {
	// a nil *redis.Client must not reach the interface
	var rdb checkpoint.RedisClient
	if a.redis != nil {
		rdb = a.redis
	}
	return checkpoint.NewFactory(a.cfg.Checkpoint, rdb, a.logger)
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", "error", err)
		}
	}
}
