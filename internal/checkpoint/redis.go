package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/competitor-price-scraper/internal/models"
)

// RedisClient is the subset of go-redis used by RedisStore.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps the checkpoint under a single key.
type RedisStore struct {
	client RedisClient
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisStore(client RedisClient, keyPrefix, competitorID string, ttl time.Duration, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	if keyPrefix == "" {
		keyPrefix = "checkpoint:"
	}
	return &RedisStore{
		client: client,
		key:    keyPrefix + SafeID(competitorID),
		ttl:    ttl,
		logger: logger.With("component", "checkpoint", "backend", BackendRedis, "competitor", competitorID),
	}
}

func (s *RedisStore) Key() string {
	return s.key
}

func (s *RedisStore) Save(ctx context.Context, cp *models.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store checkpoint: %w", err)
	}

	s.logger.Debug("checkpoint saved", "index", cp.LastProcessedProductIndex, "results", len(cp.Results))
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (*models.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.logger.Warn("ignoring unreadable checkpoint", "key", s.key, "error", err)
		return nil, nil
	}

	return &cp, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}
