package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/maltedev/competitor-price-scraper/internal/models"
)

// Store persists the progress of one competitor batch.
//
// Load returns nil, nil when there is nothing to resume from, including
// when the stored record cannot be decoded.
type Store interface {
	Save(ctx context.Context, cp *models.Checkpoint) error
	Load(ctx context.Context) (*models.Checkpoint, error)
	Clear(ctx context.Context) error
}

const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

type Config struct {
	Backend   string        `mapstructure:"backend" validate:"oneof=file redis"`
	Dir       string        `mapstructure:"dir"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
	Interval  int           `mapstructure:"interval" validate:"min=1"`
}

func DefaultConfig() Config {
	return Config{
		Backend:   BackendFile,
		Dir:       "checkpoints",
		KeyPrefix: "checkpoint:",
		TTL:       7 * 24 * time.Hour,
		Interval:  10,
	}
}

// New returns the backend selected by cfg for one competitor. rdb may be nil
// for the file backend.
func New(cfg Config, competitorID string, rdb RedisClient, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", BackendFile:
		return NewFileStore(cfg.Dir, competitorID, logger), nil
	case BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis checkpoint backend requires a redis client")
		}
		return NewRedisStore(rdb, cfg.KeyPrefix, competitorID, cfg.TTL, logger), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

// Factory builds a Store for a competitor ID.
type Factory func(competitorID string) (Store, error)

func NewFactory(cfg Config, rdb RedisClient, logger *slog.Logger) Factory {
	return func(competitorID string) (Store, error) {
		return New(cfg, competitorID, rdb, logger)
	}
}

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_\-]+`)

// SafeID is the form of competitorID used in checkpoint file names and keys.
// Ids that differ only in unsafe characters share a SafeID.
func SafeID(competitorID string) string {
	return unsafeIDChars.ReplaceAllString(competitorID, "_")
}
