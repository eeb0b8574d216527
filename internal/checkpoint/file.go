package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/maltedev/competitor-price-scraper/internal/models"
)

// FileStore keeps one JSON file per competitor, replaced atomically on save.
type FileStore struct {
	mu       sync.Mutex
	filename string
	logger   *slog.Logger
}

func NewFileStore(dir, competitorID string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		filename: filepath.Join(dir, fmt.Sprintf("checkpoint_%s.json", SafeID(competitorID))),
		logger:   logger.With("component", "checkpoint", "backend", BackendFile, "competitor", competitorID),
	}
}

func (s *FileStore) Path() string {
	return s.filename
}

func (s *FileStore) Save(ctx context.Context, cp *models.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filename), 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	tmpFile := s.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	if err := os.Rename(tmpFile, s.filename); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}

	s.logger.Debug("checkpoint saved", "index", cp.LastProcessedProductIndex, "results", len(cp.Results))
	return nil
}

func (s *FileStore) Load(ctx context.Context) (*models.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filename)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.logger.Warn("ignoring unreadable checkpoint", "path", s.filename, "error", err)
		return nil, nil
	}

	return &cp, nil
}

func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.filename); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove checkpoint: %w", err)
	}
	return nil
}
