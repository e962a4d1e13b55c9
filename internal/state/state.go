// Package state checkpoints per-symbol trading state across restarts.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"autotrader/internal/position"
)

var ErrNotFound = errors.New("checkpoint not found")

type Checkpoint struct {
	Symbol  string              `json:"symbol"`
	RunID   string              `json:"run_id"`
	SavedAt time.Time           `json:"saved_at"`
	Machine position.Checkpoint `json:"machine"`
	Trades  []time.Time         `json:"trades,omitempty"`
}

type Store interface {
	Load(ctx context.Context, symbol string) (Checkpoint, error)
	Save(ctx context.Context, cp Checkpoint) error
}

// FileStore keeps one JSON document per symbol in a directory.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(symbol string) string {
	name := strings.NewReplacer("/", "_", "\\", "_").Replace(symbol)
	return filepath.Join(s.dir, name+".json")
}

func (s *FileStore) Save(_ context.Context, cp Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.path(cp.Symbol)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, symbol string) (Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(s.path(symbol))
	if errors.Is(err, os.ErrNotExist) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, nil
}
