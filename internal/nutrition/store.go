package nutrition

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Store holds the active table and swaps it atomically on reload.
// Readers always see a complete table.
type Store struct {
	mu     sync.RWMutex
	table  Table
	path   string
	logger *zap.SugaredLogger
}

// NewStore creates a store serving the given table
func NewStore(table Table, logger *zap.SugaredLogger) *Store {
	if table == nil {
		table = DefaultTable()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{table: table, logger: logger}
}

// LoadStore builds a store from the defaults overlaid with the file at path.
// An empty path yields the default table.
func LoadStore(path string, logger *zap.SugaredLogger) (*Store, error) {
	s := NewStore(DefaultTable(), logger)
	if path == "" {
		return s, nil
	}
	s.path = path
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the active table
func (s *Store) Current() Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table
}

// Reload re-reads the backing file. On failure the previous table stays active.
func (s *Store) Reload() error {
	if s.path == "" {
		return errors.New("nutrition store has no backing file")
	}
	loaded, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	table := DefaultTable().Merge(loaded)

	s.mu.Lock()
	s.table = table
	s.mu.Unlock()

	s.logger.Infow("nutrition table loaded", "path", s.path, "categories", len(table))
	return nil
}

// Watch reloads the table whenever its file changes, until ctx is done.
// The parent directory is watched so that editors replacing the file are seen.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return errors.New("nutrition store has no backing file")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return errors.Wrapf(err, "watch %s", s.path)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(s.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := s.Reload(); err != nil {
					s.logger.Warnw("nutrition reload failed, keeping previous table", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warnw("nutrition watcher error", "error", err)
			}
		}
	}()
	return nil
}
