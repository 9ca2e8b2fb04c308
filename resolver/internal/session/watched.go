package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// WatchedStore caches a FileStore snapshot in memory and drops the cache
// whenever the snapshot file changes on disk, for example when the login
// flow runs in another process. Loads return clones.
type WatchedStore struct {
	file    *FileStore
	watcher *fsnotify.Watcher
	base    string
	logger  *slog.Logger

	mu     sync.Mutex
	cached *Snapshot
	gen    uint64

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatchedStore starts watching the directory holding the snapshot file.
func NewWatchedStore(file *FileStore, logger *slog.Logger) (*WatchedStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(file.Path())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session: watch: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("session: watch: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("session: watch %s: %w", dir, err)
	}

	ws := &WatchedStore{
		file:    file,
		watcher: w,
		base:    filepath.Base(file.Path()),
		logger:  logger,
		done:    make(chan struct{}),
	}
	ws.wg.Add(1)
	go ws.run()
	return ws, nil
}

func (s *WatchedStore) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != s.base {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.logger.Debug("session: snapshot changed on disk", "path", ev.Name, "op", ev.Op.String())
			s.invalidate()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("session: watcher error", "error", err)
			s.invalidate()
		}
	}
}

func (s *WatchedStore) invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.gen++
	s.mu.Unlock()
}

func (s *WatchedStore) Load(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	if s.cached != nil {
		snap := s.cached.Clone()
		s.mu.Unlock()
		return snap, nil
	}
	gen := s.gen
	s.mu.Unlock()

	snap, err := s.file.Load(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	// An event that arrived while reading means the bytes may be stale.
	if s.gen == gen {
		cached := snap.Clone()
		s.cached = &cached
	}
	s.mu.Unlock()
	return snap, nil
}

func (s *WatchedStore) Save(ctx context.Context, snap Snapshot) error {
	err := s.file.Save(ctx, snap)
	s.invalidate()
	return err
}

// Close stops the watcher goroutine.
func (s *WatchedStore) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	err := s.watcher.Close()
	s.wg.Wait()
	return err
}
