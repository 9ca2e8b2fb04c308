package session

import (
	"fmt"
	"log/slog"
)

// Config selects and configures the snapshot backend.
type Config struct {
	Backend string // file | sqlite
	Path    string
	Watch   bool // file backend only: cache and reload on change
}

// Open returns the Store described by cfg.
func Open(cfg Config, logger *slog.Logger) (Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("session: empty snapshot path")
	}
	switch cfg.Backend {
	case "", "file":
		fs := NewFileStore(cfg.Path)
		if !cfg.Watch {
			return fs, nil
		}
		return NewWatchedStore(fs, logger)
	case "sqlite":
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("session: unknown backend %q", cfg.Backend)
	}
}
