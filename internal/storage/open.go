package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "radiobot/pkg/logx"
)

// Store is the durable schedule API used by the deletion subsystem.
//
// Contract:
//   - Put is synchronous: callers may consider an entry scheduled only once
//     Put returns nil. Put on an existing key updates its due time.
//   - LoadAll returns an internally consistent snapshot of the whole mapping.
//     Due times are always UTC.
//   - Remove is idempotent: removing an absent key is not an error.
//   - Backend-wide failures wrap ErrUnavailable.
type Store interface {
	Put(ctx context.Context, key Key, due time.Time) error
	LoadAll(ctx context.Context) (map[Key]time.Time, error)
	Remove(ctx context.Context, key Key) error
	Close() error
}

// Open initializes the configured store backend.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
