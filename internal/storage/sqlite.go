package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "radiobot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps one row per (message_id, channel_id) and relies on the
// database for row-level atomicity; Put is an upsert. The connection pool is
// bounded to a single writer, which is what SQLite prefers anyway.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &sqliteStore{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", ErrUnavailable, err)
	}
	return s, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Put(ctx context.Context, key Key, due time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deletion_schedule(message_id, channel_id, delete_time) VALUES(?,?,?)
		 ON CONFLICT(message_id, channel_id) DO UPDATE SET delete_time=excluded.delete_time`,
		key.MessageID, key.ChatID, due.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%w: put: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *sqliteStore) Remove(ctx context.Context, key Key) error {
	// DELETE of an absent row is a no-op at the SQL level, which gives us
	// idempotent removal for free.
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM deletion_schedule WHERE message_id = ? AND channel_id = ?`,
		key.MessageID, key.ChatID,
	)
	if err != nil {
		return fmt.Errorf("%w: remove: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *sqliteStore) LoadAll(ctx context.Context) (map[Key]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, channel_id, delete_time FROM deletion_schedule`)
	if err != nil {
		return nil, fmt.Errorf("%w: load: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	out := map[Key]time.Time{}
	for rows.Next() {
		var key Key
		var dueStr string
		if err := rows.Scan(&key.MessageID, &key.ChatID, &dueStr); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrUnavailable, err)
		}
		due, err := time.Parse(time.RFC3339Nano, dueStr)
		if err != nil {
			// Malformed row: skip it rather than abort the whole load.
			s.log.Warn("skipping malformed due time",
				logx.Int64("message_id", key.MessageID),
				logx.Int64("channel_id", key.ChatID),
				logx.String("due", dueStr), logx.Err(err))
			continue
		}
		out[key] = due.UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: load: %v", ErrUnavailable, err)
	}
	return out, nil
}
