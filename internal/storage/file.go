package storage

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

	logx "radiobot/pkg/logx"
)

// fileStore keeps the schedule as one JSON document mapping
// "<message>_<chat>" to an RFC 3339 UTC timestamp.
//
// Every mutation rewrites the whole snapshot (write to a temp file, then
// rename). Because this is a read-modify-write over a single artifact,
// writers are serialized by a process-local mutex; without it two concurrent
// Put calls would silently lose entries.
type fileStore struct {
	log  logx.Logger
	path string

	mu      sync.Mutex
	entries map[Key]time.Time
	closed  bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s := &fileStore{log: log, path: path, entries: map[Key]time.Time{}}
	if err := s.loadSnapshot(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) loadSnapshot() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // first run
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var raw map[string]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("%w: snapshot corrupt: %v", ErrUnavailable, err)
	}

	for ks, vs := range raw {
		key, err := ParseKey(ks)
		if err != nil {
			// Malformed entry: skip it rather than refuse the whole snapshot.
			s.log.Warn("skipping malformed schedule key", logx.String("key", ks), logx.Err(err))
			continue
		}
		due, err := time.Parse(time.RFC3339Nano, vs)
		if err != nil {
			s.log.Warn("skipping malformed due time", logx.String("key", ks), logx.String("due", vs), logx.Err(err))
			continue
		}
		s.entries[key] = due.UTC()
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fileStore) Put(ctx context.Context, key Key, due time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: store closed", ErrUnavailable)
	}

	prev, had := s.entries[key]
	s.entries[key] = due.UTC()
	if err := s.writeSnapshotLocked(); err != nil {
		// Roll back the in-memory map so memory and disk stay consistent.
		if had {
			s.entries[key] = prev
		} else {
			delete(s.entries, key)
		}
		return err
	}
	return nil
}

func (s *fileStore) Remove(ctx context.Context, key Key) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: store closed", ErrUnavailable)
	}

	prev, had := s.entries[key]
	if !had {
		return nil // idempotent
	}
	delete(s.entries, key)
	if err := s.writeSnapshotLocked(); err != nil {
		s.entries[key] = prev
		return err
	}
	return nil
}

func (s *fileStore) LoadAll(ctx context.Context) (map[Key]time.Time, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: store closed", ErrUnavailable)
	}

	out := make(map[Key]time.Time, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out, nil
}

func (s *fileStore) writeSnapshotLocked() error {
	raw := make(map[string]string, len(s.entries))
	for k, v := range s.entries {
		raw[k.String()] = v.UTC().Format(time.RFC3339Nano)
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
