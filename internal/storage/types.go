package storage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable marks backend-wide failures (connectivity loss, corrupt
// snapshot, closed handle). Per-entry problems are never wrapped in it.
var ErrUnavailable = errors.New("schedule store unavailable")

// Config configures the schedule store.
//
// Driver values:
//   - "file": whole-mapping JSON snapshot
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Key identifies one scheduled deletion: the message and the chat it lives in.
// Its string form "<message>_<chat>" is the persisted file-backend key and is
// stable for the life of the entry.
type Key struct {
	MessageID int64
	ChatID    int64
}

func (k Key) String() string {
	return strconv.FormatInt(k.MessageID, 10) + "_" + strconv.FormatInt(k.ChatID, 10)
}

// ParseKey parses the "<message>_<chat>" form.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, "_", 2)
	if len(parts) != 2 {
		return Key{}, fmt.Errorf("malformed schedule key %q", s)
	}
	msgID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("malformed schedule key %q: %w", s, err)
	}
	chatID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("malformed schedule key %q: %w", s, err)
	}
	return Key{MessageID: msgID, ChatID: chatID}, nil
}
