package config

// Config is the whole on-disk configuration. Both JSON and YAML files are
// accepted; YAML is coerced to JSON so one strict decoder covers both.
//
// All durations are Go duration strings (e.g. "500ms", "30s", "24h").
type Config struct {
	Telegram TelegramConfig  `json:"telegram"`
	Logging  LoggingConfig   `json:"logging"`
	Relay    RelayConfig     `json:"relay"`
	Deletion DeletionConfig  `json:"deletion"`
	Storage  StorageConfig   `json:"storage"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// RelayConfig names the two chats the bot works with: the public radio chat
// it relays in, and the admin chat that receives attributed copies.
type RelayConfig struct {
	RadioChatID   int64 `json:"radio_chat_id"`
	RadioThreadID int   `json:"radio_thread_id,omitempty"`
	AdminChatID   int64 `json:"admin_chat_id"`
	AdminThreadID int   `json:"admin_thread_id,omitempty"`

	// RepostTTL is how long a repost stays up before deletion. Default "24h".
	RepostTTL string `json:"repost_ttl,omitempty"`
}

type DeletionConfig struct {
	SweepInterval string `json:"sweep_interval,omitempty"` // default "30s"
	DrainTimeout  string `json:"drain_timeout,omitempty"`  // default "10s"
	ExecTimeout   string `json:"exec_timeout,omitempty"`   // default "15s"
}

// StorageConfig selects the schedule backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./radiobot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// NotifierConfig controls the async notification pipeline. If the whole
// section is omitted the notifier runs with its built-in defaults.
type NotifierConfig struct {
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}
