package config

import (
	"errors"
	"fmt"
)

// Validate checks the invariants the rest of the app assumes. It is run on
// initial load and again before every hot reload commit.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Telegram.Token == "" {
		return errors.New("telegram.token is required")
	}
	if cfg.Relay.RadioChatID == 0 {
		return errors.New("relay.radio_chat_id is required")
	}
	if cfg.Relay.AdminChatID == 0 {
		return errors.New("relay.admin_chat_id is required")
	}

	switch cfg.Storage.Driver {
	case "file", "sqlite", "sqlite3":
	case "":
		return errors.New("storage.driver is required")
	default:
		return fmt.Errorf("storage.driver %q not supported (file, sqlite)", cfg.Storage.Driver)
	}
	if cfg.Storage.Path == "" {
		return errors.New("storage.path is required")
	}

	for _, f := range []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"relay.repost_ttl", cfg.Relay.RepostTTL},
		{"deletion.sweep_interval", cfg.Deletion.SweepInterval},
		{"deletion.drain_timeout", cfg.Deletion.DrainTimeout},
		{"deletion.exec_timeout", cfg.Deletion.ExecTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
	} {
		if _, err := ParseDuration(f.path, f.raw, 0); err != nil {
			return err
		}
	}
	if n := cfg.Notifier; n != nil {
		for _, f := range []struct{ path, raw string }{
			{"notifier.retry_base", n.RetryBase},
			{"notifier.retry_max_delay", n.RetryMaxDelay},
		} {
			if _, err := ParseDuration(f.path, f.raw, 0); err != nil {
				return err
			}
		}
	}
	return nil
}
