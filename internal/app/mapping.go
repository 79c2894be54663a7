package app

import (
	"time"

	"radiobot/internal/config"
	"radiobot/internal/deletion"
	"radiobot/internal/notifier"
	"radiobot/internal/relay"
	"radiobot/internal/storage"
	kit "radiobot/internal/transport"
	logx "radiobot/pkg/logx"
)

// Mapping helpers translate the on-disk config (duration strings, flat ids)
// into the typed configs the services take. Durations were validated at load
// time, so parse errors here fall back to defaults.

func mapLogging(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

func mapStorage(c config.StorageConfig) (storage.Config, error) {
	busy, err := config.ParseDuration("storage.busy_timeout", c.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: c.Driver, Path: c.Path, BusyTimeout: busy}, nil
}

func mapDeletion(c config.DeletionConfig) (deletion.Config, error) {
	sweep, err := config.ParseDuration("deletion.sweep_interval", c.SweepInterval, 0)
	if err != nil {
		return deletion.Config{}, err
	}
	drain, err := config.ParseDuration("deletion.drain_timeout", c.DrainTimeout, 0)
	if err != nil {
		return deletion.Config{}, err
	}
	exec, err := config.ParseDuration("deletion.exec_timeout", c.ExecTimeout, 0)
	if err != nil {
		return deletion.Config{}, err
	}
	return deletion.Config{SweepInterval: sweep, DrainTimeout: drain, ExecTimeout: exec}, nil
}

func mapRelay(c config.RelayConfig) (relay.Config, error) {
	ttl, err := config.ParseDuration("relay.repost_ttl", c.RepostTTL, 0)
	if err != nil {
		return relay.Config{}, err
	}
	return relay.Config{
		RadioChat: kit.ChatTarget{ChatID: c.RadioChatID, ThreadID: c.RadioThreadID},
		TTL:       ttl,
	}, nil
}

func mapNotifier(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{
		OperatorChat: kit.ChatTarget{ChatID: cfg.Relay.AdminChatID, ThreadID: cfg.Relay.AdminThreadID},
		PublicChat:   kit.ChatTarget{ChatID: cfg.Relay.RadioChatID, ThreadID: cfg.Relay.RadioThreadID},
	}
	n := cfg.Notifier
	if n == nil {
		return out, nil
	}
	base, err := config.ParseDuration("notifier.retry_base", n.RetryBase, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDuration("notifier.retry_max_delay", n.RetryMaxDelay, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	out.Workers = n.Workers
	out.QueueSize = n.QueueSize
	out.RatePerSec = n.RatePerSec
	out.RetryMax = n.RetryMax
	out.RetryBase = base
	out.RetryMaxDelay = maxDelay
	return out, nil
}
