package notifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	rtsup "radiobot/internal/runtime/supervisor"
	kit "radiobot/internal/transport"
	logx "radiobot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Service implements an async notification pipeline:
// queue + worker pool + rate limit + retry.
//
// It is safe for concurrent use. Send failures are logged, never escalated:
// the notifier is itself the escalation path and must not loop.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	queue     chan Notification
	sup       *rtsup.Supervisor

	// pending counts accepted-but-undelivered notifications so Stop can
	// drain without racing the worker dequeue.
	pending atomic.Int64
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, log: log}
	s.applyLocked(cfg)
	return s
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan Notification, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers

	// Workers get a lifetime independent of the run context: only Stop ends
	// them, after the drain below. A canceled run context must not kill
	// delivery of escalation messages queued during shutdown.
	s.sup = rtsup.New(context.WithoutCancel(ctx),
		rtsup.WithLogger(s.log),
		// notifier failures must not take down the whole app.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.Go0("notifier.worker", func(c context.Context) {
			s.worker(c, q)
		})
	}
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	s.accepting = false
	sup := s.sup
	s.sup = nil
	s.queue = nil
	s.mu.Unlock()

	if sup == nil {
		return
	}

	// Let the workers finish what is already queued; escalation messages are
	// enqueued right before shutdown starts and must still go out. Bounded by
	// the caller's stop deadline.
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
drain:
	for s.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			s.log.Warn("notifier stopped with undelivered notifications",
				logx.Int64("pending", s.pending.Load()))
			break drain
		case <-tick.C:
		}
	}

	sup.Cancel()
	_ = sup.Wait(ctx)
}

// Notify enqueues a notification. It never blocks: a full queue returns
// ErrQueueFull instead of stalling the caller.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	_ = ctx
	s.mu.Lock()
	q := s.queue
	accepting := s.accepting
	s.mu.Unlock()

	if q == nil || !accepting {
		return ErrStopped
	}
	select {
	case q <- n:
		s.pending.Add(1)
		return nil
	default:
		s.log.Warn("notification dropped (queue full)",
			logx.String("audience", string(n.Audience)), logx.Int("queue_cap", cap(q)))
		return ErrQueueFull
	}
}

func (s *Service) worker(ctx context.Context, q <-chan Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-q:
			s.deliver(ctx, n)
			s.pending.Add(-1)
		}
	}
}

func (s *Service) deliver(ctx context.Context, n Notification) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	target := cfg.OperatorChat
	if n.Audience == AudiencePublic {
		target = cfg.PublicChat
	}
	if target.ChatID == 0 {
		s.log.Debug("no chat configured for audience; dropping",
			logx.String("audience", string(n.Audience)))
		return
	}

	opt := n.Options
	if opt == nil {
		opt = &kit.SendOptions{DisablePreview: true}
	}

	text := n.Text
	switch {
	case n.Priority >= 8:
		text = "🚨 " + text
	case n.Priority >= 5:
		text = "⚠️ " + text
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.RetryMax; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		_, err := s.adapter.SendText(ctx, target, text, opt)
		if err == nil {
			s.log.Debug("notification sent",
				logx.String("audience", string(n.Audience)),
				logx.Int64("chat_id", target.ChatID),
				logx.Int("attempt", attempt+1))
			return
		}
		lastErr = err

		delay := cfg.RetryBase << attempt
		if delay > cfg.RetryMaxDelay {
			delay = cfg.RetryMaxDelay
		}
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return
		case <-tmr.C:
		}
	}

	s.log.Warn("notification send failed",
		logx.String("audience", string(n.Audience)),
		logx.Int64("chat_id", target.ChatID),
		logx.Err(lastErr))
}
