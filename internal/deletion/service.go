package deletion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"radiobot/internal/eventbus"
	"radiobot/internal/notifier"
	"radiobot/internal/storage"
	logx "radiobot/pkg/logx"
)

var ErrNotRunning = errors.New("deletion service not running")

// Notifier is the escalation capability: post to one of the configured chats.
type Notifier interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

// Service owns the schedule store and runs recovery, sweeping and execution.
// All dependencies are injected; there is no package-level state.
type Service struct {
	cfg     Config
	log     logx.Logger
	store   storage.Store
	deleter Deleter
	notif   Notifier
	bus     eventbus.Bus

	// onFatal is invoked (once, from its own goroutine) after an escalation
	// so the app can run an orderly shutdown. Never called for planned stops.
	onFatal func(reason string)

	state     atomic.Int32
	escalated atomic.Bool

	mu       sync.Mutex
	inflight map[storage.Key]struct{}
	execWG   sync.WaitGroup

	cron *cron.Cron
}

func New(cfg Config, store storage.Store, deleter Deleter, notif Notifier, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		log:      log,
		store:    store,
		deleter:  deleter,
		notif:    notif,
		bus:      bus,
		inflight: map[storage.Key]struct{}{},
	}
}

// OnFatal installs the shutdown hook. Must be called before Start.
func (s *Service) OnFatal(fn func(reason string)) { s.onFatal = fn }

func (s *Service) State() State { return State(s.state.Load()) }

func (s *Service) setState(st State) {
	s.state.Store(int32(st))
}

// Schedule durably records that the message behind key must be deleted at
// due. The entry is scheduled only once Schedule returns nil; a store
// failure escalates and the caller must not assume success.
func (s *Service) Schedule(ctx context.Context, key storage.Key, due time.Time) error {
	st := s.State()
	if st == StateShuttingDown || st == StateStopped {
		return ErrNotRunning
	}

	if err := s.store.Put(ctx, key, due.UTC()); err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			s.escalate(ctx, "schedule write", err)
		}
		return err
	}
	s.log.Debug("deletion scheduled",
		logx.String("key", key.String()), logx.Time("due", due.UTC()))
	return nil
}

// Start recovers persisted state and begins periodic sweeping.
//
// Recovery failure is fatal: a scheduler that cannot read its own state must
// not silently run with partial state, so the store error is escalated and
// returned.
func (s *Service) Start(ctx context.Context) error {
	if s.State() != StateUninitialized {
		return fmt.Errorf("deletion service started twice (state %s)", s.State())
	}
	s.setState(StateRecovering)

	if err := s.recover(ctx); err != nil {
		s.escalate(ctx, "schedule recovery", err)
		return fmt.Errorf("recover schedule: %w", err)
	}

	s.setState(StateRunning)

	// The sweep trigger is a constant-delay schedule pinned to UTC. Jobs run
	// in cron-owned goroutines; sweepOnce itself fans out per-entry workers.
	s.cron = cron.New(cron.WithLocation(time.UTC))
	s.cron.Schedule(cron.Every(s.cfg.SweepInterval), cron.FuncJob(func() {
		s.sweepOnce(ctx)
	}))
	s.cron.Start()

	s.log.Info("deletion service running",
		logx.Duration("sweep_interval", s.cfg.SweepInterval))
	return nil
}

// recover reconciles in-memory scheduling with whatever the store persisted.
// Entries already due are dispatched immediately instead of waiting for the
// first sweep tick, bounding post-restart staleness to one boot.
func (s *Service) recover(ctx context.Context) error {
	entries, err := s.store.LoadAll(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	overdue := 0
	for key, due := range entries {
		if due.After(now) {
			continue // the sweep will pick it up once due
		}
		overdue++
		s.dispatch(ctx, key)
	}

	s.log.Info("schedule recovered",
		logx.Int("entries", len(entries)), logx.Int("overdue", overdue))
	return nil
}

// Stop halts sweeping, waits (bounded) for in-flight deletions and marks the
// subsystem stopped. The store itself is closed by the owner that opened it.
//
// In-flight deletes are drained rather than killed: abandoning a delete that
// already happened remotely merely costs a wasteful retry, while removing a
// store entry for a delete that never happened would leak the message
// forever. Draining picks the cheap side of that asymmetry.
func (s *Service) Stop(ctx context.Context) {
	st := s.State()
	if st == StateStopped {
		return
	}
	s.setState(StateShuttingDown)

	drain := s.cfg.DrainTimeout
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < drain {
			drain = rem
		}
	}

	if s.cron != nil {
		// Stop() prevents new ticks and returns a context that completes when
		// in-flight jobs return.
		cronCtx := s.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-time.After(drain):
			s.log.Warn("sweep tick still running at shutdown; abandoning")
		}
	}

	done := make(chan struct{})
	go func() {
		s.execWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drain):
		s.log.Warn("in-flight deletions not drained within timeout",
			logx.Duration("drain", drain))
	}

	s.setState(StateStopped)
	s.log.Info("deletion service stopped")
}
