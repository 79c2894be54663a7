package deletion

import (
	"context"
	"time"

	"radiobot/internal/eventbus"
	"radiobot/internal/storage"
	logx "radiobot/pkg/logx"
)

// sweepOnce runs one pass: load a snapshot of the whole schedule, dispatch
// every due entry. Entries added after the snapshot wait for the next tick;
// entries removed mid-tick by a slow prior executor simply don't reappear.
func (s *Service) sweepOnce(ctx context.Context) {
	switch s.State() {
	case StateShuttingDown, StateStopped:
		return
	}

	now := time.Now().UTC()

	entries, err := s.store.LoadAll(ctx)
	if err != nil {
		s.escalate(ctx, "sweep load", err)
		return
	}

	due := 0
	for key, dueAt := range entries {
		if dueAt.After(now) {
			continue
		}
		due++
		s.dispatch(ctx, key)
	}

	if due > 0 {
		s.log.Debug("sweep tick",
			logx.Int("entries", len(entries)), logx.Int("due", due))
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeSweepDone, Data: SweepEvent{
			Entries: len(entries), Due: due, At: now,
		}})
	}
}

// SweepEvent is published on the bus after each sweep tick.
type SweepEvent struct {
	Entries int       `json:"entries"`
	Due     int       `json:"due"`
	At      time.Time `json:"at"`
}

// dispatch hands one due entry to an executor goroutine. Different keys run
// concurrently; a key whose executor from an earlier tick is still running is
// skipped, so the same entry is never worked twice at once.
func (s *Service) dispatch(ctx context.Context, key storage.Key) {
	s.mu.Lock()
	if _, busy := s.inflight[key]; busy {
		s.mu.Unlock()
		return
	}
	s.inflight[key] = struct{}{}
	s.execWG.Add(1)
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.inflight, key)
			s.mu.Unlock()
			s.execWG.Done()
		}()
		s.executeOne(ctx, key)
	}()
}
