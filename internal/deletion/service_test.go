package deletion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"radiobot/internal/notifier"
	"radiobot/internal/storage"
	kit "radiobot/internal/transport"
	logx "radiobot/pkg/logx"
)

// ---- fakes ----

type fakeStore struct {
	mu      sync.Mutex
	entries map[storage.Key]time.Time
	failAll bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: map[storage.Key]time.Time{}}
}

func (f *fakeStore) unavailable() error {
	return fmt.Errorf("%w: injected failure", storage.ErrUnavailable)
}

func (f *fakeStore) Put(ctx context.Context, key storage.Key, due time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return f.unavailable()
	}
	f.entries[key] = due.UTC()
	return nil
}

func (f *fakeStore) LoadAll(ctx context.Context) (map[storage.Key]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, f.unavailable()
	}
	out := make(map[storage.Key]time.Time, len(f.entries))
	for k, v := range f.entries {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) Remove(ctx context.Context, key storage.Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return f.unavailable()
	}
	delete(f.entries, key)
	return nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) has(key storage.Key) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[key]
	return ok
}

type fakeDeleter struct {
	mu    sync.Mutex
	calls []kit.MessageRef
	// errs is consumed front-to-back; once empty, deletes succeed.
	errs []error
	// block, when non-nil, is closed by the test to release in-flight deletes.
	block chan struct{}
}

func (f *fakeDeleter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	f.mu.Lock()
	f.calls = append(f.calls, ref)
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeDeleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notifier.Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, n notifier.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeNotifier) countByAudience(a notifier.Audience) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s.Audience == a {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func newTestService(st *fakeStore, del *fakeDeleter, nf *fakeNotifier) *Service {
	s := New(Config{
		SweepInterval: time.Hour, // ticks are driven manually in tests
		DrainTimeout:  time.Second,
		ExecTimeout:   time.Second,
	}, st, del, nf, nil, logx.Nop())
	return s
}

// ---- tests ----

func TestEndToEndSweep(t *testing.T) {
	st := newFakeStore()
	del := &fakeDeleter{}
	s := newTestService(st, del, &fakeNotifier{})
	s.setState(StateRunning)

	key := storage.Key{MessageID: 123, ChatID: 456}
	if err := s.Schedule(context.Background(), key, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	s.sweepOnce(context.Background())
	waitFor(t, time.Second, func() bool { return del.callCount() == 1 })
	waitFor(t, time.Second, func() bool { return !st.has(key) })

	del.mu.Lock()
	ref := del.calls[0]
	del.mu.Unlock()
	if ref.MessageID != 123 || ref.ChatID != 456 {
		t.Fatalf("executor got wrong target: %+v", ref)
	}

	// A second tick must not re-dispatch the settled entry.
	s.sweepOnce(context.Background())
	time.Sleep(20 * time.Millisecond)
	if got := del.callCount(); got != 1 {
		t.Fatalf("entry executed %d times, want 1", got)
	}
}

func TestFutureEntriesWait(t *testing.T) {
	st := newFakeStore()
	del := &fakeDeleter{}
	s := newTestService(st, del, &fakeNotifier{})
	s.setState(StateRunning)

	key := storage.Key{MessageID: 1, ChatID: 2}
	_ = s.Schedule(context.Background(), key, time.Now().Add(time.Hour))

	s.sweepOnce(context.Background())
	time.Sleep(20 * time.Millisecond)
	if del.callCount() != 0 {
		t.Fatalf("future entry executed early")
	}
	if !st.has(key) {
		t.Fatalf("future entry removed")
	}
}

func TestTransientErrorRetriesNextTick(t *testing.T) {
	st := newFakeStore()
	del := &fakeDeleter{errs: []error{errors.New("gateway timeout")}}
	s := newTestService(st, del, &fakeNotifier{})
	s.setState(StateRunning)

	key := storage.Key{MessageID: 1, ChatID: 1}
	_ = s.Schedule(context.Background(), key, time.Now().Add(-time.Second))

	// Tick 1: transient failure, entry must survive.
	s.sweepOnce(context.Background())
	waitFor(t, time.Second, func() bool { return del.callCount() == 1 })
	s.execWG.Wait()
	if !st.has(key) {
		t.Fatalf("entry removed after transient failure")
	}

	// Tick 2: success, entry must be gone.
	s.sweepOnce(context.Background())
	waitFor(t, time.Second, func() bool { return del.callCount() == 2 })
	waitFor(t, time.Second, func() bool { return !st.has(key) })
}

func TestForbiddenDropsEntry(t *testing.T) {
	st := newFakeStore()
	del := &fakeDeleter{errs: []error{fmt.Errorf("%w: no rights", kit.ErrForbidden)}}
	s := newTestService(st, del, &fakeNotifier{})
	s.setState(StateRunning)

	key := storage.Key{MessageID: 5, ChatID: 6}
	_ = s.Schedule(context.Background(), key, time.Now().Add(-time.Second))

	s.sweepOnce(context.Background())
	waitFor(t, time.Second, func() bool { return !st.has(key) })
	if del.callCount() != 1 {
		t.Fatalf("expected exactly one attempt, got %d", del.callCount())
	}
}

func TestAlreadyGoneCountsAsSuccess(t *testing.T) {
	st := newFakeStore()
	del := &fakeDeleter{errs: []error{fmt.Errorf("%w: gone", kit.ErrNotFound)}}
	s := newTestService(st, del, &fakeNotifier{})
	s.setState(StateRunning)

	key := storage.Key{MessageID: 9, ChatID: 9}
	_ = s.Schedule(context.Background(), key, time.Now().Add(-time.Second))

	s.sweepOnce(context.Background())
	waitFor(t, time.Second, func() bool { return !st.has(key) })
}

func TestInflightEntryNotDispatchedTwice(t *testing.T) {
	st := newFakeStore()
	del := &fakeDeleter{block: make(chan struct{})}
	s := newTestService(st, del, &fakeNotifier{})
	s.setState(StateRunning)

	key := storage.Key{MessageID: 3, ChatID: 3}
	_ = s.Schedule(context.Background(), key, time.Now().Add(-time.Second))

	s.sweepOnce(context.Background())
	waitFor(t, time.Second, func() bool { return del.callCount() == 1 })

	// Second tick while the first executor is still blocked.
	s.sweepOnce(context.Background())
	time.Sleep(20 * time.Millisecond)
	if got := del.callCount(); got != 1 {
		t.Fatalf("in-flight entry dispatched %d times", got)
	}

	close(del.block)
	waitFor(t, time.Second, func() bool { return !st.has(key) })
}

func TestRecoveryDispatchesOverdueBeforeFirstTick(t *testing.T) {
	st := newFakeStore()
	key := storage.Key{MessageID: 77, ChatID: 88}
	st.entries[key] = time.Now().Add(-time.Minute).UTC()

	del := &fakeDeleter{}
	s := newTestService(st, del, &fakeNotifier{})

	// SweepInterval is one hour, so any execution within the test window
	// can only come from recovery.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	waitFor(t, time.Second, func() bool { return del.callCount() == 1 })
	waitFor(t, time.Second, func() bool { return !st.has(key) })
	if s.State() != StateRunning {
		t.Fatalf("state = %s, want running", s.State())
	}
}

func TestRecoveryFailureIsFatalAndEscalates(t *testing.T) {
	st := newFakeStore()
	st.failAll = true
	nf := &fakeNotifier{}
	s := newTestService(st, &fakeDeleter{}, nf)

	fatal := make(chan string, 1)
	s.OnFatal(func(reason string) { fatal <- reason })

	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected Start to fail when store is unavailable")
	}
	if nf.countByAudience(notifier.AudienceOperator) != 1 {
		t.Fatalf("operator not notified")
	}
	select {
	case <-fatal:
	case <-time.After(time.Second):
		t.Fatalf("fatal hook not invoked")
	}
}

func TestEscalationFiresExactlyOnce(t *testing.T) {
	st := newFakeStore()
	nf := &fakeNotifier{}
	s := newTestService(st, &fakeDeleter{}, nf)
	s.setState(StateRunning)

	var fatalCalls sync.WaitGroup
	fatalCalls.Add(1)
	var once sync.Once
	s.OnFatal(func(string) { once.Do(fatalCalls.Done) })

	st.mu.Lock()
	st.failAll = true
	st.mu.Unlock()

	// 100 failing operations must produce exactly one notification per audience.
	for i := 0; i < 100; i++ {
		s.sweepOnce(context.Background())
	}

	if got := nf.countByAudience(notifier.AudienceOperator); got != 1 {
		t.Fatalf("operator notified %d times, want 1", got)
	}
	if got := nf.countByAudience(notifier.AudiencePublic); got != 1 {
		t.Fatalf("public notified %d times, want 1", got)
	}
	if s.State() != StateDegraded {
		t.Fatalf("state = %s, want degraded", s.State())
	}
	fatalCalls.Wait()
}

func TestScheduleFailureEscalates(t *testing.T) {
	st := newFakeStore()
	st.failAll = true
	nf := &fakeNotifier{}
	s := newTestService(st, &fakeDeleter{}, nf)
	s.setState(StateRunning)

	err := s.Schedule(context.Background(), storage.Key{MessageID: 1, ChatID: 1}, time.Now())
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !s.Escalated() {
		t.Fatalf("escalation latch not set")
	}
}

func TestScheduleAfterStopRejected(t *testing.T) {
	st := newFakeStore()
	s := newTestService(st, &fakeDeleter{}, &fakeNotifier{})
	s.setState(StateRunning)
	s.Stop(context.Background())

	err := s.Schedule(context.Background(), storage.Key{MessageID: 1, ChatID: 1}, time.Now())
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if s.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", s.State())
	}
}

func TestClassifyOutcome(t *testing.T) {
	cases := []struct {
		err  error
		want Outcome
	}{
		{nil, OutcomeDeleted},
		{fmt.Errorf("%w: x", kit.ErrNotFound), OutcomeAlreadyGone},
		{fmt.Errorf("%w: x", kit.ErrForbidden), OutcomeForbidden},
		{fmt.Errorf("%w: x", kit.ErrChatUnavailable), OutcomeChatUnavailable},
		{errors.New("net timeout"), OutcomeTransient},
		{context.DeadlineExceeded, OutcomeTransient},
	}
	for _, c := range cases {
		if got := classifyOutcome(c.err); got != c.want {
			t.Errorf("classifyOutcome(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}
