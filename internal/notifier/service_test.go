package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kit "radiobot/internal/transport"
	logx "radiobot/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	sent  []sentMsg
	fails int // fail this many sends before succeeding
}

type sentMsg struct {
	to   kit.ChatTarget
	text string
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }
func (f *fakeAdapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	return nil
}

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) ([]kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return nil, errors.New("send failed")
	}
	f.sent = append(f.sent, sentMsg{to: to, text: text})
	return []kit.MessageRef{{ChatID: to.ChatID, MessageID: len(f.sent)}}, nil
}

func (f *fakeAdapter) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
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

func newTestService(ad *fakeAdapter) *Service {
	return New(Config{
		Workers:       1,
		QueueSize:     16,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		OperatorChat:  kit.ChatTarget{ChatID: 100},
		PublicChat:    kit.ChatTarget{ChatID: 200},
	}, ad, logx.Nop())
}

func TestNotifyRoutesByAudience(t *testing.T) {
	ad := &fakeAdapter{}
	s := newTestService(ad)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	if err := s.Notify(ctx, Notification{Audience: AudienceOperator, Text: "op"}); err != nil {
		t.Fatalf("Notify operator: %v", err)
	}
	if err := s.Notify(ctx, Notification{Audience: AudiencePublic, Text: "pub"}); err != nil {
		t.Fatalf("Notify public: %v", err)
	}

	waitFor(t, time.Second, func() bool { return ad.sentCount() == 2 })

	ad.mu.Lock()
	defer ad.mu.Unlock()
	seen := map[int64]string{}
	for _, m := range ad.sent {
		seen[m.to.ChatID] = m.text
	}
	if seen[100] != "op" || seen[200] != "pub" {
		t.Fatalf("wrong routing: %v", seen)
	}
}

func TestNotifyRetriesTransientSendFailures(t *testing.T) {
	ad := &fakeAdapter{fails: 2}
	s := newTestService(ad)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	if err := s.Notify(ctx, Notification{Audience: AudienceOperator, Text: "try"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitFor(t, time.Second, func() bool { return ad.sentCount() == 1 })
}

func TestNotifyAfterStopReturnsError(t *testing.T) {
	ad := &fakeAdapter{}
	s := newTestService(ad)
	ctx := context.Background()
	s.Start(ctx)
	s.Stop(ctx)

	if err := s.Notify(ctx, Notification{Audience: AudienceOperator, Text: "late"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestPriorityPrefix(t *testing.T) {
	ad := &fakeAdapter{}
	s := newTestService(ad)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	_ = s.Notify(ctx, Notification{Audience: AudienceOperator, Text: "down", Priority: 9})
	waitFor(t, time.Second, func() bool { return ad.sentCount() == 1 })

	ad.mu.Lock()
	defer ad.mu.Unlock()
	if got := ad.sent[0].text; got != "🚨 down" {
		t.Fatalf("expected urgent prefix, got %q", got)
	}
}

func TestStopDeliversQueuedAfterRunContextCanceled(t *testing.T) {
	ad := &fakeAdapter{}
	s := newTestService(ad)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	// The run context dying (app shutdown) must not kill the workers before
	// Stop has drained what was already accepted.
	cancel()

	if err := s.Notify(context.Background(), Notification{
		Audience: AudienceOperator, Text: "backend down", Priority: 9,
	}); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)

	if got := ad.sentCount(); got != 1 {
		t.Fatalf("queued notification dropped at shutdown (sent=%d)", got)
	}
}
