package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"radiobot/internal/notifier"
	"radiobot/internal/storage"
	kit "radiobot/internal/transport"
	logx "radiobot/pkg/logx"
)

type sentMsg struct {
	to   kit.ChatTarget
	text string
	opt  *kit.SendOptions
}

type fakeSender struct {
	mu        sync.Mutex
	sent      []sentMsg
	deleted   []kit.MessageRef
	sendErr   error
	chunkSize int // split outgoing text into chunks of this many runes
	failAfter int // if > 0, error after this many chunks of one send
	nextID    int
	delErr    error
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) ([]kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}

	chunks := []string{text}
	if f.chunkSize > 0 {
		chunks = nil
		rs := []rune(text)
		for start := 0; start < len(rs); start += f.chunkSize {
			end := start + f.chunkSize
			if end > len(rs) {
				end = len(rs)
			}
			chunks = append(chunks, string(rs[start:end]))
		}
	}

	var refs []kit.MessageRef
	for i, chunk := range chunks {
		if f.failAfter > 0 && i >= f.failAfter {
			return refs, errors.New("send interrupted")
		}
		f.sent = append(f.sent, sentMsg{to: to, text: chunk, opt: opt})
		f.nextID++
		refs = append(refs, kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: 1000 + f.nextID})
	}
	return refs, nil
}

func (f *fakeSender) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return f.delErr
}

type fakeScheduler struct {
	mu   sync.Mutex
	puts map[storage.Key]time.Time
	err  error
}

func (f *fakeScheduler) Schedule(ctx context.Context, key storage.Key, due time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.puts == nil {
		f.puts = map[storage.Key]time.Time{}
	}
	f.puts[key] = due
	return nil
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

func newTestRelay(tx *fakeSender, sched *fakeScheduler, nf *fakeNotifier) *Service {
	return New(Config{
		RadioChat: kit.ChatTarget{ChatID: -100},
		TTL:       time.Hour,
	}, tx, sched, nf, nil, logx.Nop())
}

func update(chatID int64, msgID int, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID: msgID, ChatID: chatID, FromID: 42, FromUsername: "alice", Text: text,
	}}
}

func TestRelayHappyPath(t *testing.T) {
	tx := &fakeSender{}
	sched := &fakeScheduler{}
	nf := &fakeNotifier{}
	s := newTestRelay(tx, sched, nf)

	s.HandleUpdate(context.Background(), update(-100, 7, "hello <world>"))

	if len(tx.sent) != 1 {
		t.Fatalf("reposts = %d, want 1", len(tx.sent))
	}
	repost := tx.sent[0]
	if repost.to.ChatID != -100 {
		t.Fatalf("repost went to chat %d", repost.to.ChatID)
	}
	if repost.text != "hello &lt;world&gt;" {
		t.Fatalf("repost text = %q, not HTML-escaped", repost.text)
	}
	if strings.Contains(repost.text, "alice") {
		t.Fatalf("repost leaked author attribution: %q", repost.text)
	}

	if len(tx.deleted) != 1 || tx.deleted[0].MessageID != 7 || tx.deleted[0].ChatID != -100 {
		t.Fatalf("original not deleted: %+v", tx.deleted)
	}

	if len(sched.puts) != 1 {
		t.Fatalf("schedule entries = %d, want 1", len(sched.puts))
	}
	for key, due := range sched.puts {
		if key.ChatID != -100 || key.MessageID != 1001 {
			t.Fatalf("scheduled wrong target: %+v", key)
		}
		ttl := time.Until(due)
		if ttl < 59*time.Minute || ttl > 61*time.Minute {
			t.Fatalf("delete due in %v, want about 1h", ttl)
		}
		if due.Location() != time.UTC {
			t.Fatalf("due not UTC: %v", due)
		}
	}

	if len(nf.sent) != 1 {
		t.Fatalf("audit copies = %d, want 1", len(nf.sent))
	}
	audit := nf.sent[0]
	if audit.Audience != notifier.AudienceOperator {
		t.Fatalf("audit went to %q", audit.Audience)
	}
	if !strings.Contains(audit.Text, "alice") || !strings.Contains(audit.Text, "hello &lt;world&gt;") {
		t.Fatalf("audit copy missing attribution or text: %q", audit.Text)
	}
}

func TestRelayEmptyMessagePlacard(t *testing.T) {
	tx := &fakeSender{}
	s := newTestRelay(tx, &fakeScheduler{}, &fakeNotifier{})

	s.HandleUpdate(context.Background(), update(-100, 8, "   \n  "))

	if len(tx.sent) != 1 {
		t.Fatalf("reposts = %d, want 1", len(tx.sent))
	}
	if tx.sent[0].text != "(Empty message)" {
		t.Fatalf("repost text = %q", tx.sent[0].text)
	}
}

func TestRelayIgnoresOtherChats(t *testing.T) {
	tx := &fakeSender{}
	sched := &fakeScheduler{}
	s := newTestRelay(tx, sched, &fakeNotifier{})

	s.HandleUpdate(context.Background(), update(-200, 9, "not for us"))

	if len(tx.sent) != 0 || len(tx.deleted) != 0 || len(sched.puts) != 0 {
		t.Fatalf("update from foreign chat was processed")
	}
}

func TestRelayRepostFailureLeavesOriginal(t *testing.T) {
	tx := &fakeSender{sendErr: errors.New("gateway down")}
	sched := &fakeScheduler{}
	s := newTestRelay(tx, sched, &fakeNotifier{})

	s.HandleUpdate(context.Background(), update(-100, 10, "hi"))

	if len(tx.deleted) != 0 {
		t.Fatalf("original deleted though repost failed")
	}
	if len(sched.puts) != 0 {
		t.Fatalf("deletion scheduled though repost failed")
	}
}

func TestRelayScheduleFailureStillDeletesOriginal(t *testing.T) {
	tx := &fakeSender{}
	sched := &fakeScheduler{err: errors.New("store down")}
	s := newTestRelay(tx, sched, &fakeNotifier{})

	s.HandleUpdate(context.Background(), update(-100, 11, "hi"))

	if len(tx.deleted) != 1 {
		t.Fatalf("original must still be deleted so attribution disappears")
	}
}

func TestRelayLongRepostSchedulesEveryChunk(t *testing.T) {
	tx := &fakeSender{chunkSize: 10}
	sched := &fakeScheduler{}
	s := newTestRelay(tx, sched, &fakeNotifier{})

	s.HandleUpdate(context.Background(), update(-100, 12, strings.Repeat("a", 25)))

	if len(tx.sent) != 3 {
		t.Fatalf("chunks sent = %d, want 3", len(tx.sent))
	}
	if len(sched.puts) != 3 {
		t.Fatalf("schedule entries = %d, want one per chunk", len(sched.puts))
	}
	for _, id := range []int64{1001, 1002, 1003} {
		if _, ok := sched.puts[storage.Key{MessageID: id, ChatID: -100}]; !ok {
			t.Fatalf("chunk %d not scheduled for deletion", id)
		}
	}
	if len(tx.deleted) != 1 {
		t.Fatalf("original not deleted after chunked repost")
	}
}

func TestRelayPartialSendSchedulesSentChunks(t *testing.T) {
	tx := &fakeSender{chunkSize: 5, failAfter: 1}
	sched := &fakeScheduler{}
	s := newTestRelay(tx, sched, &fakeNotifier{})

	s.HandleUpdate(context.Background(), update(-100, 13, strings.Repeat("b", 12)))

	// The one chunk that became visible must still be scheduled for
	// deletion; the incomplete relay keeps the original in place.
	if len(sched.puts) != 1 {
		t.Fatalf("schedule entries = %d, want 1", len(sched.puts))
	}
	if _, ok := sched.puts[storage.Key{MessageID: 1001, ChatID: -100}]; !ok {
		t.Fatalf("sent chunk not scheduled: %+v", sched.puts)
	}
	if len(tx.deleted) != 0 {
		t.Fatalf("original deleted though repost was incomplete")
	}
}
