// Package relay implements the anonymous radio flow: a message posted in the
// radio chat is reposted without attribution, the original is deleted, an
// attributed copy goes to the operator chat, and the repost is scheduled for
// deletion after the configured lifetime.
package relay

import (
	"context"
	"strconv"
	"strings"
	"time"

	"radiobot/internal/eventbus"
	"radiobot/internal/notifier"
	"radiobot/internal/storage"
	kit "radiobot/internal/transport"
	logx "radiobot/pkg/logx"
	"radiobot/pkg/tgui"
)

const (
	defaultTTL   = 24 * time.Hour
	emptyPlacard = "(Empty message)"
)

type Config struct {
	// RadioChat is the public chat the relay listens on and reposts into.
	RadioChat kit.ChatTarget
	// TTL is how long a repost lives before the scheduler deletes it.
	TTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = defaultTTL
	}
	return c
}

// Sender is the transport slice the relay needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) ([]kit.MessageRef, error)
	DeleteMessage(ctx context.Context, ref kit.MessageRef) error
}

// Scheduler durably records a pending deletion.
type Scheduler interface {
	Schedule(ctx context.Context, key storage.Key, due time.Time) error
}

type Notifier interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

type Service struct {
	cfg   Config
	log   logx.Logger
	tx    Sender
	sched Scheduler
	notif Notifier
	bus   eventbus.Bus
}

func New(cfg Config, tx Sender, sched Scheduler, notif Notifier, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), log: log, tx: tx, sched: sched, notif: notif, bus: bus}
}

// HandleUpdate processes one gateway update. Updates from chats other than
// the radio chat are ignored. The gateway never delivers the bot's own
// messages back, so reposts do not loop.
func (s *Service) HandleUpdate(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	if msg.ChatID != s.cfg.RadioChat.ChatID {
		return
	}
	s.relay(ctx, msg)
}

// relay runs the four-step flow for one message. The schedule write happens
// before the original is deleted: a crash between the two leaves a duplicate
// visible (original plus repost), which operators can clean up, whereas an
// unscheduled repost would live forever.
func (s *Service) relay(ctx context.Context, msg *kit.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = emptyPlacard
	}

	refs, err := s.tx.SendText(ctx, s.cfg.RadioChat, tgui.Esc(text).String(), &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
	})
	if len(refs) == 0 && err != nil {
		// Nothing to undo yet. The original stays visible with attribution,
		// which beats losing the message outright.
		s.log.Error("repost failed; original left in place",
			logx.Int64("chat", msg.ChatID), logx.Int("message", msg.ID), logx.Err(err))
		return
	}

	// A long repost goes out as several messages; every one of them needs
	// its own schedule entry or it would outlive the TTL.
	due := time.Now().UTC().Add(s.cfg.TTL)
	repostIDs := make([]int, 0, len(refs))
	for _, ref := range refs {
		repostIDs = append(repostIDs, ref.MessageID)
		key := storage.Key{MessageID: int64(ref.MessageID), ChatID: ref.ChatID}
		if serr := s.sched.Schedule(ctx, key, due); serr != nil {
			// Schedule already escalated if the backend is down. Keep going
			// so the remaining chunks are at least recorded.
			s.log.Error("repost left unscheduled", logx.String("key", key.String()), logx.Err(serr))
		}
	}

	if err != nil {
		// Partial send: the visible chunks are scheduled for deletion above,
		// but the relay is incomplete, so the original is kept.
		s.log.Error("repost incomplete; original left in place",
			logx.Int64("chat", msg.ChatID), logx.Int("message", msg.ID),
			logx.Int("chunks_sent", len(refs)), logx.Err(err))
		return
	}

	if err := s.tx.DeleteMessage(ctx, kit.MessageRef{
		ChatID: msg.ChatID, ThreadID: msg.ThreadID, MessageID: msg.ID,
	}); err != nil {
		s.log.Warn("original not deleted",
			logx.Int64("chat", msg.ChatID), logx.Int("message", msg.ID), logx.Err(err))
	}

	s.auditCopy(ctx, msg, text)

	s.log.Info("message relayed",
		logx.Int("original", msg.ID), logx.Int("reposts", len(repostIDs)),
		logx.Time("delete_due", due))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeRelayReposted, Data: RepostEvent{
			OriginalID: msg.ID, RepostIDs: repostIDs, ChatID: msg.ChatID, Due: due,
		}})
	}
}

// auditCopy posts the attributed original to the operator chat. Failures are
// logged only; the audit trail is best-effort by design of the notifier queue.
func (s *Service) auditCopy(ctx context.Context, msg *kit.Message, text string) {
	if s.notif == nil {
		return
	}

	author := tgui.Mention(displayName(msg), msg.FromID)
	body := tgui.JoinH("\n",
		tgui.JoinH(" ", tgui.B("Radio message from"), author),
		tgui.Quote(tgui.TruncRunes(text, 3500)),
	)
	if err := s.notif.Notify(ctx, notifier.Notification{
		Audience: notifier.AudienceOperator,
		Text:     body.String(),
		Options:  &kit.SendOptions{ParseMode: "HTML", DisablePreview: true},
	}); err != nil {
		s.log.Warn("audit copy not queued", logx.Err(err))
	}
}

func displayName(msg *kit.Message) string {
	if msg.FromUsername != "" {
		return "@" + msg.FromUsername
	}
	return "id:" + strconv.FormatInt(msg.FromID, 10)
}

// RepostEvent is published on the bus after a successful relay.
type RepostEvent struct {
	OriginalID int       `json:"original_id"`
	RepostIDs  []int     `json:"repost_ids"`
	ChatID     int64     `json:"chat_id"`
	Due        time.Time `json:"due"`
}
