package deletion

import (
	"context"
	"errors"
	"time"

	"radiobot/internal/eventbus"
	"radiobot/internal/storage"
	kit "radiobot/internal/transport"
	logx "radiobot/pkg/logx"
)

// executeOne deletes the message behind key and settles the schedule entry
// according to the outcome. Only terminal outcomes remove the entry; a
// transient failure leaves it in place, which gives at-least-once retry on
// the next sweep with no extra bookkeeping.
func (s *Service) executeOne(ctx context.Context, key storage.Key) {
	execCtx, cancel := context.WithTimeout(ctx, s.cfg.ExecTimeout)
	defer cancel()

	ref := kit.MessageRef{ChatID: key.ChatID, MessageID: int(key.MessageID)}
	outcome := classifyOutcome(s.deleter.DeleteMessage(execCtx, ref))

	switch outcome {
	case OutcomeDeleted:
		s.log.Debug("message deleted", logx.String("key", key.String()))
	case OutcomeAlreadyGone, OutcomeChatUnavailable:
		s.log.Debug("message already gone",
			logx.String("key", key.String()), logx.String("outcome", outcome.String()))
	case OutcomeForbidden:
		s.log.Warn("deletion forbidden; dropping entry", logx.String("key", key.String()))
	case OutcomeTransient:
		s.log.Warn("deletion failed; will retry next sweep", logx.String("key", key.String()))
	}

	if outcome.terminal() {
		if err := s.store.Remove(ctx, key); err != nil {
			if errors.Is(err, storage.ErrUnavailable) {
				s.escalate(ctx, "schedule remove", err)
				return
			}
			s.log.Warn("schedule remove failed", logx.String("key", key.String()), logx.Err(err))
		}
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeActionDone, Data: ActionEvent{
			Key: key.String(), Outcome: outcome.String(), At: time.Now().UTC(),
		}})
	}
}

// ActionEvent is published on the bus after each deletion attempt.
type ActionEvent struct {
	Key     string    `json:"key"`
	Outcome string    `json:"outcome"`
	At      time.Time `json:"at"`
}

// classifyOutcome turns a gateway delete result into an Outcome. Anything the
// transport did not explicitly classify is assumed retryable.
func classifyOutcome(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeDeleted
	case errors.Is(err, kit.ErrNotFound):
		return OutcomeAlreadyGone
	case errors.Is(err, kit.ErrForbidden):
		return OutcomeForbidden
	case errors.Is(err, kit.ErrChatUnavailable):
		return OutcomeChatUnavailable
	default:
		return OutcomeTransient
	}
}
