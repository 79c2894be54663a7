package deletion

import (
	"context"
	"time"

	"radiobot/internal/eventbus"
	"radiobot/internal/notifier"
	logx "radiobot/pkg/logx"
)

const publicOutageText = "The radio is temporarily off the air. The operators have been notified."

// escalate notifies the operators (with detail) and the public chat (generic)
// about an unrecoverable backend failure, then asks the app to shut down.
//
// The latch makes this a once-per-process event: repeated store errors after
// the first one are logged by their call sites but never page anyone again.
// Notification failures are logged and NOT re-escalated.
func (s *Service) escalate(ctx context.Context, what string, err error) {
	if !s.escalated.CompareAndSwap(false, true) {
		return
	}

	// Degraded does not block the sweep loop; shutdown is triggered below
	// because the store is assumed unrecoverable without an operator.
	switch s.State() {
	case StateShuttingDown, StateStopped:
	default:
		s.setState(StateDegraded)
	}

	s.log.Error("schedule backend failed; escalating",
		logx.String("context", what), logx.Err(err))

	if s.notif != nil {
		opText := "Schedule backend failure during " + what + ": " + err.Error() + "\nShutting down."
		if nerr := s.notif.Notify(ctx, notifier.Notification{
			Audience: notifier.AudienceOperator,
			Text:     opText,
			Priority: 9,
		}); nerr != nil {
			s.log.Warn("operator escalation notify failed", logx.Err(nerr))
		}
		if nerr := s.notif.Notify(ctx, notifier.Notification{
			Audience: notifier.AudiencePublic,
			Text:     publicOutageText,
			Priority: 5,
		}); nerr != nil {
			s.log.Warn("public escalation notify failed", logx.Err(nerr))
		}
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeEscalated, Data: EscalationEvent{
			Context: what, Error: err.Error(), At: time.Now().UTC(),
		}})
	}

	if s.onFatal != nil {
		// Run the shutdown out-of-band: escalate may be called from a sweep
		// goroutine that Stop() will wait for.
		go s.onFatal(what + ": " + err.Error())
	}
}

// Escalated reports whether the one-shot escalation latch has fired.
func (s *Service) Escalated() bool { return s.escalated.Load() }

// EscalationEvent is published on the bus when the latch fires.
type EscalationEvent struct {
	Context string    `json:"context"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}
