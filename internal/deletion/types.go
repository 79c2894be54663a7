package deletion

import (
	"context"
	"time"

	kit "radiobot/internal/transport"
)

// Config controls the deletion subsystem.
type Config struct {
	// SweepInterval is the fixed delay between sweep ticks. Default 30s.
	SweepInterval time.Duration
	// DrainTimeout bounds how long Stop waits for in-flight deletions to
	// finish before abandoning them. Default 10s.
	DrainTimeout time.Duration
	// ExecTimeout bounds one gateway delete call. Default 15s.
	ExecTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 10 * time.Second
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = 15 * time.Second
	}
	return c
}

// Deleter is the gateway capability the executor needs: delete one message.
// Errors are expected to be classified via the transport sentinel errors.
type Deleter interface {
	DeleteMessage(ctx context.Context, ref kit.MessageRef) error
}

// Outcome classifies one deletion attempt.
type Outcome int

const (
	// OutcomeDeleted: the gateway confirmed the delete.
	OutcomeDeleted Outcome = iota
	// OutcomeAlreadyGone: the message no longer existed. The desired end
	// state is reached, so this counts as success.
	OutcomeAlreadyGone
	// OutcomeForbidden: the gateway refused for rights reasons. Retrying
	// cannot help; the entry is dropped.
	OutcomeForbidden
	// OutcomeChatUnavailable: the whole chat is gone. Treated like
	// OutcomeAlreadyGone.
	OutcomeChatUnavailable
	// OutcomeTransient: network trouble, flood limits, server errors. The
	// entry stays in the store and the next sweep retries it.
	OutcomeTransient
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDeleted:
		return "deleted"
	case OutcomeAlreadyGone:
		return "already_gone"
	case OutcomeForbidden:
		return "forbidden"
	case OutcomeChatUnavailable:
		return "chat_unavailable"
	case OutcomeTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// terminal reports whether the schedule entry should be removed.
func (o Outcome) terminal() bool { return o != OutcomeTransient }

// State is the deletion subsystem lifecycle.
//
// Uninitialized → Recovering → Running → (Degraded →) ShuttingDown → Stopped
//
// Degraded is entered only via escalation; the sweep keeps running until
// shutdown catches up, because partial availability beats a silent hang.
type State int32

const (
	StateUninitialized State = iota
	StateRecovering
	StateRunning
	StateDegraded
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRecovering:
		return "recovering"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "invalid"
	}
}
