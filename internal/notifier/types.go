package notifier

import (
	"time"

	kit "radiobot/internal/transport"
)

// Audience selects which configured chat a notification goes to.
type Audience string

const (
	// AudienceOperator is the admin/log chat. Escalations and relay audit
	// copies land here.
	AudienceOperator Audience = "operator"
	// AudiencePublic is the user-facing relay chat. Only generic outage
	// notices are posted here.
	AudiencePublic Audience = "public"
)

// Config controls the async notification pipeline.
type Config struct {
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	OperatorChat kit.ChatTarget
	PublicChat   kit.ChatTarget
}

// Notification is one outbound message.
type Notification struct {
	Audience Audience
	Text     string
	Priority int // 0 low .. 10 high
	Options  *kit.SendOptions
}
