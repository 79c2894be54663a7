package transport

import (
	"context"
	"errors"
)

// Sentinel errors used to classify gateway failures. Adapters map their
// platform-specific errors onto these so callers never see transport details.
var (
	// ErrNotFound: the target message no longer exists.
	ErrNotFound = errors.New("message not found")
	// ErrForbidden: the gateway rejected the operation for rights reasons;
	// retrying will not help.
	ErrForbidden = errors.New("operation forbidden")
	// ErrChatUnavailable: the containing chat is gone or inaccessible.
	ErrChatUnavailable = errors.New("chat unavailable")
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Adapter is the chat-gateway surface consumed by the core. The core never
// depends on the transport behind it.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	// SendText posts text to a chat, splitting it into several messages when
	// the gateway's length limit requires it. One MessageRef is returned per
	// message actually sent; on error the refs sent so far are still returned
	// so callers can account for every visible message.
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) ([]MessageRef, error)

	// DeleteMessage removes a message. Failures are classified via the
	// sentinel errors above (ErrNotFound, ErrForbidden, ErrChatUnavailable);
	// any other error should be treated as transient.
	DeleteMessage(ctx context.Context, ref MessageRef) error
}
