package telegram

import (
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "radiobot/internal/transport"
)

// classify maps a telebot error onto the transport sentinel errors so callers
// can branch without knowing Telegram's error strings.
//
// Matching is done on the Bot API code plus description substrings rather than
// telebot's exported error variables: the Bot API wording shows up in several
// variants ("message to delete not found" vs "message can't be deleted for
// everyone") and substring matching survives them all.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var te *tele.Error
	if !errors.As(err, &te) {
		// Network/timeout errors from the HTTP client: retryable.
		return err
	}

	desc := strings.ToLower(te.Description)
	switch {
	case te.Code == 401, te.Code == 403:
		return fmt.Errorf("%w: %s", kit.ErrForbidden, te.Description)
	case te.Code == 400 && strings.Contains(desc, "chat not found"):
		return fmt.Errorf("%w: %s", kit.ErrChatUnavailable, te.Description)
	case te.Code == 400 && strings.Contains(desc, "group chat was upgraded"):
		return fmt.Errorf("%w: %s", kit.ErrChatUnavailable, te.Description)
	case te.Code == 400 && strings.Contains(desc, "not found"):
		// "message to delete not found", "message not found"
		return fmt.Errorf("%w: %s", kit.ErrNotFound, te.Description)
	case te.Code == 400 && strings.Contains(desc, "can't be deleted"):
		return fmt.Errorf("%w: %s", kit.ErrForbidden, te.Description)
	case te.Code == 400 && strings.Contains(desc, "not enough rights"):
		return fmt.Errorf("%w: %s", kit.ErrForbidden, te.Description)
	default:
		// Includes 429 (flood wait) and 5xx: retryable.
		return err
	}
}
