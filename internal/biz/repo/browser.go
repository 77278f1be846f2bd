package repo

import (
	"context"
	"time"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
)

// Browser is the marketplace page automation collaborator.
// Implementations are best-effort: UI automation never guarantees delivery.
type Browser interface {
	// ExtractMessages returns the visible conversation, oldest first
	ExtractMessages(ctx context.Context) ([]domain.Message, error)

	// SendMessage types text into the reply box and submits it
	SendMessage(ctx context.Context, text string) error

	// WaitForElement reports whether selector appears within timeout
	WaitForElement(ctx context.Context, selector string, timeout time.Duration) (bool, error)

	// CurrentUserName returns the buyer name of the open conversation
	CurrentUserName(ctx context.Context) (string, error)

	// ConversationOpen reports whether a conversation pane is open
	ConversationOpen(ctx context.Context) (bool, error)

	// OpenUnreadConversation clicks the first unread badge, if any
	OpenUnreadConversation(ctx context.Context) (bool, error)

	// Reload refreshes the page
	Reload(ctx context.Context) error
}
