package repo

import (
	"context"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
)

// Completer is the large-language-model collaborator
type Completer interface {
	// Complete returns the assistant reply for a system prompt plus chat history
	Complete(ctx context.Context, systemPrompt string, history []domain.Message) (string, error)
}

// Notifier delivers operator notices (chat-ops webhooks, push services).
// Returns true when at least one channel accepted the notice.
type Notifier interface {
	Notify(ctx context.Context, text, prefix string) bool
}
