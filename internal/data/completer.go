package data

import (
	"context"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
	"github.com/devricklin/xianyu-assistant/internal/biz/repo"
	"github.com/devricklin/xianyu-assistant/internal/infra/llm"
)

// completerRepo adapts the LLM client to repo.Completer
type completerRepo struct {
	client *llm.Client
}

// NewCompleterRepo creates a Completer; nil client means AI replies are disabled
func NewCompleterRepo(client *llm.Client) repo.Completer {
	if client == nil {
		return nil
	}
	return &completerRepo{client: client}
}

// Complete asks the model for the seller reply
func (r *completerRepo) Complete(ctx context.Context, systemPrompt string, history []domain.Message) (string, error) {
	msgs := make([]llm.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return r.client.Chat(ctx, systemPrompt, msgs)
}
