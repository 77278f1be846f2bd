package plugin

import (
	"context"
	"fmt"
	"strings"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
	"github.com/devricklin/xianyu-assistant/internal/biz/repo"
	"github.com/devricklin/xianyu-assistant/internal/biz/usecase"
)

// aiReplyPlugin answers with the LLM in the seller persona. Lowest priority.
type aiReplyPlugin struct {
	completer  repo.Completer
	prompt     func(*domain.Listing) string
	maxHistory int
}

func (p *aiReplyPlugin) Handle(ctx context.Context, bot Bot, message string, cctx domain.ConversationContext, opts Options) (bool, error) {
	if bot.AutoShipRequired() {
		return false, nil
	}
	listing := bot.Listing()
	if listing == nil {
		return false, nil
	}

	history := usecase.TruncateHistory(cctx.History(), p.maxHistory)
	reply, err := p.completer.Complete(ctx, p.prompt(listing), history)
	if err != nil {
		return false, fmt.Errorf("complete: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return false, nil
	}

	if err := bot.SendMessage(ctx, reply); err != nil {
		return false, err
	}
	return true, nil
}
