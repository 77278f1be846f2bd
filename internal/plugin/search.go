package plugin

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
	"github.com/devricklin/xianyu-assistant/internal/biz/usecase"
)

// resourceSearchPlugin answers "搜XXX" with transferred drive links.
// opts["query"] bypasses the command prefix for plugin-to-plugin calls.
type resourceSearchPlugin struct {
	searcher  Searcher
	limit     int
	pending   string
	errorText string
}

func (p *resourceSearchPlugin) Handle(ctx context.Context, bot Bot, message string, cctx domain.ConversationContext, opts Options) (bool, error) {
	keyword := opts["query"]
	if keyword == "" {
		kw, ok := usecase.ParseSearchCommand(message)
		if !ok {
			return false, nil
		}
		keyword = kw
	}

	if err := bot.SendMessage(ctx, p.pending); err != nil {
		return false, err
	}

	results, err := p.searcher.SearchAndStore(ctx, keyword, p.limit)
	if err != nil {
		log.Error().Err(err).Str("component", "plugin").Str("plugin", NameResourceSearch).Str("keyword", keyword).Msg("resource search failed")
		if sendErr := bot.SendMessage(ctx, p.errorText); sendErr != nil {
			return false, sendErr
		}
		return true, nil
	}

	if err := bot.SendMessage(ctx, p.searcher.FormatReply(results, keyword)); err != nil {
		return false, err
	}
	return true, nil
}
