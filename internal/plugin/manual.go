package plugin

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
)

// manualServicePlugin hands the buyer over to a human operator
type manualServicePlugin struct {
	keyword string
	reply   string
	notice  func(user string) string
}

func (p *manualServicePlugin) Handle(ctx context.Context, bot Bot, message string, cctx domain.ConversationContext, opts Options) (bool, error) {
	requested := bot.EscalationRequested() || (p.keyword != "" && strings.Contains(message, p.keyword))
	if !requested {
		return false, nil
	}

	if err := bot.SendMessage(ctx, p.reply); err != nil {
		return false, err
	}
	bot.SetEscalationRequested(false)

	text := p.notice(cctx.UserName)
	nctx := context.WithoutCancel(ctx)
	go func() {
		if !bot.Notify(nctx, text, "") {
			log.Warn().Str("component", "plugin").Str("plugin", NameManualService).Msg("escalation notice not delivered")
		}
	}()
	return true, nil
}
