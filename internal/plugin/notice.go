package plugin

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
)

// noticePlugin forwards every buyer message to the operator and never claims it
type noticePlugin struct {
	render func(user, message string) string
	prefix string
}

func (p *noticePlugin) Handle(ctx context.Context, bot Bot, message string, cctx domain.ConversationContext, opts Options) (bool, error) {
	text := p.render(cctx.UserName, message)
	nctx := context.WithoutCancel(ctx)
	go func() {
		if !bot.Notify(nctx, text, p.prefix) {
			log.Debug().Str("component", "plugin").Str("plugin", NameNotice).Msg("forward notice not delivered")
		}
	}()
	return false, nil
}
