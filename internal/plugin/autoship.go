package plugin

import (
	"context"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
)

// autoShipPlugin sends the listing's delivery text once payment is detected
type autoShipPlugin struct {
	prefix string
}

func (p *autoShipPlugin) Handle(ctx context.Context, bot Bot, message string, cctx domain.ConversationContext, opts Options) (bool, error) {
	if !bot.AutoShipRequired() {
		return false, nil
	}
	listing := bot.Listing()
	if listing == nil || listing.ShipReplyText == "" {
		return false, nil
	}

	if err := bot.SendMessage(ctx, p.prefix+listing.ShipReplyText); err != nil {
		return false, err
	}
	bot.SetAutoShipRequired(false)
	return true, nil
}
