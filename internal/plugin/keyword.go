package plugin

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
)

// keywordPlugin answers canned responses and routes keywords to other plugins
type keywordPlugin struct {
	rules []domain.KeywordRule
	exec  Executor
}

func (p *keywordPlugin) Handle(ctx context.Context, bot Bot, message string, cctx domain.ConversationContext, opts Options) (bool, error) {
	for i := range p.rules {
		rule := &p.rules[i]
		if !rule.Matches(message) {
			continue
		}
		logger := log.With().Str("component", "plugin").Str("plugin", NameKeyword).Strs("keywords", rule.Keywords).Logger()
		logger.Info().Msg("keyword matched")

		// resolve the routed plugin first so a bad target never follows a sent response
		target, input, params := p.route(rule, message)
		if target != "" && !p.exec.Has(target) {
			logger.Warn().Str("target", target).Msg("routed plugin is not registered, using response only")
			target = ""
		}
		if target == "" && rule.Response == "" {
			continue
		}

		if rule.Response != "" {
			if err := bot.SendMessage(ctx, rule.Response); err != nil {
				return false, err
			}
		}
		if target == "" {
			return true, nil
		}

		if _, err := p.exec.Execute(ctx, target, bot, input, cctx, params); err != nil {
			if rule.Response != "" {
				logger.Error().Err(err).Str("target", target).Msg("routed plugin failed after response")
				return true, nil
			}
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// route returns the plugin a rule hands over to, or "" for a response-only rule
func (p *keywordPlugin) route(rule *domain.KeywordRule, message string) (string, string, Options) {
	switch rule.Action {
	case domain.ActionSearchResource:
		if rule.Query != "" {
			return NameResourceSearch, rule.Query, Options{"query": rule.Query}
		}
	case domain.ActionCustomPlugin:
		if rule.PluginName == NameKeyword {
			log.Warn().Str("component", "plugin").Str("plugin", NameKeyword).Msg("keyword rule routes to itself, ignoring target")
			return "", "", nil
		}
		if rule.PluginName != "" {
			return rule.PluginName, message, Options(rule.PluginParams)
		}
	}
	return "", "", nil
}
