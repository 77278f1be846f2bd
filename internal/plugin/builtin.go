package plugin

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
	"github.com/devricklin/xianyu-assistant/internal/biz/repo"
	"github.com/devricklin/xianyu-assistant/internal/conf"
)

// Builtin plugin names
const (
	NameAutoShip       = "auto_ship"
	NameManualService  = "manual_service"
	NameResourceSearch = "resource_search"
	NameKeyword        = "keyword"
	NameNotice         = "notice"
	NameAIReply        = "ai_reply"
)

// Searcher is the resource search backing resource_search
type Searcher interface {
	SearchAndStore(ctx context.Context, keyword string, limit int) ([]domain.SearchResult, error)
	FormatReply(results []domain.SearchResult, keyword string) string
}

// Deps carries what the builtin plugins need.
// A nil Searcher or Completer leaves that plugin unregistered.
type Deps struct {
	Config            *conf.PluginsConfig
	EscalationKeyword string
	Searcher          Searcher
	SearchLimit       int
	Completer         repo.Completer
	MaxHistory        int
}

// RegisterBuiltins registers the builtin plugins with their configured priorities
func RegisterBuiltins(r *Registry, deps Deps) {
	cfg := deps.Config
	if cfg == nil {
		cfg = conf.DefaultPluginsConfig()
	}

	register := func(name string, h Handler) {
		r.Register(Descriptor{Name: name, Priority: cfg.Priority(name), Handler: h})
	}

	register(NameAutoShip, &autoShipPlugin{prefix: cfg.AutoShip.Prefix})
	register(NameManualService, &manualServicePlugin{
		keyword: deps.EscalationKeyword,
		reply:   cfg.ManualService.Reply,
		notice:  cfg.EscalationNotice,
	})
	register(NameKeyword, &keywordPlugin{rules: cfg.KeywordRules, exec: r})
	register(NameNotice, &noticePlugin{render: cfg.ForwardNotice, prefix: cfg.Notice.Prefix})

	if deps.Searcher != nil {
		register(NameResourceSearch, &resourceSearchPlugin{
			searcher:  deps.Searcher,
			limit:     deps.SearchLimit,
			pending:   cfg.Search.PendingText,
			errorText: cfg.Search.ErrorText,
		})
	} else {
		log.Warn().Str("component", "plugin").Msg("resource search unavailable, resource_search not registered")
	}

	if deps.Completer != nil {
		register(NameAIReply, &aiReplyPlugin{
			completer:  deps.Completer,
			prompt:     cfg.BuildSystemPrompt,
			maxHistory: deps.MaxHistory,
		})
	} else {
		log.Warn().Str("component", "plugin").Msg("no LLM configured, ai_reply not registered")
	}
}
