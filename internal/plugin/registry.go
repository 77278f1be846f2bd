// Package plugin implements the prioritized handler chain that decides how
// the assistant answers a buyer message.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
	"github.com/devricklin/xianyu-assistant/internal/metrics"
)

var (
	// ErrUnknownPlugin is returned by Execute for a name nobody registered
	ErrUnknownPlugin = errors.New("unknown plugin")
	// ErrCallDepth is returned by Execute when plugin-to-plugin calls nest too deep
	ErrCallDepth = errors.New("plugin call depth exceeded")
)

// maxCallDepth bounds nested Execute calls within one dispatch
const maxCallDepth = 4

type callDepthKey struct{}

func callDepth(ctx context.Context) int {
	d, _ := ctx.Value(callDepthKey{}).(int)
	return d
}

// Bot is the surface a plugin may act on during one dispatch
type Bot interface {
	SendMessage(ctx context.Context, text string) error
	Notify(ctx context.Context, text, prefix string) bool

	// Listing returns the listing of the open conversation
	Listing() *domain.Listing

	AutoShipRequired() bool
	SetAutoShipRequired(v bool)
	EscalationRequested() bool
	SetEscalationRequested(v bool)
}

// Options are free-form parameters for plugin-to-plugin calls
type Options map[string]string

// Handler handles a buyer message. Returning true claims the message and stops the chain.
type Handler interface {
	Handle(ctx context.Context, bot Bot, message string, cctx domain.ConversationContext, opts Options) (bool, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, bot Bot, message string, cctx domain.ConversationContext, opts Options) (bool, error)

func (f HandlerFunc) Handle(ctx context.Context, bot Bot, message string, cctx domain.ConversationContext, opts Options) (bool, error) {
	return f(ctx, bot, message, cctx, opts)
}

// Descriptor registers a handler under a stable name
type Descriptor struct {
	Name     string  `json:"name"`
	Priority int     `json:"priority"`
	Handler  Handler `json:"-"`
}

// Executor runs a single named plugin
type Executor interface {
	Has(name string) bool
	Execute(ctx context.Context, name string, bot Bot, message string, cctx domain.ConversationContext, opts Options) (bool, error)
}

// Registry holds the registered plugins
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Descriptor
	order   []string // first registration order, for stable listing
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Descriptor)}
}

// Register adds a plugin. A duplicate name replaces the earlier registration.
func (r *Registry) Register(desc Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[desc.Name]; exists {
		log.Warn().Str("component", "plugin").Str("plugin", desc.Name).Msg("plugin re-registered, replacing")
	} else {
		r.order = append(r.order, desc.Name)
	}
	r.plugins[desc.Name] = desc
}

// Descriptors returns registered plugins sorted by priority, highest first
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.plugins[name])
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// resolve maps enabled names to descriptors, keeping enabled order on ties
func (r *Registry) resolve(enabled []string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(enabled))
	chain := make([]Descriptor, 0, len(enabled))
	for _, name := range enabled {
		if seen[name] {
			continue
		}
		seen[name] = true
		desc, ok := r.plugins[name]
		if !ok {
			log.Warn().Str("component", "plugin").Str("plugin", name).Msg("enabled plugin is not registered, skipping")
			continue
		}
		chain = append(chain, desc)
	}

	sort.SliceStable(chain, func(i, j int) bool { return chain[i].Priority > chain[j].Priority })
	return chain
}

// ExecuteChain runs the listing's enabled plugins by descending priority.
// The first handler returning true wins; errors and panics count as false.
func (r *Registry) ExecuteChain(ctx context.Context, bot Bot, message string, cctx domain.ConversationContext) bool {
	for _, desc := range r.resolve(cctx.EnabledPlugins) {
		if ctx.Err() != nil {
			return false
		}
		if r.invoke(ctx, desc, bot, message, cctx, nil) {
			log.Info().Str("component", "plugin").Str("plugin", desc.Name).Str("listing", cctx.ListingID).Msg("message handled")
			return true
		}
	}
	return false
}

// Has reports whether a plugin is registered under name
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.plugins[name]
	return ok
}

// Execute runs one plugin by name, for plugin-to-plugin calls.
// The plugin does not need to be enabled for the listing.
func (r *Registry) Execute(ctx context.Context, name string, bot Bot, message string, cctx domain.ConversationContext, opts Options) (bool, error) {
	r.mu.RLock()
	desc, ok := r.plugins[name]
	r.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}

	depth := callDepth(ctx) + 1
	if depth > maxCallDepth {
		log.Warn().Str("component", "plugin").Str("plugin", name).Int("depth", depth).Msg("plugin call cycle stopped")
		return false, fmt.Errorf("%w: %s", ErrCallDepth, name)
	}
	return r.invoke(context.WithValue(ctx, callDepthKey{}, depth), desc, bot, message, cctx, opts), nil
}

func (r *Registry) invoke(ctx context.Context, desc Descriptor, bot Bot, message string, cctx domain.ConversationContext, opts Options) (handled bool) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("component", "plugin").Str("plugin", desc.Name).Interface("panic", rec).Msg("plugin panicked")
			metrics.PluginInvocations.WithLabelValues(desc.Name, "panic").Inc()
			handled = false
		}
	}()

	ok, err := desc.Handler.Handle(ctx, bot, message, cctx, opts)
	if err != nil {
		log.Error().Err(err).Str("component", "plugin").Str("plugin", desc.Name).Msg("plugin failed")
		metrics.PluginInvocations.WithLabelValues(desc.Name, "error").Inc()
		return false
	}
	if ok {
		metrics.PluginInvocations.WithLabelValues(desc.Name, "handled").Inc()
	} else {
		metrics.PluginInvocations.WithLabelValues(desc.Name, "passed").Inc()
	}
	return ok
}
