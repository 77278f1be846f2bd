package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
	"github.com/devricklin/xianyu-assistant/internal/biz/repo"
	"github.com/devricklin/xianyu-assistant/internal/biz/usecase"
	"github.com/devricklin/xianyu-assistant/internal/metrics"
	"github.com/devricklin/xianyu-assistant/internal/plugin"
)

// ErrBusy is returned by Tick while a previous tick is still running
var ErrBusy = errors.New("bot busy")

// State is the conversation processing state
type State int

const (
	StateIdle State = iota
	StateExtracting
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExtracting:
		return "extracting"
	case StateDispatching:
		return "dispatching"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome describes how a tick ended; also the ticks metric label
type Outcome string

const (
	OutcomeDispatched    Outcome = "dispatched"
	OutcomeBusy          Outcome = "busy"
	OutcomeNoMessages    Outcome = "no_messages"
	OutcomeNoUser        Outcome = "no_user"
	OutcomeNoListing     Outcome = "no_listing"
	OutcomeNoDescription Outcome = "no_description"
	OutcomeNotBuyer      Outcome = "not_buyer"
	OutcomeError         Outcome = "error"
)

// Default loop settings
const (
	DefaultPollInterval     = 3 * time.Second
	DefaultListingWait      = 5 * time.Second
	DefaultRefreshInterval  = 12 * time.Hour
	DefaultMessageWait      = 10 * time.Second
	DefaultBadgeSettle      = 2 * time.Second
	DefaultShipPrefix       = "【自动发货】: \n"
	DefaultEscalationReply  = "已为您通知人工客服，请稍等..."
	DefaultMessageListQuery = `[class^="ant-dropdown-trigger"]`
)

// ChainExecutor runs the plugin chain for one buyer message
type ChainExecutor interface {
	ExecuteChain(ctx context.Context, bot plugin.Bot, message string, cctx domain.ConversationContext) bool
}

// BotConfig contains the conversation loop settings
type BotConfig struct {
	PollInterval    time.Duration
	ListingWait     time.Duration
	RefreshInterval time.Duration // 0 disables page refresh
	MessageWait     time.Duration
	BadgeSettle     time.Duration

	// MessageListSelector marks a loaded conversation
	MessageListSelector string

	ShipPrefix       string
	EscalationReply  string
	EscalationNotice func(user string) string
}

func (c *BotConfig) fillDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ListingWait <= 0 {
		c.ListingWait = DefaultListingWait
	}
	if c.MessageWait <= 0 {
		c.MessageWait = DefaultMessageWait
	}
	if c.BadgeSettle <= 0 {
		c.BadgeSettle = DefaultBadgeSettle
	}
	if c.MessageListSelector == "" {
		c.MessageListSelector = DefaultMessageListQuery
	}
	if c.ShipPrefix == "" {
		c.ShipPrefix = DefaultShipPrefix
	}
	if c.EscalationReply == "" {
		c.EscalationReply = DefaultEscalationReply
	}
	if c.EscalationNotice == nil {
		c.EscalationNotice = func(user string) string {
			return fmt.Sprintf("客户：%s:需要转人工", user)
		}
	}
}

// BotService is the single-flight conversation state machine.
// It implements plugin.Bot for the duration of a dispatch.
type BotService struct {
	browser   repo.Browser
	contextUC *usecase.ContextBuilderUsecase
	chain     ChainExecutor
	notifier  repo.Notifier
	cfg       BotConfig

	mu    sync.Mutex
	state State

	// dispatch state, guarded by mu
	listing    *domain.Listing
	autoShip   bool
	escalation bool

	listingMu    sync.Mutex
	listingID    string
	listingReady chan struct{}
}

// NewBotService creates the conversation state machine
func NewBotService(
	browser repo.Browser,
	contextUC *usecase.ContextBuilderUsecase,
	chain ChainExecutor,
	notifier repo.Notifier,
	cfg BotConfig,
) *BotService {
	cfg.fillDefaults()
	return &BotService{
		browser:      browser,
		contextUC:    contextUC,
		chain:        chain,
		notifier:     notifier,
		cfg:          cfg,
		listingReady: make(chan struct{}),
	}
}

// State returns the current state
func (b *BotService) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// OnListingDetected records the listing of the open conversation.
// Called asynchronously by the page observer.
func (b *BotService) OnListingDetected(listingID string) {
	b.listingMu.Lock()
	defer b.listingMu.Unlock()
	b.listingID = listingID
	select {
	case <-b.listingReady:
	default:
		close(b.listingReady)
	}
}

// waitListing blocks until a listing was detected, bounded by ListingWait
func (b *BotService) waitListing(ctx context.Context) (string, bool) {
	timer := time.NewTimer(b.cfg.ListingWait)
	defer timer.Stop()

	select {
	case <-b.listingReady:
	case <-timer.C:
		return "", false
	case <-ctx.Done():
		return "", false
	}

	b.listingMu.Lock()
	defer b.listingMu.Unlock()
	return b.listingID, b.listingID != ""
}

// Tick processes the open conversation once. A tick that finds the machine
// busy returns ErrBusy without touching the page.
func (b *BotService) Tick(ctx context.Context) (Outcome, error) {
	b.mu.Lock()
	if b.state != StateIdle {
		b.mu.Unlock()
		metrics.Ticks.WithLabelValues(string(OutcomeBusy)).Inc()
		return OutcomeBusy, ErrBusy
	}
	b.state = StateExtracting
	b.mu.Unlock()
	defer b.reset()

	logger := log.With().Str("component", "bot").Str("tick", uuid.NewString()).Logger()

	outcome, err := b.process(ctx, &logger)
	metrics.Ticks.WithLabelValues(string(outcome)).Inc()
	if err != nil {
		logger.Error().Err(err).Str("outcome", string(outcome)).Msg("Tick failed")
	} else {
		logger.Debug().Str("outcome", string(outcome)).Msg("Tick finished")
	}
	return outcome, err
}

// reset returns to Idle and forgets the dispatch state
func (b *BotService) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateIdle
	b.listing = nil
	b.autoShip = false
	b.escalation = false
}

func (b *BotService) process(ctx context.Context, logger *zerolog.Logger) (Outcome, error) {
	loaded, err := b.browser.WaitForElement(ctx, b.cfg.MessageListSelector, b.cfg.MessageWait)
	if err != nil {
		return OutcomeError, fmt.Errorf("wait for messages: %w", err)
	}
	if !loaded {
		return OutcomeNoMessages, nil
	}

	userName, err := b.browser.CurrentUserName(ctx)
	if err != nil {
		return OutcomeError, fmt.Errorf("read user name: %w", err)
	}
	if userName == "" {
		return OutcomeNoUser, nil
	}

	listingID, ok := b.waitListing(ctx)
	if !ok {
		logger.Warn().Str("user", userName).Msg("Listing not resolved in time, skipping")
		return OutcomeNoListing, nil
	}

	listing, err := b.contextUC.LoadListing(ctx, listingID)
	if err != nil {
		return OutcomeError, err
	}
	if !listing.Ready() {
		logger.Info().Str("listing", listingID).Msg("Listing has no description, skipping")
		return OutcomeNoDescription, nil
	}

	rows, err := b.browser.ExtractMessages(ctx)
	if err != nil {
		return OutcomeError, fmt.Errorf("extract messages: %w", err)
	}
	cctx := b.contextUC.BuildConversation(listing, userName, rows)

	last := domain.LastMessage(rows)
	if last == nil || !last.IsFromBuyer() {
		// a payment card can arrive after the seller's last reply
		if cctx.IsPaidUnshipped {
			b.mu.Lock()
			b.state = StateDispatching
			b.listing = listing
			b.autoShip = true
			b.mu.Unlock()
			b.shipFallback(ctx, logger, listing)
		}
		return OutcomeNotBuyer, nil
	}

	b.mu.Lock()
	b.state = StateDispatching
	b.listing = listing
	b.autoShip = cctx.IsPaidUnshipped
	b.escalation = cctx.EscalationRequested
	b.mu.Unlock()

	logger.Info().
		Str("listing", listingID).
		Str("user", userName).
		Str("message", last.Content).
		Bool("paid_unshipped", cctx.IsPaidUnshipped).
		Bool("escalation", cctx.EscalationRequested).
		Msg("Dispatching buyer message")

	if !b.chain.ExecuteChain(ctx, b, last.Content, cctx) {
		logger.Debug().Str("listing", listingID).Msg("No plugin claimed the message")
	}
	b.fallback(ctx, logger, listing, userName)
	return OutcomeDispatched, nil
}

// fallback acts on flags still set after the chain. Plugins that handled
// shipping or escalation clear the flag; claiming the message does not.
func (b *BotService) fallback(ctx context.Context, logger *zerolog.Logger, listing *domain.Listing, userName string) {
	b.shipFallback(ctx, logger, listing)

	if b.EscalationRequested() {
		if err := b.SendMessage(ctx, b.cfg.EscalationReply); err != nil {
			logger.Error().Err(err).Msg("Failed to send escalation reply")
		}
		notice := b.cfg.EscalationNotice(userName)
		go b.Notify(context.WithoutCancel(ctx), notice, "")
		b.SetEscalationRequested(false)
	}
}

func (b *BotService) shipFallback(ctx context.Context, logger *zerolog.Logger, listing *domain.Listing) {
	if !b.AutoShipRequired() {
		return
	}
	if listing.ShipReplyText == "" {
		logger.Warn().Str("listing", listing.ListingID).Msg("Paid order but no ship reply configured")
	} else if err := b.SendMessage(ctx, b.cfg.ShipPrefix+listing.ShipReplyText); err != nil {
		logger.Error().Err(err).Msg("Failed to send ship reply")
	}
	b.SetAutoShipRequired(false)
}

// SendMessage replies in the open conversation
func (b *BotService) SendMessage(ctx context.Context, text string) error {
	return b.browser.SendMessage(ctx, text)
}

// Notify forwards an operator notice; false without a notifier
func (b *BotService) Notify(ctx context.Context, text, prefix string) bool {
	if b.notifier == nil {
		return false
	}
	return b.notifier.Notify(ctx, text, prefix)
}

// Listing returns the listing being dispatched
func (b *BotService) Listing() *domain.Listing {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listing
}

func (b *BotService) AutoShipRequired() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.autoShip
}

func (b *BotService) SetAutoShipRequired(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.autoShip = v
}

func (b *BotService) EscalationRequested() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.escalation
}

func (b *BotService) SetEscalationRequested(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.escalation = v
}

// Run polls the page until ctx is done
func (b *BotService) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	lastRefresh := time.Now()
	log.Info().Str("component", "bot").Dur("interval", b.cfg.PollInterval).Msg("Bot loop started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("component", "bot").Msg("Bot loop stopped")
			return ctx.Err()
		case <-ticker.C:
		}

		if b.cfg.RefreshInterval > 0 && time.Since(lastRefresh) >= b.cfg.RefreshInterval {
			log.Info().Str("component", "bot").Msg("Refreshing page")
			if err := b.browser.Reload(ctx); err != nil {
				log.Error().Str("component", "bot").Err(err).Msg("Page refresh failed")
			}
			lastRefresh = time.Now()
			continue
		}

		b.Poll(ctx)
	}
}

// Poll runs one loop iteration: tick the open conversation, and look for
// unread badges when nothing was dispatched.
func (b *BotService) Poll(ctx context.Context) {
	open, err := b.browser.ConversationOpen(ctx)
	if err != nil {
		log.Error().Str("component", "bot").Err(err).Msg("Failed to inspect page")
		return
	}

	if open {
		outcome, err := b.Tick(ctx)
		if errors.Is(err, ErrBusy) || outcome == OutcomeDispatched {
			return
		}
	}

	clicked, err := b.browser.OpenUnreadConversation(ctx)
	if err != nil {
		log.Error().Str("component", "bot").Err(err).Msg("Failed to check unread badge")
		return
	}
	if !clicked {
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(b.cfg.BadgeSettle):
	}
	b.Tick(ctx)
}
