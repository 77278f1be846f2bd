package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
	"github.com/devricklin/xianyu-assistant/internal/biz/usecase"
	"github.com/devricklin/xianyu-assistant/internal/plugin"
)

// Mock implementations

type mockBrowser struct {
	mu       sync.Mutex
	calls    []string
	sent     []string
	loaded   bool
	userName string
	rows     []domain.Message
	open     bool
	badge    bool
	waitErr  error
}

func (m *mockBrowser) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockBrowser) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockBrowser) sentMessages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

func (m *mockBrowser) ExtractMessages(ctx context.Context) ([]domain.Message, error) {
	m.record("extract")
	return m.rows, nil
}

func (m *mockBrowser) SendMessage(ctx context.Context, text string) error {
	m.record("send")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, text)
	return nil
}

func (m *mockBrowser) WaitForElement(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	m.record("wait")
	return m.loaded, m.waitErr
}

func (m *mockBrowser) CurrentUserName(ctx context.Context) (string, error) {
	m.record("user")
	return m.userName, nil
}

func (m *mockBrowser) ConversationOpen(ctx context.Context) (bool, error) {
	m.record("open")
	return m.open, nil
}

func (m *mockBrowser) OpenUnreadConversation(ctx context.Context) (bool, error) {
	m.record("badge")
	m.mu.Lock()
	defer m.mu.Unlock()
	clicked := m.badge
	if clicked {
		m.badge = false
		m.open = true
	}
	return clicked, nil
}

func (m *mockBrowser) Reload(ctx context.Context) error {
	m.record("reload")
	return nil
}

type mockListingRepo struct {
	mu       sync.Mutex
	listings map[string]*domain.Listing
}

func (m *mockListingRepo) Get(ctx context.Context, id string) (*domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listings[id], nil
}

func (m *mockListingRepo) EnsureDefault(ctx context.Context, id string) (*domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.listings[id]; ok {
		return l, nil
	}
	l := domain.NewDefaultListing(id)
	m.listings[id] = l
	return l, nil
}

func (m *mockListingRepo) UpsertScraped(ctx context.Context, l *domain.Listing) error { return nil }
func (m *mockListingRepo) Save(ctx context.Context, l *domain.Listing) error { return nil }
func (m *mockListingRepo) List(ctx context.Context) ([]*domain.Listing, error) { return nil, nil }

type chainCall struct {
	message string
	cctx    domain.ConversationContext
}

type mockChain struct {
	mu      sync.Mutex
	calls   []chainCall
	handled bool
	// act runs inside the chain with the bot, like a plugin would
	act func(bot plugin.Bot)
}

func (m *mockChain) ExecuteChain(ctx context.Context, bot plugin.Bot, message string, cctx domain.ConversationContext) bool {
	m.mu.Lock()
	m.calls = append(m.calls, chainCall{message: message, cctx: cctx})
	act := m.act
	m.mu.Unlock()
	if act != nil {
		act(bot)
	}
	return m.handled
}

func (m *mockChain) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockNotifier struct {
	notices chan string
}

func (m *mockNotifier) Notify(ctx context.Context, text, prefix string) bool {
	m.notices <- text
	return true
}

type fixture struct {
	browser  *mockBrowser
	listings *mockListingRepo
	chain    *mockChain
	notifier *mockNotifier
	bot      *BotService
}

func newFixture(rows ...domain.Message) *fixture {
	f := &fixture{
		browser: &mockBrowser{loaded: true, userName: "小明", rows: rows, open: true},
		listings: &mockListingRepo{listings: map[string]*domain.Listing{
			"100": {
				ListingID:      "100",
				Title:          "键盘",
				Price:          "88",
				Description:    "九成新",
				ShipReplyText:  "卡密: ABC",
				EnabledPlugins: []string{"keyword", "auto_ship"},
			},
		}},
		chain:    &mockChain{},
		notifier: &mockNotifier{notices: make(chan string, 10)},
	}
	contextUC := usecase.NewContextBuilderUsecase(f.listings, domain.DefaultDetectionConfig())
	f.bot = NewBotService(f.browser, contextUC, f.chain, f.notifier, BotConfig{
		ListingWait: 50 * time.Millisecond,
		BadgeSettle: time.Millisecond,
	})
	return f
}

func buyer(text string) domain.Message { return domain.Message{Role: domain.RoleUser, Content: text} }
func seller(text string) domain.Message { return domain.Message{Role: domain.RoleAssistant, Content: text} }

func TestTickDispatchesLastBuyerMessage(t *testing.T) {
	f := newFixture(buyer("你好"), seller("在的"), buyer("还有货吗"))
	f.bot.OnListingDetected("100")
	f.chain.handled = true

	outcome, err := f.bot.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if outcome != OutcomeDispatched {
		t.Errorf("Expected dispatched, got %s", outcome)
	}
	if f.chain.callCount() != 1 {
		t.Fatalf("Expected 1 chain call, got %d", f.chain.callCount())
	}

	call := f.chain.calls[0]
	if call.message != "还有货吗" {
		t.Errorf("Expected last buyer message, got %q", call.message)
	}
	if call.cctx.ListingID != "100" || call.cctx.UserName != "小明" {
		t.Errorf("Unexpected context identity: %+v", call.cctx)
	}
	if len(call.cctx.EnabledPlugins) != 2 {
		t.Errorf("Expected listing plugins, got %v", call.cctx.EnabledPlugins)
	}
	if f.bot.State() != StateIdle {
		t.Errorf("Expected idle after tick, got %s", f.bot.State())
	}
	if f.bot.Listing() != nil {
		t.Error("Expected dispatch state cleared after tick")
	}
}

func TestTickBusyHasNoSideEffects(t *testing.T) {
	f := newFixture(buyer("在吗"))
	f.bot.OnListingDetected("100")

	entered := make(chan struct{})
	release := make(chan struct{})
	f.chain.act = func(bot plugin.Bot) {
		close(entered)
		<-release
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.bot.Tick(context.Background())
	}()
	<-entered

	if f.bot.State() != StateDispatching {
		t.Errorf("Expected dispatching, got %s", f.bot.State())
	}
	before := f.browser.callCount()

	outcome, err := f.bot.Tick(context.Background())
	if !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy, got %v", err)
	}
	if outcome != OutcomeBusy {
		t.Errorf("Expected busy outcome, got %s", outcome)
	}
	if after := f.browser.callCount(); after != before {
		t.Errorf("Expected no browser calls from busy tick, got %d new", after-before)
	}

	close(release)
	<-done

	if f.chain.callCount() != 1 {
		t.Errorf("Expected busy tick not to queue work, got %d chain calls", f.chain.callCount())
	}
	if f.bot.State() != StateIdle {
		t.Errorf("Expected idle, got %s", f.bot.State())
	}
}

func TestTickWithoutListingTimesOut(t *testing.T) {
	f := newFixture(buyer("在吗"))

	start := time.Now()
	outcome, err := f.bot.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if outcome != OutcomeNoListing {
		t.Errorf("Expected no_listing, got %s", outcome)
	}
	if time.Since(start) > time.Second {
		t.Error("Expected bounded listing wait")
	}
	if f.chain.callCount() != 0 {
		t.Error("Expected no dispatch")
	}
}

func TestTickEarlyExits(t *testing.T) {
	t.Run("messages not loaded", func(t *testing.T) {
		f := newFixture(buyer("在吗"))
		f.browser.loaded = false
		f.bot.OnListingDetected("100")

		outcome, _ := f.bot.Tick(context.Background())
		if outcome != OutcomeNoMessages {
			t.Errorf("Expected no_messages, got %s", outcome)
		}
		if f.browser.callCount() != 1 {
			t.Errorf("Expected only the wait call, got %v", f.browser.calls)
		}
	})

	t.Run("no user", func(t *testing.T) {
		f := newFixture(buyer("在吗"))
		f.browser.userName = ""
		f.bot.OnListingDetected("100")

		if outcome, _ := f.bot.Tick(context.Background()); outcome != OutcomeNoUser {
			t.Errorf("Expected no_user, got %s", outcome)
		}
	})

	t.Run("no description", func(t *testing.T) {
		f := newFixture(buyer("在吗"))
		f.listings.listings["100"].Description = ""
		f.bot.OnListingDetected("100")

		if outcome, _ := f.bot.Tick(context.Background()); outcome != OutcomeNoDescription {
			t.Errorf("Expected no_description, got %s", outcome)
		}
	})

	t.Run("last message from seller", func(t *testing.T) {
		f := newFixture(buyer("在吗"), seller("在的"))
		f.bot.OnListingDetected("100")

		if outcome, _ := f.bot.Tick(context.Background()); outcome != OutcomeNotBuyer {
			t.Errorf("Expected not_buyer, got %s", outcome)
		}
		if f.chain.callCount() != 0 {
			t.Error("Expected no dispatch")
		}
	})

	t.Run("wait error", func(t *testing.T) {
		f := newFixture(buyer("在吗"))
		f.browser.waitErr = errors.New("target closed")

		outcome, err := f.bot.Tick(context.Background())
		if err == nil || outcome != OutcomeError {
			t.Errorf("Expected error outcome, got %s / %v", outcome, err)
		}
		if f.bot.State() != StateIdle {
			t.Error("Expected idle after failed tick")
		}
	})
}

func TestTickFallbackWhenUnclaimed(t *testing.T) {
	f := newFixture(
		domain.Message{Role: domain.RoleUser, Content: "我已付款，等待你发货", Card: true},
		buyer("请转人工"),
	)
	f.bot.OnListingDetected("100")

	if _, err := f.bot.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	sent := f.browser.sentMessages()
	if len(sent) != 2 {
		t.Fatalf("Expected ship and escalation replies, got %v", sent)
	}
	if sent[0] != "【自动发货】: \n卡密: ABC" {
		t.Errorf("Unexpected ship reply %q", sent[0])
	}
	if sent[1] != DefaultEscalationReply {
		t.Errorf("Unexpected escalation reply %q", sent[1])
	}

	select {
	case notice := <-f.notifier.notices:
		if notice != "客户：小明:需要转人工" {
			t.Errorf("Unexpected notice %q", notice)
		}
	case <-time.After(time.Second):
		t.Error("Expected escalation notice")
	}
}

func TestTickShipsWhenChainClaimsMessage(t *testing.T) {
	f := newFixture(
		domain.Message{Role: domain.RoleUser, Content: "我已付款，等待你发货", Card: true},
		buyer("发货呀"),
	)
	f.bot.OnListingDetected("100")
	f.chain.handled = true

	f.bot.Tick(context.Background())

	sent := f.browser.sentMessages()
	if len(sent) != 1 || sent[0] != "【自动发货】: \n卡密: ABC" {
		t.Errorf("Expected ship reply despite claimed message, got %v", sent)
	}
}

func TestTickShipsPaidOrderAfterSellerReply(t *testing.T) {
	f := newFixture(
		buyer("在吗"),
		seller("在的"),
		domain.Message{Role: domain.RoleUser, Content: "我已付款，等待你发货", Card: true},
	)
	f.bot.OnListingDetected("100")

	outcome, err := f.bot.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if outcome != OutcomeNotBuyer {
		t.Errorf("Expected not_buyer, got %s", outcome)
	}
	if f.chain.callCount() != 0 {
		t.Errorf("Expected no chain dispatch, got %d", f.chain.callCount())
	}
	sent := f.browser.sentMessages()
	if len(sent) != 1 || sent[0] != "【自动发货】: \n卡密: ABC" {
		t.Errorf("Expected ship reply, got %v", sent)
	}
	if f.bot.AutoShipRequired() {
		t.Error("Expected auto-ship flag cleared after tick")
	}
}

func TestTickFallbackHonoursClearedFlags(t *testing.T) {
	f := newFixture(
		domain.Message{Role: domain.RoleUser, Content: "我已付款，等待你发货", Card: true},
		buyer("好的"),
	)
	f.bot.OnListingDetected("100")

	var sawFlag bool
	f.chain.act = func(bot plugin.Bot) {
		sawFlag = bot.AutoShipRequired()
		if bot.Listing() == nil || bot.Listing().ListingID != "100" {
			t.Errorf("Expected listing during dispatch, got %+v", bot.Listing())
		}
		bot.SetAutoShipRequired(false)
	}

	f.bot.Tick(context.Background())

	if !sawFlag {
		t.Error("Expected auto-ship flag visible to plugins")
	}
	if sent := f.browser.sentMessages(); len(sent) != 0 {
		t.Errorf("Expected no ship reply after plugin cleared the flag, got %v", sent)
	}
}

func TestPollOpensUnreadConversation(t *testing.T) {
	f := newFixture(buyer("在吗"))
	f.browser.open = false
	f.browser.badge = true
	f.bot.OnListingDetected("100")
	f.chain.handled = true

	f.bot.Poll(context.Background())

	if f.chain.callCount() != 1 {
		t.Errorf("Expected a tick after clicking the badge, got %d dispatches", f.chain.callCount())
	}
}

func TestPollSkipsBadgeAfterDispatch(t *testing.T) {
	f := newFixture(buyer("在吗"))
	f.bot.OnListingDetected("100")
	f.chain.handled = true

	f.bot.Poll(context.Background())

	for _, c := range f.browser.calls {
		if c == "badge" {
			t.Error("Expected no badge check after a dispatched tick")
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture()
	f.browser.open = false
	f.bot.cfg.PollInterval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := f.bot.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error, got %v", err)
	}
	if f.browser.callCount() == 0 {
		t.Error("Expected the loop to poll the page")
	}
}
