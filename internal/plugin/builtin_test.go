package plugin

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
	"github.com/devricklin/xianyu-assistant/internal/conf"
)

type mockSearcher struct {
	keywords []string
	results  []domain.SearchResult
	err      error
}

func (m *mockSearcher) SearchAndStore(ctx context.Context, keyword string, limit int) ([]domain.SearchResult, error) {
	m.keywords = append(m.keywords, keyword)
	return m.results, m.err
}

func (m *mockSearcher) FormatReply(results []domain.SearchResult, keyword string) string {
	return "results:" + keyword
}

type mockCompleter struct {
	prompt  string
	history []domain.Message
	reply   string
	err     error
}

func (m *mockCompleter) Complete(ctx context.Context, systemPrompt string, history []domain.Message) (string, error) {
	m.prompt = systemPrompt
	m.history = history
	return m.reply, m.err
}

func newBuiltinRegistry(searcher Searcher, completer *mockCompleter, rules []domain.KeywordRule) *Registry {
	cfg := conf.DefaultPluginsConfig()
	cfg.KeywordRules = rules
	deps := Deps{
		Config:            cfg,
		EscalationKeyword: domain.DefaultEscalationKeyword,
		Searcher:          searcher,
		SearchLimit:       5,
	}
	if completer != nil {
		deps.Completer = completer
	}
	r := NewRegistry()
	RegisterBuiltins(r, deps)
	return r
}

func allPlugins() []string {
	return []string{NameKeyword, NameAutoShip, NameManualService, NameResourceSearch, NameAIReply}
}

func TestRegisterBuiltins_Priorities(t *testing.T) {
	r := newBuiltinRegistry(&mockSearcher{}, &mockCompleter{}, nil)

	want := []string{NameAutoShip, NameManualService, NameResourceSearch, NameKeyword, NameNotice, NameAIReply}
	descs := r.Descriptors()
	if len(descs) != len(want) {
		t.Fatalf("Expected %d plugins, got %d", len(want), len(descs))
	}
	for i, d := range descs {
		if d.Name != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], d.Name)
		}
	}
}

func TestRegisterBuiltins_OptionalPlugins(t *testing.T) {
	r := newBuiltinRegistry(nil, nil, nil)
	for _, d := range r.Descriptors() {
		if d.Name == NameResourceSearch || d.Name == NameAIReply {
			t.Errorf("Expected %s unregistered without its collaborator", d.Name)
		}
	}
}

func TestAutoShip(t *testing.T) {
	completer := &mockCompleter{reply: "AI"}
	r := newBuiltinRegistry(&mockSearcher{}, completer, nil)
	bot := newMockBot()
	bot.autoShip = true
	bot.listing.ShipReplyText = "卡密：ABC"

	handled := r.ExecuteChain(context.Background(), bot, "我已付款，等待你发货", domain.ConversationContext{EnabledPlugins: allPlugins()})
	if !handled {
		t.Fatal("Expected auto_ship to handle")
	}
	sent := bot.sentMessages()
	if len(sent) != 1 || sent[0] != "【自动发货】: \n卡密：ABC" {
		t.Errorf("Unexpected shipment text: %q", sent)
	}
	if bot.autoShip {
		t.Error("Expected auto-ship flag cleared")
	}
	if completer.prompt != "" {
		t.Error("Expected ai_reply not consulted")
	}
}

func TestAutoShip_NoReplyTextFallsThroughButAISkips(t *testing.T) {
	completer := &mockCompleter{reply: "AI"}
	r := newBuiltinRegistry(&mockSearcher{}, completer, nil)
	bot := newMockBot()
	bot.autoShip = true

	if r.ExecuteChain(context.Background(), bot, "发货了吗", domain.ConversationContext{EnabledPlugins: allPlugins()}) {
		t.Error("Expected unhandled so the bot fallback can ship")
	}
	if completer.prompt != "" {
		t.Error("Expected ai_reply to skip while auto-ship is required")
	}
	if !bot.autoShip {
		t.Error("Expected auto-ship flag left set")
	}
}

func TestManualService(t *testing.T) {
	r := newBuiltinRegistry(&mockSearcher{}, &mockCompleter{reply: "AI"}, nil)
	bot := newMockBot()

	cctx := domain.ConversationContext{UserName: "小明", EnabledPlugins: allPlugins()}
	if !r.ExecuteChain(context.Background(), bot, "我要转人工", cctx) {
		t.Fatal("Expected manual_service to handle")
	}
	sent := bot.sentMessages()
	if len(sent) != 1 || sent[0] != "已为您通知人工客服，请稍等..." {
		t.Errorf("Unexpected reply: %q", sent)
	}

	select {
	case n := <-bot.notices:
		if n != "|客户：小明:需要转人工" {
			t.Errorf("Unexpected notice: %q", n)
		}
	case <-time.After(time.Second):
		t.Error("Expected escalation notice")
	}
}

func TestManualService_FlagTriggers(t *testing.T) {
	r := newBuiltinRegistry(nil, nil, nil)
	bot := newMockBot()
	bot.escalation = true

	if !r.ExecuteChain(context.Background(), bot, "hello", domain.ConversationContext{EnabledPlugins: []string{NameManualService}}) {
		t.Fatal("Expected flag to trigger escalation")
	}
	if bot.escalation {
		t.Error("Expected escalation flag cleared")
	}
}

func TestResourceSearch(t *testing.T) {
	searcher := &mockSearcher{}
	r := newBuiltinRegistry(searcher, nil, nil)
	bot := newMockBot()

	if !r.ExecuteChain(context.Background(), bot, "搜:三体", domain.ConversationContext{EnabledPlugins: []string{NameResourceSearch}}) {
		t.Fatal("Expected resource_search to handle")
	}
	sent := bot.sentMessages()
	if len(sent) != 2 || sent[0] != "🔍正在获取资源，请稍等..." || sent[1] != "results:三体" {
		t.Errorf("Unexpected messages: %q", sent)
	}

	if r.ExecuteChain(context.Background(), newMockBot(), "三体有吗", domain.ConversationContext{EnabledPlugins: []string{NameResourceSearch}}) {
		t.Error("Expected non-command message to pass")
	}
}

func TestResourceSearch_ErrorTextHidesDetails(t *testing.T) {
	searcher := &mockSearcher{err: errors.New("dial tcp: secret upstream")}
	r := newBuiltinRegistry(searcher, nil, nil)
	bot := newMockBot()

	if !r.ExecuteChain(context.Background(), bot, "搜索三体", domain.ConversationContext{EnabledPlugins: []string{NameResourceSearch}}) {
		t.Fatal("Expected search failure to still claim the message")
	}
	sent := bot.sentMessages()
	last := sent[len(sent)-1]
	if last != "搜索过程中发生错误，请稍后再试" {
		t.Errorf("Unexpected error reply: %q", last)
	}
	if strings.Contains(strings.Join(sent, ""), "secret") {
		t.Error("Expected raw error hidden from buyer")
	}
}

func TestKeyword_ResponseAndSearchAction(t *testing.T) {
	searcher := &mockSearcher{}
	rules := []domain.KeywordRule{
		{Keywords: []string{"在吗"}, Response: "在的"},
		{Keywords: []string{"教程"}, Action: domain.ActionSearchResource, Query: "Go 教程"},
		{Keywords: []string{"only-action"}, Action: domain.ActionSearchResource},
	}
	r := newBuiltinRegistry(searcher, nil, rules)

	// resource_search need not be enabled for the listing to be called by keyword
	enabled := []string{NameKeyword}

	bot := newMockBot()
	if !r.ExecuteChain(context.Background(), bot, "老板在吗", domain.ConversationContext{EnabledPlugins: enabled}) {
		t.Error("Expected response rule to handle")
	}
	if sent := bot.sentMessages(); len(sent) != 1 || sent[0] != "在的" {
		t.Errorf("Unexpected reply: %q", sent)
	}

	bot = newMockBot()
	if !r.ExecuteChain(context.Background(), bot, "有没有教程", domain.ConversationContext{EnabledPlugins: enabled}) {
		t.Error("Expected search rule to handle")
	}
	if len(searcher.keywords) != 1 || searcher.keywords[0] != "Go 教程" {
		t.Errorf("Expected search for rule query, got %v", searcher.keywords)
	}

	if r.ExecuteChain(context.Background(), newMockBot(), "only-action", domain.ConversationContext{EnabledPlugins: enabled}) {
		t.Error("Expected rule without query or response to pass")
	}
}

func TestKeyword_CustomPlugin(t *testing.T) {
	rules := []domain.KeywordRule{
		{Keywords: []string{"人工"}, Action: domain.ActionCustomPlugin, PluginName: NameManualService},
		{Keywords: []string{"ghost"}, Action: domain.ActionCustomPlugin, PluginName: "ghost"},
	}
	r := newBuiltinRegistry(nil, nil, rules)

	bot := newMockBot()
	if !r.ExecuteChain(context.Background(), bot, "我要转人工", domain.ConversationContext{EnabledPlugins: []string{NameKeyword}}) {
		t.Fatal("Expected custom plugin rule to handle")
	}
	if sent := bot.sentMessages(); len(sent) != 1 || sent[0] != "已为您通知人工客服，请稍等..." {
		t.Errorf("Unexpected reply: %q", sent)
	}

	if r.ExecuteChain(context.Background(), newMockBot(), "ghost", domain.ConversationContext{EnabledPlugins: []string{NameKeyword}}) {
		t.Error("Expected unknown custom plugin to count as unhandled")
	}
}

func TestKeyword_UnknownTargetSendsResponseOnce(t *testing.T) {
	rules := []domain.KeywordRule{
		{Keywords: []string{"ghost"}, Response: "稍等", Action: domain.ActionCustomPlugin, PluginName: "ghost"},
		{Keywords: []string{"ghost"}, Response: "第二条"},
	}
	r := newBuiltinRegistry(nil, nil, rules)
	bot := newMockBot()

	if !r.ExecuteChain(context.Background(), bot, "ghost", domain.ConversationContext{EnabledPlugins: []string{NameKeyword, NameAIReply}}) {
		t.Error("Expected response rule to claim the message")
	}
	if sent := bot.sentMessages(); len(sent) != 1 || sent[0] != "稍等" {
		t.Errorf("Expected a single response, got %q", sent)
	}
}

func TestKeyword_SearchRuleWithoutSearcherKeepsResponse(t *testing.T) {
	rules := []domain.KeywordRule{
		{Keywords: []string{"教程"}, Response: "正在找", Action: domain.ActionSearchResource, Query: "Go 教程"},
	}
	r := newBuiltinRegistry(nil, nil, rules)
	bot := newMockBot()

	if !r.ExecuteChain(context.Background(), bot, "教程", domain.ConversationContext{EnabledPlugins: []string{NameKeyword}}) {
		t.Error("Expected response rule to claim the message")
	}
	if sent := bot.sentMessages(); len(sent) != 1 {
		t.Errorf("Expected a single response, got %q", sent)
	}
}

func TestKeyword_SelfRouteDoesNotRecurse(t *testing.T) {
	rules := []domain.KeywordRule{
		{Keywords: []string{"loop"}, Response: "收到", Action: domain.ActionCustomPlugin, PluginName: NameKeyword},
		{Keywords: []string{"silent"}, Action: domain.ActionCustomPlugin, PluginName: NameKeyword},
	}
	r := newBuiltinRegistry(nil, nil, rules)
	cctx := domain.ConversationContext{EnabledPlugins: []string{NameKeyword}}

	bot := newMockBot()
	if !r.ExecuteChain(context.Background(), bot, "loop", cctx) {
		t.Error("Expected response to claim the message")
	}
	if sent := bot.sentMessages(); len(sent) != 1 || sent[0] != "收到" {
		t.Errorf("Expected one response, got %q", sent)
	}

	bot = newMockBot()
	if r.ExecuteChain(context.Background(), bot, "silent", cctx) {
		t.Error("Expected self-routed rule without response to pass")
	}
	if sent := bot.sentMessages(); len(sent) != 0 {
		t.Errorf("Expected no replies, got %q", sent)
	}
}

func TestAIReply(t *testing.T) {
	completer := &mockCompleter{reply: "  亲，还在的  "}
	r := newBuiltinRegistry(nil, completer, nil)
	bot := newMockBot()
	bot.listing.Price = "88"

	cctx := domain.ConversationContext{
		EnabledPlugins: []string{NameAIReply},
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "我已付款", Card: true},
			{Role: domain.RoleUser, Content: "还在吗"},
		},
	}
	if !r.ExecuteChain(context.Background(), bot, "还在吗", cctx) {
		t.Fatal("Expected ai_reply to handle")
	}
	if sent := bot.sentMessages(); len(sent) != 1 || sent[0] != "亲，还在的" {
		t.Errorf("Unexpected reply: %q", sent)
	}
	if !strings.Contains(completer.prompt, "商品价格：88") {
		t.Errorf("Expected listing price in prompt, got %q", completer.prompt)
	}
	if len(completer.history) != 1 {
		t.Errorf("Expected cards excluded from history, got %+v", completer.history)
	}

	completer.err = errors.New("rate limited")
	if r.ExecuteChain(context.Background(), newMockBot(), "还在吗", cctx) {
		t.Error("Expected LLM error to leave message unhandled")
	}
}

func TestNotice_NeverClaims(t *testing.T) {
	r := newBuiltinRegistry(nil, nil, nil)
	bot := newMockBot()

	if r.ExecuteChain(context.Background(), bot, "你好", domain.ConversationContext{UserName: "小明", EnabledPlugins: []string{NameNotice}}) {
		t.Error("Expected notice to pass")
	}
	select {
	case n := <-bot.notices:
		if n != "用户消息|用户 小明 发送消息:\n你好" {
			t.Errorf("Unexpected notice: %q", n)
		}
	case <-time.After(time.Second):
		t.Error("Expected forwarded notice")
	}
}

func TestNotice_DoesNotBlockChain(t *testing.T) {
	r := newBuiltinRegistry(nil, nil, nil)
	var calls []string
	r.Register(Descriptor{Name: "tail", Priority: 1, Handler: recorder(&calls, "tail", true, nil)})
	bot := newMockBot()
	bot.notices = make(chan string) // never read, so a synchronous send would hang

	done := make(chan bool, 1)
	go func() {
		done <- r.ExecuteChain(context.Background(), bot, "你好", domain.ConversationContext{EnabledPlugins: []string{NameNotice, "tail"}})
	}()

	select {
	case handled := <-done:
		if !handled || len(calls) != 1 {
			t.Errorf("Expected later plugin to handle, got %v / %v", handled, calls)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected chain to continue while the notice is in flight")
	}
}
