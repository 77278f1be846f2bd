// Package browser drives the marketplace IM web page through the Chrome
// DevTools protocol. It implements repo.Browser.
package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/rs/zerolog/log"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
)

// DefaultIMURL is the marketplace chat page
const DefaultIMURL = "https://www.goofish.com/im"

// Page selectors
const (
	SelectorConversationItems = `[class^="ant-dropdown-trigger"]`
	SelectorUserName          = `[class^="text1"]`
	SelectorMessageRow        = `[class^="message-row"]`
	SelectorCardTitle         = `[class*="msg-dx-title"]`
	SelectorMessageText       = `[class*="message-text"]`
	SelectorReplyBox          = `textarea.ant-input`
	SelectorMessageList       = `#message-list-scrollable`
	SelectorUnreadBadge       = `#conv-list-scrollable .rc-virtual-list-holder div.ant-dropdown-trigger span sup`

	sellerClass = "message-text-right"
)

// Listing API calls observed on the page; both carry the item id in the POST body
var listingAPIs = []string{
	"mtop.taobao.idle.item.detail.wireless.get",
	"mtop.idle.trade.pc.message.headinfo",
}

const detailAPI = "mtop.taobao.idle.item.detail.wireless.get"

var itemIDRe = regexp.MustCompile(`"itemId":(\d+)`)

// Config contains the Chrome launch settings
type Config struct {
	UserDataDir string
	ChromePath  string
	Headless    bool
	IMURL       string
}

// Browser is a chromedp-backed repo.Browser
type Browser struct {
	cfg Config

	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	mu         sync.Mutex
	pending    map[network.RequestID]string
	onDetected func(itemID string)
	onScraped  func(*domain.Listing)
}

// New creates a browser; call Start before use
func New(cfg Config) *Browser {
	if cfg.IMURL == "" {
		cfg.IMURL = DefaultIMURL
	}
	return &Browser{
		cfg:     cfg,
		pending: make(map[network.RequestID]string),
	}
}

// OnListingDetected registers the callback fired with the item id of the open conversation
func (b *Browser) OnListingDetected(fn func(itemID string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDetected = fn
}

// OnListingScraped registers the callback fired with metadata parsed from the item detail API
func (b *Browser) OnListingScraped(fn func(*domain.Listing)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onScraped = fn
}

// Start launches Chrome with the persistent profile and opens the IM page
func (b *Browser) Start(ctx context.Context) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.Flag("start-maximized", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.WindowSize(1400, 900),
	)
	if b.cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(b.cfg.UserDataDir))
	}
	if b.cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ChromePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			log.Debug().Str("component", "browser").Msgf(format, args...)
		}),
	)
	b.allocCancel = allocCancel
	b.ctx = browserCtx
	b.cancel = cancel

	chromedp.ListenTarget(browserCtx, b.onEvent)

	if err := chromedp.Run(browserCtx,
		network.Enable(),
		chromedp.Navigate(b.cfg.IMURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		b.Close()
		return fmt.Errorf("open %s: %w", b.cfg.IMURL, err)
	}

	log.Info().Str("component", "browser").Str("url", b.cfg.IMURL).Msg("Browser started")
	return nil
}

// Close shuts Chrome down
func (b *Browser) Close() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
}

// run executes actions on the page, also stopping when ctx is done
func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	if b.ctx == nil {
		return fmt.Errorf("browser not started")
	}
	runCtx, cancel := context.WithCancel(b.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

type rawRow struct {
	Card  bool   `json:"card"`
	Text  string `json:"text"`
	Right bool   `json:"right"`
}

const extractJS = `(() => {
	const out = [];
	document.querySelectorAll(%q).forEach(row => {
		const card = row.querySelector(%q);
		if (card) out.push({card: true, text: (card.textContent || "").trim(), right: false});
		const msg = row.querySelector(%q);
		if (msg) out.push({card: false, text: (msg.textContent || "").trim(), right: msg.className.includes(%q)});
	});
	return out;
})()`

// ExtractMessages reads the visible conversation, oldest first
func (b *Browser) ExtractMessages(ctx context.Context) ([]domain.Message, error) {
	var rows []rawRow
	js := fmt.Sprintf(extractJS, SelectorMessageRow, SelectorCardTitle, SelectorMessageText, sellerClass)
	if err := b.run(ctx, chromedp.Evaluate(js, &rows)); err != nil {
		return nil, fmt.Errorf("extract messages: %w", err)
	}
	return toMessages(rows), nil
}

// toMessages maps page rows to domain messages; system cards count as buyer side
func toMessages(rows []rawRow) []domain.Message {
	msgs := make([]domain.Message, 0, len(rows))
	for _, r := range rows {
		role := domain.RoleUser
		if r.Right {
			role = domain.RoleAssistant
		}
		msgs = append(msgs, domain.Message{Role: role, Content: r.Text, Card: r.Card})
	}
	return msgs
}

// SendMessage types text into the reply box. Newlines become Shift+Enter,
// a final Enter submits.
func (b *Browser) SendMessage(ctx context.Context, text string) error {
	actions := []chromedp.Action{
		chromedp.WaitVisible(SelectorReplyBox, chromedp.ByQuery),
		chromedp.Focus(SelectorReplyBox, chromedp.ByQuery),
	}
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			actions = append(actions, chromedp.KeyEvent(kb.Enter, chromedp.KeyModifiers(input.ModifierShift)))
		}
		if line != "" {
			actions = append(actions, chromedp.SendKeys(SelectorReplyBox, line, chromedp.ByQuery))
		}
	}
	actions = append(actions, chromedp.KeyEvent(kb.Enter))

	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := b.run(sendCtx, actions...); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	log.Info().Str("component", "browser").Str("text", text).Msg("Message sent")
	return nil
}

func (b *Browser) count(ctx context.Context, selector string) (int, error) {
	var n int
	js := fmt.Sprintf(`document.querySelectorAll(%q).length`, selector)
	if err := b.run(ctx, chromedp.Evaluate(js, &n)); err != nil {
		return 0, err
	}
	return n, nil
}

// WaitForElement polls once a second until selector matches or timeout elapses
func (b *Browser) WaitForElement(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		n, err := b.count(ctx, selector)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// CurrentUserName returns the buyer name shown in the conversation header
func (b *Browser) CurrentUserName(ctx context.Context) (string, error) {
	var name string
	js := fmt.Sprintf(`(() => { const e = document.querySelector(%q); return e ? (e.textContent || "").trim() : ""; })()`, SelectorUserName)
	if err := b.run(ctx, chromedp.Evaluate(js, &name)); err != nil {
		return "", fmt.Errorf("read user name: %w", err)
	}
	return name, nil
}

// ConversationOpen reports whether a message list is on screen
func (b *Browser) ConversationOpen(ctx context.Context) (bool, error) {
	n, err := b.count(ctx, SelectorMessageList)
	if err != nil {
		return false, fmt.Errorf("check conversation: %w", err)
	}
	return n > 0, nil
}

const clickBadgeJS = `(() => {
	const badge = document.querySelector(%q);
	if (!badge || (badge.textContent || "").trim() === "0") return false;
	const target = badge.closest("div.ant-dropdown-trigger") || badge;
	target.click();
	return true;
})()`

// OpenUnreadConversation clicks the first conversation with a non-zero unread badge
func (b *Browser) OpenUnreadConversation(ctx context.Context) (bool, error) {
	var clicked bool
	if err := b.run(ctx, chromedp.Evaluate(fmt.Sprintf(clickBadgeJS, SelectorUnreadBadge), &clicked)); err != nil {
		return false, fmt.Errorf("click unread badge: %w", err)
	}
	if clicked {
		log.Info().Str("component", "browser").Msg("Opened unread conversation")
	}
	return clicked, nil
}

// Reload refreshes the page and waits for the body
func (b *Browser) Reload(ctx context.Context) error {
	if err := b.run(ctx, chromedp.Reload(), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

func (b *Browser) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if e.Request == nil || !isListingAPI(e.Request.URL) {
			return
		}
		itemID := extractItemID(e.Request.URL, postBody(e.Request))
		if itemID == "" {
			log.Warn().Str("component", "browser").Str("url", e.Request.URL).Msg("Listing request without itemId")
			return
		}
		b.mu.Lock()
		if strings.Contains(e.Request.URL, detailAPI) {
			b.pending[e.RequestID] = itemID
		}
		fn := b.onDetected
		b.mu.Unlock()

		log.Debug().Str("component", "browser").Str("listing", itemID).Msg("Listing detected")
		if fn != nil {
			go fn(itemID)
		}

	case *network.EventLoadingFinished:
		b.mu.Lock()
		itemID, ok := b.pending[e.RequestID]
		delete(b.pending, e.RequestID)
		b.mu.Unlock()
		if ok {
			// response bodies must be fetched outside the listener
			go b.fetchDetail(e.RequestID, itemID)
		}

	case *network.EventLoadingFailed:
		b.mu.Lock()
		delete(b.pending, e.RequestID)
		b.mu.Unlock()
	}
}

func (b *Browser) fetchDetail(reqID network.RequestID, itemID string) {
	var body []byte
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(reqID).Do(ctx)
		return err
	}))
	if err != nil {
		log.Warn().Str("component", "browser").Str("listing", itemID).Err(err).Msg("Failed to read listing detail")
		return
	}

	listing := parseListingDetail(itemID, body)
	if listing == nil {
		return
	}

	b.mu.Lock()
	fn := b.onScraped
	b.mu.Unlock()
	if fn != nil {
		fn(listing)
	}
}

func isListingAPI(u string) bool {
	for _, api := range listingAPIs {
		if strings.Contains(u, api) {
			return true
		}
	}
	return false
}

func postBody(req *network.Request) string {
	var sb strings.Builder
	for _, entry := range req.PostDataEntries {
		if entry == nil {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			continue
		}
		sb.Write(data)
	}
	return sb.String()
}

// extractItemID finds "itemId":N in the url-decoded POST body, then in the URL
func extractItemID(rawURL, body string) string {
	for _, s := range []string{body, rawURL} {
		if s == "" {
			continue
		}
		if decoded, err := url.QueryUnescape(s); err == nil {
			s = decoded
		}
		if m := itemIDRe.FindStringSubmatch(s); m != nil {
			return m[1]
		}
	}
	return ""
}

// parseListingDetail pulls title, price and description out of a detail
// response without assuming its exact nesting. Nil if nothing useful.
func parseListingDetail(itemID string, body []byte) *domain.Listing {
	var root interface{}
	if err := json.Unmarshal(body, &root); err != nil {
		return nil
	}

	found := map[string]string{}
	walkJSON(root, func(key string, v interface{}) {
		switch key {
		case "title", "soldPrice", "desc":
		default:
			return
		}
		if _, done := found[key]; done {
			return
		}
		switch val := v.(type) {
		case string:
			if strings.TrimSpace(val) != "" {
				found[key] = strings.TrimSpace(val)
			}
		case float64:
			found[key] = fmt.Sprintf("%g", val)
		}
	})

	if found["title"] == "" && found["desc"] == "" {
		return nil
	}
	return &domain.Listing{
		ListingID:   itemID,
		Title:       found["title"],
		Price:       found["soldPrice"],
		Description: found["desc"],
	}
}

// walkJSON visits object members breadth first with sorted keys, so the
// shallowest match wins deterministically
func walkJSON(root interface{}, visit func(key string, v interface{})) {
	queue := []interface{}{root}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		switch n := node.(type) {
		case map[string]interface{}:
			keys := make([]string, 0, len(n))
			for k := range n {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				visit(k, n[k])
				queue = append(queue, n[k])
			}
		case []interface{}:
			queue = append(queue, n...)
		}
	}
}
