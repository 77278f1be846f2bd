package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
)

type mockChannel struct {
	name string
	err  error
	sent []string
}

func (m *mockChannel) Name() string { return m.name }

func (m *mockChannel) Send(ctx context.Context, text, prefix string) error {
	m.sent = append(m.sent, prefix+"|"+text)
	return m.err
}

func TestDispatcher_DedupWindow(t *testing.T) {
	ch := &mockChannel{name: "mock"}
	d := NewDispatcher(10*time.Minute, ch)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	ctx := context.Background()
	if !d.Notify(ctx, "客户：小明:需要转人工", "") {
		t.Fatal("Expected first notice to be sent")
	}
	if d.Notify(ctx, "客户：小明:需要转人工", "") {
		t.Error("Expected duplicate within cooldown to be suppressed")
	}
	if !d.Notify(ctx, "客户：小明:需要转人工", "系统通知") {
		t.Error("Expected a different prefix to be a different notice")
	}

	now = now.Add(10*time.Minute + time.Second)
	if !d.Notify(ctx, "客户：小明:需要转人工", "") {
		t.Error("Expected notice to be sent again after cooldown")
	}
	if len(ch.sent) != 3 {
		t.Errorf("Expected 3 deliveries, got %d", len(ch.sent))
	}
}

func TestDispatcher_FailureNotMarked(t *testing.T) {
	ch := &mockChannel{name: "mock", err: errors.New("down")}
	d := NewDispatcher(0, ch)

	if d.Notify(context.Background(), "hello", "") {
		t.Error("Expected failure")
	}
	ch.err = nil
	if !d.Notify(context.Background(), "hello", "") {
		t.Error("Expected retry to go through after a failed attempt")
	}
}

type slowChannel struct {
	delay time.Duration
	calls atomic.Int32
}

func (s *slowChannel) Name() string { return "slow" }

func (s *slowChannel) Send(ctx context.Context, text, prefix string) error {
	s.calls.Add(1)
	time.Sleep(s.delay)
	return nil
}

func TestDispatcher_ConcurrentDuplicatesSendOnce(t *testing.T) {
	ch := &slowChannel{delay: 50 * time.Millisecond}
	d := NewDispatcher(10*time.Minute, ch)

	var (
		wg   sync.WaitGroup
		sent atomic.Int32
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Notify(context.Background(), "客户：小明:需要转人工", "") {
				sent.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := ch.calls.Load(); got != 1 {
		t.Errorf("Expected 1 delivery, got %d", got)
	}
	if got := sent.Load(); got != 1 {
		t.Errorf("Expected 1 successful Notify, got %d", got)
	}
}

func TestDispatcher_AnyChannelSucceeds(t *testing.T) {
	bad := &mockChannel{name: "bad", err: errors.New("down")}
	good := &mockChannel{name: "good"}
	d := NewDispatcher(0, bad, good)

	if !d.Notify(context.Background(), "hello", "") {
		t.Error("Expected success when one channel delivers")
	}
	if len(bad.sent) != 1 || len(good.sent) != 1 {
		t.Errorf("Expected both channels attempted, got %v %v", bad.sent, good.sent)
	}

	if NewDispatcher(0).Notify(context.Background(), "x", "") {
		t.Error("Expected no channels to mean not delivered")
	}
}

func TestDispatcher_PrunesExpiredKeys(t *testing.T) {
	d := NewDispatcher(time.Minute, &mockChannel{name: "mock"})
	now := time.Now()
	d.now = func() time.Time { return now }

	d.Notify(context.Background(), "a", "")
	now = now.Add(2 * time.Minute)
	d.Notify(context.Background(), "b", "")

	if len(d.sent) != 1 {
		t.Errorf("Expected expired key pruned, got %d keys", len(d.sent))
	}
}

func TestDingTalk(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"errcode":0,"errmsg":"ok"}`)
	}))
	defer srv.Close()

	ch := NewDingTalk(srv.URL, "【闲鱼助手】")
	if err := ch.Send(context.Background(), "hello", "用户消息"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got["msgtype"] != "text" {
		t.Errorf("Expected text msgtype, got %v", got["msgtype"])
	}
	content := got["text"].(map[string]interface{})["content"]
	if content != "【闲鱼助手】用户消息\n hello" {
		t.Errorf("Unexpected content: %q", content)
	}
}

func TestDingTalk_ErrCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"errcode":310000,"errmsg":"keywords not in content"}`)
	}))
	defer srv.Close()

	if err := NewDingTalk(srv.URL, "").Send(context.Background(), "hello", ""); err == nil {
		t.Error("Expected error for non-zero errcode")
	}
}

func TestWxPusher(t *testing.T) {
	var got struct {
		AppToken string   `json:"appToken"`
		Content  string   `json:"content"`
		UIDs     []string `json:"uids"`
	}
	code := 1000
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]interface{}{"code": code, "msg": "x"})
	}))
	defer srv.Close()

	ch := NewWxPusher("AT_1", []string{"UID_1"})
	ch.endpoint = srv.URL

	if err := ch.Send(context.Background(), "hello", "系统通知"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got.AppToken != "AT_1" || got.Content != "系统通知\n hello" || len(got.UIDs) != 1 {
		t.Errorf("Unexpected payload: %+v", got)
	}

	if err := ch.Send(context.Background(), "hello", ""); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got.Content != "hello" {
		t.Errorf("Expected bare content without prefix, got %q", got.Content)
	}

	code = 1001
	if err := ch.Send(context.Background(), "hello", ""); err == nil {
		t.Error("Expected error for code != 1000")
	}
}

type mockSender struct {
	chatID, text string
}

func (m *mockSender) SendText(ctx context.Context, chatID, text string) error {
	m.chatID, m.text = chatID, text
	return nil
}

func TestFeishu(t *testing.T) {
	s := &mockSender{}
	if err := NewFeishu(s, "oc_1").Send(context.Background(), "hello", "用户消息"); err != nil {
		t.Fatal(err)
	}
	if s.chatID != "oc_1" || s.text != "用户消息\nhello" {
		t.Errorf("Unexpected send: %+v", s)
	}
}

func TestFormatMessages(t *testing.T) {
	got := FormatMessages([]domain.Message{
		{Role: domain.RoleUser, Content: "在吗"},
		{Role: domain.RoleAssistant, Content: "在的"},
	})
	if got != "user：在吗\nassistant：在的" {
		t.Errorf("Unexpected format: %q", got)
	}
}

func TestStartupNotice(t *testing.T) {
	at := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	got := StartupNotice(at, "box", "10.0.0.2")
	want := "通知插件已启动\n时间: 2024-05-01 08:30:00\n主机: box\nIP: 10.0.0.2"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}
