package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// WxPusherEndpoint is the public send API
const WxPusherEndpoint = "https://wxpusher.zjiecode.com/api/send/message"

// WxPusher pushes notices to WeChat users through wxpusher
type WxPusher struct {
	endpoint string
	token    string
	uids     []string
	client   *http.Client
}

// NewWxPusher creates a WxPusher channel
func NewWxPusher(token string, uids []string) *WxPusher {
	return &WxPusher{
		endpoint: WxPusherEndpoint,
		token:    token,
		uids:     uids,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WxPusher) Name() string { return "wxpusher" }

func (w *WxPusher) Send(ctx context.Context, text, prefix string) error {
	content := text
	if prefix != "" {
		content = prefix + "\n " + text
	}

	payload := map[string]interface{}{
		"appToken":    w.token,
		"content":     content,
		"contentType": 1,
		"uids":        w.uids,
	}

	var result struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := postJSON(ctx, w.client, w.endpoint, payload, &result); err != nil {
		return err
	}
	if result.Code != 1000 {
		return fmt.Errorf("wxpusher code %d: %s", result.Code, result.Msg)
	}
	return nil
}
