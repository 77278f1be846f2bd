package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DingTalk posts text notices to a DingTalk robot webhook.
// The keyword must match the robot's security keyword.
type DingTalk struct {
	webhook string
	keyword string
	client  *http.Client
}

// NewDingTalk creates a DingTalk channel
func NewDingTalk(webhook, keyword string) *DingTalk {
	return &DingTalk{webhook: webhook, keyword: keyword, client: &http.Client{Timeout: 10 * time.Second}}
}

func (d *DingTalk) Name() string { return "dingtalk" }

func (d *DingTalk) Send(ctx context.Context, text, prefix string) error {
	payload := map[string]interface{}{
		"msgtype": "text",
		"text": map[string]string{
			"content": d.keyword + prefix + "\n " + text,
		},
	}

	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := postJSON(ctx, d.client, d.webhook, payload, &result); err != nil {
		return err
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("dingtalk errcode %d: %s", result.ErrCode, result.ErrMsg)
	}
	return nil
}

func postJSON(ctx context.Context, client *http.Client, url string, payload, out interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json;charset=utf-8")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode webhook response: %w", err)
	}
	return nil
}
