package feishu

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	lark "github.com/larksuite/oapi-sdk-go/v3"
)

func newTestServer(t *testing.T, sent *[]string, code int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(r.URL.Path, "tenant_access_token"):
			io.WriteString(w, `{"code":0,"msg":"ok","tenant_access_token":"t-123","expire":7200}`)
		case strings.Contains(r.URL.Path, "/im/v1/messages"):
			var body struct {
				ReceiveID string `json:"receive_id"`
				Content   string `json:"content"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			*sent = append(*sent, body.ReceiveID+"|"+body.Content)
			if code != 0 {
				io.WriteString(w, `{"code":230002,"msg":"bot not in chat"}`)
				return
			}
			io.WriteString(w, `{"code":0,"msg":"success","data":{"message_id":"om_1"}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
}

func TestSendText(t *testing.T) {
	var sent []string
	srv := newTestServer(t, &sent, 0)
	defer srv.Close()

	c := NewClient("app", "secret", lark.WithOpenBaseUrl(srv.URL))
	if err := c.SendText(context.Background(), "oc_1", "hello"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if len(sent) != 1 || sent[0] != `oc_1|{"text":"hello"}` {
		t.Errorf("Unexpected request: %v", sent)
	}
}

func TestSendText_APIError(t *testing.T) {
	var sent []string
	srv := newTestServer(t, &sent, 1)
	defer srv.Close()

	c := NewClient("app", "secret", lark.WithOpenBaseUrl(srv.URL))
	if err := c.SendText(context.Background(), "oc_1", "hello"); err == nil {
		t.Error("Expected error for non-zero code")
	}
}
