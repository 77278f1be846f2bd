package llm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChat(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"在的，亲"}}]}`))
	}))
	defer server.Close()

	c := NewClient("test-key", server.URL, "")
	reply, err := c.Chat(t.Context(), "你是卖家", []Message{
		{Role: "user", Content: "在吗"},
		{Role: "assistant", Content: "在"},
		{Role: "system", Content: "ignored role"},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if reply != "在的，亲" {
		t.Errorf("Expected reply, got %q", reply)
	}

	if got.Model != defaultModel {
		t.Errorf("Expected default model %s, got %s", defaultModel, got.Model)
	}
	if len(got.Messages) != 4 || got.Messages[0].Role != "system" || got.Messages[0].Content != "你是卖家" {
		t.Fatalf("Unexpected messages %+v", got.Messages)
	}
	if got.Messages[2].Role != "assistant" || got.Messages[3].Role != "user" {
		t.Errorf("Expected roles mapped to user/assistant, got %+v", got.Messages)
	}
}

func TestChat_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	c := NewClient("k", server.URL, "m")
	if _, err := c.Chat(t.Context(), "", nil); err == nil {
		t.Error("Expected error when no choices returned")
	}
}
