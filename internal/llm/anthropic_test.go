package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func anthropicMessageBody(blocks ...map[string]any) map[string]any {
	if blocks == nil {
		blocks = []map[string]any{}
	}
	return map[string]any{
		"id":            "msg_1",
		"type":          "message",
		"role":          "assistant",
		"model":         "claude-3-5-haiku-latest",
		"content":       blocks,
		"stop_reason":   "end_turn",
		"stop_sequence": "",
		"usage": map[string]any{
			"input_tokens":  10,
			"output_tokens": 2,
		},
	}
}

func TestAnthropicCompleteSeparatesSystemPrompt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")

		var req struct {
			Model       string   `json:"model"`
			MaxTokens   int64    `json:"max_tokens"`
			Temperature *float64 `json:"temperature"`
			System      []struct {
				Text string `json:"text"`
			} `json:"system"`
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}

		if req.Model != "claude-3-5-haiku-latest" {
			t.Errorf("unexpected model %q", req.Model)
		}
		if req.MaxTokens != 500 {
			t.Errorf("expected max_tokens 500, got %d", req.MaxTokens)
		}
		if req.Temperature == nil || *req.Temperature != 0.3 {
			t.Errorf("expected temperature 0.3, got %v", req.Temperature)
		}
		if len(req.System) != 1 || req.System[0].Text != "be concise" {
			t.Errorf("expected system prompt in top-level system field, got %#v", req.System)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "user" || req.Messages[1].Role != "assistant" {
			t.Errorf("unexpected chat roles: %#v", req.Messages)
		}

		_ = json.NewEncoder(w).Encode(anthropicMessageBody(
			map[string]any{"type": "text", "text": " hello "},
			map[string]any{"type": "text", "text": "world"},
		))
	}))
	defer server.Close()

	client, err := newAnthropicClient("test-key", "claude-3-5-haiku-latest", &clientOptions{baseURL: server.URL})
	if err != nil {
		t.Fatalf("newAnthropicClient failed: %v", err)
	}

	got, err := client.Complete(context.Background(), Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "be concise"},
			{Role: RoleUser, Content: "hello"},
			{Role: RoleAssistant, Content: "hi"},
		},
		Temperature: 0.3,
		MaxTokens:   500,
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "hello world" {
		t.Fatalf("expected combined trimmed text, got %q", got)
	}
}

func TestAnthropic_DefaultMaxTokens(t *testing.T) {
	var capturedMaxTokens int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var req struct {
			MaxTokens int64 `json:"max_tokens"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		capturedMaxTokens = req.MaxTokens

		_ = json.NewEncoder(w).Encode(anthropicMessageBody(map[string]any{"type": "text", "text": "ok"}))
	}))
	defer server.Close()

	client, err := newAnthropicClient("test-key", "claude-3-5-haiku-latest", &clientOptions{baseURL: server.URL})
	if err != nil {
		t.Fatalf("newAnthropicClient failed: %v", err)
	}

	if _, err := client.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hello"}}}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if capturedMaxTokens != defaultMaxTokens {
		t.Fatalf("expected max_tokens %d, got %d", defaultMaxTokens, capturedMaxTokens)
	}
}

func TestAnthropic_Complete_EmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(anthropicMessageBody())
	}))
	defer server.Close()

	client, err := newAnthropicClient("test-key", "claude-3-5-haiku-latest", &clientOptions{baseURL: server.URL})
	if err != nil {
		t.Fatalf("newAnthropicClient failed: %v", err)
	}

	_, err = client.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hello"}}})
	if err == nil {
		t.Fatal("expected error for empty content, got nil")
	}
	if !strings.Contains(err.Error(), "empty response") {
		t.Fatalf("expected 'empty response' in error, got %q", err.Error())
	}
}

func TestAnthropic_Complete_NoUserMessage(t *testing.T) {
	client, err := newAnthropicClient("test-key", "claude-3-5-haiku-latest", &clientOptions{baseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("newAnthropicClient failed: %v", err)
	}

	_, err = client.Complete(context.Background(), Request{Messages: []Message{{Role: RoleSystem, Content: "rules"}}})
	if err == nil || !strings.Contains(err.Error(), "no user message") {
		t.Fatalf("expected no user message error, got %v", err)
	}
}
