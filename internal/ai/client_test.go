package ai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/ai"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/config"
)

func TestComplete_OpenAI(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "hola, ¿en qué puedo ayudarte?"}},
			},
		})
	}))
	defer srv.Close()

	client := ai.NewClient(config.AIConfig{
		Provider:  "openai",
		Endpoint:  srv.URL,
		APIKey:    "test-key",
		Model:     "gpt-4o-mini",
		MaxTokens: 128,
		Timeout:   5 * time.Second,
	})

	got, err := client.Complete(context.Background(), ai.Request{
		System:   "You are a sales assistant.",
		Messages: []ai.ChatMessage{{Role: "user", Content: "hola"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "hola, ¿en qué puedo ayudarte?" {
		t.Fatalf("Complete() = %q", got)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	msgs := gotBody["messages"].([]any)
	first := msgs[0].(map[string]any)
	if first["role"] != "system" {
		t.Fatalf("first message role = %v, want system", first["role"])
	}
}

func TestComplete_Anthropic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s, want /v1/messages", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "claro, te ayudo"},
			},
		})
	}))
	defer srv.Close()

	client := ai.NewClient(config.AIConfig{
		Provider:  "anthropic",
		Endpoint:  srv.URL,
		APIKey:    "test-key",
		Model:     "claude-sonnet",
		MaxTokens: 128,
		Timeout:   5 * time.Second,
	})

	got, err := client.Complete(context.Background(), ai.Request{
		Messages: []ai.ChatMessage{{Role: "user", Content: "hola"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "claro, te ayudo" {
		t.Fatalf("Complete() = %q", got)
	}
}

func TestComplete_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := ai.NewClient(config.AIConfig{
		Provider: "openai",
		Endpoint: srv.URL,
		APIKey:   "test-key",
		Timeout:  5 * time.Second,
	})

	_, err := client.Complete(context.Background(), ai.Request{
		Messages: []ai.ChatMessage{{Role: "user", Content: "hola"}},
	})
	if err == nil {
		t.Fatal("Complete() error = nil, want status error")
	}
}

func TestComplete_Ollama(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s, want /api/chat", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if stream, _ := body["stream"].(bool); stream {
			t.Error("stream = true, want false")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]any{"content": "respuesta local"},
		})
	}))
	defer srv.Close()

	client := ai.NewClient(config.AIConfig{
		Provider: "ollama",
		Endpoint: srv.URL,
		Model:    "llama3",
		Timeout:  5 * time.Second,
	})

	got, err := client.Complete(context.Background(), ai.Request{
		Messages: []ai.ChatMessage{{Role: "user", Content: "hola"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "respuesta local" {
		t.Fatalf("Complete() = %q", got)
	}
}
