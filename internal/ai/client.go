// Package ai provides the completion client used for default AI replies.
//
// The client speaks the raw HTTP chat APIs of OpenAI-compatible endpoints,
// Anthropic, and Ollama. Provider selection is static per deployment; there
// is no per-request failover because a failed completion degrades the
// cascade to no-reply rather than retrying elsewhere.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/config"
)

// ChatMessage is one turn of conversation context sent to the provider.
type ChatMessage struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// Request describes one completion call.
type Request struct {
	System    string
	Messages  []ChatMessage
	MaxTokens int
}

// Completer produces a text completion for a conversation.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Client is an HTTP Completer configured for one provider.
type Client struct {
	cfg    config.AIConfig
	client *http.Client
}

// NewClient creates a completion client from configuration.
func NewClient(cfg config.AIConfig) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Complete sends the request to the configured provider and returns the
// reply text.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.cfg.MaxTokens
	}
	switch c.cfg.Provider {
	case "anthropic":
		return c.completeAnthropic(ctx, req)
	case "ollama":
		return c.completeOllama(ctx, req)
	default:
		// OpenAI and any OpenAI-compatible endpoint.
		return c.completeOpenAI(ctx, req)
	}
}

// ── OpenAI / compatible ─────────────────────────────────────

type openAIRequest struct {
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) completeOpenAI(ctx context.Context, req Request) (string, error) {
	endpoint := c.cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	if c.cfg.APIKey == "" {
		return "", fmt.Errorf("openai: api key not configured")
	}

	messages := make([]ChatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, req.Messages...)

	body, _ := json.Marshal(openAIRequest{
		Model:     c.cfg.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	})

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openai: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return "", fmt.Errorf("openai: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var oaiResp openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&oaiResp); err != nil {
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	if len(oaiResp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices")
	}
	return oaiResp.Choices[0].Message.Content, nil
}

// ── Anthropic ───────────────────────────────────────────────

type anthropicRequest struct {
	Model     string        `json:"model"`
	System    string        `json:"system,omitempty"`
	Messages  []ChatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *Client) completeAnthropic(ctx context.Context, req Request) (string, error) {
	endpoint := c.cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.anthropic.com"
	}
	if c.cfg.APIKey == "" {
		return "", fmt.Errorf("anthropic: api key not configured")
	}

	body, _ := json.Marshal(anthropicRequest{
		Model:     c.cfg.Model,
		System:    req.System,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
	})

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return "", fmt.Errorf("anthropic: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var antResp anthropicResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&antResp); err != nil {
		return "", fmt.Errorf("anthropic: decode response: %w", err)
	}
	for _, block := range antResp.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("anthropic: no text content in response")
}

// ── Ollama ──────────────────────────────────────────────────

type ollamaRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type ollamaResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

func (c *Client) completeOllama(ctx context.Context, req Request) (string, error) {
	endpoint := c.cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}

	messages := make([]ChatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, req.Messages...)

	body, _ := json.Marshal(ollamaRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   false,
	})

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return "", fmt.Errorf("ollama: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var ollResp ollamaResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&ollResp); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	return ollResp.Message.Content, nil
}
