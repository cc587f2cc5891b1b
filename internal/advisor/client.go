package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ChatMessage is one turn in a chat-completions conversation.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ChatResponse is the gateway reply. Only the first choice is used.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// GatewayError is a classified non-2xx reply from the model gateway.
type GatewayError struct {
	StatusCode int
	Message    string
	Type       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("model gateway error %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether another attempt could plausibly succeed.
func (e *GatewayError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ClientConfig binds one model behind an OpenAI-compatible gateway.
type ClientConfig struct {
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client speaks the chat-completions wire format to a single model.
type Client struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// NewClient fills zero-valued config fields with workable defaults.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:8080/v1/chat/completions"
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		endpoint:    cfg.Endpoint,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Model reports which model this client is bound to.
func (c *Client) Model() string { return c.model }

// Complete sends one conversation and returns the raw reply.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage) (*ChatResponse, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call model gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &eb) == nil && eb.Error.Message != "" {
			msg = eb.Error.Message
		}
		return nil, &GatewayError{StatusCode: resp.StatusCode, Message: msg, Type: eb.Error.Type}
	}

	var out ChatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode gateway response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("gateway returned no choices")
	}
	return &out, nil
}

// CompleteWithSystem is the system+user two-message convenience form.
func (c *Client) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	resp, err := c.Complete(ctx, []ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

// ParseJSON decodes a model reply into target, tolerating the markdown
// fences and surrounding prose models habitually wrap JSON in.
func ParseJSON(content string, target any) error {
	content = strings.TrimSpace(content)

	if err := json.Unmarshal([]byte(content), target); err == nil {
		return nil
	}
	if block := fencedJSON(content); block != "" {
		if err := json.Unmarshal([]byte(block), target); err == nil {
			return nil
		}
	}
	if value := firstJSONValue(content); value != "" {
		if err := json.Unmarshal([]byte(value), target); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no parseable JSON in model reply")
}

// fencedJSON pulls the body of a ```json or bare ``` code fence.
func fencedJSON(content string) string {
	start := strings.Index(content, "```")
	if start == -1 {
		return ""
	}
	rest := content[start+3:]
	if nl := strings.Index(rest, "\n"); nl != -1 {
		if tag := strings.TrimSpace(rest[:nl]); tag == "" || tag == "json" {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end == -1 {
		return ""
	}
	body := strings.TrimSpace(rest[:end])
	if body == "" || (body[0] != '{' && body[0] != '[') {
		return ""
	}
	return body
}

// firstJSONValue scans for the first balanced {...} or [...] run,
// skipping braces inside string literals.
func firstJSONValue(content string) string {
	for i := 0; i < len(content); i++ {
		open := content[i]
		if open != '{' && open != '[' {
			continue
		}
		closing := byte('}')
		if open == '[' {
			closing = ']'
		}
		depth := 0
		inString := false
		for j := i; j < len(content); j++ {
			switch {
			case inString:
				if content[j] == '\\' {
					j++
				} else if content[j] == '"' {
					inString = false
				}
			case content[j] == '"':
				inString = true
			case content[j] == open:
				depth++
			case content[j] == closing:
				depth--
				if depth == 0 {
					return content[i : j+1]
				}
			}
		}
		return ""
	}
	return ""
}
