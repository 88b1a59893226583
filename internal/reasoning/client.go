// Package reasoning talks to the configured OpenAI-compatible endpoint.
// It classifies event batches for the scheduler and answers free-form
// prompts for the interactive agent.
package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/agentic-c-eda/sentinel/internal/config"
	"github.com/agentic-c-eda/sentinel/internal/store"
)

// Message is one turn of a chat-completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Client posts chat-completion requests. Endpoint, model, API key and
// timeout are read from the config store on every call so operator
// edits apply without a restart.
type Client struct {
	cfg    *config.Config
	db     *store.Store
	client *http.Client

	// OnCallDuration, when set, observes the wall time of every
	// completion call, successful or not.
	OnCallDuration func(time.Duration)
}

// NewClient builds a client. db may be nil, in which case the static
// configuration values are used as-is.
func NewClient(cfg *config.Config, db *store.Store) *Client {
	return &Client{cfg: cfg, db: db, client: &http.Client{}}
}

func (c *Client) configValue(key, def string) string {
	if c.db != nil {
		return c.db.GetConfig(key, def)
	}
	return def
}

// Timeout returns the currently configured per-call timeout.
func (c *Client) Timeout() time.Duration {
	secs := atoiDefault(c.configValue("llm_timeout", strconv.Itoa(c.cfg.LLMTimeout)), c.cfg.LLMTimeout)
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// ChatCompletion sends messages and returns the content of the first
// choice. The call is bounded by the configured timeout.
func (c *Client) ChatCompletion(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error) {
	return c.chat(ctx, messages, temperature, maxTokens, c.Timeout())
}

// ChatCompletionWithTimeout is ChatCompletion with an explicit
// deadline, for callers that need more than the configured budget.
func (c *Client) ChatCompletionWithTimeout(ctx context.Context, messages []Message, temperature float64, maxTokens int, timeout time.Duration) (string, error) {
	return c.chat(ctx, messages, temperature, maxTokens, timeout)
}

func (c *Client) chat(ctx context.Context, messages []Message, temperature float64, maxTokens int, timeout time.Duration) (string, error) {
	if c.OnCallDuration != nil {
		start := time.Now()
		defer func() { c.OnCallDuration(time.Since(start)) }()
	}

	apiURL := c.configValue("llm_api_url", c.cfg.LLMAPIURL)
	apiKey := c.configValue("llm_api_key", c.cfg.LLMAPIKey)
	model := c.configValue("llm_model", c.cfg.LLMModel)

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("LLM request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("LLM returned %d: %s", resp.StatusCode, truncate(string(respBody), 300))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("LLM response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// TestConnection probes the configured endpoint with a minimal
// completion request. It reports whether the endpoint answered 200 and
// a human-readable message for the dashboard.
func (c *Client) TestConnection(ctx context.Context) (bool, string) {
	apiURL := c.configValue("llm_api_url", c.cfg.LLMAPIURL)
	apiKey := c.configValue("llm_api_key", c.cfg.LLMAPIKey)
	model := c.configValue("llm_model", c.cfg.LLMModel)

	body, err := json.Marshal(map[string]interface{}{
		"model":      model,
		"messages":   []Message{{Role: "user", Content: "test"}},
		"max_tokens": 5,
	})
	if err != nil {
		return false, err.Error()
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return false, "Connection timed out"
		case isConnectionError(err):
			return false, "Could not connect to API"
		default:
			return false, err.Error()
		}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Sprintf("API returned status %d", resp.StatusCode)
	}
	return true, "Connection successful"
}

func isConnectionError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// atoiDefault parses s as an integer, returning def on failure.
func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
