// Package litellm provides an llm.Generator backed by an OpenAI-compatible
// chat completions endpoint (LiteLLM proxy or any conforming provider).
package litellm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/buildhive/buildhive/internal/config"
	"github.com/buildhive/buildhive/internal/port/llm"
	"github.com/buildhive/buildhive/internal/resilience"
)

const completionsPath = "/v1/chat/completions"

// Client talks to an OpenAI-compatible chat completions API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a completions client from the LLM config.
func NewClient(cfg config.LLM) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Stream    bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Generate performs one completion round-trip and returns the model output
// with its token usage. When the provider omits usage data the token count is
// approximated from the word count.
func (c *Client) Generate(ctx context.Context, prompt, systemPrompt string, maxTokens int) (*llm.Response, error) {
	body, err := json.Marshal(chatRequest{
		Model:     c.model,
		Messages:  buildMessages(prompt, systemPrompt),
		MaxTokens: c.resolveMaxTokens(maxTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	data, err := c.doRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal completion: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices")
	}

	content := parsed.Choices[0].Message.Content
	tokens := parsed.Usage.TotalTokens
	if tokens == 0 {
		tokens = estimateTokens(content)
	}

	return &llm.Response{
		Content:    content,
		TokensUsed: tokens,
		Model:      parsed.Model,
		Provider:   "litellm",
	}, nil
}

// GenerateStream performs a streaming completion and returns a channel of
// content deltas. The channel is closed when the stream ends or ctx is
// cancelled.
func (c *Client) GenerateStream(ctx context.Context, prompt, systemPrompt string, maxTokens int) (<-chan string, error) {
	body, err := json.Marshal(chatRequest{
		Model:     c.model,
		Messages:  buildMessages(prompt, systemPrompt),
		MaxTokens: c.resolveMaxTokens(maxTokens),
		Stream:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal stream request: %w", err)
	}

	req, err := c.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("completion API error %d: %s", resp.StatusCode, string(data))
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer func() { _ = resp.Body.Close() }()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				return
			}

			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}

			select {
			case out <- chunk.Choices[0].Delta.Content:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Health checks endpoint reachability.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("health check status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) resolveMaxTokens(maxTokens int) int {
	if maxTokens > 0 {
		return maxTokens
	}
	return c.maxTokens
}

func (c *Client) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) doRequest(ctx context.Context, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		req, err := c.newRequest(ctx, body)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("completion API error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}

func buildMessages(prompt, systemPrompt string) []chatMessage {
	msgs := make([]chatMessage, 0, 2)
	if systemPrompt != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: systemPrompt})
	}
	return append(msgs, chatMessage{Role: "user", Content: prompt})
}

// estimateTokens approximates usage at roughly 4 tokens per 3 words, used
// only when the provider response carries no usage block.
func estimateTokens(content string) int {
	words := len(strings.Fields(content))
	return words * 4 / 3
}
