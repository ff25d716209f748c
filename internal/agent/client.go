// Package agent implements the upstream chat-completions client used to
// answer questions. Payloads are assembled with sjson and parsed with gjson,
// and streaming responses are forwarded chunk by chunk as SSE data lines.
package agent

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/satquery/satquery/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const chatCompletionsEndpoint = "/chat/completions"

// Usage holds the token usage breakdown reported by the upstream.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Completion is a finished upstream answer.
type Completion struct {
	Text  string
	Model string
	Usage Usage
}

// StatusError carries the upstream HTTP status and response body for
// pass-through error reporting.
type StatusError struct {
	Code int
	Msg  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Msg)
}

// StatusCode implements a portable status code interface for HTTP handlers.
func (e *StatusError) StatusCode() int { return e.Code }

// Client executes chat completions against an OpenAI-compatible upstream.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds an upstream client from the loaded configuration.
func NewClient(cfg *config.Config) (*Client, error) {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.Upstream.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("agent: upstream.base-url is required")
	}
	timeout := time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second
	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.UpstreamAPIKey(),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) newRequest(ctx context.Context, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatCompletionsEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// Complete performs a non-streaming chat completion request.
func (c *Client) Complete(ctx context.Context, payload []byte) (*Completion, error) {
	req, err := c.newRequest(ctx, payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent: upstream request failed: %w", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("agent: close response body error: %v", errClose)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("agent: read upstream response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Msg: strings.TrimSpace(string(body))}
	}

	root := gjson.ParseBytes(body)
	text := root.Get("choices.0.message.content").String()
	if text == "" {
		return nil, fmt.Errorf("agent: upstream returned no answer text")
	}

	return &Completion{
		Text:  text,
		Model: root.Get("model").String(),
		Usage: parseUsage(root.Get("usage")),
	}, nil
}

// StreamChunk is a single delta from a streaming completion. Raw carries the
// upstream SSE data payload verbatim for pass-through streaming.
type StreamChunk struct {
	Delta string
	Raw   []byte
}

// CompleteStream performs a streaming chat completion request, invoking
// onChunk for every upstream data event. It returns the assembled completion
// once the stream finishes.
func (c *Client) CompleteStream(ctx context.Context, payload []byte, onChunk func(StreamChunk)) (*Completion, error) {
	req, err := c.newRequest(ctx, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent: upstream request failed: %w", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("agent: close response body error: %v", errClose)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, Msg: strings.TrimSpace(string(body))}
	}

	completion := &Completion{}
	var text strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data := bytes.TrimSpace(line[len("data:"):])
		if len(data) == 0 || bytes.Equal(data, []byte("[DONE]")) {
			continue
		}

		root := gjson.ParseBytes(data)
		if model := root.Get("model").String(); model != "" {
			completion.Model = model
		}
		if usage := root.Get("usage"); usage.Exists() && usage.Type == gjson.JSON {
			completion.Usage = parseUsage(usage)
		}
		delta := root.Get("choices.0.delta.content").String()
		if delta != "" {
			text.WriteString(delta)
		}
		if onChunk != nil {
			raw := make([]byte, len(data))
			copy(raw, data)
			onChunk(StreamChunk{Delta: delta, Raw: raw})
		}
	}
	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("agent: read upstream stream: %w", err)
	}

	completion.Text = text.String()
	return completion, nil
}

func parseUsage(usage gjson.Result) Usage {
	return Usage{
		PromptTokens:     usage.Get("prompt_tokens").Int(),
		CompletionTokens: usage.Get("completion_tokens").Int(),
		TotalTokens:      usage.Get("total_tokens").Int(),
	}
}
