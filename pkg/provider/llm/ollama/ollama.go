// Package ollama implements the llm.Provider interface against Ollama's
// OpenAI-compatible chat completions endpoint.
//
// Requests go to POST {base}/v1/chat/completions with stream enabled;
// responses arrive as server-sent "data:" lines that each carry one delta,
// terminated by a [DONE] sentinel.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/voxassist/pkg/provider/llm"
)

// Compile-time assertion that Provider satisfies the llm interface.
var _ llm.Provider = (*Provider)(nil)

const (
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "llama3.1:8b"
	defaultTimeout = 30 * time.Second

	defaultTemperature = 0.7
	defaultTopP        = 0.9
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model requested from Ollama.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the Ollama base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) { p.client = client }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements llm.Provider for a local or remote Ollama instance.
type Provider struct {
	baseURL string
	model   string
	client  *http.Client
}

// New creates an Ollama Provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL: defaultBaseURL,
		model:   defaultModel,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Model reports the configured model name.
func (p *Provider) Model() string { return p.model }

// Ping checks that the Ollama HTTP endpoint answers at all. Used by
// readiness probes.
func (p *Provider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("ollama: ping request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: ping: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

// ── Wire types ─────────────────────────────────────────────────────────────────

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// ── StreamCompletion ───────────────────────────────────────────────────────────

// StreamCompletion posts a streaming chat request and emits one Chunk per
// delta line until the [DONE] sentinel or a failure.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("ollama: empty message list")
	}

	body := chatRequest{
		Model:    p.model,
		Messages: req.Messages,
		Stream:   true,
		Options: chatOptions{
			Temperature: req.Temperature,
			TopP:        req.TopP,
		},
	}
	if body.Options.Temperature == 0 {
		body.Options.Temperature = defaultTemperature
	}
	if body.Options.TopP == 0 {
		body.Options.TopP = defaultTopP
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, fmt.Errorf("ollama: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	out := make(chan llm.Chunk, 16)
	go p.readStream(ctx, resp.Body, out)
	return out, nil
}

// readStream parses SSE lines into chunks. It owns out and closes it on
// exit.
func (p *Provider) readStream(ctx context.Context, body io.ReadCloser, out chan<- llm.Chunk) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			p.emit(ctx, out, llm.Chunk{FinishReason: "stop"})
			return
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			if !p.emit(ctx, out, llm.Chunk{Text: choice.Delta.Content}) {
				return
			}
		}
		if choice.FinishReason != "" {
			p.emit(ctx, out, llm.Chunk{FinishReason: choice.FinishReason})
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		p.emit(ctx, out, llm.Chunk{
			FinishReason: "error",
			Err:          fmt.Errorf("ollama: read stream: %w", err),
		})
	}
}

// emit sends a chunk unless the context is done first.
func (p *Provider) emit(ctx context.Context, out chan<- llm.Chunk, chunk llm.Chunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
