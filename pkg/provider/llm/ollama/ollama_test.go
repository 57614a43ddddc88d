package ollama_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxassist/pkg/provider/llm"
	"github.com/MrWong99/voxassist/pkg/provider/llm/ollama"
)

// sseTokenBody renders an OpenAI-compatible SSE stream carrying the given
// tokens followed by the [DONE] sentinel.
func sseTokenBody(tokens ...string) string {
	var b strings.Builder
	for _, tok := range tokens {
		payload, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{
				{"delta": map[string]any{"content": tok}},
			},
		})
		fmt.Fprintf(&b, "data: %s\n\n", payload)
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func collectChunks(t *testing.T, ch <-chan llm.Chunk) []llm.Chunk {
	t.Helper()
	var chunks []llm.Chunk
	timeout := time.After(3 * time.Second)
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return chunks
			}
			chunks = append(chunks, chunk)
		case <-timeout:
			t.Fatal("timeout draining completion stream")
		}
	}
}

func TestStreamCompletion_RequestBody(t *testing.T) {
	t.Parallel()

	type gotRequest struct {
		Model    string        `json:"model"`
		Messages []llm.Message `json:"messages"`
		Stream   bool          `json:"stream"`
		Options  struct {
			Temperature float64 `json:"temperature"`
			TopP        float64 `json:"top_p"`
		} `json:"options"`
	}

	received := make(chan gotRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q; want /v1/chat/completions", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var req gotRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("unmarshal request: %v", err)
		}
		received <- req
		io.WriteString(w, sseTokenBody("ok"))
	}))
	t.Cleanup(srv.Close)

	p := ollama.New(ollama.WithBaseURL(srv.URL), ollama.WithModel("llama3.2:3b"))
	ch, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "Question: what is raft?"},
		},
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	collectChunks(t, ch)

	req := <-received
	if req.Model != "llama3.2:3b" {
		t.Errorf("model = %q; want llama3.2:3b", req.Model)
	}
	if !req.Stream {
		t.Error("stream = false; want true")
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
		t.Errorf("messages = %+v", req.Messages)
	}
	if req.Options.Temperature != 0.7 {
		t.Errorf("temperature = %v; want default 0.7", req.Options.Temperature)
	}
	if req.Options.TopP != 0.9 {
		t.Errorf("top_p = %v; want default 0.9", req.Options.TopP)
	}
}

func TestStreamCompletion_EmitsTokensInOrder(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, sseTokenBody("- Explain", " the", " leader", " election"))
	}))
	t.Cleanup(srv.Close)

	p := ollama.New(ollama.WithBaseURL(srv.URL))
	ch, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}

	chunks := collectChunks(t, ch)
	var text strings.Builder
	for _, c := range chunks {
		text.WriteString(c.Text)
	}
	if text.String() != "- Explain the leader election" {
		t.Errorf("joined text = %q", text.String())
	}
	last := chunks[len(chunks)-1]
	if last.FinishReason != "stop" {
		t.Errorf("final chunk finish reason = %q; want stop", last.FinishReason)
	}
}

func TestStreamCompletion_SkipsNonDataLines(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, ": comment\n\nnot-sse-garbage\n")
		io.WriteString(w, sseTokenBody("hello"))
	}))
	t.Cleanup(srv.Close)

	p := ollama.New(ollama.WithBaseURL(srv.URL))
	ch, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}

	chunks := collectChunks(t, ch)
	if len(chunks) != 2 || chunks[0].Text != "hello" {
		t.Errorf("chunks = %+v; want [hello, stop]", chunks)
	}
}

func TestStreamCompletion_NonOKStatus_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	p := ollama.New(ollama.WithBaseURL(srv.URL))
	_, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("want error for non-2xx status")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %v; want status code in message", err)
	}
}

func TestStreamCompletion_EmptyMessages_ReturnsError(t *testing.T) {
	t.Parallel()

	p := ollama.New()
	if _, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Fatal("want error for empty message list")
	}
}

func TestStreamCompletion_UnreachableHost_ReturnsError(t *testing.T) {
	t.Parallel()

	p := ollama.New(ollama.WithBaseURL("http://127.0.0.1:1"))
	if _, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	}); err == nil {
		t.Fatal("want error for unreachable host")
	}
}

func TestStreamCompletion_ContextCancelClosesChannel(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// One token, then hold the stream open with no [DONE].
		payload, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{"delta": map[string]any{"content": "first"}}},
		})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	p := ollama.New(ollama.WithBaseURL(srv.URL))
	ch, err := p.StreamCompletion(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	cancel()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after context cancel")
		}
	}
}
