// Package llm defines the Provider interface for Large Language Model
// backends used to generate hints.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import "context"

// Message is one turn of a chat completion conversation.
type Message struct {
	// Role is "system", "user" or "assistant".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// CompletionRequest carries everything the model needs to produce a
// response. Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation, usually a system prompt followed
	// by user turns.
	Messages []Message

	// Temperature controls output randomness. Zero means the provider
	// default.
	Temperature float64

	// TopP is the nucleus sampling cutoff. Zero means the provider default.
	TopP float64
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content of this chunk. May be empty on
	// the final chunk.
	Text string

	// FinishReason is set on the final chunk and indicates why generation
	// stopped: "stop" for a natural end, "error" when the stream failed
	// mid-flight, "" for non-final chunks.
	FinishReason string

	// Err carries the failure when FinishReason is "error".
	Err error
}

// Provider is the abstraction over any completion backend.
type Provider interface {
	// StreamCompletion sends req to the model and returns a read-only
	// channel emitting Chunk values as they arrive. The channel is closed by
	// the implementation when generation finishes or ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors that
	// occur after the stream is open are surfaced as a final Chunk with
	// FinishReason "error"; the error return is non-nil only for failures
	// that prevent the stream from starting, such as an unreachable host or
	// a non-2xx response.
	//
	// The returned channel is never nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
}
