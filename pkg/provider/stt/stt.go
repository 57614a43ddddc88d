// Package stt defines the speech-to-text provider interface. A Provider
// opens one streaming transcription session per audio channel; transcript
// updates arrive through callbacks registered at connect time.
package stt

import "context"

// Handlers receive transcription results for one stream. Callbacks are
// invoked sequentially from the stream's receive loop; nil callbacks are
// skipped.
type Handlers struct {
	// OnDelta is called with each partial transcript update and the id of
	// the speech segment it belongs to.
	OnDelta func(text, segmentID string)

	// OnCompleted is called once per segment with the final transcript.
	// The segment id is retired afterwards.
	OnCompleted func(text, segmentID string)

	// OnError is called for non-fatal provider errors. The stream keeps
	// running.
	OnError func(err error)
}

// Provider opens streaming transcription sessions.
type Provider interface {
	// Connect establishes a transcription stream. The stream is ready to
	// accept audio when Connect returns.
	Connect(ctx context.Context, handlers Handlers) (Stream, error)
}

// Stream is one live transcription session.
type Stream interface {
	// SendAudio submits little-endian PCM16 audio at the provider's
	// expected sample rate.
	SendAudio(pcm []byte) error

	// Close terminates the stream and releases resources. Idempotent.
	Close() error
}
