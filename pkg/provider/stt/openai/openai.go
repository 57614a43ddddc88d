// Package openai implements the stt.Provider interface on OpenAI's Realtime
// API in transcription mode.
//
// The client holds a WebSocket connection per stream, pushes audio as
// base64-encoded PCM16 input_audio_buffer.append events and tracks speech
// segments from server VAD events: speech_started opens a segment id,
// transcription deltas and the final transcript are reported under it.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/voxassist/pkg/provider/stt"
)

// Compile-time assertions that Provider and stream satisfy the stt interfaces.
var _ stt.Provider = (*Provider)(nil)
var _ stt.Stream = (*stream)(nil)

const (
	defaultModel   = "gpt-4o-mini-transcribe"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// Server VAD tuning. Short silence keeps segment turnaround low for
	// conversational audio.
	vadThreshold       = 0.5
	vadPrefixPaddingMs = 300
	vadSilenceMs       = 300
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the transcription model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements stt.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates an OpenAI Realtime transcription Provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect dials the Realtime endpoint and configures the session for
// transcription with server VAD. The returned stream accepts audio
// immediately.
func (p *Provider) Connect(ctx context.Context, handlers stt.Handlers) (stt.Stream, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}

	streamCtx, streamCancel := context.WithCancel(context.Background())
	s := &stream{
		conn:     conn,
		handlers: handlers,
		ctx:      streamCtx,
		cancel:   streamCancel,
	}

	if err := s.sendSessionUpdate(p.model); err != nil {
		streamCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go s.receiveLoop()

	return s, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	InputAudioFormat        string              `json:"input_audio_format"`
	InputAudioTranscription transcriptionParams `json:"input_audio_transcription"`
	TurnDetection           turnDetectionParams `json:"turn_detection"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type turnDetectionParams struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail is the nested error object of an error event:
// {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// conversation.item.input_audio_transcription.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── stream ─────────────────────────────────────────────────────────────────────

type stream struct {
	conn     *websocket.Conn
	handlers stt.Handlers

	mu     sync.Mutex
	closed bool

	// currentSegmentID is set by speech_started and retired when the final
	// transcript for the segment arrives.
	currentSegmentID string

	ctx    context.Context
	cancel context.CancelFunc
}

// sendSessionUpdate configures transcription model, audio format and server
// VAD for the session.
func (s *stream) sendSessionUpdate(model string) error {
	return s.writeJSON(sessionUpdateMessage{
		Type: "session.update",
		Session: sessionParams{
			InputAudioFormat:        "pcm16",
			InputAudioTranscription: transcriptionParams{Model: model},
			TurnDetection: turnDetectionParams{
				Type:              "server_vad",
				Threshold:         vadThreshold,
				PrefixPaddingMs:   vadPrefixPaddingMs,
				SilenceDurationMs: vadSilenceMs,
			},
		},
	})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *stream) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them until the
// stream is closed or the connection fails.
func (s *stream) receiveLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil && s.handlers.OnError != nil {
				s.handlers.OnError(fmt.Errorf("openai: receive: %w", err))
			}
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		s.handleServerEvent(&evt)
	}
}

func (s *stream) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "input_audio_buffer.speech_started":
		s.mu.Lock()
		s.currentSegmentID = uuid.NewString()
		s.mu.Unlock()

	case "conversation.item.input_audio_transcription.delta":
		s.mu.Lock()
		segmentID := s.currentSegmentID
		s.mu.Unlock()
		if evt.Delta == "" || segmentID == "" {
			return
		}
		if s.handlers.OnDelta != nil {
			s.handlers.OnDelta(evt.Delta, segmentID)
		}

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		s.mu.Lock()
		segmentID := s.currentSegmentID
		s.currentSegmentID = ""
		s.mu.Unlock()
		if segmentID == "" {
			segmentID = uuid.NewString()
		}
		if s.handlers.OnCompleted != nil {
			s.handlers.OnCompleted(evt.Transcript, segmentID)
		}

	case "error":
		if s.handlers.OnError == nil {
			return
		}
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		s.handlers.OnError(fmt.Errorf("openai: %s", msg))
	}
}

// ── Stream methods ─────────────────────────────────────────────────────────────

// SendAudio delivers a raw PCM16 audio chunk to the transcription session.
func (s *stream) SendAudio(pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai: stream closed")
	}
	s.mu.Unlock()

	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// Close terminates the stream. Idempotent.
func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "stream closed")
	return nil
}
