// Package events defines the internal event plane of the voxassist pipeline:
// the payload types exchanged between components and a topic-based
// publish/subscribe bus that delivers them.
//
// Topics form a closed set (see the Topic constants). Within a single topic,
// every subscriber observes payloads in publication order; across topics no
// ordering is guaranteed. Handlers of different subscriptions run
// concurrently with each other.
package events

import "encoding/json"

// Speaker identifies which side of the conversation produced a transcript.
type Speaker string

const (
	// SpeakerMe is the local user (microphone channel).
	SpeakerMe Speaker = "ME"

	// SpeakerThem is the remote party (system audio channel).
	SpeakerThem Speaker = "THEM"
)

// Topic names an event stream on the bus.
type Topic string

const (
	// TopicAudioFrameMic and TopicAudioFrameSystem exist for debug taps;
	// the core pipeline moves audio through session queues instead.
	TopicAudioFrameMic    Topic = "audio_frame_mic"
	TopicAudioFrameSystem Topic = "audio_frame_system"

	// TopicTranscriptDelta carries *TranscriptDelta payloads.
	TopicTranscriptDelta Topic = "transcript_delta"

	// TopicTranscriptCompleted carries *TranscriptCompleted payloads.
	TopicTranscriptCompleted Topic = "transcript_completed"

	// TopicTextChunkReady carries *TextChunk payloads from the orchestrator
	// to the hint streamer.
	TopicTextChunkReady Topic = "text_chunk_ready"

	// TopicHintToken carries *HintToken payloads.
	TopicHintToken Topic = "hint_token"

	// TopicHintCompleted carries *HintCompleted payloads.
	TopicHintCompleted Topic = "hint_completed"

	// TopicSessionStatus carries *SessionStatus payloads.
	TopicSessionStatus Topic = "session_status"

	// TopicSTTError and TopicLLMError carry error strings describing
	// upstream failures.
	TopicSTTError Topic = "stt_error"
	TopicLLMError Topic = "llm_error"
)

// TranscriptDelta is a partial transcript update for an open segment.
type TranscriptDelta struct {
	Type      string  `json:"type"`
	Speaker   Speaker `json:"speaker"`
	Text      string  `json:"text"`
	SegmentID string  `json:"segment_id"`
	Timestamp float64 `json:"timestamp"`
}

// NewTranscriptDelta builds a TranscriptDelta with the type tag set.
func NewTranscriptDelta(speaker Speaker, text, segmentID string, ts float64) *TranscriptDelta {
	return &TranscriptDelta{Type: "transcript_delta", Speaker: speaker, Text: text, SegmentID: segmentID, Timestamp: ts}
}

// TranscriptCompleted is the final transcript for a segment. After it is
// published, the segment id is retired.
type TranscriptCompleted struct {
	Type      string  `json:"type"`
	Speaker   Speaker `json:"speaker"`
	Text      string  `json:"text"`
	SegmentID string  `json:"segment_id"`
	Timestamp float64 `json:"timestamp"`
}

// NewTranscriptCompleted builds a TranscriptCompleted with the type tag set.
func NewTranscriptCompleted(speaker Speaker, text, segmentID string, ts float64) *TranscriptCompleted {
	return &TranscriptCompleted{Type: "transcript_completed", Speaker: speaker, Text: text, SegmentID: segmentID, Timestamp: ts}
}

// TextChunk is an aggregated, trigger-ready unit of transcript text plus the
// context the hint generator needs.
type TextChunk struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`

	// LastContext is the last two completed utterances by the same speaker,
	// oldest first, space-joined.
	LastContext string `json:"last_context"`

	// GlobalContext is recent multi-speaker transcript rendered as
	// [ME]/[THEM]-tagged lines, at most 500 characters, chronological order.
	GlobalContext string `json:"global_context,omitempty"`

	IsQuestion bool `json:"is_question"`
}

// HintToken is a single streamed token of an in-flight hint.
type HintToken struct {
	Type   string `json:"type"`
	HintID string `json:"hint_id"`
	Token  string `json:"token"`
}

// NewHintToken builds a HintToken with the type tag set.
func NewHintToken(hintID, token string) *HintToken {
	return &HintToken{Type: "hint_token", HintID: hintID, Token: token}
}

// HintCompleted is the final, bullet-formatted hint text.
type HintCompleted struct {
	Type      string `json:"type"`
	HintID    string `json:"hint_id"`
	FinalText string `json:"final_text"`
	Mode      string `json:"mode"`
}

// NewHintCompleted builds a HintCompleted with the type tag set.
func NewHintCompleted(hintID, finalText, mode string) *HintCompleted {
	return &HintCompleted{Type: "hint_completed", HintID: hintID, FinalText: finalText, Mode: mode}
}

// SessionStatus is the periodic status frame sent to the client.
type SessionStatus struct {
	Type               string `json:"type"`
	Connected          bool   `json:"connected"`
	STTMicState        string `json:"stt_mic_state"`
	STTSystemState     string `json:"stt_system_state"`
	LLMState           string `json:"llm_state"`
	DroppedFramesCount int64  `json:"dropped_frames_count"`
	HintsEnabled       bool   `json:"hints_enabled"`
}

// NewSessionStatus builds a SessionStatus with the type tag set and
// idle component states.
func NewSessionStatus(connected bool) *SessionStatus {
	return &SessionStatus{
		Type:           "status",
		Connected:      connected,
		STTMicState:    "idle",
		STTSystemState: "idle",
		LLMState:       "idle",
		HintsEnabled:   true,
	}
}

// ErrorMessage is an error frame sent to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// NewErrorMessage builds an ErrorMessage with the type tag set.
func NewErrorMessage(message string) *ErrorMessage {
	return &ErrorMessage{Type: "error", Message: message}
}

// MarshalPayload serialises a server-to-client payload as JSON. It exists so
// callers don't depend on encoding/json directly for wire frames.
func MarshalPayload(v any) ([]byte, error) {
	return json.Marshal(v)
}
