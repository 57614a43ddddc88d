// Package session holds the per-session state of the pipeline: the session
// model with its audio queues and statistics, the single-session manager and
// the transcription service feeding audio into the STT provider.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxassist/pkg/audio"
)

// State is the lifecycle state of a session.
type State string

const (
	StateCreated State = "created"
	StateActive  State = "active"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// Mode selects the hint generation behaviour.
type Mode string

const (
	// ModeInterview generates answer hints when the remote party asks a
	// question. A new question preempts an in-flight hint.
	ModeInterview Mode = "interview_assistant"

	// ModeMeeting generates context hints for remote-party statements,
	// rate limited; the latest chunk wins.
	ModeMeeting Mode = "meeting_assistant"
)

// IsValid reports whether m is a recognised session mode.
func (m Mode) IsValid() bool {
	return m == ModeInterview || m == ModeMeeting
}

// Stats are the session counters. All fields are updated concurrently from
// the ingress, transcription and hint paths.
type Stats struct {
	TotalFramesMic     atomic.Int64
	TotalFramesSystem  atomic.Int64
	TranscriptSegments atomic.Int64
	HintsGenerated     atomic.Int64
	STTErrors          atomic.Int64
	LLMErrors          atomic.Int64
}

// Session is one active assistant session.
type Session struct {
	ID        string
	CreatedAt time.Time

	// MicQueue and SystemQueue buffer inbound audio per channel.
	MicQueue    *audio.FrameQueue
	SystemQueue *audio.FrameQueue

	Stats Stats

	mu                 sync.Mutex
	state              State
	mode               Mode
	hintsEnabled       bool
	customPrompt       string
	knowledgeWorkspace string

	ctx     context.Context
	cancel  context.CancelFunc
	closers []func() error
}

// New creates a session in the created state with empty audio queues.
func New(mode Mode) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:           uuid.NewString(),
		CreatedAt:    time.Now().UTC(),
		MicQueue:     audio.NewFrameQueue(audio.DefaultQueueCapacity),
		SystemQueue:  audio.NewFrameQueue(audio.DefaultQueueCapacity),
		state:        StateCreated,
		mode:         mode,
		hintsEnabled: true,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Context is cancelled when the session stops. Background services of the
// session must exit when it is done.
func (s *Session) Context() context.Context { return s.ctx }

// AddCloser registers cleanup to run on stop. Closers run in reverse
// registration order.
func (s *Session) AddCloser(fn func() error) {
	s.mu.Lock()
	s.closers = append(s.closers, fn)
	s.mu.Unlock()
}

func (s *Session) takeClosers() []func() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	closers := s.closers
	s.closers = nil
	return closers
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Active reports whether the session is processing audio.
func (s *Session) Active() bool { return s.State() == StateActive }

// Mode reports the hint generation mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode switches the hint generation mode mid-session.
func (s *Session) SetMode(mode Mode) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
}

// HintsEnabled reports whether hint generation is on.
func (s *Session) HintsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hintsEnabled
}

// SetHintsEnabled toggles hint generation.
func (s *Session) SetHintsEnabled(enabled bool) {
	s.mu.Lock()
	s.hintsEnabled = enabled
	s.mu.Unlock()
}

// CustomPrompt reports the extra instructions appended to the system prompt.
func (s *Session) CustomPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customPrompt
}

// SetCustomPrompt sets extra instructions for hint generation.
func (s *Session) SetCustomPrompt(prompt string) {
	s.mu.Lock()
	s.customPrompt = prompt
	s.mu.Unlock()
}

// KnowledgeWorkspace reports the workspace used for retrieval, empty when
// none is selected.
func (s *Session) KnowledgeWorkspace() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.knowledgeWorkspace
}

// SetKnowledgeWorkspace selects the retrieval workspace.
func (s *Session) SetKnowledgeWorkspace(workspace string) {
	s.mu.Lock()
	s.knowledgeWorkspace = workspace
	s.mu.Unlock()
}

// DroppedFrames is the total number of audio frames evicted from both
// queues.
func (s *Session) DroppedFrames() int64 {
	return s.MicQueue.Dropped() + s.SystemQueue.Dropped()
}

// Status is the JSON representation of a session for clients.
type Status struct {
	SessionID          string      `json:"session_id"`
	State              State       `json:"state"`
	Mode               Mode        `json:"mode"`
	HintsEnabled       bool        `json:"hints_enabled"`
	KnowledgeWorkspace string      `json:"knowledge_workspace,omitempty"`
	Stats              StatusStats `json:"stats"`
}

// StatusStats is the stats block of a Status.
type StatusStats struct {
	DroppedFrames      int64 `json:"dropped_frames"`
	TranscriptSegments int64 `json:"transcript_segments"`
	HintsGenerated     int64 `json:"hints_generated"`
}

// Status snapshots the session for clients.
func (s *Session) Status() Status {
	s.mu.Lock()
	state, mode, hints, workspace := s.state, s.mode, s.hintsEnabled, s.knowledgeWorkspace
	s.mu.Unlock()
	return Status{
		SessionID:          s.ID,
		State:              state,
		Mode:               mode,
		HintsEnabled:       hints,
		KnowledgeWorkspace: workspace,
		Stats: StatusStats{
			DroppedFrames:      s.DroppedFrames(),
			TranscriptSegments: s.Stats.TranscriptSegments.Load(),
			HintsGenerated:     s.Stats.HintsGenerated.Load(),
		},
	}
}
