package hint

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/voxassist/internal/events"
	"github.com/MrWong99/voxassist/internal/knowledge"
	"github.com/MrWong99/voxassist/internal/session"
	"github.com/MrWong99/voxassist/pkg/provider/llm"
)

// Retriever looks up knowledge context for a hint query.
// *knowledge.Service satisfies it.
type Retriever interface {
	Retrieve(workspace, query string, topK int) string
}

// Streamer consumes trigger-ready text chunks and streams one hint at a
// time. While a hint is in flight, interview mode preempts it in favour of
// the newest chunk; meeting mode lets the current hint finish and then
// generates for the latest chunk only.
type Streamer struct {
	session   *session.Session
	bus       *events.Bus
	provider  llm.Provider
	retriever Retriever
	log       *slog.Logger

	mu         sync.Mutex
	generating bool
	cancelGen  context.CancelFunc
	pending    *events.TextChunk
}

// NewStreamer wires a hint streamer to a session. retriever may be nil when
// no knowledge base is configured.
func NewStreamer(sess *session.Session, bus *events.Bus, provider llm.Provider, retriever Retriever, log *slog.Logger) *Streamer {
	if log == nil {
		log = slog.Default()
	}
	return &Streamer{
		session:   sess,
		bus:       bus,
		provider:  provider,
		retriever: retriever,
		log:       log,
	}
}

// Run subscribes to the text chunk topic and serves hints until ctx is
// cancelled.
func (s *Streamer) Run(ctx context.Context) error {
	s.log.Info("hint streamer starting", "session_id", s.session.ID)
	defer s.log.Info("hint streamer stopped", "session_id", s.session.ID)

	sub := s.bus.Subscribe(events.TopicTextChunkReady, func(p any) {
		if chunk, ok := p.(*events.TextChunk); ok {
			s.onChunk(ctx, chunk)
		}
	})
	defer s.bus.Unsubscribe(sub)

	<-ctx.Done()

	s.mu.Lock()
	if s.cancelGen != nil {
		s.cancelGen()
	}
	s.mu.Unlock()
	return nil
}

// onChunk either starts a generation loop or parks the chunk for the running
// one. Generation runs off the bus goroutine so later chunks can still
// preempt.
func (s *Streamer) onChunk(ctx context.Context, chunk *events.TextChunk) {
	if !s.session.HintsEnabled() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generating {
		if s.session.Mode() == session.ModeInterview && s.cancelGen != nil {
			// A newer question outranks the hint being written.
			s.cancelGen()
		}
		s.pending = chunk
		return
	}

	s.generating = true
	genCtx, cancel := context.WithCancel(ctx)
	s.cancelGen = cancel
	go s.generateLoop(ctx, genCtx, cancel, chunk)
}

// generateLoop serves the chunk and then any chunk that was parked while it
// was busy. The cancel function for the next generation is installed in the
// same critical section that consumes the parked chunk, so a preempt always
// hits the generation actually in flight.
func (s *Streamer) generateLoop(ctx, genCtx context.Context, cancel context.CancelFunc, chunk *events.TextChunk) {
	for chunk != nil && ctx.Err() == nil {
		s.generate(genCtx, chunk)
		cancel()

		s.mu.Lock()
		chunk = s.pending
		s.pending = nil
		if chunk == nil {
			s.generating = false
			s.cancelGen = nil
		} else {
			genCtx, cancel = context.WithCancel(ctx)
			s.cancelGen = cancel
		}
		s.mu.Unlock()
	}
}

func (s *Streamer) generate(genCtx context.Context, chunk *events.TextChunk) {
	hintID := uuid.NewString()

	var knowledgeContext string
	if workspace := s.session.KnowledgeWorkspace(); workspace != "" && s.retriever != nil {
		knowledgeContext = s.retriever.Retrieve(workspace, chunk.Text, knowledge.DefaultTopK)
	}

	mode := s.session.Mode()
	systemPrompt := buildSystemPrompt(mode, knowledgeContext, s.session.CustomPrompt())

	chunks, err := s.provider.StreamCompletion(genCtx, llm.CompletionRequest{
		Messages: buildMessages(mode, chunk, systemPrompt),
	})
	if err != nil {
		s.publishError(err)
		return
	}

	var collected string
	for c := range chunks {
		if c.Err != nil {
			if genCtx.Err() != nil {
				s.log.Info("hint generation cancelled", "hint_id", hintID)
				return
			}
			s.publishError(c.Err)
			return
		}
		if c.Text != "" {
			collected += c.Text
			s.bus.Publish(events.TopicHintToken, events.NewHintToken(hintID, c.Text))
		}
	}

	if genCtx.Err() != nil {
		s.log.Info("hint generation cancelled", "hint_id", hintID)
		return
	}
	if collected == "" {
		return
	}

	formatted := FormatHint(collected)
	s.session.Stats.HintsGenerated.Add(1)
	s.bus.Publish(events.TopicHintCompleted, events.NewHintCompleted(hintID, formatted, string(mode)))
	s.log.Info("hint generated",
		"hint_id", hintID,
		"length", len(formatted),
		"session_id", s.session.ID)
}

func (s *Streamer) publishError(err error) {
	s.session.Stats.LLMErrors.Add(1)
	s.log.Error("hint generation error", "err", err)
	s.bus.Publish(events.TopicLLMError, err.Error())
}
