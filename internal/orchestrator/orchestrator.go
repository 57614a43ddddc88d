package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxassist/internal/events"
	"github.com/MrWong99/voxassist/internal/session"
)

// RateLimit is the minimum spacing between meeting-mode hint triggers.
const RateLimit = 2000 * time.Millisecond

// tickInterval is how often pending text is checked for the quiet-period
// trigger.
const tickInterval = 100 * time.Millisecond

// Orchestrator subscribes to transcript events, aggregates them and
// publishes trigger-ready chunks on the text chunk topic.
type Orchestrator struct {
	session *session.Session
	bus     *events.Bus
	log     *slog.Logger

	mu           sync.Mutex
	agg          *aggregator
	lastHintTime time.Time
}

// New wires an orchestrator to a session.
func New(sess *session.Session, bus *events.Bus, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		session: sess,
		bus:     bus,
		log:     log,
		agg:     newAggregator(),
	}
}

// Run subscribes to transcript topics and drives the timeout trigger until
// ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info("orchestrator starting", "session_id", o.session.ID)
	defer o.log.Info("orchestrator stopped", "session_id", o.session.ID)

	deltaSub := o.bus.Subscribe(events.TopicTranscriptDelta, func(p any) {
		if evt, ok := p.(*events.TranscriptDelta); ok {
			o.onDelta(evt)
		}
	})
	defer o.bus.Unsubscribe(deltaSub)

	completedSub := o.bus.Subscribe(events.TopicTranscriptCompleted, func(p any) {
		if evt, ok := p.(*events.TranscriptCompleted); ok {
			o.onCompleted(evt)
		}
	})
	defer o.bus.Unsubscribe(completedSub)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			o.checkTimeout(now)
		}
	}
}

// onDelta accumulates a delta and fires mid-segment when the pending text
// passes the word threshold.
func (o *Orchestrator) onDelta(evt *events.TranscriptDelta) {
	o.mu.Lock()
	o.agg.addDelta(evt)
	var chunk *events.TextChunk
	if o.agg.shouldTriggerWordCount() {
		chunk = o.agg.pendingChunk()
		o.agg.clearPending()
	}
	o.mu.Unlock()

	if chunk != nil {
		o.processChunk(chunk)
	}
}

// onCompleted finalises a segment and fires a chunk for it.
func (o *Orchestrator) onCompleted(evt *events.TranscriptCompleted) {
	o.mu.Lock()
	seg := o.agg.completeSegment(evt)
	chunk := o.agg.chunkFor(seg.speaker, seg.text)
	o.mu.Unlock()

	o.processChunk(chunk)
}

// checkTimeout fires the pending text after a quiet period.
func (o *Orchestrator) checkTimeout(now time.Time) {
	o.mu.Lock()
	var chunk *events.TextChunk
	if o.agg.shouldTriggerTimeout(now) {
		chunk = o.agg.pendingChunk()
		o.agg.clearPending()
	}
	o.mu.Unlock()

	if chunk != nil {
		o.processChunk(chunk)
	}
}

// processChunk applies per-mode gating before publishing the chunk for hint
// generation.
func (o *Orchestrator) processChunk(chunk *events.TextChunk) {
	if !o.session.HintsEnabled() {
		return
	}

	switch o.session.Mode() {
	case session.ModeInterview:
		o.processInterview(chunk)
	case session.ModeMeeting:
		o.processMeeting(chunk)
	}
}

// processInterview publishes only remote-party questions.
func (o *Orchestrator) processInterview(chunk *events.TextChunk) {
	if chunk.Speaker != events.SpeakerThem || !chunk.IsQuestion {
		return
	}
	o.log.Info("interview question detected",
		"text", truncate(chunk.Text, 50),
		"session_id", o.session.ID)
	o.bus.Publish(events.TopicTextChunkReady, chunk)
}

// processMeeting publishes remote-party chunks, rate limited.
func (o *Orchestrator) processMeeting(chunk *events.TextChunk) {
	if chunk.Speaker != events.SpeakerThem {
		return
	}

	o.mu.Lock()
	now := time.Now()
	if now.Sub(o.lastHintTime) < RateLimit {
		o.mu.Unlock()
		o.log.Debug("meeting chunk rate limited", "session_id", o.session.ID)
		return
	}
	o.lastHintTime = now
	o.mu.Unlock()

	o.log.Info("meeting chunk processed",
		"text", truncate(chunk.Text, 50),
		"session_id", o.session.ID)
	o.bus.Publish(events.TopicTextChunkReady, chunk)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
