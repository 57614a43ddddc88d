package observe

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxassist/internal/events"
)

// Recorder mirrors pipeline events from the bus into OTel instruments. One
// recorder serves all sessions; attach it once at startup.
type Recorder struct {
	metrics *Metrics
	bus     *events.Bus

	mu          sync.Mutex
	lastChunkAt time.Time
	subs        []*events.Subscription
}

// NewRecorder creates a recorder over the given bus. metrics may be nil, in
// which case [DefaultMetrics] is used.
func NewRecorder(bus *events.Bus, metrics *Metrics) *Recorder {
	if metrics == nil {
		metrics = DefaultMetrics()
	}
	return &Recorder{metrics: metrics, bus: bus}
}

// Start subscribes the recorder to the pipeline topics. Call [Recorder.Stop]
// to detach.
func (r *Recorder) Start() {
	ctx := context.Background()

	r.subs = append(r.subs,
		r.bus.Subscribe(events.TopicTranscriptCompleted, func(p any) {
			if evt, ok := p.(*events.TranscriptCompleted); ok {
				r.metrics.RecordSegment(ctx, string(evt.Speaker))
			}
		}),
		r.bus.Subscribe(events.TopicTextChunkReady, func(p any) {
			r.mu.Lock()
			r.lastChunkAt = time.Now()
			r.mu.Unlock()
		}),
		r.bus.Subscribe(events.TopicHintToken, func(p any) {
			r.metrics.HintTokens.Add(ctx, 1)
		}),
		r.bus.Subscribe(events.TopicHintCompleted, func(p any) {
			evt, ok := p.(*events.HintCompleted)
			if !ok {
				return
			}
			r.mu.Lock()
			seconds := -1.0
			if !r.lastChunkAt.IsZero() {
				seconds = time.Since(r.lastChunkAt).Seconds()
			}
			r.mu.Unlock()
			r.metrics.RecordHint(ctx, evt.Mode, seconds)
		}),
		r.bus.Subscribe(events.TopicSTTError, func(p any) {
			r.metrics.STTErrors.Add(ctx, 1)
		}),
		r.bus.Subscribe(events.TopicLLMError, func(p any) {
			r.metrics.LLMErrors.Add(ctx, 1)
		}),
	)
}

// Stop detaches the recorder from the bus.
func (r *Recorder) Stop() {
	for _, sub := range r.subs {
		r.bus.Unsubscribe(sub)
	}
	r.subs = nil
}
