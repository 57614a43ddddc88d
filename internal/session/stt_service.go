package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxassist/internal/events"
	"github.com/MrWong99/voxassist/pkg/audio"
	"github.com/MrWong99/voxassist/pkg/provider/stt"
)

// STTService runs one transcription stream per audio channel. It pumps
// frames out of the session queues, resamples them to the provider rate and
// publishes transcript events on the bus.
type STTService struct {
	session  *Session
	bus      *events.Bus
	provider stt.Provider
	log      *slog.Logger
}

// NewSTTService wires a transcription service to a session.
func NewSTTService(sess *Session, bus *events.Bus, provider stt.Provider, log *slog.Logger) *STTService {
	if log == nil {
		log = slog.Default()
	}
	return &STTService{session: sess, bus: bus, provider: provider, log: log}
}

// Run connects both streams and pumps audio until ctx is cancelled or the
// session leaves the active state. A connection failure is published as an
// STT error and returned.
func (s *STTService) Run(ctx context.Context) error {
	s.log.Info("stt service starting", "session_id", s.session.ID)
	defer s.log.Info("stt service stopped", "session_id", s.session.ID)

	micStream, err := s.provider.Connect(ctx, s.handlersFor(events.SpeakerMe))
	if err != nil {
		s.publishError(fmt.Errorf("connect mic stream: %w", err))
		return fmt.Errorf("session: connect mic stream: %w", err)
	}
	defer micStream.Close()

	systemStream, err := s.provider.Connect(ctx, s.handlersFor(events.SpeakerThem))
	if err != nil {
		s.publishError(fmt.Errorf("connect system stream: %w", err))
		return fmt.Errorf("session: connect system stream: %w", err)
	}
	defer systemStream.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.pump(gctx, s.session.MicQueue, micStream, events.SpeakerMe) })
	g.Go(func() error { return s.pump(gctx, s.session.SystemQueue, systemStream, events.SpeakerThem) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		s.publishError(err)
		return err
	}
	return nil
}

// pump forwards queued 16 kHz frames to the stream at 24 kHz. Send failures
// are logged and the frame skipped; the stream error handler reports the
// underlying cause.
func (s *STTService) pump(ctx context.Context, queue *audio.FrameQueue, stream stt.Stream, speaker events.Speaker) error {
	for {
		frame, err := queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("session: pop %s frame: %w", speaker, err)
		}
		if err := stream.SendAudio(audio.Resample16kTo24k(frame)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error("send audio failed", "speaker", string(speaker), "err", err)
		}
	}
}

func (s *STTService) handlersFor(speaker events.Speaker) stt.Handlers {
	return stt.Handlers{
		OnDelta: func(text, segmentID string) {
			s.bus.Publish(events.TopicTranscriptDelta,
				events.NewTranscriptDelta(speaker, text, segmentID, now()))
		},
		OnCompleted: func(text, segmentID string) {
			s.session.Stats.TranscriptSegments.Add(1)
			s.bus.Publish(events.TopicTranscriptCompleted,
				events.NewTranscriptCompleted(speaker, text, segmentID, now()))
		},
		OnError: func(err error) {
			s.session.Stats.STTErrors.Add(1)
			s.log.Error("stt stream error", "speaker", string(speaker), "err", err)
			s.bus.Publish(events.TopicSTTError, err.Error())
		},
	}
}

func (s *STTService) publishError(err error) {
	s.session.Stats.STTErrors.Add(1)
	s.log.Error("stt service error", "session_id", s.session.ID, "err", err)
	s.bus.Publish(events.TopicSTTError, err.Error())
}

// now is the event timestamp in fractional seconds since the Unix epoch.
func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
