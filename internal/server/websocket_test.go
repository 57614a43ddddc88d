package server_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voxassist/internal/config"
	"github.com/MrWong99/voxassist/internal/events"
	"github.com/MrWong99/voxassist/internal/knowledge"
	"github.com/MrWong99/voxassist/internal/observe"
	"github.com/MrWong99/voxassist/internal/server"
	"github.com/MrWong99/voxassist/internal/session"
	"github.com/MrWong99/voxassist/pkg/audio"
	"github.com/MrWong99/voxassist/pkg/provider/llm"
	"github.com/MrWong99/voxassist/pkg/provider/stt"
)

// ── Harness ───────────────────────────────────────────────────────────────────

// fakeSTTProvider hands out streams whose transcript callbacks tests can
// drive directly.
type fakeSTTProvider struct {
	mu        sync.Mutex
	streams   []*fakeSTTStream
	blockSend chan struct{} // when set, SendAudio blocks until closed
}

type fakeSTTStream struct {
	provider *fakeSTTProvider
	handlers stt.Handlers

	mu     sync.Mutex
	frames [][]byte
}

func (p *fakeSTTProvider) Connect(_ context.Context, handlers stt.Handlers) (stt.Stream, error) {
	s := &fakeSTTStream{provider: p, handlers: handlers}
	p.mu.Lock()
	p.streams = append(p.streams, s)
	p.mu.Unlock()
	return s, nil
}

func (p *fakeSTTProvider) stream(t *testing.T, i int) *fakeSTTStream {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		n := len(p.streams)
		p.mu.Unlock()
		if n > i {
			return p.streams[i]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("stream %d never connected", i)
	return nil
}

func (s *fakeSTTStream) SendAudio(pcm []byte) error {
	if s.provider.blockSend != nil {
		<-s.provider.blockSend
	}
	s.mu.Lock()
	s.frames = append(s.frames, pcm)
	s.mu.Unlock()
	return nil
}

func (s *fakeSTTStream) Close() error { return nil }

// fakeLLMProvider streams a fixed bullet for every request.
type fakeLLMProvider struct{}

func (fakeLLMProvider) StreamCompletion(_ context.Context, _ llm.CompletionRequest) (<-chan llm.Chunk, error) {
	out := make(chan llm.Chunk, 2)
	out <- llm.Chunk{Text: "- canned hint"}
	out <- llm.Chunk{FinishReason: "stop"}
	close(out)
	return out, nil
}

type testEnv struct {
	ts      *httptest.Server
	bus     *events.Bus
	manager *session.Manager
	sttProv *fakeSTTProvider
	cfg     *config.Config
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.OpenAI.APIKey = "sk-test"
	cfg.Knowledge.WorkspacesDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}

	know, err := knowledge.NewService(cfg.Knowledge.WorkspacesDir, nil)
	if err != nil {
		t.Fatalf("knowledge service: %v", err)
	}

	bus := events.NewBus(nil)
	t.Cleanup(bus.Close)
	manager := session.NewManager(nil)
	t.Cleanup(manager.Shutdown)

	sttProv := &fakeSTTProvider{}
	srv := server.New(cfg, bus, manager, know, sttProv, fakeLLMProvider{}, nil, nil)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, bus: bus, manager: manager, sttProv: sttProv, cfg: cfg}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

// frame is the decoded union of all server-to-client frames.
type frame struct {
	Type               string  `json:"type"`
	Speaker            string  `json:"speaker"`
	Text               string  `json:"text"`
	SegmentID          string  `json:"segment_id"`
	Token              string  `json:"token"`
	HintID             string  `json:"hint_id"`
	FinalText          string  `json:"final_text"`
	Message            string  `json:"message"`
	Connected          bool    `json:"connected"`
	STTMicState        string  `json:"stt_mic_state"`
	DroppedFramesCount int64   `json:"dropped_frames_count"`
	HintsEnabled       *bool   `json:"hints_enabled"`
	Timestamp          float64 `json:"timestamp"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame %q: %v", data, err)
	}
	return f
}

// awaitFrame reads frames until one of the wanted type arrives.
func awaitFrame(t *testing.T, conn *websocket.Conn, wantType string) frame {
	t.Helper()
	for i := 0; i < 20; i++ {
		if f := readFrame(t, conn); f.Type == wantType {
			return f
		}
	}
	t.Fatalf("no %q frame within 20 frames", wantType)
	return frame{}
}

func sendControl(t *testing.T, conn *websocket.Conn, msg any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(msg)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("send control: %v", err)
	}
}

func sendAudio(t *testing.T, conn *websocket.Conn, tag byte, samples int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data := append([]byte{tag}, audio.SamplesToBytes(make([]int16, samples))...)
	if err := conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		t.Fatalf("send audio: %v", err)
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestWebSocketConnectSendsInitialStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t)

	f := readFrame(t, conn)
	if f.Type != "status" || !f.Connected {
		t.Fatalf("initial frame = %+v, want connected status", f)
	}
	if f.STTMicState != "idle" {
		t.Errorf("stt state = %q, want idle before start", f.STTMicState)
	}
	if env.manager.Current() == nil {
		t.Error("connect did not create a session")
	}
}

func TestWebSocketSessionPipeline(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t)
	readFrame(t, conn) // initial status

	sendControl(t, conn, map[string]string{"type": "start_session"})
	f := awaitFrame(t, conn, "status")
	if f.STTMicState != "active" {
		t.Fatalf("status after start = %+v", f)
	}

	// Audio frames flow through the queues into the provider, resampled.
	sendAudio(t, conn, 0, audio.FrameSamplesClient)
	mic := env.sttProv.stream(t, 0)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mic.mu.Lock()
		n := len(mic.frames)
		mic.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mic.mu.Lock()
	if len(mic.frames) != 1 {
		t.Fatalf("provider got %d frames, want 1", len(mic.frames))
	}
	if got := len(mic.frames[0]) / 2; got != audio.FrameSamplesSTT {
		t.Errorf("frame has %d samples, want %d", got, audio.FrameSamplesSTT)
	}
	mic.mu.Unlock()

	// Transcripts come back over the socket.
	system := env.sttProv.stream(t, 1)
	system.handlers.OnDelta("Wha", "seg-1")
	delta := awaitFrame(t, conn, "transcript_delta")
	if delta.Speaker != "THEM" || delta.Text != "Wha" {
		t.Errorf("delta frame = %+v", delta)
	}

	system.handlers.OnCompleted("What is sharding?", "seg-1")
	completed := awaitFrame(t, conn, "transcript_completed")
	if completed.Text != "What is sharding?" {
		t.Errorf("completed frame = %+v", completed)
	}

	// The question triggers a hint from the fake model.
	hint := awaitFrame(t, conn, "hint_completed")
	if hint.FinalText != "- canned hint" {
		t.Errorf("hint frame = %+v", hint)
	}

	sendControl(t, conn, map[string]string{"type": "stop_session"})
	stopped := awaitFrame(t, conn, "status")
	if stopped.STTMicState != "idle" {
		t.Errorf("status after stop = %+v", stopped)
	}
}

func TestWebSocketMalformedControlKeepsConnection(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t)
	readFrame(t, conn) // initial status

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("send: %v", err)
	}

	f := awaitFrame(t, conn, "error")
	if f.Message != "Invalid JSON" {
		t.Errorf("error frame = %+v", f)
	}

	// The connection is still usable.
	sendControl(t, conn, map[string]string{"type": "pause_hints"})
	status := awaitFrame(t, conn, "status")
	if status.HintsEnabled == nil || *status.HintsEnabled {
		t.Errorf("status after pause = %+v", status)
	}
}

func TestWebSocketModeAndPromptControls(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t)
	readFrame(t, conn)

	sendControl(t, conn, map[string]string{"type": "set_mode", "mode": "meeting_assistant"})
	awaitFrame(t, conn, "status")
	sendControl(t, conn, map[string]string{"type": "set_prompt", "prompt": "Be brief."})
	sendControl(t, conn, map[string]string{"type": "set_knowledge", "workspace": "notes"})
	// Invalid mode is ignored without closing the connection.
	sendControl(t, conn, map[string]string{"type": "set_mode", "mode": "bogus"})
	sendControl(t, conn, map[string]string{"type": "resume_hints"})
	awaitFrame(t, conn, "status")

	sess := env.manager.Current()
	if sess.Mode() != session.ModeMeeting {
		t.Errorf("mode = %q", sess.Mode())
	}
	if sess.CustomPrompt() != "Be brief." {
		t.Errorf("prompt = %q", sess.CustomPrompt())
	}
	if sess.KnowledgeWorkspace() != "notes" {
		t.Errorf("workspace = %q", sess.KnowledgeWorkspace())
	}
}

func TestWebSocketQueueOverflowDropsOldest(t *testing.T) {
	env := newTestEnv(t, nil)
	env.sttProv.blockSend = make(chan struct{})
	defer close(env.sttProv.blockSend)

	conn := env.dial(t)
	readFrame(t, conn)
	sendControl(t, conn, map[string]string{"type": "start_session"})
	awaitFrame(t, conn, "status")

	// The provider sink is blocked, so the queue fills and evicts. One frame
	// is stuck in the pump, the queue holds 200; the rest must be dropped.
	for i := 0; i < 260; i++ {
		sendAudio(t, conn, 0, 4)
	}

	// Control frames are processed after all preceding binary frames.
	sendControl(t, conn, map[string]string{"type": "pause_hints"})
	status := awaitFrame(t, conn, "status")
	if status.DroppedFramesCount < 50 {
		t.Errorf("dropped = %d, want >= 50", status.DroppedFramesCount)
	}

	sess := env.manager.Current()
	if got := sess.Stats.TotalFramesMic.Load(); got != 260 {
		t.Errorf("total mic frames = %d, want 260", got)
	}
}

func TestWebSocketDropMetricsAttributedPerChannel(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	cfg := config.Default()
	cfg.OpenAI.APIKey = "sk-test"
	cfg.Knowledge.WorkspacesDir = t.TempDir()
	know, err := knowledge.NewService(cfg.Knowledge.WorkspacesDir, nil)
	if err != nil {
		t.Fatalf("knowledge service: %v", err)
	}
	bus := events.NewBus(nil)
	t.Cleanup(bus.Close)
	manager := session.NewManager(nil)
	t.Cleanup(manager.Shutdown)

	sttProv := &fakeSTTProvider{blockSend: make(chan struct{})}
	defer close(sttProv.blockSend)
	srv := server.New(cfg, bus, manager, know, sttProv, fakeLLMProvider{}, metrics, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	env := &testEnv{ts: ts, bus: bus, manager: manager, sttProv: sttProv, cfg: cfg}

	conn := env.dial(t)
	readFrame(t, conn)
	sendControl(t, conn, map[string]string{"type": "start_session"})
	awaitFrame(t, conn, "status")

	// Overflow only the mic queue; the system queue stays well under capacity.
	for i := 0; i < 260; i++ {
		sendAudio(t, conn, 0, 4)
	}
	for i := 0; i < 5; i++ {
		sendAudio(t, conn, 1, 4)
	}
	sendControl(t, conn, map[string]string{"type": "pause_hints"})
	awaitFrame(t, conn, "status")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	dropsByChannel := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "voxassist.audio.frames_dropped" {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("frames_dropped is %T, want Sum[int64]", met.Data)
			}
			for _, dp := range sum.DataPoints {
				ch, _ := dp.Attributes.Value("channel")
				dropsByChannel[ch.AsString()] += dp.Value
			}
		}
	}

	if dropsByChannel["mic"] < 50 {
		t.Errorf("mic drops = %d, want >= 50", dropsByChannel["mic"])
	}
	if dropsByChannel["system"] != 0 {
		t.Errorf("system drops = %d, want 0", dropsByChannel["system"])
	}
	if got := env.manager.Current().DroppedFrames(); got != dropsByChannel["mic"] {
		t.Errorf("metric total = %d, session counter = %d", dropsByChannel["mic"], got)
	}
}

func TestWebSocketIgnoresUnknownChannelTag(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t)
	readFrame(t, conn)
	sendControl(t, conn, map[string]string{"type": "start_session"})
	awaitFrame(t, conn, "status")

	sendAudio(t, conn, 7, 4)
	sendControl(t, conn, map[string]string{"type": "pause_hints"})
	awaitFrame(t, conn, "status")

	sess := env.manager.Current()
	if sess.Stats.TotalFramesMic.Load() != 0 || sess.Stats.TotalFramesSystem.Load() != 0 {
		t.Error("unknown channel tag was counted")
	}
}

func TestWebSocketDebugAudioTee(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, func(c *config.Config) {
		c.Debug.SaveAudio = true
		c.Debug.AudioPath = dir
	})

	conn := env.dial(t)
	readFrame(t, conn)
	sessionID := env.manager.Current().ID

	sendControl(t, conn, map[string]string{"type": "start_session"})
	awaitFrame(t, conn, "status")

	sendAudio(t, conn, 0, audio.FrameSamplesClient)
	sendControl(t, conn, map[string]string{"type": "pause_hints"})
	awaitFrame(t, conn, "status")

	path := filepath.Join(dir, sessionID+"-mic.pcm")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fi, err := os.Stat(path); err == nil && fi.Size() == int64(audio.FrameSamplesClient*2) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("capture file missing: %v", err)
	}
	t.Fatalf("capture size = %d, want %d", fi.Size(), audio.FrameSamplesClient*2)
}
