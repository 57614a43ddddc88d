package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxassist/internal/events"
	"github.com/MrWong99/voxassist/internal/hint"
	"github.com/MrWong99/voxassist/internal/orchestrator"
	"github.com/MrWong99/voxassist/internal/session"
)

// writeTimeout bounds a single outbound WebSocket frame.
const writeTimeout = 5 * time.Second

// Audio channel tags, the first byte of every binary frame.
const (
	channelMic    = 0
	channelSystem = 1
)

// controlMessage is the JSON control frame sent by the client.
type controlMessage struct {
	Type      string `json:"type"`
	Mode      string `json:"mode"`
	Prompt    string `json:"prompt"`
	Workspace string `json:"workspace"`
}

// connection serves one WebSocket client. Each connection owns one session;
// connecting again replaces the previous session.
type connection struct {
	srv  *Server
	conn *websocket.Conn
	sess *session.Session

	writeMu sync.Mutex
	subs    []*events.Subscription
	tee     *audioTee

	lastDroppedMic    int64
	lastDroppedSystem int64
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // the browser client is served cross-origin
	})
	if err != nil {
		s.log.Error("websocket accept failed", "err", err)
		return
	}

	c := &connection{srv: s, conn: conn}
	c.handle(r.Context())
}

func (c *connection) handle(ctx context.Context) {
	log := c.srv.log
	log.Info("websocket connected")

	c.sess = c.srv.manager.Create(session.ModeInterview)
	c.srv.metrics.ActiveSessions.Add(ctx, 1)
	defer c.srv.metrics.ActiveSessions.Add(context.Background(), -1)

	if c.srv.cfg.Debug.SaveAudio {
		tee, err := newAudioTee(c.srv.cfg.Debug.AudioPath, c.sess.ID)
		if err != nil {
			log.Error("debug audio capture unavailable", "err", err)
		} else {
			c.tee = tee
		}
	}

	c.subscribe()
	defer c.cleanup()

	c.sendStatus(ctx)

	for {
		msgType, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				log.Info("websocket disconnected")
			} else {
				log.Error("websocket read failed", "err", err)
			}
			return
		}

		switch msgType {
		case websocket.MessageBinary:
			c.handleAudio(ctx, data)
		case websocket.MessageText:
			c.handleControl(ctx, data)
		}
	}
}

// handleAudio routes one tagged binary frame into the per-channel queue.
// Frames arriving outside an active session are discarded.
func (c *connection) handleAudio(ctx context.Context, data []byte) {
	if !c.sess.Active() || len(data) < 2 {
		return
	}

	tag, pcm := data[0], data[1:]
	var last *int64
	switch tag {
	case channelMic:
		c.sess.Stats.TotalFramesMic.Add(1)
		c.sess.MicQueue.Push(pcm)
		c.srv.metrics.RecordFrame(ctx, "mic")
		last = &c.lastDroppedMic
	case channelSystem:
		c.sess.Stats.TotalFramesSystem.Add(1)
		c.sess.SystemQueue.Push(pcm)
		c.srv.metrics.RecordFrame(ctx, "system")
		last = &c.lastDroppedSystem
	default:
		c.srv.log.Debug("unknown audio channel tag", "tag", tag)
		return
	}

	if c.tee != nil {
		c.tee.write(tag, pcm)
	}

	// Each queue counts its own evictions; mirror the per-queue delta into
	// metrics under that queue's channel attribute.
	dropped := c.sess.MicQueue.Dropped()
	if tag == channelSystem {
		dropped = c.sess.SystemQueue.Dropped()
	}
	if dropped > *last {
		c.srv.metrics.FramesDropped.Add(ctx, dropped-*last,
			metric.WithAttributes(channelAttr(tag)))
		*last = dropped
	}
}

// handleControl dispatches one JSON control frame. Malformed JSON gets an
// error frame back; the connection stays open.
func (c *connection) handleControl(ctx context.Context, data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.srv.log.Error("invalid control message", "err", err)
		c.sendError(ctx, "Invalid JSON")
		return
	}

	switch msg.Type {
	case "start_session":
		c.startSession(ctx)
	case "stop_session":
		c.srv.manager.Stop(c.sess)
		c.sendStatus(ctx)
	case "pause_hints":
		c.sess.SetHintsEnabled(false)
		c.sendStatus(ctx)
	case "resume_hints":
		c.sess.SetHintsEnabled(true)
		c.sendStatus(ctx)
	case "set_mode":
		mode := session.Mode(msg.Mode)
		if !mode.IsValid() {
			c.srv.log.Warn("invalid mode", "mode", msg.Mode)
			return
		}
		c.sess.SetMode(mode)
		c.sendStatus(ctx)
	case "set_prompt":
		c.sess.SetCustomPrompt(msg.Prompt)
	case "set_knowledge":
		c.sess.SetKnowledgeWorkspace(msg.Workspace)
	default:
		c.srv.log.Warn("unknown control message type", "msg_type", msg.Type)
	}
}

// startSession transitions the session to active and launches the pipeline
// services on the session context. The manager's Stop cancels that context,
// which winds all three down.
func (c *connection) startSession(ctx context.Context) {
	c.srv.manager.Start(c.sess)
	if !c.sess.Active() {
		return
	}

	sessCtx := c.sess.Context()

	sttSvc := session.NewSTTService(c.sess, c.srv.bus, c.srv.sttProv, c.srv.log)
	go func() {
		if err := sttSvc.Run(sessCtx); err != nil {
			c.srv.log.Error("stt service exited", "session_id", c.sess.ID, "err", err)
		}
	}()

	orch := orchestrator.New(c.sess, c.srv.bus, c.srv.log)
	go orch.Run(sessCtx)

	streamer := hint.NewStreamer(c.sess, c.srv.bus, c.srv.llmProv, c.srv.knowledge, c.srv.log)
	go streamer.Run(sessCtx)

	c.sendStatus(ctx)
	c.srv.log.Info("session pipeline started", "session_id", c.sess.ID)
}

// subscribe forwards pipeline events to the client as JSON frames.
func (c *connection) subscribe() {
	forward := func(p any) {
		c.sendJSON(context.Background(), p)
	}
	for _, topic := range []events.Topic{
		events.TopicTranscriptDelta,
		events.TopicTranscriptCompleted,
		events.TopicHintToken,
		events.TopicHintCompleted,
	} {
		c.subs = append(c.subs, c.srv.bus.Subscribe(topic, forward))
	}
}

func (c *connection) sendStatus(ctx context.Context) {
	status := events.NewSessionStatus(true)
	if c.sess.Active() {
		status.STTMicState = "active"
		status.STTSystemState = "active"
	}
	status.DroppedFramesCount = c.sess.DroppedFrames()
	status.HintsEnabled = c.sess.HintsEnabled()
	c.sendJSON(ctx, status)
}

func (c *connection) sendError(ctx context.Context, message string) {
	c.sendJSON(ctx, events.NewErrorMessage(message))
}

// sendJSON serialises and writes one frame under the write lock. Send
// failures are logged, not fatal; the read loop notices a dead peer.
func (c *connection) sendJSON(ctx context.Context, v any) {
	data, err := events.MarshalPayload(v)
	if err != nil {
		c.srv.log.Error("marshal frame failed", "err", err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.conn.Write(wctx, websocket.MessageText, data); err != nil {
		c.srv.log.Error("websocket send failed", "err", err)
	}
}

func (c *connection) cleanup() {
	for _, sub := range c.subs {
		c.srv.bus.Unsubscribe(sub)
	}
	c.subs = nil

	if c.tee != nil {
		if err := c.tee.Close(); err != nil {
			c.srv.log.Error("close debug audio capture failed", "err", err)
		}
	}

	c.srv.manager.Destroy(c.sess.ID)
	c.conn.Close(websocket.StatusNormalClosure, "")
}
