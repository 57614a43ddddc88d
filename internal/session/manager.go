package session

import (
	"log/slog"
	"sync"
)

// Manager owns the single active session of the process. Starting a new
// session stops the previous one. All exported methods are safe for
// concurrent use.
type Manager struct {
	log *slog.Logger

	mu      sync.Mutex
	current *Session
}

// NewManager creates an empty Manager. A nil logger falls back to
// slog.Default.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{log: log}
}

// Create makes a new session in the created state. Any previously active
// session is stopped first.
func (m *Manager) Create(mode Mode) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.State() == StateActive {
		m.log.Warn("session already active, stopping previous session",
			"session_id", m.current.ID)
		m.stopLocked(m.current)
	}

	sess := New(mode)
	m.current = sess
	m.log.Info("session created", "session_id", sess.ID, "mode", string(mode))
	return sess
}

// Current returns the current session, or nil when none exists.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Start transitions a created session to active. Starting from any other
// state is a logged no-op.
func (m *Manager) Start(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state := sess.State(); state != StateCreated {
		m.log.Warn("cannot start session in state", "session_id", sess.ID, "state", string(state))
		return
	}
	sess.setState(StateActive)
	m.log.Info("session started", "session_id", sess.ID)
}

// Stop ends a session: cancels its context and runs registered closers in
// reverse order. Idempotent.
func (m *Manager) Stop(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(sess)
}

func (m *Manager) stopLocked(sess *Session) {
	if sess.State() == StateStopped {
		return
	}
	sess.setState(StateStopped)
	sess.cancel()

	closers := sess.takeClosers()
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			m.log.Warn("session closer error", "session_id", sess.ID, "index", i, "err", err)
		}
	}

	m.log.Info("session stopped",
		"session_id", sess.ID,
		"dropped_frames", sess.DroppedFrames(),
		"transcript_segments", sess.Stats.TranscriptSegments.Load(),
		"hints_generated", sess.Stats.HintsGenerated.Load(),
	)
}

// Destroy stops the session and forgets it if it is the current one.
func (m *Manager) Destroy(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.ID != sessionID {
		return
	}
	m.stopLocked(m.current)
	m.current = nil
	m.log.Info("session destroyed", "session_id", sessionID)
}

// Shutdown stops the current session, if any.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.stopLocked(m.current)
		m.current = nil
	}
}
