// Package server exposes the client-facing surface of VoxAssist: the /ws
// WebSocket endpoint carrying audio and pipeline events, and the REST API
// for knowledge workspaces and session inspection.
package server

import (
	"log/slog"
	"net/http"

	"github.com/MrWong99/voxassist/internal/config"
	"github.com/MrWong99/voxassist/internal/events"
	"github.com/MrWong99/voxassist/internal/knowledge"
	"github.com/MrWong99/voxassist/internal/observe"
	"github.com/MrWong99/voxassist/internal/session"
	"github.com/MrWong99/voxassist/pkg/provider/llm"
	"github.com/MrWong99/voxassist/pkg/provider/stt"
)

// Server wires the connection handler and REST API to the session pipeline.
type Server struct {
	cfg       *config.Config
	log       *slog.Logger
	bus       *events.Bus
	manager   *session.Manager
	knowledge *knowledge.Service
	sttProv   stt.Provider
	llmProv   llm.Provider
	metrics   *observe.Metrics
}

// New assembles a Server from its collaborators. metrics may be nil to use
// the process-wide default; log may be nil to use slog.Default.
func New(cfg *config.Config, bus *events.Bus, manager *session.Manager, know *knowledge.Service, sttProv stt.Provider, llmProv llm.Provider, metrics *observe.Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Server{
		cfg:       cfg,
		log:       log,
		bus:       bus,
		manager:   manager,
		knowledge: know,
		sttProv:   sttProv,
		llmProv:   llmProv,
		metrics:   metrics,
	}
}

// Handler builds the HTTP routing tree. The REST API runs behind the
// observability middleware; the WebSocket endpoint is mounted directly
// because the middleware's response wrapper would break the hijack that the
// upgrade needs.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	api := http.NewServeMux()
	s.registerAPI(api)
	mux.Handle("/api/", observe.Middleware(s.metrics)(api))

	return mux
}
