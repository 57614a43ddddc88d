package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/MrWong99/voxassist/internal/knowledge"
	"github.com/MrWong99/voxassist/pkg/audio"
)

// maxUploadBytes caps a single document upload.
const maxUploadBytes = 32 << 20

// registerAPI mounts the REST routes. Responses and error bodies follow the
// shape the web client expects: payloads as plain JSON, failures as
// {"detail": "..."}.
func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/workspaces", s.handleCreateWorkspace)
	mux.HandleFunc("GET /api/workspaces", s.handleListWorkspaces)
	mux.HandleFunc("GET /api/workspaces/{name}/stats", s.handleWorkspaceStats)
	mux.HandleFunc("POST /api/workspaces/{name}/files", s.handleUploadFile)
	mux.HandleFunc("GET /api/workspaces/{name}/files", s.handleListFiles)
	mux.HandleFunc("DELETE /api/workspaces/{name}/files/{filename}", s.handleDeleteFile)
	mux.HandleFunc("POST /api/workspaces/{name}/index", s.handleIndexWorkspace)
	mux.HandleFunc("GET /api/session", s.handleSessionInfo)
	mux.HandleFunc("GET /api/config", s.handleConfigInfo)
}

// fileInfo is the per-file entry of file listings.
type fileInfo struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// workspaceStats is the response of the stats endpoint.
type workspaceStats struct {
	Name      string     `json:"name"`
	FileCount int        `json:"file_count"`
	TotalSize int64      `json:"total_size"`
	Files     []fileInfo `json:"files"`
}

func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if err := s.knowledge.CreateWorkspace(name); err != nil {
		s.apiError(w, err)
		return
	}
	writeAPIJSON(w, http.StatusOK, knowledge.WorkspaceInfo{Name: name})
}

func (s *Server) handleListWorkspaces(w http.ResponseWriter, _ *http.Request) {
	infos, err := s.knowledge.ListWorkspaces()
	if err != nil {
		s.apiError(w, err)
		return
	}
	writeAPIJSON(w, http.StatusOK, infos)
}

func (s *Server) handleWorkspaceStats(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	stats, err := s.knowledge.WorkspaceStats(name)
	if err != nil {
		s.apiError(w, err)
		return
	}

	resp := workspaceStats{Name: name, Files: []fileInfo{}}
	for _, st := range stats {
		resp.FileCount++
		resp.TotalSize += st.Size
		resp.Files = append(resp.Files, fileInfo{Filename: st.Name, Size: st.Size})
	}
	writeAPIJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "read upload failed")
		return
	}

	// Uploading into a fresh workspace creates it on the fly.
	if err := s.knowledge.CreateWorkspace(name); err != nil && !errors.Is(err, knowledge.ErrWorkspaceExists) {
		s.apiError(w, err)
		return
	}
	if err := s.knowledge.SaveFile(name, header.Filename, data); err != nil {
		s.apiError(w, err)
		return
	}

	writeAPIJSON(w, http.StatusOK, fileInfo{Filename: header.Filename, Size: int64(len(data))})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	stats, err := s.knowledge.WorkspaceStats(r.PathValue("name"))
	if err != nil {
		s.apiError(w, err)
		return
	}
	files := []fileInfo{}
	for _, st := range stats {
		files = append(files, fileInfo{Filename: st.Name, Size: st.Size})
	}
	writeAPIJSON(w, http.StatusOK, files)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	if err := s.knowledge.DeleteFile(r.PathValue("name"), filename); err != nil {
		s.apiError(w, err)
		return
	}
	writeAPIJSON(w, http.StatusOK, map[string]string{"deleted": filename})
}

func (s *Server) handleIndexWorkspace(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.knowledge.IndexWorkspace(name); err != nil {
		s.apiError(w, err)
		return
	}
	writeAPIJSON(w, http.StatusOK, map[string]string{"indexed": name})
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, _ *http.Request) {
	sess := s.manager.Current()
	if sess == nil {
		writeAPIJSON(w, http.StatusOK, map[string]any{"session": nil})
		return
	}
	writeAPIJSON(w, http.StatusOK, sess.Status())
}

func (s *Server) handleConfigInfo(w http.ResponseWriter, _ *http.Request) {
	writeAPIJSON(w, http.StatusOK, map[string]any{
		"ollama_model":      s.cfg.Ollama.Model,
		"sample_rate":       audio.SampleRateClient,
		"frame_duration_ms": audio.FrameDurationMs,
	})
}

// apiError maps knowledge service errors to HTTP status codes.
func (s *Server) apiError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, knowledge.ErrWorkspaceExists):
		writeAPIError(w, http.StatusBadRequest, "Workspace already exists")
	case errors.Is(err, knowledge.ErrNotMarkdown):
		writeAPIError(w, http.StatusBadRequest, "Only .md files are allowed")
	case errors.Is(err, knowledge.ErrBadName):
		writeAPIError(w, http.StatusBadRequest, "Invalid name")
	case errors.Is(err, knowledge.ErrWorkspaceNotFound):
		writeAPIError(w, http.StatusNotFound, "Workspace not found")
	case errors.Is(err, knowledge.ErrFileNotFound):
		writeAPIError(w, http.StatusNotFound, "File not found")
	default:
		s.log.Error("api request failed", "err", err)
		writeAPIError(w, http.StatusInternalServerError, "Internal error")
	}
}

func writeAPIJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, detail string) {
	writeAPIJSON(w, status, map[string]string{"detail": detail})
}
