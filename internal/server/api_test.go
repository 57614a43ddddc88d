package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/voxassist/internal/session"
)

func doJSON(t *testing.T, method, url string, body io.Reader, contentType string, v any) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s %s response: %v", method, url, err)
		}
	}
	return resp
}

func uploadMarkdown(t *testing.T, url, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(part, content)
	mw.Close()
	return doJSON(t, http.MethodPost, url, &buf, mw.FormDataContentType(), nil)
}

func TestWorkspaceLifecycleAPI(t *testing.T) {
	env := newTestEnv(t, nil)
	base := env.ts.URL + "/api/workspaces"

	var created struct {
		Name string `json:"name"`
	}
	resp := doJSON(t, http.MethodPost, base+"?name=interview-prep", nil, "", &created)
	if resp.StatusCode != http.StatusOK || created.Name != "interview-prep" {
		t.Fatalf("create = %d %+v", resp.StatusCode, created)
	}

	var dup struct {
		Detail string `json:"detail"`
	}
	resp = doJSON(t, http.MethodPost, base+"?name=interview-prep", nil, "", &dup)
	if resp.StatusCode != http.StatusBadRequest || dup.Detail != "Workspace already exists" {
		t.Errorf("duplicate create = %d %+v", resp.StatusCode, dup)
	}

	resp = doJSON(t, http.MethodPost, base+"?name=../escape", nil, "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("traversal name = %d, want 400", resp.StatusCode)
	}

	var list []struct {
		Name      string `json:"name"`
		FileCount int    `json:"file_count"`
	}
	doJSON(t, http.MethodGet, base, nil, "", &list)
	if len(list) != 1 || list[0].Name != "interview-prep" {
		t.Fatalf("list = %+v", list)
	}
}

func TestFileUploadAndStatsAPI(t *testing.T) {
	env := newTestEnv(t, nil)
	base := env.ts.URL + "/api/workspaces"

	// Uploading into a missing workspace creates it.
	resp := uploadMarkdown(t, base+"/notes/files", "kafka.md", "# Kafka\n\nPartitions order messages.")
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload = %d %s", resp.StatusCode, body)
	}

	resp = uploadMarkdown(t, base+"/notes/files", "notes.txt", "plain text")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("non-markdown upload = %d, want 400", resp.StatusCode)
	}

	var stats struct {
		Name      string `json:"name"`
		FileCount int    `json:"file_count"`
		TotalSize int64  `json:"total_size"`
		Files     []struct {
			Filename string `json:"filename"`
			Size     int64  `json:"size"`
		} `json:"files"`
	}
	doJSON(t, http.MethodGet, base+"/notes/stats", nil, "", &stats)
	if stats.FileCount != 1 || len(stats.Files) != 1 || stats.Files[0].Filename != "kafka.md" {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.TotalSize != stats.Files[0].Size || stats.TotalSize == 0 {
		t.Errorf("sizes = %+v", stats)
	}

	resp = doJSON(t, http.MethodGet, base+"/missing/stats", nil, "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing workspace stats = %d, want 404", resp.StatusCode)
	}

	var deleted map[string]string
	resp = doJSON(t, http.MethodDelete, base+"/notes/files/kafka.md", nil, "", &deleted)
	if resp.StatusCode != http.StatusOK || deleted["deleted"] != "kafka.md" {
		t.Errorf("delete = %d %+v", resp.StatusCode, deleted)
	}
	resp = doJSON(t, http.MethodDelete, base+"/notes/files/kafka.md", nil, "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("delete missing = %d, want 404", resp.StatusCode)
	}
}

func TestIndexWorkspaceAPI(t *testing.T) {
	env := newTestEnv(t, nil)
	base := env.ts.URL + "/api/workspaces"

	uploadMarkdown(t, base+"/kb/files", "redis.md", "# Redis\n\nRedis keeps data in memory.")

	resp := doJSON(t, http.MethodPost, base+"/kb/index", nil, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("index = %d", resp.StatusCode)
	}

	indexPath := filepath.Join(env.cfg.Knowledge.WorkspacesDir, "kb", ".index.json")
	if _, err := os.Stat(indexPath); err != nil {
		t.Errorf("index file not written: %v", err)
	}

	resp = doJSON(t, http.MethodPost, base+"/missing/index", nil, "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("index missing workspace = %d, want 404", resp.StatusCode)
	}
}

func TestSessionInfoAPI(t *testing.T) {
	env := newTestEnv(t, nil)
	url := env.ts.URL + "/api/session"

	var empty map[string]any
	doJSON(t, http.MethodGet, url, nil, "", &empty)
	if v, ok := empty["session"]; !ok || v != nil {
		t.Fatalf("no-session response = %+v", empty)
	}

	sess := env.manager.Create(session.ModeMeeting)
	var status struct {
		SessionID    string `json:"session_id"`
		State        string `json:"state"`
		Mode         string `json:"mode"`
		HintsEnabled bool   `json:"hints_enabled"`
	}
	doJSON(t, http.MethodGet, url, nil, "", &status)
	if status.SessionID != sess.ID || status.Mode != string(session.ModeMeeting) {
		t.Errorf("session info = %+v", status)
	}
	if status.State != string(session.StateCreated) || !status.HintsEnabled {
		t.Errorf("session info = %+v", status)
	}
}

func TestConfigInfoAPI(t *testing.T) {
	env := newTestEnv(t, nil)

	var cfg struct {
		OllamaModel     string `json:"ollama_model"`
		SampleRate      int    `json:"sample_rate"`
		FrameDurationMs int    `json:"frame_duration_ms"`
	}
	doJSON(t, http.MethodGet, env.ts.URL+"/api/config", nil, "", &cfg)

	if cfg.OllamaModel != env.cfg.Ollama.Model {
		t.Errorf("ollama_model = %q, want %q", cfg.OllamaModel, env.cfg.Ollama.Model)
	}
	if cfg.SampleRate != 16000 || cfg.FrameDurationMs != 20 {
		t.Errorf("audio constants = %+v", cfg)
	}
}

func TestAPIResponsesCarryCorrelationID(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := doJSON(t, http.MethodGet, env.ts.URL+"/api/workspaces", nil, "", nil)
	if got := resp.Header.Get("X-Correlation-ID"); got == "" {
		t.Error("missing X-Correlation-ID header")
	}
}
