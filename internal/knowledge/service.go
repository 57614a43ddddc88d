// Package knowledge manages markdown workspaces and retrieves relevant
// passages for hint generation using keyword-overlap scoring. Indexing is
// explicit: Retrieve never re-reads changed documents until IndexWorkspace
// runs again.
package knowledge

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Retrieval tuning. Query keywords are matched against per-chunk keyword
// sets; the context string is capped at a rough 4-chars-per-token budget.
const (
	fileKeywordCount  = 50
	chunkKeywordCount = 20
	queryKeywordCount = 10
	DefaultTopK       = 3
	maxContextTokens  = 2000
	maxContextChars   = maxContextTokens * 4
)

// Service errors returned to the API layer.
var (
	ErrWorkspaceExists   = errors.New("knowledge: workspace already exists")
	ErrWorkspaceNotFound = errors.New("knowledge: workspace not found")
	ErrFileNotFound      = errors.New("knowledge: file not found")
	ErrNotMarkdown       = errors.New("knowledge: only .md files are accepted")
	ErrBadName           = errors.New("knowledge: invalid name")
)

// WorkspaceInfo summarises one workspace for listings.
type WorkspaceInfo struct {
	Name      string `json:"name"`
	FileCount int    `json:"file_count"`
	TotalSize int64  `json:"total_size"`
}

// FileStat is the per-file entry of a workspace stats listing.
type FileStat struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Service owns the workspaces directory and an in-memory index cache.
// All methods are safe for concurrent use.
type Service struct {
	root string
	log  *slog.Logger

	mu    sync.RWMutex
	cache map[string][]*fileIndex
}

// NewService creates a Service rooted at dir, creating the directory when
// missing.
func NewService(dir string, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("knowledge: create workspaces dir: %w", err)
	}
	return &Service{root: dir, log: log, cache: make(map[string][]*fileIndex)}, nil
}

// validName rejects empty names and anything that could escape the
// workspaces directory.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}

func (s *Service) workspaceDir(workspace string) (string, error) {
	if !validName(workspace) {
		return "", ErrBadName
	}
	return filepath.Join(s.root, workspace), nil
}

// CreateWorkspace makes a new empty workspace directory.
func (s *Service) CreateWorkspace(name string) error {
	dir, err := s.workspaceDir(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err == nil {
		return ErrWorkspaceExists
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		return fmt.Errorf("knowledge: create workspace %q: %w", name, err)
	}
	s.log.Info("workspace created", "workspace", name)
	return nil
}

// ListWorkspaces enumerates all workspaces with document counts and sizes.
func (s *Service) ListWorkspaces() ([]WorkspaceInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("knowledge: list workspaces: %w", err)
	}
	infos := []WorkspaceInfo{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info := WorkspaceInfo{Name: e.Name()}
		for _, st := range s.fileStats(filepath.Join(s.root, e.Name())) {
			info.FileCount++
			info.TotalSize += st.Size
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// WorkspaceStats lists the markdown files of one workspace with sizes.
func (s *Service) WorkspaceStats(workspace string) ([]FileStat, error) {
	dir, err := s.workspaceDir(workspace)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, ErrWorkspaceNotFound
	}
	return s.fileStats(dir), nil
}

func (s *Service) fileStats(dir string) []FileStat {
	matches, _ := filepath.Glob(filepath.Join(dir, "*.md"))
	sort.Strings(matches)
	stats := []FileStat{}
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil {
			continue
		}
		stats = append(stats, FileStat{Name: filepath.Base(m), Size: fi.Size()})
	}
	return stats
}

// Files lists the markdown filenames of a workspace.
func (s *Service) Files(workspace string) ([]string, error) {
	stats, err := s.WorkspaceStats(workspace)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(stats))
	for i, st := range stats {
		names[i] = st.Name
	}
	return names, nil
}

// SaveFile stores a markdown document in a workspace. Existing files are
// overwritten.
func (s *Service) SaveFile(workspace, filename string, data []byte) error {
	dir, err := s.workspaceDir(workspace)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		return ErrWorkspaceNotFound
	}
	if !validName(filename) {
		return ErrBadName
	}
	if !strings.HasSuffix(strings.ToLower(filename), ".md") {
		return ErrNotMarkdown
	}
	if err := os.WriteFile(filepath.Join(dir, filename), data, 0o644); err != nil {
		return fmt.Errorf("knowledge: save %s/%s: %w", workspace, filename, err)
	}
	s.log.Info("file saved", "workspace", workspace, "filename", filename, "bytes", len(data))
	return nil
}

// DeleteFile removes a document from a workspace.
func (s *Service) DeleteFile(workspace, filename string) error {
	dir, err := s.workspaceDir(workspace)
	if err != nil {
		return err
	}
	if !validName(filename) {
		return ErrBadName
	}
	path := filepath.Join(dir, filename)
	if _, err := os.Stat(path); err != nil {
		return ErrFileNotFound
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("knowledge: delete %s/%s: %w", workspace, filename, err)
	}
	s.log.Info("file deleted", "workspace", workspace, "filename", filename)
	return nil
}

// IndexWorkspace rebuilds the index of every markdown file in the
// workspace, updates the cache and persists the result. Files that fail to
// index are logged and skipped.
func (s *Service) IndexWorkspace(workspace string) error {
	dir, err := s.workspaceDir(workspace)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		return ErrWorkspaceNotFound
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "*.md"))
	sort.Strings(matches)

	var indices []*fileIndex
	for _, path := range matches {
		idx, err := buildFileIndex(path)
		if err != nil {
			s.log.Error("failed to index file", "filename", filepath.Base(path), "err", err)
			continue
		}
		indices = append(indices, idx)
		s.log.Info("indexed file", "workspace", workspace, "filename", idx.Filename, "chunks", len(idx.Chunks))
	}

	s.mu.Lock()
	s.cache[workspace] = indices
	s.mu.Unlock()

	return saveIndex(dir, indices)
}

// getIndex returns the cached index, loading it from disk or building it on
// first use.
func (s *Service) getIndex(workspace string) []*fileIndex {
	s.mu.RLock()
	indices, ok := s.cache[workspace]
	s.mu.RUnlock()
	if ok {
		return indices
	}

	dir, err := s.workspaceDir(workspace)
	if err != nil {
		return nil
	}
	indices, err = loadIndex(dir)
	if err != nil {
		s.log.Error("failed to load index", "workspace", workspace, "err", err)
	}
	if indices != nil {
		s.mu.Lock()
		s.cache[workspace] = indices
		s.mu.Unlock()
		return indices
	}

	if err := s.IndexWorkspace(workspace); err != nil {
		s.log.Warn("workspace not indexable", "workspace", workspace, "err", err)
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache[workspace]
}

// Retrieve returns up to topK chunks relevant to query, each prefixed with
// its source file, joined by blank lines and capped at the context budget.
// It returns "" when the workspace is empty or nothing matches.
func (s *Service) Retrieve(workspace, query string, topK int) string {
	indices := s.getIndex(workspace)
	if len(indices) == 0 {
		return ""
	}
	queryKeywords := ExtractKeywords(query, queryKeywordCount)
	if len(queryKeywords) == 0 {
		return ""
	}

	type scored struct {
		text     string
		score    int
		filename string
	}
	var candidates []scored
	for _, fi := range indices {
		for i := range fi.Chunks {
			if n := overlapScore(queryKeywords, fi.Chunks[i].keywordSet); n > 0 {
				candidates = append(candidates, scored{fi.Chunks[i].Text, n, fi.Filename})
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	if len(candidates) == 0 {
		return ""
	}

	var parts []string
	total := 0
	for _, c := range candidates {
		text := c.text
		if total+len(text) > maxContextChars {
			remaining := maxContextChars - total
			if remaining <= 100 {
				break
			}
			text = text[:remaining] + "..."
		}
		parts = append(parts, fmt.Sprintf("[From %s]\n%s", c.filename, text))
		total += len(text)
	}
	return strings.Join(parts, "\n\n")
}
