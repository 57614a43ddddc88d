package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// indexFileName is the per-workspace index stored next to the documents.
const indexFileName = ".index.json"

// titleRe captures the first markdown heading of a document.
var titleRe = regexp.MustCompile(`(?m)^#\s+(.+)$`)

// chunkIndex is one scored retrieval unit.
type chunkIndex struct {
	Text     string   `json:"text"`
	Keywords []string `json:"keywords"`

	keywordSet map[string]struct{}
}

// fileIndex is the persisted index of one markdown file.
type fileIndex struct {
	Filename string       `json:"filename"`
	Title    string       `json:"title"`
	Keywords []string     `json:"keywords"`
	Chunks   []chunkIndex `json:"chunks"`
}

// buildFileIndex indexes a single markdown file.
func buildFileIndex(path string) (*fileIndex, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: read %s: %w", filepath.Base(path), err)
	}
	text := string(content)

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if m := titleRe.FindStringSubmatch(text); m != nil {
		title = strings.TrimSpace(m[1])
	}

	idx := &fileIndex{
		Filename: filepath.Base(path),
		Title:    title,
		Keywords: ExtractKeywords(text, fileKeywordCount),
	}
	for _, chunk := range ChunkText(text, chunkMaxChars, chunkOverlap) {
		keywords := ExtractKeywords(chunk, chunkKeywordCount)
		sort.Strings(keywords)
		idx.Chunks = append(idx.Chunks, chunkIndex{
			Text:       chunk,
			Keywords:   keywords,
			keywordSet: keywordSet(keywords),
		})
	}
	return idx, nil
}

// saveIndex writes the workspace index file.
func saveIndex(dir string, indices []*fileIndex) error {
	data, err := json.MarshalIndent(indices, "", "  ")
	if err != nil {
		return fmt.Errorf("knowledge: encode index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, indexFileName), data, 0o644); err != nil {
		return fmt.Errorf("knowledge: write index: %w", err)
	}
	return nil
}

// loadIndex reads a previously saved workspace index, returning nil when
// none exists.
func loadIndex(dir string) ([]*fileIndex, error) {
	data, err := os.ReadFile(filepath.Join(dir, indexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("knowledge: read index: %w", err)
	}
	var indices []*fileIndex
	if err := json.Unmarshal(data, &indices); err != nil {
		return nil, fmt.Errorf("knowledge: decode index: %w", err)
	}
	for _, fi := range indices {
		for i := range fi.Chunks {
			fi.Chunks[i].keywordSet = keywordSet(fi.Chunks[i].Keywords)
		}
	}
	return indices, nil
}
