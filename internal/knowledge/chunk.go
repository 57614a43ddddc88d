package knowledge

import "strings"

const (
	chunkMaxChars = 1000
	chunkOverlap  = 100
)

// chunkBreaks are tried in order when looking for a natural boundary near
// the end of a chunk.
var chunkBreaks = []string{".", "!", "?", "\n\n"}

// ChunkText splits text into overlapping chunks of at most maxChars
// characters. Boundaries prefer the last sentence end in the second half of
// the window; consecutive chunks share overlap characters. Text that fits
// in one chunk is returned as-is.
func ChunkText(text string, maxChars, overlap int) []string {
	if len(text) <= maxChars {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + maxChars
		if end < len(text) {
			for _, brk := range chunkBreaks {
				if p := lastIndexIn(text, brk, start+maxChars/2, end); p > start {
					end = p + 1
					break
				}
			}
		}

		// The slice is clamped but the window is not, so the next start
		// always moves past the end of the text on the final chunk.
		sliceEnd := min(end, len(text))
		chunks = append(chunks, strings.TrimSpace(text[start:sliceEnd]))
		start = end - overlap
	}
	return chunks
}

// lastIndexIn finds the last occurrence of sep contained in text[from:to],
// returning its absolute start position or -1.
func lastIndexIn(text, sep string, from, to int) int {
	if from < 0 {
		from = 0
	}
	if to > len(text) {
		to = len(text)
	}
	if from >= to {
		return -1
	}
	idx := strings.LastIndex(text[from:to], sep)
	if idx < 0 {
		return -1
	}
	return from + idx
}
