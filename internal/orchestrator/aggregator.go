// Package orchestrator turns the raw transcript event stream into
// trigger-ready text chunks. Deltas accumulate per speech segment; a chunk
// fires when the pending text grows past the word threshold, when the
// stream pauses, or when a segment completes, subject to per-mode gating.
package orchestrator

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/MrWong99/voxassist/internal/events"
)

// Aggregation tuning.
const (
	// WordThreshold fires a chunk mid-segment once the pending text has
	// this many words.
	WordThreshold = 12

	// Timeout fires a chunk when no delta arrived for this long.
	Timeout = 800 * time.Millisecond

	// historyDepth bounds the completed-segment history ring.
	historyDepth = 20

	// lastContextUtterances is how many recent same-speaker utterances feed
	// a chunk's last context.
	lastContextUtterances = 2

	// globalContextMaxChars caps the multi-speaker context string.
	globalContextMaxChars = 500
)

// questionPatterns match openings that invite an answer. Checked
// case-insensitively against the start of the trimmed text; a question mark
// anywhere also counts.
var questionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^what\b`),
	regexp.MustCompile(`(?i)^why\b`),
	regexp.MustCompile(`(?i)^how\b`),
	regexp.MustCompile(`(?i)^when\b`),
	regexp.MustCompile(`(?i)^where\b`),
	regexp.MustCompile(`(?i)^who\b`),
	regexp.MustCompile(`(?i)^which\b`),
	regexp.MustCompile(`(?i)^can you\b`),
	regexp.MustCompile(`(?i)^could you\b`),
	regexp.MustCompile(`(?i)^would you\b`),
	regexp.MustCompile(`(?i)^tell me\b`),
	regexp.MustCompile(`(?i)^explain\b`),
	regexp.MustCompile(`(?i)^describe\b`),
	regexp.MustCompile(`(?i)^walk me through\b`),
	regexp.MustCompile(`(?i)^give me an example\b`),
}

// IsQuestion reports whether text reads as a question or an invitation to
// speak.
func IsQuestion(text string) bool {
	text = strings.TrimSpace(text)
	if strings.Contains(text, "?") {
		return true
	}
	for _, p := range questionPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// segment is a transcript segment being built or already completed.
type segment struct {
	speaker   events.Speaker
	text      string
	segmentID string
	timestamp float64
}

// aggregator accumulates transcript deltas into pending text and keeps a
// bounded history of completed segments for context assembly. Not safe for
// concurrent use; the Orchestrator serialises access.
type aggregator struct {
	open    map[string]*segment
	history []*segment

	pendingText      string
	pendingSpeaker   events.Speaker
	pendingSegmentID string
	lastDeltaAt      time.Time
}

func newAggregator() *aggregator {
	return &aggregator{open: make(map[string]*segment)}
}

// addDelta appends delta text to its segment and makes that segment the
// pending one.
func (a *aggregator) addDelta(evt *events.TranscriptDelta) {
	seg, ok := a.open[evt.SegmentID]
	if !ok {
		seg = &segment{speaker: evt.Speaker, segmentID: evt.SegmentID, timestamp: evt.Timestamp}
		a.open[evt.SegmentID] = seg
	}
	seg.text += evt.Text
	a.lastDeltaAt = time.Now()

	a.pendingText = seg.text
	a.pendingSpeaker = seg.speaker
	a.pendingSegmentID = evt.SegmentID
}

// completeSegment finalises a segment with its authoritative transcript,
// moves it to history and clears pending state when it was the pending
// segment.
func (a *aggregator) completeSegment(evt *events.TranscriptCompleted) *segment {
	seg, ok := a.open[evt.SegmentID]
	if ok {
		delete(a.open, evt.SegmentID)
		seg.text = evt.Text
	} else {
		seg = &segment{
			speaker:   evt.Speaker,
			text:      evt.Text,
			segmentID: evt.SegmentID,
			timestamp: evt.Timestamp,
		}
	}

	a.history = append(a.history, seg)
	if len(a.history) > historyDepth {
		a.history = a.history[1:]
	}

	if a.pendingSegmentID == evt.SegmentID {
		a.clearPending()
	}
	return seg
}

// lastContext joins the most recent completed utterances of a speaker,
// oldest first.
func (a *aggregator) lastContext(speaker events.Speaker) string {
	var texts []string
	for i := len(a.history) - 1; i >= 0 && len(texts) < lastContextUtterances; i-- {
		if a.history[i].speaker == speaker {
			texts = append(texts, a.history[i].text)
		}
	}
	for i, j := 0, len(texts)-1; i < j; i, j = i+1, j-1 {
		texts[i], texts[j] = texts[j], texts[i]
	}
	return strings.Join(texts, " ")
}

// globalContext renders recent history as speaker-tagged lines in
// chronological order, newest lines preferred, capped at
// globalContextMaxChars.
func (a *aggregator) globalContext() string {
	var lines []string
	total := 0
	for i := len(a.history) - 1; i >= 0; i-- {
		prefix := "[THEM]"
		if a.history[i].speaker == events.SpeakerMe {
			prefix = "[ME]"
		}
		line := fmt.Sprintf("%s %s", prefix, a.history[i].text)
		if total+len(line) > globalContextMaxChars {
			break
		}
		lines = append(lines, line)
		total += len(line)
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}

// shouldTriggerTimeout reports whether pending text has gone quiet long
// enough to fire.
func (a *aggregator) shouldTriggerTimeout(now time.Time) bool {
	return a.pendingText != "" && now.Sub(a.lastDeltaAt) >= Timeout
}

// shouldTriggerWordCount reports whether pending text is long enough to
// fire mid-segment.
func (a *aggregator) shouldTriggerWordCount() bool {
	return a.pendingText != "" && len(strings.Fields(a.pendingText)) >= WordThreshold
}

// pendingChunk snapshots the pending text as a chunk, or nil when nothing
// is pending.
func (a *aggregator) pendingChunk() *events.TextChunk {
	if a.pendingText == "" || a.pendingSpeaker == "" {
		return nil
	}
	return a.chunkFor(a.pendingSpeaker, a.pendingText)
}

// chunkFor builds a chunk with the contexts the hint generator needs.
func (a *aggregator) chunkFor(speaker events.Speaker, text string) *events.TextChunk {
	return &events.TextChunk{
		Speaker:       speaker,
		Text:          text,
		LastContext:   a.lastContext(speaker),
		GlobalContext: a.globalContext(),
		IsQuestion:    IsQuestion(text),
	}
}

func (a *aggregator) clearPending() {
	a.pendingText = ""
	a.pendingSpeaker = ""
	a.pendingSegmentID = ""
}
