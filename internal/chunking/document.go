// Package chunking splits course content into retrieval-sized passages.
//
// Two chunkers live here: a timestamp-aware transcript chunker that keeps
// millisecond offsets from speech-to-text word segments, and a slide chunker
// that bounds slide descriptions by a character budget. Both are pure
// functions over in-memory data; all I/O belongs to their callers.
package chunking

import (
	"regexp"
	"strings"
)

// Segment is one timed token or phrase produced by transcription.
// Timing fields are nil when the transcription backend did not supply them.
type Segment struct {
	Text       string   `json:"text"`
	StartMS    *int64   `json:"start_ms"`
	EndMS      *int64   `json:"end_ms"`
	Confidence *float64 `json:"confidence,omitempty"`
	Speaker    string   `json:"speaker,omitempty"`
	Type       string   `json:"type,omitempty"`
}

// SourceDocument is the unit handed to a chunker: a transcript or one
// slide description, plus open provenance metadata (lecture/document id,
// course id, user id, source kind).
type SourceDocument struct {
	ID       string
	Name     string
	Content  string
	Metadata map[string]any
}

// Chunk is a bounded passage with provenance metadata, the unit stored in
// and retrieved from the vector index. Content is always non-empty after
// trimming; chunkers never emit blank chunks.
type Chunk struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

var (
	newlineRuns = regexp.MustCompile(`\n+`)
	spaceRuns   = regexp.MustCompile(`[ \t\r\f\v]+`)
)

// CleanText canonicalizes whitespace: runs of newlines collapse to one
// newline, runs of horizontal whitespace collapse to one space, and the
// result is trimmed. Single newlines survive so sentence boundaries like
// ".\n" remain findable by the slide splitter.
func CleanText(s string) string {
	s = newlineRuns.ReplaceAllString(s, "\n")
	s = spaceRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// cloneMetadata copies a metadata map so chunks never alias their parent's.
func cloneMetadata(meta map[string]any) map[string]any {
	clone := make(map[string]any, len(meta)+4)
	for k, v := range meta {
		clone[k] = v
	}
	return clone
}
