package chunking

import (
	"fmt"
	"strings"
)

// Default transcript chunker bounds. 120 word segments or 90 seconds of
// audio per chunk, with a 15 second overlap tail for continuity across
// chunk boundaries.
const (
	DefaultMaxWords      = 120
	DefaultMaxDurationMS = 90_000
	DefaultOverlapMS     = 15_000
)

// TranscriptChunker aggregates word-level transcript segments into
// passages while preserving millisecond offsets. The offsets let the
// frontend deep-link answers back into the lecture recording.
//
// A chunk is emitted as soon as the buffer reaches MaxWords segments or
// spans MaxDurationMS of audio. Unknown timestamps never trigger the
// duration rule and never cause an error; they only degrade the chunker
// to word-count behavior.
type TranscriptChunker struct {
	MaxWords      int
	MaxDurationMS int64
	OverlapMS     int64
}

// NewTranscriptChunker returns a chunker with the default bounds.
func NewTranscriptChunker() *TranscriptChunker {
	return &TranscriptChunker{
		MaxWords:      DefaultMaxWords,
		MaxDurationMS: DefaultMaxDurationMS,
		OverlapMS:     DefaultOverlapMS,
	}
}

// Chunk splits a transcript document into ordered, overlapping chunks.
// When no segments are supplied it falls back to a plain word-count split
// of the document content so ingestion of older transcripts still works.
//
// The final buffer is flushed only when it contains at least one segment
// that has not already been emitted: a trailing buffer holding nothing but
// the previous chunk's overlap tail would duplicate content verbatim, so
// it is dropped.
func (c *TranscriptChunker) Chunk(doc SourceDocument, segments []Segment) []Chunk {
	if len(segments) == 0 {
		return c.fallbackChunks(doc)
	}

	var chunks []Chunk
	var buffer []Segment
	fresh := 0

	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		seg.Text = text
		buffer = append(buffer, seg)
		fresh++

		if c.chunkReady(buffer) {
			chunks = append(chunks, c.flushChunk(doc, buffer, len(chunks)))
			buffer = c.overlapTail(buffer)
			fresh = 0
		}
	}

	if len(buffer) > 0 && fresh > 0 {
		chunks = append(chunks, c.flushChunk(doc, buffer, len(chunks)))
	}

	return chunks
}

// chunkReady reports whether the buffered segments should be flushed.
// The duration rule only fires when both endpoint timestamps are known.
func (c *TranscriptChunker) chunkReady(buffer []Segment) bool {
	if len(buffer) == 0 {
		return false
	}
	if len(buffer) >= c.MaxWords {
		return true
	}
	start := buffer[0].StartMS
	end := buffer[len(buffer)-1].EndMS
	if start != nil && end != nil {
		return *end-*start >= c.MaxDurationMS
	}
	return false
}

func (c *TranscriptChunker) flushChunk(doc SourceDocument, buffer []Segment, chunkIdx int) Chunk {
	texts := make([]string, len(buffer))
	for i, seg := range buffer {
		texts[i] = seg.Text
	}

	meta := cloneMetadata(doc.Metadata)
	meta["chunk_index"] = chunkIdx + 1
	meta["chunking_strategy"] = "timestamp_aware"
	meta["start_ms"] = msValue(buffer[0].StartMS)
	meta["end_ms"] = msValue(buffer[len(buffer)-1].EndMS)

	return Chunk{
		ID:       chunkID(doc.ID, chunkIdx+1),
		Name:     doc.Name,
		Content:  CleanText(strings.Join(texts, " ")),
		Metadata: meta,
	}
}

// overlapTail returns the trailing buffered segments that fall within
// OverlapMS of the last segment's end. The tail seeds the next buffer, so
// overlap is a function of elapsed audio time, not token count. Without a
// known end timestamp there is nothing to measure from and the tail is
// empty.
func (c *TranscriptChunker) overlapTail(buffer []Segment) []Segment {
	if len(buffer) == 0 || c.OverlapMS <= 0 {
		return nil
	}
	last := buffer[len(buffer)-1].EndMS
	if last == nil {
		return nil
	}
	cutoff := *last - c.OverlapMS

	var tail []Segment
	for _, seg := range buffer {
		var end int64
		if seg.EndMS != nil {
			end = *seg.EndMS
		}
		if end >= cutoff {
			tail = append(tail, seg)
		}
	}
	return tail
}

// fallbackChunks splits content into fixed word-count groups when no
// timestamp metadata exists, so ingestion can still proceed.
func (c *TranscriptChunker) fallbackChunks(doc SourceDocument) []Chunk {
	words := strings.Fields(CleanText(doc.Content))

	var chunks []Chunk
	for cursor := 0; cursor < len(words); cursor += c.MaxWords {
		end := min(cursor+c.MaxWords, len(words))
		group := words[cursor:end]
		if len(group) == 0 {
			continue
		}

		meta := cloneMetadata(doc.Metadata)
		meta["chunk_index"] = len(chunks) + 1
		meta["chunking_strategy"] = "timestamp_aware_fallback"

		chunks = append(chunks, Chunk{
			ID:       chunkID(doc.ID, len(chunks)+1),
			Name:     doc.Name,
			Content:  strings.Join(group, " "),
			Metadata: meta,
		})
	}
	return chunks
}

// chunkID derives a chunk id from the parent id and 1-based index.
// Parents without an id produce chunks without one.
func chunkID(parentID string, index int) string {
	if parentID == "" {
		return ""
	}
	return fmt.Sprintf("%s_%d", parentID, index)
}

// msValue unwraps an optional millisecond offset for metadata storage.
// A nil pointer becomes a nil metadata value, which serializes as null.
func msValue(ms *int64) any {
	if ms == nil {
		return nil
	}
	return *ms
}
