package chunking

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultMaxChars is the character budget for a single slide chunk.
const DefaultMaxChars = 2000

// splitWindow bounds the search for a sentence boundary around the
// midpoint when a slide must be split in two.
const splitWindow = 200

// sentenceDelimiters is the ordered list of boundary tokens the splitter
// checks. Newline-terminated sentences win over space-terminated ones.
var sentenceDelimiters = []string{".\n", "!\n", "?\n", "! ", "? ", ". "}

// ErrInvalidDescription reports a structurally malformed slide description,
// such as a page record without a page number. This is a caller contract
// violation, not a degradable input.
var ErrInvalidDescription = errors.New("invalid slide description")

// SlideChunker turns one slide's assembled description into one or two
// chunks bounded by MaxChars, preferring to split at a sentence boundary
// near the middle. Page identity travels in the metadata.
type SlideChunker struct {
	MaxChars int
}

// NewSlideChunker returns a chunker with the given character budget,
// defaulting to DefaultMaxChars when budget is not positive.
func NewSlideChunker(maxChars int) *SlideChunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &SlideChunker{MaxChars: maxChars}
}

// Chunk splits a slide document. Small slides yield exactly one chunk;
// oversized slides yield two. An empty document yields no chunks.
func (c *SlideChunker) Chunk(doc SourceDocument) []Chunk {
	content := CleanText(doc.Content)
	if content == "" {
		return nil
	}

	if len(content) <= c.MaxChars {
		meta := cloneMetadata(doc.Metadata)
		meta["chunk"] = 1
		meta["total_chunks"] = 1
		meta["chunking_strategy"] = "slide_chunking"
		return []Chunk{{
			ID:       doc.ID,
			Name:     doc.Name,
			Content:  content,
			Metadata: meta,
		}}
	}

	splitPoint := findSplitPoint(content, len(content)/2)
	first := strings.TrimSpace(content[:splitPoint])
	second := strings.TrimSpace(content[splitPoint:])

	var chunks []Chunk
	for i, part := range []string{first, second} {
		if part == "" {
			continue
		}
		meta := cloneMetadata(doc.Metadata)
		meta["chunk"] = i + 1
		meta["total_chunks"] = 2
		meta["chunking_strategy"] = "slide_chunking"

		id := doc.ID
		if id != "" {
			id = fmt.Sprintf("%s_chunk_%d", doc.ID, i+1)
		}
		chunks = append(chunks, Chunk{
			ID:       id,
			Name:     fmt.Sprintf("%s (Part %d/2)", doc.Name, i+1),
			Content:  part,
			Metadata: meta,
		})
	}

	if len(chunks) == 0 {
		// Both halves trimmed to nothing. Keep the original content as a
		// single chunk rather than losing the slide.
		return []Chunk{{
			ID:       doc.ID,
			Name:     doc.Name,
			Content:  content,
			Metadata: cloneMetadata(doc.Metadata),
		}}
	}
	return chunks
}

// findSplitPoint locates a sentence boundary near preferred, searching a
// window of ±splitWindow bytes. For each delimiter the search runs
// backward from the midpoint first, then forward; the first hit across
// the ordered delimiter list wins. With no boundary in the window the
// split lands exactly at preferred.
func findSplitPoint(text string, preferred int) int {
	start := max(0, preferred-splitWindow)
	end := min(len(text), preferred+splitWindow)
	window := text[start:end]
	rel := preferred - start

	for _, delim := range sentenceDelimiters {
		if pos := strings.LastIndex(window[:rel], delim); pos != -1 {
			return start + pos + len(delim)
		}
		if pos := strings.Index(window[rel:], delim); pos != -1 {
			return start + rel + pos + len(delim)
		}
	}
	return preferred
}

// PageDescription is one slide page's structured description as produced
// by the vision model and stored alongside the uploaded document.
type PageDescription struct {
	PageNumber          int    `json:"page_number"`
	SlideType           string `json:"slide_type"`
	OverallSummary      string `json:"overall_summary"`
	TextContent         string `json:"text_content"`
	ImagesDescription   string `json:"images_description"`
	DiagramsDescription string `json:"diagrams_description"`
	FiguresDescription  string `json:"figures_description"`
}

// ChunkSlideDescriptions maps a document's per-page descriptions into a
// flat chunk list, preserving page order. Each page becomes one
// SourceDocument with id "{documentID}_page_{n}" and labeled-section
// content, carrying extraMeta (course id, user id, source tag) merged into
// the page metadata.
//
// A description record without a positive page number is a contract
// violation and fails the whole batch.
func ChunkSlideDescriptions(descriptions []PageDescription, documentID string, maxChars int, extraMeta map[string]any) ([]Chunk, error) {
	chunker := NewSlideChunker(maxChars)

	var all []Chunk
	for i, desc := range descriptions {
		if desc.PageNumber < 1 {
			return nil, fmt.Errorf("description %d: missing page_number: %w", i, ErrInvalidDescription)
		}

		meta := map[string]any{
			"document_id": documentID,
			"page_number": desc.PageNumber,
			"slide_type":  slideTypeOrUnknown(desc.SlideType),
			"summary":     desc.OverallSummary,
		}
		for k, v := range extraMeta {
			meta[k] = v
		}

		doc := SourceDocument{
			ID:       fmt.Sprintf("%s_page_%d", documentID, desc.PageNumber),
			Name:     fmt.Sprintf("Slide %d", desc.PageNumber),
			Content:  assemblePageContent(desc),
			Metadata: meta,
		}
		all = append(all, chunker.Chunk(doc)...)
	}
	return all, nil
}

// assemblePageContent builds the searchable text for one slide page,
// concatenating the labeled description sections.
func assemblePageContent(desc PageDescription) string {
	parts := []string{
		fmt.Sprintf("Page %d", desc.PageNumber),
		fmt.Sprintf("Slide Type: %s", desc.SlideType),
		fmt.Sprintf("Summary: %s", desc.OverallSummary),
		"",
		"Text Content:",
		desc.TextContent,
		"",
		"Images:",
		desc.ImagesDescription,
		"",
		"Diagrams:",
		desc.DiagramsDescription,
		"",
		"Figures:",
		desc.FiguresDescription,
	}
	return strings.Join(parts, "\n")
}

func slideTypeOrUnknown(slideType string) string {
	if slideType == "" {
		return "unknown"
	}
	return slideType
}
