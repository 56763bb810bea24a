// Package ingest drives the chunkers over stored course material and
// pushes the resulting passages into the vector store.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/studybuddy/backend/internal/chunking"
	"github.com/studybuddy/backend/internal/storage"
)

// Lecture is the stored transcript record for one video.
type Lecture struct {
	ID         string
	Title      string
	Transcript string
	Segments   []chunking.Segment
}

// ErrNotFound is returned by sources when the requested id has no record.
var ErrNotFound = errors.New("not found")

// LectureSource looks up stored transcripts by lecture id.
type LectureSource interface {
	Lecture(id string) (Lecture, error)
	LectureIDsForCourse(courseID string) ([]string, error)
}

// SlideSource resolves the slide-description JSON file for a document id.
type SlideSource interface {
	DescriptionsPath(documentID string) (string, error)
}

// ContentStore is the bulk-insert side of the vector store.
type ContentStore interface {
	AddContents(ctx context.Context, collection string, contents []storage.IngestContent) error
}

// Coordinator chunks stored transcripts and slide descriptions and hands
// them to the vector store. Missing sources are skipped with a warning,
// never treated as failure.
type Coordinator struct {
	lectures LectureSource
	slides   SlideSource
	store    ContentStore

	lectureCollection string
	slideCollection   string

	chunker *chunking.TranscriptChunker
	logger  *slog.Logger
}

// NewCoordinator wires a coordinator over the given sources and store.
// Empty collection names fall back to the defaults.
func NewCoordinator(lectures LectureSource, slides SlideSource, store ContentStore, lectureCollection, slideCollection string, logger *slog.Logger) *Coordinator {
	if lectureCollection == "" {
		lectureCollection = storage.DefaultLectureCollection
	}
	if slideCollection == "" {
		slideCollection = storage.DefaultSlideCollection
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		lectures:          lectures,
		slides:            slides,
		store:             store,
		lectureCollection: lectureCollection,
		slideCollection:   slideCollection,
		chunker:           chunking.NewTranscriptChunker(),
		logger:            logger,
	}
}

// IngestLectures chunks and inserts the requested lecture transcripts.
// Returns the number of chunks inserted; 0 means nothing to do.
func (c *Coordinator) IngestLectures(ctx context.Context, lectureIDs []string, userID string) (int, error) {
	var chunks []chunking.Chunk
	for _, lectureID := range lectureIDs {
		doc, segments, ok := c.buildLectureDocument(lectureID, userID)
		if !ok {
			continue
		}
		chunks = append(chunks, c.chunker.Chunk(doc, segments)...)
	}
	if len(chunks) == 0 {
		return 0, nil
	}
	return c.ingestChunks(ctx, chunks, c.lectureCollection)
}

// IngestSlides chunks pre-generated slide descriptions and inserts them.
func (c *Coordinator) IngestSlides(ctx context.Context, documentIDs []string, userID string, maxChars int) (int, error) {
	var chunks []chunking.Chunk
	for _, documentID := range documentIDs {
		descriptions, ok, err := c.loadDescriptions(documentID)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		extraMeta := map[string]any{"source": "slides"}
		if userID != "" {
			extraMeta["user_id"] = userID
		}
		slideChunks, err := chunking.ChunkSlideDescriptions(descriptions, documentID, maxChars, extraMeta)
		if err != nil {
			return 0, fmt.Errorf("chunk slides for %s: %w", documentID, err)
		}
		chunks = append(chunks, slideChunks...)
	}
	if len(chunks) == 0 {
		return 0, nil
	}
	return c.ingestChunks(ctx, chunks, c.slideCollection)
}

// LectureIDsForCourse returns all lecture ids recorded for a course.
func (c *Coordinator) LectureIDsForCourse(courseID string) ([]string, error) {
	return c.lectures.LectureIDsForCourse(courseID)
}

func (c *Coordinator) buildLectureDocument(lectureID, userID string) (chunking.SourceDocument, []chunking.Segment, bool) {
	lecture, err := c.lectures.Lecture(lectureID)
	if errors.Is(err, ErrNotFound) {
		c.logger.Warn("lecture not found in metadata, skipping ingestion", "lecture_id", lectureID)
		return chunking.SourceDocument{}, nil, false
	}
	if err != nil {
		c.logger.Warn("failed to load lecture, skipping ingestion", "lecture_id", lectureID, "error", err)
		return chunking.SourceDocument{}, nil, false
	}
	if lecture.Transcript == "" {
		c.logger.Warn("lecture has no transcript, skipping ingestion", "lecture_id", lectureID)
		return chunking.SourceDocument{}, nil, false
	}
	metadata := map[string]any{
		"lecture_id": lectureID,
		"source":     "transcript",
	}
	if userID != "" {
		metadata["user_id"] = userID
	}
	name := lecture.Title
	if name == "" {
		name = lectureID
	}
	doc := chunking.SourceDocument{
		ID:       lectureID,
		Name:     name,
		Content:  lecture.Transcript,
		Metadata: metadata,
	}
	return doc, lecture.Segments, true
}

func (c *Coordinator) loadDescriptions(documentID string) ([]chunking.PageDescription, bool, error) {
	path, err := c.slides.DescriptionsPath(documentID)
	if errors.Is(err, ErrNotFound) {
		c.logger.Warn("document missing from metadata, skipping ingestion", "document_id", documentID)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("resolve descriptions for %s: %w", documentID, err)
	}
	if path == "" {
		c.logger.Warn("document has no slide descriptions, skipping ingestion", "document_id", documentID)
		return nil, false, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("slide description file is missing", "document_id", documentID, "path", path)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read descriptions for %s: %w", documentID, err)
	}
	var descriptions []chunking.PageDescription
	if err := json.Unmarshal(data, &descriptions); err != nil {
		return nil, false, fmt.Errorf("decode descriptions for %s: %w", documentID, err)
	}
	return descriptions, true, nil
}

func (c *Coordinator) ingestChunks(ctx context.Context, chunks []chunking.Chunk, collection string) (int, error) {
	contents := chunksToContents(chunks)
	if len(contents) == 0 {
		return 0, nil
	}
	if err := c.store.AddContents(ctx, collection, contents); err != nil {
		return 0, fmt.Errorf("add contents to %s: %w", collection, err)
	}
	return len(contents), nil
}

// chunksToContents converts chunks into the store's bulk-add shape.
// Course-identifying keys and raw segment arrays are stripped; they do
// not belong in a searchable-text index.
func chunksToContents(chunks []chunking.Chunk) []storage.IngestContent {
	contents := make([]storage.IngestContent, 0, len(chunks))
	for i, chunk := range chunks {
		text := strings.TrimSpace(chunk.Content)
		if text == "" {
			continue
		}
		metadata := make(map[string]any, len(chunk.Metadata)+1)
		for key, value := range chunk.Metadata {
			switch key {
			case "course_id", "course_name", "segments":
				continue
			}
			metadata[key] = value
		}
		if chunk.ID != "" {
			if _, exists := metadata["chunk_id"]; !exists {
				metadata["chunk_id"] = chunk.ID
			}
		}
		name := chunk.Name
		if name == "" {
			if chunkID, ok := metadata["chunk_id"].(string); ok && chunkID != "" {
				name = chunkID
			} else if chunk.ID != "" {
				name = chunk.ID
			} else {
				name = fmt.Sprintf("chunk_%d", i+1)
			}
		}
		contents = append(contents, storage.IngestContent{
			Name:        name,
			TextContent: text,
			Metadata:    metadata,
		})
	}
	return contents
}
