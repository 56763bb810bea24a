package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studybuddy/backend/internal/chunking"
	"github.com/studybuddy/backend/internal/storage"
)

type fakeLectures struct {
	lectures map[string]Lecture
	byCourse map[string][]string
}

func (f *fakeLectures) Lecture(id string) (Lecture, error) {
	lecture, ok := f.lectures[id]
	if !ok {
		return Lecture{}, ErrNotFound
	}
	return lecture, nil
}

func (f *fakeLectures) LectureIDsForCourse(courseID string) ([]string, error) {
	return f.byCourse[courseID], nil
}

type fakeSlides struct {
	paths map[string]string
}

func (f *fakeSlides) DescriptionsPath(documentID string) (string, error) {
	path, ok := f.paths[documentID]
	if !ok {
		return "", ErrNotFound
	}
	return path, nil
}

type captureStore struct {
	collection string
	contents   []storage.IngestContent
	err        error
}

func (c *captureStore) AddContents(_ context.Context, collection string, contents []storage.IngestContent) error {
	c.collection = collection
	c.contents = contents
	return c.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestIngestLectures(t *testing.T) {
	lectures := &fakeLectures{lectures: map[string]Lecture{
		"lec-1": {
			ID:         "lec-1",
			Title:      "Memory Hierarchies",
			Transcript: "caches sit between the CPU and main memory",
		},
	}}
	store := &captureStore{}
	coordinator := NewCoordinator(lectures, &fakeSlides{}, store, "", "", quietLogger())

	count, err := coordinator.IngestLectures(context.Background(), []string{"lec-1"}, "user-7")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, storage.DefaultLectureCollection, store.collection)

	require.Len(t, store.contents, 1)
	content := store.contents[0]
	assert.Equal(t, "Memory Hierarchies", content.Name)
	assert.Equal(t, "caches sit between the CPU and main memory", content.TextContent)
	assert.Equal(t, "lec-1", content.Metadata["lecture_id"])
	assert.Equal(t, "transcript", content.Metadata["source"])
	assert.Equal(t, "user-7", content.Metadata["user_id"])
	assert.Equal(t, "lec-1_1", content.Metadata["chunk_id"])
	assert.NotContains(t, content.Metadata, "segments")
}

func TestIngestLecturesSkipsMissing(t *testing.T) {
	lectures := &fakeLectures{lectures: map[string]Lecture{
		"known": {ID: "known", Title: "Known", Transcript: "real content here"},
	}}
	store := &captureStore{}
	coordinator := NewCoordinator(lectures, &fakeSlides{}, store, "", "", quietLogger())

	count, err := coordinator.IngestLectures(context.Background(), []string{"missing", "known", "no-transcript"}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIngestLecturesNothingToDo(t *testing.T) {
	coordinator := NewCoordinator(&fakeLectures{}, &fakeSlides{}, &captureStore{}, "", "", quietLogger())

	count, err := coordinator.IngestLectures(context.Background(), []string{"absent"}, "")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIngestSlides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "descriptions.json")
	descriptions := []chunking.PageDescription{
		{PageNumber: 1, SlideType: "title", OverallSummary: "Course overview", TextContent: "Welcome to the course"},
		{PageNumber: 2, SlideType: "content", TextContent: "Topics covered this term"},
	}
	data, err := json.Marshal(descriptions)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	slides := &fakeSlides{paths: map[string]string{"doc-1": path}}
	store := &captureStore{}
	coordinator := NewCoordinator(&fakeLectures{}, slides, store, "", "slides_test", quietLogger())

	count, err := coordinator.IngestSlides(context.Background(), []string{"doc-1"}, "user-3", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, "slides_test", store.collection)

	for _, content := range store.contents {
		assert.Equal(t, "slides", content.Metadata["source"])
		assert.Equal(t, "user-3", content.Metadata["user_id"])
		assert.Equal(t, "doc-1", content.Metadata["document_id"])
	}
}

func TestIngestSlidesMissingDescriptionFile(t *testing.T) {
	slides := &fakeSlides{paths: map[string]string{"doc-1": "/nonexistent/descriptions.json"}}
	coordinator := NewCoordinator(&fakeLectures{}, slides, &captureStore{}, "", "", quietLogger())

	count, err := coordinator.IngestSlides(context.Background(), []string{"doc-1"}, "", 0)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIngestSlidesInvalidRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "descriptions.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"slide_type": "content", "text_content": "no page number"}]`), 0o644))

	slides := &fakeSlides{paths: map[string]string{"doc-1": path}}
	coordinator := NewCoordinator(&fakeLectures{}, slides, &captureStore{}, "", "", quietLogger())

	_, err := coordinator.IngestSlides(context.Background(), []string{"doc-1"}, "", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, chunking.ErrInvalidDescription)
}

func TestChunksToContentsStripsInternalKeys(t *testing.T) {
	chunks := []chunking.Chunk{
		{
			ID:      "lec-1_1",
			Name:    "Lecture 1",
			Content: "  some passage  ",
			Metadata: map[string]any{
				"course_id":   "c1",
				"course_name": "Systems",
				"segments":    []any{"raw"},
				"lecture_id":  "lec-1",
			},
		},
		{ID: "lec-1_2", Name: "Lecture 1", Content: "   "},
		{Content: "unnamed passage"},
	}

	contents := chunksToContents(chunks)
	require.Len(t, contents, 2)

	first := contents[0]
	assert.Equal(t, "some passage", first.TextContent)
	assert.NotContains(t, first.Metadata, "course_id")
	assert.NotContains(t, first.Metadata, "course_name")
	assert.NotContains(t, first.Metadata, "segments")
	assert.Equal(t, "lec-1", first.Metadata["lecture_id"])
	assert.Equal(t, "lec-1_1", first.Metadata["chunk_id"])

	assert.Equal(t, "chunk_3", contents[1].Name)
}

func TestChunksToContentsKeepsExistingChunkID(t *testing.T) {
	chunks := []chunking.Chunk{
		{ID: "new-id", Content: "text", Metadata: map[string]any{"chunk_id": "original"}},
	}

	contents := chunksToContents(chunks)
	require.Len(t, contents, 1)
	assert.Equal(t, "original", contents[0].Metadata["chunk_id"])
}
