package media

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studybuddy/backend/internal/chunking"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "storage", "videos"), filepath.Join(dir, "data"))
	require.NoError(t, err)
	return store
}

func TestStoreVideoAndGet(t *testing.T) {
	store := newTestStore(t)
	temp := filepath.Join(t.TempDir(), "upload.mp4")
	require.NoError(t, os.WriteFile(temp, []byte("fake mp4 bytes"), 0o644))

	path, err := store.StoreVideo(temp, Video{VideoID: "lec-1", Title: "Intro", CourseID: "cs101", Status: "completed"})
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.NoFileExists(t, temp)

	video, err := store.Video("lec-1")
	require.NoError(t, err)
	assert.Equal(t, "Intro", video.Title)
	assert.Equal(t, "video", video.AssetType)
	assert.Equal(t, int64(14), video.VideoSize)
}

func TestVideoNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Video("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveTranscriptHydration(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveEntry(Video{VideoID: "lec-1", Title: "Intro"}))

	start, end := int64(0), int64(450)
	segments := []chunking.Segment{{Text: "hello", StartMS: &start, EndMS: &end}}
	require.NoError(t, store.SaveTranscript("lec-1", "hello world", segments))

	video, err := store.Video("lec-1")
	require.NoError(t, err)
	assert.Equal(t, "hello world", video.Transcript)
	require.Len(t, video.Segments, 1)
	assert.Equal(t, "hello", video.Segments[0].Text)
	require.NotNil(t, video.Segments[0].EndMS)
	assert.Equal(t, int64(450), *video.Segments[0].EndMS)

	// Transcript text lives in a side file, never inside videos.json.
	raw, err := os.ReadFile(filepath.Join(store.dataDir, "videos.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hello world")
}

func TestListVideosSkipsHydration(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveEntry(Video{VideoID: "lec-1"}))
	require.NoError(t, store.SaveTranscript("lec-1", "long transcript", nil))

	videos, err := store.ListVideos()
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Empty(t, videos[0].Transcript)
	assert.NotEmpty(t, videos[0].TranscriptPath)
}

func TestLegacyEntryNormalization(t *testing.T) {
	store := newTestStore(t)
	legacy := map[string]map[string]any{
		"old-1": {
			"video_id":  "old-1",
			"title":     "Legacy lecture",
			"file_path": "/tmp/old-1.mp4",
			"file_size": 1234,
		},
	}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(store.dataDir, "videos.json"), data, 0o644))

	video, err := store.Video("old-1")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/old-1.mp4", video.VideoPath)
	assert.Equal(t, int64(1234), video.VideoSize)
	assert.Equal(t, "video", video.AssetType)
	assert.Empty(t, video.LegacyFilePath)
}

func TestUpdateUnknownID(t *testing.T) {
	store := newTestStore(t)
	err := store.Update("nope", func(v *Video) { v.Status = "failed" })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemovesFiles(t *testing.T) {
	store := newTestStore(t)
	temp := filepath.Join(t.TempDir(), "upload.mp4")
	require.NoError(t, os.WriteFile(temp, []byte("bytes"), 0o644))
	path, err := store.StoreVideo(temp, Video{VideoID: "lec-1"})
	require.NoError(t, err)
	require.NoError(t, store.SaveTranscript("lec-1", "text", nil))

	require.NoError(t, store.Delete("lec-1"))
	assert.NoFileExists(t, path)
	_, err = store.Video("lec-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
