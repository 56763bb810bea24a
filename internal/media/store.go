// Package media persists lecture recordings and their transcripts on the
// local filesystem: media files under a storage directory, metadata in a
// single videos.json, and transcript text/segments as per-lecture side
// files referenced from the metadata.
package media

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/studybuddy/backend/internal/chunking"
)

// ErrNotFound is returned when a video id has no metadata entry.
var ErrNotFound = errors.New("media: video not found")

// Video is one lecture's stored metadata. Transcript and Segments are
// hydrated from side files on read and are never written into videos.json
// directly.
type Video struct {
	VideoID    string `json:"video_id"`
	Title      string `json:"title,omitempty"`
	SourceURL  string `json:"source_url,omitempty"`
	CourseID   string `json:"course_id,omitempty"`
	AssetType  string `json:"asset_type,omitempty"`
	VideoPath  string `json:"video_path,omitempty"`
	VideoSize  int64  `json:"video_size,omitempty"`
	AudioPath  string `json:"audio_path,omitempty"`
	AudioSize  int64  `json:"audio_size,omitempty"`
	UploadedAt string `json:"uploaded_at,omitempty"`
	Status     string `json:"status,omitempty"`
	Error      string `json:"error,omitempty"`

	TranscriptPath         string `json:"transcript_path,omitempty"`
	TranscriptSegmentsPath string `json:"transcript_segments_path,omitempty"`

	// Legacy fields from entries written before audio extraction existed.
	LegacyFilePath string `json:"file_path,omitempty"`
	LegacyFileSize int64  `json:"file_size,omitempty"`

	Transcript string             `json:"transcript,omitempty"`
	Segments   []chunking.Segment `json:"transcript_segments,omitempty"`
}

// Store keeps lecture media and metadata under a pair of directories.
// All mutating operations rewrite videos.json whole; a mutex serializes
// writers within the process.
type Store struct {
	storageDir     string
	audioDir       string
	dataDir        string
	transcriptsDir string
	segmentsDir    string
	metadataFile   string

	mu sync.Mutex
}

// NewStore creates the directory layout and an empty videos.json when
// missing. Empty arguments fall back to the conventional paths.
func NewStore(storageDir, dataDir string) (*Store, error) {
	if storageDir == "" {
		storageDir = "storage/videos"
	}
	if dataDir == "" {
		dataDir = "data"
	}
	s := &Store{
		storageDir:     storageDir,
		audioDir:       filepath.Join(filepath.Dir(storageDir), "audio"),
		dataDir:        dataDir,
		transcriptsDir: filepath.Join(dataDir, "transcripts"),
		segmentsDir:    filepath.Join(dataDir, "transcript_segments"),
		metadataFile:   filepath.Join(dataDir, "videos.json"),
	}
	for _, dir := range []string{s.storageDir, s.audioDir, s.dataDir, s.transcriptsDir, s.segmentsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if _, err := os.Stat(s.metadataFile); errors.Is(err, os.ErrNotExist) {
		if err := s.saveMetadata(map[string]Video{}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// StoreVideo moves a downloaded file into the storage directory and
// records its metadata.
func (s *Store) StoreVideo(tempPath string, video Video) (string, error) {
	destination := filepath.Join(s.storageDir, video.VideoID+".mp4")
	if err := moveFile(tempPath, destination); err != nil {
		return "", err
	}
	info, err := os.Stat(destination)
	if err != nil {
		return "", fmt.Errorf("stat stored video: %w", err)
	}
	video.VideoPath = destination
	video.VideoSize = info.Size()
	video.AssetType = "video"
	if err := s.SaveEntry(video); err != nil {
		return "", err
	}
	return destination, nil
}

// StoreAudio moves an extracted audio track into the audio directory and
// updates the lecture's metadata entry.
func (s *Store) StoreAudio(tempPath, videoID string) (string, error) {
	destination := filepath.Join(s.audioDir, videoID+".mp3")
	if err := moveFile(tempPath, destination); err != nil {
		return "", err
	}
	info, err := os.Stat(destination)
	if err != nil {
		return "", fmt.Errorf("stat stored audio: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	metadata, err := s.loadMetadata()
	if err != nil {
		return "", err
	}
	entry, ok := metadata[videoID]
	if !ok {
		return "", ErrNotFound
	}
	entry = normalizeEntry(entry)
	entry.AudioPath = destination
	entry.AudioSize = info.Size()
	if entry.VideoPath != "" {
		entry.AssetType = "hybrid"
	} else {
		entry.AssetType = "audio"
	}
	metadata[videoID] = entry
	return destination, s.saveMetadata(metadata)
}

// SaveEntry inserts or replaces a metadata entry.
func (s *Store) SaveEntry(video Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	metadata, err := s.loadMetadata()
	if err != nil {
		return err
	}
	metadata[video.VideoID] = normalizeEntry(video)
	return s.saveMetadata(metadata)
}

// Update applies fn to an existing entry under the store lock.
// Returns ErrNotFound when the id is unknown.
func (s *Store) Update(videoID string, fn func(*Video)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	metadata, err := s.loadMetadata()
	if err != nil {
		return err
	}
	entry, ok := metadata[videoID]
	if !ok {
		return ErrNotFound
	}
	entry = normalizeEntry(entry)
	fn(&entry)
	metadata[videoID] = normalizeEntry(entry)
	return s.saveMetadata(metadata)
}

// SaveTranscript writes the transcript text and segment side files and
// points the metadata entry at them. Nil segments removes the segments
// file.
func (s *Store) SaveTranscript(videoID, transcript string, segments []chunking.Segment) error {
	transcriptPath := filepath.Join(s.transcriptsDir, videoID+".txt")
	if err := os.WriteFile(transcriptPath, []byte(transcript), 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	segmentsPath := ""
	if segments != nil {
		segmentsPath = filepath.Join(s.segmentsDir, videoID+".json")
		data, err := json.MarshalIndent(segments, "", "  ")
		if err != nil {
			return fmt.Errorf("encode segments: %w", err)
		}
		if err := os.WriteFile(segmentsPath, data, 0o644); err != nil {
			return fmt.Errorf("write segments: %w", err)
		}
	}
	return s.Update(videoID, func(v *Video) {
		v.TranscriptPath = transcriptPath
		v.TranscriptSegmentsPath = segmentsPath
	})
}

// Video returns a lecture's metadata with transcript and segments
// hydrated from their side files.
func (s *Store) Video(videoID string) (Video, error) {
	s.mu.Lock()
	metadata, err := s.loadMetadata()
	s.mu.Unlock()
	if err != nil {
		return Video{}, err
	}
	entry, ok := metadata[videoID]
	if !ok {
		return Video{}, ErrNotFound
	}
	return s.hydrate(normalizeEntry(entry))
}

// ListVideos returns all metadata entries without transcript hydration.
func (s *Store) ListVideos() ([]Video, error) {
	s.mu.Lock()
	metadata, err := s.loadMetadata()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	videos := make([]Video, 0, len(metadata))
	for _, entry := range metadata {
		videos = append(videos, normalizeEntry(entry))
	}
	return videos, nil
}

// Delete removes a lecture's files and metadata entry.
func (s *Store) Delete(videoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	metadata, err := s.loadMetadata()
	if err != nil {
		return err
	}
	entry, ok := metadata[videoID]
	if !ok {
		return ErrNotFound
	}
	entry = normalizeEntry(entry)
	for _, path := range []string{entry.VideoPath, entry.AudioPath, entry.TranscriptPath, entry.TranscriptSegmentsPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}
	delete(metadata, videoID)
	return s.saveMetadata(metadata)
}

// VideoPath returns the stored video path when the file exists on disk.
func (s *Store) VideoPath(videoID string) (string, bool) {
	video, err := s.Video(videoID)
	if err != nil || video.VideoPath == "" {
		return "", false
	}
	if _, err := os.Stat(video.VideoPath); err != nil {
		return "", false
	}
	return video.VideoPath, true
}

func (s *Store) loadMetadata() (map[string]Video, error) {
	data, err := os.ReadFile(s.metadataFile)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Video{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.metadataFile, err)
	}
	metadata := map[string]Video{}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.metadataFile, err)
	}
	return metadata, nil
}

func (s *Store) saveMetadata(metadata map[string]Video) error {
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(s.metadataFile, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.metadataFile, err)
	}
	return nil
}

func (s *Store) hydrate(video Video) (Video, error) {
	if video.TranscriptPath != "" {
		data, err := os.ReadFile(video.TranscriptPath)
		if err == nil {
			video.Transcript = string(data)
		} else if !errors.Is(err, os.ErrNotExist) {
			return Video{}, fmt.Errorf("read transcript: %w", err)
		}
	}
	if video.TranscriptSegmentsPath != "" {
		data, err := os.ReadFile(video.TranscriptSegmentsPath)
		if err == nil {
			if err := json.Unmarshal(data, &video.Segments); err != nil {
				return Video{}, fmt.Errorf("decode segments: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Video{}, fmt.Errorf("read segments: %w", err)
		}
	}
	return video, nil
}

// normalizeEntry folds legacy file_path/file_size fields into the current
// asset fields and backfills asset_type for entries written before it
// existed.
func normalizeEntry(video Video) Video {
	if video.LegacyFilePath != "" && video.VideoPath == "" {
		video.VideoPath = video.LegacyFilePath
	}
	if video.LegacyFileSize != 0 && video.VideoSize == 0 {
		video.VideoSize = video.LegacyFileSize
	}
	video.LegacyFilePath = ""
	video.LegacyFileSize = 0
	if video.AssetType == "" {
		switch {
		case video.AudioPath != "" && video.VideoPath != "":
			video.AssetType = "hybrid"
		case video.VideoPath != "":
			video.AssetType = "video"
		default:
			video.AssetType = "audio"
		}
	}
	return video
}

// moveFile renames when possible and falls back to copy for cross-device
// moves.
func moveFile(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("source file missing: %w", err)
	}
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("replace %s: %w", dst, err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return os.Remove(src)
}
