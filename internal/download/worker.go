// Package download fetches lecture streams to local storage, extracts
// audio, and kicks off transcription and ingestion in the background.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/studybuddy/backend/internal/media"
	"github.com/studybuddy/backend/internal/transcribe"
)

// Status is one job's externally visible state. Values in the job map
// are replaced whole on every transition so readers always see a
// consistent snapshot, never a half-updated record.
type Status struct {
	Status           string `json:"status"`
	Progress         int    `json:"progress"`
	VideoPath        string `json:"file_path,omitempty"`
	AudioPath        string `json:"audio_path,omitempty"`
	Transcript       string `json:"transcript,omitempty"`
	TranscriptStatus string `json:"transcript_status,omitempty"`
	Error            string `json:"error,omitempty"`
}

// IngestFunc is called after a successful transcription so fresh
// lectures become searchable without a manual ingest run.
type IngestFunc func(ctx context.Context, lectureID string)

// Worker downloads lecture streams and tracks per-job progress.
type Worker struct {
	store       *media.Store
	transcriber *transcribe.Transcriber
	ingest      IngestFunc
	logger      *slog.Logger

	mu   sync.RWMutex
	jobs map[string]Status
}

// NewWorker builds a worker. transcriber and ingest may be nil; the
// corresponding steps are then skipped.
func NewWorker(store *media.Store, transcriber *transcribe.Transcriber, ingest IngestFunc, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:       store,
		transcriber: transcriber,
		ingest:      ingest,
		logger:      logger,
		jobs:        map[string]Status{},
	}
}

// Download starts fetching a stream in the background and returns the
// job id. An already-completed lecture short-circuits to its stored
// state instead of downloading again.
func (w *Worker) Download(ctx context.Context, streamURL, videoID, title, sourceURL, courseID string) string {
	jobID := videoID
	if jobID == "" {
		jobID = "video_" + time.Now().Format("20060102_150405.000000")
	}

	if existing, err := w.store.Video(jobID); err == nil && existing.Status == "completed" {
		w.setStatus(jobID, Status{
			Status:           "completed",
			Progress:         100,
			VideoPath:        existing.VideoPath,
			AudioPath:        existing.AudioPath,
			Transcript:       existing.Transcript,
			TranscriptStatus: transcriptStatus(existing),
		})
		return jobID
	}

	transcriptPending := ""
	if w.transcriber != nil {
		transcriptPending = "pending"
	}
	w.setStatus(jobID, Status{Status: "downloading", TranscriptStatus: transcriptPending})

	go w.run(context.WithoutCancel(ctx), streamURL, jobID, title, sourceURL, courseID)
	return jobID
}

// GetStatus returns the live job state, falling back to stored metadata
// for jobs from earlier runs.
func (w *Worker) GetStatus(videoID string) Status {
	w.mu.RLock()
	status, ok := w.jobs[videoID]
	w.mu.RUnlock()
	if ok {
		return status
	}

	video, err := w.store.Video(videoID)
	if err != nil {
		return Status{Status: "not_found"}
	}
	progress := 0
	if video.Status == "completed" {
		progress = 100
	}
	return Status{
		Status:           video.Status,
		Progress:         progress,
		VideoPath:        video.VideoPath,
		AudioPath:        video.AudioPath,
		Transcript:       video.Transcript,
		TranscriptStatus: transcriptStatus(video),
		Error:            video.Error,
	}
}

// ActiveJobs returns a snapshot of every job tracked since startup,
// in progress or finished.
func (w *Worker) ActiveJobs() map[string]Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	jobs := make(map[string]Status, len(w.jobs))
	for id, status := range w.jobs {
		jobs[id] = status
	}
	return jobs
}

func (w *Worker) run(ctx context.Context, streamURL, videoID, title, sourceURL, courseID string) {
	tempVideo := filepath.Join(os.TempDir(), fmt.Sprintf("lecture_%s_%s.mp4", videoID, time.Now().Format("150405.000000")))
	defer os.Remove(tempVideo)

	if err := w.fetchStream(ctx, streamURL, tempVideo); err != nil {
		w.fail(videoID, err)
		return
	}
	w.setStatus(videoID, Status{Status: "downloading", Progress: 50})

	tempAudio, err := w.extractAudio(ctx, tempVideo, videoID)
	if err != nil {
		w.fail(videoID, err)
		return
	}
	defer os.Remove(tempAudio)

	videoPath, err := w.store.StoreVideo(tempVideo, media.Video{
		VideoID:    videoID,
		Title:      title,
		SourceURL:  sourceURL,
		CourseID:   courseID,
		UploadedAt: time.Now().Format(time.RFC3339),
		Status:     "completed",
	})
	if err != nil {
		w.fail(videoID, err)
		return
	}
	audioPath, err := w.store.StoreAudio(tempAudio, videoID)
	if err != nil {
		w.fail(videoID, err)
		return
	}

	status := Status{
		Status:    "completed",
		Progress:  100,
		VideoPath: videoPath,
		AudioPath: audioPath,
	}
	if w.transcriber == nil {
		status.TranscriptStatus = transcribe.StatusSkipped
		w.setStatus(videoID, status)
		return
	}

	result := w.transcribeAudio(ctx, videoID, audioPath)
	status.TranscriptStatus = result.Status
	status.Transcript = result.Text
	w.setStatus(videoID, status)

	if result.Status == transcribe.StatusCompleted && w.ingest != nil {
		w.ingest(ctx, videoID)
	}
}

// fetchStream pulls the HLS/DASH stream into a local mp4 with ffmpeg.
func (w *Worker) fetchStream(ctx context.Context, streamURL, destination string) error {
	if streamURL == "" {
		return errors.New("invalid stream URL")
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", "-y", "-i", streamURL, "-c", "copy", destination)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("stream download failed: %s", lastLine(stderr.String(), err.Error()))
	}
	return nil
}

func (w *Worker) extractAudio(ctx context.Context, videoPath, videoID string) (string, error) {
	destination := filepath.Join(os.TempDir(), fmt.Sprintf("lecture_%s_%s.mp3", videoID, time.Now().Format("150405.000000")))
	cmd := exec.CommandContext(ctx, "ffmpeg", "-y", "-i", videoPath, "-vn", "-acodec", "mp3", destination)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("audio extraction failed for %s: %s", videoID, lastLine(stderr.String(), err.Error()))
	}
	return destination, nil
}

func (w *Worker) transcribeAudio(ctx context.Context, videoID, audioPath string) transcribe.Result {
	result, err := w.transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		result = transcribe.Result{Status: transcribe.StatusFailed, Error: err.Error()}
	}
	if result.Status == transcribe.StatusCompleted {
		if err := w.store.SaveTranscript(videoID, result.Text, result.Segments); err != nil {
			w.logger.Error("failed to persist transcript", "lecture_id", videoID, "error", err)
		}
	}
	if err := w.store.Update(videoID, func(v *media.Video) {
		if result.Error != "" {
			v.Error = result.Error
		}
	}); err != nil {
		w.logger.Error("failed to update transcript status", "lecture_id", videoID, "error", err)
	}
	return result
}

func (w *Worker) fail(videoID string, cause error) {
	w.logger.Error("download failed", "lecture_id", videoID, "error", cause)
	w.setStatus(videoID, Status{Status: "failed", Error: cause.Error()})
	if err := w.store.Update(videoID, func(v *media.Video) {
		v.Status = "failed"
		v.Error = cause.Error()
	}); err != nil && !errors.Is(err, media.ErrNotFound) {
		w.logger.Error("failed to record download error", "lecture_id", videoID, "error", err)
	}
}

func (w *Worker) setStatus(videoID string, status Status) {
	w.mu.Lock()
	w.jobs[videoID] = status
	w.mu.Unlock()
}

func transcriptStatus(video media.Video) string {
	if video.Transcript != "" {
		return transcribe.StatusCompleted
	}
	return ""
}

// lastLine pulls the final stderr line, where ffmpeg puts its actual
// diagnostic.
func lastLine(s, fallback string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	lines := strings.Split(s, "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
