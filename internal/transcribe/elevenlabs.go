// Package transcribe converts lecture audio to timed text via the
// ElevenLabs speech-to-text API.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/studybuddy/backend/internal/chunking"
)

const defaultEndpoint = "https://api.elevenlabs.io/v1/speech-to-text"

// Transcription statuses. Skipped means no API key was configured;
// callers persist the status as-is rather than treating it as failure.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Result is the outcome of one transcription call. Error carries the
// upstream diagnostic for failed and skipped statuses.
type Result struct {
	Status   string
	Text     string
	Segments []chunking.Segment
	Error    string
}

// Transcriber calls the ElevenLabs speech-to-text endpoint.
type Transcriber struct {
	APIKey         string
	ModelID        string
	LanguageCode   string
	Diarize        bool
	TagAudioEvents bool

	endpoint string
	client   *http.Client
}

// NewTranscriber builds a transcriber from the ELEVENLABS_* environment.
// A missing API key is allowed; Transcribe then reports StatusSkipped.
func NewTranscriber() *Transcriber {
	modelID := os.Getenv("ELEVENLABS_MODEL_ID")
	if modelID == "" {
		modelID = "scribe_v1"
	}
	return &Transcriber{
		APIKey:         os.Getenv("ELEVENLABS_API_KEY"),
		ModelID:        modelID,
		LanguageCode:   os.Getenv("ELEVENLABS_LANGUAGE_CODE"),
		Diarize:        os.Getenv("ELEVENLABS_DIARIZE") == "true",
		TagAudioEvents: os.Getenv("ELEVENLABS_TAG_AUDIO_EVENTS") == "true",
		endpoint:       defaultEndpoint,
		client:         &http.Client{Timeout: 120 * time.Second},
	}
}

type wordEntry struct {
	Text      string   `json:"text"`
	Start     *float64 `json:"start"`
	End       *float64 `json:"end"`
	Type      string   `json:"type"`
	SpeakerID string   `json:"speaker_id"`
	LogProb   *float64 `json:"logprob"`
}

type speechToTextResponse struct {
	Text  string      `json:"text"`
	Words []wordEntry `json:"words"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// Transcribe sends the audio file and returns text plus millisecond
// word segments. Network and API failures come back as StatusFailed
// rather than an error; only request construction fails hard.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (Result, error) {
	if t.APIKey == "" {
		return Result{Status: StatusSkipped, Error: "ELEVENLABS_API_KEY not configured"}, nil
	}
	file, err := os.Open(audioPath)
	if errors.Is(err, os.ErrNotExist) {
		return Result{Status: StatusFailed, Error: fmt.Sprintf("audio file not found: %s", audioPath)}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("open audio: %w", err)
	}
	defer file.Close()

	body, contentType, err := t.buildForm(file, audioPath)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, body)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("xi-api-key", t.APIKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return Result{Status: StatusFailed, Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Status: StatusFailed, Error: err.Error()}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Result{Status: StatusFailed, Error: apiError(resp.StatusCode, payload)}, nil
	}

	var decoded speechToTextResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return Result{Status: StatusFailed, Error: fmt.Sprintf("decode response: %v", err)}, nil
	}
	return Result{
		Status:   StatusCompleted,
		Text:     decoded.Text,
		Segments: toSegments(decoded.Words),
	}, nil
}

func (t *Transcriber) buildForm(file io.Reader, audioPath string) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("copy audio: %w", err)
	}
	fields := map[string]string{"model_id": t.ModelID}
	if t.LanguageCode != "" {
		fields["language_code"] = t.LanguageCode
	}
	if t.Diarize {
		fields["diarize"] = "true"
	}
	if t.TagAudioEvents {
		fields["tag_audio_events"] = "true"
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("finish form: %w", err)
	}
	return buf, writer.FormDataContentType(), nil
}

// toSegments converts the API's second-resolution word list into
// millisecond segments, dropping pure spacing entries.
func toSegments(words []wordEntry) []chunking.Segment {
	var segments []chunking.Segment
	for _, word := range words {
		if word.Type == "spacing" || word.Text == "" {
			continue
		}
		segment := chunking.Segment{
			Text:       word.Text,
			StartMS:    secondsToMS(word.Start),
			EndMS:      secondsToMS(word.End),
			Speaker:    word.SpeakerID,
			Type:       word.Type,
			Confidence: word.LogProb,
		}
		segments = append(segments, segment)
	}
	return segments
}

func secondsToMS(seconds *float64) *int64 {
	if seconds == nil {
		return nil
	}
	ms := int64(math.Round(*seconds * 1000))
	return &ms
}

func apiError(status int, payload []byte) string {
	var decoded errorResponse
	if err := json.Unmarshal(payload, &decoded); err == nil {
		if decoded.Detail != "" {
			return decoded.Detail
		}
		if decoded.Error != "" {
			return decoded.Error
		}
	}
	if len(payload) > 0 {
		return string(payload)
	}
	return fmt.Sprintf("elevenlabs returned status %d", status)
}
