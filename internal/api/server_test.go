package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studybuddy/backend/internal/chat"
	"github.com/studybuddy/backend/internal/chunking"
	"github.com/studybuddy/backend/internal/coursedb"
	"github.com/studybuddy/backend/internal/docstore"
	"github.com/studybuddy/backend/internal/download"
	"github.com/studybuddy/backend/internal/media"
	"github.com/studybuddy/backend/internal/retrieval"
)

type fakeHealth struct{ err error }

func (f fakeHealth) Health(context.Context) error { return f.err }

type fakeAgent struct {
	result chat.Result
	err    error
}

func (f fakeAgent) Respond(_ context.Context, message string, scope retrieval.Scope, _ string) (chat.Result, error) {
	if f.err != nil {
		return chat.Result{}, f.err
	}
	result := f.result
	result.Source = scope
	return result, nil
}

func (f fakeAgent) RespondStream(ctx context.Context, message string, scope retrieval.Scope, userID string, onDelta func(string)) (chat.Result, error) {
	if f.err != nil {
		return chat.Result{}, f.err
	}
	for _, delta := range strings.SplitAfter(f.result.Reply, " ") {
		if onDelta != nil {
			onDelta(delta)
		}
	}
	result := f.result
	result.Source = scope
	return result, nil
}

func newTestServer(t *testing.T, agent ChatAgent, health HealthChecker) (*Server, *media.Store, *coursedb.DB) {
	t.Helper()
	dir := t.TempDir()
	mediaStore, err := media.NewStore(filepath.Join(dir, "storage", "videos"), filepath.Join(dir, "data"))
	require.NoError(t, err)
	documents, err := docstore.NewStore(filepath.Join(dir, "storage", "documents"), filepath.Join(dir, "data"))
	require.NoError(t, err)
	courses, err := coursedb.Open(filepath.Join(dir, "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { courses.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	worker := download.NewWorker(mediaStore, nil, nil, logger)
	server := NewServer(Config{
		Media:     mediaStore,
		Documents: documents,
		Courses:   courses,
		Worker:    worker,
		Agent:     agent,
		Health:    health,
		Logger:    logger,
	})
	return server, mediaStore, courses
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t, fakeAgent{}, fakeHealth{})
	rec := doRequest(t, server.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)
}

func TestHealthEndpointUnhealthy(t *testing.T) {
	server, _, _ := newTestServer(t, fakeAgent{}, fakeHealth{err: errors.New("down")})
	rec := doRequest(t, server.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDownloadRequiresStreamURL(t *testing.T) {
	server, _, _ := newTestServer(t, fakeAgent{}, fakeHealth{})
	rec := doRequest(t, server.Handler(), http.MethodPost, "/api/videos/download", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "stream_url is required")
}

func TestGetVideoNotFound(t *testing.T) {
	server, _, _ := newTestServer(t, fakeAgent{}, fakeHealth{})
	rec := doRequest(t, server.Handler(), http.MethodGet, "/api/videos/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListVideos(t *testing.T) {
	server, mediaStore, _ := newTestServer(t, fakeAgent{}, fakeHealth{})
	require.NoError(t, mediaStore.SaveEntry(media.Video{VideoID: "lec-1", Title: "Intro", Status: "completed"}))

	rec := doRequest(t, server.Handler(), http.MethodGet, "/api/videos", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count  int           `json:"count"`
		Videos []media.Video `json:"videos"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "Intro", body.Videos[0].Title)
}

func TestVideoStatusNotFound(t *testing.T) {
	server, _, _ := newTestServer(t, fakeAgent{}, fakeHealth{})
	rec := doRequest(t, server.Handler(), http.MethodGet, "/api/videos/nope/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAndListCourses(t *testing.T) {
	server, _, _ := newTestServer(t, fakeAgent{}, fakeHealth{})
	handler := server.Handler()

	rec := doRequest(t, handler, http.MethodPost, "/api/courses", `{"course_id": "cs101", "name": "Systems"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, handler, http.MethodPost, "/api/courses", `{"course_id": ""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/api/courses", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Systems")
}

func TestChatEndpoint(t *testing.T) {
	agent := fakeAgent{result: chat.Result{Reply: "caches are fast memory"}}
	server, _, _ := newTestServer(t, agent, fakeHealth{})

	rec := doRequest(t, server.Handler(), http.MethodPost, "/api/chat", `{"message": "what is a cache?", "source": "lectures"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	var result chat.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "caches are fast memory", result.Reply)
	assert.Equal(t, retrieval.ScopeLectures, result.Source)
}

func TestChatRejectsUnknownSource(t *testing.T) {
	server, _, _ := newTestServer(t, fakeAgent{}, fakeHealth{})
	rec := doRequest(t, server.Handler(), http.MethodPost, "/api/chat", `{"message": "hi", "source": "textbooks"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatStreamEmitsDeltasAndResult(t *testing.T) {
	agent := fakeAgent{result: chat.Result{Reply: "two words"}}
	server, _, _ := newTestServer(t, agent, fakeHealth{})

	rec := doRequest(t, server.Handler(), http.MethodPost, "/api/chat/stream", `{"message": "hi"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: delta")
	assert.Contains(t, body, "event: result")
	assert.Contains(t, body, "two words")
}

func TestCORSPreflight(t *testing.T) {
	server, _, _ := newTestServer(t, fakeAgent{}, fakeHealth{})
	rec := doRequest(t, server.Handler(), http.MethodOptions, "/api/videos", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

type fakeDescriber struct{ err error }

func (f fakeDescriber) DescribeDocument(_ context.Context, pages []string) ([]chunking.PageDescription, error) {
	if f.err != nil {
		return nil, f.err
	}
	descriptions := make([]chunking.PageDescription, len(pages))
	for i, content := range pages {
		descriptions[i] = chunking.PageDescription{
			PageNumber:     i + 1,
			SlideType:      "content",
			OverallSummary: content,
		}
	}
	return descriptions, nil
}

func uploadDocument(t *testing.T, handler http.Handler) string {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "deck.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 fake"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var doc docstore.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.NotEmpty(t, doc.DocumentID)
	return doc.DocumentID
}

func TestUploadAndGetDocument(t *testing.T) {
	server, _, _ := newTestServer(t, fakeAgent{}, fakeHealth{})
	handler := server.Handler()

	documentID := uploadDocument(t, handler)

	rec := doRequest(t, handler, http.MethodGet, "/api/documents/"+documentID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deck.pdf")

	rec = doRequest(t, handler, http.MethodGet, "/api/documents", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
}

func TestGetDocumentNotFound(t *testing.T) {
	server, _, _ := newTestServer(t, fakeAgent{}, fakeHealth{})
	rec := doRequest(t, server.Handler(), http.MethodGet, "/api/documents/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadDocumentRequiresFile(t *testing.T) {
	server, _, _ := newTestServer(t, fakeAgent{}, fakeHealth{})
	rec := doRequest(t, server.Handler(), http.MethodPost, "/api/documents/upload", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "file is required")
}

func TestDescribeDocumentStoresDescriptions(t *testing.T) {
	server, _, _ := newTestServer(t, fakeAgent{}, fakeHealth{})
	server.describer = fakeDescriber{}
	handler := server.Handler()

	documentID := uploadDocument(t, handler)

	rec := doRequest(t, handler, http.MethodPost, "/api/documents/"+documentID+"/describe",
		`{"pages": ["Intro to sorting", "Quicksort partition step"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"page_count":2`)

	rec = doRequest(t, handler, http.MethodGet, "/api/documents/"+documentID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var doc docstore.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.NotEmpty(t, doc.SlideDescriptionsPath)
}

func TestDescribeDocumentUnconfigured(t *testing.T) {
	server, _, _ := newTestServer(t, fakeAgent{}, fakeHealth{})
	handler := server.Handler()
	documentID := uploadDocument(t, handler)

	rec := doRequest(t, handler, http.MethodPost, "/api/documents/"+documentID+"/describe", `{"pages": ["x"]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDescribeDocumentRequiresPages(t *testing.T) {
	server, _, _ := newTestServer(t, fakeAgent{}, fakeHealth{})
	server.describer = fakeDescriber{}
	handler := server.Handler()
	documentID := uploadDocument(t, handler)

	rec := doRequest(t, handler, http.MethodPost, "/api/documents/"+documentID+"/describe", `{"pages": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "pages is required")
}

func TestDeleteDocument(t *testing.T) {
	server, _, _ := newTestServer(t, fakeAgent{}, fakeHealth{})
	handler := server.Handler()
	documentID := uploadDocument(t, handler)

	rec := doRequest(t, handler, http.MethodDelete, "/api/documents/"+documentID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/api/documents/"+documentID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatPersistsHistory(t *testing.T) {
	agent := fakeAgent{result: chat.Result{Reply: "caches are fast memory"}}
	server, _, courses := newTestServer(t, agent, fakeHealth{})
	handler := server.Handler()

	require.NoError(t, courses.CreateCourse(context.Background(), "cs101", "Systems"))

	rec := doRequest(t, handler, http.MethodPost, "/api/chat",
		`{"message": "what is a cache?", "source": "lectures", "course_id": "cs101", "user_id": "u1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/api/chat/history?course_id=cs101&user_id=u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"count":1`)
	assert.Contains(t, body, "what is a cache?")
	assert.Contains(t, body, "caches are fast memory")
}

func TestChatHistoryRequiresCourseID(t *testing.T) {
	server, _, _ := newTestServer(t, fakeAgent{}, fakeHealth{})
	rec := doRequest(t, server.Handler(), http.MethodGet, "/api/chat/history", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActiveDownloadsEmpty(t *testing.T) {
	server, _, _ := newTestServer(t, fakeAgent{}, fakeHealth{})
	rec := doRequest(t, server.Handler(), http.MethodGet, "/api/videos/active", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":0`)
}
