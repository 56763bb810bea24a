// Package api exposes the backend over HTTP for the browser extension
// and web frontend.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/studybuddy/backend/internal/chat"
	"github.com/studybuddy/backend/internal/chunking"
	"github.com/studybuddy/backend/internal/coursedb"
	"github.com/studybuddy/backend/internal/docstore"
	"github.com/studybuddy/backend/internal/download"
	"github.com/studybuddy/backend/internal/media"
	"github.com/studybuddy/backend/internal/retrieval"
	"github.com/studybuddy/backend/internal/storage"
)

// ChatAgent is the answer-generation dependency. Satisfied by
// *chat.Agent; narrowed to an interface so handler tests can fake it.
type ChatAgent interface {
	Respond(ctx context.Context, message string, scope retrieval.Scope, userID string) (chat.Result, error)
	RespondStream(ctx context.Context, message string, scope retrieval.Scope, userID string, onDelta func(string)) (chat.Result, error)
}

// HealthChecker reports vector store connectivity.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// SlideDescriber produces structured per-page descriptions for an
// uploaded slide deck. Satisfied by *describe.Describer.
type SlideDescriber interface {
	DescribeDocument(ctx context.Context, pages []string) ([]chunking.PageDescription, error)
}

// Server holds the HTTP surface's dependencies.
type Server struct {
	media     *media.Store
	documents *docstore.Store
	courses   *coursedb.DB
	worker    *download.Worker
	agent     ChatAgent
	describer SlideDescriber
	health    HealthChecker
	logger    *slog.Logger
}

// Config wires a Server. Describer and Logger are optional; everything
// else is required.
type Config struct {
	Media     *media.Store
	Documents *docstore.Store
	Courses   *coursedb.DB
	Worker    *download.Worker
	Agent     ChatAgent
	Describer SlideDescriber
	Health    HealthChecker
	Logger    *slog.Logger
}

// NewServer builds the API server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		media:     cfg.Media,
		documents: cfg.Documents,
		courses:   cfg.Courses,
		worker:    cfg.Worker,
		agent:     cfg.Agent,
		describer: cfg.Describer,
		health:    cfg.Health,
		logger:    logger,
	}
}

// Handler returns the full route table wrapped in CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/videos/download", s.handleDownload)
	mux.HandleFunc("GET /api/videos", s.handleListVideos)
	mux.HandleFunc("GET /api/videos/active", s.handleActiveDownloads)
	mux.HandleFunc("GET /api/videos/{id}", s.handleGetVideo)
	mux.HandleFunc("GET /api/videos/{id}/status", s.handleVideoStatus)
	mux.HandleFunc("GET /api/videos/{id}/file", s.handleVideoFile)
	mux.HandleFunc("DELETE /api/videos/{id}", s.handleDeleteVideo)

	mux.HandleFunc("POST /api/documents/upload", s.handleUploadDocument)
	mux.HandleFunc("GET /api/documents", s.handleListDocuments)
	mux.HandleFunc("GET /api/documents/{id}", s.handleGetDocument)
	mux.HandleFunc("DELETE /api/documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("POST /api/documents/{id}/describe", s.handleDescribeDocument)

	mux.HandleFunc("POST /api/courses", s.handleCreateCourse)
	mux.HandleFunc("GET /api/courses", s.handleListCourses)

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/chat/stream", s.handleChatStream)
	mux.HandleFunc("GET /api/chat/history", s.handleChatHistory)

	return withCORS(mux)
}

// withCORS allows the browser extension to call the API from any origin.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	qdrant := "connected"
	if err := s.health.Health(ctx); err != nil {
		status = "unhealthy"
		qdrant = "disconnected"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"qdrant":    qdrant,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type downloadRequest struct {
	StreamURL string `json:"stream_url"`
	VideoID   string `json:"video_id"`
	Title     string `json:"title"`
	SourceURL string `json:"source_url"`
	CourseID  string `json:"course_id"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.StreamURL == "" {
		writeError(w, http.StatusBadRequest, "stream_url is required")
		return
	}
	jobID := s.worker.Download(r.Context(), req.StreamURL, req.VideoID, req.Title, req.SourceURL, req.CourseID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "accepted",
		"job_id":   jobID,
		"video_id": jobID,
		"message":  "Video download started",
	})
}

func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	videos, err := s.media.ListVideos()
	if err != nil {
		s.serveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"videos": videos, "count": len(videos)})
}

func (s *Server) handleActiveDownloads(w http.ResponseWriter, r *http.Request) {
	jobs := s.worker.ActiveJobs()
	writeJSON(w, http.StatusOK, map[string]any{"downloads": jobs, "count": len(jobs)})
}

func (s *Server) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	video, err := s.media.Video(r.PathValue("id"))
	if err != nil {
		s.serveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, video)
}

func (s *Server) handleVideoStatus(w http.ResponseWriter, r *http.Request) {
	status := s.worker.GetStatus(r.PathValue("id"))
	if status.Status == "not_found" {
		writeError(w, http.StatusNotFound, "Video not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleVideoFile(w http.ResponseWriter, r *http.Request) {
	path, ok := s.media.VideoPath(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Video file not found")
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, path)
}

func (s *Server) handleDeleteVideo(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("id")
	if err := s.media.Delete(videoID); err != nil {
		s.serveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "video_id": videoID})
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	doc, err := s.documents.SaveDocument(file, header.Filename, header.Header.Get("Content-Type"), r.FormValue("document_id"))
	if err != nil {
		s.serveError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.documents.ListDocuments()
	if err != nil {
		s.serveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.Document(r.PathValue("id"))
	if err != nil {
		s.serveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("id")
	if err := s.documents.Delete(documentID); err != nil {
		s.serveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "document_id": documentID})
}

type describeRequest struct {
	Pages []string `json:"pages"`
}

// handleDescribeDocument generates structured descriptions for the
// supplied page texts and stores them alongside the document. Clients
// extract page text themselves; the server only runs the model.
func (s *Server) handleDescribeDocument(w http.ResponseWriter, r *http.Request) {
	if s.describer == nil {
		writeError(w, http.StatusServiceUnavailable, "slide description is not configured")
		return
	}
	documentID := r.PathValue("id")
	if _, err := s.documents.Document(documentID); err != nil {
		s.serveError(w, err)
		return
	}

	var req describeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Pages) == 0 {
		writeError(w, http.StatusBadRequest, "pages is required")
		return
	}

	descriptions, err := s.describer.DescribeDocument(r.Context(), req.Pages)
	if err != nil {
		s.serveError(w, err)
		return
	}
	path, err := s.documents.SaveSlideDescriptions(documentID, descriptions)
	if err != nil {
		s.serveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document_id":             documentID,
		"page_count":              len(descriptions),
		"slide_descriptions_path": path,
	})
}

type createCourseRequest struct {
	CourseID string `json:"course_id"`
	Name     string `json:"name"`
}

func (s *Server) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	var req createCourseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.CourseID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "course_id and name are required")
		return
	}
	if err := s.courses.CreateCourse(r.Context(), req.CourseID, req.Name); err != nil {
		s.serveError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, coursedb.Course{ID: req.CourseID, Name: req.Name})
}

func (s *Server) handleListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := s.courses.ListCourses(r.Context())
	if err != nil {
		s.serveError(w, err)
		return
	}
	if courses == nil {
		courses = []coursedb.Course{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"courses": courses, "count": len(courses)})
}

type chatRequest struct {
	Message  string `json:"message"`
	Source   string `json:"source"`
	UserID   string `json:"user_id"`
	CourseID string `json:"course_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, scope, ok := s.decodeChat(w, r)
	if !ok {
		return
	}
	result, err := s.agent.Respond(r.Context(), req.Message, scope, req.UserID)
	if err != nil {
		s.serveError(w, err)
		return
	}
	s.saveChatExchange(r.Context(), req, result)
	writeJSON(w, http.StatusOK, result)
}

// saveChatExchange records both sides of a completed exchange. History
// is best-effort: a storage failure must not fail an answered request.
func (s *Server) saveChatExchange(ctx context.Context, req chatRequest, result chat.Result) {
	if req.CourseID == "" {
		return
	}
	sessionID, err := s.courses.GetOrCreateChatSession(ctx, req.CourseID, req.UserID)
	if err != nil {
		s.logger.Error("chat session lookup failed", "course_id", req.CourseID, "error", err)
		return
	}
	if err := s.courses.AddChatMessage(ctx, sessionID, "user", req.Message, ""); err != nil {
		s.logger.Error("chat history write failed", "session_id", sessionID, "error", err)
		return
	}
	if err := s.courses.AddChatMessage(ctx, sessionID, "assistant", result.Reply, string(result.Source)); err != nil {
		s.logger.Error("chat history write failed", "session_id", sessionID, "error", err)
	}
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	courseID := r.URL.Query().Get("course_id")
	if courseID == "" {
		writeError(w, http.StatusBadRequest, "course_id is required")
		return
	}
	sessions, err := s.courses.ChatHistory(r.Context(), courseID, r.URL.Query().Get("user_id"))
	if err != nil {
		s.serveError(w, err)
		return
	}
	if sessions == nil {
		sessions = []coursedb.ChatSession{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}

// handleChatStream relays the answer as SSE: one "delta" event per
// model fragment, then a final "result" event with references.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, scope, ok := s.decodeChat(w, r)
	if !ok {
		return
	}
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	result, err := s.agent.RespondStream(r.Context(), req.Message, scope, req.UserID, func(delta string) {
		payload, _ := json.Marshal(map[string]string{"content": delta})
		fmt.Fprintf(w, "event: delta\ndata: %s\n\n", payload)
		flusher.Flush()
	})
	if err != nil {
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
		flusher.Flush()
		return
	}
	s.saveChatExchange(r.Context(), req, result)
	payload, _ := json.Marshal(result)
	fmt.Fprintf(w, "event: result\ndata: %s\n\n", payload)
	flusher.Flush()
}

func (s *Server) decodeChat(w http.ResponseWriter, r *http.Request) (chatRequest, retrieval.Scope, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, "", false
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return req, "", false
	}
	scope, err := retrieval.ParseScope(req.Source)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, "", false
	}
	return req, scope, true
}

// serveError maps sentinel error kinds onto HTTP status codes.
func (s *Server) serveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, media.ErrNotFound),
		errors.Is(err, docstore.ErrNotFound),
		errors.Is(err, coursedb.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrQdrantUnreachable),
		errors.Is(err, storage.ErrUpstream):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}
