// Package main provides the course assistant backend entry point: the
// HTTP API, the MCP endpoint, and the background download worker.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/studybuddy/backend/internal/api"
	"github.com/studybuddy/backend/internal/chat"
	"github.com/studybuddy/backend/internal/coursedb"
	"github.com/studybuddy/backend/internal/describe"
	"github.com/studybuddy/backend/internal/docstore"
	"github.com/studybuddy/backend/internal/download"
	"github.com/studybuddy/backend/internal/embedding"
	"github.com/studybuddy/backend/internal/ingest"
	mcpserver "github.com/studybuddy/backend/internal/mcp"
	"github.com/studybuddy/backend/internal/media"
	"github.com/studybuddy/backend/internal/retrieval"
	"github.com/studybuddy/backend/internal/storage"
	"github.com/studybuddy/backend/internal/transcribe"
)

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Configuration from environment
	qdrantHost := getEnv("QDRANT_HOST", "localhost")
	qdrantPort := getEnvInt("QDRANT_PORT", 6334)
	port := getEnv("PORT", "8080")
	dataDir := getEnv("DATA_DIR", "data")
	videoDir := getEnv("VIDEO_STORAGE_DIR", "storage/videos")
	documentDir := getEnv("DOCUMENT_STORAGE_DIR", "storage/documents")
	lectureCollection := getEnv("LECTURE_COLLECTION", storage.DefaultLectureCollection)
	slideCollection := getEnv("SLIDE_COLLECTION", storage.DefaultSlideCollection)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// Initialize embedding client
	embeddingClient, err := embedding.NewClient()
	if err != nil {
		log.Fatalf("failed to create embedding client: %v", err)
	}
	embedder := embedding.NewEmbedder(embeddingClient, 0) // Use default batch size

	// Initialize vector storage
	store, err := storage.NewQdrantStore(qdrantHost, qdrantPort, embedder)
	if err != nil {
		log.Fatalf("failed to connect to Qdrant: %v", err)
	}
	defer store.Close()
	if err := store.EnsureCollections(ctx, lectureCollection, slideCollection); err != nil {
		log.Fatalf("failed to ensure collections: %v", err)
	}
	retriever := retrieval.NewRetriever(store, lectureCollection, slideCollection, logger)

	// Initialize local stores
	mediaStore, err := media.NewStore(videoDir, dataDir)
	if err != nil {
		log.Fatalf("failed to create media store: %v", err)
	}
	documents, err := docstore.NewStore(documentDir, dataDir)
	if err != nil {
		log.Fatalf("failed to create document store: %v", err)
	}
	courses, err := coursedb.Open(getEnv("COURSE_DB_PATH", filepath.Join(dataDir, "app.db")))
	if err != nil {
		log.Fatalf("failed to open course database: %v", err)
	}
	defer courses.Close()

	// Ingestion pipeline and download worker. Completed downloads feed
	// straight into the vector store.
	coordinator := ingest.NewCoordinator(
		ingest.MediaLectures{Store: mediaStore},
		ingest.DocumentSlides{Store: documents},
		store,
		lectureCollection,
		slideCollection,
		logger,
	)
	autoIngest := func(ctx context.Context, lectureID string) {
		if _, err := coordinator.IngestLectures(ctx, []string{lectureID}, ""); err != nil {
			logger.Error("auto-ingest failed", "lecture_id", lectureID, "error", err)
		}
	}
	worker := download.NewWorker(mediaStore, transcribe.NewTranscriber(), autoIngest, logger)

	agent := chat.NewAgent(embeddingClient.Client(), retriever, "", logger)
	describer := describe.NewDescriber(embeddingClient.Client(), "", logger)

	apiServer := api.NewServer(api.Config{
		Media:     mediaStore,
		Documents: documents,
		Courses:   courses,
		Worker:    worker,
		Agent:     agent,
		Describer: describer,
		Health:    store,
		Logger:    logger,
	})

	// Create MCP server sharing the same retriever and media store
	server := mcpserver.NewServer(&mcpserver.Config{
		Retriever: retriever,
		Media:     mediaStore,
	})

	// HTTP routes: REST API at /api (health included), MCP at /mcp
	mux := http.NewServeMux()
	mux.Handle("/", apiServer.Handler())
	mux.Handle("/mcp", mcpserver.NewHTTPHandler(server, nil))

	// Check if running in server mode (HTTP) or stdio mode (local development)
	serverMode := getEnv("SERVER_MODE", "true") == "true"

	if serverMode {
		addr := "0.0.0.0:" + port
		log.Printf("Starting HTTP server on %s (API at /api, MCP at /mcp, health at /health)", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	} else {
		// Stdio mode: run MCP over stdin/stdout, keep the REST API in
		// the background for the browser extension.
		go func() {
			addr := "0.0.0.0:" + port
			log.Printf("Starting HTTP server on %s", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("HTTP server error: %v", err)
			}
		}()

		log.Println("Starting course assistant MCP server (stdio mode)...")
		if err := server.Run(ctx); err != nil {
			log.Printf("server error: %v", err)
			os.Exit(1)
		}
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}
