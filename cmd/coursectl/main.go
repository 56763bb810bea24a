// Package main provides the coursectl CLI for offline ingestion and
// chunk inspection.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/studybuddy/backend/internal/chunking"
	"github.com/studybuddy/backend/internal/coursedb"
	"github.com/studybuddy/backend/internal/docstore"
	"github.com/studybuddy/backend/internal/embedding"
	"github.com/studybuddy/backend/internal/ingest"
	"github.com/studybuddy/backend/internal/media"
	"github.com/studybuddy/backend/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:           "coursectl",
	Short:         "Manage course content ingestion and chunk exports",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------
// ingest
// ---------------------------------------------------------------------

var ingestFlags struct {
	courseID          string
	userID            string
	lectures          string
	documents         string
	lectureCollection string
	slideCollection   string
	qdrantHost        string
	qdrantPort        int
	dataDir           string
	storageDir        string
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Chunk stored transcripts and slide descriptions into the vector store",
	RunE:  runIngest,
}

func init() {
	flags := ingestCmd.Flags()
	flags.StringVar(&ingestFlags.courseID, "course-id", "", "course to ingest (required)")
	flags.StringVar(&ingestFlags.userID, "user-id", "", "user the content belongs to (required)")
	flags.StringVar(&ingestFlags.lectures, "lectures", "", "comma-separated lecture IDs (defaults to all lectures of the course)")
	flags.StringVar(&ingestFlags.documents, "documents", "", "comma-separated document IDs")
	flags.StringVar(&ingestFlags.lectureCollection, "lecture-collection", storage.DefaultLectureCollection, "Qdrant collection for lecture chunks")
	flags.StringVar(&ingestFlags.slideCollection, "slide-collection", storage.DefaultSlideCollection, "Qdrant collection for slide chunks")
	flags.StringVar(&ingestFlags.qdrantHost, "qdrant-host", getEnv("QDRANT_HOST", "localhost"), "Qdrant host")
	flags.IntVar(&ingestFlags.qdrantPort, "qdrant-port", 6334, "Qdrant gRPC port")
	flags.StringVar(&ingestFlags.dataDir, "data-dir", "data", "metadata directory")
	flags.StringVar(&ingestFlags.storageDir, "storage-dir", "storage/videos", "video storage directory")
	cobra.CheckErr(ingestCmd.MarkFlagRequired("course-id"))
	cobra.CheckErr(ingestCmd.MarkFlagRequired("user-id"))
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	courses, err := coursedb.Open(filepath.Join(ingestFlags.dataDir, "app.db"))
	if err != nil {
		return err
	}
	defer courses.Close()
	if _, err := courses.Course(ctx, ingestFlags.courseID); err != nil {
		if errors.Is(err, coursedb.ErrNotFound) {
			return fmt.Errorf("course %s not found; create it via /api/courses first", ingestFlags.courseID)
		}
		return err
	}

	mediaStore, err := media.NewStore(ingestFlags.storageDir, ingestFlags.dataDir)
	if err != nil {
		return err
	}
	documents, err := docstore.NewStore("storage/documents", ingestFlags.dataDir)
	if err != nil {
		return err
	}

	embeddingClient, err := embedding.NewClient()
	if err != nil {
		return err
	}
	embedder := embedding.NewEmbedder(embeddingClient, 0)
	store, err := storage.NewQdrantStore(ingestFlags.qdrantHost, ingestFlags.qdrantPort, embedder)
	if err != nil {
		return fmt.Errorf("connect to Qdrant: %w", err)
	}
	defer store.Close()
	if err := store.EnsureCollections(ctx, ingestFlags.lectureCollection, ingestFlags.slideCollection); err != nil {
		return err
	}

	coordinator := ingest.NewCoordinator(
		ingest.MediaLectures{Store: mediaStore},
		ingest.DocumentSlides{Store: documents},
		store,
		ingestFlags.lectureCollection,
		ingestFlags.slideCollection,
		nil,
	)

	lectureIDs := splitIDs(ingestFlags.lectures)
	if len(lectureIDs) == 0 {
		lectureIDs, err = coordinator.LectureIDsForCourse(ingestFlags.courseID)
		if err != nil {
			return err
		}
	}

	insertedLectures := 0
	if len(lectureIDs) > 0 {
		insertedLectures, err = coordinator.IngestLectures(ctx, lectureIDs, ingestFlags.userID)
		if err != nil {
			return err
		}
		if insertedLectures > 0 {
			cmd.Printf("Inserted %d lecture chunks into collection %q\n", insertedLectures, ingestFlags.lectureCollection)
		}
	}

	documentIDs := splitIDs(ingestFlags.documents)
	insertedSlides := 0
	if len(documentIDs) > 0 {
		insertedSlides, err = coordinator.IngestSlides(ctx, documentIDs, ingestFlags.userID, 0)
		if err != nil {
			return err
		}
		if insertedSlides > 0 {
			cmd.Printf("Inserted %d slide chunks into collection %q\n", insertedSlides, ingestFlags.slideCollection)
		}
	}

	if insertedLectures == 0 && insertedSlides == 0 {
		return errors.New("no chunks were ingested; ensure transcripts/slides exist for the provided IDs")
	}
	return nil
}

// ---------------------------------------------------------------------
// export
// ---------------------------------------------------------------------

var exportFlags struct {
	lectureID  string
	documentID string
	limit      int
	dataDir    string
	storageDir string
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write transcript or slide chunks to JSON files for inspection",
	RunE:  runExport,
}

func init() {
	flags := exportCmd.Flags()
	flags.StringVar(&exportFlags.lectureID, "lecture-id", "", "lecture ID to export transcript chunks")
	flags.StringVar(&exportFlags.documentID, "document-id", "", "document ID to export slide chunks")
	flags.IntVar(&exportFlags.limit, "limit", 0, "number of chunks to export (defaults to all)")
	flags.StringVar(&exportFlags.dataDir, "data-dir", "data", "metadata directory")
	flags.StringVar(&exportFlags.storageDir, "storage-dir", "storage/videos", "video storage directory")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, _ []string) error {
	if exportFlags.lectureID == "" && exportFlags.documentID == "" {
		return errors.New("specify at least --lecture-id or --document-id")
	}

	if exportFlags.lectureID != "" {
		path, err := exportTranscriptChunks(exportFlags.lectureID, exportFlags.limit)
		if err != nil {
			return err
		}
		cmd.Printf("Transcript chunks written to %s\n", path)
	}
	if exportFlags.documentID != "" {
		path, err := exportSlideChunks(exportFlags.documentID, exportFlags.limit)
		if err != nil {
			return err
		}
		cmd.Printf("Slide chunks written to %s\n", path)
	}
	return nil
}

func exportTranscriptChunks(lectureID string, limit int) (string, error) {
	mediaStore, err := media.NewStore(exportFlags.storageDir, exportFlags.dataDir)
	if err != nil {
		return "", err
	}
	video, err := mediaStore.Video(lectureID)
	if errors.Is(err, media.ErrNotFound) {
		return "", fmt.Errorf("lecture %s not found", lectureID)
	}
	if err != nil {
		return "", err
	}
	if video.Transcript == "" {
		return "", fmt.Errorf("lecture %s has no transcript text to chunk", lectureID)
	}

	doc := chunking.SourceDocument{
		ID:      lectureID,
		Name:    titleOrID(video.Title, lectureID),
		Content: video.Transcript,
		Metadata: map[string]any{
			"lecture_id": lectureID,
			"course_id":  video.CourseID,
			"source":     "transcript",
		},
	}
	chunks := chunking.NewTranscriptChunker().Chunk(doc, video.Segments)
	if len(chunks) == 0 {
		return "", fmt.Errorf("chunker returned no chunks for %s", lectureID)
	}
	return writeChunks(lectureID+"_transcript_chunks.json", chunks, limit)
}

func exportSlideChunks(documentID string, limit int) (string, error) {
	documents, err := docstore.NewStore("storage/documents", exportFlags.dataDir)
	if err != nil {
		return "", err
	}
	entry, err := documents.Document(documentID)
	if errors.Is(err, docstore.ErrNotFound) {
		return "", fmt.Errorf("document %s not found", documentID)
	}
	if err != nil {
		return "", err
	}
	if entry.SlideDescriptionsPath == "" {
		return "", fmt.Errorf("document %s has no slide descriptions yet; run the slide describer first", documentID)
	}
	data, err := os.ReadFile(entry.SlideDescriptionsPath)
	if err != nil {
		return "", fmt.Errorf("read slide descriptions: %w", err)
	}
	var descriptions []chunking.PageDescription
	if err := json.Unmarshal(data, &descriptions); err != nil {
		return "", fmt.Errorf("decode slide descriptions: %w", err)
	}

	chunks, err := chunking.ChunkSlideDescriptions(descriptions, documentID, 0, nil)
	if err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return "", fmt.Errorf("slide chunker returned no chunks for %s", documentID)
	}
	return writeChunks(documentID+"_slide_chunks.json", chunks, limit)
}

func writeChunks(filename string, chunks []chunking.Chunk, limit int) (string, error) {
	if limit > 0 && len(chunks) > limit {
		chunks = chunks[:limit]
	}
	chunkDir := filepath.Join(exportFlags.dataDir, "chunks")
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		return "", fmt.Errorf("create chunk directory: %w", err)
	}
	path := filepath.Join(chunkDir, filename)
	data, err := json.MarshalIndent(chunks, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode chunks: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func splitIDs(csv string) []string {
	var ids []string
	for _, part := range strings.Split(csv, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids
}

func titleOrID(title, id string) string {
	if title != "" {
		return title
	}
	return id
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
