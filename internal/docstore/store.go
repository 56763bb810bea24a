// Package docstore manages uploaded slide decks (PDFs) and the generated
// per-page description files that feed slide ingestion.
package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/studybuddy/backend/internal/chunking"
)

// ErrNotFound is returned when a document id has no metadata entry.
var ErrNotFound = errors.New("docstore: document not found")

// Document is one uploaded deck's metadata entry in documents.json.
type Document struct {
	DocumentID       string `json:"document_id"`
	OriginalFilename string `json:"original_filename,omitempty"`
	ContentType      string `json:"content_type,omitempty"`
	CourseID         string `json:"course_id,omitempty"`
	FilePath         string `json:"file_path"`
	FileSize         int64  `json:"file_size"`
	UploadedAt       string `json:"uploaded_at"`

	SlideDescriptionsPath      string `json:"slide_descriptions_path,omitempty"`
	SlideDescriptionsUpdatedAt string `json:"slide_descriptions_updated_at,omitempty"`
	SlidePageCount             int    `json:"slide_page_count,omitempty"`
}

// Store keeps uploaded decks under storageDir and metadata plus
// description files under dataDir.
type Store struct {
	storageDir      string
	dataDir         string
	descriptionsDir string
	metadataFile    string

	mu sync.Mutex
}

// NewStore creates the directory layout and an empty documents.json when
// missing.
func NewStore(storageDir, dataDir string) (*Store, error) {
	if storageDir == "" {
		storageDir = "storage/documents"
	}
	if dataDir == "" {
		dataDir = "data"
	}
	s := &Store{
		storageDir:      storageDir,
		dataDir:         dataDir,
		descriptionsDir: filepath.Join(dataDir, "document_descriptions"),
		metadataFile:    filepath.Join(dataDir, "documents.json"),
	}
	for _, dir := range []string{s.storageDir, s.dataDir, s.descriptionsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if _, err := os.Stat(s.metadataFile); errors.Is(err, os.ErrNotExist) {
		if err := s.saveMetadata(map[string]Document{}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SaveDocument streams an uploaded PDF to disk and records its metadata.
// An empty documentID gets a timestamp-derived one.
func (s *Store) SaveDocument(r io.Reader, filename, contentType, documentID string) (Document, error) {
	if documentID == "" {
		documentID = "doc_" + time.Now().Format("20060102_150405.000000")
	}
	destination := filepath.Join(s.storageDir, documentID+".pdf")
	out, err := os.Create(destination)
	if err != nil {
		return Document{}, fmt.Errorf("create %s: %w", destination, err)
	}
	size, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Document{}, fmt.Errorf("write %s: %w", destination, err)
	}

	entry := Document{
		DocumentID:       documentID,
		OriginalFilename: filename,
		ContentType:      contentType,
		FilePath:         destination,
		FileSize:         size,
		UploadedAt:       time.Now().Format(time.RFC3339),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	metadata, err := s.loadMetadata()
	if err != nil {
		return Document{}, err
	}
	metadata[documentID] = entry
	return entry, s.saveMetadata(metadata)
}

// Document fetches metadata for one document.
func (s *Store) Document(documentID string) (Document, error) {
	s.mu.Lock()
	metadata, err := s.loadMetadata()
	s.mu.Unlock()
	if err != nil {
		return Document{}, err
	}
	entry, ok := metadata[documentID]
	if !ok {
		return Document{}, ErrNotFound
	}
	return entry, nil
}

// ListDocuments returns all stored document entries.
func (s *Store) ListDocuments() ([]Document, error) {
	s.mu.Lock()
	metadata, err := s.loadMetadata()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	documents := make([]Document, 0, len(metadata))
	for _, entry := range metadata {
		documents = append(documents, entry)
	}
	return documents, nil
}

// SaveSlideDescriptions writes the generated per-page descriptions next to
// the metadata and points the document entry at them.
func (s *Store) SaveSlideDescriptions(documentID string, descriptions []chunking.PageDescription) (string, error) {
	outputPath := filepath.Join(s.descriptionsDir, documentID+"_slides.json")
	data, err := json.MarshalIndent(descriptions, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode descriptions: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", outputPath, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	metadata, err := s.loadMetadata()
	if err != nil {
		return "", err
	}
	if entry, ok := metadata[documentID]; ok {
		entry.SlideDescriptionsPath = outputPath
		entry.SlideDescriptionsUpdatedAt = time.Now().Format(time.RFC3339)
		entry.SlidePageCount = len(descriptions)
		metadata[documentID] = entry
		if err := s.saveMetadata(metadata); err != nil {
			return "", err
		}
	}
	return outputPath, nil
}

// DescriptionsPath resolves the slide-description file for a document.
// An empty path with nil error means descriptions were never generated.
func (s *Store) DescriptionsPath(documentID string) (string, error) {
	entry, err := s.Document(documentID)
	if err != nil {
		return "", err
	}
	return entry.SlideDescriptionsPath, nil
}

// Delete removes the stored PDF, any description file, and the metadata
// entry.
func (s *Store) Delete(documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	metadata, err := s.loadMetadata()
	if err != nil {
		return err
	}
	entry, ok := metadata[documentID]
	if !ok {
		return ErrNotFound
	}
	for _, path := range []string{entry.FilePath, entry.SlideDescriptionsPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}
	delete(metadata, documentID)
	return s.saveMetadata(metadata)
}

func (s *Store) loadMetadata() (map[string]Document, error) {
	data, err := os.ReadFile(s.metadataFile)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.metadataFile, err)
	}
	metadata := map[string]Document{}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.metadataFile, err)
	}
	return metadata, nil
}

func (s *Store) saveMetadata(metadata map[string]Document) error {
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(s.metadataFile, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.metadataFile, err)
	}
	return nil
}
