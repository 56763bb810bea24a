package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Embedder turns texts into vectors. Implemented by the embedding package;
// declared here so the store does not depend on a concrete client.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// QdrantStore wraps the Qdrant client with connection management,
// collection setup, and the two operations the core consumes: bulk
// content insertion and filtered similarity search.
type QdrantStore struct {
	client   *qdrant.Client
	embedder Embedder
	host     string
	port     int
}

// NewQdrantStore creates a Qdrant client and validates connectivity.
// It performs a health check with retry on startup and fails fast if
// Qdrant is unreachable.
func NewQdrantStore(host string, port int, embedder Embedder) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	store := &QdrantStore{
		client:   client,
		embedder: embedder,
		host:     host,
		port:     port,
	}

	ctx := context.Background()
	if err := store.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	return store, nil
}

// healthCheckWithRetry performs the startup health check with exponential
// backoff. Initial interval 500ms, max interval 10s, max elapsed 30s.
func (s *QdrantStore) healthCheckWithRetry(ctx context.Context) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = 500 * time.Millisecond
	exponentialBackoff.MaxInterval = 10 * time.Second
	exponentialBackoff.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return s.Health(ctx)
	}, backoff.WithContext(exponentialBackoff, ctx))
}

// Health performs a single health check against Qdrant.
func (s *QdrantStore) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// filterableFields lists the metadata keys queries filter on. Payload
// indexes on these keep filtered search fast.
var filterableFields = []string{
	"metadata.user_id",
	"metadata.lecture_id",
	"metadata.document_id",
	"metadata.source",
}

// EnsureCollections ensures each named collection exists with cosine
// vectors and payload indexes on the filterable metadata fields.
// Idempotent, safe to call on every startup.
func (s *QdrantStore) EnsureCollections(ctx context.Context, names ...string) error {
	existing, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to list collections: %v", ErrUpstream, err)
	}
	present := make(map[string]bool, len(existing))
	for _, name := range existing {
		present[name] = true
	}

	for _, name := range names {
		if present[name] {
			continue
		}
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     VectorDimension,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("%w: failed to create collection %s: %v", ErrUpstream, name, err)
		}
		for _, field := range filterableFields {
			_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
				CollectionName: name,
				FieldName:      field,
				FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			})
			if err != nil {
				return fmt.Errorf("%w: failed to create index for %s on %s: %v", ErrUpstream, field, name, err)
			}
		}
	}
	return nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// AddContents embeds and upserts a batch of chunks into the named
// collection. Contents with empty trimmed text are skipped. Idempotency
// and persistence are Qdrant's responsibility.
func (s *QdrantStore) AddContents(ctx context.Context, collection string, contents []IngestContent) error {
	kept := make([]IngestContent, 0, len(contents))
	texts := make([]string, 0, len(contents))
	for _, content := range contents {
		text := strings.TrimSpace(content.TextContent)
		if text == "" {
			continue
		}
		content.TextContent = text
		kept = append(kept, content)
		texts = append(texts, text)
	}
	if len(kept) == 0 {
		return nil
	}

	embeddings, err := s.embedder.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: embed contents: %v", ErrUpstream, err)
	}
	if len(embeddings) != len(kept) {
		return fmt.Errorf("%w: got %d embeddings for %d contents", ErrDimensionMismatch, len(embeddings), len(kept))
	}

	points := make([]*qdrant.PointStruct, len(kept))
	for i, content := range kept {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(content)),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				"name":     content.Name,
				"content":  content.TextContent,
				"metadata": content.Metadata,
			}),
		}
	}

	// Batch upserts in groups of 100.
	batchSize := 100
	for i := 0; i < len(points); i += batchSize {
		end := min(i+batchSize, len(points))
		if err := s.upsertWithRetry(ctx, collection, points[i:end]); err != nil {
			return fmt.Errorf("%w: upsert batch %d-%d into %s: %v", ErrUpstream, i, end, collection, err)
		}
	}
	return nil
}

// pointID derives a stable point id from the chunk_id metadata so
// re-ingesting a lecture overwrites its previous chunks instead of
// duplicating them. Contents without a chunk_id get a random id.
func pointID(content IngestContent) string {
	if chunkID, ok := content.Metadata["chunk_id"].(string); ok && chunkID != "" {
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
	}
	return uuid.New().String()
}

// upsertWithRetry performs one upsert with exponential backoff retry.
func (s *QdrantStore) upsertWithRetry(ctx context.Context, collection string, points []*qdrant.PointStruct) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = 500 * time.Millisecond
	exponentialBackoff.MaxInterval = 10 * time.Second
	exponentialBackoff.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         points,
		})
		return err
	}, backoff.WithContext(exponentialBackoff, ctx))
}

// DefaultSearchLimit applies when a caller does not cap result count.
const DefaultSearchLimit = 10

// Search embeds the query and runs similarity search against the named
// collection, returning results ordered by score descending. Filters are
// equality constraints on metadata keys, pushed down as payload match
// conditions. Zero matches yields an empty slice, not an error.
func (s *QdrantStore) Search(ctx context.Context, collection, query string, maxResults int, filters map[string]string) ([]RetrievedDocument, error) {
	embeddings, err := s.embedder.GenerateEmbeddings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrUpstream, err)
	}
	queryVector := embeddings[0]
	if len(queryVector) != VectorDimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(queryVector), VectorDimension)
	}

	limit := maxResults
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	var filter *qdrant.Filter
	if len(filters) > 0 {
		must := make([]*qdrant.Condition, 0, len(filters))
		for key, value := range filters {
			must = append(must, qdrant.NewMatch("metadata."+key, value))
		}
		filter = &qdrant.Filter{Must: must}
	}

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(queryVector...),
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: search %s: %v", ErrUpstream, collection, err)
	}

	docs := make([]RetrievedDocument, 0, len(results))
	for _, result := range results {
		payload := result.Payload
		docs = append(docs, RetrievedDocument{
			ID:       result.Id.GetUuid(),
			Name:     payload["name"].GetStringValue(),
			Content:  payload["content"].GetStringValue(),
			Metadata: valueMapToAny(payload["metadata"].GetStructValue().GetFields()),
			Score:    float64(result.Score),
		})
	}
	return docs, nil
}

// valueMapToAny converts a Qdrant payload struct back into plain Go
// values so metadata round-trips through the store.
func valueMapToAny(fields map[string]*qdrant.Value) map[string]any {
	if fields == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		out[key] = valueToAny(value)
	}
	return out
}

func valueToAny(value *qdrant.Value) any {
	switch kind := value.GetKind().(type) {
	case *qdrant.Value_NullValue:
		return nil
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_ListValue:
		items := make([]any, 0, len(kind.ListValue.GetValues()))
		for _, item := range kind.ListValue.GetValues() {
			items = append(items, valueToAny(item))
		}
		return items
	case *qdrant.Value_StructValue:
		return valueMapToAny(kind.StructValue.GetFields())
	default:
		return nil
	}
}
