// Package retrieval answers "search the right knowledge scopes and
// return the best N passages" by fanning a query out across the lecture
// and slide collections and merging the results into one ranked list.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/studybuddy/backend/internal/storage"
)

// Scope selects which backing collection(s) a query searches.
type Scope string

const (
	ScopeLectures Scope = "lectures"
	ScopeSlides   Scope = "slides"
	ScopeCombined Scope = "combined"
)

// ParseScope validates a scope string. An empty string defaults to
// combined.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "":
		return ScopeCombined, nil
	case ScopeLectures, ScopeSlides, ScopeCombined:
		return Scope(s), nil
	default:
		return "", fmt.Errorf("unknown knowledge scope %q", s)
	}
}

// Searcher is the similarity-search contract the retriever fans out to.
// Implemented by storage.QdrantStore.
type Searcher interface {
	Search(ctx context.Context, collection, query string, maxResults int, filters map[string]string) ([]storage.RetrievedDocument, error)
}

// Retriever fans a query out to one or both backing collections, labels
// results by origin, merges, sorts by relevance, and truncates.
type Retriever struct {
	searcher          Searcher
	lectureCollection string
	slideCollection   string
	logger            *slog.Logger
}

// NewRetriever creates a retriever over the given collections.
func NewRetriever(searcher Searcher, lectureCollection, slideCollection string, logger *slog.Logger) *Retriever {
	if lectureCollection == "" {
		lectureCollection = storage.DefaultLectureCollection
	}
	if slideCollection == "" {
		slideCollection = storage.DefaultSlideCollection
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		searcher:          searcher,
		lectureCollection: lectureCollection,
		slideCollection:   slideCollection,
		logger:            logger,
	}
}

type scopedCollection struct {
	label      string
	collection string
}

// Retrieve searches the collections selected by scope and returns the
// merged results sorted by score descending, truncated to numDocuments
// when positive. The two scopes live in physically separate indices, so
// a single global top-K cannot come from either alone; top-K per
// collection followed by a global sort is the closest approximation.
//
// The sort is stable on the single score key: equal scores preserve
// fetch order, which for the combined scope means lectures before
// slides. Zero matches yields an empty, non-nil slice.
func (r *Retriever) Retrieve(ctx context.Context, query string, numDocuments int, filters map[string]string, scope Scope) ([]storage.RetrievedDocument, error) {
	combined := []storage.RetrievedDocument{}

	for _, source := range r.sources(scope) {
		docs, err := r.searcher.Search(ctx, source.collection, query, numDocuments, filters)
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", source.label, err)
		}
		r.logger.Info("knowledge retriever fetched documents", "count", len(docs), "source", source.label)

		for _, doc := range docs {
			if doc.Metadata == nil {
				doc.Metadata = map[string]any{}
			}
			// Keep an existing label: a passage that already carries
			// provenance is not re-attributed.
			if _, ok := doc.Metadata["knowledge_source"]; !ok {
				doc.Metadata["knowledge_source"] = source.label
			}
			combined = append(combined, doc)
		}
	}

	// Stable sort on the single score key; a store that returned no
	// score leaves the zero value, which sorts last.
	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].Score > combined[j].Score
	})

	if numDocuments > 0 && len(combined) > numDocuments {
		combined = combined[:numDocuments]
	}
	return combined, nil
}

func (r *Retriever) sources(scope Scope) []scopedCollection {
	switch scope {
	case ScopeLectures:
		return []scopedCollection{{"lectures", r.lectureCollection}}
	case ScopeSlides:
		return []scopedCollection{{"slides", r.slideCollection}}
	default:
		return []scopedCollection{
			{"lectures", r.lectureCollection},
			{"slides", r.slideCollection},
		}
	}
}
