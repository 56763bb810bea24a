package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studybuddy/backend/internal/storage"
)

// fakeSearcher returns canned documents per collection and records the
// queries it received.
type fakeSearcher struct {
	docs    map[string][]storage.RetrievedDocument
	err     error
	queried []string
	filters map[string]string
}

func (f *fakeSearcher) Search(_ context.Context, collection, query string, maxResults int, filters map[string]string) ([]storage.RetrievedDocument, error) {
	f.queried = append(f.queried, collection)
	f.filters = filters
	if f.err != nil {
		return nil, f.err
	}
	docs := f.docs[collection]
	if maxResults > 0 && len(docs) > maxResults {
		docs = docs[:maxResults]
	}
	return docs, nil
}

func doc(id string, score float64, meta map[string]any) storage.RetrievedDocument {
	return storage.RetrievedDocument{ID: id, Content: "passage " + id, Metadata: meta, Score: score}
}

func TestRetrieveCombinedMergesAndSorts(t *testing.T) {
	searcher := &fakeSearcher{docs: map[string][]storage.RetrievedDocument{
		"course_lectures": {doc("l1", 0.9, nil), doc("l2", 0.5, nil)},
		"course_slides":   {doc("s1", 0.7, nil), doc("s2", 0.3, nil)},
	}}
	retriever := NewRetriever(searcher, "", "", nil)

	docs, err := retriever.Retrieve(context.Background(), "what is caching", 0, nil, ScopeCombined)
	require.NoError(t, err)

	require.Len(t, docs, 4)
	assert.Equal(t, []string{"l1", "s1", "l2", "s2"}, ids(docs))
	assert.Equal(t, []string{"course_lectures", "course_slides"}, searcher.queried)

	assert.Equal(t, "lectures", docs[0].Metadata["knowledge_source"])
	assert.Equal(t, "slides", docs[1].Metadata["knowledge_source"])
}

// Equal scores keep fetch order: a lecture hit precedes a slide hit.
func TestRetrieveStableTieBreak(t *testing.T) {
	searcher := &fakeSearcher{docs: map[string][]storage.RetrievedDocument{
		"course_lectures": {doc("l1", 0.8, nil)},
		"course_slides":   {doc("s1", 0.8, nil)},
	}}
	retriever := NewRetriever(searcher, "", "", nil)

	docs, err := retriever.Retrieve(context.Background(), "q", 0, nil, ScopeCombined)
	require.NoError(t, err)

	require.Len(t, docs, 2)
	assert.Equal(t, "l1", docs[0].ID)
	assert.Equal(t, "s1", docs[1].ID)
}

func TestRetrieveTruncates(t *testing.T) {
	searcher := &fakeSearcher{docs: map[string][]storage.RetrievedDocument{
		"course_lectures": {doc("l1", 0.9, nil), doc("l2", 0.6, nil)},
		"course_slides":   {doc("s1", 0.8, nil), doc("s2", 0.7, nil)},
	}}
	retriever := NewRetriever(searcher, "", "", nil)

	docs, err := retriever.Retrieve(context.Background(), "q", 3, nil, ScopeCombined)
	require.NoError(t, err)

	assert.Equal(t, []string{"l1", "s1", "s2"}, ids(docs))
}

func TestRetrieveSingleScope(t *testing.T) {
	searcher := &fakeSearcher{docs: map[string][]storage.RetrievedDocument{
		"course_lectures": {doc("l1", 0.9, nil)},
		"course_slides":   {doc("s1", 0.8, nil)},
	}}
	retriever := NewRetriever(searcher, "", "", nil)

	docs, err := retriever.Retrieve(context.Background(), "q", 0, nil, ScopeSlides)
	require.NoError(t, err)

	assert.Equal(t, []string{"s1"}, ids(docs))
	assert.Equal(t, []string{"course_slides"}, searcher.queried)
}

// An existing knowledge_source label is never overwritten.
func TestRetrieveKeepsExistingLabel(t *testing.T) {
	searcher := &fakeSearcher{docs: map[string][]storage.RetrievedDocument{
		"course_lectures": {doc("l1", 0.9, map[string]any{"knowledge_source": "archive"})},
	}}
	retriever := NewRetriever(searcher, "", "", nil)

	docs, err := retriever.Retrieve(context.Background(), "q", 0, nil, ScopeLectures)
	require.NoError(t, err)

	require.Len(t, docs, 1)
	assert.Equal(t, "archive", docs[0].Metadata["knowledge_source"])
}

func TestRetrieveEmptyResults(t *testing.T) {
	searcher := &fakeSearcher{docs: map[string][]storage.RetrievedDocument{}}
	retriever := NewRetriever(searcher, "", "", nil)

	docs, err := retriever.Retrieve(context.Background(), "q", 5, nil, ScopeCombined)
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)
}

func TestRetrievePassesFilters(t *testing.T) {
	searcher := &fakeSearcher{docs: map[string][]storage.RetrievedDocument{}}
	retriever := NewRetriever(searcher, "", "", nil)

	_, err := retriever.Retrieve(context.Background(), "q", 0, map[string]string{"user_id": "u42"}, ScopeLectures)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"user_id": "u42"}, searcher.filters)
}

func TestRetrievePropagatesSearchError(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("collection missing")}
	retriever := NewRetriever(searcher, "", "", nil)

	_, err := retriever.Retrieve(context.Background(), "q", 0, nil, ScopeCombined)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lectures")
}

func TestParseScope(t *testing.T) {
	for input, want := range map[string]Scope{
		"":         ScopeCombined,
		"lectures": ScopeLectures,
		"slides":   ScopeSlides,
		"combined": ScopeCombined,
	} {
		got, err := ParseScope(input)
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, want, got)
	}

	_, err := ParseScope("textbooks")
	assert.Error(t, err)
}

func ids(docs []storage.RetrievedDocument) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}
