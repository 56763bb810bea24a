package storage

// Collection names for the two knowledge scopes. Lecture transcript
// chunks and slide description chunks live in physically separate
// collections so each scope can be searched alone.
const (
	DefaultLectureCollection = "course_lectures"
	DefaultSlideCollection   = "course_slides"
)

// VectorDimension is the embedding size for text-embedding-3-small.
const VectorDimension = 1536

// IngestContent is one chunk in the shape the vector store accepts for
// bulk insertion.
type IngestContent struct {
	Name        string
	TextContent string
	Metadata    map[string]any
}

// RetrievedDocument is a chunk as returned by similarity search,
// decorated with a relevance score (higher is more relevant). It lives
// only for the duration of one query.
type RetrievedDocument struct {
	ID       string
	Name     string
	Content  string
	Metadata map[string]any
	Score    float64
}
