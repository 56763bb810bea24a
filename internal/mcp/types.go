// Package mcp exposes the course knowledge base to MCP clients.
package mcp

// SearchCourseInput defines the input parameters for the search_course tool.
type SearchCourseInput struct {
	// Query is the semantic search query.
	Query string `json:"query" jsonschema:"required,description=The semantic search query for finding relevant course material"`
	// Scope selects which knowledge to search: lectures, slides, or combined.
	Scope string `json:"scope,omitempty" jsonschema:"enum=lectures,enum=slides,enum=combined,default=combined,description=Which knowledge to search"`
	// MaxResults is the maximum number of passages to return.
	MaxResults int `json:"max_results,omitempty" jsonschema:"minimum=1,maximum=20,default=5,description=Maximum number of passages to return"`
	// UserID restricts results to material ingested for one user.
	UserID string `json:"user_id,omitempty" jsonschema:"description=Restrict results to material ingested for this user"`
}

// SearchCourseOutput contains the search results.
type SearchCourseOutput struct {
	// Results is the list of matching passages ranked by relevance.
	Results []SearchResult `json:"results"`
	// Message provides informational context (e.g., "No matching passages found").
	Message string `json:"message,omitempty"`
}

// SearchResult is a single passage match.
type SearchResult struct {
	// Name is the passage's display label (lecture title or slide name).
	Name string `json:"name"`
	// Content is the passage text.
	Content string `json:"content"`
	// Score is the relevance score, higher is more relevant.
	Score float64 `json:"score"`
	// Source is where the passage came from: lectures or slides.
	Source string `json:"source"`
	// Metadata carries provenance (lecture_id, page_number, timings).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ListLecturesInput defines the input parameters for the list_lectures tool.
type ListLecturesInput struct {
	// CourseID optionally restricts the listing to one course.
	CourseID string `json:"course_id,omitempty" jsonschema:"description=Restrict the listing to one course"`
}

// LectureInfo summarizes one stored lecture.
type LectureInfo struct {
	LectureID        string `json:"lecture_id"`
	Title            string `json:"title,omitempty"`
	CourseID         string `json:"course_id,omitempty"`
	Status           string `json:"status,omitempty"`
	TranscriptStatus string `json:"transcript_status,omitempty"`
}

// ListLecturesOutput contains the lecture listing.
type ListLecturesOutput struct {
	Lectures []LectureInfo `json:"lectures"`
	Count    int           `json:"count"`
}

// GetLectureInput defines the input parameters for the get_lecture tool.
type GetLectureInput struct {
	// LectureID is the lecture to retrieve.
	LectureID string `json:"lecture_id" jsonschema:"required,description=The lecture id to retrieve"`
}

// GetLectureOutput contains one lecture's metadata and transcript.
type GetLectureOutput struct {
	LectureID  string `json:"lecture_id"`
	Title      string `json:"title,omitempty"`
	CourseID   string `json:"course_id,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	// SegmentCount is how many timed segments back the transcript.
	SegmentCount int `json:"segment_count"`
	// Found indicates whether the lecture exists.
	Found bool `json:"found"`
}
