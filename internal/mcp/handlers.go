package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/studybuddy/backend/internal/media"
	"github.com/studybuddy/backend/internal/retrieval"
)

// makeSearchHandler creates the search_course tool handler. It runs the
// retrieval fanout so combined-scope queries merge lecture and slide
// hits into one ranked list.
func makeSearchHandler(retriever *retrieval.Retriever) func(
	context.Context, *mcp.CallToolRequest, SearchCourseInput,
) (*mcp.CallToolResult, SearchCourseOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchCourseInput) (
		*mcp.CallToolResult, SearchCourseOutput, error,
	) {
		scope, err := retrieval.ParseScope(input.Scope)
		if err != nil {
			return nil, SearchCourseOutput{}, err
		}
		maxResults := input.MaxResults
		if maxResults <= 0 {
			maxResults = 5
		}
		var filters map[string]string
		if input.UserID != "" {
			filters = map[string]string{"user_id": input.UserID}
		}

		docs, err := retriever.Retrieve(ctx, input.Query, maxResults, filters, scope)
		if err != nil {
			return nil, SearchCourseOutput{}, fmt.Errorf("search failed: %w", err)
		}

		results := make([]SearchResult, 0, len(docs))
		for _, doc := range docs {
			source := ""
			if s, ok := doc.Metadata["knowledge_source"].(string); ok {
				source = s
			}
			results = append(results, SearchResult{
				Name:     doc.Name,
				Content:  doc.Content,
				Score:    doc.Score,
				Source:   source,
				Metadata: doc.Metadata,
			})
		}

		if len(results) == 0 {
			return nil, SearchCourseOutput{
				Results: []SearchResult{},
				Message: "No matching passages found. Try broader search terms.",
			}, nil
		}
		return nil, SearchCourseOutput{Results: results}, nil
	}
}

// makeListLecturesHandler creates the list_lectures tool handler.
func makeListLecturesHandler(store *media.Store) func(
	context.Context, *mcp.CallToolRequest, ListLecturesInput,
) (*mcp.CallToolResult, ListLecturesOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListLecturesInput) (
		*mcp.CallToolResult, ListLecturesOutput, error,
	) {
		videos, err := store.ListVideos()
		if err != nil {
			return nil, ListLecturesOutput{}, fmt.Errorf("failed to list lectures: %w", err)
		}

		lectures := make([]LectureInfo, 0, len(videos))
		for _, video := range videos {
			if input.CourseID != "" && video.CourseID != input.CourseID {
				continue
			}
			info := LectureInfo{
				LectureID: video.VideoID,
				Title:     video.Title,
				CourseID:  video.CourseID,
				Status:    video.Status,
			}
			if video.TranscriptPath != "" {
				info.TranscriptStatus = "completed"
			}
			lectures = append(lectures, info)
		}
		return nil, ListLecturesOutput{Lectures: lectures, Count: len(lectures)}, nil
	}
}

// makeGetLectureHandler creates the get_lecture tool handler. An unknown
// id reports Found=false rather than erroring so clients can probe.
func makeGetLectureHandler(store *media.Store) func(
	context.Context, *mcp.CallToolRequest, GetLectureInput,
) (*mcp.CallToolResult, GetLectureOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input GetLectureInput) (
		*mcp.CallToolResult, GetLectureOutput, error,
	) {
		video, err := store.Video(input.LectureID)
		if errors.Is(err, media.ErrNotFound) {
			return nil, GetLectureOutput{LectureID: input.LectureID, Found: false}, nil
		}
		if err != nil {
			return nil, GetLectureOutput{}, fmt.Errorf("failed to fetch lecture: %w", err)
		}
		return nil, GetLectureOutput{
			LectureID:    video.VideoID,
			Title:        video.Title,
			CourseID:     video.CourseID,
			Transcript:   video.Transcript,
			SegmentCount: len(video.Segments),
			Found:        true,
		}, nil
	}
}
