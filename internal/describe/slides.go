// Package describe turns slide pages into structured descriptions using
// an OpenAI chat model. One call per page keeps the model focused and
// the failure blast radius small.
package describe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"

	"github.com/studybuddy/backend/internal/chunking"
)

// DefaultModel is the vision-capable model used for slide analysis.
const DefaultModel = openai.ChatModelGPT4o

const instructions = `You are an expert at analyzing presentation slides. Provide a detailed, structured description of the slide:
- All text content (headings, bullet points, body text)
- Any images, photos, or illustrations
- Any diagrams, charts, graphs, or flowcharts
- Any figures, tables, or structured data
- A concise summary of the slide's main topic
- The type of slide (title, content, diagram, comparison, summary, etc.)

If a category does not apply, say so clearly. Respond in JSON format:
{"slide_type": "...", "overall_summary": "...", "text_content": "...", "images_description": "...", "diagrams_description": "...", "figures_description": "..."}`

// Describer generates per-page slide descriptions.
type Describer struct {
	client *openai.Client
	model  openai.ChatModel
	logger *slog.Logger
}

// NewDescriber creates a describer with the given OpenAI client. An
// empty model falls back to DefaultModel.
func NewDescriber(client *openai.Client, model openai.ChatModel, logger *slog.Logger) *Describer {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Describer{client: client, model: model, logger: logger}
}

// DescribePage analyzes one page's extracted content and returns its
// structured description with the page number filled in.
func (d *Describer) DescribePage(ctx context.Context, pageNumber int, pageContent string) (chunking.PageDescription, error) {
	prompt := fmt.Sprintf("Analyze page %d of this presentation.\n\nPage content:\n%s\n\nFocus only on this page.", pageNumber, pageContent)

	resp, err := d.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(instructions),
			openai.UserMessage(prompt),
		},
		Model: d.model,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		},
	})
	if err != nil {
		return chunking.PageDescription{}, fmt.Errorf("describe page %d: %w", pageNumber, err)
	}

	var description chunking.PageDescription
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &description); err != nil {
		// A malformed response still carries usable prose; keep it
		// rather than dropping the page.
		description = chunking.PageDescription{
			TextContent:         resp.Choices[0].Message.Content,
			ImagesDescription:   "Unable to extract",
			DiagramsDescription: "Unable to extract",
			FiguresDescription:  "Unable to extract",
			OverallSummary:      "Unable to extract",
			SlideType:           "unknown",
		}
	}
	description.PageNumber = pageNumber
	return description, nil
}

// DescribeDocument runs DescribePage over every page in order. Pages
// are 1-indexed in the result.
func (d *Describer) DescribeDocument(ctx context.Context, pages []string) ([]chunking.PageDescription, error) {
	descriptions := make([]chunking.PageDescription, 0, len(pages))
	for i, content := range pages {
		pageNumber := i + 1
		d.logger.Info("describing slide page", "page", pageNumber, "total", len(pages))
		description, err := d.DescribePage(ctx, pageNumber, content)
		if err != nil {
			return nil, err
		}
		descriptions = append(descriptions, description)
	}
	return descriptions, nil
}
