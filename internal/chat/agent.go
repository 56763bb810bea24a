// Package chat answers student questions grounded in retrieved course
// material.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"

	"github.com/studybuddy/backend/internal/retrieval"
	"github.com/studybuddy/backend/internal/storage"
)

// DefaultNumDocuments bounds how many passages back one answer.
const DefaultNumDocuments = 8

const instructions = `You are Study Buddy, an enthusiastic friend who attends every single lecture and takes meticulous notes. You're built to help students succeed by providing answers grounded exclusively in the course material.

Your role:
- You're the friend who never misses class and remembers everything the instructor said
- You provide relevant, accurate answers based solely on the ingested lecture transcripts and slide descriptions
- You keep your answers grounded to what the instructor actually taught - no outside information

When answering:
1. Use the retrieved course material below to address the question
2. Always cite which specific lecture or slide informed your answer (e.g., 'In Lecture 5 on caching...' or 'According to Slide 12...')
3. If the answer isn't covered in the course material, honestly say so - don't make things up or use outside knowledge
4. Be friendly and conversational, like a classmate explaining concepts, but stay factual and grounded in what was taught
5. When multiple lectures cover a topic, reference all relevant sources`

// Reference points at one passage that informed an answer.
type Reference struct {
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Result is one completed answer.
type Result struct {
	Reply      string          `json:"reply"`
	Source     retrieval.Scope `json:"source"`
	References []Reference     `json:"references,omitempty"`
}

// Agent wires the retrieval fanout to a chat model.
type Agent struct {
	client    *openai.Client
	retriever *retrieval.Retriever
	model     openai.ChatModel
	logger    *slog.Logger
}

// NewAgent builds a chat agent. An empty model falls back to the
// CHAT_MODEL_ID environment variable, then to gpt-4o-mini.
func NewAgent(client *openai.Client, retriever *retrieval.Retriever, model openai.ChatModel, logger *slog.Logger) *Agent {
	if model == "" {
		model = openai.ChatModel(os.Getenv("CHAT_MODEL_ID"))
	}
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{client: client, retriever: retriever, model: model, logger: logger}
}

// Respond retrieves course material for the question and generates a
// grounded answer.
func (a *Agent) Respond(ctx context.Context, message string, scope retrieval.Scope, userID string) (Result, error) {
	docs, prompt, err := a.prepare(ctx, message, scope, userID)
	if err != nil {
		return Result{}, err
	}

	resp, err := a.client.Chat.Completions.New(ctx, a.params(prompt))
	if err != nil {
		return Result{}, fmt.Errorf("chat completion failed: %w", err)
	}
	return Result{
		Reply:      resp.Choices[0].Message.Content,
		Source:     scope,
		References: references(docs),
	}, nil
}

// RespondStream is Respond with incremental delivery: onDelta receives
// each content fragment as the model produces it. The full result is
// returned once the stream ends.
func (a *Agent) RespondStream(ctx context.Context, message string, scope retrieval.Scope, userID string, onDelta func(string)) (Result, error) {
	docs, prompt, err := a.prepare(ctx, message, scope, userID)
	if err != nil {
		return Result{}, err
	}

	stream := a.client.Chat.Completions.NewStreaming(ctx, a.params(prompt))
	var reply strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		reply.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
	if err := stream.Err(); err != nil {
		return Result{}, fmt.Errorf("chat stream failed: %w", err)
	}
	return Result{
		Reply:      reply.String(),
		Source:     scope,
		References: references(docs),
	}, nil
}

func (a *Agent) prepare(ctx context.Context, message string, scope retrieval.Scope, userID string) ([]storage.RetrievedDocument, string, error) {
	var filters map[string]string
	if userID != "" {
		filters = map[string]string{"user_id": userID}
	}
	docs, err := a.retriever.Retrieve(ctx, message, DefaultNumDocuments, filters, scope)
	if err != nil {
		return nil, "", fmt.Errorf("retrieve course material: %w", err)
	}
	a.logger.Info("retrieved passages for chat", "count", len(docs), "scope", scope)
	return docs, buildPrompt(message, docs), nil
}

func (a *Agent) params(prompt string) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(instructions),
			openai.UserMessage(prompt),
		},
		Model: a.model,
	}
}

func buildPrompt(message string, docs []storage.RetrievedDocument) string {
	var b strings.Builder
	b.WriteString("Retrieved course material:\n\n")
	if len(docs) == 0 {
		b.WriteString("(no matching course material was found)\n")
	}
	for i, doc := range docs {
		source := "unknown"
		if s, ok := doc.Metadata["knowledge_source"].(string); ok && s != "" {
			source = s
		}
		name := doc.Name
		if name == "" {
			name = doc.ID
		}
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n\n", i+1, name, source, doc.Content)
	}
	b.WriteString("Question: ")
	b.WriteString(message)
	return b.String()
}

func references(docs []storage.RetrievedDocument) []Reference {
	if len(docs) == 0 {
		return nil
	}
	refs := make([]Reference, 0, len(docs))
	for _, doc := range docs {
		source := ""
		if s, ok := doc.Metadata["knowledge_source"].(string); ok {
			source = s
		}
		refs = append(refs, Reference{Source: source, Metadata: doc.Metadata})
	}
	return refs
}
