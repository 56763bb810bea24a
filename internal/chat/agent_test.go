package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/studybuddy/backend/internal/storage"
)

func TestBuildPromptIncludesSourcesAndQuestion(t *testing.T) {
	docs := []storage.RetrievedDocument{
		{ID: "c1", Name: "Lecture 3", Content: "caches exploit locality", Metadata: map[string]any{"knowledge_source": "lectures"}},
		{ID: "c2", Content: "slide on cache lines", Metadata: map[string]any{"knowledge_source": "slides"}},
	}

	prompt := buildPrompt("what is a cache?", docs)

	assert.Contains(t, prompt, "[1] Lecture 3 (lectures)")
	assert.Contains(t, prompt, "caches exploit locality")
	assert.Contains(t, prompt, "[2] c2 (slides)")
	assert.True(t, strings.HasSuffix(prompt, "Question: what is a cache?"))
}

func TestBuildPromptNoMaterial(t *testing.T) {
	prompt := buildPrompt("anything?", nil)
	assert.Contains(t, prompt, "no matching course material was found")
}

func TestReferences(t *testing.T) {
	docs := []storage.RetrievedDocument{
		{ID: "c1", Metadata: map[string]any{"knowledge_source": "lectures", "lecture_id": "lec-1"}},
	}

	refs := references(docs)
	assert.Len(t, refs, 1)
	assert.Equal(t, "lectures", refs[0].Source)
	assert.Equal(t, "lec-1", refs[0].Metadata["lecture_id"])

	assert.Nil(t, references(nil))
}
