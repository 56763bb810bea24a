// Package embedding generates text embeddings through the OpenAI API.
// The wrapped client is also shared with the chat and slide-description
// packages so the service holds a single API connection.
package embedding

import (
	"fmt"
	"os"

	"github.com/openai/openai-go"
)

// Client wraps the OpenAI client used for embeddings, chat answers, and
// slide description generation.
type Client struct {
	client *openai.Client
}

// NewClient creates the shared OpenAI client. It requires OPENAI_API_KEY
// in the environment and fails fast when it is missing, since every
// ingestion and retrieval path depends on it.
func NewClient() (*Client, error) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}

	// openai-go reads OPENAI_API_KEY from the environment.
	client := openai.NewClient()
	return &Client{client: &client}, nil
}

// Client returns the underlying OpenAI client for the chat and describe
// packages.
func (c *Client) Client() *openai.Client {
	return c.client
}
