package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/studybuddy/backend/internal/media"
	"github.com/studybuddy/backend/internal/retrieval"
)

// Server wraps the MCP server with its dependencies.
type Server struct {
	server    *mcp.Server
	retriever *retrieval.Retriever
	media     *media.Store
}

// Config holds server dependencies.
type Config struct {
	Retriever *retrieval.Retriever
	Media     *media.Store
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	impl := &mcp.Implementation{
		Name:    "course-assistant-server",
		Version: "v0.1.0",
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_course",
		Description: "Search lecture transcripts and slide descriptions semantically. Returns ranked passages with provenance metadata.",
	}, makeSearchHandler(cfg.Retriever))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_lectures",
		Description: "List stored lectures, optionally restricted to one course.",
	}, makeListLecturesHandler(cfg.Media))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_lecture",
		Description: "Retrieve one lecture's metadata and full transcript by id.",
	}, makeGetLectureHandler(cfg.Media))

	return &Server{
		server:    server,
		retriever: cfg.Retriever,
		media:     cfg.Media,
	}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
