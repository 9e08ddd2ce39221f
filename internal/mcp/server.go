package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/server"

	"github.com/AvaPrime/recall-engine/internal/embedder"
	"github.com/AvaPrime/recall-engine/internal/recall"
	"github.com/AvaPrime/recall-engine/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "recall-engine"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
	// DefaultDBPath is the default location for the database
	DefaultDBPath = "~/.recall-engine"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp     *server.MCPServer
	storage storage.Storage
	service *recall.Service
}

// NewServer creates a new MCP server instance backed by the database at
// dbPath, with the embedding provider resolved from the environment
func NewServer(dbPath string) (*Server, error) {
	if dbPath == "" || dbPath == DefaultDBPath {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(home, ".recall-engine")
	}

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	store, err := storage.NewSQLiteStorage(filepath.Join(dbPath, "recall.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	emb, err := embedder.NewFromEnv()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return newServer(store, recall.New(store, emb, recall.Config{})), nil
}

// newServer wires a Server from already-constructed dependencies
func newServer(store storage.Storage, service *recall.Service) *Server {
	s := &Server{
		mcp:     server.NewMCPServer(ServerName, ServerVersion),
		storage: store,
		service: service,
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.storage.Close() }()
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(recallSearchTool(), s.handleRecallSearch)
	s.mcp.AddTool(recallAssembleTool(), s.handleRecallAssemble)
	s.mcp.AddTool(recallStatusTool(), s.handleRecallStatus)
}
