package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaPrime/recall-engine/internal/embedder"
	"github.com/AvaPrime/recall-engine/internal/ingest"
	"github.com/AvaPrime/recall-engine/internal/recall"
	"github.com/AvaPrime/recall-engine/internal/storage"
	"github.com/AvaPrime/recall-engine/pkg/types"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb, err := embedder.NewStaticProvider(embedder.NewCache(100))
	require.NoError(t, err)

	ing := ingest.New(store, emb)
	_, err = ing.IngestThread(context.Background(), &ingest.ThreadBatch{
		Thread: types.Thread{ID: "t1", Title: "cache sizing"},
		Messages: []ingest.MessageInput{
			{Ordinal: -1, Role: types.RoleUser, Content: "how big should the result cache be", CreatedAt: time.Now().UTC()},
			{Ordinal: -1, Role: types.RoleAssistant, Content: "size the cache to the working set of queries", CreatedAt: time.Now().UTC()},
		},
	}, &ingest.Config{Embed: true})
	require.NoError(t, err)

	return newServer(store, recall.New(store, emb, recall.Config{}))
}

func callTool(name string, args map[string]interface{}) mcp.CallToolRequest {
	var request mcp.CallToolRequest
	request.Params.Name = name
	request.Params.Arguments = args
	return request
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "tool results are text content")
	return text.Text
}

func TestNewServerCreatesDatabase(t *testing.T) {
	server, err := NewServer(t.TempDir())
	require.NoError(t, err)
	defer server.storage.Close()

	assert.NotNil(t, server.mcp)
	assert.NotNil(t, server.service)
}

func TestRecallSearchTool(t *testing.T) {
	server := setupTestServer(t)
	ctx := context.Background()

	result, err := server.handleRecallSearch(ctx, callTool("recall_search", map[string]interface{}{
		"query": "result cache",
		"k":     float64(5),
		"alpha": 0.5,
	}))
	require.NoError(t, err)

	var response struct {
		Results  []types.FusionHit `json:"results"`
		Degraded bool              `json:"degraded"`
		Cached   bool              `json:"cached"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &response))
	assert.NotEmpty(t, response.Results)
	assert.False(t, response.Cached)
}

func TestRecallSearchToolRejectsEmptyQuery(t *testing.T) {
	server := setupTestServer(t)

	_, err := server.handleRecallSearch(context.Background(), callTool("recall_search", map[string]interface{}{}))
	require.Error(t, err)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeEmptyQuery, mcpErr.Code)
}

func TestRecallSearchToolRejectsBadAlpha(t *testing.T) {
	server := setupTestServer(t)

	_, err := server.handleRecallSearch(context.Background(), callTool("recall_search", map[string]interface{}{
		"query": "cache",
		"alpha": 1.5,
	}))
	require.Error(t, err)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeInvalidParams, mcpErr.Code)
}

func TestRecallAssembleTool(t *testing.T) {
	server := setupTestServer(t)

	result, err := server.handleRecallAssemble(context.Background(), callTool("recall_assemble", map[string]interface{}{
		"query":      "result cache",
		"max_tokens": float64(500),
	}))
	require.NoError(t, err)

	var response struct {
		Prompt    string            `json:"prompt"`
		Citations []types.Citation  `json:"citations"`
		Truncated bool              `json:"truncated"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &response))
	assert.NotEmpty(t, response.Prompt)
	assert.NotEmpty(t, response.Citations)
}

func TestRecallStatusTool(t *testing.T) {
	server := setupTestServer(t)

	result, err := server.handleRecallStatus(context.Background(), callTool("recall_status", map[string]interface{}{}))
	require.NoError(t, err)

	var response struct {
		Corpus struct {
			Threads  int64 `json:"threads"`
			Messages int64 `json:"messages"`
		} `json:"corpus"`
		Embeddings struct {
			Stored int64 `json:"stored"`
		} `json:"embeddings"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &response))
	assert.Equal(t, int64(1), response.Corpus.Threads)
	assert.Equal(t, int64(2), response.Corpus.Messages)
	assert.Equal(t, int64(2), response.Embeddings.Stored)
}

func TestToolSchemas(t *testing.T) {
	for _, tool := range []mcp.Tool{recallSearchTool(), recallAssembleTool(), recallStatusTool()} {
		assert.NotEmpty(t, tool.Name)
		assert.NotEmpty(t, tool.Description)
		assert.Equal(t, "object", tool.InputSchema.Type)
	}
	assert.Contains(t, recallSearchTool().InputSchema.Required, "query")
	assert.Contains(t, recallAssembleTool().InputSchema.Required, "query")
}
