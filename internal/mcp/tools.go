package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/AvaPrime/recall-engine/internal/ranker"
	"github.com/AvaPrime/recall-engine/internal/recall"
	"github.com/AvaPrime/recall-engine/internal/storage"
	"github.com/AvaPrime/recall-engine/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams     = -32602 // Invalid method parameters
	ErrorCodeInternalError     = -32603 // Internal JSON-RPC error
	ErrorCodeRecallUnavailable = -32001 // Both recall backends are down
	ErrorCodeEmptyQuery        = -32004 // Query parameter is empty
)

// handleRecallSearch handles the recall_search tool invocation
func (s *Server) handleRecallSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	params := recall.SearchParams{
		Query:  query,
		Kind:   types.RecordKind(getStringDefault(args, "kind", string(types.KindAny))),
		K:      getIntDefault(args, "k", ranker.DefaultK),
		Alpha:  getFloatDefault(args, "alpha", ranker.DefaultAlpha),
		Bypass: getBoolDefault(args, "fresh", false),
	}
	if threadID := getStringDefault(args, "thread_id", ""); threadID != "" {
		params.Filters = &storage.SearchFilters{ThreadID: threadID}
	}

	result, err := s.service.Search(ctx, params)
	if err != nil {
		return nil, toolError(err)
	}

	response := map[string]interface{}{
		"results":  result.Hits,
		"degraded": result.Degraded,
		"cached":   result.Cached,
	}
	if result.DegradedReason != "" {
		response["degraded_reason"] = result.DegradedReason
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleRecallAssemble handles the recall_assemble tool invocation
func (s *Server) handleRecallAssemble(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	assembly, err := s.service.Assemble(ctx, recall.AssembleParams{
		Query:     query,
		K:         getIntDefault(args, "k", ranker.DefaultK),
		Alpha:     getFloatDefault(args, "alpha", ranker.DefaultAlpha),
		MaxTokens: getIntDefault(args, "max_tokens", 0),
	})
	if err != nil {
		return nil, toolError(err)
	}

	response := map[string]interface{}{
		"prompt":    assembly.Prompt,
		"citations": assembly.Citations,
		"truncated": assembly.Truncated,
		"degraded":  assembly.Degraded,
		"cached":    assembly.Cached,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleRecallStatus handles the recall_status tool invocation
func (s *Server) handleRecallStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.service.Stats(ctx)
	if err != nil {
		return nil, toolError(err)
	}

	response := map[string]interface{}{
		"corpus": map[string]interface{}{
			"threads":       stats.Threads,
			"messages":      stats.Messages,
			"artifacts":     stats.Artifacts,
			"summary_cards": stats.SummaryCards,
			"clusters":      stats.Clusters,
		},
		"embeddings": map[string]interface{}{
			"stored":                     stats.Embeddings,
			"vector_extension_available": storage.VectorExtensionAvailable,
			"build_mode":                 storage.BuildMode,
		},
		"consolidation": map[string]interface{}{
			"generation": stats.Generation,
		},
	}

	runs, err := s.storage.ListConsolidationRuns(ctx, 1)
	if err == nil && len(runs) > 0 {
		response["consolidation"].(map[string]interface{})["last_run"] = map[string]interface{}{
			"coverage":    runs[0].Coverage,
			"clusters":    runs[0].ClustersCreated,
			"duplicates":  runs[0].DuplicatesFound,
			"duration_ms": runs[0].Duration.Milliseconds(),
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// toolError maps service errors onto MCP error codes
func toolError(err error) error {
	switch {
	case errors.Is(err, types.ErrInvalidParameter):
		return newMCPError(ErrorCodeInvalidParams, err.Error(), nil)
	case errors.Is(err, types.ErrRecallUnavailable):
		return newMCPError(ErrorCodeRecallUnavailable, err.Error(), nil)
	}
	return newMCPError(ErrorCodeInternalError, err.Error(), nil)
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloatDefault extracts a float parameter with a default value
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	if val, ok := args[key].(float64); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
