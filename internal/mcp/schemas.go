package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// recallSearchTool returns the tool definition for recall_search
func recallSearchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "recall_search",
		Description: "Search past conversations with fused lexical and semantic ranking",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"kind": map[string]interface{}{
					"type":        "string",
					"description": "Restrict results to one record kind",
					"enum":        []string{"message", "artifact", "summary_card", "any"},
					"default":     "any",
				},
				"k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-500)",
					"default":     10,
					"minimum":     1,
					"maximum":     500,
				},
				"alpha": map[string]interface{}{
					"type":        "number",
					"description": "Blend weight for the semantic score: 0 is pure lexical, 1 is pure semantic",
					"default":     0.6,
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"thread_id": map[string]interface{}{
					"type":        "string",
					"description": "Restrict results to one thread",
				},
				"fresh": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, bypass the result cache",
					"default":     false,
				},
			},
			Required: []string{"query"},
		},
	}
}

// recallAssembleTool returns the tool definition for recall_assemble
func recallAssembleTool() mcp.Tool {
	return mcp.Tool{
		Name:        "recall_assemble",
		Description: "Search past conversations and pack the best matches into a token-budgeted context prompt with citations",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "What context to recall",
				},
				"k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of source records to consider (1-500)",
					"default":     10,
					"minimum":     1,
					"maximum":     500,
				},
				"alpha": map[string]interface{}{
					"type":        "number",
					"description": "Blend weight for the semantic score",
					"default":     0.6,
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"max_tokens": map[string]interface{}{
					"type":        "integer",
					"description": "Token budget for the assembled prompt",
					"default":     2000,
					"minimum":     1,
				},
			},
			Required: []string{"query"},
		},
	}
}

// recallStatusTool returns the tool definition for recall_status
func recallStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "recall_status",
		Description: "Report corpus size, embedding coverage, and consolidation state",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
