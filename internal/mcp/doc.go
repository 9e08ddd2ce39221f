// Package mcp implements the Model Context Protocol (MCP) server for
// the recall engine.
//
// The MCP server exposes three tools to AI assistants:
//   - recall_search: fused lexical + semantic search over stored
//     conversations, artifacts, and summary cards
//   - recall_assemble: search plus context stitching and token-budgeted
//     prompt packing with citations
//   - recall_status: corpus size, embedding coverage, and consolidation
//     state
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server communicates with MCP clients via standard input/output,
// making it simple to integrate with any MCP-compatible client.
//
// # Basic Usage
//
// The MCP server is typically started via the serve command:
//
//	recalld serve --mcp
//
// It then listens on stdin for MCP protocol messages and writes
// responses to stdout. Logs go to stderr only; stdout belongs to the
// protocol.
//
// # Tool: recall_search
//
//	Request:
//	{
//	  "name": "recall_search",
//	  "arguments": {
//	    "query": "python debugging",
//	    "kind": "any",
//	    "k": 10,
//	    "alpha": 0.65
//	  }
//	}
//
//	Response:
//	{
//	  "results": [
//	    {"id": "...", "kind": "message", "score": 0.91,
//	     "lexical_score": 0.88, "vector_score": 0.93}
//	  ],
//	  "degraded": false,
//	  "cached": false
//	}
//
// # Tool: recall_assemble
//
//	Request:
//	{
//	  "name": "recall_assemble",
//	  "arguments": {
//	    "query": "what did we decide about retries",
//	    "max_tokens": 2000
//	  }
//	}
//
//	Response:
//	{
//	  "prompt": "[thread ...]\n[context] user: ...\n[match] assistant: ...",
//	  "citations": [{"kind": "message", "id": "...", "score": 0.87}],
//	  "truncated": false
//	}
//
// # Error Handling
//
// Parameter problems map to JSON-RPC code -32602 (or -32004 for an
// empty query); both recall backends being down maps to -32001. Every
// degraded path is flagged in the payload instead of failing, so a
// vector outage still returns lexical results with degraded=true.
package mcp
