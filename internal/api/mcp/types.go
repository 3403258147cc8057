// Package mcp implements the Model Context Protocol (MCP) surface for the
// memory service: JSON-RPC 2.0 over line-delimited stdio exposing five tools
// (store, search, pin, unpin, forget) and the inject_context prompt.
package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mementolabs/memento/pkg/types"
)

// StoreMemoryArgs contains arguments for the store_memory tool.
type StoreMemoryArgs struct {
	Content      string   `json:"content"`                 // Memory content (required)
	Type         string   `json:"type,omitempty"`          // working, episodic, semantic, procedural (default semantic)
	Tags         []string `json:"tags,omitempty"`          // User-defined tags
	Importance   float64  `json:"importance,omitempty"`    // 0..1 (default 0.5)
	Source       string   `json:"source,omitempty"`        // Where this memory came from
	PrivacyScope string   `json:"privacy_scope,omitempty"` // private, team, public (default private)
	DerivedFrom  string   `json:"derived_from,omitempty"`  // Link the new memory to its origin
	Agent        string   `json:"agent,omitempty"`         // Agent or developer storing this; auto-detected if empty
}

// UnmarshalJSON handles the case where some MCP clients send array fields
// like "tags" as a JSON-encoded string ("[\"a\",\"b\"]") or a comma list
// rather than a proper JSON array. Both forms are accepted.
func (a *StoreMemoryArgs) UnmarshalJSON(data []byte) error {
	type Alias StoreMemoryArgs
	aux := &struct {
		Tags json.RawMessage `json:"tags,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	a.Tags = flexibleStringList(aux.Tags)
	return nil
}

// flexibleStringList decodes a JSON array of strings, a JSON-encoded string
// containing such an array, or a comma-separated string. Unrecognised
// payloads yield nil rather than an error.
func flexibleStringList(raw json.RawMessage) []string {
	if raw == nil {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		_ = json.Unmarshal([]byte(s), &list)
		return list
	}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			list = append(list, part)
		}
	}
	return list
}

// StoreMemoryResult acknowledges a committed memory. The embedding lands
// asynchronously; the memory is lexically searchable immediately.
type StoreMemoryResult struct {
	MemoryID        string `json:"memory_id"`
	EmbeddingQueued bool   `json:"embedding_queued"`
}

// FilterArgs is the shared filter shape accepted by search_memory and
// inject_context. Every field is optional.
type FilterArgs struct {
	Types         []string `json:"type,omitempty"`           // subset of working, episodic, semantic, procedural
	Tags          []string `json:"tags,omitempty"`           // every listed tag must be present
	PrivacyScopes []string `json:"privacy_scope,omitempty"`  // subset of private, team, public
	TimeFrom      string   `json:"time_from,omitempty"`      // ISO-8601 lower bound for created_at
	TimeTo        string   `json:"time_to,omitempty"`        // ISO-8601 upper bound for created_at
	Pinned        *bool    `json:"pinned,omitempty"`         // restrict by the pinned flag
	IDs           []string `json:"id,omitempty"`             // restrict to these memory ids
	ImportanceMin float64  `json:"importance_min,omitempty"` // 0..1
}

// ToFilter converts the wire shape into the internal filter, parsing
// timestamps and validating enumerated fields.
func (f *FilterArgs) ToFilter() (types.Filter, error) {
	var out types.Filter
	if f == nil {
		return out, nil
	}
	for _, t := range f.Types {
		out.Types = append(out.Types, types.MemoryType(t))
	}
	for _, s := range f.PrivacyScopes {
		out.Scopes = append(out.Scopes, types.PrivacyScope(s))
	}
	out.Tags = f.Tags
	out.Pinned = f.Pinned
	out.IDs = f.IDs
	out.ImportanceMin = f.ImportanceMin

	if f.TimeFrom != "" {
		ts, err := time.Parse(time.RFC3339, f.TimeFrom)
		if err != nil {
			return out, fmt.Errorf("time_from: %w", err)
		}
		out.TimeFrom = ts
	}
	if f.TimeTo != "" {
		ts, err := time.Parse(time.RFC3339, f.TimeTo)
		if err != nil {
			return out, fmt.Errorf("time_to: %w", err)
		}
		out.TimeTo = ts
	}
	if err := out.Validate(); err != nil {
		return out, err
	}
	return out, nil
}

// SearchMemoryArgs contains arguments for the search_memory tool.
type SearchMemoryArgs struct {
	Query   string      `json:"query"`             // Natural-language query; empty runs filter-only
	Filters *FilterArgs `json:"filters,omitempty"` // Optional candidate filter
	Limit   int         `json:"limit,omitempty"`   // Max results (default 10)
}

// SearchResultItem is one ranked memory in a search_memory response.
type SearchResultItem struct {
	ID           string   `json:"id"`
	Content      string   `json:"content"`
	Type         string   `json:"type"`
	Importance   float64  `json:"importance"`
	CreatedAt    string   `json:"created_at"`
	LastAccessed string   `json:"last_accessed,omitempty"`
	Pinned       bool     `json:"pinned"`
	Tags         []string `json:"tags,omitempty"`
	Score        float64  `json:"score"`
	RecallReason string   `json:"recall_reason"`
}

// SearchMemoryResult contains the result of searching memories. Fingerprint
// identifies the (query, filter, limit) triple so degraded responses can be
// retried deterministically.
type SearchMemoryResult struct {
	Items       []SearchResultItem `json:"items"`
	TotalCount  int                `json:"total_count"`
	QueryTimeMS int64              `json:"query_time_ms"`
	Degraded    bool               `json:"degraded,omitempty"`
	Fingerprint string             `json:"fingerprint"`
}

// PinMemoryArgs contains arguments for the pin_memory and unpin_memory tools.
type PinMemoryArgs struct {
	ID string `json:"id"` // Memory ID (required)
}

// PinMemoryResult reports the pinned state after the call.
type PinMemoryResult struct {
	ID            string `json:"id"`
	Pinned        bool   `json:"pinned"`
	AlreadyPinned bool   `json:"already_pinned,omitempty"`
}

// ForgetMemoryArgs contains arguments for the forget_memory tool.
type ForgetMemoryArgs struct {
	ID   string `json:"id"`             // Memory ID to delete (required)
	Hard bool   `json:"hard,omitempty"` // Purge the row with its embedding, links, and feedback
}

// ForgetMemoryResult contains the result of forgetting a memory.
type ForgetMemoryResult struct {
	ID   string `json:"id"`
	Mode string `json:"mode"` // "soft" or "hard"
}

// InjectContextArgs contains arguments for the inject_context prompt.
type InjectContextArgs struct {
	Query       string      `json:"query"`                  // Retrieval query (required)
	TokenBudget int         `json:"token_budget,omitempty"` // Cap on the estimated block size (default 1000)
	MaxMemories int         `json:"max_memories,omitempty"` // Cap on packed memories (default 5)
	Filters     *FilterArgs `json:"filters,omitempty"`
}

// InjectContextResult contains the formatted context block and its stats.
type InjectContextResult struct {
	Context       string `json:"context"`
	MemoriesUsed  int    `json:"memories_used"`
	TokenEstimate int    `json:"token_estimate"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	Method  string      `json:"method"`  // Method name
	Params  interface{} `json:"params"`  // Method parameters
	ID      interface{} `json:"id"`      // Request ID (string, number, or null)
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`          // Must be "2.0"
	Result  interface{}   `json:"result,omitempty"` // Result (if successful)
	Error   *JSONRPCError `json:"error,omitempty"`  // Error (if failed)
	ID      interface{}   `json:"id"`               // Request ID
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int         `json:"code"`           // Error code
	Message string      `json:"message"`        // Error message
	Data    interface{} `json:"data,omitempty"` // Additional error data
}

// JSON-RPC error codes. The negative-32xxx block is reserved by the JSON-RPC
// spec; the -3200x block carries the service's machine codes.
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error

	ErrCodeNotFound   = -32001 // Memory id not present
	ErrCodeContention = -32002 // Store busy after bounded retry
	ErrCodeTimeout    = -32003 // Deadline exceeded
)

// ---------------------------------------------------------------------------
// Standard MCP protocol types (initialize / tools / prompts)
// ---------------------------------------------------------------------------

// MCPInitializeParams holds the parameters sent by an MCP client in the
// initialize request.
type MCPInitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
	ClientInfo      MCPClientInfo          `json:"clientInfo"`
}

// MCPClientInfo identifies the connecting MCP client.
type MCPClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools   *MCPToolsCapability   `json:"tools,omitempty"`
	Prompts *MCPPromptsCapability `json:"prompts,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPPromptsCapability signals that the server exposes prompts.
type MCPPromptsCapability struct{}

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPTool describes a single tool exposed via tools/list.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text" for now
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}

// MCPPromptArgument describes one argument of a prompt.
type MCPPromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// MCPPrompt describes a single prompt exposed via prompts/list.
type MCPPrompt struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Arguments   []MCPPromptArgument `json:"arguments,omitempty"`
}

// MCPPromptsListResult is the response to the prompts/list request.
type MCPPromptsListResult struct {
	Prompts []MCPPrompt `json:"prompts"`
}

// MCPPromptGetParams holds the parameters sent in a prompts/get request.
// Prompt arguments arrive as strings per the MCP spec; numeric arguments
// are parsed by the handler.
type MCPPromptGetParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// MCPPromptMessage is one message in a prompts/get response.
type MCPPromptMessage struct {
	Role    string             `json:"role"`
	Content MCPToolCallContent `json:"content"`
}

// MCPPromptGetResult is the response to a prompts/get request.
type MCPPromptGetResult struct {
	Description string             `json:"description,omitempty"`
	Messages    []MCPPromptMessage `json:"messages"`
}
