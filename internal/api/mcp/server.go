package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mementolabs/memento/internal/attribution"
	"github.com/mementolabs/memento/internal/engine"
	"github.com/mementolabs/memento/internal/inject"
	"github.com/mementolabs/memento/internal/retrieval"
	"github.com/mementolabs/memento/internal/storage"
	"github.com/mementolabs/memento/pkg/types"
)

const (
	protocolVersion = "2024-11-05"
	serverName      = "memento"
	serverVersion   = "1.0.0"
)

// memoryEngine is the subset of the engine surface the MCP server binds.
// Using an interface keeps the package loosely coupled and testable.
type memoryEngine interface {
	Store(ctx context.Context, req engine.StoreRequest) (*engine.StoreResult, error)
	Search(ctx context.Context, query string, filter types.Filter, limit int) (*retrieval.Result, error)
	Pin(ctx context.Context, id string) (*engine.PinResult, error)
	Unpin(ctx context.Context, id string) (*engine.PinResult, error)
	Forget(ctx context.Context, id string, hard bool) (*engine.ForgetResult, error)
	Inject(ctx context.Context, query string, opts inject.Options) (string, inject.Stats, error)
}

// Server translates JSON-RPC 2.0 requests into engine operations.
type Server struct {
	engine    memoryEngine
	logger    *log.Logger
	sessionID string
}

// NewServer creates an MCP server bound to a memory engine. logger may be
// nil; diagnostics then go to stderr, never stdout.
func NewServer(eng memoryEngine, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(os.Stderr, "memento-mcp: ", log.LstdFlags)
	}
	s := &Server{
		engine:    eng,
		logger:    logger,
		sessionID: uuid.NewString(),
	}
	s.logger.Printf("session %s", s.sessionID)
	return s
}

// HandleRequest processes one JSON-RPC 2.0 request and returns the response
// bytes. This is the single entry point used by the stdio transport.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, &JSONRPCError{Code: ErrCodeParseError, Message: "parse error"})
	}
	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, &JSONRPCError{Code: ErrCodeInvalidRequest, Message: "invalid JSON-RPC version"})
	}

	var result interface{}
	var err error

	switch req.Method {
	// Standard MCP protocol methods.
	case "initialize":
		result = s.initializeResult()
	case "initialized", "notifications/initialized":
		// Notification; reply with an empty object to keep framing simple.
		result = map[string]interface{}{}
	case "tools/list":
		result = MCPToolsListResult{Tools: toolDefinitions()}
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)
	case "prompts/list":
		result = MCPPromptsListResult{Prompts: promptDefinitions()}
	case "prompts/get":
		result, err = s.handlePromptsGet(ctx, req.Params)

	// Native methods, kept for direct JSON-RPC callers.
	case "store_memory":
		result, err = s.handleStoreMemory(ctx, req.Params)
	case "search_memory":
		result, err = s.handleSearchMemory(ctx, req.Params)
	case "pin_memory":
		result, err = s.handlePinMemory(ctx, req.Params)
	case "unpin_memory":
		result, err = s.handleUnpinMemory(ctx, req.Params)
	case "forget_memory":
		result, err = s.handleForgetMemory(ctx, req.Params)
	case "inject_context":
		result, err = s.handleInjectContext(ctx, req.Params)
	default:
		return s.errorResponse(req.ID, &JSONRPCError{
			Code:    ErrCodeMethodNotFound,
			Message: fmt.Sprintf("method not found: %s", req.Method),
		})
	}

	if err != nil {
		return s.errorResponse(req.ID, s.mapError(err))
	}
	return s.successResponse(req.ID, result)
}

func (s *Server) initializeResult() MCPInitializeResult {
	return MCPInitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: MCPServerCapabilities{
			Tools:   &MCPToolsCapability{},
			Prompts: &MCPPromptsCapability{},
		},
		ServerInfo: MCPServerInfo{Name: serverName, Version: serverVersion},
	}
}

// handleToolsCall dispatches a tools/call request and wraps the result in
// the MCP content envelope. Handler errors become isError payloads rather
// than protocol errors, per the MCP tool convention.
func (s *Server) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolCallParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	var rawArgs interface{} = p.Arguments
	var result interface{}
	var handlerErr error

	switch p.Name {
	case "store_memory":
		result, handlerErr = s.handleStoreMemory(ctx, rawArgs)
	case "search_memory":
		result, handlerErr = s.handleSearchMemory(ctx, rawArgs)
	case "pin_memory":
		result, handlerErr = s.handlePinMemory(ctx, rawArgs)
	case "unpin_memory":
		result, handlerErr = s.handleUnpinMemory(ctx, rawArgs)
	case "forget_memory":
		result, handlerErr = s.handleForgetMemory(ctx, rawArgs)
	default:
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: fmt.Sprintf("unknown tool: %s", p.Name)}},
			IsError: true,
		}, nil
	}

	if handlerErr != nil {
		rpcErr := s.mapError(handlerErr)
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: fmt.Sprintf("%s (code %d)", rpcErr.Message, rpcErr.Code)}},
			IsError: true,
		}, nil
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: string(text)}},
	}, nil
}

// handlePromptsGet serves the inject_context prompt. Prompt arguments arrive
// as strings per the MCP spec.
func (s *Server) handlePromptsGet(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPPromptGetParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if p.Name != "inject_context" {
		return nil, fmt.Errorf("%w: unknown prompt %q", storage.ErrInvalidInput, p.Name)
	}

	args := InjectContextArgs{Query: p.Arguments["query"]}
	if v := p.Arguments["token_budget"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: token_budget: %v", storage.ErrInvalidInput, err)
		}
		args.TokenBudget = n
	}
	if v := p.Arguments["max_memories"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: max_memories: %v", storage.ErrInvalidInput, err)
		}
		args.MaxMemories = n
	}

	res, err := s.injectContext(ctx, args)
	if err != nil {
		return nil, err
	}
	return &MCPPromptGetResult{
		Description: fmt.Sprintf("memory context (%d memories, ~%d tokens)", res.MemoriesUsed, res.TokenEstimate),
		Messages: []MCPPromptMessage{{
			Role:    "user",
			Content: MCPToolCallContent{Type: "text", Text: res.Context},
		}},
	}, nil
}

// ---------------------------------------------------------------------------
// Tool handlers
// ---------------------------------------------------------------------------

func (s *Server) handleStoreMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args StoreMemoryArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}
	if args.Agent == "" {
		args.Agent = attribution.DetectAgent()
	}

	res, err := s.engine.Store(ctx, engine.StoreRequest{
		Content:      args.Content,
		Type:         types.MemoryType(args.Type),
		Tags:         args.Tags,
		Importance:   args.Importance,
		Source:       args.Source,
		PrivacyScope: types.PrivacyScope(args.PrivacyScope),
		DerivedFrom:  args.DerivedFrom,
		Agent:        args.Agent,
	})
	if err != nil {
		return nil, err
	}
	return &StoreMemoryResult{MemoryID: res.MemoryID, EmbeddingQueued: res.EmbeddingQueued}, nil
}

func (s *Server) handleSearchMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args SearchMemoryArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	filter, err := args.Filters.ToFilter()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	res, err := s.engine.Search(ctx, args.Query, filter, args.Limit)
	if err != nil {
		return nil, err
	}

	out := &SearchMemoryResult{
		Items:       make([]SearchResultItem, 0, len(res.Items)),
		TotalCount:  res.TotalCandidates,
		QueryTimeMS: res.Elapsed.Milliseconds(),
		Degraded:    res.Degraded,
		Fingerprint: res.Fingerprint,
	}
	for _, item := range res.Items {
		m := item.Memory
		row := SearchResultItem{
			ID:           m.ID,
			Content:      m.Content,
			Type:         string(m.Type),
			Importance:   m.Importance,
			CreatedAt:    m.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			Pinned:       m.Pinned,
			Tags:         m.Tags,
			Score:        item.Score,
			RecallReason: item.RecallReason,
		}
		if m.LastAccessed != nil {
			row.LastAccessed = m.LastAccessed.UTC().Format("2006-01-02T15:04:05Z07:00")
		}
		out.Items = append(out.Items, row)
	}
	return out, nil
}

func (s *Server) handlePinMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args PinMemoryArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if args.ID == "" {
		return nil, fmt.Errorf("%w: id is required", storage.ErrInvalidInput)
	}
	res, err := s.engine.Pin(ctx, args.ID)
	if err != nil {
		return nil, err
	}
	return &PinMemoryResult{ID: res.ID, Pinned: res.Pinned, AlreadyPinned: res.AlreadyPinned}, nil
}

func (s *Server) handleUnpinMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args PinMemoryArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if args.ID == "" {
		return nil, fmt.Errorf("%w: id is required", storage.ErrInvalidInput)
	}
	res, err := s.engine.Unpin(ctx, args.ID)
	if err != nil {
		return nil, err
	}
	return &PinMemoryResult{ID: res.ID, Pinned: res.Pinned}, nil
}

func (s *Server) handleForgetMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args ForgetMemoryArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if args.ID == "" {
		return nil, fmt.Errorf("%w: id is required", storage.ErrInvalidInput)
	}
	res, err := s.engine.Forget(ctx, args.ID, args.Hard)
	if err != nil {
		return nil, err
	}
	return &ForgetMemoryResult{ID: res.ID, Mode: res.Mode}, nil
}

func (s *Server) handleInjectContext(ctx context.Context, params interface{}) (interface{}, error) {
	var args InjectContextArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.injectContext(ctx, args)
}

func (s *Server) injectContext(ctx context.Context, args InjectContextArgs) (*InjectContextResult, error) {
	filter, err := args.Filters.ToFilter()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	block, stats, err := s.engine.Inject(ctx, args.Query, inject.Options{
		TokenBudget: args.TokenBudget,
		MaxMemories: args.MaxMemories,
		Filter:      filter,
	})
	if err != nil {
		return nil, err
	}
	return &InjectContextResult{
		Context:       block,
		MemoriesUsed:  stats.MemoriesUsed,
		TokenEstimate: stats.TokenEstimate,
	}, nil
}

// ---------------------------------------------------------------------------
// Tool and prompt definitions
// ---------------------------------------------------------------------------

func toolDefinitions() []MCPTool {
	filterSchema := map[string]interface{}{
		"type":        "object",
		"description": "Optional candidate filter",
		"properties": map[string]interface{}{
			"type":           map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Subset of working, episodic, semantic, procedural"},
			"tags":           map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Every listed tag must be present"},
			"privacy_scope":  map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Subset of private, team, public"},
			"time_from":      map[string]interface{}{"type": "string", "description": "ISO-8601 lower bound for created_at"},
			"time_to":        map[string]interface{}{"type": "string", "description": "ISO-8601 upper bound for created_at"},
			"pinned":         map[string]interface{}{"type": "boolean", "description": "Restrict by the pinned flag"},
			"id":             map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Restrict to these memory ids"},
			"importance_min": map[string]interface{}{"type": "number", "description": "Exclude memories below this importance (0..1)"},
		},
	}

	return []MCPTool{
		{
			Name:        "store_memory",
			Description: "Store a new memory. Returns immediately; the embedding is computed asynchronously, so the memory is lexically searchable at once and semantically once the vector lands.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"content"},
				"properties": map[string]interface{}{
					"content":       map[string]interface{}{"type": "string", "description": "The memory content to store (required)"},
					"type":          map[string]interface{}{"type": "string", "description": "Memory type: working, episodic, semantic, procedural (default semantic)"},
					"tags":          map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Optional tags for categorization"},
					"importance":    map[string]interface{}{"type": "number", "description": "Importance in 0..1 (default 0.5)"},
					"source":        map[string]interface{}{"type": "string", "description": "Where this memory came from"},
					"privacy_scope": map[string]interface{}{"type": "string", "description": "private, team, or public (default private)"},
					"derived_from":  map[string]interface{}{"type": "string", "description": "ID of the memory this one was distilled from"},
					"agent":         map[string]interface{}{"type": "string", "description": "Name of the agent or developer storing this memory. Auto-detected if not provided."},
				},
			},
		},
		{
			Name:        "search_memory",
			Description: "Hybrid lexical + semantic search over memories. Returns ranked results with per-item scores and recall reasons. An empty query lists memories matching the filter.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query":   map[string]interface{}{"type": "string", "description": "Natural-language search query"},
					"filters": filterSchema,
					"limit":   map[string]interface{}{"type": "integer", "description": "Max results (default 10)"},
				},
			},
		},
		{
			Name:        "pin_memory",
			Description: "Pin a memory so the forgetting controller never deletes it.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"id"},
				"properties": map[string]interface{}{
					"id": map[string]interface{}{"type": "string", "description": "Memory ID (required)"},
				},
			},
		},
		{
			Name:        "unpin_memory",
			Description: "Remove the pin from a memory, making it subject to normal decay again.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"id"},
				"properties": map[string]interface{}{
					"id": map[string]interface{}{"type": "string", "description": "Memory ID (required)"},
				},
			},
		},
		{
			Name:        "forget_memory",
			Description: "Delete a memory. Soft mode demotes the row in place; hard mode removes it permanently along with its embedding, links, and feedback.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"id"},
				"properties": map[string]interface{}{
					"id":   map[string]interface{}{"type": "string", "description": "Memory ID to delete (required)"},
					"hard": map[string]interface{}{"type": "boolean", "description": "Permanently remove instead of soft-deleting (default false)"},
				},
			},
		},
	}
}

func promptDefinitions() []MCPPrompt {
	return []MCPPrompt{
		{
			Name:        "inject_context",
			Description: "Retrieve the most relevant memories for a query and format them as a compact system-context block under a token budget.",
			Arguments: []MCPPromptArgument{
				{Name: "query", Description: "Retrieval query", Required: true},
				{Name: "token_budget", Description: "Cap on the estimated block size (default 1000)"},
				{Name: "max_memories", Description: "Cap on packed memories (default 5)"},
			},
		},
	}
}

// ---------------------------------------------------------------------------
// Error mapping and framing
// ---------------------------------------------------------------------------

// mapError converts an engine error into a JSON-RPC error. Unclassified
// errors are logged with a correlation id and surfaced with a generic
// message so internals never leak to the client.
func (s *Server) mapError(err error) *JSONRPCError {
	switch {
	case errors.Is(err, storage.ErrInvalidInput):
		return &JSONRPCError{Code: ErrCodeInvalidParams, Message: err.Error()}
	case errors.Is(err, storage.ErrNotFound):
		return &JSONRPCError{Code: ErrCodeNotFound, Message: err.Error()}
	case errors.Is(err, storage.ErrContention):
		return &JSONRPCError{Code: ErrCodeContention, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &JSONRPCError{Code: ErrCodeTimeout, Message: "deadline exceeded"}
	default:
		correlation := uuid.NewString()
		s.logger.Printf("internal error [%s]: %v", correlation, err)
		return &JSONRPCError{
			Code:    ErrCodeInternalError,
			Message: "internal error",
			Data:    map[string]string{"correlation_id": correlation},
		}
	}
}

// unmarshalParams round-trips loosely typed JSON-RPC parameters into a typed
// struct. Decode failures are invalid-params errors.
func unmarshalParams(params interface{}, dest interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%w: marshal params: %v", storage.ErrInvalidInput, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	return nil
}

func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{JSONRPC: "2.0", Result: result, ID: id})
}

func (s *Server) errorResponse(id interface{}, rpcErr *JSONRPCError) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{JSONRPC: "2.0", Error: rpcErr, ID: id})
}
