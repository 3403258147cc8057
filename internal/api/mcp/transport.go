package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
)

// StdioTransport bridges the raw stdio streams and the MCP Server: each
// JSON-RPC request arrives as one newline-terminated line on the reader,
// each response leaves as one newline-terminated line on the writer.
//
// All diagnostics go to stderr. Stray bytes on stdout corrupt the protocol
// framing, so nothing in this package ever writes there except responses.
type StdioTransport struct {
	server *Server
	in     io.Reader
	out    io.Writer
	logger *log.Logger
}

// NewStdioTransport constructs a transport reading from in and writing to
// out. logger may be nil; a stderr logger is used then.
func NewStdioTransport(srv *Server, in io.Reader, out io.Writer, logger *log.Logger) *StdioTransport {
	if logger == nil {
		logger = log.New(os.Stderr, "memento-mcp: ", log.LstdFlags)
	}
	return &StdioTransport{server: srv, in: in, out: out, logger: logger}
}

// Serve processes requests until the input stream closes or ctx is
// cancelled. Requests are handled synchronously in arrival order; the MCP
// protocol does not require concurrency at the transport level.
func (t *StdioTransport) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)

	// Large stores and search results need more than the default 64 KB.
	const maxBuf = 4 * 1024 * 1024
	scanner.Buffer(make([]byte, maxBuf), maxBuf)

	for {
		select {
		case <-ctx.Done():
			t.logger.Println("context cancelled, shutting down")
			return ctx.Err()
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				t.logger.Printf("stdin scanner: %v", err)
				return fmt.Errorf("stdin scanner: %w", err)
			}
			t.logger.Println("stdin closed, shutting down")
			return nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp, err := t.server.HandleRequest(ctx, line)
		if err != nil {
			// HandleRequest normally returns a JSON-RPC error frame itself;
			// this path covers marshal failures and the like.
			t.logger.Printf("handler: %v", err)
			resp = t.internalErrorResponse(line, err)
		}

		if _, err := fmt.Fprintf(t.out, "%s\n", resp); err != nil {
			t.logger.Printf("write response: %v", err)
			return fmt.Errorf("write response: %w", err)
		}
	}
}

// internalErrorResponse builds a best-effort error frame when the server
// itself fails, recovering the request id from the raw bytes when possible.
func (t *StdioTransport) internalErrorResponse(rawRequest []byte, handlerErr error) []byte {
	var partial struct {
		ID interface{} `json:"id"`
	}
	_ = json.Unmarshal(rawRequest, &partial)

	data, err := json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      partial.ID,
		Error:   &JSONRPCError{Code: ErrCodeInternalError, Message: handlerErr.Error()},
	})
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return data
}
