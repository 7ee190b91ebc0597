// Package mcp serves the recorder as Model Context Protocol tools over
// newline-delimited JSON-RPC on stdio.
package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
)

// ProtocolVersion is the newest protocol revision the server speaks.
const ProtocolVersion = "2025-06-18"

var supportedVersions = []string{ProtocolVersion, "2025-03-26", "2024-11-05"}

const maxMessageSize = 4 << 20

// Toolset is what the server exposes. *ToolRegistry implements it.
type Toolset interface {
	Name() string
	Instructions() string
	List() []ToolDef
	Call(name string, args json.RawMessage) (*CallToolResult, error)
}

type handler func(params json.RawMessage) (any, *Error)

type Server struct {
	tools    Toolset
	version  string
	in       *bufio.Scanner
	out      *json.Encoder
	mu       sync.Mutex
	handlers map[string]handler
}

// NewServer speaks to a client on in and out, normally the process's stdin
// and stdout. version is reported as the server version.
func NewServer(tools Toolset, version string, in io.Reader, out io.Writer) *Server {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize)

	s := &Server{
		tools:   tools,
		version: version,
		in:      scanner,
		out:     json.NewEncoder(out),
	}
	s.handlers = map[string]handler{
		"initialize": s.initialize,
		"ping":       func(json.RawMessage) (any, *Error) { return struct{}{}, nil },
		"tools/list": func(json.RawMessage) (any, *Error) { return ToolsListResult{Tools: s.tools.List()}, nil },
		"tools/call": s.callTool,
	}
	return s
}

// Run serves requests until in is exhausted.
func (s *Server) Run() error {
	for s.in.Scan() {
		line := bytes.TrimSpace(s.in.Bytes())
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.reply(json.RawMessage("null"), nil, &Error{Code: codeParseError, Message: "Parse error", Data: err.Error()})
			continue
		}
		s.serve(&req)
	}
	if err := s.in.Err(); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return nil
}

func (s *Server) serve(req *Request) {
	if req.isNotification() {
		// notifications/initialized, notifications/cancelled: nothing to do
		return
	}
	if req.Method == "" {
		s.reply(req.ID, nil, &Error{Code: codeInvalidRequest, Message: "Invalid request", Data: "missing method"})
		return
	}

	h, ok := s.handlers[req.Method]
	if !ok {
		s.reply(req.ID, nil, &Error{Code: codeMethodNotFound, Message: "Method not found", Data: req.Method})
		return
	}
	result, rpcErr := h(req.Params)
	s.reply(req.ID, result, rpcErr)
}

func (s *Server) initialize(params json.RawMessage) (any, *Error) {
	var p InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &Error{Code: codeInvalidParams, Message: "Invalid params", Data: err.Error()}
		}
	}

	result := InitializeResult{
		ProtocolVersion: negotiate(p.ProtocolVersion),
		Capabilities: map[string]any{
			"tools": map[string]any{},
		},
		Instructions: s.tools.Instructions(),
	}
	result.ServerInfo.Name = s.tools.Name()
	result.ServerInfo.Version = s.version
	return result, nil
}

// negotiate answers with the client's revision when supported, otherwise
// with the newest one so the client can decide whether to continue.
func negotiate(requested string) string {
	if slices.Contains(supportedVersions, requested) {
		return requested
	}
	return ProtocolVersion
}

func (s *Server) callTool(params json.RawMessage) (any, *Error) {
	var p CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &Error{Code: codeInvalidParams, Message: "Invalid params", Data: err.Error()}
	}

	result, err := s.tools.Call(p.Name, p.Arguments)
	switch {
	case errors.Is(err, ErrUnknownTool):
		return nil, &Error{Code: codeInvalidParams, Message: "Unknown tool", Data: p.Name}
	case err != nil:
		return errorResult(err.Error()), nil
	}
	return result, nil
}

func (s *Server) reply(id json.RawMessage, result any, rpcErr *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Encode only fails on values that cannot be marshaled or a broken
	// pipe; neither has a client left to tell.
	_ = s.out.Encode(Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
		Error:   rpcErr,
	})
}
