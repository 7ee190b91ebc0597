package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type stubTools struct {
	calls []string
}

func (s *stubTools) Name() string         { return "stub" }
func (s *stubTools) Instructions() string { return "stub instructions" }

func (s *stubTools) List() []ToolDef {
	return []ToolDef{{Name: "echo", InputSchema: map[string]any{"type": "object"}}}
}

func (s *stubTools) Call(name string, args json.RawMessage) (*CallToolResult, error) {
	s.calls = append(s.calls, name)
	switch name {
	case "echo":
		return &CallToolResult{Content: []ContentBlock{{Type: "text", Text: string(args)}}}, nil
	case "fail":
		return nil, errors.New("device busy")
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
}

// exchange runs the server over the given request lines and returns its
// responses.
func exchange(t *testing.T, tools Toolset, lines ...string) []Response {
	t.Helper()

	var out bytes.Buffer
	srv := NewServer(tools, "1.2.3", strings.NewReader(strings.Join(lines, "\n")+"\n"), &out)
	if err := srv.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	var responses []Response
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("bad response line %q: %v", scanner.Text(), err)
		}
		responses = append(responses, resp)
	}
	return responses
}

func initializeResult(t *testing.T, resp Response) InitializeResult {
	t.Helper()

	data, _ := json.Marshal(resp.Result)
	var result InitializeResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("initialize result: %v", err)
	}
	return result
}

func TestInitializeNegotiatesVersion(t *testing.T) {
	tests := []struct {
		requested string
		want      string
	}{
		{"2024-11-05", "2024-11-05"},
		{"2025-03-26", "2025-03-26"},
		{ProtocolVersion, ProtocolVersion},
		{"1999-01-01", ProtocolVersion},
		{"", ProtocolVersion},
	}

	for _, tt := range tests {
		t.Run(tt.requested, func(t *testing.T) {
			line := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":%q}}`, tt.requested)
			responses := exchange(t, &stubTools{}, line)
			if len(responses) != 1 {
				t.Fatalf("got %d responses", len(responses))
			}

			result := initializeResult(t, responses[0])
			if result.ProtocolVersion != tt.want {
				t.Errorf("protocolVersion = %q, want %q", result.ProtocolVersion, tt.want)
			}
			if result.ServerInfo.Name != "stub" || result.ServerInfo.Version != "1.2.3" {
				t.Errorf("serverInfo = %+v", result.ServerInfo)
			}
			if result.Instructions != "stub instructions" {
				t.Errorf("instructions = %q", result.Instructions)
			}
		})
	}
}

func TestNotificationsGetNoReply(t *testing.T) {
	tools := &stubTools{}
	responses := exchange(t, tools,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","method":"tools/call","params":{"name":"echo","arguments":{}}}`,
		`{"jsonrpc":"2.0","id":"p","method":"ping"}`,
	)

	if len(responses) != 1 {
		t.Fatalf("got %d responses, want only the ping reply", len(responses))
	}
	if string(responses[0].ID) != `"p"` {
		t.Errorf("id = %s", responses[0].ID)
	}
	if len(tools.calls) != 0 {
		t.Errorf("notification ran tools: %v", tools.calls)
	}
}

func TestToolCallErrors(t *testing.T) {
	responses := exchange(t, &stubTools{},
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"x":1}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"fail"}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"nope"}}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":"bad"}`,
		`{"jsonrpc":"2.0","id":5}`,
		`{broken`,
	)
	if len(responses) != 6 {
		t.Fatalf("got %d responses, want 6", len(responses))
	}

	decode := func(resp Response) CallToolResult {
		data, _ := json.Marshal(resp.Result)
		var result CallToolResult
		json.Unmarshal(data, &result)
		return result
	}

	if echo := decode(responses[0]); echo.IsError || echo.Content[0].Text != `{"x":1}` {
		t.Errorf("echo = %+v", echo)
	}
	if failed := decode(responses[1]); !failed.IsError || failed.Content[0].Text != "device busy" {
		t.Errorf("failing tool should report an error result: %+v", failed)
	}

	wantCodes := map[int]int{2: codeInvalidParams, 3: codeInvalidParams, 4: codeInvalidRequest, 5: codeParseError}
	for i, code := range wantCodes {
		if responses[i].Error == nil || responses[i].Error.Code != code {
			t.Errorf("response %d error = %+v, want code %d", i, responses[i].Error, code)
		}
	}
	if string(responses[5].ID) != "null" {
		t.Errorf("parse error id = %s, want null", responses[5].ID)
	}
}
