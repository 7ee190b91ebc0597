package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schovi/mediarec/internal/attachment"
	"github.com/schovi/mediarec/internal/capture"
	"github.com/schovi/mediarec/internal/capture/capturetest"
	"github.com/schovi/mediarec/internal/daemon"
)

func setupRegistry(t *testing.T, devices *capturetest.Devices) *ToolRegistry {
	t.Helper()

	dir := t.TempDir()
	srv, err := daemon.NewServer(daemon.WithDevices(devices), daemon.WithDir(dir))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	client := daemon.NewClient(dir)
	if err := client.WaitReady(2 * time.Second); err != nil {
		t.Fatalf("daemon not ready: %v", err)
	}

	t.Cleanup(func() {
		srv.Shutdown()
		select {
		case <-errCh:
		case <-time.After(2 * time.Second):
			t.Error("daemon did not shut down in time")
		}
	})

	return NewToolRegistry(client)
}

func call(t *testing.T, r *ToolRegistry, tool string, args string) *CallToolResult {
	t.Helper()
	result, err := r.Call(tool, json.RawMessage(args))
	if err != nil {
		t.Fatalf("%s %s: %v", tool, args, err)
	}
	return result
}

func decodeText(t *testing.T, result *CallToolResult, v interface{}) {
	t.Helper()
	last := result.Content[len(result.Content)-1].Text
	if err := json.Unmarshal([]byte(last), v); err != nil {
		t.Fatalf("decode %q: %v", last, err)
	}
}

func TestRecordAndSave(t *testing.T) {
	devices := capturetest.NewDevices()
	r := setupRegistry(t, devices)

	var info daemon.SlotInfo
	decodeText(t, call(t, r, "create", `{"name":"voice","kind":"audio"}`), &info)
	if info.State != "idle" {
		t.Fatalf("state = %q, want idle", info.State)
	}

	decodeText(t, call(t, r, "start", `{"name":"voice"}`), &info)
	if info.State != "recording" || !info.DeviceActive {
		t.Fatalf("after start: %+v", info)
	}

	rec := devices.LastRecorder()
	rec.Emit("F1")
	rec.Emit("F2")
	rec.SetFinal("F3")

	decodeText(t, call(t, r, "pause", `{"name":"voice"}`), &info)
	if info.State != "paused" {
		t.Fatalf("state = %q, want paused", info.State)
	}
	decodeText(t, call(t, r, "resume", `{"name":"voice"}`), &info)
	if info.State != "recording" {
		t.Fatalf("state = %q, want recording", info.State)
	}

	out := filepath.Join(t.TempDir(), "voice.webm")
	args, _ := json.Marshal(StopArgs{Name: "voice", Out: out, Manifest: true})

	var saved savedAttachment
	decodeText(t, call(t, r, "stop", string(args)), &saved)

	if saved.Slot.State != "completed" {
		t.Errorf("slot state = %q, want completed", saved.Slot.State)
	}
	if saved.Artifact == nil || saved.Artifact.Size != 6 {
		t.Fatalf("artifact = %+v, want 6 bytes", saved.Artifact)
	}
	if saved.Manifest != out+".yaml" {
		t.Errorf("manifest = %q", saved.Manifest)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "F1F2F3" {
		t.Errorf("file = %q, want F1F2F3", data)
	}

	m, err := attachment.ReadManifest(saved.Manifest)
	if err != nil {
		t.Fatal(err)
	}
	if m.Slot != "voice" || m.MediaType != "audio/webm;codecs=opus" {
		t.Errorf("manifest = %+v", m)
	}
}

func TestStopResultOmitsMediaBytes(t *testing.T) {
	devices := capturetest.NewDevices()
	r := setupRegistry(t, devices)

	call(t, r, "create", `{"name":"v","kind":"video"}`)
	call(t, r, "start", `{"name":"v"}`)
	devices.LastRecorder().Emit("SECRET-BYTES")

	result := call(t, r, "stop", `{"name":"v"}`)
	text := result.Content[0].Text
	if strings.Contains(text, `"data"`) {
		t.Errorf("stop result carries media payload: %s", text)
	}

	out := filepath.Join(t.TempDir(), "later.webm")
	var saved savedAttachment
	decodeText(t, call(t, r, "save", `{"name":"v","out":"`+out+`"}`), &saved)
	if saved.File != out || saved.Manifest != "" {
		t.Errorf("save = %+v", saved)
	}
	data, _ := os.ReadFile(out)
	if string(data) != "SECRET-BYTES" {
		t.Errorf("file = %q", data)
	}
}

func TestStartDeniedReportsCategory(t *testing.T) {
	devices := capturetest.NewDevices(capturetest.DenyWith(capture.ErrPermissionDenied))
	r := setupRegistry(t, devices)

	call(t, r, "create", `{"name":"voice","kind":"audio"}`)
	result := call(t, r, "start", `{"name":"voice"}`)

	if !result.IsError {
		t.Fatal("expected error result")
	}
	if !strings.Contains(result.Content[0].Text, "capture failed") {
		t.Errorf("error text = %q", result.Content[0].Text)
	}

	var info daemon.SlotInfo
	decodeText(t, result, &info)
	if info.State != "failed" || info.ErrorCategory != "acquisition_denied" {
		t.Errorf("info = %+v", info)
	}

	devices.SetDenyWith(nil)
	decodeText(t, call(t, r, "start", `{"name":"voice"}`), &info)
	if info.State != "recording" {
		t.Errorf("retry state = %q, want recording", info.State)
	}
}

func TestClearInfoListKill(t *testing.T) {
	devices := capturetest.NewDevices()
	r := setupRegistry(t, devices)

	call(t, r, "create", `{"name":"b","kind":"audio"}`)
	call(t, r, "create", `{"name":"a","kind":"video"}`)
	call(t, r, "start", `{"name":"b"}`)

	var info daemon.SlotInfo
	decodeText(t, call(t, r, "clear", `{"name":"b"}`), &info)
	if info.State != "idle" || info.DeviceActive {
		t.Errorf("after clear: %+v", info)
	}
	if !devices.LastStream().Stopped() {
		t.Error("device not released on clear")
	}

	decodeText(t, call(t, r, "info", `{"name":"a"}`), &info)
	if info.Kind != "video" || info.Elapsed != "00:00" {
		t.Errorf("info = %+v", info)
	}

	var slots []daemon.SlotInfo
	decodeText(t, call(t, r, "list", `{}`), &slots)
	if len(slots) != 2 || slots[0].Name != "a" || slots[1].Name != "b" {
		t.Errorf("list = %+v", slots)
	}

	result := call(t, r, "kill", `{"name":"a"}`)
	if result.Content[0].Text != `slot "a" deleted` {
		t.Errorf("kill = %q", result.Content[0].Text)
	}
	decodeText(t, call(t, r, "list", `{}`), &slots)
	if len(slots) != 1 {
		t.Errorf("after kill: %+v", slots)
	}
}

func TestToolErrors(t *testing.T) {
	r := setupRegistry(t, capturetest.NewDevices())
	call(t, r, "create", `{"name":"s","kind":"audio"}`)

	tests := []struct {
		name    string
		tool    string
		args    string
		wantErr string
	}{
		{"unknown tool", "exec", `{}`, "unknown tool"},
		{"bad json", "create", `{`, "parse args"},
		{"bad kind", "create", `{"name":"x","kind":"photo"}`, "unknown capture kind"},
		{"bad name", "create", `{"name":"../x","kind":"audio"}`, "invalid"},
		{"missing name", "pause", `{}`, "name is required"},
		{"unknown slot", "info", `{"name":"nope"}`, "not found"},
		{"pause idle", "pause", `{"name":"s"}`, "invalid slot state"},
		{"stop idle", "stop", `{"name":"s"}`, "invalid slot state"},
		{"manifest without out", "stop", `{"name":"s","manifest":true}`, "manifest requires out"},
		{"negative timeout", "stop", `{"name":"s","timeout_sec":-1}`, "must not be negative"},
		{"save without out", "save", `{"name":"s"}`, "out is required"},
		{"save before stop", "save", `{"name":"s","out":"/tmp/x.webm"}`, "no recording"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := r.Call(tt.tool, json.RawMessage(tt.args))
			if err == nil && result != nil && result.IsError {
				err = errorFromResult(result)
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

type textError string

func (e textError) Error() string { return string(e) }

func errorFromResult(result *CallToolResult) error {
	return textError(result.Content[0].Text)
}

func TestListExposesCaptureTools(t *testing.T) {
	r := NewToolRegistry(daemon.NewClient(t.TempDir()))

	var names []string
	for _, tool := range r.List() {
		names = append(names, tool.Name)
		if tool.InputSchema["type"] != "object" {
			t.Errorf("%s: schema type = %v", tool.Name, tool.InputSchema["type"])
		}
	}

	want := "create,start,pause,resume,stop,save,clear,info,list,kill"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("tools = %s, want %s", got, want)
	}
}

func TestServerRoundTrip(t *testing.T) {
	r := setupRegistry(t, capturetest.NewDevices())

	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{}}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		``,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"create","arguments":{"name":"s","kind":"audio"}}}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"info","arguments":{"name":"missing"}}}`,
		`{"jsonrpc":"2.0","id":5,"method":"bogus"}`,
		`not json`,
	}, "\n") + "\n"

	var out bytes.Buffer
	srv := NewServer(r, "test", strings.NewReader(in), &out)
	if err := srv.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	var responses []map[string]json.RawMessage
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp map[string]json.RawMessage
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("bad response line %q: %v", scanner.Text(), err)
		}
		responses = append(responses, resp)
	}
	if len(responses) != 6 {
		t.Fatalf("got %d responses, want 6", len(responses))
	}

	var initResult InitializeResult
	json.Unmarshal(responses[0]["result"], &initResult)
	if initResult.ServerInfo.Name != "mediarec" || initResult.ServerInfo.Version != "test" {
		t.Errorf("serverInfo = %+v", initResult.ServerInfo)
	}
	if initResult.Instructions == "" {
		t.Error("missing instructions")
	}

	var list ToolsListResult
	json.Unmarshal(responses[1]["result"], &list)
	if len(list.Tools) != 10 {
		t.Errorf("tools/list returned %d tools", len(list.Tools))
	}

	var created CallToolResult
	json.Unmarshal(responses[2]["result"], &created)
	if created.IsError || !strings.Contains(created.Content[0].Text, `"state": "idle"`) {
		t.Errorf("create result = %+v", created)
	}

	var missing CallToolResult
	json.Unmarshal(responses[3]["result"], &missing)
	if !missing.IsError {
		t.Errorf("info on missing slot should be an error result: %+v", missing)
	}

	var methodErr Error
	json.Unmarshal(responses[4]["error"], &methodErr)
	if methodErr.Code != -32601 {
		t.Errorf("unknown method code = %d", methodErr.Code)
	}

	var parseErr Error
	json.Unmarshal(responses[5]["error"], &parseErr)
	if parseErr.Code != -32700 {
		t.Errorf("parse error code = %d", parseErr.Code)
	}
}
