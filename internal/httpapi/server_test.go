package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schovi/mediarec/internal/capture"
	"github.com/schovi/mediarec/internal/capture/capturetest"
	"github.com/schovi/mediarec/internal/daemon"
)

const portalOrigin = "https://portal.example.com"

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func setupAPI(t *testing.T, devices *capturetest.Devices) (*httptest.Server, *daemon.Server) {
	t.Helper()

	d, err := daemon.NewServer(daemon.WithDevices(devices), daemon.WithDir(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(d.Shutdown)

	api := New(d, Options{AllowedOrigins: []string{portalOrigin}})
	ts := httptest.NewServer(api.Handler())
	t.Cleanup(ts.Close)
	return ts, d
}

func do(t *testing.T, ts *httptest.Server, method, path, body string) (int, apiResponse) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+"/api/v1"+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out apiResponse
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func slotOf(t *testing.T, resp apiResponse) daemon.SlotInfo {
	t.Helper()
	var info daemon.SlotInfo
	require.NoError(t, json.Unmarshal(resp.Data, &info))
	return info
}

func TestRecordingLifecycle(t *testing.T) {
	devices := capturetest.NewDevices()
	ts, _ := setupAPI(t, devices)

	status, resp := do(t, ts, http.MethodPost, "/slots", `{"name":"voice","kind":"audio"}`)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "idle", slotOf(t, resp).State)

	status, resp = do(t, ts, http.MethodPost, "/slots/voice/start", "")
	require.Equal(t, http.StatusOK, status)
	info := slotOf(t, resp)
	assert.Equal(t, "recording", info.State)
	assert.True(t, info.DeviceActive)

	rec := devices.LastRecorder()
	rec.Emit("F1")
	rec.Emit("F2")
	rec.SetFinal("F3")

	status, resp = do(t, ts, http.MethodPost, "/slots/voice/pause", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "paused", slotOf(t, resp).State)

	status, resp = do(t, ts, http.MethodPost, "/slots/voice/resume", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "recording", slotOf(t, resp).State)

	status, resp = do(t, ts, http.MethodPost, "/slots/voice/stop", "")
	require.Equal(t, http.StatusOK, status)
	assert.NotContains(t, string(resp.Data), `"data"`, "stop must not carry media bytes")

	var stopped StopResponse
	require.NoError(t, json.Unmarshal(resp.Data, &stopped))
	assert.Equal(t, "completed", stopped.Slot.State)
	assert.False(t, stopped.Slot.DeviceActive)
	require.NotNil(t, stopped.Artifact)
	assert.Equal(t, 6, stopped.Artifact.Size)
	assert.False(t, stopped.Artifact.Partial)

	media, err := http.Get(ts.URL + "/api/v1/slots/voice/artifact")
	require.NoError(t, err)
	defer media.Body.Close()
	body, _ := io.ReadAll(media.Body)

	assert.Equal(t, http.StatusOK, media.StatusCode)
	assert.Equal(t, "F1F2F3", string(body))
	assert.Equal(t, "audio/webm;codecs=opus", media.Header.Get("Content-Type"))
	assert.Contains(t, media.Header.Get("Content-Disposition"), "voice-")
	assert.Empty(t, media.Header.Get(HeaderPartial))

	status, resp = do(t, ts, http.MethodPost, "/slots/voice/clear", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "idle", slotOf(t, resp).State)

	status, _ = do(t, ts, http.MethodGet, "/slots/voice/artifact", "")
	assert.Equal(t, http.StatusConflict, status)
}

func TestErrorStatuses(t *testing.T) {
	ts, _ := setupAPI(t, capturetest.NewDevices())
	do(t, ts, http.MethodPost, "/slots", `{"name":"s","kind":"audio"}`)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown slot", http.MethodGet, "/slots/nope", "", http.StatusNotFound},
		{"duplicate", http.MethodPost, "/slots", `{"name":"s","kind":"audio"}`, http.StatusConflict},
		{"bad name", http.MethodPost, "/slots", `{"name":"../etc","kind":"audio"}`, http.StatusBadRequest},
		{"bad kind", http.MethodPost, "/slots", `{"name":"x","kind":"photo"}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/slots", `{`, http.StatusBadRequest},
		{"pause idle", http.MethodPost, "/slots/s/pause", "", http.StatusConflict},
		{"resume idle", http.MethodPost, "/slots/s/resume", "", http.StatusConflict},
		{"stop idle", http.MethodPost, "/slots/s/stop", "", http.StatusConflict},
		{"bad timeout", http.MethodPost, "/slots/s/stop?timeout_sec=soon", "", http.StatusBadRequest},
		{"start bad body", http.MethodPost, "/slots/s/start", `{"device":`, http.StatusBadRequest},
		{"delete unknown", http.MethodDelete, "/slots/nope", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := do(t, ts, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, status)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestStartDeniedCarriesCategory(t *testing.T) {
	devices := capturetest.NewDevices(capturetest.DenyWith(capture.ErrDeviceNotFound))
	ts, _ := setupAPI(t, devices)
	do(t, ts, http.MethodPost, "/slots", `{"name":"cam","kind":"video"}`)

	status, resp := do(t, ts, http.MethodPost, "/slots/cam/start", `{"device":"/dev/video9"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, resp.Error, "capture failed")

	info := slotOf(t, resp)
	assert.Equal(t, "failed", info.State)
	assert.Equal(t, string(capture.CategoryAcquisitionDenied), info.ErrorCategory)
	assert.NotEmpty(t, info.LastError)

	devices.SetDenyWith(nil)
	status, resp = do(t, ts, http.MethodPost, "/slots/cam/start", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "recording", slotOf(t, resp).State)
}

func TestListHealthDelete(t *testing.T) {
	ts, _ := setupAPI(t, capturetest.NewDevices())
	do(t, ts, http.MethodPost, "/slots", `{"name":"b","kind":"audio"}`)
	do(t, ts, http.MethodPost, "/slots", `{"name":"a","kind":"video"}`)

	status, resp := do(t, ts, http.MethodGet, "/slots", "")
	require.Equal(t, http.StatusOK, status)
	var slots []daemon.SlotInfo
	require.NoError(t, json.Unmarshal(resp.Data, &slots))
	require.Len(t, slots, 2)
	assert.Equal(t, "a", slots[0].Name)

	status, resp = do(t, ts, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"slots":2}`, string(resp.Data))

	status, _ = do(t, ts, http.MethodDelete, "/slots/a", "")
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = do(t, ts, http.MethodGet, "/slots/a", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStopTimeoutMarksPartial(t *testing.T) {
	devices := capturetest.NewDevices(capturetest.HangOnStop())
	ts, _ := setupAPI(t, devices)
	do(t, ts, http.MethodPost, "/slots", `{"name":"s","kind":"audio"}`)
	do(t, ts, http.MethodPost, "/slots/s/start", "")
	devices.LastRecorder().Emit("F1")

	status, resp := do(t, ts, http.MethodPost, "/slots/s/stop?timeout_sec=1", "")
	require.Equal(t, http.StatusOK, status)

	var stopped StopResponse
	require.NoError(t, json.Unmarshal(resp.Data, &stopped))
	require.NotNil(t, stopped.Artifact)
	assert.True(t, stopped.Artifact.Partial)

	media, err := http.Get(ts.URL + "/api/v1/slots/s/artifact")
	require.NoError(t, err)
	media.Body.Close()
	assert.Equal(t, "true", media.Header.Get(HeaderPartial))
}

func TestCORSPreflight(t *testing.T) {
	ts, _ := setupAPI(t, capturetest.NewDevices())

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/slots", nil)
	req.Header.Set("Origin", portalOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, portalOrigin, resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://elsewhere.example.com")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1" + path
}

func readUntil(t *testing.T, conn *websocket.Conn, state string) daemon.SlotInfo {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var info daemon.SlotInfo
		require.NoError(t, conn.ReadJSON(&info))
		if info.State == state {
			return info
		}
	}
}

func TestEventsFeed(t *testing.T) {
	devices := capturetest.NewDevices()
	ts, d := setupAPI(t, devices)
	do(t, ts, http.MethodPost, "/slots", `{"name":"voice","kind":"audio"}`)

	header := http.Header{"Origin": []string{portalOrigin}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/slots/voice/events"), header)
	require.NoError(t, err)
	defer conn.Close()

	first := readUntil(t, conn, "idle")
	assert.Equal(t, "voice", first.Name)

	do(t, ts, http.MethodPost, "/slots/voice/start", "")
	info := readUntil(t, conn, "recording")
	assert.True(t, info.DeviceActive)

	devices.LastRecorder().Emit(string(bytes.Repeat([]byte("x"), 10)))
	do(t, ts, http.MethodPost, "/slots/voice/stop", "")
	info = readUntil(t, conn, "completed")
	require.NotNil(t, info.Artifact)
	assert.Equal(t, 10, info.Artifact.Size)

	require.NoError(t, d.Kill("voice"))
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
			break
		}
	}
}

func TestEventsRejectsForeignOrigin(t *testing.T) {
	ts, _ := setupAPI(t, capturetest.NewDevices())
	do(t, ts, http.MethodPost, "/slots", `{"name":"voice","kind":"audio"}`)

	header := http.Header{"Origin": []string{"https://elsewhere.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/slots/voice/events"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestEventsUnknownSlot(t *testing.T) {
	ts, _ := setupAPI(t, capturetest.NewDevices())

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/slots/nope/events"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
