package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schovi/mediarec/internal/capture"
	"github.com/schovi/mediarec/internal/capture/capturetest"
	"github.com/schovi/mediarec/internal/spool"
)

func newTestServer(t *testing.T, devices *capturetest.Devices, opts ...ServerOption) *Server {
	t.Helper()

	opts = append([]ServerOption{WithDevices(devices), WithDir(t.TempDir())}, opts...)
	srv, err := NewServer(opts...)
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)
	return srv
}

func setupTestServer(t *testing.T, devices *capturetest.Devices, opts ...ServerOption) (*Client, *Server, func()) {
	t.Helper()

	srv := newTestServer(t, devices, opts...)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	client := NewClient(srv.dir)
	require.NoError(t, client.WaitReady(2*time.Second), "server did not start in time")

	cleanup := func() {
		srv.Shutdown()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("server error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("server did not shut down in time")
		}
	}

	return client, srv, cleanup
}

func TestLifecycle(t *testing.T) {
	devices := capturetest.NewDevices()
	client, _, cleanup := setupTestServer(t, devices)
	defer cleanup()

	t.Run("create slot", func(t *testing.T) {
		info, err := client.Create("complaint-1", capture.KindAudio)
		require.NoError(t, err)
		assert.Equal(t, "complaint-1", info.Name)
		assert.Equal(t, "audio", info.Kind)
		assert.Equal(t, "idle", info.State)
		assert.Equal(t, "00:00", info.Elapsed)
	})

	t.Run("start recording", func(t *testing.T) {
		info, err := client.Start("complaint-1", "")
		require.NoError(t, err)
		assert.Equal(t, "recording", info.State)
		assert.True(t, info.DeviceActive)
		assert.Equal(t, "audio/webm;codecs=opus", info.MIMEType)
	})

	t.Run("fragments are buffered", func(t *testing.T) {
		rec := devices.LastRecorder()
		rec.Emit("F1")
		rec.Emit("F2")

		require.Eventually(t, func() bool {
			info, err := client.Info("complaint-1")
			return err == nil && info.Fragments == 2
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("pause and resume", func(t *testing.T) {
		info, err := client.Pause("complaint-1")
		require.NoError(t, err)
		assert.Equal(t, "paused", info.State)

		_, err = client.Pause("complaint-1")
		assert.ErrorContains(t, err, "invalid slot state")

		info, err = client.Resume("complaint-1")
		require.NoError(t, err)
		assert.Equal(t, "recording", info.State)
	})

	t.Run("stop returns artifact", func(t *testing.T) {
		devices.LastRecorder().SetFinal("F3")

		result, err := client.Stop("complaint-1", 0)
		require.NoError(t, err)
		assert.Equal(t, "completed", result.Slot.State)
		assert.False(t, result.Slot.DeviceActive)
		require.NotNil(t, result.Artifact)
		assert.Equal(t, "F1F2F3", string(result.Artifact.Data))
		require.NotNil(t, result.Slot.Artifact)
		assert.Equal(t, 6, result.Slot.Artifact.Size)
		assert.True(t, devices.LastStream().Stopped())
	})

	t.Run("artifact can be fetched again", func(t *testing.T) {
		a, err := client.Artifact("complaint-1")
		require.NoError(t, err)
		assert.Equal(t, "F1F2F3", string(a.Data))
		assert.Equal(t, "audio/webm;codecs=opus", a.MIMEType)
	})

	t.Run("list shows slot", func(t *testing.T) {
		slots, err := client.List()
		require.NoError(t, err)
		require.Len(t, slots, 1)
		assert.Equal(t, "complaint-1", slots[0].Name)
		assert.Equal(t, "completed", slots[0].State)
	})

	t.Run("clear discards recording", func(t *testing.T) {
		info, err := client.Clear("complaint-1")
		require.NoError(t, err)
		assert.Equal(t, "idle", info.State)
		assert.Nil(t, info.Artifact)

		_, err = client.Artifact("complaint-1")
		assert.ErrorContains(t, err, "has no recording")
	})

	t.Run("kill removes slot", func(t *testing.T) {
		require.NoError(t, client.Kill("complaint-1"))

		_, err := client.Info("complaint-1")
		assert.ErrorContains(t, err, "slot not found")

		assert.ErrorContains(t, client.Kill("complaint-1"), "slot not found")
	})
}

func TestCreateValidation(t *testing.T) {
	client, _, cleanup := setupTestServer(t, capturetest.NewDevices())
	defer cleanup()

	_, err := client.Create("../etc", capture.KindAudio)
	assert.ErrorContains(t, err, "must start with alphanumeric")

	_, err = client.Create("s1", capture.Kind("screen"))
	assert.ErrorContains(t, err, "unknown capture kind")

	_, err = client.Create("s1", capture.KindVideo)
	require.NoError(t, err)

	_, err = client.Create("s1", capture.KindVideo)
	assert.ErrorContains(t, err, "already exists")
}

func TestStartDeniedThenRetry(t *testing.T) {
	devices := capturetest.NewDevices(capturetest.DenyWith(capture.ErrPermissionDenied))
	client, _, cleanup := setupTestServer(t, devices)
	defer cleanup()

	_, err := client.Create("cam", capture.KindVideo)
	require.NoError(t, err)

	info, err := client.Start("cam", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture failed")
	require.NotNil(t, info)
	assert.Equal(t, "failed", info.State)
	assert.Equal(t, string(capture.CategoryAcquisitionDenied), info.ErrorCategory)
	assert.NotEmpty(t, info.LastError)
	assert.False(t, info.DeviceActive)

	devices.SetDenyWith(nil)
	info, err = client.Start("cam", "/dev/video2")
	require.NoError(t, err)
	assert.Equal(t, "recording", info.State)
	assert.Empty(t, info.LastError)
}

func TestInvalidTransitions(t *testing.T) {
	client, _, cleanup := setupTestServer(t, capturetest.NewDevices())
	defer cleanup()

	_, err := client.Create("mic", capture.KindAudio)
	require.NoError(t, err)

	_, err = client.Pause("mic")
	assert.ErrorContains(t, err, "is idle")

	_, err = client.Resume("mic")
	assert.ErrorContains(t, err, "is idle")

	_, err = client.Stop("mic", 0)
	assert.ErrorContains(t, err, "is idle")

	_, err = client.Start("mic", "")
	require.NoError(t, err)

	_, err = client.Start("mic", "")
	assert.ErrorContains(t, err, "is recording")

	_, err = client.Start("missing", "")
	assert.ErrorContains(t, err, "slot not found")
}

func TestUnknownAction(t *testing.T) {
	client, _, cleanup := setupTestServer(t, capturetest.NewDevices())
	defer cleanup()

	resp, err := client.send(Request{Action: "rewind"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "unknown action", resp.Error)
}

func TestShutdownReleasesDevices(t *testing.T) {
	devices := capturetest.NewDevices()
	srv := newTestServer(t, devices)

	_, err := srv.CreateSlot("a", capture.KindAudio)
	require.NoError(t, err)
	_, err = srv.CreateSlot("b", capture.KindVideo)
	require.NoError(t, err)

	_, err = srv.StartSlot(context.Background(), "a", "")
	require.NoError(t, err)
	_, err = srv.StartSlot(context.Background(), "b", "")
	require.NoError(t, err)
	_, err = srv.PauseSlot("b")
	require.NoError(t, err)

	srv.Shutdown()
	srv.Shutdown()

	streams := devices.Streams()
	require.Len(t, streams, 2)
	for _, st := range streams {
		assert.Equal(t, 1, st.StopCalls())
	}
	assert.Empty(t, srv.List())
}

func TestCleanupExpiredSlots(t *testing.T) {
	mock := clock.NewMock()
	devices := capturetest.NewDevices()
	srv := newTestServer(t, devices, WithClock(mock), WithSlotTTL(time.Hour))

	_, err := srv.CreateSlot("idle", capture.KindAudio)
	require.NoError(t, err)
	_, err = srv.CreateSlot("live", capture.KindAudio)
	require.NoError(t, err)
	_, err = srv.StartSlot(context.Background(), "live", "")
	require.NoError(t, err)

	mock.Add(30 * time.Minute)
	srv.cleanupExpiredSlots()
	assert.Len(t, srv.List(), 2)

	mock.Add(31 * time.Minute)
	srv.cleanupExpiredSlots()

	slots := srv.List()
	require.Len(t, slots, 1)
	assert.Equal(t, "live", slots[0].Name)
	assert.False(t, devices.LastStream().Stopped())
}

func TestSettingsApplyToNewSlots(t *testing.T) {
	devices := capturetest.NewDevices()
	srv := newTestServer(t, devices)

	srv.SetSettings(Settings{
		Timeslice:    250 * time.Millisecond,
		OnDisconnect: capture.DisconnectDiscard,
		StopTimeout:  time.Second,
	})

	_, err := srv.CreateSlot("s", capture.KindAudio)
	require.NoError(t, err)
	_, err = srv.StartSlot(context.Background(), "s", "")
	require.NoError(t, err)

	rec := devices.LastRecorder()
	assert.Equal(t, 250*time.Millisecond, rec.Timeslice())

	rec.Disconnect()
	require.Eventually(t, func() bool {
		info, err := srv.Info("s")
		return err == nil && info.State == "failed"
	}, 2*time.Second, 10*time.Millisecond)

	info, err := srv.Info("s")
	require.NoError(t, err)
	assert.Equal(t, string(capture.CategoryDeviceLost), info.ErrorCategory)
}

func TestStopTimeoutMarksPartial(t *testing.T) {
	devices := capturetest.NewDevices(capturetest.HangOnStop())
	srv := newTestServer(t, devices)

	_, err := srv.CreateSlot("s", capture.KindAudio)
	require.NoError(t, err)
	_, err = srv.StartSlot(context.Background(), "s", "")
	require.NoError(t, err)

	_, a, err := srv.StopSlot(context.Background(), "s", 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, a.Partial)
}

func TestSubscribe(t *testing.T) {
	srv := newTestServer(t, capturetest.NewDevices())

	_, err := srv.CreateSlot("s", capture.KindAudio)
	require.NoError(t, err)

	updates, cancel, err := srv.Subscribe("s")
	require.NoError(t, err)
	defer cancel()

	first := <-updates
	assert.Equal(t, "idle", first.State)
	assert.Equal(t, "s", first.Name)

	_, err = srv.StartSlot(context.Background(), "s", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case info := <-updates:
			return info.State == "recording"
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Kill("s"))
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-updates:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	_, _, err = srv.Subscribe("s")
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestFileStoreStaleSlotsPurgedOnStart(t *testing.T) {
	dir := t.TempDir()
	store, err := spool.NewFileStore(filepath.Join(dir, SpoolDirName))
	require.NoError(t, err)
	require.NoError(t, store.Create("left-over"))
	require.NoError(t, store.Append("left-over", spool.Chunk{Data: []byte("x"), MIMEType: "audio/webm"}))

	srv := newTestServer(t, capturetest.NewDevices(), WithStore(store), WithDir(dir))
	assert.False(t, store.Exists("left-over"))

	// The name is free again.
	_, err = srv.CreateSlot("left-over", capture.KindAudio)
	require.NoError(t, err)
	assert.True(t, store.Exists("left-over"))
}

func TestNewServerRequiresDevices(t *testing.T) {
	_, err := NewServer(WithDir(t.TempDir()))
	assert.Error(t, err)
}

func TestRequestDeadlines(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want time.Duration
	}{
		{"info", Request{Action: "info", Name: "a"}, ClientDeadline},
		{"start", Request{Action: "start", Name: "a"}, StartDeadline},
		{"stop with configured timeout", Request{Action: "stop", Name: "a"}, MaxStopTimeout + ClientDeadline},
		{"stop with timeout", Request{Action: "stop", Name: "a", StopTimeoutSec: 120}, 150 * time.Second},
		{"stop over limit", Request{Action: "stop", Name: "a", StopTimeoutSec: 3600}, MaxStopTimeout + ClientDeadline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deadline(tt.req))
		})
	}

	// The daemon may spend a probe timeout on the grant and another on the
	// recorder start.
	assert.Greater(t, StartDeadline, 2*MaxProbeTimeout)
}
