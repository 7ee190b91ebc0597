package capture

import (
	"context"
	"errors"
	"time"
)

// Host errors. MediaDevices implementations wrap one of these so the
// session can classify a failure without parsing platform text.
var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrDeviceNotFound    = errors.New("device not found")
	ErrDeviceBusy        = errors.New("device busy")
	ErrUnsupportedFormat = errors.New("no supported encoding")
)

// Fragment is one chunk of encoded media delivered while recording.
type Fragment struct {
	Data     []byte
	MIMEType string
}

// MediaDevices is the host's capture facility.
type MediaDevices interface {
	// GetUserMedia blocks until the host grants or refuses a live stream.
	GetUserMedia(ctx context.Context, c Constraints) (Stream, error)
	IsTypeSupported(mimeType string) bool
	NewRecorder(stream Stream, mimeType string) (Recorder, error)
}

// Stream is a live device handle. StopTracks must be safe to call more than
// once and must make any recorder built on the stream close its fragment
// channel.
type Stream interface {
	StopTracks()
}

type Recorder interface {
	// Start begins delivering one fragment per timeslice.
	Start(timeslice time.Duration) error
	Pause() error
	Resume() error
	// Stop asks the recorder to flush. The final fragment is delivered
	// before Fragments is closed.
	Stop() error
	// Fragments is closed once the recorder has stopped, either because Stop
	// was called or because the underlying device went away.
	Fragments() <-chan Fragment
}
