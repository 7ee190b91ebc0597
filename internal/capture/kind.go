package capture

import "fmt"

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindAudio, KindVideo:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown capture kind %q (want audio or video)", s)
	}
}

// preferredFormats lists encodings in preference order. The last entry of
// each list is the generic container tried before giving up.
var preferredFormats = map[Kind][]string{
	KindAudio: {"audio/webm;codecs=opus", "audio/webm"},
	KindVideo: {"video/webm;codecs=vp8,opus", "video/webm"},
}

// DefaultMIMEType is used for an artifact that received no fragment.
func (k Kind) DefaultMIMEType() string {
	if k == KindVideo {
		return "video/webm"
	}
	return "audio/webm"
}

// Formats returns the candidate encodings for k, most preferred first.
func (k Kind) Formats() []string {
	return append([]string{}, preferredFormats[k]...)
}

type State string

const (
	StateIdle      State = "idle"
	StateAcquiring State = "acquiring"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopping  State = "stopping"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// HoldsStream reports whether a session in this state owns a device stream.
func (s State) HoldsStream() bool {
	switch s {
	case StateAcquiring, StateRecording, StatePaused, StateStopping:
		return true
	}
	return false
}

// CanStart reports whether StartRecording is accepted in this state.
func (s State) CanStart() bool {
	return s == StateIdle || s == StateFailed
}

// Constraints is the capability set requested from the host.
type Constraints struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
	// Device selects a specific input; empty means the host default.
	Device string `json:"device,omitempty"`
}

func DefaultConstraints(kind Kind) Constraints {
	return Constraints{Audio: true, Video: kind == KindVideo}
}

// FormatElapsed renders seconds as mm:ss, growing the minutes field past 99.
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
