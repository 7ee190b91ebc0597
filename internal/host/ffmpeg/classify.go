package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/schovi/mediarec/internal/ansi"
	"github.com/schovi/mediarec/internal/capture"
)

// stderrRules are checked in order against lowercased ffmpeg output.
var stderrRules = []struct {
	needle string
	err    error
}{
	{"permission denied", capture.ErrPermissionDenied},
	{"operation not permitted", capture.ErrPermissionDenied},
	{"not authorized", capture.ErrPermissionDenied},
	{"device or resource busy", capture.ErrDeviceBusy},
	{"resource temporarily unavailable", capture.ErrDeviceBusy},
	{"no such file or directory", capture.ErrDeviceNotFound},
	{"no such device", capture.ErrDeviceNotFound},
	{"cannot open audio device", capture.ErrDeviceNotFound},
	{"cannot open video device", capture.ErrDeviceNotFound},
	{"unknown input format", capture.ErrDeviceNotFound},
	{"unknown encoder", capture.ErrUnsupportedFormat},
	{"encoder not found", capture.ErrUnsupportedFormat},
	{"unsupported codec", capture.ErrUnsupportedFormat},
}

// classifyStderr turns ffmpeg's terminal output into an error wrapping one
// of the capture host sentinels. The detail is the matching line, cleaned
// of escape sequences.
func classifyStderr(stderr string) error {
	lines := ansi.Lines(stderr)

	for _, rule := range stderrRules {
		for i := len(lines) - 1; i >= 0; i-- {
			if strings.Contains(strings.ToLower(lines[i]), rule.needle) {
				return fmt.Errorf("%w: %s", rule.err, lines[i])
			}
		}
	}

	if len(lines) == 0 {
		return fmt.Errorf("ffmpeg: %w", errExited)
	}
	return fmt.Errorf("ffmpeg: %s", lines[len(lines)-1])
}
