package config

import (
	"fmt"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/schovi/mediarec/internal/daemon"
	"github.com/schovi/mediarec/internal/logging"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

const (
	minTimesliceMs  = 100
	maxTimesliceMs  = 60_000
	maxStopTimeout  = int(daemon.MaxStopTimeout / time.Second)
	maxProbeTimeout = int(daemon.MaxProbeTimeout / time.Second)
)

func ValidDisconnectPolicies() []string {
	return []string{"salvage", "discard"}
}

func ValidSpools() []string {
	return []string{SpoolMemory, SpoolFile}
}

// Validate checks the Config for invalid values and returns all validation
// errors found.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateCapture()...)
	errs = append(errs, c.validateFFmpeg()...)
	errs = append(errs, c.validateDaemon()...)
	errs = append(errs, c.validateLogging()...)
	return errs
}

func (c *Config) validateCapture() []ValidationError {
	var errs []ValidationError

	if c.Capture.TimesliceMs < minTimesliceMs || c.Capture.TimesliceMs > maxTimesliceMs {
		errs = append(errs, ValidationError{
			Field:   "capture.timeslice_ms",
			Value:   c.Capture.TimesliceMs,
			Message: fmt.Sprintf("must be between %d and %d", minTimesliceMs, maxTimesliceMs),
		})
	}
	if !slices.Contains(ValidDisconnectPolicies(), c.Capture.OnDisconnect) {
		errs = append(errs, ValidationError{
			Field:   "capture.on_disconnect",
			Value:   c.Capture.OnDisconnect,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidDisconnectPolicies(), ", ")),
		})
	}
	if !slices.Contains(ValidSpools(), c.Capture.Spool) {
		errs = append(errs, ValidationError{
			Field:   "capture.spool",
			Value:   c.Capture.Spool,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidSpools(), ", ")),
		})
	}
	if c.Capture.StopTimeoutSec <= 0 || c.Capture.StopTimeoutSec > maxStopTimeout {
		errs = append(errs, ValidationError{
			Field:   "capture.stop_timeout_sec",
			Value:   c.Capture.StopTimeoutSec,
			Message: fmt.Sprintf("must be between 1 and %d", maxStopTimeout),
		})
	}
	return errs
}

func (c *Config) validateFFmpeg() []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(c.FFmpeg.Path) == "" {
		errs = append(errs, ValidationError{Field: "ffmpeg.path", Value: c.FFmpeg.Path, Message: "must not be empty"})
	}
	if c.FFmpeg.AudioInput.Device == "" {
		errs = append(errs, ValidationError{Field: "ffmpeg.audio_input.device", Value: "", Message: "must not be empty"})
	}
	if c.FFmpeg.VideoInput.Device == "" {
		errs = append(errs, ValidationError{Field: "ffmpeg.video_input.device", Value: "", Message: "must not be empty"})
	}
	if c.FFmpeg.ProbeTimeoutSec <= 0 || c.FFmpeg.ProbeTimeoutSec > maxProbeTimeout {
		errs = append(errs, ValidationError{
			Field:   "ffmpeg.probe_timeout_sec",
			Value:   c.FFmpeg.ProbeTimeoutSec,
			Message: fmt.Sprintf("must be between 1 and %d", maxProbeTimeout),
		})
	}
	return errs
}

func (c *Config) validateDaemon() []ValidationError {
	var errs []ValidationError

	if c.Daemon.HTTPAddr != "" {
		if _, _, err := net.SplitHostPort(c.Daemon.HTTPAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "daemon.http_addr",
				Value:   c.Daemon.HTTPAddr,
				Message: "must be host:port",
			})
		}
	}
	for _, origin := range c.Daemon.AllowedOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			errs = append(errs, ValidationError{
				Field:   "daemon.allowed_origins",
				Value:   origin,
				Message: "must be * or an http(s) origin",
			})
		}
	}
	if c.Daemon.SlotTTL < 0 {
		errs = append(errs, ValidationError{
			Field:   "daemon.slot_ttl",
			Value:   c.Daemon.SlotTTL,
			Message: "must not be negative",
		})
	}
	return errs
}

func (c *Config) validateLogging() []ValidationError {
	if slices.Contains(logging.ValidLevels(), strings.ToUpper(c.Logging.Level)) {
		return nil
	}
	return []ValidationError{{
		Field:   "logging.level",
		Value:   c.Logging.Level,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(logging.ValidLevels(), ", ")),
	}}
}
