// Package ffmpeg implements the capture host on top of an ffmpeg child
// process. Access to a device is probed with a short ffmpeg run; recording
// spawns ffmpeg with stdin and stderr on a pty, which keeps its interactive
// quit key working, and reads the encoded container from stdout.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/schovi/mediarec/internal/capture"
	"github.com/schovi/mediarec/internal/logging"
)

const (
	DefaultPath         = "ffmpeg"
	DefaultProbeTimeout = 10 * time.Second
	KillGracePeriod     = 2 * time.Second
	ReadBufferSize      = 32 * 1024
	probeDuration       = "0.1"
)

// Input selects an ffmpeg demuxer and the device it opens.
type Input struct {
	Format string `mapstructure:"format" json:"format" yaml:"format"`
	Device string `mapstructure:"device" json:"device" yaml:"device"`
}

func (in Input) args() []string {
	var args []string
	if in.Format != "" {
		args = append(args, "-f", in.Format)
	}
	return append(args, "-i", in.Device)
}

func (in Input) String() string {
	if in.Format == "" {
		return in.Device
	}
	return in.Format + ":" + in.Device
}

// DefaultAudioInput returns the platform microphone.
func DefaultAudioInput() Input {
	switch runtime.GOOS {
	case "darwin":
		return Input{Format: "avfoundation", Device: ":0"}
	default:
		return Input{Format: "alsa", Device: "default"}
	}
}

// DefaultVideoInput returns the platform camera. avfoundation opens the
// microphone on the same input; elsewhere the audio input is added next to
// it.
func DefaultVideoInput() Input {
	switch runtime.GOOS {
	case "darwin":
		return Input{Format: "avfoundation", Device: "0:0"}
	default:
		return Input{Format: "v4l2", Device: "/dev/video0"}
	}
}

type Options struct {
	Path         string
	AudioInput   Input
	VideoInput   Input
	ProbeTimeout time.Duration
	Logger       *logging.Logger
}

// Devices is a capture.MediaDevices backed by ffmpeg.
type Devices struct {
	path         string
	audioInput   Input
	videoInput   Input
	probeTimeout time.Duration
	logger       *logging.Logger

	listEncoders func(ctx context.Context) (string, error)
	encodersOnce sync.Once
	encoders     map[string]bool
}

func New(opts Options) *Devices {
	d := &Devices{
		path:         opts.Path,
		audioInput:   opts.AudioInput,
		videoInput:   opts.VideoInput,
		probeTimeout: opts.ProbeTimeout,
		logger:       opts.Logger,
	}
	if d.path == "" {
		d.path = DefaultPath
	}
	if d.audioInput.Device == "" {
		d.audioInput = DefaultAudioInput()
	}
	if d.videoInput.Device == "" {
		d.videoInput = DefaultVideoInput()
	}
	if d.probeTimeout <= 0 {
		d.probeTimeout = DefaultProbeTimeout
	}
	if d.logger == nil {
		d.logger = logging.NopLogger()
	}
	d.listEncoders = d.runEncoders
	return d
}

// source is the set of ffmpeg inputs one capture reads from.
type source struct {
	inputs []Input
	audio  bool
	video  bool
}

func (src source) args() []string {
	var args []string
	for _, in := range src.inputs {
		args = append(args, in.args()...)
	}
	return args
}

// streamArgs picks the streams to encode. A separate microphone input is
// mapped next to the camera.
func (src source) streamArgs() []string {
	var args []string
	if len(src.inputs) > 1 {
		args = append(args, "-map", "0:v:0", "-map", "1:a:0")
	}
	if src.video && !src.audio {
		args = append(args, "-an")
	}
	return args
}

// timestampArgs derives timestamps from frame and sample counts. Pause
// stops the process while the device clock keeps running; counted
// timestamps leave no gap for the paused time.
func (src source) timestampArgs() []string {
	var args []string
	if src.video {
		args = append(args, "-vf", "setpts=N/FRAME_RATE/TB")
	}
	if src.audio {
		args = append(args, "-af", "asetpts=N/SR/TB")
	}
	return args
}

func (src source) String() string {
	names := make([]string, len(src.inputs))
	for i, in := range src.inputs {
		names[i] = in.String()
	}
	return strings.Join(names, " + ")
}

// sourceFor maps constraints to inputs. Device overrides the camera for
// video and the microphone for audio-only captures.
func (d *Devices) sourceFor(c capture.Constraints) source {
	src := source{audio: c.Audio, video: c.Video}

	if !c.Video {
		in := d.audioInput
		if c.Device != "" {
			in.Device = c.Device
		}
		src.inputs = []Input{in}
		return src
	}

	in := d.videoInput
	if c.Device != "" {
		in.Device = c.Device
	}
	if in.Format == "avfoundation" {
		in.Device = avfoundationDevice(in.Device, d.audioInput, c.Audio)
		src.inputs = []Input{in}
		return src
	}

	src.inputs = []Input{in}
	if c.Audio {
		src.inputs = append(src.inputs, d.audioInput)
	}
	return src
}

// avfoundationDevice fills the audio half of a "video:audio" device name:
// the configured microphone when audio is wanted, none otherwise.
func avfoundationDevice(device string, audioIn Input, audio bool) string {
	video, mic, _ := strings.Cut(device, ":")
	if !audio {
		return video + ":none"
	}
	if mic == "" || mic == "none" {
		mic = "0"
		if audioIn.Format == "avfoundation" {
			if _, m, ok := strings.Cut(audioIn.Device, ":"); ok && m != "" && m != "none" {
				mic = m
			}
		}
	}
	return video + ":" + mic
}

// GetUserMedia opens the requested device briefly to confirm it can be
// read. The returned stream holds the device selection; the recording
// process starts with the recorder.
func (d *Devices) GetUserMedia(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	if !c.Audio && !c.Video {
		return nil, fmt.Errorf("%w: no audio or video requested", capture.ErrDeviceNotFound)
	}
	src := d.sourceFor(c)

	probeCtx, cancel := context.WithTimeout(ctx, d.probeTimeout)
	defer cancel()

	args := append([]string{"-hide_banner", "-nostdin"}, src.args()...)
	args = append(args, "-t", probeDuration, "-f", "null", "-")

	out, err := exec.CommandContext(probeCtx, d.path, args...).CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if probeCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %s did not respond within %s", capture.ErrDeviceBusy, src, d.probeTimeout)
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// ffmpeg itself could not be started.
			return nil, fmt.Errorf("%w: %v", capture.ErrDeviceNotFound, err)
		}
		classified := classifyStderr(string(out))
		d.logger.Warn("device probe failed", "input", src.String(), "error", classified.Error())
		return nil, classified
	}

	d.logger.Info("device granted", "input", src.String())
	return &stream{src: src}, nil
}

func (d *Devices) NewRecorder(s capture.Stream, mimeType string) (capture.Recorder, error) {
	st, ok := s.(*stream)
	if !ok {
		return nil, errors.New("ffmpeg: stream was not created by this host")
	}

	outArgs, err := outputArgs(mimeType)
	if err != nil {
		return nil, err
	}

	r := &recorder{
		path:         d.path,
		src:          st.src,
		outArgs:      outArgs,
		mimeType:     mimeType,
		probeTimeout: d.probeTimeout,
		logger:       d.logger,
		ch:           make(chan capture.Fragment, fragmentBuffer),
	}
	if err := st.attach(r); err != nil {
		return nil, err
	}
	return r, nil
}

// stream is a granted device. Stopping it ends any recorder built on it.
type stream struct {
	src source

	mu      sync.Mutex
	rec     *recorder
	stopped bool
}

func (s *stream) attach(r *recorder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errors.New("ffmpeg: stream already stopped")
	}
	s.rec = r
	return nil
}

func (s *stream) StopTracks() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	rec := s.rec
	s.mu.Unlock()

	if rec != nil {
		rec.terminate()
	}
}
