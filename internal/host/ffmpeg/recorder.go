package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/schovi/mediarec/internal/ansi"
	"github.com/schovi/mediarec/internal/capture"
	"github.com/schovi/mediarec/internal/logging"
	"github.com/schovi/mediarec/internal/wait"
)

const (
	fragmentBuffer = 64
	maxDiagnostics = 64 * 1024
)

// ffmpeg prints this once its input is open and it reads keys from a tty.
var bannerPattern = regexp.MustCompile(`Press \[q\] to stop`)

var errExited = errors.New("ffmpeg exited")

type recorder struct {
	path         string
	src          source
	outArgs      []string
	mimeType     string
	probeTimeout time.Duration
	logger       *logging.Logger
	ch           chan capture.Fragment

	mu          sync.Mutex
	cmd         *exec.Cmd
	ptmx        *os.File
	exited      chan struct{}
	cancelStart context.CancelFunc
	started     bool
	terminated  bool
	closeOnce   sync.Once
}

func (r *recorder) args() []string {
	args := []string{"-hide_banner", "-loglevel", "info"}
	args = append(args, r.src.args()...)
	args = append(args, r.src.streamArgs()...)
	args = append(args, r.src.timestampArgs()...)
	args = append(args, r.outArgs...)
	return append(args, "-f", "webm", "pipe:1")
}

// Start spawns ffmpeg and returns once it reports that recording began.
func (r *recorder) Start(timeslice time.Duration) error {
	r.mu.Lock()
	if r.terminated {
		r.mu.Unlock()
		return errors.New("ffmpeg: stream stopped")
	}
	if r.started {
		r.mu.Unlock()
		return errors.New("ffmpeg: recorder already started")
	}

	ptmx, tty, err := pty.Open()
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("open pty: %w", err)
	}

	cmd := exec.Command(r.path, r.args()...)
	cmd.Stdin = tty
	cmd.Stderr = tty
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		ptmx.Close()
		tty.Close()
		r.mu.Unlock()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		ptmx.Close()
		tty.Close()
		r.mu.Unlock()
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	tty.Close()

	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	diag := &diagnostics{}

	r.cmd = cmd
	r.ptmx = ptmx
	r.exited = exited
	r.cancelStart = cancel
	r.started = true
	r.mu.Unlock()
	defer cancel()

	r.logger.Debug("ffmpeg started", "pid", cmd.Process.Pid, "args", strings.Join(r.args(), " "))

	go diag.capture(ptmx)
	go r.emit(stdout, timeslice, diag)

	readFn := func() (string, error) {
		select {
		case <-exited:
			return diag.String(), errExited
		default:
			return diag.String(), nil
		}
	}

	out, err := wait.ForPattern(ctx, readFn, wait.Config{Pattern: bannerPattern, Timeout: r.probeTimeout})
	if err == nil {
		return nil
	}

	// terminate cancels ctx, so read it first.
	stopped := ctx.Err() != nil
	r.terminate()
	switch {
	case stopped:
		return fmt.Errorf("ffmpeg: stream stopped while starting: %w", context.Canceled)
	case errors.Is(err, errExited):
		return classifyStderr(out)
	default:
		return fmt.Errorf("%w: %v", capture.ErrDeviceBusy, err)
	}
}

// emit batches stdout into one fragment per timeslice. At EOF the rest is
// delivered as the final fragment and the channel closes.
func (r *recorder) emit(stdout io.Reader, timeslice time.Duration, diag *diagnostics) {
	chunks := make(chan []byte)
	go func() {
		defer close(chunks)
		buf := make([]byte, ReadBufferSize)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				chunks <- append([]byte(nil), buf[:n]...)
			}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()

	var pending []byte
	flush := func() {
		if len(pending) == 0 {
			return
		}
		r.ch <- capture.Fragment{Data: pending, MIMEType: r.mimeType}
		pending = nil
	}

	for {
		select {
		case b, ok := <-chunks:
			if !ok {
				flush()
				r.finish(diag)
				return
			}
			pending = append(pending, b...)
		case <-ticker.C:
			flush()
		}
	}
}

func (r *recorder) finish(diag *diagnostics) {
	r.mu.Lock()
	cmd := r.cmd
	ptmx := r.ptmx
	exited := r.exited
	r.mu.Unlock()

	err := cmd.Wait()
	ptmx.Close()
	close(exited)

	if err != nil {
		lines := ansi.Lines(diag.String())
		last := ""
		if len(lines) > 0 {
			last = lines[len(lines)-1]
		}
		r.logger.Info("ffmpeg exited", "error", err.Error(), "last_output", last)
	} else {
		r.logger.Debug("ffmpeg exited")
	}
	r.closeOnce.Do(func() { close(r.ch) })
}

func (r *recorder) signal(sig syscall.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || r.terminated {
		return errors.New("ffmpeg: recorder not running")
	}
	return r.cmd.Process.Signal(sig)
}

func (r *recorder) Pause() error {
	return r.signal(syscall.SIGSTOP)
}

func (r *recorder) Resume() error {
	return r.signal(syscall.SIGCONT)
}

// Stop asks ffmpeg to quit through its interactive key so it writes the
// container trailer before exiting.
func (r *recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || r.terminated {
		return errors.New("ffmpeg: recorder not running")
	}
	r.cmd.Process.Signal(syscall.SIGCONT)
	if _, err := r.ptmx.WriteString("q"); err != nil {
		return r.cmd.Process.Signal(syscall.SIGINT)
	}
	return nil
}

func (r *recorder) Fragments() <-chan capture.Fragment {
	return r.ch
}

// terminate releases the device without waiting for a clean trailer.
func (r *recorder) terminate() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.terminated {
		return
	}
	r.terminated = true

	if !r.started {
		r.closeOnce.Do(func() { close(r.ch) })
		return
	}

	if r.cancelStart != nil {
		r.cancelStart()
	}
	r.ptmx.Close()

	proc := r.cmd.Process
	exited := r.exited
	proc.Signal(syscall.SIGCONT)
	proc.Signal(syscall.SIGTERM)
	go func() {
		select {
		case <-exited:
		case <-time.After(KillGracePeriod):
			proc.Signal(syscall.SIGKILL)
		}
	}()
}

// diagnostics keeps the tail of ffmpeg's terminal output.
type diagnostics struct {
	mu  sync.Mutex
	buf []byte
}

func (d *diagnostics) capture(r io.Reader) {
	buf := make([]byte, ReadBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			d.mu.Lock()
			d.buf = append(d.buf, buf[:n]...)
			if over := len(d.buf) - maxDiagnostics; over > 0 {
				d.buf = d.buf[over:]
			}
			d.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (d *diagnostics) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return string(d.buf)
}
