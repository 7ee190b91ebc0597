// Package capturetest provides scriptable in-memory capture hosts for tests.
package capturetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/schovi/mediarec/internal/capture"
)

const fragmentBuffer = 64

// Devices is a fake capture host. Configure it before handing it to a
// session; use the setters afterwards.
type Devices struct {
	mu sync.Mutex

	denyWith     error
	supported    map[string]bool
	gate         chan struct{}
	ignoreCancel bool
	recorderErr  error
	hangOnStop   bool
	startGate    chan struct{}

	requests  int
	streams   []*Stream
	recorders []*Recorder
}

type Option func(*Devices)

// DenyWith makes every device request fail with err.
func DenyWith(err error) Option {
	return func(d *Devices) { d.denyWith = err }
}

// Supports limits IsTypeSupported to the listed types. Without it every
// type is supported.
func Supports(types ...string) Option {
	return func(d *Devices) {
		d.supported = make(map[string]bool, len(types))
		for _, t := range types {
			d.supported[t] = true
		}
	}
}

// Gate holds device requests until gate is closed or the request context
// ends.
func Gate(gate chan struct{}) Option {
	return func(d *Devices) { d.gate = gate }
}

// IgnoreCancel makes gated requests wait for the gate even after their
// context is canceled, like a permission prompt that cannot be withdrawn.
func IgnoreCancel() Option {
	return func(d *Devices) { d.ignoreCancel = true }
}

// StartGate holds Recorder.Start until gate is closed. Stopping the stream
// makes a held Start fail.
func StartGate(gate chan struct{}) Option {
	return func(d *Devices) { d.startGate = gate }
}

func RecorderError(err error) Option {
	return func(d *Devices) { d.recorderErr = err }
}

// HangOnStop makes recorders ignore Stop. Their channel only closes when
// the stream is stopped.
func HangOnStop() Option {
	return func(d *Devices) { d.hangOnStop = true }
}

func NewDevices(opts ...Option) *Devices {
	d := &Devices{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Devices) SetDenyWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.denyWith = err
}

func (d *Devices) GetUserMedia(ctx context.Context, _ capture.Constraints) (capture.Stream, error) {
	d.mu.Lock()
	d.requests++
	gate := d.gate
	ignoreCancel := d.ignoreCancel
	d.mu.Unlock()

	if gate != nil {
		if ignoreCancel {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.denyWith != nil {
		return nil, d.denyWith
	}
	st := &Stream{}
	d.streams = append(d.streams, st)
	return st, nil
}

func (d *Devices) IsTypeSupported(mimeType string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.supported == nil {
		return true
	}
	return d.supported[mimeType]
}

func (d *Devices) NewRecorder(stream capture.Stream, mimeType string) (capture.Recorder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.recorderErr != nil {
		return nil, d.recorderErr
	}
	st, ok := stream.(*Stream)
	if !ok {
		return nil, errors.New("capturetest: foreign stream")
	}

	r := &Recorder{
		mimeType:   mimeType,
		ch:         make(chan capture.Fragment, fragmentBuffer),
		state:      "inactive",
		hangOnStop: d.hangOnStop,
		startGate:  d.startGate,
		ended:      make(chan struct{}),
	}
	st.attach(r)
	d.recorders = append(d.recorders, r)
	return r, nil
}

func (d *Devices) Requests() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests
}

func (d *Devices) Streams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Stream(nil), d.streams...)
}

// LastRecorder returns the most recently created recorder, or nil.
func (d *Devices) LastRecorder() *Recorder {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.recorders) == 0 {
		return nil
	}
	return d.recorders[len(d.recorders)-1]
}

// LastStream returns the most recently granted stream, or nil.
func (d *Devices) LastStream() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

type Stream struct {
	mu               sync.Mutex
	stops            int
	rec              *Recorder
	closedBeforeStop bool
}

func (s *Stream) attach(r *Recorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = r
}

func (s *Stream) StopTracks() {
	s.mu.Lock()
	s.stops++
	first := s.stops == 1
	rec := s.rec
	s.mu.Unlock()

	if rec == nil {
		return
	}
	if first {
		closed := rec.Closed()
		s.mu.Lock()
		s.closedBeforeStop = closed
		s.mu.Unlock()
	}
	rec.end()
}

func (s *Stream) StopCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

func (s *Stream) Stopped() bool {
	return s.StopCalls() > 0
}

// FlushedBeforeStop reports whether the recorder had already delivered its
// final fragment when the tracks were first stopped.
func (s *Stream) FlushedBeforeStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedBeforeStop
}

type Recorder struct {
	mu         sync.Mutex
	mimeType   string
	ch         chan capture.Fragment
	state      string
	closed     bool
	final      []byte
	hangOnStop bool
	timeslice  time.Duration
	startGate  chan struct{}
	ended      chan struct{}
	endOnce    sync.Once
}

func (r *Recorder) Start(timeslice time.Duration) error {
	if r.startGate != nil {
		select {
		case <-r.startGate:
		case <-r.ended:
			return errors.New("capturetest: stream stopped while starting")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.timeslice = timeslice
	r.state = "recording"
	return nil
}

func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != "recording" {
		return errors.New("capturetest: pause while " + r.state)
	}
	r.state = "paused"
	return nil
}

func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != "paused" {
		return errors.New("capturetest: resume while " + r.state)
	}
	r.state = "recording"
	return nil
}

func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = "inactive"
	if r.hangOnStop || r.closed {
		return nil
	}
	if len(r.final) > 0 {
		r.ch <- capture.Fragment{Data: r.final, MIMEType: r.mimeType}
	}
	r.closed = true
	close(r.ch)
	return nil
}

func (r *Recorder) Fragments() <-chan capture.Fragment {
	return r.ch
}

// Emit delivers one timeslice fragment. It is a no-op once the recorder
// has closed.
func (r *Recorder) Emit(data string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.ch <- capture.Fragment{Data: []byte(data), MIMEType: r.mimeType}
}

// SetFinal sets the fragment flushed by Stop.
func (r *Recorder) SetFinal(data string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.final = []byte(data)
}

// Disconnect simulates the device going away mid-recording.
func (r *Recorder) Disconnect() {
	r.end()
}

func (r *Recorder) end() {
	r.endOnce.Do(func() { close(r.ended) })

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.state = "inactive"
	r.closed = true
	close(r.ch)
}

func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Recorder) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recorder) Timeslice() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeslice
}

func (r *Recorder) MIMEType() string {
	return r.mimeType
}
