// Package capture manages one microphone or camera recording at a time:
// device acquisition, pause and resume, fragment buffering, assembly of the
// final artifact, and release of the device on every exit path.
//
// A Session is safe for concurrent use. Operations whose guard does not hold
// are ignored. Failures never surface as returned errors; they move the
// session to StateFailed and are visible through Snapshot.
package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/schovi/mediarec/internal/logging"
	"github.com/schovi/mediarec/internal/spool"
)

type DisconnectPolicy string

const (
	// DisconnectSalvage completes the session with a partial artifact built
	// from the fragments received before the device went away.
	DisconnectSalvage DisconnectPolicy = "salvage"
	// DisconnectDiscard drops buffered fragments and fails the session.
	DisconnectDiscard DisconnectPolicy = "discard"
)

func ParseDisconnectPolicy(s string) (DisconnectPolicy, error) {
	switch DisconnectPolicy(s) {
	case DisconnectSalvage, DisconnectDiscard:
		return DisconnectPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown disconnect policy %q (want salvage or discard)", s)
	}
}

const (
	DefaultTimeslice = time.Second
	defaultSlot      = "default"
	subscriberBuffer = 16
)

type Option func(*Session)

func WithClock(c clock.Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

// WithStore buffers fragments in store under slot instead of a private
// in-memory store.
func WithStore(store spool.Store, slot string) Option {
	return func(s *Session) {
		s.store = store
		s.slot = slot
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

func WithTimeslice(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeslice = d
		}
	}
}

func WithDisconnectPolicy(p DisconnectPolicy) Option {
	return func(s *Session) {
		s.onDisconnect = p
	}
}

// WithInitialArtifact starts the session in StateCompleted holding a, as
// when a form step is revisited after a recording was already made.
func WithInitialArtifact(a *Artifact) Option {
	return func(s *Session) {
		s.initial = a
	}
}

// Snapshot is the observable state of a session.
type Snapshot struct {
	Kind           Kind          `json:"kind"`
	State          State         `json:"state"`
	ElapsedSeconds int           `json:"elapsed_seconds"`
	LastError      string        `json:"last_error,omitempty"`
	ErrorCategory  Category      `json:"error_category,omitempty"`
	DeviceActive   bool          `json:"device_active"`
	MIMEType       string        `json:"mime_type,omitempty"`
	Fragments      int           `json:"fragments"`
	BufferedBytes  int64         `json:"buffered_bytes"`
	Artifact       *ArtifactInfo `json:"artifact,omitempty"`
	ChangedAt      time.Time     `json:"changed_at"`
}

type Session struct {
	kind         Kind
	devices      MediaDevices
	clock        clock.Clock
	store        spool.Store
	slot         string
	logger       *logging.Logger
	timeslice    time.Duration
	onDisconnect DisconnectPolicy
	initial      *Artifact

	mu            sync.Mutex
	state         State
	changedAt     time.Time
	stream        Stream
	pending       Stream
	pendingGen    uint64
	inflight      chan struct{}
	recorder      Recorder
	mimeType      string
	artifact      *Artifact
	lastErr       *Error
	timer         *durationTimer
	gen           uint64
	cancelAcquire context.CancelFunc
	pumpDone      chan struct{}
	closed        bool
	subs          map[int]chan Snapshot
	nextSub       int
}

func New(kind Kind, devices MediaDevices, opts ...Option) (*Session, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	if devices == nil {
		return nil, fmt.Errorf("capture: nil MediaDevices")
	}

	s := &Session{
		kind:         kind,
		devices:      devices,
		clock:        clock.New(),
		logger:       logging.NopLogger(),
		timeslice:    DefaultTimeslice,
		onDisconnect: DisconnectSalvage,
		state:        StateIdle,
		subs:         make(map[int]chan Snapshot),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		s.store = spool.NewMemoryStore()
		s.slot = defaultSlot
	}
	if err := s.store.Create(s.slot); err != nil {
		return nil, fmt.Errorf("create spool slot: %w", err)
	}

	s.logger = s.logger.WithKind(string(kind))
	s.timer = newDurationTimer(s.clock, time.Second)
	s.changedAt = s.clock.Now()

	if s.initial != nil {
		s.artifact = s.initial
		s.state = StateCompleted
	}

	return s, nil
}

func (s *Session) Kind() Kind {
	return s.kind
}

func (s *Session) Slot() string {
	return s.slot
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Artifact returns the finalized capture, or nil unless the session is
// completed. The returned value must not be modified.
func (s *Session) Artifact() *Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCompleted {
		return nil
	}
	return s.artifact
}

// Subscribe returns a channel receiving a snapshot after every transition
// and once per second while recording. The current snapshot is delivered
// immediately. A slow reader only loses intermediate snapshots, never the
// latest one. The channel is closed by the returned cancel func or by Close.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Snapshot, subscriberBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.snapshotLocked()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// StartRecording requests the device and starts recording. It blocks until
// the host grants or refuses access. Guard: idle or failed.
//
// A discarded request that the host has not answered yet still counts as in
// flight; StartRecording waits for it so the session never has two device
// requests outstanding.
func (s *Session) StartRecording(ctx context.Context, c *Constraints) {
	s.mu.Lock()
	for {
		if s.closed || !s.state.CanStart() {
			s.mu.Unlock()
			return
		}
		if s.inflight == nil {
			break
		}
		prev := s.inflight
		s.mu.Unlock()
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}

	s.gen++
	gen := s.gen
	s.lastErr = nil
	s.artifact = nil
	s.timer.reset()
	s.resetBufferLocked()

	constraints := DefaultConstraints(s.kind)
	if c != nil {
		constraints = *c
	}

	actx, cancel := context.WithCancel(ctx)
	s.cancelAcquire = cancel
	inflight := make(chan struct{})
	s.inflight = inflight
	s.setStateLocked(StateAcquiring)
	s.mu.Unlock()
	defer cancel()

	stream, mimeType, rec, err := s.acquire(actx, gen, constraints)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.inflight = nil
	close(inflight)

	if s.gen != gen {
		// Discarded while waiting on the host; the discard released the
		// stream.
		return
	}
	s.cancelAcquire = nil

	if err != nil {
		s.lastErr = classify(err)
		s.logger.Warn("device acquisition failed",
			"error", err.Error(),
			"category", string(s.lastErr.Category))
		s.setStateLocked(StateFailed)
		return
	}

	s.pending = nil
	s.stream = stream
	s.recorder = rec
	s.mimeType = mimeType

	done := make(chan struct{})
	s.pumpDone = done
	go s.pump(gen, rec, done)

	s.timer.start(s.tick)
	s.logger.Info("recording started", "mime_type", mimeType, "timeslice", s.timeslice.String())
	s.setStateLocked(StateRecording)
}

// acquire requests the device and starts a recorder on it. From the grant
// on the stream is pending: ClearRecording can release it while the
// recorder is still starting.
func (s *Session) acquire(ctx context.Context, gen uint64, c Constraints) (Stream, string, Recorder, error) {
	stream, err := s.devices.GetUserMedia(ctx, c)
	if err != nil {
		return nil, "", nil, err
	}
	if !s.holdPending(gen, stream) {
		stream.StopTracks()
		s.logger.Info("released device granted after discard")
		return nil, "", nil, context.Canceled
	}

	mimeType, err := selectFormat(s.devices, s.kind)
	if err != nil {
		s.dropPending(gen)
		return nil, "", nil, err
	}

	rec, err := s.devices.NewRecorder(stream, mimeType)
	if err != nil {
		s.dropPending(gen)
		return nil, "", nil, fmt.Errorf("create recorder: %w", err)
	}

	if err := rec.Start(s.timeslice); err != nil {
		s.dropPending(gen)
		return nil, "", nil, fmt.Errorf("start recorder: %w", err)
	}
	return stream, mimeType, rec, nil
}

func (s *Session) holdPending(gen uint64, stream Stream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return false
	}
	s.pending = stream
	s.pendingGen = gen
	return true
}

// dropPending releases the pending stream of attempt gen unless a discard
// already did.
func (s *Session) dropPending(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil && s.pendingGen == gen {
		s.pending.StopTracks()
		s.pending = nil
	}
}

func selectFormat(devices MediaDevices, kind Kind) (string, error) {
	for _, f := range kind.Formats() {
		if devices.IsTypeSupported(f) {
			return f, nil
		}
	}
	return "", fmt.Errorf("%s: %w", kind, ErrUnsupportedFormat)
}

// Pause suspends the recorder and the timer, keeping the device. Guard:
// recording.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return
	}
	if err := s.recorder.Pause(); err != nil {
		s.logger.Warn("recorder pause failed", "error", err.Error())
		return
	}
	s.timer.halt()
	s.setStateLocked(StatePaused)
}

// Resume continues a paused recording. Guard: paused.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePaused {
		return
	}
	if err := s.recorder.Resume(); err != nil {
		s.logger.Warn("recorder resume failed", "error", err.Error())
		return
	}
	s.timer.start(s.tick)
	s.setStateLocked(StateRecording)
}

// StopRecording flushes the recorder, waits for the final fragment,
// assembles the artifact and releases the device. If ctx ends before the
// flush completes the device is released anyway and the artifact is marked
// partial. Guard: recording or paused.
func (s *Session) StopRecording(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateRecording && s.state != StatePaused {
		s.mu.Unlock()
		return
	}
	gen := s.gen
	rec := s.recorder
	done := s.pumpDone
	s.timer.halt()
	s.setStateLocked(StateStopping)
	s.mu.Unlock()

	partial := false
	if err := rec.Stop(); err != nil {
		s.logger.Warn("recorder stop failed, forcing device release", "error", err.Error())
		partial = true
		s.forceRelease(gen)
	}

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("flush did not complete, forcing device release", "error", ctx.Err().Error())
		partial = true
		s.forceRelease(gen)
		<-done
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return
	}
	s.finalizeLocked(partial)
}

// forceRelease stops the device so the recorder closes its fragment
// channel. Used when the recorder does not flush on its own.
func (s *Session) forceRelease(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen == gen && s.stream != nil {
		s.stream.StopTracks()
		s.stream = nil
	}
}

// ClearRecording discards everything and releases any held device. It is
// valid in every state, including while the device request is pending.
func (s *Session) ClearRecording() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.clearLocked()
}

// Close discards the session and releases the device. The session ignores
// all operations afterwards. Owners should defer Close right after New.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.clearLocked()
	s.closed = true

	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	return s.store.Delete(s.slot)
}

func (s *Session) clearLocked() {
	s.gen++
	if s.cancelAcquire != nil {
		s.cancelAcquire()
		s.cancelAcquire = nil
	}
	if s.pending != nil {
		s.pending.StopTracks()
		s.pending = nil
		s.logger.Debug("pending device stream released")
	}
	s.timer.reset()
	s.releaseLocked()
	s.resetBufferLocked()
	s.artifact = nil
	s.lastErr = nil
	s.setStateLocked(StateIdle)
}

// pump appends fragments in arrival order until the recorder closes its
// channel. A close that nobody asked for means the device went away.
func (s *Session) pump(gen uint64, rec Recorder, done chan struct{}) {
	for frag := range rec.Fragments() {
		if len(frag.Data) == 0 {
			continue
		}
		s.mu.Lock()
		if s.gen == gen {
			if err := s.store.Append(s.slot, spool.Chunk{Data: frag.Data, MIMEType: frag.MIMEType}); err != nil {
				s.logger.Error("failed to buffer fragment", "error", err.Error(), "bytes", len(frag.Data))
			}
		}
		s.mu.Unlock()
	}
	close(done)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return
	}
	if s.state == StateRecording || s.state == StatePaused {
		s.deviceLostLocked()
	}
}

func (s *Session) deviceLostLocked() {
	s.timer.halt()
	s.logger.Warn("device stream ended while recording", "policy", string(s.onDisconnect))

	if s.onDisconnect == DisconnectDiscard {
		s.releaseLocked()
		s.resetBufferLocked()
		s.lastErr = classify(errDeviceLost)
		s.setStateLocked(StateFailed)
		return
	}
	s.finalizeLocked(true)
}

func (s *Session) finalizeLocked(partial bool) {
	chunks, err := s.store.Chunks(s.slot)
	if err != nil {
		s.logger.Error("failed to read buffered fragments", "error", err.Error())
		chunks = nil
	}

	a := assemble(s.kind, chunks, s.timer.seconds(), s.clock.Now())
	a.Partial = partial

	s.releaseLocked()
	s.resetBufferLocked()
	s.artifact = a
	s.logger.Info("recording completed",
		"artifact_id", a.ID,
		"mime_type", a.MIMEType,
		"bytes", a.Size(),
		"fragments", len(chunks),
		"duration_seconds", a.Duration,
		"partial", a.Partial)
	s.setStateLocked(StateCompleted)
}

func (s *Session) releaseLocked() {
	if s.stream != nil {
		s.stream.StopTracks()
		s.stream = nil
		s.logger.Debug("device stream released")
	}
	s.recorder = nil
	s.mimeType = ""
	s.pumpDone = nil
}

func (s *Session) resetBufferLocked() {
	if err := s.store.Reset(s.slot); err != nil {
		s.logger.Error("failed to reset fragment buffer", "error", err.Error())
	}
}

func (s *Session) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer.active() {
		s.publishLocked()
	}
}

func (s *Session) setStateLocked(st State) {
	if s.state != st {
		s.logger.Debug("state transition", "from", string(s.state), "to", string(st))
	}
	s.state = st
	s.changedAt = s.clock.Now()
	s.publishLocked()
}

func (s *Session) publishLocked() {
	if len(s.subs) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// Full: drop the oldest so the newest always lands.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Kind:           s.kind,
		State:          s.state,
		ElapsedSeconds: s.timer.seconds(),
		DeviceActive:   s.stream != nil || s.pending != nil,
		MIMEType:       s.mimeType,
		ChangedAt:      s.changedAt,
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Message
		snap.ErrorCategory = s.lastErr.Category
	}
	if s.artifact != nil {
		info := s.artifact.Info()
		snap.Artifact = &info
	}
	if !s.closed {
		if n, err := s.store.Count(s.slot); err == nil {
			snap.Fragments = n
		}
		if size, err := s.store.Size(s.slot); err == nil {
			snap.BufferedBytes = size
		}
	}
	return snap
}
