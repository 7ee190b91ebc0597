package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/schovi/mediarec/internal/capture"
	"github.com/schovi/mediarec/internal/logging"
	"github.com/schovi/mediarec/internal/spool"
)

// Settings apply to slots created after they are set.
type Settings struct {
	Timeslice    time.Duration
	OnDisconnect capture.DisconnectPolicy
	StopTimeout  time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		Timeslice:    capture.DefaultTimeslice,
		OnDisconnect: capture.DisconnectSalvage,
		StopTimeout:  DefaultStopTimeout,
	}
}

// Slot is a named capture session owned by the daemon, typically one per
// form field that takes a recording.
type Slot struct {
	Name        string
	Kind        capture.Kind
	CreatedAt   time.Time
	stopTimeout time.Duration
	session     *capture.Session
}

type SlotInfo struct {
	Name           string                `json:"name"`
	Kind           string                `json:"kind"`
	State          string                `json:"state"`
	ElapsedSeconds int                   `json:"elapsed_seconds"`
	Elapsed        string                `json:"elapsed"`
	DeviceActive   bool                  `json:"device_active"`
	MIMEType       string                `json:"mime_type,omitempty"`
	Fragments      int                   `json:"fragments"`
	BufferedBytes  int64                 `json:"buffered_bytes"`
	LastError      string                `json:"last_error,omitempty"`
	ErrorCategory  string                `json:"error_category,omitempty"`
	Artifact       *capture.ArtifactInfo `json:"artifact,omitempty"`
	CreatedAt      string                `json:"created_at"`
	ChangedAt      string                `json:"changed_at"`
}

func newSlotInfo(slot *Slot) SlotInfo {
	return slotInfoFrom(slot, slot.session.Snapshot())
}

func slotInfoFrom(slot *Slot, snap capture.Snapshot) SlotInfo {
	return SlotInfo{
		Name:           slot.Name,
		Kind:           string(slot.Kind),
		State:          string(snap.State),
		ElapsedSeconds: snap.ElapsedSeconds,
		Elapsed:        capture.FormatElapsed(snap.ElapsedSeconds),
		DeviceActive:   snap.DeviceActive,
		MIMEType:       snap.MIMEType,
		Fragments:      snap.Fragments,
		BufferedBytes:  snap.BufferedBytes,
		LastError:      snap.LastError,
		ErrorCategory:  string(snap.ErrorCategory),
		Artifact:       snap.Artifact,
		CreatedAt:      slot.CreatedAt.Format(time.RFC3339),
		ChangedAt:      snap.ChangedAt.Format(time.RFC3339),
	}
}

type StopResult struct {
	Slot     SlotInfo          `json:"slot"`
	Artifact *capture.Artifact `json:"artifact"`
}

type Server struct {
	mu       sync.Mutex
	slots    map[string]*Slot
	devices  capture.MediaDevices
	store    spool.Store
	dir      string
	listener net.Listener
	logger   *logging.Logger
	clock    clock.Clock
	settings Settings
	slotTTL  time.Duration

	ctx             context.Context
	cancel          context.CancelFunc
	cleanupStopChan chan struct{}
	shutdownOnce    sync.Once
}

type ServerOption func(*Server)

func WithDevices(devices capture.MediaDevices) ServerOption {
	return func(s *Server) {
		s.devices = devices
	}
}

func WithStore(store spool.Store) ServerOption {
	return func(s *Server) {
		s.store = store
	}
}

// WithDir sets the directory holding the control socket.
func WithDir(dir string) ServerOption {
	return func(s *Server) {
		s.dir = dir
	}
}

// WithSlotTTL closes slots that have not changed state for ttl while not
// holding a device. Zero disables expiry.
func WithSlotTTL(ttl time.Duration) ServerOption {
	return func(s *Server) {
		s.slotTTL = ttl
	}
}

func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithSettings(settings Settings) ServerOption {
	return func(s *Server) {
		s.settings = settings
	}
}

func WithClock(c clock.Clock) ServerOption {
	return func(s *Server) {
		s.clock = c
	}
}

// DefaultDir is ~/.mediarec.
func DefaultDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, DirName), nil
}

func SocketPath(dir string) string {
	return filepath.Join(dir, SocketName)
}

func NewServer(opts ...ServerOption) (*Server, error) {
	s := &Server{
		slots:           make(map[string]*Slot),
		logger:          logging.NopLogger(),
		clock:           clock.New(),
		settings:        DefaultSettings(),
		slotTTL:         DefaultSlotTTL,
		cleanupStopChan: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.devices == nil {
		return nil, errors.New("no capture host configured")
	}

	if s.dir == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		s.dir = dir
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return nil, err
	}

	if s.store == nil {
		s.store = spool.NewMemoryStore()
	}
	if err := s.purgeStale(); err != nil {
		return nil, fmt.Errorf("purge stale spool: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// purgeStale drops spool files left by a previous daemon. Recordings do not
// survive a restart because the device handles died with the process.
func (s *Server) purgeStale() error {
	p, ok := s.store.(interface{ PurgeStale() (int, error) })
	if !ok {
		return nil
	}
	n, err := p.PurgeStale()
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("purged stale spool files", "slots", n)
	}
	return nil
}

func (s *Server) SocketPath() string {
	return SocketPath(s.dir)
}

// SetSettings replaces the settings used for new slots.
func (s *Server) SetSettings(settings Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

func (s *Server) Start() error {
	sockPath := s.SocketPath()
	os.Remove(sockPath)

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("daemon listening", "socket", sockPath)

	if s.slotTTL > 0 {
		go s.runCleanup()
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.listener == nil
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) runCleanup() {
	ticker := s.clock.Ticker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.cleanupStopChan:
			return
		case <-ticker.C:
			s.cleanupExpiredSlots()
		}
	}
}

func (s *Server) cleanupExpiredSlots() {
	now := s.clock.Now()

	s.mu.Lock()
	var expired []*Slot
	for name, slot := range s.slots {
		snap := slot.session.Snapshot()
		if snap.State.HoldsStream() {
			continue
		}
		if now.Sub(snap.ChangedAt) > s.slotTTL {
			expired = append(expired, slot)
			delete(s.slots, name)
		}
	}
	s.mu.Unlock()

	for _, slot := range expired {
		if err := slot.session.Close(); err != nil {
			s.logger.Warn("failed to close expired slot", "slot", slot.Name, "error", err.Error())
		}
		s.logger.Info("expired slot", "slot", slot.Name)
	}
}

// Shutdown closes every slot, releasing any device still held, and stops
// the listener.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.cleanupStopChan)
		if s.cancel != nil {
			s.cancel()
		}

		s.mu.Lock()
		slots := s.slots
		s.slots = make(map[string]*Slot)
		listener := s.listener
		s.listener = nil
		s.mu.Unlock()

		for _, slot := range slots {
			if err := slot.session.Close(); err != nil {
				s.logger.Warn("failed to close slot", "slot", slot.Name, "error", err.Error())
			}
		}

		if listener != nil {
			listener.Close()
		}
		os.Remove(s.SocketPath())
		s.logger.Info("daemon stopped", "slots_closed", len(slots))
	})
}

func (s *Server) lookup(name string) (*Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSlotNotFound, name)
	}
	return slot, nil
}

// result reports the slot and turns a failed state into ErrCaptureFailed.
func result(slot *Slot) (SlotInfo, error) {
	info := newSlotInfo(slot)
	if info.State == string(capture.StateFailed) {
		return info, fmt.Errorf("%w: %s", ErrCaptureFailed, info.LastError)
	}
	return info, nil
}

func (s *Server) CreateSlot(name string, kind capture.Kind) (SlotInfo, error) {
	if err := ValidateSlotName(name); err != nil {
		return SlotInfo{}, err
	}
	if _, err := capture.ParseKind(string(kind)); err != nil {
		return SlotInfo{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.slots[name]; exists {
		return SlotInfo{}, fmt.Errorf("%w: %q", ErrSlotExists, name)
	}

	settings := s.settings
	session, err := capture.New(kind, s.devices,
		capture.WithStore(s.store, name),
		capture.WithLogger(s.logger.WithSlot(name)),
		capture.WithClock(s.clock),
		capture.WithTimeslice(settings.Timeslice),
		capture.WithDisconnectPolicy(settings.OnDisconnect),
	)
	if err != nil {
		return SlotInfo{}, fmt.Errorf("create session: %w", err)
	}

	slot := &Slot{
		Name:        name,
		Kind:        kind,
		CreatedAt:   s.clock.Now(),
		stopTimeout: settings.StopTimeout,
		session:     session,
	}
	s.slots[name] = slot

	s.logger.Info("slot created", "slot", name, "kind", string(kind))
	return newSlotInfo(slot), nil
}

// StartSlot blocks until the host grants or refuses the device.
func (s *Server) StartSlot(ctx context.Context, name, device string) (SlotInfo, error) {
	slot, err := s.lookup(name)
	if err != nil {
		return SlotInfo{}, err
	}

	if st := slot.session.State(); !st.CanStart() {
		return newSlotInfo(slot), fmt.Errorf("%w: slot %q is %s", ErrInvalidState, name, st)
	}

	c := capture.DefaultConstraints(slot.Kind)
	c.Device = device
	slot.session.StartRecording(ctx, &c)

	return result(slot)
}

func (s *Server) PauseSlot(name string) (SlotInfo, error) {
	return s.transition(name, capture.StateRecording, capture.StatePaused, (*capture.Session).Pause)
}

func (s *Server) ResumeSlot(name string) (SlotInfo, error) {
	return s.transition(name, capture.StatePaused, capture.StateRecording, (*capture.Session).Resume)
}

func (s *Server) transition(name string, from, to capture.State, op func(*capture.Session)) (SlotInfo, error) {
	slot, err := s.lookup(name)
	if err != nil {
		return SlotInfo{}, err
	}

	if st := slot.session.State(); st != from {
		return newSlotInfo(slot), fmt.Errorf("%w: slot %q is %s, not %s", ErrInvalidState, name, st, from)
	}
	op(slot.session)

	info, err := result(slot)
	if err != nil {
		return info, err
	}
	if info.State != string(to) {
		return info, fmt.Errorf("%w: slot %q stayed %s", ErrInvalidState, name, info.State)
	}
	return info, nil
}

// StopSlot finalizes the recording. A zero timeout uses the slot's
// configured stop timeout.
func (s *Server) StopSlot(ctx context.Context, name string, timeout time.Duration) (SlotInfo, *capture.Artifact, error) {
	slot, err := s.lookup(name)
	if err != nil {
		return SlotInfo{}, nil, err
	}

	if st := slot.session.State(); st != capture.StateRecording && st != capture.StatePaused {
		return newSlotInfo(slot), nil, fmt.Errorf("%w: slot %q is %s", ErrInvalidState, name, st)
	}

	if timeout <= 0 {
		timeout = slot.stopTimeout
	}
	timeout = min(timeout, MaxStopTimeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	slot.session.StopRecording(ctx)

	info, err := result(slot)
	if err != nil {
		return info, nil, err
	}
	a := slot.session.Artifact()
	if a == nil {
		return info, nil, fmt.Errorf("%w: slot %q was cleared while stopping", ErrInvalidState, name)
	}
	return info, a, nil
}

func (s *Server) ClearSlot(name string) (SlotInfo, error) {
	slot, err := s.lookup(name)
	if err != nil {
		return SlotInfo{}, err
	}
	slot.session.ClearRecording()
	return newSlotInfo(slot), nil
}

func (s *Server) Info(name string) (SlotInfo, error) {
	slot, err := s.lookup(name)
	if err != nil {
		return SlotInfo{}, err
	}
	return newSlotInfo(slot), nil
}

func (s *Server) List() []SlotInfo {
	s.mu.Lock()
	slots := make([]*Slot, 0, len(s.slots))
	for _, slot := range s.slots {
		slots = append(slots, slot)
	}
	s.mu.Unlock()

	sort.Slice(slots, func(i, j int) bool {
		return slots[i].Name < slots[j].Name
	})

	result := make([]SlotInfo, 0, len(slots))
	for _, slot := range slots {
		result = append(result, newSlotInfo(slot))
	}
	return result
}

func (s *Server) Artifact(name string) (*capture.Artifact, error) {
	slot, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	a := slot.session.Artifact()
	if a == nil {
		return nil, fmt.Errorf("%w: slot %q has no recording (state %s)", ErrInvalidState, name, slot.session.State())
	}
	return a, nil
}

// Kill discards the slot and releases its device.
func (s *Server) Kill(name string) error {
	s.mu.Lock()
	slot, ok := s.slots[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrSlotNotFound, name)
	}
	delete(s.slots, name)
	s.mu.Unlock()

	if err := slot.session.Close(); err != nil {
		return fmt.Errorf("close slot: %w", err)
	}
	s.logger.Info("slot killed", "slot", name)
	return nil
}

// Subscribe streams the slot's snapshots as SlotInfo until cancel is called
// or the slot goes away.
func (s *Server) Subscribe(name string) (<-chan SlotInfo, func(), error) {
	slot, err := s.lookup(name)
	if err != nil {
		return nil, nil, err
	}

	snaps, cancelSnaps := slot.session.Subscribe()
	out := make(chan SlotInfo, 1)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		defer close(out)
		for snap := range snaps {
			select {
			case out <- slotInfoFrom(slot, snap):
			case <-done:
				return
			}
		}
	}()

	return out, func() {
		once.Do(func() {
			close(done)
			cancelSnaps()
		})
	}, nil
}

type Request struct {
	Action         string `json:"action"`
	Name           string `json:"name,omitempty"`
	Kind           string `json:"kind,omitempty"`
	Device         string `json:"device,omitempty"`
	StopTimeoutSec int    `json:"stop_timeout_sec,omitempty"`
}

type Response struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func respond(info SlotInfo, err error) Response {
	resp := Response{Success: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	if info.Name != "" {
		resp.Data = info
	}
	return resp
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.sendResponse(conn, Response{Success: false, Error: err.Error()})
		return
	}

	var resp Response
	switch req.Action {
	case "create":
		resp = respond(s.CreateSlot(req.Name, capture.Kind(req.Kind)))
	case "start":
		resp = respond(s.StartSlot(s.ctx, req.Name, req.Device))
	case "pause":
		resp = respond(s.PauseSlot(req.Name))
	case "resume":
		resp = respond(s.ResumeSlot(req.Name))
	case "stop":
		resp = s.handleStop(req)
	case "clear":
		resp = respond(s.ClearSlot(req.Name))
	case "info":
		resp = respond(s.Info(req.Name))
	case "list":
		resp = Response{Success: true, Data: s.List()}
	case "artifact":
		a, err := s.Artifact(req.Name)
		if err != nil {
			resp = Response{Success: false, Error: err.Error()}
		} else {
			resp = Response{Success: true, Data: a}
		}
	case "kill":
		if err := s.Kill(req.Name); err != nil {
			resp = Response{Success: false, Error: err.Error()}
		} else {
			resp = Response{Success: true}
		}
	case "ping":
		resp = Response{Success: true, Data: "pong"}
	default:
		resp = Response{Success: false, Error: "unknown action"}
	}

	if !resp.Success {
		s.logger.Debug("request failed", "action", req.Action, "slot", req.Name, "error", resp.Error)
	}
	s.sendResponse(conn, resp)
}

func (s *Server) handleStop(req Request) Response {
	timeout := time.Duration(req.StopTimeoutSec) * time.Second
	info, a, err := s.StopSlot(s.ctx, req.Name, timeout)
	if err != nil {
		return respond(info, err)
	}
	return Response{Success: true, Data: StopResult{Slot: info, Artifact: a}}
}

func (s *Server) sendResponse(conn net.Conn, resp Response) {
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Debug("failed to write response", "error", err.Error())
	}
}
