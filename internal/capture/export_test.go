package capture

// TimerActive reports whether the duration ticker is running.
func (s *Session) TimerActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer.active()
}
