package boarding

import "shuttle-service/internal/types"

// ScanSession tracks the single in-flight QR scan attempt. It is the
// mutual-exclusion primitive guarding the external scanning device: locked
// is true iff a target passenger is set. At most one session exists per
// vehicle; the controller owns it and serializes all access.
type ScanSession struct {
	activeID types.PassengerID
	locked   bool
	gen      uint64 // increments on every begin, lets timers detect staleness
}

// Locked reports whether a scan is currently in flight.
func (s *ScanSession) Locked() bool {
	return s.locked
}

// Active returns the passenger targeted by the in-flight scan, if any.
func (s *ScanSession) Active() (types.PassengerID, bool) {
	return s.activeID, s.locked
}

// begin locks the session onto a passenger and returns the session
// generation for staleness checks.
func (s *ScanSession) begin(id types.PassengerID) uint64 {
	s.activeID = id
	s.locked = true
	s.gen++
	return s.gen
}

// release unlocks the session. Safe to call when already unlocked.
func (s *ScanSession) release() {
	s.activeID = 0
	s.locked = false
}
