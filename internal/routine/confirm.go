package routine

import "sync"

// ConfirmSignal is the manual calibration confirmation channel: a front end
// latches the operator-confirmed level and the calibration routine polls for
// it. There is no timeout on the wait; manual calibration has no deadline.
type ConfirmSignal struct {
	mu  sync.Mutex
	set bool
	mm  int
}

// NewConfirmSignal creates an unset signal.
func NewConfirmSignal() *ConfirmSignal {
	return &ConfirmSignal{}
}

// Confirm latches the operator-confirmed level. Any front end may call it;
// a second call before the routine consumes the first overwrites the value.
func (s *ConfirmSignal) Confirm(mm int) {
	s.mu.Lock()
	s.set = true
	s.mm = mm
	s.mu.Unlock()
}

// take consumes the latched value, clearing the signal.
func (s *ConfirmSignal) take() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return 0, false
	}
	s.set = false
	return s.mm, true
}
