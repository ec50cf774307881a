package classify

import "sync/atomic"

// Unset is the termination state before any line was recorded.
const Unset = -1

// State tracks the outcome of one run. Once an error is recorded it stays.
type State struct {
	v atomic.Int32
}

// NewState returns a State holding Unset.
func NewState() *State {
	s := &State{}
	s.v.Store(Unset)
	return s
}

// Record folds a severity into the state and returns the new value.
func (s *State) Record(sev Severity) int {
	next := int32(sev.Code())
	for {
		cur := s.v.Load()
		if cur == int32(Error.Code()) {
			return int(cur)
		}
		if s.v.CompareAndSwap(cur, next) {
			return int(next)
		}
	}
}

// Value returns the current state.
func (s *State) Value() int { return int(s.v.Load()) }

// Reset sets the state, usually to Unset at the start of a run.
func (s *State) Reset(v int) { s.v.Store(int32(v)) }

// Failed reports whether the run should be treated as failed: an error was
// seen, or nothing was classified at all.
func (s *State) Failed() bool {
	v := s.Value()
	return v == Error.Code() || v == Unset
}
