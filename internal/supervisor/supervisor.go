package supervisor

import (
	"sync"
	"time"

	"github.com/loykin/mcvisor/internal/classify"
	"github.com/loykin/mcvisor/internal/family"
	"github.com/loykin/mcvisor/internal/metrics"
	"github.com/loykin/mcvisor/internal/output"
	"github.com/loykin/mcvisor/internal/process"
)

// ServerStatus is a point-in-time view of a server.
type ServerStatus struct {
	Name      string    `json:"name"`
	Family    string    `json:"family"`
	State     string    `json:"state"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	ExitCode  int       `json:"exit_code"`
	Result    string    `json:"result"`
	Detector  string    `json:"detector,omitempty"`
}

// Supervisor follows one build or run of a server from NotStarted to Exited.
// A new Supervisor is created for every attempt.
type Supervisor struct {
	name string
	kind family.Kind

	mu       sync.Mutex
	state    State
	proc     *process.Process
	listener *output.Listener
	result   *classify.State
	done     chan struct{}
	once     sync.Once
}

func newSupervisor(name string, kind family.Kind) *Supervisor {
	return &Supervisor{
		name:   name,
		kind:   kind,
		result: classify.NewState(),
		done:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	if from != to {
		metrics.RecordStateTransition(s.name, from.String(), to.String())
	}
}

// finish moves the supervisor to Exited. It is safe to call more than once.
func (s *Supervisor) finish() {
	s.once.Do(func() {
		s.setState(Exited)
		close(s.done)
	})
}

// Done is closed once the supervisor reached Exited.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

func (s *Supervisor) active() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Supervisor) process() *process.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// Status reports the supervisor's view of its run.
func (s *Supervisor) Status() ServerStatus {
	s.mu.Lock()
	st := ServerStatus{
		Name:   s.name,
		Family: s.kind.String(),
		State:  s.state.String(),
		Result: resultLabel(s.result.Value()),
	}
	proc := s.proc
	s.mu.Unlock()
	if proc != nil {
		ps := proc.Snapshot()
		st.Running = ps.Running
		st.PID = ps.PID
		st.StartedAt = ps.StartedAt
		st.StoppedAt = ps.StoppedAt
		st.ExitCode = ps.ExitCode
	}
	return st
}
