package classify

// Severity is the category a classified line falls into.
type Severity int

const (
	Info Severity = iota
	Warn
	Error
	Other
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "other"
	}
}

// Code is the termination-state value recorded for this severity.
func (s Severity) Code() int {
	switch s {
	case Info:
		return 0
	case Error:
		return 1
	case Warn:
		return 2
	default:
		return 3
	}
}

// Signal is a control action requested by a line.
type Signal int

const (
	None Signal = iota
	Terminate
)

func (s Signal) String() string {
	if s == Terminate {
		return "terminate"
	}
	return "none"
}

// Event is a classified line. Events are not stored.
type Event struct {
	Severity Severity
	Message  string
}

// Result is what a classifier produces for one line.
type Result struct {
	Event  Event
	Signal Signal
}
