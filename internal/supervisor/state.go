package supervisor

// State is the lifecycle position of one build or run of a server.
type State int

const (
	NotStarted State = iota
	Installing
	FirstRun
	Running
	Exited
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Installing:
		return "installing"
	case FirstRun:
		return "first_run"
	case Running:
		return "running"
	case Exited:
		return "exited"
	}
	return "unknown"
}
