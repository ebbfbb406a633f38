package restart

// State is the orchestrator's lifecycle position. It only moves forward:
// Idle, then Restarting once a trigger wins, then Terminated when the
// sequence and the watchdog have both finished.
type State int32

const (
	Idle State = iota
	Restarting
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Restarting:
		return "restarting"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}
