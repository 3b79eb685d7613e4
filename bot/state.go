package bot

// State is a connection state machine state.
type State int

const (
	Idle State = iota
	Connecting
	LoggingIn
	Active
	Reconnecting
	Closing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case LoggingIn:
		return "logging_in"
	case Active:
		return "active"
	case Reconnecting:
		return "reconnecting"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// Running reports whether the machine is between a Start and the return to Idle.
func (s State) Running() bool { return s != Idle }
