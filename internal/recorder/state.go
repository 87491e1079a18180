package recorder

// State is the recorder lifecycle state.
type State int

const (
	StateInactive State = iota
	StateStarting
	StateRecording
	StatePaused
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "INACTIVE"
	case StateStarting:
		return "STARTING"
	case StateRecording:
		return "RECORDING"
	case StatePaused:
		return "PAUSED"
	case StateStopping:
		return "STOPPING"
	case StateError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
