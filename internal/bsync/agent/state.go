package agent

// State is the agent's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateSyncing
	StateIdle
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateSyncing:
		return "SYNCING"
	case StateIdle:
		return "IDLE"
	case StateBackoff:
		return "BACKOFF"
	default:
		return "UNKNOWN"
	}
}
