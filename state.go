package relay

// State is the externally observed state of the active connection
type State int

const (
	// StateUninitialized means no connection has been created, or the target was cleared.
	StateUninitialized State = iota
	StateConnecting
	StateOpen
	// StateClosed is terminal for a connection. A closed connection is never reused.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
