package session

// ConnectionState is the lifecycle state of a Session.
//
//	Idle -> Connecting -> Open -> Closed | Failed
//
// Closed and Failed are terminal for the current conversation; Open may be
// called again from either of them.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateOpen
	StateClosed
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s ConnectionState) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

func (s ConnectionState) canOpen() bool {
	return s == StateIdle || s.Terminal()
}
