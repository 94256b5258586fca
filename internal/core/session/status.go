package session

// Status is the state of the current connection attempt.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusSuccess
	StatusFailedNoServers
	StatusFailedDial
	StatusFailedAuth
	StatusFailedTimeout
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusConnecting:
		return "Connecting"
	case StatusSuccess:
		return "Success"
	case StatusFailedNoServers:
		return "FailedNoServers"
	case StatusFailedDial:
		return "FailedDial"
	case StatusFailedAuth:
		return "FailedAuth"
	case StatusFailedTimeout:
		return "FailedTimeout"
	case StatusDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// IsFailure reports whether s ends a connection attempt unsuccessfully.
func (s Status) IsFailure() bool {
	return s >= StatusFailedNoServers && s <= StatusFailedTimeout
}

// Settled reports whether no attempt is in flight and no connection is up,
// so a new attempt may begin.
func (s Status) Settled() bool {
	return s == StatusIdle || s == StatusDisconnected || s.IsFailure()
}
