package connection

// Status is the connection's liveness state.
type Status int32

const (
	Disconnected Status = iota
	Connecting
	Connected
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "Disconnected"
	}
}

// Quality is the coarse link-health classification that selects the
// sender tick rate.
type Quality int32

const (
	Good Quality = iota
	Bad
)

func (q Quality) String() string {
	if q == Bad {
		return "Bad"
	}
	return "Good"
}
