package wsmux

// State is the lifecycle position of a Channel.
//
//	Connecting -> Open -> Closed
//	any state  -> ClosedError   (transport failure)
//	ClosedError -> Connecting   (only with a reconnect policy)
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
	StateClosedError
)

var allStates = []string{"connecting", "open", "closed", "closed_error"}

func (s State) String() string {
	if s < 0 || int(s) >= len(allStates) {
		return "unknown"
	}
	return allStates[s]
}

// MarshalText lets states appear by name in JSON responses.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
