package gsmppp

import "github.com/looplab/fsm"

// Status represents the connection state of the modem.
// The worker owns the state; callers observe it through Modem.Status.
type Status int

const (
	// StatusFirstInit is the state before the first successful initialization,
	// and after the worker exits.
	StatusFirstInit Status = iota
	// StatusIdle means the modem is initialized and in command mode
	StatusIdle
	// StatusConnecting means the modem is in data mode and the PPP session is negotiating
	StatusConnecting
	// StatusConnected means the PPP session is up
	StatusConnected
	// StatusDisconnected is transient: the PPP session went down and the worker
	// is about to return to Idle
	StatusDisconnected
	// StatusUnknown is reported when the state could not be read in time
	StatusUnknown
)

// String returns a human-readable string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusFirstInit:
		return "FirstInit"
	case StatusIdle:
		return "Idle"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// event names the fsm event that leads into s.
func (s Status) event() string {
	switch s {
	case StatusFirstInit:
		return "reset"
	case StatusIdle:
		return "ready"
	case StatusConnecting:
		return "dial"
	case StatusConnected:
		return "up"
	case StatusDisconnected:
		return "down"
	default:
		return ""
	}
}

// StatusTransitionType is called on every state change with the guard held.
// It must not call back into the Modem.
type StatusTransitionType func(m *Modem, prevStatus Status, newStatus Status)

func newStatusFSM(enter fsm.Callback) *fsm.FSM {
	all := []string{
		StatusFirstInit.String(),
		StatusIdle.String(),
		StatusConnecting.String(),
		StatusConnected.String(),
		StatusDisconnected.String(),
	}
	return fsm.NewFSM(
		StatusFirstInit.String(),
		fsm.Events{
			{Name: StatusFirstInit.event(), Src: all, Dst: StatusFirstInit.String()},
			{Name: StatusIdle.event(), Src: all, Dst: StatusIdle.String()},
			{Name: StatusConnecting.event(), Src: []string{StatusFirstInit.String(), StatusIdle.String()}, Dst: StatusConnecting.String()},
			{Name: StatusConnected.event(), Src: []string{StatusConnecting.String()}, Dst: StatusConnected.String()},
			{Name: StatusDisconnected.event(), Src: []string{StatusConnecting.String(), StatusConnected.String()}, Dst: StatusDisconnected.String()},
		},
		fsm.Callbacks{
			"enter_state": enter,
		},
	)
}
