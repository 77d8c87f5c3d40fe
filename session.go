package gsmppp

//go:generate mockgen -source=session.go -destination=mock_session_test.go -package=gsmppp

import "net"

// LinkCode classifies a status report from the PPP session.
type LinkCode int

const (
	// LinkUp reports that the session is established
	LinkUp LinkCode = iota
	// LinkParam reports an invalid parameter
	LinkParam
	// LinkOpen reports that the session could not be opened
	LinkOpen
	// LinkDevice reports an invalid I/O device
	LinkDevice
	// LinkAlloc reports a resource allocation failure
	LinkAlloc
	// LinkUser reports a user initiated disconnect
	LinkUser
	// LinkConnectLost reports that the connection was lost
	LinkConnectLost
	// LinkAuthFail reports a failed authentication challenge
	LinkAuthFail
	// LinkProtocol reports a protocol negotiation failure
	LinkProtocol
	// LinkPeerDead reports that the peer stopped answering
	LinkPeerDead
	// LinkIdleTimeout reports the idle timeout
	LinkIdleTimeout
	// LinkConnectTime reports that the maximum connect time was reached
	LinkConnectTime
	// LinkLoopback reports a looped-back link
	LinkLoopback
)

// String returns a human-readable string representation of the link code.
func (c LinkCode) String() string {
	switch c {
	case LinkUp:
		return "connected"
	case LinkParam:
		return "invalid parameter"
	case LinkOpen:
		return "unable to open session"
	case LinkDevice:
		return "invalid I/O device"
	case LinkAlloc:
		return "unable to allocate resources"
	case LinkUser:
		return "user interrupt"
	case LinkConnectLost:
		return "connection lost"
	case LinkAuthFail:
		return "authentication failed"
	case LinkProtocol:
		return "failed to meet protocol"
	case LinkPeerDead:
		return "connection timeout"
	case LinkIdleTimeout:
		return "idle timeout"
	case LinkConnectTime:
		return "max connect time reached"
	case LinkLoopback:
		return "loopback detected"
	default:
		return "unknown"
	}
}

// Down reports whether the code ends the session. Codes that neither bring
// the session up nor down are only logged.
func (c LinkCode) Down() bool {
	switch c {
	case LinkUser, LinkConnectLost, LinkAuthFail, LinkProtocol,
		LinkPeerDead, LinkIdleTimeout, LinkConnectTime:
		return true
	}
	return false
}

// LinkEvent is delivered by the session through its status callback.
// Addresses are only set for LinkUp.
type LinkEvent struct {
	Code    LinkCode
	Local   net.IP
	Remote  net.IP
	Netmask net.IP
}

// Session is a PPP session carried over the serial channel. The worker owns
// it from creation until Free; it is closed and reconnected across
// idle/reconnect cycles but only freed when the worker terminates.
type Session interface {
	SetDefaultRoute() error
	SetAuth(user, password string) error
	Connect() error
	// Input feeds bytes received from the modem into the session.
	Input(p []byte) error
	Close() error
	Free() error
}

// SessionFactory creates a session. output is called with bytes the session
// wants written to the modem; status is called on every link status change.
// Both callbacks may be invoked from any goroutine.
type SessionFactory func(output func(p []byte) (int, error), status func(ev LinkEvent)) (Session, error)
