package gsmppp

import "errors"

var (
	// ErrConfigRequired is returned when a required configuration parameter is missing
	ErrConfigRequired = errors.New("config required")
	// ErrNotRunning is returned when an operation needs the worker and it is not running
	ErrNotRunning = errors.New("worker not running")
	// ErrWorkerStopped is returned when the worker exits while a caller waits on it
	ErrWorkerStopped = errors.New("worker stopped")
	// ErrNotIdle is returned when a command-mode operation is attempted outside the Idle state
	ErrNotIdle = errors.New("modem not idle")
	// ErrBusy is returned when the shared state could not be acquired in time
	ErrBusy = errors.New("modem busy")
	// ErrSessionCreate is returned when the tunnel session could not be created
	ErrSessionCreate = errors.New("tunnel session creation failed")
	// ErrInitFailed is returned when the initialization script failed too many times
	ErrInitFailed = errors.New("modem initialization failed")
	// ErrTimeout is returned when the modem did not answer within the command timeout
	ErrTimeout = errors.New("AT command timeout")
	// ErrNoResponse is returned when the modem answered but not as expected
	ErrNoResponse = errors.New("unexpected AT response")
	// ErrNoPrompt is returned when the modem did not offer the SMS input prompt
	ErrNoPrompt = errors.New("no SMS prompt")
	// ErrSendFailed is returned when the modem rejected an SMS
	ErrSendFailed = errors.New("SMS send failed")
	// ErrBufferOverflow is returned when a buffered response exceeds the configured limit
	ErrBufferOverflow = errors.New("response buffer overflow")
)

// ErrInvalidStateTransition is returned when the connection state machine refuses a transition
var ErrInvalidStateTransition = errors.New("invalid state transition")

// errStopped ends the initialization script when a terminate request is seen
var errStopped = errors.New("stop requested")
