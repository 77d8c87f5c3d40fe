package gsmppp

import (
	"time"

	"github.com/rs/zerolog"
)

// Timing holds the protocol delays and timeouts used by the worker and the
// AT engine. Zero fields take their defaults.
type Timing struct {
	// PreCommand is the settle delay before each AT command (default 100ms)
	PreCommand time.Duration
	// Quiet is the read window used to detect the end of a response (default 10ms)
	Quiet time.Duration
	// Burst is the read window while accumulating a buffered response (default 100ms)
	Burst time.Duration
	// PayloadDelay is the pause between a prompt and the payload (default 10ms)
	PayloadDelay time.Duration
	// MaxResponse bounds the size of a buffered response (default 64KiB)
	MaxResponse int
	// InitPass is the delay at the start of each initialization pass (default 500ms)
	InitPass time.Duration
	// InitRetry is the cooldown before restarting a failed script (default 3s)
	InitRetry time.Duration
	// Reconnect is the cooldown after the link dropped (default 5s)
	Reconnect time.Duration
	// Poll is the idle loop period and the SMS timer tick (default 100ms)
	Poll time.Duration
	// DataRead is the serial read timeout in data mode (default 30ms)
	DataRead time.Duration
	// EscapeGuard is the silence kept before and after "+++" (default 1s)
	EscapeGuard time.Duration
	// EscapeSettle is the wait after "+++" before the first ATH (default 1.1s)
	EscapeSettle time.Duration
	// Hangup bounds one ATH attempt (default 3s)
	Hangup time.Duration
	// HangupRetry is the pause between ATH attempts (default 100ms)
	HangupRetry time.Duration
	// LinkSettle is the wait between the session going down and the hangup (default 1s)
	LinkSettle time.Duration
	// LinkDown bounds the wait for a closed session to report the link down (default 30s)
	LinkDown time.Duration
	// WaitPoll is the fallback poll period of foreground waits (default 10ms)
	WaitPoll time.Duration
}

func (t *Timing) setDefaults() {
	def := func(d *time.Duration, v time.Duration) {
		if *d == 0 {
			*d = v
		}
	}
	def(&t.PreCommand, 100*time.Millisecond)
	def(&t.Quiet, 10*time.Millisecond)
	def(&t.Burst, 100*time.Millisecond)
	def(&t.PayloadDelay, 10*time.Millisecond)
	def(&t.InitPass, 500*time.Millisecond)
	def(&t.InitRetry, 3*time.Second)
	def(&t.Reconnect, 5*time.Second)
	def(&t.Poll, 100*time.Millisecond)
	def(&t.DataRead, 30*time.Millisecond)
	def(&t.EscapeGuard, time.Second)
	def(&t.EscapeSettle, 1100*time.Millisecond)
	def(&t.Hangup, 3*time.Second)
	def(&t.HangupRetry, 100*time.Millisecond)
	def(&t.LinkSettle, time.Second)
	def(&t.LinkDown, 30*time.Second)
	def(&t.WaitPoll, 10*time.Millisecond)
	if t.MaxResponse == 0 {
		t.MaxResponse = 64 * 1024
	}
}

// Config contains the configuration parameters for creating a new Modem.
// NewSession and OpenPort are required.
type Config struct {
	// Device is the serial device name passed to OpenPort
	Device string
	// BaudRate is the serial speed (default 115200)
	BaudRate int
	// User and Password are the PPP PAP credentials
	User     string
	Password string
	// APN is the access point name used in the PDP context command
	APN string
	// OpenPort opens the serial channel (required)
	OpenPort PortOpener
	// NewSession creates the PPP session (required)
	NewSession SessionFactory
	// StatusTransition is an optional callback for status change notifications
	StatusTransition StatusTransitionType
	// Logger receives protocol traces (when debug is on) and lifecycle events
	Logger zerolog.Logger
	// Timing overrides protocol delays
	Timing Timing
	// MaxInitFailures is the number of failed script passes before the worker gives up (default 20)
	MaxInitFailures int
	// GuardTimeout bounds every shared state acquisition (default 5s)
	GuardTimeout time.Duration
	// Debug enables protocol tracing from the start
	Debug bool
}

func (c *Config) validate() error {
	if c.OpenPort == nil || c.NewSession == nil {
		return ErrConfigRequired
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = 115200
	}
	if c.MaxInitFailures == 0 {
		c.MaxInitFailures = 20
	}
	if c.GuardTimeout == 0 {
		c.GuardTimeout = 5 * time.Second
	}
	c.Timing.setDefaults()
}
