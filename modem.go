// Package gsmppp manages a GSM modem attached to a serial port. A background
// worker brings the modem up with a script of AT commands, hands the line to
// a PPP session when a connection is requested, and takes it back to command
// mode on disconnect. While the modem is idle, callers can send, list and
// delete SMS messages or issue raw AT commands.
//
// All state shared between callers and the worker lives in the Modem and is
// only touched with its guard held. Callers never wait on the guard longer
// than Config.GuardTimeout; they get ErrBusy (or StatusUnknown) instead.
//
// Example usage:
//
//	m, err := gsmppp.New(&gsmppp.Config{
//		Device:     "/dev/ttyUSB0",
//		APN:        "internet",
//		OpenPort:   serialport.Opener(serialport.Pins{}),
//		NewSession: pppd.New(&pppd.Config{}),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := m.Init(true, true); err != nil {
//		log.Fatal(err)
//	}
//	defer m.Disconnect(true, false)
package gsmppp

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
)

// Metrics contains runtime statistics of a modem.
type Metrics struct {
	// Status is the current connection state
	Status Status
	// RxBytes is the number of bytes read from the modem since the last counter reset
	RxBytes uint64
	// TxBytes is the number of bytes written to the modem since the last counter reset
	TxBytes uint64
	// TotalRxBytes and TotalTxBytes are never reset
	TotalRxBytes uint64
	TotalTxBytes uint64
	// NumConns is the number of PPP sessions that came up
	NumConns int
	// NumLinkFailures is the number of sessions lost without a disconnect request
	NumLinkFailures int
	// NumInitFailures is the number of failed initialization commands
	NumInitFailures int
	// LastRxTime is the time of the last read from the modem in data mode
	LastRxTime time.Time
	// LastTxTime is the time of the last write to the modem in data mode
	LastTxTime time.Time
	// LastConnTime is the time the last PPP session came up
	LastConnTime time.Time
	// LocalAddr and RemoteAddr are the addresses of the last PPP session
	LocalAddr  net.IP
	RemoteAddr net.IP
}

// Modem drives one GSM modem.
type Modem struct {
	g    guard
	txMu sync.Mutex // serializes traffic on the serial channel
	cfg  Config
	log  zerolog.Logger

	// guarded by g
	st          Status
	fsm         *fsm.FSM
	stCtx       context.Context
	stCtxCancel context.CancelFunc
	started     bool
	done        chan struct{}
	exitErr     error
	connReq     int // <0 terminate, 0 stay idle, >0 connect
	rfOff       bool
	debug       bool
	notifier    Notifier
	smsInterval time.Duration
	rx, tx      uint64
	metrics     Metrics

	// owned by the worker; lent to callers holding txMu while Idle
	at      *atEngine
	script  script
	session Session
}

// New creates a modem. The worker is not started until Init.
//
// Returns ErrConfigRequired if config is nil or required fields are missing.
func New(config *Config) (*Modem, error) {
	if config == nil {
		return nil, ErrConfigRequired
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	m := &Modem{
		g:     newGuard(),
		cfg:   *config,
		st:    StatusFirstInit,
		debug: config.Debug,
	}
	m.cfg.setDefaults()
	m.log = m.cfg.Logger.With().Str("component", "gsm").Logger()
	m.fsm = newStatusFSM(m.enterState)
	m.stCtx, m.stCtxCancel = context.WithCancel(context.Background())
	return m, nil
}

func (m *Modem) checkGuard() {
	if !m.g.held() {
		panic("Modem guard not held")
	}
}

func parseStatus(s string) Status {
	for st := StatusFirstInit; st < StatusUnknown; st++ {
		if st.String() == s {
			return st
		}
	}
	return StatusUnknown
}

func (m *Modem) enterState(_ context.Context, e *fsm.Event) {
	prevStatus := m.st
	m.stCtxCancel()
	m.stCtx, m.stCtxCancel = context.WithCancel(context.Background())
	m.st = parseStatus(e.Dst)
	m.metrics.Status = m.st
	m.traceLocked().Stringer("from", prevStatus).Stringer("to", m.st).Msg("status change")
	if m.cfg.StatusTransition != nil {
		m.cfg.StatusTransition(m, prevStatus, m.st)
	}
}

// setStatus moves the state machine to status. The guard must be held.
func (m *Modem) setStatus(status Status) error {
	m.checkGuard()
	if m.st == status {
		return nil
	}
	if err := m.fsm.Event(context.Background(), status.event()); err != nil {
		return fmt.Errorf("%w: %s -> %s: %v", ErrInvalidStateTransition, m.st, status, err)
	}
	return nil
}

// traceLocked returns a debug event when tracing is on. The guard must be held.
func (m *Modem) traceLocked() *zerolog.Event {
	if !m.debug {
		return nil
	}
	return m.log.Debug()
}

// trace returns a debug event when tracing is on.
func (m *Modem) trace() *zerolog.Event {
	if !m.g.tryLock(m.cfg.GuardTimeout) {
		return nil
	}
	defer m.g.unlock()
	return m.traceLocked()
}

// Status returns the connection state, or StatusUnknown when the state
// could not be read in time.
func (m *Modem) Status() Status {
	if !m.g.tryLock(m.cfg.GuardTimeout) {
		return StatusUnknown
	}
	defer m.g.unlock()
	return m.st
}

// Err returns the reason the last worker stopped, or nil.
func (m *Modem) Err() error {
	if !m.g.tryLock(m.cfg.GuardTimeout) {
		return ErrBusy
	}
	defer m.g.unlock()
	return m.exitErr
}

// Init starts the worker if it is not running. A running worker only gets
// its connect request updated. With wait set, Init returns once the modem
// is Idle or Connected, or the worker stopped.
func (m *Modem) Init(wait bool, autoConnect bool) error {
	if !m.g.tryLock(m.cfg.GuardTimeout) {
		return ErrBusy
	}
	if autoConnect {
		m.connReq = 1
	} else {
		m.connReq = 0
	}
	if !m.started {
		m.started = true
		m.exitErr = nil
		m.done = make(chan struct{})
		go m.worker(m.done)
	}
	m.g.unlock()
	if !wait {
		return nil
	}
	return m.waitFor(func(s Status) bool {
		return s == StatusIdle || s == StatusConnected
	})
}

// Connect requests a PPP connection and waits until it is up.
func (m *Modem) Connect() error {
	if !m.g.tryLock(m.cfg.GuardTimeout) {
		return ErrBusy
	}
	if !m.started {
		m.g.unlock()
		return ErrNotRunning
	}
	m.connReq = 1
	st := m.st
	m.g.unlock()
	if st == StatusConnected {
		return nil
	}
	return m.waitFor(func(s Status) bool {
		return s == StatusConnected
	})
}

// Disconnect takes the modem back to Idle. With terminate set the worker
// exits once the modem is offline. With rfOff set the radio is switched off
// after the hangup. It is a no-op when the worker is not running, or when
// the modem is Idle and terminate is not set.
func (m *Modem) Disconnect(terminate bool, rfOff bool) error {
	if !m.g.tryLock(m.cfg.GuardTimeout) {
		return ErrBusy
	}
	if !m.started || (m.st == StatusIdle && !terminate) {
		m.g.unlock()
		return nil
	}
	if terminate {
		m.connReq = -1
	} else {
		m.connReq = 0
	}
	m.rfOff = rfOff
	done := m.done
	m.g.unlock()
	if terminate {
		<-done
		return nil
	}
	err := m.waitFor(func(s Status) bool {
		return s == StatusIdle
	})
	if err != nil && m.Status() == StatusFirstInit {
		return nil
	}
	return err
}

// waitFor blocks until cond holds for the current status. It wakes up on
// every status change, and polls every Timing.WaitPoll as a fallback.
func (m *Modem) waitFor(cond func(Status) bool) error {
	for {
		if !m.g.tryLock(m.cfg.GuardTimeout) {
			continue
		}
		st, started, ctx, done, exitErr := m.st, m.started, m.stCtx, m.done, m.exitErr
		m.g.unlock()
		if cond(st) {
			return nil
		}
		if !started {
			if exitErr != nil {
				return fmt.Errorf("%w: %w", ErrWorkerStopped, exitErr)
			}
			return ErrWorkerStopped
		}
		select {
		case <-ctx.Done():
		case <-done:
		case <-time.After(m.cfg.Timing.WaitPoll):
		}
	}
}

// ByteCounters returns the bytes read from (rx) and written to (tx) the
// modem in data mode since the last reset, optionally resetting them.
// Both are zero when the counters could not be read in time.
func (m *Modem) ByteCounters(reset bool) (rx, tx uint64) {
	if !m.g.tryLock(m.cfg.GuardTimeout) {
		return 0, 0
	}
	defer m.g.unlock()
	rx, tx = m.rx, m.tx
	if reset {
		m.rx, m.tx = 0, 0
	}
	return rx, tx
}

// ResetByteCounters zeroes the byte counters.
func (m *Modem) ResetByteCounters() error {
	if !m.g.tryLock(m.cfg.GuardTimeout) {
		return ErrBusy
	}
	defer m.g.unlock()
	m.rx, m.tx = 0, 0
	return nil
}

// Metrics returns a copy of the modem metrics.
func (m *Modem) Metrics() (*Metrics, error) {
	if !m.g.tryLock(m.cfg.GuardTimeout) {
		return nil, ErrBusy
	}
	defer m.g.unlock()
	copy := m.metrics
	copy.Status = m.st
	copy.RxBytes, copy.TxBytes = m.rx, m.tx
	return &copy, nil
}

// SetDebug enables or disables protocol tracing.
func (m *Modem) SetDebug(enabled bool) error {
	if !m.g.tryLock(m.cfg.GuardTimeout) {
		return ErrBusy
	}
	defer m.g.unlock()
	m.debug = enabled
	return nil
}

// checkIdle fails unless the worker runs and the modem is Idle.
func (m *Modem) checkIdle() error {
	if !m.g.tryLock(m.cfg.GuardTimeout) {
		return ErrBusy
	}
	defer m.g.unlock()
	if !m.started {
		return ErrNotRunning
	}
	if m.st != StatusIdle {
		return ErrNotIdle
	}
	return nil
}

// borrow takes the serial channel from the idle worker. The caller must
// unlock txMu when done.
func (m *Modem) borrow() error {
	if err := m.checkIdle(); err != nil {
		return err
	}
	deadline := time.Now().Add(m.cfg.GuardTimeout)
	for !m.txMu.TryLock() {
		if time.Now().After(deadline) {
			return ErrBusy
		}
		time.Sleep(m.cfg.Timing.WaitPoll)
	}
	if err := m.checkIdle(); err != nil {
		m.txMu.Unlock()
		return err
	}
	return nil
}

// RadioOff switches the radio off. The modem must be Idle.
func (m *Modem) RadioOff() error {
	if err := m.borrow(); err != nil {
		return err
	}
	defer m.txMu.Unlock()
	return m.setRadio("+CFUN: 4", "AT+CFUN=4\r\n", regTimeoutRFOff)
}

// RadioOn switches the radio on. The modem must be Idle.
func (m *Modem) RadioOn() error {
	if err := m.borrow(); err != nil {
		return err
	}
	defer m.txMu.Unlock()
	return m.setRadio("+CFUN: 1", "AT+CFUN=1\r\n", regTimeout)
}

func (m *Modem) setRadio(current, cmd string, reg time.Duration) error {
	buf, _, err := m.at.execBuffer("AT+CFUN?\r\n", "", 64, 2*time.Second, "")
	if err != nil {
		return err
	}
	if strings.Contains(string(buf), current) {
		return nil
	}
	m.script.setRegTimeout(reg)
	res, err := m.at.exec(cmd, "OK", "", 10*time.Second)
	if err != nil {
		return err
	}
	return res.Err()
}

// ATCommand sends a raw command and returns the raw answer. A missing line
// terminator is added to cmd. Reading stops when resp appears, or when the
// modem goes quiet if resp is empty. When payload is not empty it is sent
// once resp is seen, and the answer to it is returned as well. size is the
// initial response buffer size. The modem must be Idle.
func (m *Modem) ATCommand(cmd, resp string, size int, timeout time.Duration, payload string) ([]byte, error) {
	if err := m.borrow(); err != nil {
		return nil, err
	}
	defer m.txMu.Unlock()
	if !strings.HasSuffix(cmd, "\r") && !strings.HasSuffix(cmd, "\n") {
		cmd += "\r\n"
	}
	buf, res, err := m.at.execBuffer(cmd, resp, size, timeout, payload)
	if err != nil {
		return buf, err
	}
	return buf, res.Err()
}
