// Package simmodem simulates a GSM modem on a serial line. It answers the
// AT commands used to bring up a packet data connection and to handle SMS
// in text mode, switches to data mode on dial, and returns to command mode
// on the +++ escape sequence.
//
// Example usage:
//
//	host, tty := simmodem.NewLine()
//	sim, err := simmodem.New(&simmodem.Config{TTY: tty})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer sim.Close()
//	sim.Deliver("+34600000000", "hello", time.Now())
package simmodem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrConfigRequired is returned when a required configuration parameter is missing
	ErrConfigRequired = errors.New("config required")
	// ErrInvalidStateTransition is returned when an invalid state transition is attempted
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrNotOnline is returned when sending data while not in data mode
	ErrNotOnline = errors.New("not online")
)

// Status is the operating mode of the simulated modem.
type Status int

const (
	// StatusIdle is command mode without a data call
	StatusIdle Status = iota
	// StatusOnline is data mode, bytes pass through
	StatusOnline
	// StatusOnlineCmd is command mode with the data call kept
	StatusOnlineCmd
	// StatusClosed is the terminal state
	StatusClosed
)

// String returns a human-readable string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusOnline:
		return "Online"
	case StatusOnlineCmd:
		return "OnlineCmd"
	case StatusClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// RetCode is the final result of a command line.
type RetCode int

const (
	// RetCodeOk indicates successful command execution
	RetCodeOk RetCode = iota
	// RetCodeError indicates command execution failed
	RetCodeError
	// RetCodeSilent indicates the command already wrote its result
	RetCodeSilent
	// RetCodeConnect indicates the modem entered data mode
	RetCodeConnect
	// RetCodeNoCarrier indicates no data call could be made
	RetCodeNoCarrier
	// RetCodeSkip passes the line on to the built-in command set
	RetCodeSkip
)

func (r RetCode) text() string {
	switch r {
	case RetCodeOk:
		return "OK"
	case RetCodeError:
		return "ERROR"
	case RetCodeConnect:
		return "CONNECT"
	case RetCodeNoCarrier:
		return "NO CARRIER"
	default:
		return ""
	}
}

// StatusTransitionType is called with the modem lock held on every status change.
type StatusTransitionType func(m *Modem, prev, new Status)

// LineHookType is called with the modem lock held for every command line,
// without the AT prefix. Returning RetCodeSkip runs the built-in handler.
type LineHookType func(m *Modem, line string) RetCode

// DataHookType receives the bytes written by the host in data mode.
type DataHookType func(m *Modem, p []byte)

// SendHookType decides whether an outgoing SMS is accepted. It is called
// with the modem lock held.
type SendHookType func(to, body string) error

// Config contains the configuration parameters for a simulated modem.
type Config struct {
	// TTY is the modem end of the serial line (required)
	TTY io.ReadWriteCloser
	// StatusTransition is an optional callback for status change notifications
	StatusTransition StatusTransitionType
	// LineHook is an optional callback for handling complete command lines
	LineHook LineHookType
	// DataHook is an optional sink for data mode traffic
	DataHook DataHookType
	// SendHook optionally rejects outgoing messages
	SendHook SendHookType
	// PIN locks the SIM until AT+CPIN is given this value
	PIN string
	// Unregistered starts the modem without network registration
	Unregistered bool
	// GuardTime is the +++ guard time in 50ms increments (default: 20)
	GuardTime int
	// Logger traces command lines at debug level
	Logger zerolog.Logger
}

// Metrics contains runtime statistics for a simulated modem.
type Metrics struct {
	// Status is the current operational status of the modem
	Status Status
	// TtyTxBytes is the total number of bytes written to the host
	TtyTxBytes int
	// TtyRxBytes is the total number of bytes received from the host
	TtyRxBytes int
	// DataTxBytes is the number of data mode bytes received from the host
	DataTxBytes int
	// DataRxBytes is the number of data mode bytes sent to the host
	DataRxBytes int
	// NumConns is the number of data calls made
	NumConns int
	// NumCommands is the number of command lines processed
	NumCommands int
	// LastAtCmdTime is the timestamp of the last command line
	LastAtCmdTime time.Time
	// LastConnTime is the timestamp of the last data call
	LastConnTime time.Time
}

// Modem is a simulated GSM modem attached to a TTY.
type Modem struct {
	sync.Mutex
	st               Status
	stCtx            context.Context
	stCtxCancel      context.CancelFunc
	tty              io.ReadWriteCloser
	log              zerolog.Logger
	statusTransition StatusTransitionType
	lineHook         LineHookType
	dataHook         DataHookType
	sendHook         SendHookType
	guard            time.Duration
	echo             bool
	cfun             int
	registered       bool
	pin              string
	pinOK            bool
	textMode         bool
	apn              string
	store            []SMS
	sent             []Sent
	msgRef           int
	composing        bool
	composeTo        string
	composeBuf       bytes.Buffer
	lastRx           time.Time
	metrics          *Metrics
}

func (m *Modem) ttyWrite(b []byte) {
	n, err := m.tty.Write(b)
	if err != nil || n == 0 {
		m.setStatus(StatusClosed)
		return
	}
	m.metrics.TtyTxBytes += n
}

func (m *Modem) ttyWriteStr(s string) {
	m.ttyWrite([]byte(s))
}

// reply writes an information line.
func (m *Modem) reply(format string, args ...any) {
	m.ttyWriteStr("\r\n" + fmt.Sprintf(format, args...) + "\r\n")
}

func (m *Modem) printRetCode(ret RetCode) {
	if s := ret.text(); s != "" {
		// Write directly to TTY to avoid recursion during state transitions
		n, _ := m.tty.Write([]byte("\r\n" + s + "\r\n"))
		m.metrics.TtyTxBytes += n
	}
}

func (m *Modem) cmsError(code int) RetCode {
	m.reply("+CMS ERROR: %d", code)
	return RetCodeSilent
}

func (m *Modem) setStatus(status Status) {
	prev := m.st
	if prev == status {
		return
	}
	if prev == StatusClosed {
		panic(ErrInvalidStateTransition)
	}
	m.stCtxCancel()
	m.stCtx, m.stCtxCancel = context.WithCancel(context.Background())
	m.st = status
	switch status {
	case StatusOnline:
		if prev == StatusIdle {
			m.metrics.NumConns++
			m.metrics.LastConnTime = time.Now()
		}
	case StatusOnlineCmd:
		if prev != StatusOnline {
			panic(ErrInvalidStateTransition)
		}
	case StatusClosed:
		m.tty.Close()
	}
	if m.statusTransition != nil {
		m.statusTransition(m, prev, status)
	}
}

// Status returns the current operational status of the modem.
func (m *Modem) Status() Status {
	m.Lock()
	defer m.Unlock()
	return m.st
}

// Close terminates the modem and closes its TTY.
func (m *Modem) Close() {
	m.Lock()
	defer m.Unlock()
	m.setStatus(StatusClosed)
}

// Send writes p to the host as if it came from the network. The modem must
// be in data mode.
func (m *Modem) Send(p []byte) error {
	m.Lock()
	defer m.Unlock()
	if m.st != StatusOnline {
		return ErrNotOnline
	}
	m.metrics.DataRxBytes += len(p)
	m.ttyWrite(p)
	return nil
}

// Hangup drops the data call from the network side.
func (m *Modem) Hangup() {
	m.Lock()
	defer m.Unlock()
	if m.st == StatusOnline || m.st == StatusOnlineCmd {
		m.setStatus(StatusIdle)
		m.printRetCode(RetCodeNoCarrier)
	}
}

// SetRegistered changes the network registration state.
func (m *Modem) SetRegistered(registered bool) {
	m.Lock()
	defer m.Unlock()
	m.registered = registered
}

// Radio returns the AT+CFUN functionality level.
func (m *Modem) Radio() int {
	m.Lock()
	defer m.Unlock()
	return m.cfun
}

// APN returns the access point name set with AT+CGDCONT.
func (m *Modem) APN() string {
	m.Lock()
	defer m.Unlock()
	return m.apn
}

// Metrics returns a copy of the current modem metrics.
func (m *Modem) Metrics() *Metrics {
	m.Lock()
	defer m.Unlock()
	c := *m.metrics
	c.Status = m.st
	return &c
}

func (m *Modem) processLine(line string) RetCode {
	if m.st != StatusIdle && m.st != StatusOnlineCmd {
		return RetCodeError
	}
	m.metrics.LastAtCmdTime = time.Now()
	m.metrics.NumCommands++
	m.log.Debug().Str("line", line).Msg("command")
	if m.lineHook != nil {
		if r := m.lineHook(m, line); r != RetCodeSkip {
			return r
		}
	}
	cmds, err := parseLine(line)
	if err != nil {
		return RetCodeError
	}
	ret := RetCodeOk
	for _, c := range cmds {
		ret = m.processCommand(c)
		if ret != RetCodeOk {
			break
		}
	}
	return ret
}

// guardElapsed reports whether at least one guard time passed since t.
func (m *Modem) guardElapsed(t time.Time) bool {
	return time.Since(t) >= m.guard
}

// compose collects the text of an outgoing message after the "> " prompt.
func (m *Modem) compose(b byte) {
	switch b {
	case 0x1a:
		m.composing = false
		to, body := m.composeTo, m.composeBuf.String()
		m.composeBuf.Reset()
		if m.sendHook != nil {
			if err := m.sendHook(to, body); err != nil {
				m.cmsError(500)
				return
			}
		}
		m.msgRef = (m.msgRef + 1) % 256
		m.sent = append(m.sent, Sent{Ref: m.msgRef, To: to, Body: body, Time: time.Now()})
		m.reply("+CMGS: %d", m.msgRef)
		m.printRetCode(RetCodeOk)
	case 0x1b:
		m.composing = false
		m.composeBuf.Reset()
		m.printRetCode(RetCodeOk)
	case '\r':
		m.composeBuf.WriteByte('\n')
		m.ttyWriteStr("\r\n> ")
	case '\n':
	default:
		if m.composeBuf.Len() < maxBody {
			m.composeBuf.WriteByte(b)
			if m.echo {
				m.ttyWrite([]byte{b})
			}
		}
	}
}

func (m *Modem) ttyReadTask() {
	aFlag := false
	atFlag := false
	var buffer bytes.Buffer
	byteBuff := make([]byte, 1)
	lastCmd := ""
	plusCnt := 0
	lastPlus := time.Time{}
	lastNotPlus := time.Time{}
	// set when a command line ended on CR; an LF right after it is not data
	skipLF := false

	m.Lock()
	for m.st != StatusClosed {
		m.Unlock()
		n, err := m.tty.Read(byteBuff)
		m.Lock()
		if m.st == StatusClosed {
			break
		}
		if err != nil || n == 0 {
			m.setStatus(StatusClosed)
			break
		}
		m.metrics.TtyRxBytes += n
		m.lastRx = time.Now()

		if skipLF {
			skipLF = false
			if byteBuff[0] == '\n' {
				continue
			}
		}

		if m.st == StatusOnline {
			m.metrics.DataTxBytes += n
			if byteBuff[0] == '+' {
				if !m.guardElapsed(lastNotPlus) {
					plusCnt = 0
					lastNotPlus = time.Now()
				} else {
					if !m.guardElapsed(lastPlus) {
						plusCnt++
					} else {
						plusCnt = 1
					}
					lastPlus = time.Now()
					if plusCnt == 3 {
						go m.escapeTimer(m.stCtx, lastPlus)
					}
				}
			} else {
				plusCnt = 0
				lastNotPlus = time.Now()
			}
			if hook := m.dataHook; hook != nil {
				b := []byte{byteBuff[0]}
				m.Unlock()
				hook(m, b)
				m.Lock()
			}
			continue
		}
		plusCnt = 0

		if m.composing {
			m.compose(byteBuff[0])
			continue
		}

		if !atFlag {
			if m.echo {
				m.ttyWrite(byteBuff)
			}
			if bytes.ToUpper(byteBuff)[0] == 'A' {
				aFlag = true
				continue
			}
			if aFlag && byteBuff[0] == '/' {
				aFlag = false
				if m.echo {
					m.ttyWriteStr("\r")
				}
				m.printRetCode(m.processLine(lastCmd))
				continue
			}
			if aFlag && bytes.ToUpper(byteBuff)[0] == 'T' {
				atFlag = true
				aFlag = false
				continue
			}
			aFlag = false
		} else {
			if byteBuff[0] == 0x7f {
				if buffer.Len() > 0 {
					buffer.Truncate(buffer.Len() - 1)
					if m.echo {
						m.ttyWriteStr("\x1b[D \x1b[D")
					}
				}
				continue
			}
			if byteBuff[0] == '\r' {
				atFlag = false
				skipLF = true
				lastCmd = buffer.String()
				if m.echo {
					m.ttyWriteStr("\r")
				}
				m.printRetCode(m.processLine(lastCmd))
				buffer.Reset()
				continue
			}
			if buffer.Len() < maxLine && strconv.IsPrint(rune(byteBuff[0])) {
				buffer.Write(byteBuff)
				if m.echo {
					m.ttyWrite(byteBuff)
				}
			}
		}
	}
	m.Unlock()
}

// escapeTimer switches to command mode when no byte followed the third
// plus within the guard time.
func (m *Modem) escapeTimer(ctx context.Context, plus time.Time) {
	time.Sleep(m.guard)
	m.Lock()
	defer m.Unlock()
	if ctx.Err() != nil || m.st != StatusOnline || m.lastRx.After(plus) {
		return
	}
	m.setStatus(StatusOnlineCmd)
	m.printRetCode(RetCodeOk)
}

// New creates a simulated modem and starts serving its TTY.
//
// Returns ErrConfigRequired if config is nil or TTY is missing.
func New(config *Config) (*Modem, error) {
	if config == nil || config.TTY == nil {
		return nil, ErrConfigRequired
	}
	m := &Modem{
		st:               StatusIdle,
		tty:              config.TTY,
		log:              config.Logger.With().Str("component", "simmodem").Logger(),
		statusTransition: config.StatusTransition,
		lineHook:         config.LineHook,
		dataHook:         config.DataHook,
		sendHook:         config.SendHook,
		echo:             true,
		cfun:             1,
		registered:       !config.Unregistered,
		pin:              config.PIN,
		pinOK:            config.PIN == "",
		metrics:          &Metrics{},
	}
	m.stCtx, m.stCtxCancel = context.WithCancel(context.Background())
	guard := config.GuardTime
	if guard <= 0 {
		guard = 20
	}
	m.guard = time.Duration(guard) * 50 * time.Millisecond

	go m.ttyReadTask()
	return m, nil
}
