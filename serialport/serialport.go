// Package serialport adapts go.bug.st/serial ports to the modem's Port
// interface.
package serialport

import (
	"fmt"
	"io"
	"time"

	"github.com/jaracil/gsmppp"
	"github.com/nayarsystems/iotrace"
	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// Trace lines hold at most traceBufSize bytes, or what moved in one
// direction before a traceFlush pause.
const (
	traceBufSize = 256
	traceFlush   = 20 * time.Millisecond
)

// Pins sets the initial state of the modem control lines.
type Pins struct {
	RTS bool
	DTR bool
}

// Port is an open serial port.
type Port struct {
	p       serial.Port
	rw      io.ReadWriter
	tracer  *iotrace.RWCTracer
	timeout time.Duration
}

func newPort(p serial.Port) *Port {
	return &Port{p: p, rw: p, timeout: -1}
}

// Open opens device at baud, 8N1, with the control lines set from pins.
func Open(device string, baud int, pins Pins) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
		InitialStatusBits: &serial.ModemOutputBits{
			RTS: pins.RTS,
			DTR: pins.DTR,
		},
	}
	p, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", device, err)
	}
	return newPort(p), nil
}

// Trace logs the raw traffic of the port at debug level. It must be called
// before the port is used.
func (s *Port) Trace(log zerolog.Logger) {
	hook := func(dir string) func([]byte) {
		return func(b []byte) {
			log.Debug().Str("dir", dir).Bytes("data", b).Msg("serial")
		}
	}
	s.tracer = iotrace.NewRWCTracer(s.p, traceBufSize, traceFlush, hook("tx"), hook("rx"))
	s.rw = s.tracer
}

// Opener returns a PortOpener opening serial ports with pins.
func Opener(pins Pins) gsmppp.PortOpener {
	return func(device string, baud int) (gsmppp.Port, error) {
		p, err := Open(device, baud, pins)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// TracedOpener is Opener with the raw traffic of every port logged to log.
func TracedOpener(pins Pins, log zerolog.Logger) gsmppp.PortOpener {
	return func(device string, baud int) (gsmppp.Port, error) {
		p, err := Open(device, baud, pins)
		if err != nil {
			return nil, err
		}
		p.Trace(log.With().Str("device", device).Logger())
		return p, nil
	}
}

// List returns the serial ports found on the system.
func List() ([]string, error) {
	return serial.GetPortsList()
}

// ReadTimeout reads whatever is available, waiting at most timeout.
func (s *Port) ReadTimeout(b []byte, timeout time.Duration) (int, error) {
	if timeout != s.timeout {
		if err := s.p.SetReadTimeout(timeout); err != nil {
			return 0, err
		}
		s.timeout = timeout
	}
	return s.rw.Read(b)
}

// Write writes b and waits until it has been transmitted.
func (s *Port) Write(b []byte) (int, error) {
	n, err := s.rw.Write(b)
	if err != nil {
		return n, err
	}
	return n, s.p.Drain()
}

// Flush discards unread input.
func (s *Port) Flush() error {
	return s.p.ResetInputBuffer()
}

// Close closes the port. A traced port first waits for the pending trace
// lines to be flushed.
func (s *Port) Close() error {
	if s.tracer == nil {
		return s.p.Close()
	}
	time.Sleep(2 * traceFlush)
	return s.tracer.Close()
}
