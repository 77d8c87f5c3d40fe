package gsmppp

import (
	"bytes"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	scratchSize = 256
	growStep    = 512
)

// Result classifies the outcome of an AT transaction.
type Result int

const (
	// ResultSuccess means the primary terminator was found
	ResultSuccess Result = iota
	// ResultAltMatched means only the alternate terminator was found
	ResultAltMatched
	// ResultFailure means the modem answered but no terminator matched
	ResultFailure
	// ResultTimeout means the modem did not finish answering in time
	ResultTimeout
)

// String returns a human-readable string representation of the result.
func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "Success"
	case ResultAltMatched:
		return "AltMatched"
	case ResultFailure:
		return "Failure"
	case ResultTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Err maps a result to the error returned to callers.
func (r Result) Err() error {
	switch r {
	case ResultSuccess, ResultAltMatched:
		return nil
	case ResultTimeout:
		return ErrTimeout
	default:
		return ErrNoResponse
	}
}

// atEngine runs AT transactions over a Port. It is not safe for concurrent
// use; the modem serializes access with its transaction lock.
type atEngine struct {
	port   Port
	timing *Timing
	// trace returns a debug event or nil when tracing is off.
	trace func() *zerolog.Event
	// mute suppresses tracing during background SMS polling.
	mute bool
}

func (e *atEngine) event() *zerolog.Event {
	if e.mute || e.trace == nil {
		return nil
	}
	return e.trace()
}

// printable renders a command or response for the log, replacing control
// characters with '.'.
func printable(p []byte) string {
	b := make([]byte, len(p))
	for i, c := range p {
		b[i] = sanitize(c)
	}
	return string(b)
}

func sanitize(c byte) byte {
	if c >= 0x20 && c < 0x80 {
		return c
	}
	return '.'
}

func (e *atEngine) send(cmd string) error {
	time.Sleep(e.timing.PreCommand)
	if err := e.port.Flush(); err != nil {
		return err
	}
	if cmd == "" {
		return nil
	}
	e.event().Str("cmd", printable([]byte(cmd))).Msg("AT command")
	_, err := e.port.Write([]byte(cmd))
	return err
}

// exec sends cmd and waits for a response. The response is complete when a
// read window passes without new bytes after some content arrived; it is
// then checked for resp first and alt second. Only the first scratchSize
// bytes of the response are kept.
func (e *atEngine) exec(cmd, resp, alt string, timeout time.Duration) (Result, error) {
	if err := e.send(cmd); err != nil {
		return ResultFailure, err
	}
	var scratch [scratchSize]byte
	idx, tot := 0, 0
	chunk := make([]byte, scratchSize)
	deadline := time.Now().Add(timeout)
	for {
		n, err := e.port.ReadTimeout(chunk, e.timing.Quiet)
		if err != nil {
			return ResultFailure, err
		}
		if n > 0 {
			for _, c := range chunk[:n] {
				if idx < len(scratch) {
					scratch[idx] = sanitize(c)
					idx++
				}
			}
			tot += n
		} else if tot > 0 {
			r := classify(string(scratch[:idx]), resp, alt)
			e.event().Str("resp", string(scratch[:idx])).Stringer("result", r).Msg("AT response")
			return r, nil
		}
		if time.Now().After(deadline) {
			e.event().Str("cmd", printable([]byte(cmd))).Msg("AT timeout")
			return ResultTimeout, nil
		}
	}
}

// classify checks the primary terminator before the alternate one, so a
// response containing both is a success.
func classify(s, resp, alt string) Result {
	if strings.Contains(s, resp) {
		return ResultSuccess
	}
	if alt != "" && strings.Contains(s, alt) {
		return ResultAltMatched
	}
	return ResultFailure
}

// execBuffer sends cmd and accumulates the raw response. Reading stops when
// resp appears, or when a read window passes without data if resp is empty.
// When payload is not empty it is written after resp is seen and the answer
// to it is accumulated as well. The buffer starts at size bytes and grows in
// growStep increments up to Timing.MaxResponse.
func (e *atEngine) execBuffer(cmd, resp string, size int, timeout time.Duration, payload string) ([]byte, Result, error) {
	var done func([]byte) bool
	if resp != "" {
		term := []byte(resp)
		done = func(buf []byte) bool { return bytes.Contains(buf, term) }
	}
	return e.execUntil(cmd, done, size, timeout, payload)
}

// execFinal is execBuffer for listings whose records are free text. The
// response is complete only once it ends with the final result code.
func (e *atEngine) execFinal(cmd, final string, size int, timeout time.Duration) ([]byte, Result, error) {
	term := []byte(final)
	return e.execUntil(cmd, func(buf []byte) bool { return bytes.HasSuffix(buf, term) }, size, timeout, "")
}

func (e *atEngine) execUntil(cmd string, done func([]byte) bool, size int, timeout time.Duration, payload string) ([]byte, Result, error) {
	if err := e.send(cmd); err != nil {
		return nil, ResultFailure, err
	}
	if size <= 0 {
		size = scratchSize
	}
	buf := make([]byte, 0, size)
	chunk := make([]byte, scratchSize)
	bounded := done != nil
	gotResp := false

	n, err := e.port.ReadTimeout(chunk, timeout)
	for n > 0 && err == nil {
		if len(buf)+n > cap(buf) {
			if buf, err = e.grow(buf, n); err != nil {
				e.drain(chunk)
				return buf, ResultFailure, err
			}
		}
		buf = append(buf, chunk[:n]...)
		if done != nil && done(buf) {
			gotResp = true
			if payload != "" {
				e.event().Msg("AT prompt detected, sending payload")
				time.Sleep(e.timing.PayloadDelay)
				if _, err = e.port.Write([]byte(payload)); err != nil {
					break
				}
				payload = ""
				done = nil
				if n, err = e.port.ReadTimeout(chunk, timeout); n == 0 && err == nil {
					e.event().Int("len", len(buf)).Msg("AT payload unanswered")
					return buf, ResultTimeout, nil
				}
				continue
			}
			e.drain(chunk)
			break
		}
		n, err = e.port.ReadTimeout(chunk, e.timing.Burst)
	}
	if err != nil {
		return buf, ResultFailure, err
	}
	e.event().Int("len", len(buf)).Str("resp", printable(buf)).Msg("AT response (buffered)")
	switch {
	case len(buf) == 0:
		return buf, ResultTimeout, nil
	case gotResp || !bounded:
		return buf, ResultSuccess, nil
	default:
		return buf, ResultFailure, nil
	}
}

func (e *atEngine) grow(buf []byte, need int) ([]byte, error) {
	c := cap(buf)
	for len(buf)+need > c {
		c += growStep
	}
	if c > e.timing.MaxResponse {
		e.event().Int("len", len(buf)).Msg("AT response exceeds buffer limit")
		return buf, ErrBufferOverflow
	}
	nb := make([]byte, len(buf), c)
	copy(nb, buf)
	return nb, nil
}

// drain discards input until the modem goes quiet.
func (e *atEngine) drain(chunk []byte) {
	for {
		n, err := e.port.ReadTimeout(chunk, e.timing.Burst)
		if n == 0 || err != nil {
			return
		}
	}
}
