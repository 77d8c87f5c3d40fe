package simmodem

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// pipe is a one-way byte queue with timed reads.
type pipe struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	ready  chan struct{}
	closed bool
}

func newPipe() *pipe {
	return &pipe{ready: make(chan struct{}, 1)}
}

func (p *pipe) write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	p.buf.Write(b)
	select {
	case p.ready <- struct{}{}:
	default:
	}
	return len(b), nil
}

// read waits up to timeout for data. A negative timeout waits forever.
func (p *pipe) read(b []byte, timeout time.Duration) (int, error) {
	var deadline <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		p.mu.Lock()
		if p.buf.Len() > 0 {
			n, _ := p.buf.Read(b)
			p.mu.Unlock()
			return n, nil
		}
		if p.closed {
			p.mu.Unlock()
			return 0, io.EOF
		}
		p.mu.Unlock()
		select {
		case <-p.ready:
		case <-deadline:
			return 0, nil
		}
	}
}

func (p *pipe) reset() {
	p.mu.Lock()
	p.buf.Reset()
	p.mu.Unlock()
}

func (p *pipe) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ready)
	}
}

// HostEnd is the computer side of an in-memory serial line. It has the
// method set of a modem port.
type HostEnd struct {
	in, out *pipe
}

// ModemEnd is the modem side of an in-memory serial line, used as the
// simulator TTY.
type ModemEnd struct {
	in, out *pipe
}

// NewLine returns both ends of an in-memory serial line.
func NewLine() (*HostEnd, *ModemEnd) {
	toModem, toHost := newPipe(), newPipe()
	return &HostEnd{in: toHost, out: toModem}, &ModemEnd{in: toModem, out: toHost}
}

func (h *HostEnd) Write(b []byte) (int, error) {
	return h.out.write(b)
}

// ReadTimeout returns 0, nil when nothing arrived within timeout.
func (h *HostEnd) ReadTimeout(b []byte, timeout time.Duration) (int, error) {
	return h.in.read(b, timeout)
}

// Flush discards unread modem output.
func (h *HostEnd) Flush() error {
	h.in.reset()
	return nil
}

func (h *HostEnd) Close() error {
	h.in.close()
	h.out.close()
	return nil
}

func (e *ModemEnd) Read(b []byte) (int, error) {
	return e.in.read(b, -1)
}

func (e *ModemEnd) Write(b []byte) (int, error) {
	return e.out.write(b)
}

func (e *ModemEnd) Close() error {
	e.in.close()
	e.out.close()
	return nil
}
