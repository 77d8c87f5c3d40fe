package pppd

import (
	"errors"
	"os"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// ptyLink is the pseudo-terminal pppd runs on. The session keeps the master
// end; pppd gets the slave.
type ptyLink struct {
	master, slave *os.File
	closed        bool
}

func newPtyLink() (*ptyLink, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, err
	}
	return &ptyLink{
		master: master,
		slave:  slave,
	}, nil
}

// Name returns the slave device path.
func (p *ptyLink) Name() string {
	return p.slave.Name()
}

func (p *ptyLink) Read(b []byte) (int, error) {
	return p.master.Read(b)
}

func (p *ptyLink) Write(b []byte) (int, error) {
	return p.master.Write(b)
}

// releaseSlave closes the session's copy of the slave once pppd holds it,
// so the master sees a hang-up when pppd exits.
func (p *ptyLink) releaseSlave() error {
	return p.slave.Close()
}

func (p *ptyLink) Close() error {
	if p.closed {
		return nil
	}
	defer func() {
		p.closed = true
	}()
	err := p.master.Close()
	if serr := p.slave.Close(); serr != nil && !errors.Is(serr, os.ErrClosed) {
		err = errors.Join(err, serr)
	}
	return err
}

func (p *ptyLink) control(f func(fd uintptr)) error {
	conn, err := p.master.SyscallConn()
	if err != nil {
		return err
	}
	return conn.Control(f)
}

// slaveClosed reports whether no process has the slave end open.
func (p *ptyLink) slaveClosed() (bool, error) {
	var hup bool
	var perr error
	err := p.control(func(fd uintptr) {
		fds := []unix.PollFd{{
			Fd:     int32(fd),
			Events: unix.POLLOUT,
		}}
		if _, perr = unix.Poll(fds, 0); perr == nil {
			// POLLHUP indicates that the slave has no processes with it open
			hup = fds[0].Revents&unix.POLLHUP != 0
		}
	})
	if err != nil {
		return false, err
	}
	return hup, perr
}
