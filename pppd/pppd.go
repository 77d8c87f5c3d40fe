// Package pppd runs the PPP protocol over a GSM modem by driving a pppd
// process on a pseudo-terminal. Bytes from the modem are written to the
// pty, bytes pppd writes are handed back to the modem, and pppd's log is
// turned into link status events.
package pppd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jaracil/gsmppp"
	"github.com/rs/zerolog"
)

var (
	// ErrNotConnected is returned when feeding input to a session without a running pppd
	ErrNotConnected = errors.New("pppd not running")
	// ErrFreed is returned when using a session after Free
	ErrFreed = errors.New("session freed")
)

// Config contains the pppd parameters shared by every session.
type Config struct {
	// Path is the pppd binary (default: "pppd")
	Path string
	// Options are appended to the pppd command line
	Options []string
	// StopTimeout is the wait for pppd to exit after SIGTERM before it is killed (default: 5s)
	StopTimeout time.Duration
	// Logger receives pppd log lines at debug level
	Logger zerolog.Logger
}

// New returns a session factory running pppd with config.
func New(config *Config) gsmppp.SessionFactory {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	if cfg.Path == "" {
		cfg.Path = "pppd"
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	return func(output func(p []byte) (int, error), status func(ev gsmppp.LinkEvent)) (gsmppp.Session, error) {
		if output == nil || status == nil {
			return nil, gsmppp.ErrConfigRequired
		}
		if _, err := exec.LookPath(cfg.Path); err != nil {
			return nil, err
		}
		return &Session{
			cfg:    cfg,
			log:    cfg.Logger.With().Str("component", "pppd").Logger(),
			output: output,
			status: status,
		}, nil
	}
}

// Session is a PPP session carried by pppd. It can be connected again after
// Close until Free is called.
type Session struct {
	sync.Mutex
	cfg          Config
	log          zerolog.Logger
	output       func(p []byte) (int, error)
	status       func(ev gsmppp.LinkEvent)
	defaultRoute bool
	user         string
	password     string
	link         *ptyLink
	cmd          *exec.Cmd
	done         chan struct{}
	down         gsmppp.LinkCode
	downSet      bool
	reported     bool
	closing      bool
	freed        bool
}

// SetDefaultRoute makes pppd install a default route through the link.
func (s *Session) SetDefaultRoute() error {
	s.Lock()
	defer s.Unlock()
	s.defaultRoute = true
	return nil
}

// SetAuth sets the PAP credentials.
func (s *Session) SetAuth(user, password string) error {
	s.Lock()
	defer s.Unlock()
	s.user = user
	s.password = password
	return nil
}

// args builds the pppd command line. Credentials are read from authFile.
func (s *Session) args(device, authFile string) []string {
	args := []string{device, "nodetach", "logfd", "2", "local", "nocrtscts", "noauth", "noipdefault", "usepeerdns"}
	if s.defaultRoute {
		args = append(args, "defaultroute")
	}
	if authFile != "" {
		args = append(args, "file", authFile)
	}
	return append(args, s.cfg.Options...)
}

var optionQuoter = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func quoteOption(v string) string {
	return `"` + optionQuoter.Replace(v) + `"`
}

// writeAuthFile stores the PAP credentials in an options file only the
// current user can read, keeping them off the pppd command line.
func writeAuthFile(user, password string) (string, error) {
	f, err := os.CreateTemp("", "gsmppp-auth-*")
	if err != nil {
		return "", err
	}
	_, err = fmt.Fprintf(f, "user %s\npassword %s\n", quoteOption(user), quoteOption(password))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// Connect starts pppd on a fresh pty.
func (s *Session) Connect() error {
	s.Lock()
	defer s.Unlock()
	if s.freed {
		return ErrFreed
	}
	if s.cmd != nil {
		return nil
	}
	link, err := newPtyLink()
	if err != nil {
		return err
	}
	authFile := ""
	if s.user != "" {
		if authFile, err = writeAuthFile(s.user, s.password); err != nil {
			link.Close()
			return fmt.Errorf("pppd auth file: %w", err)
		}
	}
	cmd := exec.Command(s.cfg.Path, s.args(link.Name(), authFile)...)
	cmd.Stdin = link.slave
	pr, pw := io.Pipe()
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		link.Close()
		removeAuthFile(authFile)
		return fmt.Errorf("start pppd: %w", err)
	}
	if err := link.releaseSlave(); err != nil {
		s.log.Debug().Err(err).Msg("release slave")
	}
	s.link = link
	s.cmd = cmd
	s.done = make(chan struct{})
	s.downSet, s.reported, s.closing = false, false, false
	s.log.Info().Str("tty", link.Name()).Int("pid", cmd.Process.Pid).Msg("pppd started")

	logDone := make(chan struct{})
	go s.readLog(pr, logDone)
	go s.readLink(link)
	go s.wait(cmd, link, authFile, pw, logDone, s.done)
	return nil
}

// Input writes bytes received from the modem to pppd.
func (s *Session) Input(p []byte) error {
	s.Lock()
	link := s.link
	s.Unlock()
	if link == nil {
		return ErrNotConnected
	}
	_, err := link.Write(p)
	return err
}

// Close asks pppd to terminate. The link down event follows asynchronously.
func (s *Session) Close() error {
	s.Lock()
	defer s.Unlock()
	if s.cmd == nil || s.closing {
		return nil
	}
	s.closing = true
	return s.cmd.Process.Signal(syscall.SIGTERM)
}

// Free stops pppd and releases the session.
func (s *Session) Free() error {
	if err := s.Close(); err != nil {
		s.log.Debug().Err(err).Msg("close")
	}
	s.Lock()
	s.freed = true
	cmd, done := s.cmd, s.done
	s.Unlock()
	if cmd == nil {
		return nil
	}
	select {
	case <-done:
	case <-time.After(s.cfg.StopTimeout):
		s.log.Warn().Msg("pppd did not stop, killing")
		if err := cmd.Process.Kill(); err != nil {
			return err
		}
		<-done
	}
	return nil
}

// readLink hands bytes written by pppd to the modem.
func (s *Session) readLink(link *ptyLink) {
	buf := make([]byte, 1500)
	for {
		n, err := link.Read(buf)
		if n > 0 {
			if _, werr := s.output(buf[:n]); werr != nil {
				s.log.Debug().Err(werr).Msg("modem write")
			}
		}
		if err != nil {
			// EIO after pppd exits is the normal end of the link
			if hup, _ := link.slaveClosed(); !hup && !errors.Is(err, io.EOF) {
				s.log.Debug().Err(err).Msg("pty read")
			}
			return
		}
	}
}

// readLog turns pppd log lines into link events.
func (s *Session) readLog(r io.Reader, done chan struct{}) {
	defer close(done)
	var local net.IP
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		s.log.Debug().Str("line", line).Msg("pppd")
		kind, code, ip := classifyLine(line)
		switch kind {
		case lineLocalIP:
			local = ip
		case lineRemoteIP:
			s.status(gsmppp.LinkEvent{Code: gsmppp.LinkUp, Local: local, Remote: ip})
		case lineTerminated:
			s.reportDown()
		case lineCode:
			if !code.Down() {
				s.status(gsmppp.LinkEvent{Code: code})
				continue
			}
			s.Lock()
			if !s.downSet {
				s.down, s.downSet = code, true
			}
			s.Unlock()
		}
	}
}

// reportDown emits the link down event once per connection.
func (s *Session) reportDown() {
	s.Lock()
	if s.reported {
		s.Unlock()
		return
	}
	s.reported = true
	code := gsmppp.LinkConnectLost
	switch {
	case s.downSet:
		code = s.down
	case s.closing:
		code = gsmppp.LinkUser
	}
	s.Unlock()
	s.status(gsmppp.LinkEvent{Code: code})
}

func (s *Session) wait(cmd *exec.Cmd, link *ptyLink, authFile string, logw *io.PipeWriter, logDone, done chan struct{}) {
	err := cmd.Wait()
	removeAuthFile(authFile)
	logw.Close()
	<-logDone
	s.log.Info().AnErr("exit", err).Msg("pppd stopped")
	s.reportDown()
	s.Lock()
	if s.cmd == cmd {
		s.cmd = nil
		s.link = nil
	}
	s.Unlock()
	if err := link.Close(); err != nil {
		s.log.Debug().Err(err).Msg("pty close")
	}
	close(done)
}

func removeAuthFile(path string) {
	if path != "" {
		os.Remove(path)
	}
}
