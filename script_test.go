package gsmppp

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// fakeRunner answers script commands from a table. Commands missing from
// the table succeed; the last answer listed for a command repeats.
type fakeRunner struct {
	answers map[string][]Result
	sent    []string
}

func (f *fakeRunner) exec(cmd, resp, alt string, timeout time.Duration) (Result, error) {
	cmd = strings.TrimSuffix(cmd, "\r\n")
	f.sent = append(f.sent, cmd)
	rs, ok := f.answers[cmd]
	if !ok || len(rs) == 0 {
		return ResultSuccess, nil
	}
	r := rs[0]
	if len(rs) > 1 {
		f.answers[cmd] = rs[1:]
	}
	return r, nil
}

func quickScript() script {
	cmds := defaultScript("internet")
	for i := range cmds {
		cmds[i].Delay = 0
	}
	return script{cmds: cmds}
}

func never() bool { return false }

func TestDefaultScript(t *testing.T) {
	cmds := defaultScript("web.apn")
	if len(cmds) != 9 {
		t.Fatalf("script has %d commands, want 9", len(cmds))
	}
	if cmds[cmdAPN].Cmd != "AT+CGDCONT=1,\"IP\",\"web.apn\"" {
		t.Errorf("APN command = %q", cmds[cmdAPN].Cmd)
	}
	if cmds[cmdConnect].Resp != "CONNECT" {
		t.Errorf("connect response = %q", cmds[cmdConnect].Resp)
	}
	if cmds[cmdRegistration].Timeout != regTimeout {
		t.Errorf("registration timeout = %v", cmds[cmdRegistration].Timeout)
	}
}

func TestScript_RunAll(t *testing.T) {
	s := quickScript()
	r := &fakeRunner{}
	var logged int
	err := s.run(r, 0, 3, never, func(c *Command, skipped bool, res Result) { logged++ })
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if len(r.sent) != 9 || logged != 9 {
		t.Errorf("sent %d commands, logged %d, want 9", len(r.sent), logged)
	}
	if r.sent[len(r.sent)-1] != "AT+CGDATA=\"PPP\",1" {
		t.Errorf("last command = %q", r.sent[len(r.sent)-1])
	}

	// a second run finds every entry satisfied
	r.sent = nil
	if err := s.run(r, 0, 3, never, func(*Command, bool, Result) {}); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if len(r.sent) != 0 {
		t.Errorf("satisfied script sent %q", r.sent)
	}

	s.arm()
	r.sent = nil
	s.idleOnly()
	if err := s.run(r, 0, 3, never, func(*Command, bool, Result) {}); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if len(r.sent) != 7 {
		t.Errorf("idle pass sent %d commands, want 7", len(r.sent))
	}
}

func TestScript_RetryFromTop(t *testing.T) {
	s := quickScript()
	r := &fakeRunner{answers: map[string][]Result{
		"AT+CREG?": {ResultFailure, ResultSuccess},
	}}
	failures := 0
	err := s.run(r, time.Millisecond, 3, never, func(c *Command, skipped bool, res Result) {
		if !skipped && res != ResultSuccess {
			failures++
		}
	})
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if failures != 1 {
		t.Errorf("failures = %d, want 1", failures)
	}
	// satisfied entries are skipped on the retry pass
	n := 0
	for _, c := range r.sent {
		if c == "ATZ" {
			n++
		}
	}
	if n != 1 {
		t.Errorf("ATZ sent %d times, want 1", n)
	}
}

func TestScript_GivesUp(t *testing.T) {
	s := quickScript()
	r := &fakeRunner{answers: map[string][]Result{
		"AT+CPIN?": {ResultTimeout},
	}}
	err := s.run(r, time.Millisecond, 2, never, func(*Command, bool, Result) {})
	if !errors.Is(err, ErrInitFailed) {
		t.Errorf("run() error = %v, want ErrInitFailed", err)
	}
}

func TestScript_Stop(t *testing.T) {
	s := quickScript()
	r := &fakeRunner{answers: map[string][]Result{
		"AT": {ResultTimeout},
	}}
	err := s.run(r, time.Millisecond, 10, func() bool { return true }, func(*Command, bool, Result) {})
	if !errors.Is(err, errStopped) {
		t.Errorf("run() error = %v, want errStopped", err)
	}
	if len(r.sent) != 1 {
		t.Errorf("sent %d commands after stop, want 1", len(r.sent))
	}
}

func TestScript_DelayOnce(t *testing.T) {
	s := script{cmds: defaultScript("internet")}
	for i := range s.cmds {
		if i != cmdRegistration {
			s.cmds[i].Delay = 0
		}
	}
	s.cmds[cmdRegistration].Delay = 20 * time.Millisecond
	r := &fakeRunner{}
	if err := s.run(r, 0, 1, never, func(*Command, bool, Result) {}); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if s.cmds[cmdRegistration].Delay != 0 {
		t.Errorf("registration delay = %v after first success, want 0", s.cmds[cmdRegistration].Delay)
	}

	s.setRegTimeout(regTimeoutRFOff)
	if s.cmds[cmdRegistration].Timeout != regTimeoutRFOff {
		t.Errorf("registration timeout = %v, want %v", s.cmds[cmdRegistration].Timeout, regTimeoutRFOff)
	}
}
