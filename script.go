package gsmppp

import (
	"fmt"
	"time"
)

// Command is one step of the modem initialization script.
type Command struct {
	// Cmd is the command line, sent followed by CRLF
	Cmd string
	// Resp is the text expected in a successful answer
	Resp string
	// Timeout bounds one attempt
	Timeout time.Duration
	// Delay is applied after a successful answer
	Delay time.Duration

	skip      bool
	delayOnce bool
}

// Indices of the script entries the worker adjusts at run time.
const (
	cmdRegistration = 6
	cmdAPN          = 7
	cmdConnect      = 8
)

const (
	regTimeout      = 3 * time.Second
	regTimeoutRFOff = 10 * time.Second
)

// defaultScript returns the bring-up sequence for apn. The last two entries
// configure the PDP context and switch the modem to data mode.
func defaultScript(apn string) []Command {
	return []Command{
		{Cmd: "AT", Resp: "OK", Timeout: 300 * time.Millisecond},
		{Cmd: "ATZ", Resp: "OK", Timeout: 300 * time.Millisecond},
		{Cmd: "ATE0", Resp: "OK", Timeout: 300 * time.Millisecond},
		{Cmd: "AT+CFUN=1", Resp: "OK", Timeout: 10 * time.Second, Delay: time.Second},
		{Cmd: "AT+CNMI=0,0,0,0,0", Resp: "OK", Timeout: time.Second},
		{Cmd: "AT+CPIN?", Resp: "CPIN: READY", Timeout: 5 * time.Second},
		{Cmd: "AT+CREG?", Resp: "CREG: 0,1", Timeout: regTimeout, Delay: 2 * time.Second, delayOnce: true},
		{Cmd: fmt.Sprintf("AT+CGDCONT=1,\"IP\",\"%s\"", apn), Resp: "OK", Timeout: 8 * time.Second},
		{Cmd: "AT+CGDATA=\"PPP\",1", Resp: "CONNECT", Timeout: 30 * time.Second, Delay: time.Second},
	}
}

// script is the initialization sequencer.
type script struct {
	cmds []Command
}

// arm clears every skip flag so the next pass runs the whole script.
func (s *script) arm() {
	for i := range s.cmds {
		s.cmds[i].skip = false
	}
}

// idleOnly disables the data-mode entries for the next pass.
func (s *script) idleOnly() {
	s.cmds[cmdAPN].skip = true
	s.cmds[cmdConnect].skip = true
}

// setRegTimeout changes the registration check timeout.
func (s *script) setRegTimeout(d time.Duration) {
	s.cmds[cmdRegistration].Timeout = d
}

// scriptRunner is implemented by the modem worker and by tests.
type scriptRunner interface {
	exec(cmd, resp, alt string, timeout time.Duration) (Result, error)
}

// run executes every entry not yet satisfied. A failed entry restarts the
// script from the top after retry. It returns ErrInitFailed once more than
// maxFail attempts failed. stop is checked before each retry; a true result
// ends the run with errStopped.
func (s *script) run(r scriptRunner, retry time.Duration, maxFail int, stop func() bool, log func(c *Command, skipped bool, res Result)) error {
	nfail := 0
	for i := 0; i < len(s.cmds); {
		c := &s.cmds[i]
		if c.skip {
			log(c, true, ResultSuccess)
			i++
			continue
		}
		res, err := r.exec(c.Cmd+"\r\n", c.Resp, "", c.Timeout)
		log(c, false, res)
		if err != nil || res != ResultSuccess {
			nfail++
			if nfail > maxFail {
				return ErrInitFailed
			}
			time.Sleep(retry)
			if stop() {
				return errStopped
			}
			i = 0
			continue
		}
		if c.Delay > 0 {
			time.Sleep(c.Delay)
		}
		c.skip = true
		if c.delayOnce {
			c.Delay = 0
		}
		i++
	}
	return nil
}
