package gsmppp

import (
	"errors"
	"fmt"
	"time"
)

const dataBufSize = 1024

// worker holds txMu until started is cleared, so a caller that borrows the
// channel afterwards sees ErrNotRunning instead of a closed port.
func (m *Modem) worker(done chan struct{}) {
	defer close(done)
	m.txMu.Lock()
	err := m.run()
	m.g.lock()
	m.started = false
	m.exitErr = err
	if serr := m.setStatus(StatusFirstInit); serr != nil {
		m.log.Error().Err(serr).Msg("status reset")
	}
	m.g.unlock()
	m.txMu.Unlock()
	if err != nil {
		m.log.Error().Err(err).Msg("worker terminated")
		return
	}
	m.log.Info().Msg("worker terminated")
}

// connectRequest reads the connect request flag.
func (m *Modem) connectRequest() int {
	m.g.lock()
	defer m.g.unlock()
	return m.connReq
}

func (m *Modem) terminating() bool {
	return m.connectRequest() < 0
}

func (m *Modem) setStatusSync(status Status) {
	m.g.lock()
	defer m.g.unlock()
	if err := m.setStatus(status); err != nil {
		m.log.Warn().Err(err).Msg("status change refused")
	}
}

func (m *Modem) logCommand(c *Command, skipped bool, res Result) {
	m.g.lock()
	defer m.g.unlock()
	if skipped {
		m.traceLocked().Str("cmd", c.Cmd).Msg("skip command")
		return
	}
	if res != ResultSuccess {
		m.metrics.NumInitFailures++
		m.log.Warn().Str("cmd", c.Cmd).Stringer("result", res).Msg("wrong response, restarting")
	}
}

// run is the worker body. It owns the serial channel and the PPP session
// until it returns. txMu is held on entry.
func (m *Modem) run() error {
	port, err := m.cfg.OpenPort(m.cfg.Device, m.cfg.BaudRate)
	if err != nil {
		return fmt.Errorf("open %s: %w", m.cfg.Device, err)
	}
	defer port.Close()
	m.at = &atEngine{port: port, timing: &m.cfg.Timing, trace: m.trace}
	m.script = script{cmds: defaultScript(m.cfg.APN)}
	defer m.freeSession()

	if err := m.hangup(true); errors.Is(err, errStopped) {
		return nil
	} else if err != nil {
		m.log.Warn().Err(err).Msg("initial hangup")
	}

	m.g.lock()
	m.rx, m.tx = 0, 0
	if err := m.setStatus(StatusFirstInit); err != nil {
		m.log.Warn().Err(err).Msg("status change refused")
	}
	m.g.unlock()

	m.script.arm()
	for {
		if m.terminating() {
			return nil
		}
		m.trace().Msg("initialization start")
		time.Sleep(m.cfg.Timing.InitPass)

		connectPass := m.connectRequest() > 0
		if !connectPass {
			m.script.idleOnly()
		}
		err := m.script.run(m.at, m.cfg.Timing.InitRetry, m.cfg.MaxInitFailures, m.terminating, m.logCommand)
		if errors.Is(err, errStopped) {
			return nil
		}
		if err != nil {
			return err
		}
		m.log.Info().Bool("data", connectPass).Msg("modem initialized")

		if m.session == nil {
			s, err := m.cfg.NewSession(m.sessionOutput, m.sessionStatus)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrSessionCreate, err)
			}
			m.session = s
		}

		if !connectPass {
			m.setStatusSync(StatusIdle)
			req := m.idleWait()
			if req < 0 {
				return nil
			}
			m.log.Info().Msg("connect requested")
			m.script.arm()
			continue
		}

		if m.connect() {
			return nil
		}
	}
}

func (m *Modem) freeSession() {
	if m.session == nil {
		return
	}
	if err := m.session.Close(); err != nil {
		m.trace().Err(err).Msg("session close")
	}
	if err := m.session.Free(); err != nil {
		m.log.Warn().Err(err).Msg("session free")
	}
	m.session = nil
}

// connect starts the PPP session and forwards traffic until the session
// ends. It returns true when the worker must exit.
func (m *Modem) connect() bool {
	if err := m.session.SetDefaultRoute(); err != nil {
		m.log.Warn().Err(err).Msg("set default route")
	}
	if err := m.session.SetAuth(m.cfg.User, m.cfg.Password); err != nil {
		m.log.Warn().Err(err).Msg("set auth")
	}
	m.setStatusSync(StatusConnecting)
	if err := m.session.Connect(); err != nil {
		m.log.Error().Err(err).Msg("session connect")
		m.linkFailed()
		return false
	}

	buf := make([]byte, dataBufSize)
	for {
		m.g.lock()
		req, st := m.connReq, m.st
		m.g.unlock()
		if req <= 0 {
			return m.disconnect(buf)
		}
		if st == StatusDisconnected {
			m.log.Error().Msg("disconnected, trying again")
			m.linkFailed()
			return false
		}
		m.pump(buf)
	}
}

// linkFailed recovers from a session that went down on its own. The script
// is armed so the next pass runs it from the top.
func (m *Modem) linkFailed() {
	m.g.lock()
	m.metrics.NumLinkFailures++
	if err := m.setStatus(StatusIdle); err != nil {
		m.log.Warn().Err(err).Msg("status change refused")
	}
	m.g.unlock()
	if err := m.session.Close(); err != nil {
		m.trace().Err(err).Msg("session close")
	}
	if err := m.hangup(false); err != nil && !errors.Is(err, errStopped) {
		m.log.Warn().Err(err).Msg("hangup after link failure")
	}
	m.script.arm()
	time.Sleep(m.cfg.Timing.Reconnect)
}

// disconnect closes the session on request, waits for it to go down and
// hangs up the modem. It then waits in Idle for the next connect request.
// It returns true when the worker must exit.
func (m *Modem) disconnect(buf []byte) bool {
	m.log.Info().Msg("disconnect requested")
	if err := m.session.Close(); err != nil {
		m.trace().Err(err).Msg("session close")
	}
	deadline := time.Now().Add(m.cfg.Timing.LinkDown)
	for {
		m.g.lock()
		st := m.st
		if st != StatusDisconnected && time.Now().After(deadline) {
			m.log.Warn().Msg("session did not report link down")
			if err := m.setStatus(StatusDisconnected); err != nil {
				m.log.Warn().Err(err).Msg("status change refused")
			}
			st = StatusDisconnected
		}
		m.g.unlock()
		if st == StatusDisconnected {
			break
		}
		m.pump(buf)
	}
	time.Sleep(m.cfg.Timing.LinkSettle)

	m.g.lock()
	rfOff := m.rfOff
	m.g.unlock()
	if err := m.hangup(rfOff); err != nil && !errors.Is(err, errStopped) {
		m.log.Warn().Err(err).Msg("hangup")
	}
	m.log.Info().Msg("disconnected")

	m.script.arm()
	m.g.lock()
	if err := m.setStatus(StatusIdle); err != nil {
		m.log.Warn().Err(err).Msg("status change refused")
	}
	req := m.connReq
	m.g.unlock()
	if req < 0 {
		return true
	}
	if m.idleWait() < 0 {
		return true
	}
	m.log.Info().Msg("reconnect requested")
	return false
}

// pump moves one read of modem data into the session.
func (m *Modem) pump(buf []byte) {
	n, err := m.at.port.ReadTimeout(buf, m.cfg.Timing.DataRead)
	if err != nil {
		m.trace().Err(err).Msg("serial read")
		time.Sleep(m.cfg.Timing.DataRead)
		return
	}
	if n == 0 {
		return
	}
	if err := m.session.Input(buf[:n]); err != nil {
		m.trace().Err(err).Msg("session input")
	}
	m.g.lock()
	m.rx += uint64(n)
	m.metrics.TotalRxBytes += uint64(n)
	m.metrics.LastRxTime = time.Now()
	m.g.unlock()
}

// sessionOutput writes session bytes to the modem.
func (m *Modem) sessionOutput(p []byte) (int, error) {
	n, err := m.at.port.Write(p)
	if n > 0 {
		m.g.lock()
		m.tx += uint64(n)
		m.metrics.TotalTxBytes += uint64(n)
		m.metrics.LastTxTime = time.Now()
		m.g.unlock()
	}
	return n, err
}

// sessionStatus maps session link events onto the state machine.
func (m *Modem) sessionStatus(ev LinkEvent) {
	m.g.lock()
	defer m.g.unlock()
	switch {
	case ev.Code == LinkUp:
		m.log.Info().IPAddr("local", ev.Local).IPAddr("remote", ev.Remote).Msg("link up")
		if err := m.setStatus(StatusConnected); err != nil {
			m.traceLocked().Err(err).Msg("link up ignored")
			return
		}
		m.metrics.NumConns++
		m.metrics.LastConnTime = time.Now()
		m.metrics.LocalAddr = ev.Local
		m.metrics.RemoteAddr = ev.Remote
	case ev.Code.Down():
		m.log.Info().Stringer("reason", ev.Code).Msg("link down")
		if err := m.setStatus(StatusDisconnected); err != nil {
			m.traceLocked().Err(err).Msg("link down ignored")
		}
	default:
		m.traceLocked().Stringer("code", ev.Code).Msg("link status")
	}
}

// idleWait polls the control flags while Idle and lends the serial channel
// to callers between polls. New SMS are checked every SMS interval. It
// returns the connect request that ended the wait.
func (m *Modem) idleWait() int {
	var smsTimer time.Duration
	var batch []Message
	var notifier Notifier
	for {
		m.txMu.Unlock()
		if batch != nil {
			notifier.NotifySMS(batch)
			batch = nil
		}
		time.Sleep(m.cfg.Timing.Poll)
		m.txMu.Lock()

		m.g.lock()
		req := m.connReq
		notifier = m.notifier
		interval := m.smsInterval
		m.g.unlock()
		if req != 0 {
			return req
		}
		if notifier == nil || interval <= 0 {
			continue
		}
		if smsTimer > interval {
			smsTimer = 0
			batch = m.pollSMS()
		} else {
			smsTimer += m.cfg.Timing.Poll
		}
	}
}

// Bounds of one hangup. The escape sequence is repeated every escapeEvery
// failed ATH attempts.
const (
	hangupTries = 15
	escapeEvery = 5
)

// hangup returns the modem to command mode and optionally switches the
// radio off. The escape sequence is skipped when the modem already answers
// in command mode. It gives up after hangupTries failed ATH attempts, and
// with errStopped when a terminate request is seen between attempts.
func (m *Modem) hangup(rfOff bool) error {
	t := &m.cfg.Timing
	if res, _ := m.at.exec("AT\r\n", "OK", "", time.Second); res == ResultSuccess {
		if rfOff {
			m.radioOff(10 * time.Second)
		}
		return nil
	}
	m.trace().Msg("online, disconnecting")
	m.escape(t.EscapeGuard, t.EscapeSettle)
	for n := 1; ; n++ {
		res, err := m.at.exec("ATH\r\n", "OK", "NO CARRIER", t.Hangup)
		if err != nil {
			return fmt.Errorf("hangup: %w", err)
		}
		if res == ResultSuccess || res == ResultAltMatched {
			break
		}
		if m.terminating() {
			return errStopped
		}
		if n >= hangupTries {
			return fmt.Errorf("hangup: %w", res.Err())
		}
		if n%escapeEvery == 0 {
			m.trace().Msg("still connected")
			m.escape(t.EscapeGuard, t.EscapeGuard)
		}
		time.Sleep(t.HangupRetry)
	}
	time.Sleep(t.HangupRetry)
	if rfOff {
		m.radioOff(3 * time.Second)
	}
	m.trace().Msg("hung up")
	return nil
}

func (m *Modem) radioOff(timeout time.Duration) {
	m.script.setRegTimeout(regTimeoutRFOff)
	if res, err := m.at.exec("AT+CFUN=4\r\n", "OK", "", timeout); err != nil || res != ResultSuccess {
		m.log.Warn().Err(err).Stringer("result", res).Msg("radio off")
	}
}

// escape sends "+++" surrounded by the given guard times.
func (m *Modem) escape(pre, post time.Duration) {
	time.Sleep(pre)
	if err := m.at.port.Flush(); err != nil {
		m.trace().Err(err).Msg("flush")
	}
	if _, err := m.at.port.Write([]byte("+++")); err != nil {
		m.trace().Err(err).Msg("escape")
	}
	time.Sleep(post)
}
