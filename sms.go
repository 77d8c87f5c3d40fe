package gsmppp

//go:generate mockgen -source=sms.go -destination=mock_notifier_test.go -package=gsmppp

import (
	"fmt"
	"time"
)

// Notifier receives batches of new messages from the worker. NotifySMS is
// called from the worker goroutine and must not block.
type Notifier interface {
	NotifySMS(msgs []Message)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(msgs []Message)

// NotifySMS calls f(msgs).
func (f NotifierFunc) NotifySMS(msgs []Message) {
	f(msgs)
}

// SetSMSNotifier registers n to receive unread messages, checked every
// interval while the modem is Idle. A nil n or a zero interval disables the
// check.
func (m *Modem) SetSMSNotifier(n Notifier, interval time.Duration) error {
	if !m.g.tryLock(m.cfg.GuardTimeout) {
		return ErrBusy
	}
	defer m.g.unlock()
	m.notifier = n
	m.smsInterval = interval
	return nil
}

// smsReady checks that the radio is on and selects text mode. txMu must be
// held.
func (m *Modem) smsReady() error {
	if err := m.checkIdle(); err != nil {
		return err
	}
	res, err := m.at.exec("AT+CFUN?\r\n", "+CFUN: 1", "", time.Second)
	if err != nil {
		return err
	}
	if res != ResultSuccess {
		return fmt.Errorf("radio check: %w", res.Err())
	}
	res, err = m.at.exec("AT+CMGF=1\r\n", "OK", "", time.Second)
	if err != nil {
		return err
	}
	if res != ResultSuccess {
		return fmt.Errorf("text mode: %w", res.Err())
	}
	return nil
}

// SendSMS sends body to number. The modem must be Idle.
func (m *Modem) SendSMS(number, body string) error {
	if err := m.borrow(); err != nil {
		return err
	}
	defer m.txMu.Unlock()
	if err := m.smsReady(); err != nil {
		return err
	}
	res, err := m.at.exec(fmt.Sprintf("AT+CMGS=\"%s\"\r\n", number), "> ", "", time.Second)
	if err != nil {
		return err
	}
	if res != ResultSuccess {
		m.abortSMS()
		return ErrNoPrompt
	}
	res, err = m.at.exec(body+"\x1a", "+CMGS: ", "ERROR", 40*time.Second)
	if err != nil {
		return err
	}
	if res != ResultSuccess {
		m.abortSMS()
		return fmt.Errorf("%w: %s", ErrSendFailed, res)
	}
	return nil
}

// abortSMS leaves the message input mode.
func (m *Modem) abortSMS() {
	if _, err := m.at.exec("\x1b", "OK", "", time.Second); err != nil {
		m.trace().Err(err).Msg("SMS abort")
	}
}

// ListSMS reads the stored messages, or only the unread ones, optionally
// sorted by time. Listing marks unread messages as read. With
// deleteAfterRead set, every listed message is then deleted from the modem.
// The modem must be Idle.
func (m *Modem) ListSMS(order SortOrder, unreadOnly bool, deleteAfterRead bool) ([]Message, error) {
	if err := m.borrow(); err != nil {
		return nil, err
	}
	defer m.txMu.Unlock()
	msgs, err := m.listSMS(order, unreadOnly)
	if err != nil {
		return nil, err
	}
	if deleteAfterRead {
		for _, msg := range msgs {
			if err := m.deleteSMS(msg.Index); err != nil {
				m.log.Warn().Err(err).Int("index", msg.Index).Msg("SMS delete")
			}
		}
	}
	return msgs, nil
}

func (m *Modem) listSMS(order SortOrder, unreadOnly bool) ([]Message, error) {
	if err := m.smsReady(); err != nil {
		return nil, err
	}
	cmd := "AT+CMGL=\"ALL\"\r\n"
	if unreadOnly {
		cmd = "AT+CMGL=\"REC UNREAD\"\r\n"
	}
	buf, res, err := m.at.execFinal(cmd, "\r\nOK\r\n", 1024, time.Second)
	if err != nil {
		return nil, err
	}
	if res == ResultTimeout {
		return nil, ErrTimeout
	}
	return sortMessages(parseMessages(buf), order), nil
}

// CountUnreadSMS returns the number of unread messages without marking
// them as read. The modem must be Idle.
func (m *Modem) CountUnreadSMS() (int, error) {
	if err := m.borrow(); err != nil {
		return 0, err
	}
	defer m.txMu.Unlock()
	return m.countUnread()
}

func (m *Modem) countUnread() (int, error) {
	if err := m.smsReady(); err != nil {
		return 0, err
	}
	buf, res, err := m.at.execFinal("AT+CMGL=\"REC UNREAD\",1\r\n", "\r\nOK\r\n", 1024, time.Second)
	if err != nil {
		return 0, err
	}
	if res == ResultTimeout {
		return 0, ErrTimeout
	}
	return countMessages(buf), nil
}

// DeleteSMS deletes the message stored at index. The modem must be Idle.
func (m *Modem) DeleteSMS(index int) error {
	if err := m.borrow(); err != nil {
		return err
	}
	defer m.txMu.Unlock()
	if err := m.smsReady(); err != nil {
		return err
	}
	return m.deleteSMS(index)
}

func (m *Modem) deleteSMS(index int) error {
	res, err := m.at.exec(fmt.Sprintf("AT+CMGD=%d\r\n", index), "OK", "", 5*time.Second)
	if err != nil {
		return err
	}
	return res.Err()
}

// pollSMS returns the unread messages, or nil when there are none. It runs
// on the worker with tracing muted.
func (m *Modem) pollSMS() []Message {
	m.at.mute = true
	defer func() { m.at.mute = false }()
	n, err := m.countUnread()
	if err != nil || n == 0 {
		return nil
	}
	msgs, err := m.listSMS(SortDescending, true)
	if err != nil || len(msgs) == 0 {
		return nil
	}
	return msgs
}
