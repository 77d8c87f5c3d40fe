package simmodem

import (
	"fmt"
	"slices"
	"time"
)

// Storage status values reported by AT+CMGL.
const (
	SMSAll    = "ALL"
	SMSUnread = "REC UNREAD"
	SMSRead   = "REC READ"
)

// SMS is a message held in the modem storage.
type SMS struct {
	Index     int
	Status    string
	Sender    string
	Timestamp string
	Body      string
}

// Sent is a message accepted by AT+CMGS.
type Sent struct {
	Ref  int
	To   string
	Body string
	Time time.Time
}

// Timestamp formats t the way the service centre reports it,
// "YY/MM/DD,HH:MM:SS±ZZ" with ZZ in quarter hours.
func Timestamp(t time.Time) string {
	_, off := t.Zone()
	return fmt.Sprintf("%s%+03d", t.Format("06/01/02,15:04:05"), off/900)
}

// Deliver stores an unread message from sender and returns its index.
func (m *Modem) Deliver(sender, body string, t time.Time) int {
	m.Lock()
	defer m.Unlock()
	index := 1
	for slices.ContainsFunc(m.store, func(s SMS) bool { return s.Index == index }) {
		index++
	}
	m.store = append(m.store, SMS{
		Index:     index,
		Status:    SMSUnread,
		Sender:    sender,
		Timestamp: Timestamp(t),
		Body:      body,
	})
	return index
}

// Messages returns a copy of the message storage.
func (m *Modem) Messages() []SMS {
	m.Lock()
	defer m.Unlock()
	return slices.Clone(m.store)
}

// Sent returns the messages sent so far.
func (m *Modem) Sent() []Sent {
	m.Lock()
	defer m.Unlock()
	return slices.Clone(m.sent)
}

func (m *Modem) remove(index int) bool {
	i := slices.IndexFunc(m.store, func(s SMS) bool { return s.Index == index })
	if i < 0 {
		return false
	}
	m.store = slices.Delete(m.store, i, i+1)
	return true
}
