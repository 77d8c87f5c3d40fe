package gsmppp

import (
	"bytes"
	"cmp"
	"encoding/csv"
	"slices"
	"strconv"
	"strings"
	"time"
)

const recordMarker = "+CMGL: "

// SortOrder selects the order of listed messages.
type SortOrder int

const (
	// SortNone keeps the order reported by the modem
	SortNone SortOrder = iota
	// SortAscending orders messages oldest first
	SortAscending
	// SortDescending orders messages newest first
	SortDescending
)

// String returns a human-readable string representation of the sort order.
func (o SortOrder) String() string {
	switch o {
	case SortAscending:
		return "asc"
	case SortDescending:
		return "desc"
	default:
		return "none"
	}
}

// SortOrderFromString converts "asc" or "desc" to a SortOrder. Anything else
// is SortNone.
func SortOrderFromString(s string) SortOrder {
	switch strings.ToLower(s) {
	case "asc":
		return SortAscending
	case "desc":
		return SortDescending
	default:
		return SortNone
	}
}

// Message is a stored SMS.
type Message struct {
	// Index is the storage slot, used to delete the message
	Index int `json:"index"`
	// Status is the storage status, such as "REC UNREAD"
	Status string `json:"status"`
	// Sender is the originating address
	Sender string `json:"sender"`
	// Timestamp is the service centre timestamp as reported
	Timestamp string `json:"timestamp"`
	// Epoch is Timestamp read as UTC wall clock, or 0 when malformed
	Epoch int64 `json:"epoch"`
	// TZ is the timezone offset in hours
	TZ int `json:"tz"`
	// Body is the message text
	Body string `json:"body"`
}

// Time returns the message time in its own timezone. It is the zero time
// when the timestamp was malformed.
func (m *Message) Time() time.Time {
	if m.Epoch == 0 {
		return time.Time{}
	}
	t := time.Unix(m.Epoch, 0).UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.FixedZone("", m.TZ*3600))
}

// countMessages counts the record markers in a listing.
func countMessages(raw []byte) int {
	return bytes.Count(raw, []byte(recordMarker))
}

// parseMessages splits a listing into messages. Each record runs from its
// marker to the next one and holds a header line and a body line; a record
// missing either line terminator is dropped.
func parseMessages(raw []byte) []Message {
	var msgs []Message
	marker := []byte(recordMarker)
	rest := raw
	for {
		i := bytes.Index(rest, marker)
		if i < 0 {
			break
		}
		rest = rest[i+len(marker):]
		rec := rest
		if j := bytes.Index(rest, marker); j >= 0 {
			rec = rest[:j]
		}
		if msg, ok := parseRecord(rec); ok {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

func parseRecord(rec []byte) (Message, bool) {
	hdr, body, ok := bytes.Cut(rec, []byte("\r\n"))
	if !ok {
		return Message{}, false
	}
	body, _, ok = bytes.Cut(body, []byte("\r\n"))
	if !ok {
		return Message{}, false
	}
	msg := Message{Body: string(body)}
	fields := splitHeader(string(hdr))
	field := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}
	msg.Index, _ = strconv.Atoi(field(0))
	msg.Status = field(1)
	msg.Sender = field(2)
	msg.Timestamp = field(4)
	msg.Epoch, msg.TZ = parseTimestamp(msg.Timestamp)
	return msg, true
}

// splitHeader splits a record header on commas outside quotes:
// index,"status","sender","alpha","timestamp".
func splitHeader(hdr string) []string {
	r := csv.NewReader(strings.NewReader(hdr))
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	fields, err := r.Read()
	if err != nil {
		return nil
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}

// parseTimestamp reads "YY/MM/DD,HH:MM:SS±ZZ" where ZZ is in quarter hours.
// It returns the UTC epoch of the wall clock time and the offset in hours.
func parseTimestamp(ts string) (int64, int) {
	if len(ts) < 20 {
		return 0, 0
	}
	t, err := time.Parse("06/01/02,15:04:05", ts[:17])
	if err != nil {
		return 0, 0
	}
	if t.Year() < 2000 {
		t = t.AddDate(100, 0, 0)
	}
	tz, err := strconv.Atoi(ts[17:])
	if err != nil {
		return 0, 0
	}
	return t.Unix(), tz / 4
}

// sortMessages returns msgs ordered by Epoch. Messages with equal times
// keep their relative order.
func sortMessages(msgs []Message, order SortOrder) []Message {
	if order == SortNone || len(msgs) == 0 {
		return msgs
	}
	sorted := slices.Clone(msgs)
	slices.SortStableFunc(sorted, func(a, b Message) int {
		if order == SortDescending {
			return cmp.Compare(b.Epoch, a.Epoch)
		}
		return cmp.Compare(a.Epoch, b.Epoch)
	})
	return sorted
}
