package gsmppp

import (
	"testing"
	"time"
)

const listing = "\r\n" +
	"+CMGL: 1,\"REC UNREAD\",\"+34600000001\",,\"21/05/01,12:30:00+08\"\r\nfirst\r\n" +
	"+CMGL: 2,\"REC READ\",\"+34600000002\",\"Alice\",\"21/05/01,12:31:00-04\"\r\nsecond, with comma\r\n" +
	"\r\nOK\r\n"

func TestSortOrderFromString(t *testing.T) {
	tests := []struct {
		in   string
		want SortOrder
	}{
		{"asc", SortAscending},
		{"DESC", SortDescending},
		{"none", SortNone},
		{"", SortNone},
		{"sideways", SortNone},
	}
	for _, tt := range tests {
		if got := SortOrderFromString(tt.in); got != tt.want {
			t.Errorf("SortOrderFromString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if SortDescending.String() != "desc" || SortAscending.String() != "asc" || SortNone.String() != "none" {
		t.Error("SortOrder.String() mismatch")
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		ts    string
		epoch int64
		tz    int
	}{
		{"21/05/01,12:30:00+08", 1619872200, 2},
		{"21/05/01,12:31:00-04", 1619872260, -1},
		{"99/12/31,23:59:59+00", 4102444799, 0},
		{"21/05/01,12:30:00", 0, 0},
		{"21/13/01,12:30:00+08", 0, 0},
		{"garbage garbage garbage", 0, 0},
		{"", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.ts, func(t *testing.T) {
			epoch, tz := parseTimestamp(tt.ts)
			if epoch != tt.epoch || tz != tt.tz {
				t.Errorf("parseTimestamp(%q) = %d, %d, want %d, %d", tt.ts, epoch, tz, tt.epoch, tt.tz)
			}
		})
	}
}

func TestParseMessages(t *testing.T) {
	msgs := parseMessages([]byte(listing))
	if len(msgs) != 2 {
		t.Fatalf("parseMessages() = %d messages, want 2", len(msgs))
	}

	m := msgs[0]
	if m.Index != 1 || m.Status != "REC UNREAD" || m.Sender != "+34600000001" || m.Body != "first" {
		t.Errorf("first message = %+v", m)
	}
	if m.Timestamp != "21/05/01,12:30:00+08" || m.Epoch != 1619872200 || m.TZ != 2 {
		t.Errorf("first message time = %q %d %d", m.Timestamp, m.Epoch, m.TZ)
	}

	m = msgs[1]
	if m.Index != 2 || m.Status != "REC READ" || m.Body != "second, with comma" {
		t.Errorf("second message = %+v", m)
	}
	if m.TZ != -1 {
		t.Errorf("second message TZ = %d, want -1", m.TZ)
	}
}

func TestParseMessages_Malformed(t *testing.T) {
	raw := "+CMGL: 1,\"REC READ\",\"+1\",,\"21/05/01,12:30:00+08\"\r\nok\r\n" +
		"+CMGL: 2,\"REC READ\",\"+2\",,\"21/05/01,12:30:00+08\"" +
		"+CMGL: 3,\"REC READ\",\"+3\",,\"bad\"\r\nbody\r\n"
	msgs := parseMessages([]byte(raw))
	if len(msgs) != 2 {
		t.Fatalf("parseMessages() = %d messages, want 2", len(msgs))
	}
	if msgs[0].Index != 1 || msgs[1].Index != 3 {
		t.Errorf("indices = %d, %d, want 1, 3", msgs[0].Index, msgs[1].Index)
	}
	if msgs[1].Epoch != 0 || !msgs[1].Time().IsZero() {
		t.Errorf("malformed timestamp gave epoch %d", msgs[1].Epoch)
	}
}

func TestParseMessages_Empty(t *testing.T) {
	if msgs := parseMessages([]byte("\r\nOK\r\n")); len(msgs) != 0 {
		t.Errorf("parseMessages() = %d messages, want 0", len(msgs))
	}
}

func TestCountMessages(t *testing.T) {
	if n := countMessages([]byte(listing)); n != 2 {
		t.Errorf("countMessages() = %d, want 2", n)
	}
	if n := countMessages([]byte("\r\nOK\r\n")); n != 0 {
		t.Errorf("countMessages() = %d, want 0", n)
	}
}

func TestMessage_Time(t *testing.T) {
	m := Message{Epoch: 1619872200, TZ: 2}
	got := m.Time()
	if got.Hour() != 12 || got.Minute() != 30 {
		t.Errorf("Time() = %v, want 12:30 wall clock", got)
	}
	if _, off := got.Zone(); off != 7200 {
		t.Errorf("zone offset = %d, want 7200", off)
	}
	if !got.Equal(time.Date(2021, 5, 1, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("Time() = %v", got)
	}
}

func TestSortMessages(t *testing.T) {
	msgs := []Message{
		{Index: 1, Epoch: 300},
		{Index: 2, Epoch: 100},
		{Index: 3, Epoch: 200},
		{Index: 4, Epoch: 100},
	}

	if got := sortMessages(msgs, SortNone); got[0].Index != 1 || got[3].Index != 4 {
		t.Errorf("SortNone changed order: %v", got)
	}

	asc := sortMessages(msgs, SortAscending)
	wantAsc := []int{2, 4, 3, 1}
	for i, idx := range wantAsc {
		if asc[i].Index != idx {
			t.Errorf("ascending[%d] = %d, want %d", i, asc[i].Index, idx)
		}
	}

	desc := sortMessages(msgs, SortDescending)
	wantDesc := []int{1, 3, 2, 4}
	for i, idx := range wantDesc {
		if desc[i].Index != idx {
			t.Errorf("descending[%d] = %d, want %d", i, desc[i].Index, idx)
		}
	}

	if msgs[0].Index != 1 {
		t.Error("sortMessages modified its input")
	}
}
