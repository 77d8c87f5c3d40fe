package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jaracil/gsmppp"
	"github.com/rs/zerolog"
)

// fakeModem records calls and answers with canned values.
type fakeModem struct {
	status    gsmppp.Status
	err       error
	calls     []string
	msgs      []gsmppp.Message
	unread    int
	atAnswer  []byte
	rx, tx    uint64
	lastOrder gsmppp.SortOrder
}

func (f *fakeModem) record(format string, args ...any) error {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return f.err
}

func (f *fakeModem) Status() gsmppp.Status { return f.status }

func (f *fakeModem) Init(wait bool, autoConnect bool) error {
	return f.record("Init(%v,%v)", wait, autoConnect)
}

func (f *fakeModem) Connect() error {
	if err := f.record("Connect"); err != nil {
		return err
	}
	f.status = gsmppp.StatusConnected
	return nil
}

func (f *fakeModem) Disconnect(terminate bool, rfOff bool) error {
	return f.record("Disconnect(%v,%v)", terminate, rfOff)
}

func (f *fakeModem) ByteCounters(reset bool) (uint64, uint64) {
	f.record("ByteCounters(%v)", reset)
	return f.rx, f.tx
}

func (f *fakeModem) ResetByteCounters() error { return f.record("ResetByteCounters") }

func (f *fakeModem) Metrics() (*gsmppp.Metrics, error) {
	if err := f.record("Metrics"); err != nil {
		return nil, err
	}
	return &gsmppp.Metrics{
		Status:     f.status,
		NumConns:   3,
		RxBytes:    f.rx,
		RemoteAddr: net.IPv4(10, 0, 0, 1),
	}, nil
}

func (f *fakeModem) RadioOn() error  { return f.record("RadioOn") }
func (f *fakeModem) RadioOff() error { return f.record("RadioOff") }

func (f *fakeModem) SendSMS(number, body string) error {
	return f.record("SendSMS(%s,%s)", number, body)
}

func (f *fakeModem) ListSMS(order gsmppp.SortOrder, unreadOnly bool, deleteAfterRead bool) ([]gsmppp.Message, error) {
	f.lastOrder = order
	if err := f.record("ListSMS(%v,%v)", unreadOnly, deleteAfterRead); err != nil {
		return nil, err
	}
	return f.msgs, nil
}

func (f *fakeModem) CountUnreadSMS() (int, error) {
	return f.unread, f.record("CountUnreadSMS")
}

func (f *fakeModem) DeleteSMS(index int) error { return f.record("DeleteSMS(%d)", index) }

func (f *fakeModem) ATCommand(cmd, resp string, size int, timeout time.Duration, payload string) ([]byte, error) {
	return f.atAnswer, f.record("ATCommand(%s,%s,%d,%v,%s)", cmd, resp, size, timeout, payload)
}

func (f *fakeModem) SetDebug(enabled bool) error { return f.record("SetDebug(%v)", enabled) }

var _ Controller = (*gsmppp.Modem)(nil)

func serve(t *testing.T, f *fakeModem, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	s := NewServer(f, nil, zerolog.Nop())
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func lastCall(f *fakeModem) string {
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

func TestServer_Routes(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		body   string
		code   int
		call   string
	}{
		{"init", "POST", "/api/v1/init?wait=1&connect=true", "", 200, "Init(true,true)"},
		{"connect", "POST", "/api/v1/connect", "", 200, "Connect"},
		{"disconnect", "POST", "/api/v1/disconnect?terminate=1&rf_off=1", "", 200, "Disconnect(true,true)"},
		{"disconnect defaults", "POST", "/api/v1/disconnect", "", 200, "Disconnect(false,false)"},
		{"counters", "GET", "/api/v1/counters?reset=1", "", 200, "ByteCounters(true)"},
		{"reset counters", "DELETE", "/api/v1/counters", "", 204, "ResetByteCounters"},
		{"radio on", "POST", "/api/v1/radio/on", "", 204, "RadioOn"},
		{"radio off", "POST", "/api/v1/radio/off", "", 204, "RadioOff"},
		{"radio bad state", "POST", "/api/v1/radio/maybe", "", 404, ""},
		{"list sms", "GET", "/api/v1/sms?unread=1&delete=0", "", 200, "ListSMS(true,false)"},
		{"send sms", "POST", "/api/v1/sms", `{"number":"+34600","body":"hi"}`, 200, "SendSMS(+34600,hi)"},
		{"send sms no number", "POST", "/api/v1/sms", `{"body":"hi"}`, 400, ""},
		{"send sms bad json", "POST", "/api/v1/sms", `{`, 400, ""},
		{"unread", "GET", "/api/v1/sms/unread", "", 200, "CountUnreadSMS"},
		{"delete sms", "DELETE", "/api/v1/sms/4", "", 204, "DeleteSMS(4)"},
		{"delete sms bad index", "DELETE", "/api/v1/sms/x", "", 404, ""},
		{"at", "POST", "/api/v1/at", `{"command":"AT+CSQ","response":"OK","timeout_ms":500}`, 200, "ATCommand(AT+CSQ,OK,256,500ms,)"},
		{"at no command", "POST", "/api/v1/at", `{}`, 400, ""},
		{"debug", "PUT", "/api/v1/debug", `{"enabled":true}`, 204, "SetDebug(true)"},
		{"wrong method", "GET", "/api/v1/connect", "", 405, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeModem{status: gsmppp.StatusIdle}
			rec := serve(t, f, tt.method, tt.target, tt.body)
			if rec.Code != tt.code {
				t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.target, rec.Code, tt.code, rec.Body.String())
			}
			if got := lastCall(f); got != tt.call {
				t.Errorf("call = %q, want %q", got, tt.call)
			}
		})
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	f := &fakeModem{status: gsmppp.StatusIdle}
	rec := serve(t, f, "DELETE", "/api/v1/status", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("code = %d, want 405", rec.Code)
	}
	var resp apiError
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == "" {
		t.Error("error message missing")
	}
	if len(f.calls) != 0 {
		t.Errorf("calls = %v, want none", f.calls)
	}
}

func TestServer_Status(t *testing.T) {
	f := &fakeModem{status: gsmppp.StatusConnected, rx: 42}
	rec := serve(t, f, "GET", "/api/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "Connected" || resp.RxBytes != 42 || resp.NumConns != 3 || resp.RemoteAddr != "10.0.0.1" {
		t.Errorf("status = %+v", resp)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestServer_ConnectReportsState(t *testing.T) {
	f := &fakeModem{status: gsmppp.StatusIdle}
	rec := serve(t, f, "POST", "/api/v1/connect", "")
	var resp stateResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "Connected" {
		t.Errorf("status = %q, want Connected", resp.Status)
	}
}

func TestServer_ListSMS(t *testing.T) {
	f := &fakeModem{msgs: []gsmppp.Message{{Index: 2, Sender: "+1", Body: "hello", Epoch: 100}}}
	rec := serve(t, f, "GET", "/api/v1/sms?sort=desc", "")
	if f.lastOrder != gsmppp.SortDescending {
		t.Errorf("order = %v, want desc", f.lastOrder)
	}
	var msgs []gsmppp.Message
	if err := json.NewDecoder(rec.Body).Decode(&msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "hello" || msgs[0].Index != 2 {
		t.Errorf("messages = %+v", msgs)
	}

	f = &fakeModem{}
	rec = serve(t, f, "GET", "/api/v1/sms", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty listing = %q, want []", rec.Body.String())
	}
}

func TestServer_ATPartialAnswer(t *testing.T) {
	f := &fakeModem{atAnswer: []byte("\r\n+CSQ: 20,0"), err: gsmppp.ErrTimeout}
	rec := serve(t, f, "POST", "/api/v1/at", `{"command":"AT+CSQ"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var resp atResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Response != "\r\n+CSQ: 20,0" || resp.Error == "" {
		t.Errorf("response = %+v", resp)
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{gsmppp.ErrNotIdle, http.StatusConflict},
		{gsmppp.ErrBusy, http.StatusServiceUnavailable},
		{gsmppp.ErrNotRunning, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: open failed", gsmppp.ErrWorkerStopped), http.StatusServiceUnavailable},
		{gsmppp.ErrTimeout, http.StatusGatewayTimeout},
		{fmt.Errorf("%w: Failure", gsmppp.ErrSendFailed), http.StatusBadGateway},
		{gsmppp.ErrNoPrompt, http.StatusBadGateway},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorCode(tt.err); got != tt.code {
			t.Errorf("errorCode(%v) = %d, want %d", tt.err, got, tt.code)
		}
	}
}

func TestServer_Errors(t *testing.T) {
	f := &fakeModem{err: gsmppp.ErrNotIdle}
	rec := serve(t, f, "POST", "/api/v1/sms", `{"number":"+1","body":"x"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("code = %d, want 409", rec.Code)
	}
	var resp apiError
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != gsmppp.ErrNotIdle.Error() {
		t.Errorf("error = %q", resp.Error)
	}

	f = &fakeModem{err: gsmppp.ErrBusy}
	if rec := serve(t, f, "GET", "/api/v1/status", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want 503", rec.Code)
	}
}

func TestServer_NotRunningModem(t *testing.T) {
	m, err := gsmppp.New(&gsmppp.Config{
		OpenPort: func(string, int) (gsmppp.Port, error) { return nil, errors.New("no port") },
		NewSession: func(func([]byte) (int, error), func(gsmppp.LinkEvent)) (gsmppp.Session, error) {
			return nil, errors.New("no session")
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(m, nil, zerolog.Nop())
	for _, target := range []string{"/api/v1/connect", "/api/v1/radio/on"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest("POST", target, nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("POST %s = %d, want 503", target, rec.Code)
		}
	}
}

func TestServer_CORS(t *testing.T) {
	f := &fakeModem{}
	s := NewServer(f, nil, zerolog.Nop())
	req := httptest.NewRequest("OPTIONS", "/api/v1/sms", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
	if len(f.calls) != 0 {
		t.Errorf("preflight reached the modem: %v", f.calls)
	}
}
