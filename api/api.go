// Package api exposes a modem over HTTP. Routes live under /api/v1 and new
// SMS batches and status changes are pushed to websocket clients on /ws.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/jaracil/gsmppp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

const apiPrefix = "/api/v1"

// Controller is the part of *gsmppp.Modem the HTTP surface drives.
type Controller interface {
	Status() gsmppp.Status
	Init(wait bool, autoConnect bool) error
	Connect() error
	Disconnect(terminate bool, rfOff bool) error
	ByteCounters(reset bool) (rx, tx uint64)
	ResetByteCounters() error
	Metrics() (*gsmppp.Metrics, error)
	RadioOn() error
	RadioOff() error
	SendSMS(number, body string) error
	ListSMS(order gsmppp.SortOrder, unreadOnly bool, deleteAfterRead bool) ([]gsmppp.Message, error)
	CountUnreadSMS() (int, error)
	DeleteSMS(index int) error
	ATCommand(cmd, resp string, size int, timeout time.Duration, payload string) ([]byte, error)
	SetDebug(enabled bool) error
}

// Server serves the HTTP API of one modem.
type Server struct {
	ctl    Controller
	hub    *Hub
	log    zerolog.Logger
	router *mux.Router
}

// NewServer builds the routes for ctl. hub may be nil, in which case /ws is
// not served.
func NewServer(ctl Controller, hub *Hub, logger zerolog.Logger) *Server {
	s := &Server{
		ctl:    ctl,
		hub:    hub,
		log:    logger.With().Str("component", "api").Logger(),
		router: mux.NewRouter(),
	}
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
	})
	s.handle("/status", s.handleStatus, http.MethodGet)
	s.handle("/init", s.handleInit, http.MethodPost)
	s.handle("/connect", s.handleConnect, http.MethodPost)
	s.handle("/disconnect", s.handleDisconnect, http.MethodPost)
	s.handle("/counters", s.handleCounters, http.MethodGet)
	s.handle("/counters", s.handleResetCounters, http.MethodDelete)
	s.handle("/radio/{state:on|off}", s.handleRadio, http.MethodPost)
	s.handle("/sms", s.handleListSMS, http.MethodGet)
	s.handle("/sms", s.handleSendSMS, http.MethodPost)
	s.handle("/sms/unread", s.handleUnreadSMS, http.MethodGet)
	s.handle("/sms/{index:[0-9]+}", s.handleDeleteSMS, http.MethodDelete)
	s.handle("/at", s.handleAT, http.MethodPost)
	s.handle("/debug", s.handleDebug, http.MethodPut)

	if hub != nil {
		s.router.Handle("/ws", hub)
	}
	return s
}

// Handler returns the routes wrapped with a permissive CORS policy.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(s.router)
}

// handle registers an API route on the root router, where a method mismatch
// is answered with 405.
func (s *Server) handle(path string, h http.HandlerFunc, method string) {
	s.router.Handle(apiPrefix+path, s.accessLog(h)).Methods(method)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("code", rec.code).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

type apiError struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn().Err(err).Msg("encode response")
	}
}

// errorCode maps modem errors onto HTTP status codes.
func errorCode(err error) int {
	switch {
	case errors.Is(err, gsmppp.ErrNotIdle):
		return http.StatusConflict
	case errors.Is(err, gsmppp.ErrBusy), errors.Is(err, gsmppp.ErrNotRunning),
		errors.Is(err, gsmppp.ErrWorkerStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, gsmppp.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, gsmppp.ErrNoResponse), errors.Is(err, gsmppp.ErrNoPrompt),
		errors.Is(err, gsmppp.ErrSendFailed), errors.Is(err, gsmppp.ErrBufferOverflow):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := errorCode(err)
	if code == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	s.writeJSON(w, code, apiError{Error: err.Error()})
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, apiError{Error: msg})
}

// queryBool reads a boolean query parameter. Missing or malformed values are false.
func queryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

type statusResponse struct {
	Status          string    `json:"status"`
	RxBytes         uint64    `json:"rx_bytes"`
	TxBytes         uint64    `json:"tx_bytes"`
	TotalRxBytes    uint64    `json:"total_rx_bytes"`
	TotalTxBytes    uint64    `json:"total_tx_bytes"`
	NumConns        int       `json:"num_conns"`
	NumLinkFailures int       `json:"num_link_failures"`
	NumInitFailures int       `json:"num_init_failures"`
	LastConnTime    time.Time `json:"last_conn_time,omitempty"`
	LocalAddr       string    `json:"local_addr,omitempty"`
	RemoteAddr      string    `json:"remote_addr,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	m, err := s.ctl.Metrics()
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := statusResponse{
		Status:          m.Status.String(),
		RxBytes:         m.RxBytes,
		TxBytes:         m.TxBytes,
		TotalRxBytes:    m.TotalRxBytes,
		TotalTxBytes:    m.TotalTxBytes,
		NumConns:        m.NumConns,
		NumLinkFailures: m.NumLinkFailures,
		NumInitFailures: m.NumInitFailures,
		LastConnTime:    m.LastConnTime,
	}
	if m.LocalAddr != nil {
		resp.LocalAddr = m.LocalAddr.String()
	}
	if m.RemoteAddr != nil {
		resp.RemoteAddr = m.RemoteAddr.String()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type stateResponse struct {
	Status string `json:"status"`
}

func (s *Server) writeState(w http.ResponseWriter) {
	s.writeJSON(w, http.StatusOK, stateResponse{Status: s.ctl.Status().String()})
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Init(queryBool(r, "wait"), queryBool(r, "connect")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Connect(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Disconnect(queryBool(r, "terminate"), queryBool(r, "rf_off")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeState(w)
}

type countersResponse struct {
	Rx uint64 `json:"rx"`
	Tx uint64 `json:"tx"`
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	rx, tx := s.ctl.ByteCounters(queryBool(r, "reset"))
	s.writeJSON(w, http.StatusOK, countersResponse{Rx: rx, Tx: tx})
}

func (s *Server) handleResetCounters(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.ResetByteCounters(); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRadio(w http.ResponseWriter, r *http.Request) {
	var err error
	if mux.Vars(r)["state"] == "on" {
		err = s.ctl.RadioOn()
	} else {
		err = s.ctl.RadioOff()
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSMS(w http.ResponseWriter, r *http.Request) {
	order := gsmppp.SortOrderFromString(r.URL.Query().Get("sort"))
	msgs, err := s.ctl.ListSMS(order, queryBool(r, "unread"), queryBool(r, "delete"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []gsmppp.Message{}
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

type sendSMSRequest struct {
	Number string `json:"number"`
	Body   string `json:"body"`
}

func (s *Server) handleSendSMS(w http.ResponseWriter, r *http.Request) {
	var req sendSMSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request")
		return
	}
	if req.Number == "" {
		s.badRequest(w, "number is required")
		return
	}
	if err := s.ctl.SendSMS(req.Number, req.Body); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleUnreadSMS(w http.ResponseWriter, r *http.Request) {
	n, err := s.ctl.CountUnreadSMS()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (s *Server) handleDeleteSMS(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		s.badRequest(w, "invalid index")
		return
	}
	if err := s.ctl.DeleteSMS(index); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type atRequest struct {
	Command   string `json:"command"`
	Response  string `json:"response"`
	Size      int    `json:"size"`
	TimeoutMs int    `json:"timeout_ms"`
	Payload   string `json:"payload"`
}

type atResponse struct {
	Command  string `json:"command"`
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleAT(w http.ResponseWriter, r *http.Request) {
	var req atRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request")
		return
	}
	if req.Command == "" {
		s.badRequest(w, "command is required")
		return
	}
	timeout := time.Second
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	size := req.Size
	if size <= 0 {
		size = 256
	}
	buf, err := s.ctl.ATCommand(req.Command, req.Response, size, timeout, req.Payload)
	resp := atResponse{Command: req.Command, Response: string(buf)}
	if err != nil {
		// a partial answer is still useful
		if buf == nil {
			s.writeError(w, err)
			return
		}
		resp.Error = err.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type debugRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	var req debugRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request")
		return
	}
	if err := s.ctl.SetDebug(req.Enabled); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
