package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jaracil/gsmppp"
	"github.com/rs/zerolog"
)

const (
	subscriberBuffer = 100
	writeWait        = 10 * time.Second
)

// Event is pushed to websocket clients.
type Event struct {
	// Type is "sms" or "status"
	Type     string           `json:"type"`
	Messages []gsmppp.Message `json:"messages,omitempty"`
	From     string           `json:"from,omitempty"`
	To       string           `json:"to,omitempty"`
	Time     time.Time        `json:"time"`
}

// Hub fans modem events out to websocket subscribers. It is a
// gsmppp.Notifier, and its StatusChanged method fits
// gsmppp.Config.StatusTransition.
type Hub struct {
	mu       sync.RWMutex
	pool     map[chan []byte]struct{}
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		pool: make(map[chan []byte]struct{}),
		log:  logger.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Subscribe registers a new subscriber. The returned function unsubscribes
// and closes the channel.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	h.pool[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.pool[ch]; ok {
			delete(h.pool, ch)
			close(ch)
		}
	}
}

// Broadcast sends ev to every subscriber without blocking. Subscribers with
// a full buffer miss the event.
func (h *Hub) Broadcast(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Msg("encode event")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.pool {
		select {
		case ch <- msg:
		default:
			h.log.Warn().Str("type", ev.Type).Msg("subscriber lagging, event dropped")
		}
	}
}

// NotifySMS broadcasts a batch of new messages.
func (h *Hub) NotifySMS(msgs []gsmppp.Message) {
	h.Broadcast(Event{Type: "sms", Messages: msgs, Time: time.Now()})
}

// StatusChanged broadcasts a modem status change. It never blocks, so it is
// safe to call with the modem guard held.
func (h *Hub) StatusChanged(_ *gsmppp.Modem, prevStatus gsmppp.Status, newStatus gsmppp.Status) {
	h.Broadcast(Event{Type: "status", From: prevStatus.String(), To: newStatus.String(), Time: time.Now()})
}

// ServeHTTP upgrades the connection and streams events until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("upgrade")
		return
	}
	defer conn.Close()

	ch, cancel := h.Subscribe()
	defer cancel()

	// the read side only watches for the client closing
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.log.Debug().Str("remote", r.RemoteAddr).Msg("subscriber connected")
	for {
		select {
		case msg := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-gone:
			h.log.Debug().Str("remote", r.RemoteAddr).Msg("subscriber gone")
			return
		}
	}
}
