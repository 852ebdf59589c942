package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MikeSquared-Agency/dealintel/internal/apperr"
)

const (
	streamSendBuffer = 32
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 54 * time.Second
)

// EventHub relays analysis events to websocket clients. Each client only
// receives events for its own rep.
type EventHub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
}

type streamClient struct {
	repID string
	send  chan []byte
}

func NewEventHub(logger *slog.Logger) *EventHub {
	return &EventHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*streamClient]struct{}),
	}
}

// Clients returns the number of connected clients.
func (h *EventHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleEvent is a hermes subscription handler. Slow clients whose buffer
// is full are disconnected.
func (h *EventHub) HandleEvent(_ string, data []byte) {
	var ev struct {
		RepID string `json:"rep_id"`
	}
	if err := json.Unmarshal(data, &ev); err != nil || ev.RepID == "" {
		return
	}

	var stale []*streamClient
	h.mu.RLock()
	for c := range h.clients {
		if c.repID != ev.RepID {
			continue
		}
		select {
		case c.send <- data:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		h.logger.Warn("dropping slow event stream client", "rep_id", c.repID)
		h.remove(c)
	}
}

func (h *EventHub) add(c *streamClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *EventHub) remove(c *streamClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	repID := r.Header.Get(headerRepID)
	if repID == "" {
		repID = r.URL.Query().Get("rep_id")
	}
	if repID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Kind: apperr.KindValidation, Message: "rep id is required"})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &streamClient{repID: repID, send: make(chan []byte, streamSendBuffer)}
	h.add(c)
	h.logger.Debug("event stream client connected", "rep_id", repID)

	go h.writePump(conn, c)
	h.readPump(conn, c)
}

// readPump discards client frames and unregisters on disconnect.
func (h *EventHub) readPump(conn *websocket.Conn, c *streamClient) {
	defer func() {
		h.remove(c)
		_ = conn.Close()
	}()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventHub) writePump(conn *websocket.Conn, c *streamClient) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
