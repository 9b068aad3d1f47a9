package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/KungFuJesus/ntetris/internal/metrics"
	"github.com/KungFuJesus/ntetris/internal/player"
)

// EventType names a player lifecycle event
type EventType string

const (
	EventRegistered   EventType = "registered"
	EventStateChanged EventType = "state_changed"
	EventDisconnected EventType = "disconnected"
	EventKicked       EventType = "kicked"
	EventExpired      EventType = "expired"
)

// eventWriteTimeout bounds a write to one subscriber
const eventWriteTimeout = 2 * time.Second

// Event is sent to websocket subscribers as JSON
type Event struct {
	Type      EventType `json:"type"`
	PlayerID  uint32    `json:"player_id"`
	Name      string    `json:"name"`
	State     string    `json:"state,omitempty"`
	RoomID    uint32    `json:"room_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newPlayerEvent(t EventType, p player.Player) Event {
	return Event{
		Type:      t,
		PlayerID:  p.ID,
		Name:      p.Name,
		State:     p.State.String(),
		RoomID:    p.RoomID,
		Timestamp: time.Now().UTC(),
	}
}

// EventHub fans player events out to websocket subscribers. Publish never
// blocks the caller; events are dropped when the buffer is full. A nil
// *EventHub accepts and discards events.
type EventHub struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	events   chan Event
	clients  map[*websocket.Conn]bool
	mu       sync.RWMutex
	upgrader websocket.Upgrader
}

// NewEventHub creates a hub buffering up to bufferSize undelivered events
func NewEventHub(logger *slog.Logger, m *metrics.Metrics, bufferSize int) *EventHub {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &EventHub{
		logger:  logger,
		metrics: m,
		events:  make(chan Event, bufferSize),
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // monitoring clients connect from anywhere
			},
		},
	}
}

// Publish queues an event for delivery
func (h *EventHub) Publish(e Event) {
	if h == nil {
		return
	}
	select {
	case h.events <- e:
	default:
		h.logger.Warn("Event buffer full, dropping event",
			slog.String("type", string(e.Type)),
			slog.Uint64("player_id", uint64(e.PlayerID)),
		)
	}
}

// Run delivers queued events until ctx is done, then closes all subscribers
func (h *EventHub) Run(ctx context.Context) {
	defer h.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-h.events:
			h.broadcast(e)
		}
	}
}

// HandleWebSocket upgrades the request and keeps the subscriber until it disconnects
func (h *EventHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetEventSubscribers(count)

	h.logger.Debug("Event subscriber connected",
		slog.String("remote_addr", r.RemoteAddr),
		slog.Int("subscribers", count),
	)

	// Subscribers only listen; reading detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(conn)
}

// ClientCount returns the number of connected subscribers
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all subscribers
func (h *EventHub) Close() {
	h.mu.Lock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
	h.mu.Unlock()
	h.metrics.SetEventSubscribers(0)
}

func (h *EventHub) broadcast(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("Failed to encode event", slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(client)
		}
	}
}

func (h *EventHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		conn.Close()
		h.metrics.SetEventSubscribers(count)
	}
}
