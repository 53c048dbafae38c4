package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const EventDashboardUpdate = "dashboard_update"

type Message struct {
	Event  string      `json:"event"`
	Data   interface{} `json:"data"`
	SentAt time.Time   `json:"sent_at"`
}

// Hub fans gateway events out to connected operator dashboards.
type Hub struct {
	clients      map[*websocket.Conn]string // conn -> role
	mutex        sync.Mutex
	logger       logrus.FieldLogger
	WriteTimeout time.Duration
}

func NewHub(logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		clients:      make(map[*websocket.Conn]string),
		logger:       logger,
		WriteTimeout: 5 * time.Second,
	}
}

func (h *Hub) Register(conn *websocket.Conn, role string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.clients[conn] = role
	h.logger.WithFields(logrus.Fields{"role": role, "clients": len(h.clients)}).Info("dashboard client connected")
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[conn]; !ok {
		return
	}
	delete(h.clients, conn)
	conn.Close()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// Publish broadcasts one event. Clients that cannot be written to are dropped.
func (h *Hub) Publish(event string, data interface{}) {
	payload, err := json.Marshal(Message{Event: event, Data: data, SentAt: time.Now().UTC()})
	if err != nil {
		h.logger.WithField("event", event).WithError(err).Error("error marshaling hub message")
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for conn, role := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(h.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.WithFields(logrus.Fields{"event": event, "role": role}).WithError(err).Warn("dropping dashboard client")
			delete(h.clients, conn)
			conn.Close()
		}
	}
}
