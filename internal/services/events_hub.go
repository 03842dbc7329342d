package services

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ScheduleHub fans schedule and route events out to connected dashboard
// clients over WebSocket.
type ScheduleHub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan map[string]interface{}
	mu        sync.Mutex
}

// Events is the process-wide hub the services publish into.
var Events = NewScheduleHub()

// NewScheduleHub creates a hub and starts its broadcast loop.
func NewScheduleHub() *ScheduleHub {
	hub := &ScheduleHub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan map[string]interface{}, 100),
	}
	go hub.run()
	return hub
}

func (h *ScheduleHub) run() {
	for msg := range h.broadcast {
		h.mu.Lock()
		for conn := range h.clients {
			if err := conn.WriteJSON(msg); err != nil {
				if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					logrus.WithField("conn_ptr", fmt.Sprintf("%p", conn)).Info("Client connection closed during broadcast, unregistering.")
				} else {
					logrus.WithError(err).WithField("conn_ptr", fmt.Sprintf("%p", conn)).Warn("Failed to send broadcast message to client.")
				}
				delete(h.clients, conn)
				conn.Close()
			}
		}
		h.mu.Unlock()
	}
}

// RegisterClient registers a new dashboard connection with the hub.
func (h *ScheduleHub) RegisterClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
	logrus.WithField("conn_ptr", fmt.Sprintf("%p", conn)).Info("Client registered with ScheduleHub.")
}

// UnregisterClient removes a disconnected dashboard connection.
func (h *ScheduleHub) UnregisterClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
	logrus.WithField("conn_ptr", fmt.Sprintf("%p", conn)).Info("Client unregistered from ScheduleHub.")
}

// Publish queues an event for broadcast; drops it when the channel is full.
func (h *ScheduleHub) Publish(event map[string]interface{}) {
	select {
	case h.broadcast <- event:
	default:
		logrus.Warn("Schedule event broadcast channel full, dropping message.")
	}
}
