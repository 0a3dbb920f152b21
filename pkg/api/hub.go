// Package api exposes the verification pipeline over HTTP: submissions,
// verdict lookup, search, stats and a websocket progress feed.
package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/trunet-labs/trunet/pkg/infrastructure/logging"
	"github.com/trunet-labs/trunet/pkg/pipeline"
)

// Hub fans pipeline progress events out to connected websocket clients.
// Wire its Broadcast method into pipeline.Config.Progress.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *logging.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan pipeline.ProgressEvent
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.GetGlobalLogger().WithComponent("api")
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:  logger,
		clients: make(map[*websocket.Conn]chan pipeline.ProgressEvent),
	}
}

// Broadcast delivers an event to every connected client. Slow clients drop
// events instead of blocking the pipeline.
func (h *Hub) Broadcast(event pipeline.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn, ch := range h.clients {
		select {
		case ch <- event:
		default:
			h.logger.Debug("dropping progress event for slow websocket client", map[string]interface{}{
				"remote": conn.RemoteAddr().String(),
			})
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the connection and streams progress events until
// the client disconnects.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	clientChan := make(chan pipeline.ProgressEvent, 100)

	h.mu.Lock()
	h.clients[conn] = clientChan
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		close(clientChan)
		conn.Close()
	}()

	go func() {
		for event := range clientChan {
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}()

	// Read loop exists only to detect disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
