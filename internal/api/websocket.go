package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for local dashboard
	},
}

// Hub maintains the set of active websocket clients and pushes trace
// lifecycle events down to them. Delivery is best-effort: a slow or
// dead client is dropped, never waited on, so a misbehaving dashboard
// cannot stall trace processing.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
	}
}

func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mutex.Lock()
		for client := range h.clients {
			// Write deadline prevents a blocked client from hanging the hub
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn().Err(err).Msg("websocket write error, dropping client")
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// Subscribe handles incoming websocket connections.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("failed to upgrade websocket")
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.mutex.Unlock()

	log.Info().Int("clients", total).Msg("websocket client connected")

	// The hub only pushes down, but must keep reading to notice
	// disconnects.
	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			h.mutex.Unlock()
			conn.Close()
			log.Info().Msg("websocket client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Warn().Err(err).Msg("websocket error")
				}
				break
			}
		}
	}()
}

// Broadcast sends JSON data to all connected clients.
func (h *Hub) Broadcast(data []byte) {
	h.broadcast <- data
}
