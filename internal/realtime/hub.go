// Package realtime streams dispatched notifications to connected websocket
// clients. It consumes the outbound notifications topic, so browser
// sessions see the same messages that go to push devices.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"skywatch/internal/config"
	"skywatch/internal/model"
	"skywatch/pkg/kafka"
	"skywatch/pkg/log"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = 54 * time.Second
	clientBacklog = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is one websocket session of a user.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans notifications out to websocket sessions, keyed by external
// user id. A user may hold several sessions at once.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}

	consumer *kafka.BatchConsumer
	wg       sync.WaitGroup
}

// NewHub creates a hub consuming the outbound notifications topic.
func NewHub(cfg *config.Config) *Hub {
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		consumer: kafka.NewBatchConsumer(kafka.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.GroupID + "-realtime",
			Topics:  []string{cfg.Kafka.Topics.Notifications},
		}),
	}
}

// Start launches the consumer loop feeding connected clients.
func (h *Hub) Start(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		err := h.consumer.Run(ctx, h.handleBatch)
		if err != nil && ctx.Err() == nil {
			log.WithError(err).Error("Realtime consumer terminated")
		}
	}()
}

func (h *Hub) handleBatch(_ context.Context, batch [][]byte) {
	for _, payload := range batch {
		var msg model.NotificationMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.WithError(err).Warn("Malformed outbound notification")
			continue
		}
		h.broadcast(msg.Data["userId"], payload)
	}
}

// broadcast delivers one raw message to every session of the user. A slow
// session drops the message instead of stalling the loop.
func (h *Hub) broadcast(externalUserID string, payload []byte) {
	if externalUserID == "" {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[externalUserID] {
		select {
		case c.send <- payload:
		default:
		}
	}
}

// Serve upgrades the request to a websocket session for the user.
// GET /ws/:userId
func (h *Hub) Serve(c *gin.Context) {
	externalUserID := c.Param("userId")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	cl := &client{conn: conn, send: make(chan []byte, clientBacklog)}
	h.register(externalUserID, cl)

	go h.writePump(externalUserID, cl)
	go h.readPump(externalUserID, cl)
}

func (h *Hub) register(externalUserID string, cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sessions, ok := h.clients[externalUserID]
	if !ok {
		sessions = make(map[*client]struct{})
		h.clients[externalUserID] = sessions
	}
	sessions[cl] = struct{}{}
}

func (h *Hub) unregister(externalUserID string, cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sessions := h.clients[externalUserID]
	if _, ok := sessions[cl]; !ok {
		return
	}
	delete(sessions, cl)
	if len(sessions) == 0 {
		delete(h.clients, externalUserID)
	}
	close(cl.send)
}

// readPump discards inbound frames; it exists to run the connection's
// read loop so close and pong frames are processed.
func (h *Hub) readPump(externalUserID string, cl *client) {
	defer func() {
		h.unregister(externalUserID, cl)
		cl.conn.Close()
	}()
	cl.conn.SetReadLimit(512)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(externalUserID string, cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close shuts the consumer down and waits for the loop to drain.
func (h *Hub) Close() {
	if err := h.consumer.Close(); err != nil {
		log.WithError(err).Warn("Failed to close realtime consumer")
	}
	h.wg.Wait()
}
