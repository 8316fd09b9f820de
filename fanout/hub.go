package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 32
)

// Message is the frame sent to websocket clients.
type Message struct {
	Event string `json:"event"`
	Data  Event  `json:"data"`
}

type hubClient struct {
	conn       *websocket.Conn
	businessID uint
	userID     uint
	role       string
	send       chan []byte
}

// Hub keeps the staff websocket clients of every business and mirrors events
// to the clients of the event's business.
type Hub struct {
	clients map[*hubClient]struct{}
	mutex   sync.Mutex
	log     *logrus.Logger
}

func NewHub(log *logrus.Logger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		clients: make(map[*hubClient]struct{}),
		log:     log,
	}
}

func (h *Hub) Name() string { return "websocket" }

// Write queues evt for every client of its business. Clients whose queue is
// full miss the frame and are expected to poll.
func (h *Hub) Write(_ context.Context, evt Event) error {
	data, err := json.Marshal(Message{Event: string(evt.Type), Data: evt})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	dropped := 0
	for c := range h.clients {
		if c.businessID != evt.BusinessID {
			continue
		}
		select {
		case c.send <- data:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		return fmt.Errorf("%d slow websocket clients missed the event", dropped)
	}
	return nil
}

// Serve registers conn and blocks until the client disconnects.
func (h *Hub) Serve(conn *websocket.Conn, businessID, userID uint, role string) {
	c := &hubClient{
		conn:       conn,
		businessID: businessID,
		userID:     userID,
		role:       role,
		send:       make(chan []byte, clientSendSize),
	}
	h.register(c)
	defer h.unregister(c)

	go h.writePump(c)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithField("user_id", userID).Debugf("websocket read: %v", err)
			}
			return
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for c := range h.clients {
		_ = c.conn.Close()
	}
}

func (h *Hub) register(c *hubClient) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.clients[c] = struct{}{}
	h.log.WithFields(logrus.Fields{
		"user_id":     c.userID,
		"business_id": c.businessID,
		"role":        c.role,
	}).Info("websocket client connected")
}

func (h *Hub) unregister(c *hubClient) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	_ = c.conn.Close()
}

func (h *Hub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.WithField("user_id", c.userID).Debugf("websocket write: %v", err)
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}
