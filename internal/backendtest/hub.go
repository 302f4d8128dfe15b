package backendtest

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"agromarket/internal/gateway"
	"agromarket/pkg/logger"
)

// Hub tracks live websocket clients and their order-room memberships.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		rooms:   make(map[string]map[*Client]bool),
	}
}

// Client is one websocket connection belonging to an authenticated user.
type Client struct {
	UserID string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	logger.Debug("hub: client registered for user %s", c.UserID)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		for _, members := range h.rooms {
			delete(members, c)
		}
		close(c.send)
	}
	h.mu.Unlock()
	logger.Debug("hub: client unregistered for user %s", c.UserID)
}

func (h *Hub) joinRoom(c *Client, orderCode string) {
	h.mu.Lock()
	if h.rooms[orderCode] == nil {
		h.rooms[orderCode] = make(map[*Client]bool)
	}
	h.rooms[orderCode][c] = true
	h.mu.Unlock()
}

func (h *Hub) leaveRoom(c *Client, orderCode string) {
	h.mu.Lock()
	delete(h.rooms[orderCode], c)
	h.mu.Unlock()
}

// BroadcastRoom delivers a frame to every member of an order's room.
func (h *Hub) BroadcastRoom(orderCode, frameType string, data interface{}) {
	payload, err := encodeFrame(frameType, data)
	if err != nil {
		logger.Error("hub: could not encode %s frame: %v", frameType, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[orderCode] {
		select {
		case c.send <- payload:
		default:
			logger.Warn("hub: dropping %s frame for slow client %s", frameType, c.UserID)
		}
	}
}

// SendToUser delivers a frame to every connection of one user.
func (h *Hub) SendToUser(userID, frameType string, data interface{}) {
	payload, err := encodeFrame(frameType, data)
	if err != nil {
		logger.Error("hub: could not encode %s frame: %v", frameType, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.UserID != userID {
			continue
		}
		select {
		case c.send <- payload:
		default:
			logger.Warn("hub: dropping %s frame for slow client %s", frameType, c.UserID)
		}
	}
}

func encodeFrame(frameType string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(gateway.WSMessage{
		Type:      frameType,
		Data:      raw,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Debug("hub: read error for %s: %v", c.UserID, err)
			}
			return
		}

		var frame gateway.WSMessage
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}

		switch frame.Type {
		case gateway.MessageTypePing:
			if payload, err := encodeFrame(gateway.MessageTypePong, nil); err == nil {
				select {
				case c.send <- payload:
				default:
				}
			}
		case gateway.MessageTypeJoinRoom:
			var room gateway.RoomData
			if err := json.Unmarshal(frame.Data, &room); err == nil {
				c.hub.joinRoom(c, room.OrderCode)
			}
		case gateway.MessageTypeLeaveRoom:
			var room gateway.RoomData
			if err := json.Unmarshal(frame.Data, &room); err == nil {
				c.hub.leaveRoom(c, room.OrderCode)
			}
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logger.Debug("hub: write error for %s: %v", c.UserID, err)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
