package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/aquamart/dispatch/pkg/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The storefront fronts this service; origin checks live there.
		return true
	},
}

// StatusUpdate is what a tracking page receives whenever its order moves.
type StatusUpdate struct {
	OrderID   string            `json:"order_id"`
	Status    models.OrderState `json:"status"`
	Timestamp string            `json:"timestamp"`
}

type Client struct {
	orderID string
	conn    *websocket.Conn
	send    chan StatusUpdate
	hub     *Hub
	logger  *logrus.Logger
}

// Hub routes order status updates to the clients tracking that order.
type Hub struct {
	clients    map[string]map[*Client]bool
	broadcast  chan StatusUpdate
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	logger     *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan StatusUpdate, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			if h.clients[client.orderID] == nil {
				h.clients[client.orderID] = make(map[*Client]bool)
			}
			h.clients[client.orderID][client] = true
			h.mutex.Unlock()
			h.logger.WithField("order_id", client.orderID).Info("Tracking client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if subscribers, ok := h.clients[client.orderID]; ok {
				if _, ok := subscribers[client]; ok {
					delete(subscribers, client)
					close(client.send)
					if len(subscribers) == 0 {
						delete(h.clients, client.orderID)
					}
				}
			}
			h.mutex.Unlock()
			h.logger.WithField("order_id", client.orderID).Info("Tracking client disconnected")

		case update := <-h.broadcast:
			h.mutex.RLock()
			for client := range h.clients[update.OrderID] {
				select {
				case client.send <- update:
				default:
					delete(h.clients[update.OrderID], client)
					close(client.send)
				}
			}
			h.mutex.RUnlock()
		}
	}
}

// Broadcast fans a status change out to the order's subscribers. Drops the
// update when the channel is saturated rather than blocking the caller.
func (h *Hub) Broadcast(orderID string, status models.OrderState) {
	update := StatusUpdate{
		OrderID:   orderID,
		Status:    status,
		Timestamp: time.Now().Format(time.RFC3339),
	}

	select {
	case h.broadcast <- update:
	default:
		h.logger.Warn("Broadcast channel full, dropping update")
	}
}

// HandleWebSocket upgrades the connection and subscribes it to one order.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, orderID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	client := &Client{
		orderID: orderID,
		conn:    conn,
		send:    make(chan StatusUpdate, 64),
		hub:     h,
		logger:  h.logger,
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket error")
			}
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case update, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(update)
			if err != nil {
				c.logger.WithError(err).Error("Failed to marshal status update")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) SubscriberCount(orderID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients[orderID])
}
