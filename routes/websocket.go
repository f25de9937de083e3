package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/ustawi/donation-gateway/models"
	"github.com/ustawi/donation-gateway/utils"
)

const (
	writeWait       = 1000 * time.Millisecond
	cleanupInterval = 30 * time.Second
)

// StatusMessage is pushed to clients watching a donation.
type StatusMessage struct {
	Type           string `json:"type"`
	DonationNumber string `json:"donation_number"`
	Status         string `json:"status"`
	Message        string `json:"message"`
	Timestamp      string `json:"timestamp"`
}

type client struct {
	id       string
	donation string
	conn     *websocket.Conn
}

type broadcast struct {
	donation string
	payload  []byte
}

// Hub fans donation status changes out to websocket clients subscribed to
// that donation number.
type Hub struct {
	upgrader   websocket.Upgrader
	clients    map[string]*client
	register   chan *client
	unregister chan *client
	broadcast  chan broadcast
	done       chan struct{}
	mutex      sync.Mutex
	log        *utils.Logger
}

func NewHub(logger *utils.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:    make(map[string]*client),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan broadcast, 64),
		done:       make(chan struct{}),
		log:        logger,
	}
}

// Run serves register, unregister and broadcast requests until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c.id] = c
			count := len(h.clients)
			h.mutex.Unlock()
			h.log.Info("websocket client connected", utils.Fields{"conn_id": c.id, "donation_number": c.donation, "clients": count})

		case c := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				c.conn.Close()
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.log.Info("websocket client disconnected", utils.Fields{"conn_id": c.id, "clients": count})

		case msg := <-h.broadcast:
			h.mutex.Lock()
			sent := 0
			for id, c := range h.clients {
				if c.donation != msg.donation {
					continue
				}
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, msg.payload); err != nil {
					h.log.Warn("websocket write failed", utils.Fields{"conn_id": id, "error": err})
					c.conn.Close()
					delete(h.clients, id)
					continue
				}
				sent++
			}
			h.mutex.Unlock()
			if sent > 0 {
				h.log.Info("donation status broadcast", utils.Fields{"donation_number": msg.donation, "delivered": sent})
			}

		case <-cleanupTicker.C:
			h.cleanupInvalidConnections()
		}
	}
}

// cleanupInvalidConnections drops clients that no longer answer a ping write.
func (h *Hub) cleanupInvalidConnections() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	removed := 0
	for id, c := range h.clients {
		if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			c.conn.Close()
			delete(h.clients, id)
			removed++
		}
	}
	if removed > 0 {
		h.log.Info("removed stale websocket connections", utils.Fields{"removed": removed, "clients": len(h.clients)})
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for id, c := range h.clients {
		c.conn.Close()
		delete(h.clients, id)
	}
}

func (h *Hub) join(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		c.conn.Close()
		return false
	}
}

func (h *Hub) leave(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		c.conn.Close()
	}
}

// send writes msg to one client. Writes share the hub lock with broadcasts
// so a connection never has two concurrent writers.
func (h *Hub) send(c *client, msg StatusMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// DonationStatusChanged queues a status message for the donation's watchers.
// It never blocks the payment flow; a full queue drops the message.
func (h *Hub) DonationStatusChanged(d *models.Donation) {
	payload, err := json.Marshal(statusMessage("status_changed", d))
	if err != nil {
		h.log.Error("failed to encode status message", utils.Fields{"donation_id": d.ID, "error": err})
		return
	}
	select {
	case h.broadcast <- broadcast{donation: d.DonationNumber, payload: payload}:
	default:
		h.log.Warn("websocket broadcast queue full", utils.Fields{"donation_number": d.DonationNumber})
	}
}

func statusMessage(kind string, d *models.Donation) StatusMessage {
	return StatusMessage{
		Type:           kind,
		DonationNumber: d.DonationNumber,
		Status:         d.Status,
		Message:        models.StatusMessage(d.Status),
		Timestamp:      utils.Now(),
	}
}

// WebSocketHandler upgrades GET /ws?donation=NUMBER and streams status changes
// of that donation, starting with its current status.
func (ar *APIRoutes) WebSocketHandler(c *gin.Context) {
	number := c.Query("donation")
	if number == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "donation is required"})
		return
	}

	d, err := ar.store.FindByNumber(c.Request.Context(), number)
	if err != nil {
		ar.notFoundOrError(c, err)
		return
	}

	conn, err := ar.hub.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		ar.log.Warn("websocket upgrade failed", utils.Fields{"error": err})
		return
	}

	cl := &client{id: utils.GenerateConnID(), donation: number, conn: conn}
	if !ar.hub.join(cl) {
		return
	}

	if err := ar.hub.send(cl, statusMessage("initial_status", d)); err != nil {
		ar.hub.leave(cl)
		return
	}

	// Client frames are ignored; reading drives ping/pong and close handling.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				ar.log.Warn("websocket read error", utils.Fields{"conn_id": cl.id, "error": err})
			}
			break
		}
	}

	ar.hub.leave(cl)
}
