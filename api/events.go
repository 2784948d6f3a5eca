package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/hubertat/rf4ch"
)

const clientBuffer = 16
const writeWait = 2 * time.Second

// Hub streams device snapshots to websocket clients. It is an rf4ch.Observer;
// attach it to every device whose changes should be streamed. Clients that
// cannot keep up are disconnected.
type Hub struct {
	registry *rf4ch.Registry
	upgrader websocket.Upgrader
	logger   *log.Logger

	lock    sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

func NewHub(registry *rf4ch.Registry) *Hub {
	return &Hub{
		registry: registry,
		logger:   log.Default().WithPrefix("Events"),
		clients:  make(map[*client]struct{}),
	}
}

func (h *Hub) Refresh(d *rf4ch.Device) {
	payload, err := json.Marshal(d.Snapshot())
	if err != nil {
		h.logger.Error("failed to encode snapshot", "switcher", d.Id(), "err", err)
		return
	}
	h.broadcast(payload)
}

func (h *Hub) broadcast(payload []byte) {
	h.lock.Lock()
	defer h.lock.Unlock()

	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("dropping slow event client", "remote", c.conn.RemoteAddr())
			delete(h.clients, c)
			c.close()
		}
	}
}

func (h *Hub) Clients() int {
	h.lock.Lock()
	defer h.lock.Unlock()

	return len(h.clients)
}

func (h *Hub) remove(c *client) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if _, found := h.clients[c]; found {
		delete(h.clients, c)
		c.close()
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.lock.Lock()
	defer h.lock.Unlock()

	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

// ServeHTTP upgrades the request and sends the current snapshot of every
// device, followed by a snapshot after each change.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	devices := h.registry.List()
	c := &client{conn: conn, send: make(chan []byte, len(devices)+clientBuffer)}
	for _, d := range devices {
		payload, err := json.Marshal(d.Snapshot())
		if err == nil {
			c.send <- payload
		}
	}

	h.lock.Lock()
	h.clients[c] = struct{}{}
	h.lock.Unlock()

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()

	for payload := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := c.conn.WriteMessage(websocket.TextMessage, payload)
		if err != nil {
			h.remove(c)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readLoop only watches for the client going away.
func (h *Hub) readLoop(c *client) {
	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			h.remove(c)
			return
		}
	}
}
