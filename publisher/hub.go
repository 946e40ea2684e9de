package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// HubPath is where the provider serves the websocket hub.
const HubPath = "/ws/readings"

const (
	hubSendBuffer   = 16
	hubWriteTimeout = 10 * time.Second
	hubPingEvery    = 30 * time.Second
	hubReadTimeout  = 60 * time.Second
)

// HubMessage is what websocket clients receive for every delivery.
type HubMessage struct {
	ConsumerID string          `json:"consumer_id"`
	Frame      json.RawMessage `json:"frame"`
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub broadcasts deliveries of every session to connected websocket
// clients. A client that cannot keep up is disconnected.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		logger:  logger.With("component", "hub"),
		clients: make(map[*hubClient]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &hubClient{conn: conn, send: make(chan []byte, hubSendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	h.logger.Debug("Websocket client connected", "remote", conn.RemoteAddr().String())
	go h.writePump(c)
	go h.readPump(c)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues msg for every client and returns how many accepted it.
func (h *Hub) Broadcast(msg []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	sent := 0
	for c := range h.clients {
		select {
		case c.send <- msg:
			sent++
		default:
			h.logger.Warn("Websocket client too slow, disconnecting",
				"remote", c.conn.RemoteAddr().String())
			delete(h.clients, c)
			c.close()
		}
	}
	return sent
}

// Name implements Sink.
func (h *Hub) Name() string {
	return "websocket"
}

// Deliver implements Sink.
func (h *Hub) Deliver(_ context.Context, d Delivery) error {
	msg, err := json.Marshal(HubMessage{ConsumerID: d.ConsumerID, Frame: d.Frame})
	if err != nil {
		return err
	}
	h.Broadcast(msg)
	return nil
}

// Shutdown disconnects every client and waits for their goroutines.
// The hub is shared by sessions, so it is not closed with any of them.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()

	h.wg.Wait()
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *Hub) writePump(c *hubClient) {
	defer h.wg.Done()
	ping := time.NewTicker(hubPingEvery)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readPump discards client frames; it exists to notice disconnects and
// answer pongs.
func (h *Hub) readPump(c *hubClient) {
	defer h.wg.Done()
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(hubReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(hubReadTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
