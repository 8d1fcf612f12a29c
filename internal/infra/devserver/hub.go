package devserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rentme-inbox/internal/app/dto"
	"rentme-inbox/internal/infra/obs"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Pings are sent with this period, which must stay below pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 256 * 1024
)

// FrameHandler processes one client frame.
type FrameHandler func(ctx context.Context, client *Client, env dto.Envelope)

// Client is one websocket connection of an authenticated user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	UserID string
}

// Hub tracks the websocket clients of every user and fans events out to them.
type Hub struct {
	logger  *slog.Logger
	metrics *obs.Metrics

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub(logger *slog.Logger, metrics *obs.Metrics) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		logger:     logger,
		metrics:    metrics,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    map[string]map[*Client]struct{}{},
	}
}

// Run serves registrations until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		}
	}
}

// Attach starts the pumps of a freshly upgraded connection. It returns nil once the hub
// has stopped.
func (h *Hub) Attach(conn *websocket.Conn, userID string, onFrame FrameHandler) *Client {
	c := &Client{hub: h, conn: conn, send: make(chan []byte, 256), UserID: userID}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return nil
	}
	go c.writePump()
	go c.readPump(onFrame)
	return c
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.UserID] == nil {
		h.clients[c.UserID] = map[*Client]struct{}{}
	}
	h.clients[c.UserID][c] = struct{}{}
	if h.metrics != nil {
		h.metrics.RealtimeClients.Inc()
	}
	h.logger.Info("realtime client joined", "user_id", c.UserID, "connections", len(h.clients[c.UserID]))
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *Client) {
	conns, ok := h.clients[c.UserID]
	if !ok {
		return
	}
	if _, exists := conns[c]; !exists {
		return
	}
	delete(conns, c)
	close(c.send)
	if len(conns) == 0 {
		delete(h.clients, c.UserID)
	}
	if h.metrics != nil {
		h.metrics.RealtimeClients.Dec()
	}
	h.logger.Info("realtime client left", "user_id", c.UserID)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conns := range h.clients {
		for c := range conns {
			h.dropLocked(c)
		}
	}
}

// Connections returns the number of live connections of userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// SendTo delivers an event to every connection of the given users.
func (h *Hub) SendTo(eventType string, payload any, userIDs ...string) {
	h.Broadcast(eventType, payload, nil, userIDs...)
}

// Broadcast is SendTo skipping one connection, usually the one that caused the event.
func (h *Hub) Broadcast(eventType string, payload any, skip *Client, userIDs ...string) {
	env, err := dto.NewEnvelope(eventType, payload)
	if err != nil {
		h.logger.Error("realtime event encode failed", "type", eventType, "error", err)
		return
	}
	frame, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("realtime frame encode failed", "type", eventType, "error", err)
		return
	}
	seen := map[string]struct{}{}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range userIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		for c := range h.clients[id] {
			if c == skip {
				continue
			}
			select {
			case c.send <- frame:
				if h.metrics != nil {
					h.metrics.RealtimeEvents.WithLabelValues(eventType, "out").Inc()
				}
			default:
				// Slow consumer: drop the connection rather than block the fan-out.
				h.dropLocked(c)
			}
		}
	}
}

// Reply delivers an event to a single connection.
func (h *Hub) Reply(c *Client, eventType string, payload any) {
	env, err := dto.NewEnvelope(eventType, payload)
	if err != nil {
		return
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.UserID][c]; !ok {
		return
	}
	select {
	case c.send <- frame:
		if h.metrics != nil {
			h.metrics.RealtimeEvents.WithLabelValues(eventType, "out").Inc()
		}
	default:
		h.dropLocked(c)
	}
}

func (c *Client) readPump(onFrame FrameHandler) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("realtime read failed", "user_id", c.UserID, "error", err)
			}
			return
		}
		var env dto.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			c.hub.Reply(c, dto.EventError, dto.RealtimeError{Message: "malformed frame"})
			continue
		}
		if c.hub.metrics != nil {
			c.hub.metrics.RealtimeEvents.WithLabelValues(env.Type, "in").Inc()
		}
		onFrame(ctx, c, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
