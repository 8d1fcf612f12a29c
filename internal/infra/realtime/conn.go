package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rentme-inbox/internal/app/dto"
	"rentme-inbox/internal/app/inbox"
	"rentme-inbox/internal/domain/chat"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Pings are sent with this period, which must stay below pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 256 * 1024
)

// ErrClosed is returned by Emit after the connection is gone.
var ErrClosed = errors.New("realtime: connection closed")

// Dialer opens websocket connections authenticated with a session token.
type Dialer struct {
	URL string
	// MediaBaseURL resolves server-relative attachment paths in pushed messages.
	MediaBaseURL     string
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// Dial connects to the realtime endpoint. The token travels both as a bearer header and as
// the token query parameter so browsers and proxies that strip headers still authenticate.
func (d Dialer) Dial(ctx context.Context, token string) (inbox.Channel, error) {
	return d.DialConn(ctx, token)
}

// DialConn is Dial returning the concrete connection.
func (d Dialer) DialConn(ctx context.Context, token string) (*Conn, error) {
	if strings.TrimSpace(token) == "" {
		return nil, chat.ErrUnauthenticated
	}
	target, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("realtime: parse url: %w", err)
	}
	q := target.Query()
	q.Set("token", token)
	target.RawQuery = q.Encode()

	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	ws, resp, err := dialer.DialContext(ctx, target.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("realtime: %w", chat.ErrUnauthenticated)
		}
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := newConn(ws, strings.TrimRight(d.MediaBaseURL, "/"), logger)
	go c.writePump()
	go c.readPump()
	return c, nil
}

// Conn is a live realtime connection with typed event subscriptions.
type Conn struct {
	ws        *websocket.Conn
	mediaBase string
	logger    *slog.Logger
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	handlers map[inbox.EventKind]map[uint64]func(inbox.Event)
	nextID   uint64
	err      error
}

func newConn(ws *websocket.Conn, mediaBase string, logger *slog.Logger) *Conn {
	return &Conn{
		ws:        ws,
		mediaBase: mediaBase,
		logger:    logger,
		send:      make(chan []byte, 64),
		done:      make(chan struct{}),
		handlers:  map[inbox.EventKind]map[uint64]func(inbox.Event){},
	}
}

// Subscribe registers handler for kind and returns the function that removes it.
func (c *Conn) Subscribe(kind inbox.EventKind, handler func(inbox.Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	if c.handlers[kind] == nil {
		c.handlers[kind] = map[uint64]func(inbox.Event){}
	}
	c.handlers[kind][id] = handler
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[kind], id)
	}
}

// Subscribers returns the number of live subscriptions.
func (c *Conn) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, hs := range c.handlers {
		n += len(hs)
	}
	return n
}

// Emit queues a send_message frame.
func (c *Conn) Emit(ctx context.Context, req inbox.SendRequest) error {
	env, err := dto.NewEnvelope(dto.EventSendMessage, dto.SendMessage{
		Content:    req.Content,
		Media:      dto.MediaFromDomain(req.Attachments),
		ReceiverID: req.ReceiverID,
		ListingID:  req.ListingID,
		TempID:     req.TempID,
	})
	if err != nil {
		return err
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the connection has terminated.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the error that terminated the connection, nil after a local Close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = cause
		c.mu.Unlock()
		close(c.done)
		if cause == nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		}
		_ = c.ws.Close()
	})
}

func (c *Conn) readPump() {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("realtime read failed", "error", err)
			}
			c.shutdown(err)
			return
		}
		c.dispatch(frame)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Warn("realtime write failed", "error", err)
				c.shutdown(err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(err)
				return
			}
		}
	}
}

// dispatch decodes one frame and runs the subscribed handlers outside the lock.
func (c *Conn) dispatch(frame []byte) {
	var env dto.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		c.logger.Warn("realtime frame undecodable", "error", err)
		return
	}
	if env.Type == dto.EventError {
		var rtErr dto.RealtimeError
		_ = json.Unmarshal(env.Payload, &rtErr)
		c.logger.Warn("realtime server error", "temp_id", rtErr.TempID, "error", rtErr.Message)
		return
	}
	ev, err := c.decode(env)
	if err != nil {
		c.logger.Warn("realtime event dropped", "type", env.Type, "error", err)
		return
	}

	c.mu.Lock()
	handlers := make([]func(inbox.Event), 0, len(c.handlers[ev.Kind]))
	for _, h := range c.handlers[ev.Kind] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (c *Conn) decode(env dto.Envelope) (inbox.Event, error) {
	kind := inbox.EventKind(env.Type)
	switch kind {
	case inbox.EventMessageReceived, inbox.EventMessageSent, inbox.EventMessageUpdated:
		var wire dto.Message
		if err := json.Unmarshal(env.Payload, &wire); err != nil {
			return inbox.Event{}, err
		}
		msg, err := wire.ToDomain()
		if err != nil {
			return inbox.Event{}, err
		}
		for i := range msg.Attachments {
			msg.Attachments[i].URL = c.resolve(msg.Attachments[i].URL)
		}
		return inbox.Event{Kind: kind, Message: msg}, nil
	case inbox.EventMessageDeleted:
		var payload dto.MessageDeleted
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return inbox.Event{}, err
		}
		return inbox.Event{Kind: kind, MessageID: payload.MessageID}, nil
	}
	return inbox.Event{}, fmt.Errorf("unknown event type %q", env.Type)
}

func (c *Conn) resolve(path string) string {
	if c.mediaBase == "" || path == "" || strings.Contains(path, "://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.mediaBase + path
}

var (
	_ inbox.Dialer  = Dialer{}
	_ inbox.Channel = (*Conn)(nil)
)
