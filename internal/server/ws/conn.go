package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the maximum time to wait for a write to complete when
	// the caller's context carries no deadline.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096
)

// conn adapts a gorilla websocket connection to Handle.
type conn struct {
	id      string
	ws      *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{id: uuid.NewString(), ws: ws, done: make(chan struct{})}
}

func (c *conn) ID() string { return c.id }

// Send writes one text frame. Gorilla allows a single concurrent writer, so
// writes are serialised.
func (c *conn) Send(ctx context.Context, msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

func (c *conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

// Upgrader returns the websocket upgrader for the given origin allow list.
// An empty list or "*" allows every origin.
func Upgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			for _, o := range allowedOrigins {
				if o == "*" || strings.EqualFold(o, origin) {
					return true
				}
			}
			return false
		},
	}
}

// Handler serves GET /ws: it upgrades the connection, registers it with the
// hub, sends a status message and then pumps inbound control messages
// until the client goes away.
func (h *Hub) Handler(allowedOrigins []string) http.HandlerFunc {
	upgrader := Upgrader(allowedOrigins)
	return func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
			return
		}

		c := newConn(wsConn)
		h.Connect(c)
		h.SendStatus(r.Context(), c.id)

		go c.pingLoop(h)
		c.readPump(h)
	}
}

// readPump forwards inbound frames to the hub and disconnects on the first
// read error.
func (c *conn) readPump(h *Hub) {
	defer h.Disconnect(c.id)

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("unexpected close", slog.String("client_id", c.id), slog.String("error", err.Error()))
			}
			return
		}
		h.OnMessage(context.Background(), c.id, message)
	}
}

// pingLoop keeps the connection alive until it is closed.
func (c *conn) pingLoop(h *Hub) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.Disconnect(c.id)
				return
			}
		}
	}
}
