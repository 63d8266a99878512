// Package hub owns the per-connection WebSocket client: the transport
// handle, its buffered send queue, and the read/write pumps.
package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nimbuswire/notify-service/internal/config"
	"github.com/nimbuswire/notify-service/pkg/log"
)

// ErrSlowConsumer is returned when a client's send buffer is full. The
// caller is expected to tear the session down; a blocked consumer must not
// stall fanout for others.
var ErrSlowConsumer = errors.New("slow consumer: send buffer full")

// Client is one live WebSocket session for one user. It implements
// domain.Session.
type Client struct {
	sessionID   string
	userID      string
	connectedAt time.Time

	conn   *websocket.Conn
	send   chan []byte
	config config.WebSocketConfig

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient wraps an upgraded connection for an authenticated user.
func NewClient(userID string, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	buffer := cfg.SendBuffer
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		sessionID:   uuid.New().String(),
		userID:      userID,
		connectedAt: time.Now(),
		conn:        conn,
		send:        make(chan []byte, buffer),
		config:      cfg,
		closed:      make(chan struct{}),
	}
}

func (c *Client) SessionID() string { return c.sessionID }

func (c *Client) UserID() string { return c.userID }

func (c *Client) ConnectedAt() time.Time { return c.connectedAt }

// ReadPump consumes inbound frames until the connection drops. onClose runs
// exactly once afterwards regardless of how the connection ended, so the
// registry entry is removed even on abrupt disconnects.
func (c *Client) ReadPump(handler func(*Client, []byte), onClose func(*Client)) {
	defer func() {
		c.Close()
		onClose(c)
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				l := log.L()
				l.Debug().Err(err).Str(log.FieldSessionID, c.sessionID).Msg("websocket read error")
			}
			break
		}

		handler(c, message)
	}
}

// WritePump drains the send queue onto the wire, pinging on an interval.
// Every write carries a deadline; a write blocked past it ends the pump and
// closes the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			return
		}
	}
}

// Deliver queues raw bytes for the client. Returns ErrSlowConsumer when the
// buffer is full.
func (c *Client) Deliver(data []byte) error {
	select {
	case <-c.closed:
		return nil
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// SendJSON marshals v and queues it for the client.
func (c *Client) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Deliver(data)
}

// Close shuts down the session's transport and cancels its pending writes.
// Safe to call more than once; never affects other sessions.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}
