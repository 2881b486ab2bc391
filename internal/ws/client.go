package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Client is one WebSocket connection. Its session binding is only touched
// from the read goroutine.
type Client struct {
	id      string
	handler *Handler
	conn    *websocket.Conn
	log     logrus.FieldLogger

	sendMu sync.Mutex
	send   chan []byte
	closed bool

	sessionCode string
	userID      string
	userName    string
}

func newClient(h *Handler, conn *websocket.Conn, id string) *Client {
	return &Client{
		id:      id,
		handler: h,
		conn:    conn,
		log:     h.log.WithField("conn", id),
		send:    make(chan []byte, sendBufferSize),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) joined() bool { return c.sessionCode != "" }

// enqueue hands a frame to the write pump. A client whose buffer is full is
// too slow to keep up and gets disconnected.
func (c *Client) enqueue(frame []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		c.log.Warn("send buffer full, dropping connection")
		c.closed = true
		close(c.send)
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) emit(typ string, data any) {
	frame, err := encode(typ, data)
	if err != nil {
		c.log.WithError(err).WithField("type", typ).Error("failed to encode event")
		return
	}
	c.enqueue(frame)
}

func (c *Client) emitError(message string) {
	c.emit(TypeError, errorEvent{Message: message})
}

// ReadPump dispatches inbound frames until the connection fails, then
// detaches the client from its session.
func (c *Client) ReadPump() {
	defer func() {
		c.handler.disconnect(c)
		c.closeSend()
		c.conn.Close()
		c.log.Debug("read pump exited")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("websocket read error")
			} else {
				c.log.Debug("websocket closed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.log.WithField("message_type", messageType).Debug("ignoring non-text frame")
			continue
		}
		c.handler.dispatch(c, message)
	}
}

// WritePump drains the send buffer into the connection and keeps it alive
// with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.WithError(err).Warn("failed to write message")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.WithError(err).Debug("failed to send ping")
				return
			}
		}
	}
}
