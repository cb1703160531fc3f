package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 128
)

// ErrConnClosed is returned by Send after the connection has closed.
var ErrConnClosed = errors.New("realtime: connection closed")

// Frame is the JSON envelope pushed to WebSocket clients. Event names match
// the SSE stream.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Conn wraps a websocket and serializes writes through a buffered queue.
type Conn struct {
	ID     string
	UserID string

	ws    *websocket.Conn
	send  chan []byte
	once  sync.Once
	close chan struct{}
}

// NewConn wraps ws for userID and starts its write loop.
func NewConn(userID string, ws *websocket.Conn) *Conn {
	c := &Conn{
		ID:     uuid.NewString(),
		UserID: userID,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		close:  make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Send queues a frame. A client too slow to drain its buffer is
// disconnected.
func (c *Conn) Send(event string, data any) error {
	payload, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return err
	}
	select {
	case <-c.close:
		return ErrConnClosed
	default:
	}
	select {
	case <-c.close:
		return ErrConnClosed
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("realtime: connection buffer exceeded")
	}
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.close }

// ReadLoop discards inbound frames and answers pongs until the peer goes
// away, then closes the connection.
func (c *Conn) ReadLoop() {
	defer c.Close(websocket.CloseNormalClosure, "")
	c.ws.SetReadLimit(4096)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

// Close terminates the connection and stops the write loop.
func (c *Conn) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.close)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.close:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Conn) write(kind int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(kind, payload)
}
