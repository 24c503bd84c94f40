package chat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one live session: a websocket connection plus the identity and
// room set it acquired after the authenticate handshake. A user may hold
// several clients at once (multi-device); each is fanned out independently.
type Client struct {
	ConnID string
	UserID string // empty until authenticated

	WS   *websocket.Conn
	Send chan []byte // outbound queue, drained by exactly one writer goroutine

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(connID string, ws *websocket.Conn, sendQueueSize int) *Client {
	return &Client{
		ConnID: connID,
		WS:     ws,
		Send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Close cancels all outstanding emits for this session and stops its writer.
// Safe to call more than once; Send is never closed, so concurrent Enqueue
// from fan-out workers holding a stale snapshot cannot panic.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Enqueue offers data to the session without blocking. A full queue means
// the client is not draining; the event is dropped and only this session
// misses it. Reports whether the event was accepted.
func (c *Client) Enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// writePump serializes all writes to the socket: queued frames plus
// keepalive pings. Runs until the session is closed or a write fails.
func (c *Client) writePump(pingEvery, writeWait time.Duration) {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		_ = c.WS.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.WS.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case data := <-c.Send:
			_ = c.WS.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WS.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.WS.WriteControl(websocket.PingMessage, []byte("ping"),
				time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
