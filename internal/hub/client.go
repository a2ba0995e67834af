package hub

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

const readLimit = 32768

type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// done is closed on unregister; send is never closed.
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 256),
		hub:  hub,
		done: make(chan struct{}),
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue queues data for the write pump. It reports false when the buffer
// is full or the client is gone.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.conn.SetReadLimit(readLimit)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				c.hub.logger.Debug("client read ended", "client", c.id, "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.logger.Warn("client sent invalid message", "client", c.id, "error", err)
			c.hub.SendError(c, "", "invalid message format")
			continue
		}

		switch msg.Type {
		case "chat":
			if strings.TrimSpace(msg.Message) == "" {
				c.hub.SendError(c, msg.ID, "message is required")
				continue
			}
			key := strings.TrimSpace(msg.UserID)
			if key == "" {
				key = c.id
			}
			if !c.hub.allowChat(key) {
				c.hub.SendError(c, msg.ID, "rate limited: slow down")
				continue
			}
			// Replies run off the read loop so pongs keep flowing during long
			// exchanges.
			go c.hub.handleChat(ctx, c, msg)
		case "ping":
			c.hub.sendJSON(c, PongMessage{Type: "pong", ID: msg.ID})
		default:
			c.hub.SendError(c, msg.ID, "unknown message type: "+msg.Type)
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case msg := <-c.send:
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}
