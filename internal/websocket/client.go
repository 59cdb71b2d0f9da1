package websocket

import (
	"context"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/stormsync/internal/model"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
)

// Feed supplies the per-user streams forwarded to a client.
type Feed interface {
	ObservePreferences(ctx context.Context, userID string) (<-chan model.PreferenceSet, func(), error)
	ObserveUnreadCount(ctx context.Context, userID string) (<-chan int, func(), error)
}

// Client represents a single WebSocket connection.
type Client struct {
	hub    *Hub
	conn   *ws.Conn
	userID string
	send   chan []byte
}

func NewClient(hub *Hub, conn *ws.Conn, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBufferSize),
	}
}

// Run registers the client, starts the write pump and the feed, and runs the
// read pump. It blocks until the connection is closed, then unregisters.
func (c *Client) Run(ctx context.Context, feed Feed) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	if feed != nil && c.userID != "" {
		go c.forward(ctx, feed)
	}
	c.readPump(ctx)
}

// forward relays the user's preference and unread-count streams until ctx
// is done. Both streams replay their current value first.
func (c *Client) forward(ctx context.Context, feed Feed) {
	prefs, cancelPrefs, err := feed.ObservePreferences(ctx, c.userID)
	if err != nil {
		c.hub.logger.Error("observe preferences", "user_id", c.userID, "error", err)
		return
	}
	defer cancelPrefs()

	unread, cancelUnread, err := feed.ObserveUnreadCount(ctx, c.userID)
	if err != nil {
		c.hub.logger.Error("observe unread count", "user_id", c.userID, "error", err)
		return
	}
	defer cancelUnread()

	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-prefs:
			if !ok {
				return
			}
			c.hub.Send(c, NewMessage(TypePreferencesUpdated, p))
		case n, ok := <-unread:
			if !ok {
				return
			}
			c.hub.Send(c, NewMessage(TypeUnreadCount, n))
		}
	}
}

// readPump reads and discards all incoming messages. It returns on error
// (connection close), which triggers cleanup.
func (c *Client) readPump(ctx context.Context) {
	for {
		_, _, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
	}
}

// writePump drains the send channel and writes messages to the WebSocket.
// It also sends periodic pings to detect stale connections.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, ws.MessageText, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
