package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum control message size allowed from peer
	maxMessageSize = 512

	// Upper bound on accounts one connection may follow
	maxAccountSubscriptions = 16
)

// control is an inbound subscribe/unsubscribe request from the peer
type control struct {
	Type      MessageType `json:"type"`
	AccountID uint        `json:"account_id"`
}

// Client is one WebSocket consumer of tracking events. A client starts with
// no subscriptions and follows accounts explicitly via subscribe messages;
// the hub only fans events out to clients following the event's account.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	// accounts this connection follows, touched only by ReadPump
	following map[uint]struct{}
}

// NewClient wraps an upgraded connection for the hub
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, 256),
		logger:    logger,
		following: make(map[uint]struct{}),
	}
}

// ReadPump consumes control messages until the connection drops, then
// detaches the client from the hub
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error", slog.Any("error", err))
			}
			return
		}
		if err := c.handleControl(raw); err != nil {
			c.reply(WSMessage{Type: MessageTypeError, Error: err.Error()})
		}
	}
}

// handleControl applies one subscribe or unsubscribe request
func (c *Client) handleControl(raw []byte) error {
	var msg control
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("invalid message format")
	}
	if msg.AccountID == 0 {
		return fmt.Errorf("account_id is required")
	}

	switch msg.Type {
	case MessageTypeSubscribe:
		if _, ok := c.following[msg.AccountID]; ok {
			return nil
		}
		if len(c.following) >= maxAccountSubscriptions {
			return fmt.Errorf("subscription limit reached")
		}
		c.following[msg.AccountID] = struct{}{}
		c.hub.Subscribe(c, msg.AccountID)
	case MessageTypeUnsubscribe:
		delete(c.following, msg.AccountID)
		c.hub.Unsubscribe(c, msg.AccountID)
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}

	c.reply(WSMessage{Type: MessageTypeAck, AccountID: msg.AccountID})
	return nil
}

// reply queues an ack or error for this client without blocking the reader
func (c *Client) reply(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		// Buffer full, skip
	}
}

// WritePump drains the send channel onto the connection and keeps the peer
// alive with pings. Queued messages are flushed in one write when the
// channel has a backlog.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			for i := len(c.send); i > 0; i-- {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
