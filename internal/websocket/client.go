package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/globalchat/backend/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	// Inbound events allowed per connection: a burst, then one per interval.
	rateBurst    = 5
	rateInterval = 200 * time.Millisecond
)

// Client is one websocket connection registered with the hub.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	publisher Publisher
	limiter   *rate.Limiter
	addr      string
	userID    string
	log       *logger.Logger
}

// NewClient wraps an upgraded connection. userID is empty for anonymous
// listeners.
func NewClient(hub *Hub, conn *websocket.Conn, publisher Publisher, addr, userID string) *Client {
	conn.SetReadLimit(maxMessageSize)
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		publisher: publisher,
		limiter:   rate.NewLimiter(rate.Every(rateInterval), rateBurst),
		addr:      addr,
		userID:    userID,
		log:       hub.log,
	}
}

func (c *Client) fields() map[string]interface{} {
	f := map[string]interface{}{"addr": c.addr}
	if c.userID != "" {
		f["user_id"] = c.userID
	}
	return f
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.limiter.Allow() {
			c.log.Debug(context.Background(), "rate limit exceeded, discarding event", c.fields())
			continue
		}

		c.handleEvent(raw)
	}
}

func (c *Client) logReadError(err error) {
	f := c.fields()
	f["error"] = err.Error()

	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn(context.Background(), "event exceeded maximum size", f)
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived):
		c.log.Warn(context.Background(), "unexpected websocket close", f)
	default:
		c.log.Debug(context.Background(), "client disconnected", f)
	}
}

// handleEvent re-emits a client's newMessage as updateMessages to everyone.
// Other events are ignored.
func (c *Client) handleEvent(raw []byte) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		c.log.Debug(context.Background(), "invalid event", c.fields())
		return
	}

	if event.Name != EventNewMessage {
		return
	}

	data := event.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := c.publisher.Publish(ctx, EventUpdateMessages, data); err != nil {
		c.log.Error(ctx, "failed to relay client event", err, c.fields())
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
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
