// Package ws hosts the two push channels: a market-data hub that
// broadcasts book snapshots to every subscriber, and a fill hub that
// delivers each fill to the subscribers of that fill's client_id. Both
// are adapted from the same Hub/Client shape: a register/unregister/send
// loop that drops a subscriber instead of blocking the writer when its
// outbound buffer is full.
package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Upgrader is shared by both hubs' HTTP handlers. Origin checking is left
// permissive: this server has no browser-facing session to protect and
// is meant to be reached by trusted internal clients and tests.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is the shared connection wrapper for both hubs.
type client struct {
	conn *websocket.Conn
	send chan []byte
	log  zerolog.Logger
}

func newClient(conn *websocket.Conn, log zerolog.Logger) *client {
	return &client{conn: conn, send: make(chan []byte, sendBuffer), log: log}
}

// writePump drains c.send to the socket until the hub closes the channel
// or a write fails; it also keeps the connection alive with pings.
func (c *client) writePump() {
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

// readPump discards inbound messages (these channels are server-push
// only) and calls onClose once the connection drops, so the hub can
// evict the subscriber.
func (c *client) readPump(onClose func()) {
	defer func() {
		onClose()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
	}
}
