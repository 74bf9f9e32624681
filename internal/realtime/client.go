package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flowkit/flowkit-editor/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Client is one attached editor page.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
	sess      *session.Session
	logger    *slog.Logger
}

// readPump feeds page events to the session until the connection fails. Rejected
// events are answered with an error command on this connection only.
func (c *Client) readPump() {
	defer c.hub.detach(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("player connection lost", "error", err)
			}
			return
		}

		var in session.Input
		if err := json.Unmarshal(data, &in); err != nil {
			c.reply(session.Command{Type: session.CmdError, Error: "invalid JSON message"})
			continue
		}
		if err := c.sess.Dispatch(context.Background(), in); err != nil {
			c.logger.Debug("player input rejected", "type", in.Type, "error", err)
			c.reply(session.Command{Type: session.CmdError, Error: err.Error()})
		}
	}
}

// reply queues cmd for this client alone through the hub's broadcast path.
func (c *Client) reply(cmd session.Command) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return
	}
	c.hub.direct(c, data)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
