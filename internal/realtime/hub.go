// Package realtime carries player commands to editor pages and page events back
// to their session over websockets.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/flowkit/flowkit-editor/internal/session"
)

const broadcastBuffer = 1024

type envelope struct {
	sessionID string
	data      []byte
}

type reply struct {
	client *Client
	data   []byte
}

// Hub owns the connected clients, grouped by session, and fans commands out to
// them. A client that cannot keep up is dropped.
type Hub struct {
	clients map[string]map[*Client]bool

	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	replies    chan reply
	done       chan struct{}

	logger *slog.Logger
}

var _ session.Broadcaster = (*Hub)(nil)

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan envelope, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		replies:    make(chan reply),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					h.drop(c)
				}
			}
			return

		case c := <-h.register:
			set := h.clients[c.sessionID]
			if set == nil {
				set = make(map[*Client]bool)
				h.clients[c.sessionID] = set
			}
			set[c] = true
			h.logger.Debug("player attached", "session_id", c.sessionID, "clients", len(set))

		case c := <-h.unregister:
			if h.clients[c.sessionID][c] {
				h.drop(c)
			}

		case r := <-h.replies:
			if h.clients[r.client.sessionID][r.client] {
				h.deliver(r.client, r.data)
			}

		case msg := <-h.broadcast:
			for c := range h.clients[msg.sessionID] {
				h.deliver(c, msg.data)
			}
		}
	}
}

// attach registers c. It reports false once the hub has stopped.
func (h *Hub) attach(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) detach(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// direct queues data for c alone.
func (h *Hub) direct(c *Client, data []byte) {
	select {
	case h.replies <- reply{client: c, data: data}:
	case <-h.done:
	}
}

func (h *Hub) deliver(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Warn("dropping slow player", "session_id", c.sessionID)
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	set := h.clients[c.sessionID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.sessionID)
	}
	close(c.send)
	_ = c.conn.Close()
}

// Broadcast queues cmd for every page attached to sessionID. It never blocks; a
// full queue drops the command.
func (h *Hub) Broadcast(sessionID string, cmd session.Command) {
	data, err := json.Marshal(cmd)
	if err != nil {
		h.logger.Error("failed to encode command", "type", cmd.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- envelope{sessionID: sessionID, data: data}:
	default:
		h.logger.Warn("broadcast queue full, command dropped", "session_id", sessionID, "type", cmd.Type)
	}
}
