package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/flowkit/flowkit-editor/internal/logging"
	"github.com/flowkit/flowkit-editor/internal/session"
)

// A nil CheckOrigin rejects cross-origin pages; the editor is served from the
// same host.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type SessionGetter interface {
	Get(ctx context.Context, id string) (*session.Session, error)
}

// Handler upgrades GET /sessions/{sessionID}/player to a player connection.
type Handler struct {
	hub      *Hub
	sessions SessionGetter
	logger   *slog.Logger
}

func NewHandler(hub *Hub, sessions SessionGetter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{hub: hub, sessions: sessions, logger: logging.WithComponent(logger, "realtime")}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, err := h.sessions.Get(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to load session", "session_id", id, "error", err)
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "session_id", id, "error", err)
		return
	}

	client := &Client{
		hub:       h.hub,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		sessionID: id,
		sess:      sess,
		logger:    logging.WithSessionID(h.logger, id),
	}
	if !h.hub.attach(client) {
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()

	// bring the new page up to the session's current source and position
	if err := sess.Attach(); err != nil {
		h.logger.Warn("failed to sync player", "session_id", id, "error", err)
	}
}
