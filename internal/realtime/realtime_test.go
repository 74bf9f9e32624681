package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/flowkit/flowkit-editor/internal/backend"
	"github.com/flowkit/flowkit-editor/internal/session"
	"github.com/flowkit/flowkit-editor/internal/timeline"
)

type testEnv struct {
	hub    *Hub
	mgr    *session.Manager
	server *httptest.Server
	sess   *session.Session
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(nil)
	go hub.Run(ctx)

	mgr := session.NewManager(session.Deps{Bus: hub}, time.Hour)
	t.Cleanup(mgr.Shutdown)

	sess, err := mgr.Create(ctx, &backend.AnalysisResult{
		VideoFiles:        []string{"a.mp4", "b.mp4"},
		FrameSimilarities: timeline.Similarities{96: {{"a.mp4", "b.mp4"}}},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	r := chi.NewRouter()
	r.Get("/sessions/{sessionID}/player", NewHandler(hub, mgr, nil).ServeHTTP)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &testEnv{hub: hub, mgr: mgr, server: server, sess: sess}
}

func (e *testEnv) url(id string) string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/sessions/" + id + "/player"
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(e.url(e.sess.ID()), nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readCommand(t *testing.T, ws *websocket.Conn) session.Command {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var cmd session.Command
	if err := ws.ReadJSON(&cmd); err != nil {
		t.Fatalf("Failed to read command: %v", err)
	}
	return cmd
}

// readUntil reads commands until one of type typ arrives.
func readUntil(t *testing.T, ws *websocket.Conn, typ string) session.Command {
	t.Helper()
	for i := 0; i < 20; i++ {
		if cmd := readCommand(t, ws); cmd.Type == typ {
			return cmd
		}
	}
	t.Fatalf("no %q command received", typ)
	return session.Command{}
}

func TestHandler_AttachSyncsPlayer(t *testing.T) {
	env := newTestEnv(t)
	ws := env.dial(t)

	load := readCommand(t, ws)
	if load.Type != session.CmdLoad || load.Element != session.ElementPrimary || load.Video != "a.mp4" {
		t.Errorf("first command = %+v, want primary load of a.mp4", load)
	}
	seek := readCommand(t, ws)
	if seek.Type != session.CmdSeek || seek.Time == nil || *seek.Time != 0 {
		t.Errorf("second command = %+v, want seek to 0", seek)
	}
	seq := readCommand(t, ws)
	if seq.Type != session.CmdSequence || len(seq.Sequence) != 1 {
		t.Errorf("third command = %+v, want sequence", seq)
	}
}

func TestHandler_InputDrivesSession(t *testing.T) {
	env := newTestEnv(t)
	ws := env.dial(t)
	readUntil(t, ws, session.CmdSequence)

	if err := ws.WriteJSON(session.Input{Type: session.InputHover, Video: "b.mp4", Frame: 96, X: 10, Y: 20}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	cmd := readUntil(t, ws, session.CmdPreview)
	if cmd.Preview == nil || cmd.Preview.TargetVideo != "b.mp4" || cmd.Preview.Start != 2 {
		t.Errorf("preview = %+v", cmd.Preview)
	}

	if err := ws.WriteJSON(session.Input{Type: session.InputSwitch, Video: "b.mp4", Frame: 96}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	seq := readUntil(t, ws, session.CmdSequence)
	if len(seq.Sequence) != 2 || seq.Sequence[1].Start != 4 {
		t.Errorf("sequence = %+v", seq.Sequence)
	}
}

func TestHandler_RejectedInput(t *testing.T) {
	env := newTestEnv(t)
	ws := env.dial(t)
	readUntil(t, ws, session.CmdSequence)

	ws.WriteMessage(websocket.TextMessage, []byte("{not json"))
	if cmd := readCommand(t, ws); cmd.Type != session.CmdError {
		t.Errorf("command = %+v, want error", cmd)
	}

	ws.WriteJSON(session.Input{Type: session.InputHover, Video: "zzz.mp4"})
	cmd := readCommand(t, ws)
	if cmd.Type != session.CmdError || !strings.Contains(cmd.Error, "unknown video") {
		t.Errorf("command = %+v, want unknown video error", cmd)
	}
}

func TestHandler_Broadcast(t *testing.T) {
	env := newTestEnv(t)
	ws1 := env.dial(t)
	ws2 := env.dial(t)
	readUntil(t, ws1, session.CmdSequence)
	readUntil(t, ws2, session.CmdSequence)
	// the second attach replays to every page of the session
	readUntil(t, ws1, session.CmdSequence)

	if _, err := env.sess.Insert(context.Background(), "b.mp4", 7); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	for i, ws := range []*websocket.Conn{ws1, ws2} {
		cmd := readUntil(t, ws, session.CmdSequence)
		if len(cmd.Sequence) != 2 {
			t.Errorf("client %d sequence = %+v", i, cmd.Sequence)
		}
	}
}

func TestHandler_UnknownSession(t *testing.T) {
	env := newTestEnv(t)

	_, resp, err := websocket.DefaultDialer.Dial(env.url("missing"), nil)
	if err == nil {
		t.Fatal("Expected error dialing unknown session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %v, want 404", resp)
	}
}

func TestHandler_ForbiddenOrigin(t *testing.T) {
	env := newTestEnv(t)

	header := http.Header{}
	header.Set("Origin", "http://evil.com")
	_, resp, err := websocket.DefaultDialer.Dial(env.url(env.sess.ID()), header)
	if err == nil {
		t.Fatal("Expected error dialing with bad origin, got nil")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %v, want 403", resp)
	}
}

func TestHub_BroadcastEncodesCommand(t *testing.T) {
	hub := NewHub(nil)
	hub.Broadcast("s1", session.Command{Type: session.CmdReset})

	select {
	case msg := <-hub.broadcast:
		var cmd session.Command
		if err := json.Unmarshal(msg.data, &cmd); err != nil || cmd.Type != session.CmdReset || msg.sessionID != "s1" {
			t.Errorf("queued %+v (%v)", msg, err)
		}
	default:
		t.Fatal("nothing queued")
	}
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	hub := NewHub(nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBuffer+10; i++ {
			hub.Broadcast("s1", session.Command{Type: session.CmdPause})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked with no hub running")
	}
}
