package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mood-pulse-backend/internal/config"
	"mood-pulse-backend/internal/models"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

func newHubServer(t *testing.T, hub *WSHub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		id, err := hub.Register(conn)
		if err != nil {
			conn.Close()
			return
		}
		defer hub.Unregister(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func TestWSHub_BroadcastsToAllViewers(t *testing.T) {
	hub := NewWSHub(config.BroadcastConfig{SendBuffer: 4, PingInterval: time.Minute})
	srv := newHubServer(t, hub)

	a := dialHub(t, srv)
	b := dialHub(t, srv)
	waitFor(t, func() bool { return hub.Count() == 2 })

	hub.PulseCreated(models.PulseDTO{ID: "p-1", Mood: models.MoodHappy, Energy: 4})

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		if msg.Type != "pulse_created" {
			t.Errorf("Type = %q, want pulse_created", msg.Type)
		}
		data, ok := msg.Data.(map[string]any)
		if !ok || data["id"] != "p-1" {
			t.Errorf("Data = %#v, want pulse p-1", msg.Data)
		}
		if _, leaked := data["delete_token"]; leaked {
			t.Error("broadcast carried a delete token")
		}
		if msg.Timestamp == 0 {
			t.Error("Timestamp not set")
		}
	}

	hub.PulseDeleted("p-1")
	msg := readMessage(t, a)
	if msg.Type != "pulse_deleted" {
		t.Errorf("Type = %q, want pulse_deleted", msg.Type)
	}
}

func TestWSHub_UnregisterOnDisconnect(t *testing.T) {
	hub := NewWSHub(config.BroadcastConfig{PingInterval: time.Minute})
	srv := newHubServer(t, hub)

	conn := dialHub(t, srv)
	waitFor(t, func() bool { return hub.Count() == 1 })

	conn.Close()
	waitFor(t, func() bool { return hub.Count() == 0 })

	// Publishing with no viewers is a no-op.
	hub.PulseDeleted("gone")
}

func TestWSHub_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	hub := NewWSHub(config.BroadcastConfig{SendBuffer: 1, PingInterval: time.Minute})
	// A registered client whose writer never drains: the channel is filled directly.
	c := &wsClient{id: "stuck", send: make(chan []byte, 1)}
	hub.connections[c.id] = c

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.PulseDeleted("p")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full viewer buffer")
	}
	if len(c.send) != 1 {
		t.Errorf("buffer holds %d messages, want 1", len(c.send))
	}
}

func TestWSHub_ServeClosesViewers(t *testing.T) {
	hub := NewWSHub(config.BroadcastConfig{PingInterval: time.Minute})
	srv := newHubServer(t, hub)
	conn := dialHub(t, srv)
	waitFor(t, func() bool { return hub.Count() == 1 })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- hub.Serve(ctx) }()
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve returned %v, want context.Canceled", err)
	}
	if hub.Count() != 0 {
		t.Errorf("Count = %d after shutdown, want 0", hub.Count())
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("viewer read %v, want going-away close", err)
	}

	if _, err := hub.Register(nil); !errors.Is(err, ErrHubClosed) {
		t.Errorf("Register after shutdown: got %v, want ErrHubClosed", err)
	}
}
