package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mood-pulse-backend/internal/config"
	"mood-pulse-backend/internal/ratelimit"
	"mood-pulse-backend/internal/repository"
	"mood-pulse-backend/internal/services"
	"mood-pulse-backend/internal/validation"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

func TestWebSocket_ReceivesCreatedAndDeleted(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit.SweepInterval = cfg.RateLimit.Window

	repo := repository.NewMemoryRepository()
	hub := services.NewWSHub(cfg.Broadcast)
	limiter := ratelimit.New(ratelimit.Config{Window: cfg.RateLimit.Window, Max: cfg.RateLimit.Max})
	svc := services.NewPulseService(repo, validation.New(cfg.Pulses.MaxTextLength), limiter, hub, cfg)
	router := NewRouter(cfg, NewPulseHandler(svc, cfg.Server.MaxBodyBytes), NewWebSocketHandler(hub, cfg.Server.CORSOrigins), repo)

	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	created := createPulse(t, router, validBody)

	read := func() services.WSMessage {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if strings.Contains(string(data), created.DeleteToken) {
			t.Fatal("broadcast leaked the delete token")
		}
		var msg services.WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg
	}

	if msg := read(); msg.Type != "pulse_created" {
		t.Errorf("Type = %q, want pulse_created", msg.Type)
	}

	rec := do(t, router, http.MethodDelete, "/api/v1/pulses/"+created.Pulse.ID, "", map[string]string{DeleteTokenHeader: created.DeleteToken})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if msg := read(); msg.Type != "pulse_deleted" {
		t.Errorf("Type = %q, want pulse_deleted", msg.Type)
	}
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"wildcard", []string{"*"}, "https://evil.example", true},
		{"empty list", nil, "https://any.example", true},
		{"listed", []string{"https://map.example"}, "https://map.example", true},
		{"unlisted", []string{"https://map.example"}, "https://evil.example", false},
		{"no origin header", []string{"https://map.example"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := originChecker(tt.allowed)(r); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
