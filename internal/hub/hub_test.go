package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/user/chorus/internal/observability"
)

func startHub(t *testing.T, opts Options) (*Hub, string) {
	t.Helper()
	h := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)

	server := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(server.Close)
	return h, fmt.Sprintf("ws://%s/ws?token=%s", server.URL[7:], opts.Token)
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	dialCancel()
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, dst any) {
	t.Helper()
	readCtx, readCancel := context.WithTimeout(context.Background(), 2*time.Second)
	_, data, err := conn.Read(readCtx)
	readCancel()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, msg any) {
	t.Helper()
	data, _ := json.Marshal(msg)
	writeCtx, writeCancel := context.WithTimeout(context.Background(), time.Second)
	err := conn.Write(writeCtx, websocket.MessageText, data)
	writeCancel()
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestTokenAuthentication(t *testing.T) {
	validToken := "secret-token-123"

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"valid token", validToken, http.StatusSwitchingProtocols},
		{"invalid token", "wrong-token", http.StatusUnauthorized},
		{"missing token", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := New(Options{Token: validToken})

			ctx, cancel := context.WithCancel(context.Background())
			go hub.Run(ctx)
			defer cancel()

			server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
			defer server.Close()

			url := fmt.Sprintf("ws://%s/ws", server.URL[7:])
			if tt.token != "" {
				url = fmt.Sprintf("%s?token=%s", url, tt.token)
			}

			dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
			conn, resp, err := websocket.Dial(dialCtx, url, nil)
			dialCancel()

			if resp != nil && resp.StatusCode != tt.wantStatus {
				t.Errorf("status code mismatch: got %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			if tt.wantStatus == http.StatusSwitchingProtocols {
				if err != nil {
					t.Fatalf("expected successful connection, got error: %v", err)
				}
				conn.Close(websocket.StatusNormalClosure, "")
			} else if conn != nil {
				conn.Close(websocket.StatusNormalClosure, "")
			}
		})
	}
}

func TestChatRoundTrip(t *testing.T) {
	var got ChatRequest
	var mu sync.Mutex
	metrics := observability.NewRegistry()
	hub, url := startHub(t, Options{
		Token:   "test-token",
		Metrics: metrics,
		Chat: func(ctx context.Context, req ChatRequest) (*ChatReply, error) {
			mu.Lock()
			got = req
			mu.Unlock()
			return &ChatReply{RequestID: "req-1", Text: "Hello back.", Route: "greeting", Mode: "branded"}, nil
		},
	})
	conn := dial(t, url)

	var welcome WelcomeMessage
	readJSON(t, conn, &welcome)
	if welcome.Type != "welcome" || welcome.ClientID == "" {
		t.Fatalf("welcome = %#v", welcome)
	}
	waitForClientCount(t, hub, 1, time.Second)
	if v := metrics.Gauge(observability.WebsocketClients, nil); v != 1 {
		t.Fatalf("websocket clients gauge = %v, want 1", v)
	}

	writeJSON(t, conn, ClientMessage{Type: "chat", ID: "c1", UserID: "u1", ConstructID: "zen", ThreadID: "t1", Message: "hi"})

	var resp ResponseMessage
	readJSON(t, conn, &resp)
	if resp.Type != "response" || resp.ID != "c1" || resp.Text != "Hello back." || resp.Route != "greeting" || resp.RequestID != "req-1" {
		t.Fatalf("response = %#v", resp)
	}

	mu.Lock()
	defer mu.Unlock()
	if got.UserID != "u1" || got.ConstructID != "zen" || got.ThreadID != "t1" || got.Message != "hi" {
		t.Fatalf("chat request = %#v", got)
	}
}

func TestChatErrorsAreReported(t *testing.T) {
	_, url := startHub(t, Options{
		Token:       "test-token",
		MinInterval: -1,
		Chat: func(context.Context, ChatRequest) (*ChatReply, error) {
			return nil, errors.New("engine unavailable")
		},
	})
	conn := dial(t, url)
	var welcome WelcomeMessage
	readJSON(t, conn, &welcome)

	writeJSON(t, conn, ClientMessage{Type: "chat", ID: "c1", UserID: "u1", Message: "hello"})
	var errMsg ErrorMessage
	readJSON(t, conn, &errMsg)
	if errMsg.Type != "error" || errMsg.ID != "c1" || errMsg.Message != "engine unavailable" {
		t.Fatalf("error = %#v", errMsg)
	}

	writeJSON(t, conn, ClientMessage{Type: "chat", ID: "c2", UserID: "u1", Message: "  "})
	readJSON(t, conn, &errMsg)
	if errMsg.Message != "message is required" {
		t.Fatalf("empty message error = %#v", errMsg)
	}

	writeJSON(t, conn, ClientMessage{Type: "resize", ID: "c3"})
	readJSON(t, conn, &errMsg)
	if errMsg.Message != "unknown message type: resize" {
		t.Fatalf("unknown type error = %#v", errMsg)
	}

	writeJSON(t, conn, ClientMessage{Type: "ping", ID: "p1"})
	var pong PongMessage
	readJSON(t, conn, &pong)
	if pong.Type != "pong" || pong.ID != "p1" {
		t.Fatalf("pong = %#v", pong)
	}
}

func TestChatBurstIsRateLimited(t *testing.T) {
	metrics := observability.NewRegistry()
	release := make(chan struct{})
	_, url := startHub(t, Options{
		Token:       "test-token",
		MinInterval: time.Hour,
		Metrics:     metrics,
		Chat: func(ctx context.Context, req ChatRequest) (*ChatReply, error) {
			<-release
			return &ChatReply{Text: "ok", Route: "synthesis"}, nil
		},
	})
	conn := dial(t, url)
	var welcome WelcomeMessage
	readJSON(t, conn, &welcome)

	writeJSON(t, conn, ClientMessage{Type: "chat", ID: "c1", UserID: "u1", Message: "first"})
	writeJSON(t, conn, ClientMessage{Type: "chat", ID: "c2", UserID: "u1", Message: "second"})

	var errMsg ErrorMessage
	readJSON(t, conn, &errMsg)
	if errMsg.Type != "error" || errMsg.ID != "c2" {
		t.Fatalf("expected rate limit error for c2, got %#v", errMsg)
	}
	close(release)

	var resp ResponseMessage
	readJSON(t, conn, &resp)
	if resp.ID != "c1" || resp.Text != "ok" {
		t.Fatalf("response = %#v", resp)
	}
	if v := metrics.Counter(observability.RateLimitedMessages, nil); v != 1 {
		t.Fatalf("rate limited counter = %v, want 1", v)
	}
}

func TestRateLimiterDirect(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(time.Second)
	limiter.now = func() time.Time { return now }

	if !limiter.Allow("u1") {
		t.Fatal("first message should be allowed")
	}
	if limiter.Allow("u1") {
		t.Fatal("burst message should be rejected")
	}
	if !limiter.Allow("u2") {
		t.Fatal("other users should not share a window")
	}
	now = now.Add(1500 * time.Millisecond)
	if !limiter.Allow("u1") {
		t.Fatal("message after interval should be allowed")
	}

	var disabled *RateLimiter
	if !disabled.Allow("u1") {
		t.Fatal("nil limiter should allow")
	}
}

func TestBroadcastSeatsAndEvents(t *testing.T) {
	hub, url := startHub(t, Options{Token: "test-token"})

	var clients []*websocket.Conn
	for i := 0; i < 2; i++ {
		conn := dial(t, url)
		var welcome WelcomeMessage
		readJSON(t, conn, &welcome)
		clients = append(clients, conn)
	}
	waitForClientCount(t, hub, 2, time.Second)

	hub.BroadcastSeats([]SeatInfo{{Seat: "coding", Model: "deepseek-coder:6.7b", Active: false}})
	hub.BroadcastEvent("construct_saved", map[string]string{"id": "zen"})

	for i, conn := range clients {
		var seats SeatsMessage
		readJSON(t, conn, &seats)
		if seats.Type != "seats" || len(seats.Seats) != 1 || seats.Seats[0].Seat != "coding" {
			t.Fatalf("client %d seats = %#v", i, seats)
		}
		var event EventMessage
		readJSON(t, conn, &event)
		if event.Type != "event" || event.Event != "construct_saved" || string(event.Data) != `{"id":"zen"}` {
			t.Fatalf("client %d event = %#v", i, event)
		}
	}

	late := dial(t, url)
	var welcome WelcomeMessage
	readJSON(t, late, &welcome)
	if len(welcome.Seats) != 1 || welcome.Seats[0].Model != "deepseek-coder:6.7b" {
		t.Fatalf("late welcome seats = %#v", welcome.Seats)
	}
}

func TestConnectionBeforeRun(t *testing.T) {
	token := "test-token"
	hub := New(Options{Token: token})

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	conn := dial(t, fmt.Sprintf("ws://%s/ws?token=%s", server.URL[7:], token))

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	defer cancel()

	var msg WelcomeMessage
	readJSON(t, conn, &msg)
	if msg.Type != "welcome" {
		t.Errorf("expected welcome message, got type: %s", msg.Type)
	}
	if len(msg.Seats) != 0 {
		t.Errorf("expected no seats before any probe, got %d", len(msg.Seats))
	}
}

func TestClientLifecycle(t *testing.T) {
	hub, url := startHub(t, Options{Token: "test-token"})

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	dialCancel()
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	waitForClientCount(t, hub, 1, time.Second)

	conn.Close(websocket.StatusNormalClosure, "")
	waitForClientCount(t, hub, 0, time.Second)
}

func TestHighClientCountShutdown(t *testing.T) {
	token := "test-token"
	hub := New(Options{Token: token})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	url := fmt.Sprintf("ws://%s/ws?token=%s", server.URL[7:], token)

	numClients := 20
	for i := 0; i < numClients; i++ {
		dial(t, url)
	}

	waitForClientCount(t, hub, numClients, 2*time.Second)

	cancel()
	time.Sleep(200 * time.Millisecond)

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients after shutdown, got %d", hub.ClientCount())
	}
}

func waitForClientCount(t *testing.T, hub *Hub, expected int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == expected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ClientCount() != expected {
		t.Errorf("expected %d clients, got %d", expected, hub.ClientCount())
	}
}
