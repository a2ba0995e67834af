// Package hub serves the websocket chat surface: clients send chat messages
// and receive the reply for their own message, plus broadcast seat and
// construct events.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/user/chorus/internal/observability"
)

// ChatFunc runs one chat exchange on behalf of a client.
type ChatFunc func(ctx context.Context, req ChatRequest) (*ChatReply, error)

type Options struct {
	Token string
	Chat  ChatFunc
	// MinInterval is the minimum gap between chat messages from one user.
	// Zero uses the default; negative disables limiting.
	MinInterval time.Duration
	Metrics     *observability.Registry
	Logger      *slog.Logger
}

type Hub struct {
	clients     map[string]*Client
	register    chan *clientRegistration
	unregister  chan *Client
	broadcast   chan []byte
	chat        ChatFunc
	token       string
	mu          sync.RWMutex
	seats       []SeatInfo
	seatsMu     sync.RWMutex
	rateLimiter *RateLimiter
	metrics     *observability.Registry
	logger      *slog.Logger
	ctxWrap     *ctxWrapper
	running     atomic.Bool
}

type ctxWrapper struct {
	ctx context.Context
}

type clientRegistration struct {
	client  *Client
	welcome []byte
}

func New(opts Options) *Hub {
	interval := opts.MinInterval
	if interval == 0 {
		interval = defaultMinInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:     make(map[string]*Client),
		register:    make(chan *clientRegistration, 16),
		unregister:  make(chan *Client, 16),
		broadcast:   make(chan []byte, 256),
		chat:        opts.Chat,
		token:       opts.Token,
		rateLimiter: NewRateLimiter(interval),
		metrics:     opts.Metrics,
		logger:      logger,
		ctxWrap:     &ctxWrapper{ctx: context.Background()},
	}
}

func (h *Hub) getContext() context.Context {
	if h.ctxWrap != nil {
		return h.ctxWrap.ctx
	}
	return context.Background()
}

func (h *Hub) Run(ctx context.Context) {
	h.ctxWrap = &ctxWrapper{ctx: ctx}
	h.running.Store(true)
	defer h.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, c := range h.clients {
				c.close()
			}
			h.metrics.AddGauge(observability.WebsocketClients, nil, -float64(len(h.clients)))
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			return

		case reg := <-h.register:
			h.mu.Lock()
			h.clients[reg.client.id] = reg.client
			h.metrics.AddGauge(observability.WebsocketClients, nil, 1)
			h.mu.Unlock()
			if reg.welcome != nil {
				reg.client.enqueue(reg.welcome)
			}
			go reg.client.writePump(h.getContext())
			go reg.client.readPump(h.getContext())
			h.logger.Info("client connected", "client", reg.client.id, "total", h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				client.close()
				h.metrics.AddGauge(observability.WebsocketClients, nil, -1)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", "client", client.id, "total", h.ClientCount())

		case data := <-h.broadcast:
			h.mu.RLock()
			for _, c := range h.clients {
				if !c.enqueue(data) {
					h.logger.Warn("client send buffer full, dropping message", "client", c.id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" || token != h.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}

	client := newClient(conn, h)

	h.seatsMu.RLock()
	seats := h.seats
	h.seatsMu.RUnlock()
	if seats == nil {
		seats = []SeatInfo{}
	}
	welcome, _ := json.Marshal(WelcomeMessage{Type: "welcome", ClientID: client.id, Seats: seats})

	select {
	case h.register <- &clientRegistration{client: client, welcome: welcome}:
	default:
		h.logger.Warn("hub not accepting connections")
		conn.Close(websocket.StatusTryAgainLater, "server busy")
		return
	}
}

// BroadcastSeats stores the latest seat availability, sent to new clients on
// connect, and pushes it to every connected client.
func (h *Hub) BroadcastSeats(seats []SeatInfo) {
	h.seatsMu.Lock()
	h.seats = append([]SeatInfo(nil), seats...)
	h.seatsMu.Unlock()

	data, err := json.Marshal(SeatsMessage{Type: "seats", Seats: seats})
	if err != nil {
		h.logger.Error("marshal seats message", "error", err)
		return
	}
	h.sendBroadcast(data)
}

// BroadcastEvent pushes a named event, such as a construct change, to every
// connected client.
func (h *Hub) BroadcastEvent(event string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			h.logger.Error("marshal event payload", "event", event, "error", err)
			return
		}
		raw = data
	}
	data, err := json.Marshal(EventMessage{Type: "event", Event: event, Data: raw, Ts: time.Now().Unix()})
	if err != nil {
		h.logger.Error("marshal event message", "event", event, "error", err)
		return
	}
	h.sendBroadcast(data)
}

func (h *Hub) sendBroadcast(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

func (h *Hub) SendError(client *Client, id, message string) {
	h.sendJSON(client, ErrorMessage{Type: "error", ID: id, Message: message})
}

func (h *Hub) sendJSON(client *Client, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal client message", "error", err)
		return
	}
	client.enqueue(data)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleChat runs one exchange and replies to the sending client only.
func (h *Hub) handleChat(ctx context.Context, c *Client, msg ClientMessage) {
	if h.chat == nil {
		h.SendError(c, msg.ID, "chat unavailable")
		return
	}
	reply, err := h.chat(ctx, ChatRequest{
		UserID:      msg.UserID,
		ConstructID: msg.ConstructID,
		ThreadID:    msg.ThreadID,
		Mode:        msg.Mode,
		Message:     msg.Message,
	})
	if err != nil {
		h.logger.Warn("chat failed", "client", c.id, "user", msg.UserID, "error", err)
		h.SendError(c, msg.ID, err.Error())
		return
	}
	h.sendJSON(c, ResponseMessage{
		Type:      "response",
		ID:        msg.ID,
		RequestID: reply.RequestID,
		Text:      reply.Text,
		Route:     reply.Route,
		Mode:      reply.Mode,
		Metrics:   reply.Metrics,
	})
}

func (h *Hub) allowChat(userID string) bool {
	if h.rateLimiter.Allow(userID) {
		return true
	}
	h.metrics.IncCounter(observability.RateLimitedMessages, nil, 1)
	return false
}

func (h *Hub) isRunning() bool {
	return h.running.Load()
}

func (h *Hub) unregisterClient(c *Client) {
	if !h.isRunning() {
		c.conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	select {
	case h.unregister <- c:
	default:
		h.logger.Warn("unregister channel full, forcing close", "client", c.id)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}
}
