package api

import (
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/user/chorus/internal/db"
	"github.com/user/chorus/internal/hub"
	"github.com/user/chorus/internal/registry"
)

// broadcaster pushes state changes to websocket clients.
type broadcaster interface {
	BroadcastSeats(seats []hub.SeatInfo)
	BroadcastEvent(event string, payload any)
}

type Options struct {
	DB         *sql.DB
	Engine     Engine
	Chat       *ChatService
	Constructs *registry.Registry
	Hub        broadcaster
	Token      string
	Logger     *slog.Logger
}

type handler struct {
	engine        Engine
	chatService   *ChatService
	exchangeRepo  *db.ExchangeRepo
	violationRepo *db.ViolationRepo
	constructs    *registry.Registry
	hub           broadcaster
	logger        *slog.Logger
}

func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	handler := &handler{
		engine:     opts.Engine,
		constructs: opts.Constructs,
		hub:        opts.Hub,
		logger:     logger,
	}
	if opts.DB != nil {
		handler.exchangeRepo = db.NewExchangeRepo(opts.DB)
		handler.violationRepo = db.NewViolationRepo(opts.DB)
	}
	handler.chatService = opts.Chat
	if handler.chatService == nil {
		handler.chatService = NewChatService(opts.Engine, handler.exchangeRepo, 0, logger)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", handler.chat)
	mux.HandleFunc("GET /api/mood/{user}", handler.getMood)
	mux.HandleFunc("DELETE /api/mood/{user}", handler.clearMood)

	mux.HandleFunc("GET /api/seats", handler.listSeats)
	mux.HandleFunc("GET /api/seats/health", handler.seatHealth)

	mux.HandleFunc("GET /api/constructs", handler.listConstructs)
	mux.HandleFunc("GET /api/constructs/{id}", handler.getConstruct)
	mux.HandleFunc("PUT /api/constructs/{id}", handler.putConstruct)
	mux.HandleFunc("DELETE /api/constructs/{id}", handler.deleteConstruct)

	mux.HandleFunc("GET /api/exchanges", handler.listExchanges)
	mux.HandleFunc("GET /api/violations", handler.listViolations)

	wrapped := authMiddleware(strings.TrimSpace(opts.Token))(jsonMiddleware(corsMiddleware(mux)))
	return wrapped
}

func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				if strings.TrimSpace(authHeader[7:]) == token {
					next.ServeHTTP(w, r)
					return
				}
			}

			if r.URL.Query().Get("token") == token {
				next.ServeHTTP(w, r)
				return
			}

			jsonError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return io.ErrUnexpectedEOF
	}
	return nil
}
