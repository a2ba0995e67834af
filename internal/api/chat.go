package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/user/chorus/internal/blueprint"
	"github.com/user/chorus/internal/db"
	"github.com/user/chorus/internal/hub"
	"github.com/user/chorus/internal/memory"
	"github.com/user/chorus/internal/orchestrator"
	"github.com/user/chorus/internal/seat"
	"github.com/user/chorus/internal/tone"
	"github.com/user/chorus/internal/triad"
)

const anonymousUser = "anonymous"

// Engine is the slice of the orchestration engine the HTTP surface uses.
type Engine interface {
	Process(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error)
	MoodSnapshot(userID string) tone.MoodSnapshot
	ClearMood(userID string)
	SeatDescriptors() []seat.Descriptor
	TriadPreCheck(ctx context.Context) triad.Status
}

// ChatService runs exchanges through the engine and appends each completed
// one to the exchange ledger.
type ChatService struct {
	engine    Engine
	exchanges *db.ExchangeRepo
	retain    int
	logger    *slog.Logger
}

// NewChatService returns a service that persists to exchanges when non-nil.
// retain > 0 caps the stored exchanges per user.
func NewChatService(engine Engine, exchanges *db.ExchangeRepo, retain int, logger *slog.Logger) *ChatService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{engine: engine, exchanges: exchanges, retain: retain, logger: logger}
}

// Chat processes req. Ledger failures are logged and never fail the reply.
func (s *ChatService) Chat(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error) {
	if s == nil || s.engine == nil {
		return nil, errors.New("chat engine unavailable")
	}
	resp, err := s.engine.Process(ctx, req)
	if err != nil {
		return nil, err
	}
	s.record(ctx, req, resp)
	return resp, nil
}

func (s *ChatService) record(ctx context.Context, req orchestrator.Request, resp *orchestrator.Response) {
	if s.exchanges == nil {
		return
	}
	metrics, err := json.Marshal(resp.Metrics)
	if err != nil {
		s.logger.Warn("marshal exchange metrics", "request", resp.RequestID, "error", err)
		metrics = nil
	}
	ex := &db.Exchange{
		RequestID:   resp.RequestID,
		UserID:      req.UserID,
		ConstructID: req.ConstructID,
		ThreadID:    req.ThreadID,
		Message:     req.Message,
		Response:    resp.Text,
		Route:       string(resp.Route),
		Mode:        string(resp.Mode),
		Metrics:     metrics,
	}
	// Persist even when the caller has gone away.
	ctx = context.WithoutCancel(ctx)
	if err := s.exchanges.Create(ctx, ex); err != nil {
		s.logger.Warn("persist exchange failed", "request", resp.RequestID, "user", req.UserID, "error", err)
		return
	}
	if s.retain > 0 {
		if err := s.exchanges.TrimUser(ctx, req.UserID, s.retain); err != nil {
			s.logger.Warn("trim exchanges failed", "user", req.UserID, "error", err)
		}
	}
}

// HubChat adapts Chat to the websocket hub's ChatFunc.
func (s *ChatService) HubChat(ctx context.Context, req hub.ChatRequest) (*hub.ChatReply, error) {
	engineReq, err := chatRequest{
		UserID:      req.UserID,
		ConstructID: req.ConstructID,
		ThreadID:    req.ThreadID,
		Message:     req.Message,
		Mode:        req.Mode,
	}.toEngineRequest()
	if err != nil {
		return nil, err
	}
	resp, err := s.Chat(ctx, engineReq)
	if err != nil {
		return nil, err
	}
	return &hub.ChatReply{
		RequestID: resp.RequestID,
		Text:      resp.Text,
		Route:     string(resp.Route),
		Mode:      string(resp.Mode),
		Metrics:   resp.Metrics,
	}, nil
}

type chatRequest struct {
	UserID         string              `json:"user_id"`
	ConstructID    string              `json:"construct_id"`
	ThreadID       string              `json:"thread_id"`
	Message        string              `json:"message"`
	Mode           string              `json:"mode"`
	Memory         *memory.Context     `json:"memory"`
	ModelOverrides map[string]string   `json:"model_overrides"`
	Overrides      blueprint.Overrides `json:"overrides"`
}

// toEngineRequest validates the wire request and converts it.
func (req chatRequest) toEngineRequest() (orchestrator.Request, error) {
	out := orchestrator.Request{
		UserID:      strings.TrimSpace(req.UserID),
		ConstructID: strings.TrimSpace(req.ConstructID),
		ThreadID:    strings.TrimSpace(req.ThreadID),
		Message:     req.Message,
		Memory:      req.Memory,
		Overrides:   req.Overrides,
	}
	if strings.TrimSpace(out.Message) == "" {
		return out, errors.New("message is required")
	}
	if out.UserID == "" {
		out.UserID = anonymousUser
	}
	if strings.TrimSpace(req.Mode) != "" {
		mode, ok := orchestrator.ParseMode(req.Mode)
		if !ok {
			return out, errors.New("mode must be branded or linear")
		}
		out.Mode = mode
	}
	if len(req.ModelOverrides) > 0 {
		out.ModelOverrides = make(map[seat.ID]string, len(req.ModelOverrides))
		for raw, model := range req.ModelOverrides {
			id, ok := seat.ParseID(raw)
			if !ok {
				return out, errors.New("unknown seat in model_overrides: " + raw)
			}
			out.ModelOverrides[id] = strings.TrimSpace(model)
		}
	}
	return out, nil
}

func (h *handler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	engineReq, err := req.toEngineRequest()
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := h.chatService.Chat(r.Context(), engineReq)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, resp)
}

func (h *handler) getMood(w http.ResponseWriter, r *http.Request) {
	user := strings.TrimSpace(r.PathValue("user"))
	jsonResponse(w, http.StatusOK, h.engine.MoodSnapshot(user))
}

func (h *handler) clearMood(w http.ResponseWriter, r *http.Request) {
	user := strings.TrimSpace(r.PathValue("user"))
	h.engine.ClearMood(user)
	noContent(w)
}
