package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultHistoryLimit = 20

type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// HistorySource loads earlier turns for a conversation the process has not
// seen yet, oldest first.
type HistorySource interface {
	RecentTurns(ctx context.Context, userID, threadID string, limit int) ([]Turn, error)
}

type HistorySourceFunc func(ctx context.Context, userID, threadID string, limit int) ([]Turn, error)

func (f HistorySourceFunc) RecentTurns(ctx context.Context, userID, threadID string, limit int) ([]Turn, error) {
	return f(ctx, userID, threadID, limit)
}

// historyStore is the rolling per-conversation history. Each conversation
// has its own lock so concurrent users never wait on each other.
type historyStore struct {
	limit  int
	source HistorySource
	logger *slog.Logger

	mu      sync.Mutex
	threads map[string]*threadHistory
}

type threadHistory struct {
	mu       sync.Mutex
	turns    []Turn
	hydrated bool
}

func newHistoryStore(limit int, source HistorySource, logger *slog.Logger) *historyStore {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &historyStore{
		limit:   limit,
		source:  source,
		logger:  logger,
		threads: make(map[string]*threadHistory),
	}
}

func historyKey(userID, threadID string) string {
	return userID + "\x00" + threadID
}

func (h *historyStore) thread(userID, threadID string) *threadHistory {
	key := historyKey(userID, threadID)
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.threads[key]
	if t == nil {
		t = &threadHistory{}
		h.threads[key] = t
	}
	return t
}

// Record returns the turns preceding message and then appends message as a
// user turn.
func (h *historyStore) Record(ctx context.Context, userID, threadID, message string, at time.Time) []Turn {
	t := h.thread(userID, threadID)
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.hydrated {
		t.hydrated = true
		if h.source != nil {
			turns, err := h.source.RecentTurns(ctx, userID, threadID, h.limit)
			if err != nil {
				h.logger.Warn("history hydration failed", "user", userID, "thread", threadID, "error", err)
			} else {
				t.turns = append(turns, t.turns...)
			}
		}
	}
	prior := append([]Turn(nil), t.turns...)
	t.append(Turn{Role: "user", Content: message, At: at}, h.limit)
	return prior
}

func (h *historyStore) Append(userID, threadID string, turn Turn) {
	t := h.thread(userID, threadID)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.append(turn, h.limit)
}

func (h *historyStore) Len(userID, threadID string) int {
	t := h.thread(userID, threadID)
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.turns)
}

func (t *threadHistory) append(turn Turn, limit int) {
	t.turns = append(t.turns, turn)
	if over := len(t.turns) - limit; over > 0 {
		t.turns = append([]Turn(nil), t.turns[over:]...)
	}
}
