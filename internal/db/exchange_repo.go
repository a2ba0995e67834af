package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

const defaultListLimit = 50

type ExchangeRepo struct {
	db *sql.DB
}

func NewExchangeRepo(db *sql.DB) *ExchangeRepo {
	return &ExchangeRepo{db: db}
}

func (r *ExchangeRepo) Create(ctx context.Context, ex *Exchange) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("exchange repo unavailable")
	}
	if ex == nil {
		return fmt.Errorf("exchange is required")
	}
	if strings.TrimSpace(ex.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(ex.Message) == "" {
		return fmt.Errorf("message is required")
	}
	if ex.Route == "" {
		return fmt.Errorf("route is required")
	}
	if ex.ID == "" {
		id, err := NewID()
		if err != nil {
			return err
		}
		ex.ID = id
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = nowUTC()
	}
	metrics := ""
	if len(ex.Metrics) > 0 {
		if !json.Valid(ex.Metrics) {
			return fmt.Errorf("metrics must be valid json")
		}
		metrics = string(ex.Metrics)
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO exchanges (id, request_id, user_id, construct_id, thread_id, message, response, route, mode, metrics_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, ex.ID, ex.RequestID, ex.UserID, ex.ConstructID, ex.ThreadID, ex.Message, ex.Response, ex.Route, ex.Mode, metrics, formatTimestamp(ex.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert exchange: %w", err)
	}
	return nil
}

// List returns the newest matching exchanges in chronological order.
func (r *ExchangeRepo) List(ctx context.Context, filter ExchangeFilter) ([]*Exchange, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("exchange repo unavailable")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var (
		where []string
		args  []any
	)
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.ConstructID != "" {
		where = append(where, "construct_id = ?")
		args = append(args, filter.ConstructID)
	}
	if filter.ThreadID != "" {
		where = append(where, "thread_id = ?")
		args = append(args, filter.ThreadID)
	}
	query := `
SELECT id, request_id, user_id, construct_id, thread_id, message, response, route, mode, metrics_json, created_at
FROM exchanges`
	if len(where) > 0 {
		query += "\nWHERE " + strings.Join(where, " AND ")
	}
	query += "\nORDER BY created_at DESC, rowid DESC\nLIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list exchanges: %w", err)
	}
	defer rows.Close()

	items := make([]*Exchange, 0)
	for rows.Next() {
		ex := &Exchange{}
		var metrics, createdAt string
		if err := rows.Scan(&ex.ID, &ex.RequestID, &ex.UserID, &ex.ConstructID, &ex.ThreadID, &ex.Message, &ex.Response, &ex.Route, &ex.Mode, &metrics, &createdAt); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		if metrics != "" {
			ex.Metrics = json.RawMessage(metrics)
		}
		if ex.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		items = append(items, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exchanges: %w", err)
	}

	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (r *ExchangeRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*Exchange, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	return r.List(ctx, ExchangeFilter{UserID: userID, Limit: limit})
}

// RecentTurns flattens the newest exchanges of one conversation into at most
// limit turns, oldest first.
func (r *ExchangeRepo) RecentTurns(ctx context.Context, userID, threadID string, limit int) ([]Turn, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("exchange repo unavailable")
	}
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if limit <= 0 {
		return nil, nil
	}
	// thread_id "" is a conversation of its own, so filter on it explicitly.
	rows, err := r.db.QueryContext(ctx, `
SELECT message, response, created_at
FROM exchanges
WHERE user_id = ? AND thread_id = ?
ORDER BY created_at DESC, rowid DESC
LIMIT ?
`, userID, threadID, (limit+1)/2)
	if err != nil {
		return nil, fmt.Errorf("list recent turns: %w", err)
	}
	defer rows.Close()

	type pair struct {
		message, response string
		at                string
	}
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.message, &p.response, &p.at); err != nil {
			return nil, fmt.Errorf("scan recent turn: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent turns: %w", err)
	}

	turns := make([]Turn, 0, len(pairs)*2)
	for i := len(pairs) - 1; i >= 0; i-- {
		at, err := parseTimestamp(pairs[i].at)
		if err != nil {
			return nil, err
		}
		turns = append(turns,
			Turn{Role: "user", Content: pairs[i].message, CreatedAt: at},
			Turn{Role: "assistant", Content: pairs[i].response, CreatedAt: at},
		)
	}
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

// TrimUser keeps only the newest keep exchanges of a user.
func (r *ExchangeRepo) TrimUser(ctx context.Context, userID string, keep int) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("exchange repo unavailable")
	}
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if keep <= 0 {
		keep = defaultListLimit
	}
	_, err := r.db.ExecContext(ctx, `
DELETE FROM exchanges
WHERE user_id = ?
  AND id NOT IN (
    SELECT id FROM exchanges
    WHERE user_id = ?
    ORDER BY created_at DESC, rowid DESC
    LIMIT ?
  )
`, userID, userID, keep)
	if err != nil {
		return fmt.Errorf("trim exchanges: %w", err)
	}
	return nil
}
