package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type ViolationRepo struct {
	db *sql.DB
}

func NewViolationRepo(db *sql.DB) *ViolationRepo {
	return &ViolationRepo{db: db}
}

func (r *ViolationRepo) Record(ctx context.Context, v *Violation) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("violation repo unavailable")
	}
	if v == nil {
		return fmt.Errorf("violation is required")
	}
	if strings.TrimSpace(v.ConstructID) == "" {
		return fmt.Errorf("construct id is required")
	}
	if strings.TrimSpace(v.Pattern) == "" {
		return fmt.Errorf("pattern is required")
	}
	if v.ID == "" {
		id, err := NewID()
		if err != nil {
			return err
		}
		v.ID = id
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = nowUTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO persona_violations (id, construct_id, user_id, pattern, excerpt, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`, v.ID, v.ConstructID, v.UserID, v.Pattern, v.Excerpt, formatTimestamp(v.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert persona violation: %w", err)
	}
	return nil
}

// ListRecent returns the newest violations first, optionally for one
// construct.
func (r *ViolationRepo) ListRecent(ctx context.Context, constructID string, limit int) ([]*Violation, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("violation repo unavailable")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `
SELECT id, construct_id, user_id, pattern, excerpt, created_at
FROM persona_violations`
	args := []any{}
	if constructID != "" {
		query += "\nWHERE construct_id = ?"
		args = append(args, constructID)
	}
	query += "\nORDER BY created_at DESC, rowid DESC\nLIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list persona violations: %w", err)
	}
	defer rows.Close()

	items := make([]*Violation, 0)
	for rows.Next() {
		v := &Violation{}
		var createdAt string
		if err := rows.Scan(&v.ID, &v.ConstructID, &v.UserID, &v.Pattern, &v.Excerpt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan persona violation: %w", err)
		}
		if v.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persona violations: %w", err)
	}
	return items, nil
}
