package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Simplici0/montaje/internal/quote"
)

// timeLayout keeps a fixed width so updated_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Sessions persists session state as the flat field mapping plus the tier
// list, both JSON encoded.
type Sessions struct {
	db  *sql.DB
	now func() time.Time
}

func NewSessions(db *sql.DB) *Sessions {
	return &Sessions{db: db, now: time.Now}
}

// Summary describes a saved session without its state.
type Summary struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Sessions) Save(ctx context.Context, id string, state quote.State) error {
	fields, err := json.Marshal(state.Fields)
	if err != nil {
		return fmt.Errorf("encode session fields: %w", err)
	}
	tiers := []byte("[]")
	if len(state.Tiers) > 0 {
		if tiers, err = json.Marshal(state.Tiers); err != nil {
			return fmt.Errorf("encode session tiers: %w", err)
		}
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO order_sessions (id, fields_json, tiers_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			fields_json = excluded.fields_json,
			tiers_json = excluded.tiers_json,
			updated_at = excluded.updated_at
	`, id, string(fields), string(tiers), s.now().UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}
	return nil
}

func (s *Sessions) Load(ctx context.Context, id string) (quote.State, error) {
	var fields, tiers string
	err := s.db.QueryRowContext(ctx, `SELECT fields_json, tiers_json FROM order_sessions WHERE id = ?`, id).
		Scan(&fields, &tiers)
	if errors.Is(err, sql.ErrNoRows) {
		return quote.State{}, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return quote.State{}, fmt.Errorf("query session %s: %w", id, err)
	}

	var state quote.State
	if err := json.Unmarshal([]byte(fields), &state.Fields); err != nil {
		return quote.State{}, fmt.Errorf("decode session %s fields: %w", id, err)
	}
	if err := json.Unmarshal([]byte(tiers), &state.Tiers); err != nil {
		return quote.State{}, fmt.Errorf("decode session %s tiers: %w", id, err)
	}
	return state, nil
}

func (s *Sessions) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM order_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return nil
}

// List returns saved sessions, most recently updated first.
func (s *Sessions) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, updated_at FROM order_sessions ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var updated string
		if err := rows.Scan(&sum.ID, &updated); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if sum.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
			return nil, fmt.Errorf("parse session %s updated_at: %w", sum.ID, err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}
