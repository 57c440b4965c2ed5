package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Outcome of a request that completed successfully.
const OutcomeOK = "OK"

// Entry is one journal row. Outcome is OutcomeOK or the error code sent.
type Entry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	ReqID     string    `json:"req_id"`
	Command   string    `json:"command"`
	Outcome   string    `json:"outcome"`
	Message   string    `json:"message,omitempty"`
	Replayed  bool      `json:"replayed"`
	ElapsedMS int64     `json:"elapsed_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// Record appends an entry. ID is assigned by the database.
func (s *Store) Record(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests
		(session_id, req_id, command, outcome, message, replayed, elapsed_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.SessionID,
		e.ReqID,
		e.Command,
		e.Outcome,
		e.Message,
		e.Replayed,
		e.ElapsedMS,
		e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record request: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
//
// Returns an empty slice (not nil) when the journal is empty.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, req_id, command, outcome, message, replayed, elapsed_ms, created_at
		FROM requests
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}

	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// Count returns the number of rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM requests`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count requests: %w", err)
	}
	return n, nil
}

// Prune deletes entries created before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune requests: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune requests: %w", err)
	}
	return n, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e         Entry
		createdAt int64
	)
	if err := rows.Scan(
		&e.ID,
		&e.SessionID,
		&e.ReqID,
		&e.Command,
		&e.Outcome,
		&e.Message,
		&e.Replayed,
		&e.ElapsedMS,
		&createdAt,
	); err != nil {
		return Entry{}, fmt.Errorf("scan request: %w", err)
	}
	e.CreatedAt = time.UnixMilli(createdAt).UTC()
	return e, nil
}
