package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// RunRecord is the persisted form of one run. The JSON fields are stored
// verbatim so the admin API can serve them without re-encoding.
type RunRecord struct {
	ID         string          `json:"id"`
	Objective  string          `json:"objective"`
	Manifest   json.RawMessage `json:"manifest,omitempty"`
	Steps      json.RawMessage `json:"steps,omitempty"`
	Evaluation json.RawMessage `json:"evaluation,omitempty"`
	Summary    json.RawMessage `json:"summary,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// HistoryRecord is one persisted history entry.
type HistoryRecord struct {
	Position int             `json:"position"`
	Kind     string          `json:"kind"`
	Entry    json.RawMessage `json:"entry"`
}

// SaveRun persists a run and its full history in one transaction.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord, entries []HistoryRecord) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run save: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO runs (id, objective, manifest, steps, evaluation, summary)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
  manifest = EXCLUDED.manifest,
  steps = EXCLUDED.steps,
  evaluation = EXCLUDED.evaluation,
  summary = EXCLUDED.summary`,
		rec.ID, rec.Objective, nullable(rec.Manifest), nullable(rec.Steps),
		nullable(rec.Evaluation), nullable(rec.Summary))
	if err != nil {
		return fmt.Errorf("insert run %s: %w", rec.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO run_history (run_id, position, kind, entry)
VALUES ($1, $2, $3, $4)
ON CONFLICT (run_id, position) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare history insert: %w", err)
	}
	defer stmt.Close()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, rec.ID, e.Position, e.Kind, []byte(e.Entry)); err != nil {
			return fmt.Errorf("insert history entry %d: %w", e.Position, err)
		}
	}
	return tx.Commit()
}

// GetRun loads one run and its history.
func (s *Store) GetRun(ctx context.Context, id string) (*RunRecord, []HistoryRecord, error) {
	var rec RunRecord
	err := s.DB.QueryRowContext(ctx, `
SELECT id, objective, COALESCE(manifest, 'null'), COALESCE(steps, 'null'),
       COALESCE(evaluation, 'null'), COALESCE(summary, 'null'), created_at
FROM runs WHERE id = $1`, id).Scan(
		&rec.ID, &rec.Objective, &rec.Manifest, &rec.Steps, &rec.Evaluation, &rec.Summary, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load run %s: %w", id, err)
	}

	rows, err := s.DB.QueryContext(ctx, `
SELECT position, kind, entry FROM run_history WHERE run_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("load history of %s: %w", id, err)
	}
	defer rows.Close()
	var entries []HistoryRecord
	for rows.Next() {
		var h HistoryRecord
		if err := rows.Scan(&h.Position, &h.Kind, &h.Entry); err != nil {
			return nil, nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, h)
	}
	return &rec, entries, rows.Err()
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, objective, COALESCE(evaluation, 'null'), COALESCE(summary, 'null'), created_at
FROM runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(&rec.ID, &rec.Objective, &rec.Evaluation, &rec.Summary, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullable(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
