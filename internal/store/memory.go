package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentrakit/agentcore/internal/arggen"
	"github.com/sentrakit/agentcore/internal/planner"
)

// SavePlanMemory records a finished plan for future similarity retrieval.
func (s *Store) SavePlanMemory(ctx context.Context, runID, objective string, planJSON []byte) error {
	if !s.memCfg.Enabled {
		return nil
	}
	vec, err := s.embedOne(ctx, objective)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO plan_memories (run_id, objective, plan, embedding)
VALUES ($1, $2, $3, $4::vector)`, runID, objective, planJSON, vec)
	if err != nil {
		return fmt.Errorf("save plan memory: %w", err)
	}
	return nil
}

// SearchSimilarPlans implements planner.Memory: cosine search over prior
// objectives, bounded to the configured recency window.
func (s *Store) SearchSimilarPlans(ctx context.Context, objective string, limit int) ([]planner.MemoryHit, error) {
	if !s.memCfg.Enabled {
		return nil, nil
	}
	vec, err := s.embedOne(ctx, objective)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.memCfg.TopK
	}
	if limit <= 0 {
		limit = 3
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT objective, plan, 1 - (embedding <=> $1::vector) AS score
FROM plan_memories
WHERE created_at > $2
ORDER BY embedding <=> $1::vector
LIMIT $3`, vec, s.windowStart(), limit)
	if err != nil {
		return nil, fmt.Errorf("search plan memories: %w", err)
	}
	defer rows.Close()
	var out []planner.MemoryHit
	for rows.Next() {
		var hit planner.MemoryHit
		var plan json.RawMessage
		if err := rows.Scan(&hit.Objective, &plan, &hit.Score); err != nil {
			return nil, fmt.Errorf("scan plan memory: %w", err)
		}
		hit.PlanJSON = string(plan)
		out = append(out, hit)
	}
	return out, rows.Err()
}

// SaveArgMemory records one successful argument set.
func (s *Store) SaveArgMemory(ctx context.Context, runID, aiName, signature string, args map[string]interface{}) error {
	if !s.memCfg.Enabled {
		return nil
	}
	vec, err := s.embedOne(ctx, signature)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO arg_memories (run_id, ai_name, signature, args, embedding)
VALUES ($1, $2, $3, $4, $5::vector)`, runID, aiName, signature, encoded, vec)
	if err != nil {
		return fmt.Errorf("save arg memory: %w", err)
	}
	return nil
}

// SearchSimilarArgs implements arggen.Memory: cosine search over prior call
// signatures for the same tool.
func (s *Store) SearchSimilarArgs(ctx context.Context, aiName, signature string, limit int) ([]arggen.MemoryHit, error) {
	if !s.memCfg.Enabled {
		return nil, nil
	}
	vec, err := s.embedOne(ctx, signature)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 3
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT args, 1 - (embedding <=> $1::vector) AS score
FROM arg_memories
WHERE ai_name = $2 AND created_at > $3
ORDER BY embedding <=> $1::vector
LIMIT $4`, vec, aiName, s.windowStart(), limit)
	if err != nil {
		return nil, fmt.Errorf("search arg memories: %w", err)
	}
	defer rows.Close()
	var out []arggen.MemoryHit
	for rows.Next() {
		var raw json.RawMessage
		var hit arggen.MemoryHit
		if err := rows.Scan(&raw, &hit.Score); err != nil {
			return nil, fmt.Errorf("scan arg memory: %w", err)
		}
		if err := json.Unmarshal(raw, &hit.Args); err != nil {
			continue
		}
		out = append(out, hit)
	}
	return out, rows.Err()
}

func (s *Store) windowStart() time.Time {
	window := s.memCfg.SearchWindow
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return time.Now().Add(-window)
}
