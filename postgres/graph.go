package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/meikuraledutech/stagegraph"
)

// SaveGraph persists a pipeline's full graph in one transaction, replacing
// any rows previously stored for the pipelineID. The graph is validated
// acyclic before anything is written.
func (s *PGStore) SaveGraph(ctx context.Context, pipelineID string, g stagegraph.Graph) error {
	if cycle := stagegraph.DetectCycle(g); cycle != nil {
		return stagegraph.ErrCycleDetected
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("stagegraph: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM pipeline_stages WHERE pipeline_id = $1`, pipelineID); err != nil {
		return fmt.Errorf("stagegraph: delete stages: %w", err)
	}

	for name, st := range g {
		depList := st.DependsOn
		if depList == nil {
			depList = stagegraph.DepList{}
		}
		deps, err := json.Marshal(depList)
		if err != nil {
			return fmt.Errorf("stagegraph: marshal depends_on for %s: %w", name, err)
		}
		config := st.Config
		if len(config) == 0 {
			config = json.RawMessage(`{}`)
		}
		status := st.Status
		if status == "" {
			status = stagegraph.StatusPending
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO pipeline_stages (pipeline_id, name, depends_on, config, status) VALUES ($1, $2, $3, $4, $5)`,
			pipelineID, name, deps, config, status,
		); err != nil {
			return fmt.Errorf("stagegraph: insert stage %s: %w", name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("stagegraph: commit: %w", err)
	}
	return nil
}

// GetGraph retrieves a pipeline's full graph by its ID.
// Returns nil, nil if no stages exist for the pipelineID.
func (s *PGStore) GetGraph(ctx context.Context, pipelineID string) (stagegraph.Graph, error) {
	rows, err := s.db.Query(ctx,
		`SELECT name, depends_on, config, status FROM pipeline_stages WHERE pipeline_id = $1 ORDER BY created_at`,
		pipelineID)
	if err != nil {
		return nil, fmt.Errorf("stagegraph: query stages: %w", err)
	}
	defer rows.Close()

	g := stagegraph.Graph{}
	for rows.Next() {
		var st stagegraph.Stage
		var deps []byte
		if err := rows.Scan(&st.Name, &deps, &st.Config, &st.Status); err != nil {
			return nil, fmt.Errorf("stagegraph: scan stage: %w", err)
		}
		if err := json.Unmarshal(deps, &st.DependsOn); err != nil {
			return nil, fmt.Errorf("stagegraph: unmarshal depends_on for %s: %w", st.Name, err)
		}
		g[st.Name] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stagegraph: rows stages: %w", err)
	}

	if len(g) == 0 {
		return nil, nil
	}
	return g, nil
}

// DeleteGraph removes all stages and events for a pipelineID.
// No error if the pipelineID doesn't exist.
func (s *PGStore) DeleteGraph(ctx context.Context, pipelineID string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("stagegraph: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM pipeline_events WHERE pipeline_id = $1`, pipelineID); err != nil {
		return fmt.Errorf("stagegraph: delete events: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM pipeline_stages WHERE pipeline_id = $1`, pipelineID); err != nil {
		return fmt.Errorf("stagegraph: delete stages: %w", err)
	}

	return tx.Commit(ctx)
}
