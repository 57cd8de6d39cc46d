package postgres

import (
	"context"
	"fmt"

	"github.com/meikuraledutech/stagegraph"
	"github.com/google/uuid"
)

// AppendEvent persists one audit event for a pipeline.
// If ev.ID is empty, a UUID is auto-generated.
func (s *PGStore) AppendEvent(ctx context.Context, pipelineID string, ev stagegraph.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO pipeline_events (id, pipeline_id, kind, target_stage, config, source, success, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ID, pipelineID, ev.Kind, ev.Target, ev.Config, ev.Source, ev.Success, ev.Error, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("stagegraph: insert event: %w", err)
	}
	return nil
}

// ListEvents returns all audit events for a pipelineID, ordered by created_at.
// Returns an empty slice (not nil) if none found.
func (s *PGStore) ListEvents(ctx context.Context, pipelineID string) ([]stagegraph.Event, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, kind, target_stage, config, source, success, error, created_at
		 FROM pipeline_events WHERE pipeline_id = $1 ORDER BY created_at`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("stagegraph: list events: %w", err)
	}
	defer rows.Close()

	events := []stagegraph.Event{}
	for rows.Next() {
		var ev stagegraph.Event
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Target, &ev.Config, &ev.Source, &ev.Success, &ev.Error, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("stagegraph: scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stagegraph: rows events: %w", err)
	}

	return events, nil
}
