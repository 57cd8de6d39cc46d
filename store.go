package stagegraph

import (
	"context"
	"errors"
)

var (
	ErrCycleDetected    = errors.New("stagegraph: cycle detected, graph is not acyclic")
	ErrPipelineNotFound = errors.New("stagegraph: pipeline not found")
)

// Store defines the contract for persisting pipeline graphs and their
// modification audit logs. The in-memory Modifier remains the source of
// truth during a run; a Store mirrors its state for audit and rehydration.
type Store interface {
	// Schema
	CreateSchema(ctx context.Context) error
	DropSchema(ctx context.Context) error

	// Graph snapshots (whole-pipeline replace semantics)
	SaveGraph(ctx context.Context, pipelineID string, g Graph) error
	GetGraph(ctx context.Context, pipelineID string) (Graph, error)
	DeleteGraph(ctx context.Context, pipelineID string) error

	// Audit events (append-only)
	AppendEvent(ctx context.Context, pipelineID string, ev Event) error
	ListEvents(ctx context.Context, pipelineID string) ([]Event, error)
}
