package postgres

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS pipeline_stages (
    pipeline_id TEXT NOT NULL,
    name        TEXT NOT NULL,
    depends_on  JSONB NOT NULL DEFAULT '[]',
    config      JSONB NOT NULL DEFAULT '{}',
    status      TEXT NOT NULL DEFAULT 'pending',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (pipeline_id, name)
);

CREATE TABLE IF NOT EXISTS pipeline_events (
    id           TEXT PRIMARY KEY,
    pipeline_id  TEXT NOT NULL,
    kind         TEXT NOT NULL,
    target_stage TEXT,
    config       JSONB,
    source       TEXT NOT NULL DEFAULT '',
    success      BOOLEAN NOT NULL,
    error        TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_pipeline_stages_pipeline ON pipeline_stages(pipeline_id);
CREATE INDEX IF NOT EXISTS idx_pipeline_events_pipeline ON pipeline_events(pipeline_id);
CREATE INDEX IF NOT EXISTS idx_pipeline_events_created  ON pipeline_events(created_at);
`

// CreateSchema creates the pipeline_stages and pipeline_events tables if
// they don't exist.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops the pipeline_events and pipeline_stages tables.
func (s *PGStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS pipeline_events, pipeline_stages CASCADE;`)
	return err
}
