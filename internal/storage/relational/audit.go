package relational

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/market-insight/retriever/internal/storage/models"
	"github.com/market-insight/retriever/pkg/logger"
)

const sqliteAuditSchema = `
CREATE TABLE IF NOT EXISTS retrieval_runs (
	id TEXT PRIMARY KEY,
	question TEXT NOT NULL,
	question_id TEXT,
	intent TEXT NOT NULL,
	confidence TEXT,
	route_source TEXT,
	status TEXT NOT NULL,
	dispatch_mode TEXT NOT NULL,
	fallback_used INTEGER NOT NULL DEFAULT 0,
	fallback_reason TEXT,
	invoked_agent_count INTEGER NOT NULL,
	latency_ms INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_retrieval_runs_created ON retrieval_runs(created_at);
CREATE INDEX IF NOT EXISTS idx_retrieval_runs_intent ON retrieval_runs(intent);

CREATE TABLE IF NOT EXISTS retrieval_agent_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	agent TEXT NOT NULL,
	branch TEXT NOT NULL,
	status TEXT NOT NULL,
	reason TEXT,
	template_id TEXT,
	table_name TEXT,
	row_count INTEGER,
	duration_ms INTEGER NOT NULL,
	fallback INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY (run_id) REFERENCES retrieval_runs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_agent_runs_run ON retrieval_agent_runs(run_id);
`

const postgresAuditSchema = `
CREATE TABLE IF NOT EXISTS retrieval_runs (
	id TEXT PRIMARY KEY,
	question TEXT NOT NULL,
	question_id TEXT,
	intent TEXT NOT NULL,
	confidence TEXT,
	route_source TEXT,
	status TEXT NOT NULL,
	dispatch_mode TEXT NOT NULL,
	fallback_used BOOLEAN NOT NULL DEFAULT FALSE,
	fallback_reason TEXT,
	invoked_agent_count INTEGER NOT NULL,
	latency_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_retrieval_runs_created ON retrieval_runs(created_at);
CREATE INDEX IF NOT EXISTS idx_retrieval_runs_intent ON retrieval_runs(intent);

CREATE TABLE IF NOT EXISTS retrieval_agent_runs (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES retrieval_runs(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	agent TEXT NOT NULL,
	branch TEXT NOT NULL,
	status TEXT NOT NULL,
	reason TEXT,
	template_id TEXT,
	table_name TEXT,
	row_count INTEGER,
	duration_ms BIGINT NOT NULL,
	fallback BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_agent_runs_run ON retrieval_agent_runs(run_id);
`

// InitSchema creates the audit-log tables. The retrieval source tables are
// owned by ingestion and never created here.
func (c *Client) InitSchema(ctx context.Context) error {
	schema := sqliteAuditSchema
	if c.driver == DriverPostgres {
		schema = postgresAuditSchema
	}

	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Audit schema initialized", zap.String("driver", c.driver))
	return nil
}

const insertRunQuery = `
INSERT INTO retrieval_runs (id, question, question_id, intent, confidence, route_source, status,
	dispatch_mode, fallback_used, fallback_reason, invoked_agent_count, latency_ms, created_at)
VALUES (:id, :question, :question_id, :intent, :confidence, :route_source, :status,
	:dispatch_mode, :fallback_used, :fallback_reason, :invoked_agent_count, :latency_ms, :created_at)`

const insertAgentRunQuery = `
INSERT INTO retrieval_agent_runs (run_id, seq, agent, branch, status, reason, template_id, table_name,
	row_count, duration_ms, fallback)
VALUES (:run_id, :seq, :agent, :branch, :status, :reason, :template_id, :table_name,
	:row_count, :duration_ms, :fallback)`

// InsertRun persists a run and its agent runs in one transaction.
func (c *Client) InsertRun(ctx context.Context, run models.RetrievalRun, agents []models.AgentRunRecord) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.NamedExecContext(ctx, insertRunQuery, run); err != nil {
		return fmt.Errorf("failed to insert retrieval run: %w", err)
	}
	for _, a := range agents {
		if _, err := tx.NamedExecContext(ctx, insertAgentRunQuery, a); err != nil {
			return fmt.Errorf("failed to insert agent run: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit retrieval run: %w", err)
	}

	logger.Debug("Retrieval run recorded",
		zap.String("run_id", run.ID),
		zap.String("intent", run.Intent),
		zap.Int("agent_runs", len(agents)),
	)
	return nil
}

// RecentRuns returns the newest runs first.
func (c *Client) RecentRuns(ctx context.Context, limit int) ([]models.RetrievalRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := c.db.Rebind(`
		SELECT id, question, COALESCE(question_id, '') AS question_id, intent,
			COALESCE(confidence, '') AS confidence, COALESCE(route_source, '') AS route_source,
			status, dispatch_mode, fallback_used, COALESCE(fallback_reason, '') AS fallback_reason,
			invoked_agent_count, latency_ms, created_at
		FROM retrieval_runs
		ORDER BY created_at DESC
		LIMIT ?`)

	var runs []models.RetrievalRun
	if err := c.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list retrieval runs: %w", err)
	}
	return runs, nil
}
