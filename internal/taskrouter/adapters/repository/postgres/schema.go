package postgres

import (
	"context"

	"github.com/taskrouterx/taskrouterx/internal/platform/database"
)

// EnsureSchema creates TaskRouterX's tables if they don't already exist.
// Called once at startup, ahead of the worker pool seed.
func EnsureSchema(ctx context.Context, db *database.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS taskrouter_worker_pools (
			name VARCHAR(255) PRIMARY KEY,
			region VARCHAR(32) NOT NULL,
			resource_type VARCHAR(16) NOT NULL,
			cost_per_unit DOUBLE PRECISION NOT NULL,
			capacity INTEGER NOT NULL,
			current_load INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS taskrouter_tasks (
			id VARCHAR(64) PRIMARY KEY,
			task_type VARCHAR(32) NOT NULL,
			priority INTEGER NOT NULL,
			cost DOUBLE PRECISION NOT NULL,
			region VARCHAR(32) NOT NULL,
			status VARCHAR(16) NOT NULL,
			enqueued_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			worker_id VARCHAR(255),
			algorithm_used VARCHAR(16),
			metadata JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_taskrouter_tasks_status ON taskrouter_tasks(status);
		CREATE INDEX IF NOT EXISTS idx_taskrouter_tasks_enqueued_at ON taskrouter_tasks(enqueued_at);

		CREATE TABLE IF NOT EXISTS taskrouter_schedule_logs (
			id VARCHAR(64) PRIMARY KEY,
			task_id VARCHAR(64) NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			event_type VARCHAR(16) NOT NULL,
			details JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_taskrouter_schedule_logs_task_id ON taskrouter_schedule_logs(task_id);
		CREATE INDEX IF NOT EXISTS idx_taskrouter_schedule_logs_timestamp ON taskrouter_schedule_logs(timestamp);
	`)
	return err
}
