package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
// Timestamps are stored as Unix nanoseconds.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		requirements TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		completed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS tasks (
		run_id TEXT NOT NULL,
		id TEXT NOT NULL,
		position INTEGER NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		role TEXT NOT NULL,
		status TEXT NOT NULL,
		agent_name_hint TEXT NOT NULL,
		result TEXT NOT NULL,
		retry_count INTEGER NOT NULL,
		transitions TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (run_id, id),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		run_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (run_id, task_id, depends_on_id),
		FOREIGN KEY (run_id, task_id) REFERENCES tasks(run_id, id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS interactions (
		run_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		at INTEGER NOT NULL,
		PRIMARY KEY (run_id, task_id, seq),
		FOREIGN KEY (run_id, task_id) REFERENCES tasks(run_id, id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_run_position ON tasks(run_id, position);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
