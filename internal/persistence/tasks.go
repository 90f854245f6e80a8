package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/taskforge/internal/scheduler"
)

// SaveTask saves or updates a task of a run, replacing its dependencies and
// interaction log. A task keeps the position it was first saved at.
func (s *SQLiteStore) SaveTask(ctx context.Context, runID string, task *scheduler.Task) error {
	transitions, err := json.Marshal(task.Transitions)
	if err != nil {
		return fmt.Errorf("failed to encode transitions: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (run_id, id, position, title, description, role, status, agent_name_hint, result, retry_count, transitions, updated_at)
			VALUES (?, ?, (SELECT COALESCE(MAX(position) + 1, 0) FROM tasks WHERE run_id = ?), ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, id) DO UPDATE SET
				title = excluded.title,
				description = excluded.description,
				role = excluded.role,
				status = excluded.status,
				agent_name_hint = excluded.agent_name_hint,
				result = excluded.result,
				retry_count = excluded.retry_count,
				transitions = excluded.transitions,
				updated_at = excluded.updated_at
		`, runID, task.ID, runID, task.Title, task.Description, task.Role.String(), string(task.Status),
			task.AgentNameHint, task.Result, task.RetryCount, string(transitions), time.Now().UnixNano())
		if err != nil {
			return fmt.Errorf("failed to upsert task: %w", err)
		}

		// Dependencies may point at tasks saved later, so they are not foreign keys
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE run_id = ? AND task_id = ?`, runID, task.ID); err != nil {
			return fmt.Errorf("failed to delete old dependencies: %w", err)
		}
		for i, depID := range task.DependsOn {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO task_dependencies (run_id, task_id, depends_on_id, position)
				VALUES (?, ?, ?, ?)
			`, runID, task.ID, depID, i); err != nil {
				return fmt.Errorf("failed to insert dependency %s -> %s: %w", task.ID, depID, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM interactions WHERE run_id = ? AND task_id = ?`, runID, task.ID); err != nil {
			return fmt.Errorf("failed to delete old interactions: %w", err)
		}
		for i, in := range task.Interactions {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO interactions (run_id, task_id, seq, role, content, at)
				VALUES (?, ?, ?, ?, ?, ?)
			`, runID, task.ID, i, string(in.Role), in.Content, in.At.UnixNano()); err != nil {
				return fmt.Errorf("failed to insert interaction %d of %s: %w", i, task.ID, err)
			}
		}
		return nil
	})
}

// GetTask retrieves one task of a run, including dependencies and interactions.
func (s *SQLiteStore) GetTask(ctx context.Context, runID, taskID string) (*scheduler.Task, error) {
	tasks, err := s.queryTasks(ctx, `
		SELECT id, title, description, role, status, agent_name_hint, result, retry_count, transitions
		FROM tasks
		WHERE run_id = ? AND id = ?
	`, runID, taskID)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("task %s of run %s: %w", taskID, runID, ErrNotFound)
	}
	if err := s.loadChildren(ctx, runID, tasks); err != nil {
		return nil, err
	}
	return tasks[0], nil
}

// ListTasks returns all tasks of a run in the order they were first saved.
func (s *SQLiteStore) ListTasks(ctx context.Context, runID string) ([]*scheduler.Task, error) {
	tasks, err := s.queryTasks(ctx, `
		SELECT id, title, description, role, status, agent_name_hint, result, retry_count, transitions
		FROM tasks
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, err
	}
	if err := s.loadChildren(ctx, runID, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// queryTasks scans task rows. Rows are fully read before children are
// loaded, the store runs on a single connection.
func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...any) ([]*scheduler.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*scheduler.Task
	for rows.Next() {
		var (
			task        scheduler.Task
			role        string
			status      string
			transitions string
		)
		if err := rows.Scan(&task.ID, &task.Title, &task.Description, &role, &status,
			&task.AgentNameHint, &task.Result, &task.RetryCount, &transitions); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		if task.Role, err = scheduler.ParseRole(role); err != nil {
			return nil, fmt.Errorf("task %s: %w", task.ID, err)
		}
		task.Status = scheduler.TaskStatus(status)
		if err := json.Unmarshal([]byte(transitions), &task.Transitions); err != nil {
			return nil, fmt.Errorf("failed to decode transitions of %s: %w", task.ID, err)
		}
		task.DependsOn = []string{}
		tasks = append(tasks, &task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// loadChildren fills DependsOn and Interactions for tasks of one run.
func (s *SQLiteStore) loadChildren(ctx context.Context, runID string, tasks []*scheduler.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	byID := make(map[string]*scheduler.Task, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
	}

	depRows, err := s.db.QueryContext(ctx, `
		SELECT task_id, depends_on_id
		FROM task_dependencies
		WHERE run_id = ?
		ORDER BY task_id, position
	`, runID)
	if err != nil {
		return fmt.Errorf("failed to query dependencies: %w", err)
	}
	for depRows.Next() {
		var taskID, depID string
		if err := depRows.Scan(&taskID, &depID); err != nil {
			depRows.Close()
			return fmt.Errorf("failed to scan dependency: %w", err)
		}
		if task, ok := byID[taskID]; ok {
			task.DependsOn = append(task.DependsOn, depID)
		}
	}
	depRows.Close()
	if err := depRows.Err(); err != nil {
		return fmt.Errorf("error iterating dependencies: %w", err)
	}

	inRows, err := s.db.QueryContext(ctx, `
		SELECT task_id, role, content, at
		FROM interactions
		WHERE run_id = ?
		ORDER BY task_id, seq
	`, runID)
	if err != nil {
		return fmt.Errorf("failed to query interactions: %w", err)
	}
	defer inRows.Close()

	for inRows.Next() {
		var (
			taskID, role, content string
			at                    int64
		)
		if err := inRows.Scan(&taskID, &role, &content, &at); err != nil {
			return fmt.Errorf("failed to scan interaction: %w", err)
		}
		if task, ok := byID[taskID]; ok {
			task.Interactions = append(task.Interactions, scheduler.Interaction{
				Role:    scheduler.InteractionRole(role),
				Content: content,
				At:      time.Unix(0, at),
			})
		}
	}
	if err := inRows.Err(); err != nil {
		return fmt.Errorf("error iterating interactions: %w", err)
	}
	return nil
}

// IsNotFound reports whether err means a missing key, run, or task.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
