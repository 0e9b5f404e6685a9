package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/taskrouterx/taskrouterx/internal/platform/database"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/model"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/repository"
)

// TaskRepository implements repository.TaskRepository on PostgreSQL. The
// Claim/Release/Dispatch/Cancel methods each run inside a single
// transaction so the task row and (where relevant) the worker_pools row
// move together.
type TaskRepository struct {
	db *database.DB
}

// NewTaskRepository constructs a TaskRepository.
func NewTaskRepository(db *database.DB) repository.TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Save(ctx context.Context, task *model.Task) error {
	metadata, err := json.Marshal(task.Metadata())
	if err != nil {
		return fmt.Errorf("marshal task metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO taskrouter_tasks (
			id, task_type, priority, cost, region, status, enqueued_at,
			started_at, completed_at, worker_id, algorithm_used, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		task.ID().String(), string(task.Type()), task.Priority(), task.Cost(),
		string(task.Region()), string(task.Status()), task.EnqueuedAt(),
		task.StartedAt(), task.CompletedAt(), database.NullString(task.WorkerID()),
		database.NullString(string(task.AlgorithmUsed())), metadata,
	)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (r *TaskRepository) FindByID(ctx context.Context, id model.TaskID) (*model.Task, error) {
	var row taskRow
	err := r.db.QueryRowContext(ctx, `
		SELECT id, task_type, priority, cost, region, status, enqueued_at,
		       started_at, completed_at, worker_id, algorithm_used, metadata
		FROM taskrouter_tasks WHERE id = $1`, id.String()).Scan(
		&row.ID, &row.TaskType, &row.Priority, &row.Cost, &row.Region, &row.Status,
		&row.EnqueuedAt, &row.StartedAt, &row.CompletedAt, &row.WorkerID,
		&row.AlgorithmUsed, &row.Metadata,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrTaskNotFound
		}
		return nil, fmt.Errorf("find task: %w", err)
	}
	return row.toDomain()
}

func (r *TaskRepository) List(ctx context.Context, filter repository.TaskFilter) ([]*model.Task, int64, error) {
	var conditions []string
	var args []interface{}

	addFilter := func(column string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.Status != nil {
		addFilter("status", string(*filter.Status))
	}
	if filter.Type != nil {
		addFilter("task_type", string(*filter.Type))
	}
	if filter.Region != nil {
		addFilter("region", string(*filter.Region))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + joinAnd(conditions)
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	page := filter.Page
	if page < 0 {
		page = 0
	}

	listArgs := append(append([]interface{}{}, args...), pageSize, page*pageSize)
	query := fmt.Sprintf(`SELECT id, task_type, priority, cost, region, status,
		enqueued_at, started_at, completed_at, worker_id, algorithm_used, metadata
		FROM taskrouter_tasks%s ORDER BY enqueued_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)

	rows, err := r.db.QueryContext(ctx, query, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		var row taskRow
		if err := rows.Scan(&row.ID, &row.TaskType, &row.Priority, &row.Cost, &row.Region,
			&row.Status, &row.EnqueuedAt, &row.StartedAt, &row.CompletedAt, &row.WorkerID,
			&row.AlgorithmUsed, &row.Metadata); err != nil {
			return nil, 0, fmt.Errorf("scan task: %w", err)
		}
		task, err := row.toDomain()
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, task)
	}

	countQuery := "SELECT COUNT(*) FROM taskrouter_tasks" + where
	var total int64
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	return tasks, total, nil
}

func joinAnd(conditions []string) string {
	out := conditions[0]
	for _, c := range conditions[1:] {
		out += " AND " + c
	}
	return out
}

func (r *TaskRepository) CountByStatus(ctx context.Context) (map[model.TaskStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM taskrouter_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := map[model.TaskStatus]int64{
		model.TaskStatusQueued:     0,
		model.TaskStatusProcessing: 0,
		model.TaskStatusCompleted:  0,
		model.TaskStatusFailed:     0,
		model.TaskStatusCancelled:  0,
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[model.TaskStatus(status)] = count
	}
	return counts, nil
}

// Dispatch records which algorithm selected the task's pool, still in
// status queued, and appends the scheduled log in the same
// transaction. The actual queued -> processing transition and
// pool capacity increment happen separately in Claim, once the Executor
// goroutine has a chance to run.
func (r *TaskRepository) Dispatch(ctx context.Context, taskID model.TaskID, algorithm model.Algorithm, log *model.ScheduleLog) error {
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE taskrouter_tasks SET algorithm_used = $2 WHERE id = $1 AND status = 'queued'`,
			taskID.String(), string(algorithm))
		if err != nil {
			return fmt.Errorf("update algorithm_used: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: task %s not queued", model.ErrIllegalTransition, taskID)
		}
		return appendLogTx(ctx, tx, log)
	})
}

// Claim atomically increments the target pool's current_load only if it
// has free capacity, and flips the task to processing. Both rows commit
// or neither does, closing the race window a naive read-then-write
// sequence would leave open.
func (r *TaskRepository) Claim(ctx context.Context, taskID model.TaskID, poolName string) error {
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE taskrouter_worker_pools
			SET current_load = current_load + 1
			WHERE name = $1 AND current_load < capacity`, poolName)
		if err != nil {
			return fmt.Errorf("claim pool capacity: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim rows affected: %w", err)
		}
		if n == 0 {
			return repository.ErrPoolFull
		}

		now := time.Now().UTC()
		result, err = tx.ExecContext(ctx, `
			UPDATE taskrouter_tasks
			SET status = 'processing', worker_id = $2, started_at = $3
			WHERE id = $1 AND status = 'queued'`, taskID.String(), poolName, now)
		if err != nil {
			return fmt.Errorf("claim task: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: task %s not queued at claim", model.ErrIllegalTransition, taskID)
		}
		return nil
	})
}

// Release decrements the pool's current_load (clamped at zero) and
// finalizes the task as completed or failed, appending the
// corresponding log, all within one transaction.
func (r *TaskRepository) Release(ctx context.Context, taskID model.TaskID, poolName string, success bool, log *model.ScheduleLog) error {
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE taskrouter_worker_pools
			SET current_load = GREATEST(current_load - 1, 0)
			WHERE name = $1`, poolName); err != nil {
			return fmt.Errorf("release pool capacity: %w", err)
		}

		status := "completed"
		if !success {
			status = "failed"
		}
		now := time.Now().UTC()
		result, err := tx.ExecContext(ctx, `
			UPDATE taskrouter_tasks SET status = $2, completed_at = $3
			WHERE id = $1 AND status = 'processing'`, taskID.String(), status, now)
		if err != nil {
			return fmt.Errorf("finalize task: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: task %s not processing at release", model.ErrIllegalTransition, taskID)
		}
		return appendLogTx(ctx, tx, log)
	})
}

func (r *TaskRepository) Cancel(ctx context.Context, taskID model.TaskID, log *model.ScheduleLog) error {
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		result, err := tx.ExecContext(ctx, `
			UPDATE taskrouter_tasks SET status = 'cancelled', completed_at = $2
			WHERE id = $1 AND status = 'queued'`, taskID.String(), now)
		if err != nil {
			return fmt.Errorf("cancel task: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("cancel rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: task %s not queued at cancel", model.ErrIllegalTransition, taskID)
		}
		return appendLogTx(ctx, tx, log)
	})
}

func (r *TaskRepository) AverageCompletedLatency(ctx context.Context) (float64, error) {
	var seconds sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT AVG(EXTRACT(EPOCH FROM (completed_at - started_at)))
		FROM taskrouter_tasks
		WHERE status = 'completed' AND started_at IS NOT NULL AND completed_at IS NOT NULL`).
		Scan(&seconds)
	if err != nil {
		return 0, fmt.Errorf("average completed latency: %w", err)
	}
	if !seconds.Valid {
		return 0, nil
	}
	return seconds.Float64, nil
}

func (r *TaskRepository) ThroughputPerMinute(ctx context.Context, windowSeconds float64) (float64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM taskrouter_tasks
		WHERE status = 'completed' AND completed_at >= NOW() - ($1 * interval '1 second')`,
		windowSeconds).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("throughput per minute: %w", err)
	}
	if windowSeconds <= 0 {
		return 0, nil
	}
	return float64(count) / (windowSeconds / 60.0), nil
}

// QueuedIDs returns every queued task id in admission order, so a fresh
// process can rebuild its in-memory queue from the store.
func (r *TaskRepository) QueuedIDs(ctx context.Context) ([]model.TaskID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM taskrouter_tasks WHERE status = 'queued' ORDER BY enqueued_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list queued ids: %w", err)
	}
	defer rows.Close()

	var ids []model.TaskID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan queued id: %w", err)
		}
		ids = append(ids, model.TaskID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queued ids: %w", err)
	}
	return ids, nil
}

// ResetOrphans resets processing tasks older than olderThan back to
// queued and hands their claimed slots back to the pools, all in one
// transaction so the sum-of-loads invariant holds at the commit
// boundary. olderThan <= 0 resets every processing row — only safe at
// boot, before any executor is running.
func (r *TaskRepository) ResetOrphans(ctx context.Context, olderThan time.Duration) ([]model.TaskID, error) {
	var ids []model.TaskID
	err := r.db.Transaction(ctx, func(tx *sql.Tx) error {
		ids = ids[:0]

		query := `SELECT id, worker_id FROM taskrouter_tasks WHERE status = 'processing' FOR UPDATE`
		args := []interface{}{}
		if olderThan > 0 {
			query = `SELECT id, worker_id FROM taskrouter_tasks
				WHERE status = 'processing' AND started_at < $1 FOR UPDATE`
			args = append(args, time.Now().UTC().Add(-olderThan))
		}

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("select orphans: %w", err)
		}
		defer rows.Close()

		poolClaims := make(map[string]int)
		var idStrings []string
		for rows.Next() {
			var id string
			var workerID sql.NullString
			if err := rows.Scan(&id, &workerID); err != nil {
				return fmt.Errorf("scan orphan: %w", err)
			}
			idStrings = append(idStrings, id)
			ids = append(ids, model.TaskID(id))
			if workerID.Valid {
				poolClaims[workerID.String]++
			}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate orphans: %w", err)
		}
		if len(idStrings) == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE taskrouter_tasks
			SET status = 'queued', started_at = NULL, worker_id = NULL
			WHERE id = ANY($1)`, pq.Array(idStrings)); err != nil {
			return fmt.Errorf("reset orphans: %w", err)
		}

		for pool, claimed := range poolClaims {
			if _, err := tx.ExecContext(ctx, `
				UPDATE taskrouter_worker_pools
				SET current_load = GREATEST(current_load - $2, 0)
				WHERE name = $1`, pool, claimed); err != nil {
				return fmt.Errorf("release orphan claims on pool %s: %w", pool, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func appendLogTx(ctx context.Context, tx *sql.Tx, log *model.ScheduleLog) error {
	details, err := json.Marshal(log.Details)
	if err != nil {
		return fmt.Errorf("marshal log details: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO taskrouter_schedule_logs (id, task_id, timestamp, event_type, details)
		VALUES ($1, $2, $3, $4, $5)`,
		log.ID.String(), log.TaskID.String(), log.Timestamp, string(log.EventType), details)
	if err != nil {
		return fmt.Errorf("append schedule log: %w", err)
	}
	return nil
}

type taskRow struct {
	ID            string
	TaskType      string
	Priority      int
	Cost          float64
	Region        string
	Status        string
	EnqueuedAt    time.Time
	StartedAt     sql.NullTime
	CompletedAt   sql.NullTime
	WorkerID      sql.NullString
	AlgorithmUsed sql.NullString
	Metadata      []byte
}

func (row *taskRow) toDomain() (*model.Task, error) {
	var metadata map[string]interface{}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			return nil, fmt.Errorf("unmarshal task metadata: %w", err)
		}
	}

	var startedAt, completedAt *time.Time
	if row.StartedAt.Valid {
		startedAt = &row.StartedAt.Time
	}
	if row.CompletedAt.Valid {
		completedAt = &row.CompletedAt.Time
	}

	return model.ReconstructTask(
		model.TaskID(row.ID),
		model.TaskType(row.TaskType),
		row.Priority,
		row.Cost,
		model.Region(row.Region),
		model.TaskStatus(row.Status),
		row.EnqueuedAt,
		startedAt,
		completedAt,
		row.WorkerID.String,
		model.Algorithm(row.AlgorithmUsed.String),
		metadata,
	), nil
}
