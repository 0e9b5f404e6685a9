package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taskrouterx/taskrouterx/internal/platform/database"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/model"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/repository"
)

// ScheduleLogRepository implements repository.ScheduleLogRepository on
// PostgreSQL. Logs are append-only; the only mutation this repository
// performs is the bulk delete used by the archiver once entries have
// been shipped to cold storage.
type ScheduleLogRepository struct {
	db *database.DB
}

// NewScheduleLogRepository constructs a ScheduleLogRepository.
func NewScheduleLogRepository(db *database.DB) repository.ScheduleLogRepository {
	return &ScheduleLogRepository{db: db}
}

func (r *ScheduleLogRepository) Append(ctx context.Context, log *model.ScheduleLog) error {
	details, err := json.Marshal(log.Details)
	if err != nil {
		return fmt.Errorf("marshal log details: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO taskrouter_schedule_logs (id, task_id, timestamp, event_type, details)
		VALUES ($1, $2, $3, $4, $5)`,
		log.ID.String(), log.TaskID.String(), log.Timestamp, string(log.EventType), details)
	if err != nil {
		return fmt.Errorf("append schedule log: %w", err)
	}
	return nil
}

func (r *ScheduleLogRepository) List(ctx context.Context, filter repository.LogFilter) ([]*model.ScheduleLog, int64, error) {
	var conditions []string
	var args []interface{}

	if filter.TaskID != nil {
		args = append(args, filter.TaskID.String())
		conditions = append(conditions, fmt.Sprintf("task_id = $%d", len(args)))
	}
	if filter.EventType != nil {
		args = append(args, string(*filter.EventType))
		conditions = append(conditions, fmt.Sprintf("event_type = $%d", len(args)))
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
	query := fmt.Sprintf(`SELECT id, task_id, timestamp, event_type, details
		FROM taskrouter_schedule_logs%s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)

	rows, err := r.db.QueryContext(ctx, query, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list schedule logs: %w", err)
	}
	defer rows.Close()

	var logs []*model.ScheduleLog
	for rows.Next() {
		log, err := scanScheduleLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, log)
	}

	countQuery := "SELECT COUNT(*) FROM taskrouter_schedule_logs" + where
	var total int64
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count schedule logs: %w", err)
	}

	return logs, total, nil
}

// FindOlderThan returns up to limit entries older than cutoffSeconds ago,
// oldest first. Used by the archive sweep to page through entries in upload-sized batches.
func (r *ScheduleLogRepository) FindOlderThan(ctx context.Context, cutoffSeconds float64, limit int) ([]*model.ScheduleLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, task_id, timestamp, event_type, details
		FROM taskrouter_schedule_logs
		WHERE timestamp < NOW() - ($1 * interval '1 second')
		ORDER BY timestamp ASC
		LIMIT $2`, cutoffSeconds, limit)
	if err != nil {
		return nil, fmt.Errorf("find old schedule logs: %w", err)
	}
	defer rows.Close()

	var logs []*model.ScheduleLog
	for rows.Next() {
		log, err := scanScheduleLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, nil
}

func (r *ScheduleLogRepository) DeleteByIDs(ctx context.Context, ids []model.ScheduleLogID) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]interface{}, len(ids))
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		args[i] = id.String()
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf(`DELETE FROM taskrouter_schedule_logs WHERE id IN (%s)`, joinComma(placeholders))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete schedule logs: %w", err)
	}
	return nil
}

type scheduleLogScanner interface {
	Scan(dest ...interface{}) error
}

func scanScheduleLog(rows scheduleLogScanner) (*model.ScheduleLog, error) {
	var id, taskID, eventType string
	var timestamp time.Time
	var details []byte
	if err := rows.Scan(&id, &taskID, &timestamp, &eventType, &details); err != nil {
		return nil, fmt.Errorf("scan schedule log: %w", err)
	}
	var parsedDetails map[string]interface{}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &parsedDetails); err != nil {
			return nil, fmt.Errorf("unmarshal log details: %w", err)
		}
	}
	return &model.ScheduleLog{
		ID:        model.ScheduleLogID(id),
		TaskID:    model.TaskID(taskID),
		Timestamp: timestamp,
		EventType: model.EventType(eventType),
		Details:   parsedDetails,
	}, nil
}

func joinComma(items []string) string {
	out := items[0]
	for _, it := range items[1:] {
		out += ", " + it
	}
	return out
}
