package repo

import (
	"context"

	"taskdesk/internal/domain"
)

// ListTaskLogs returns the audit trail for a task, oldest first. Entries
// are written by internal/audit inside task transactions; this is the only
// read path and there is no write path outside those transactions.
func (r Repo) ListTaskLogs(ctx context.Context, taskID int64) ([]domain.TaskLog, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,action,description,changed_by,created_at FROM task_logs WHERE task_id=? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskLog
	for rows.Next() {
		var l domain.TaskLog
		if err := rows.Scan(&l.ID, &l.TaskID, &l.Action, &l.Description, &l.ChangedBy, &l.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
