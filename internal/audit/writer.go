// Package audit appends task_log rows. The log is append-only and purely
// observational: it is never consulted for authorization decisions.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append inserts one log entry inside the caller's transaction. The task
// mutation and its log entry commit or roll back together; Append must
// never be called outside the tx that carries the mutation.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, taskID int64, action, description string, changedBy int64) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO task_logs(id,task_id,action,description,changed_by,created_at) VALUES (?,?,?,?,?,?)`,
		uuid.New().String(), taskID, action, description, changedBy, ts)
	if err != nil {
		return fmt.Errorf("append task log: %w", err)
	}
	return nil
}
