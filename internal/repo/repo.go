package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"taskdesk/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

const taskColumns = `id,title,COALESCE(description,''),status,created_by,assigned_to,created_at,updated_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	err := scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.CreatedBy, &t.AssignedTo, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// InsertTask inserts a task inside the caller's transaction and fills in
// the assigned id.
func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t *domain.Task) error {
	res, err := tx.ExecContext(ctx, `INSERT INTO tasks(title,description,status,created_by,assigned_to,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		t.Title, nullable(t.Description), t.Status, t.CreatedBy, t.AssignedTo, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = id
	return nil
}

// UpdateTask writes the full task row inside the caller's transaction.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, status=?, updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Status, t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	t, err := scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

// GetTaskTx reads a task inside the caller's transaction. Partial updates
// coalesce against this snapshot, so the read and the write that follows it
// serialize as one unit; a read from the pool would leave a window where a
// concurrent commit gets overwritten with its own pre-image.
func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Task, error) {
	t, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

type TaskFilters struct {
	AssigneeID int64
	Status     domain.Status
}

// ListTasks returns tasks newest first, optionally scoped by assignee and
// status.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.AssigneeID != 0 {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssigneeID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
