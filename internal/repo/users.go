package repo

import (
	"context"
	"database/sql"

	"taskdesk/internal/domain"
)

const userColumns = `id,name,email,password_hash,role,created_at`

func scanUser(scan func(dest ...any) error) (domain.User, error) {
	var u domain.User
	err := scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	return u, err
}

// InsertUser inserts a user and fills in the assigned id.
func (r Repo) InsertUser(ctx context.Context, u *domain.User) error {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO users(name,email,password_hash,role,created_at) VALUES (?,?,?,?,?)`,
		u.Name, u.Email, u.PasswordHash, u.Role, u.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = id
	return nil
}

func (r Repo) GetUser(ctx context.Context, id int64) (domain.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, email).Scan)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

// EmailExists reports whether a user with the email already exists. The
// uniqueness check runs before insert so duplicates surface as validation
// failures rather than constraint errors.
func (r Repo) EmailExists(ctx context.Context, email string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM users WHERE email=? LIMIT 1`, email)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// CountUsers returns the total number of user rows. The seed command uses
// it to bootstrap the first admin only into an empty store.
func (r Repo) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}
