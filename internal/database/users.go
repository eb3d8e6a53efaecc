package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const userColumns = `id, email, password_hash, role, is_guest, orders_count, last_order_at, created_at, updated_at`

func scanUser(row interface{ Scan(dest ...any) error }) (User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.Role,
		&u.IsGuest,
		&u.OrdersCount,
		&u.LastOrderAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

func (q *Queries) GetUserByID(ctx context.Context, id int64) (User, error) {
	row := q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (q *Queries) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := q.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type CreateUserParams struct {
	Email        string
	PasswordHash pgtype.Text
	Role         string
	IsGuest      bool
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, role, is_guest)
		VALUES ($1, $2, $3, $4)
		RETURNING `+userColumns,
		arg.Email, arg.PasswordHash, arg.Role, arg.IsGuest,
	)
	return scanUser(row)
}

type UpdateUserParams struct {
	ID           int64
	Email        string
	PasswordHash pgtype.Text
	Role         string
	IsGuest      bool
}

func (q *Queries) UpdateUser(ctx context.Context, arg UpdateUserParams) (User, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE users
		SET email = $2, password_hash = $3, role = $4, is_guest = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns,
		arg.ID, arg.Email, arg.PasswordHash, arg.Role, arg.IsGuest,
	)
	return scanUser(row)
}

func (q *Queries) DeleteUser(ctx context.Context, id int64) (int64, error) {
	var deleted int64
	err := q.db.QueryRow(ctx, `DELETE FROM users WHERE id = $1 RETURNING id`, id).Scan(&deleted)
	return deleted, err
}

// BumpUserOrderStats increments the user's order counter and stamps the
// last-order time. Called inside the checkout transaction.
func (q *Queries) BumpUserOrderStats(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, `
		UPDATE users
		SET orders_count = orders_count + 1, last_order_at = now(), updated_at = now()
		WHERE id = $1`, id)
	return err
}

// CountRegisteredCustomers counts non-guest customer accounts.
func (q *Queries) CountRegisteredCustomers(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE role = 'customer' AND NOT is_guest`).Scan(&n)
	return n, err
}
