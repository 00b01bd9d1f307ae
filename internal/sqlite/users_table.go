package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/epirec/pkg/types"
)

const userColumns = "id, login, password_hash, role, is_active, created_at"

// UsersTable reads and writes user rows inside a caller-supplied unit of
// work.
type UsersTable struct{}

// NewUsersTable returns the users table accessor.
func NewUsersTable() UsersTable {
	return UsersTable{}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (*types.User, error) {
	var (
		u       types.User
		role    string
		created string
	)
	if err := r.Scan(&u.ID, &u.Login, &u.PasswordHash, &role, &u.IsActive, &created); err != nil {
		return nil, err
	}
	u.Role = types.Role(role)
	ts, err := parseTS(created)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = ts
	return &u, nil
}

// GetByID returns the user with the given id, or types.ErrNotFound.
func (UsersTable) GetByID(ctx context.Context, q DBTX, id int64) (*types.User, error) {
	row := q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading user %d: %w", id, err)
	}
	return u, nil
}

// GetByLogin returns the user whose login matches exactly, or
// types.ErrNotFound.
func (UsersTable) GetByLogin(ctx context.Context, q DBTX, login string) (*types.User, error) {
	row := q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE login = ?", login)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", login, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading user %q: %w", login, err)
	}
	return u, nil
}

// Create inserts u and fills in its ID and CreatedAt. A duplicate login
// returns types.ErrConflict.
func (UsersTable) Create(ctx context.Context, q DBTX, u *types.User) error {
	if strings.TrimSpace(u.Login) == "" || u.PasswordHash == "" || !u.Role.Valid() {
		return types.ErrInvalidInput
	}

	var created string
	err := q.QueryRowContext(ctx,
		`INSERT INTO users (login, password_hash, role, is_active)
		 VALUES (?, ?, ?, ?)
		 RETURNING id, created_at`,
		u.Login, u.PasswordHash, string(u.Role), u.IsActive,
	).Scan(&u.ID, &created)
	if isUniqueViolation(err) {
		return fmt.Errorf("login %q: %w", u.Login, types.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("inserting user %q: %w", u.Login, err)
	}

	ts, err := parseTS(created)
	if err != nil {
		return err
	}
	u.CreatedAt = ts
	return nil
}

// UpdatePassword replaces the stored hash of user id.
func (UsersTable) UpdatePassword(ctx context.Context, q DBTX, id int64, hash string) error {
	if hash == "" {
		return types.ErrInvalidInput
	}
	res, err := q.ExecContext(ctx, "UPDATE users SET password_hash = ? WHERE id = ?", hash, id)
	if err != nil {
		return fmt.Errorf("updating password of user %d: %w", id, err)
	}
	return requireOneRow(res, id)
}

// SetActive sets the is_active flag of user id.
func (UsersTable) SetActive(ctx context.Context, q DBTX, id int64, active bool) error {
	res, err := q.ExecContext(ctx, "UPDATE users SET is_active = ? WHERE id = ?", active, id)
	if err != nil {
		return fmt.Errorf("updating user %d: %w", id, err)
	}
	return requireOneRow(res, id)
}

func requireOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user %d: %w", id, types.ErrNotFound)
	}
	return nil
}

// List returns users whose login contains query, ignoring case, ordered by
// login. An empty query returns every user.
func (UsersTable) List(ctx context.Context, q DBTX, query string) ([]types.User, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+userColumns+` FROM users
		 WHERE ? = '' OR instr(lower(login), lower(?)) > 0
		 ORDER BY login ASC`,
		query, query,
	)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []types.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// Count returns the number of user rows.
func (UsersTable) Count(ctx context.Context, q DBTX) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}
