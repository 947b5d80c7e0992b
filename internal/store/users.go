package store

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is a registry account. Login is unique.
type User struct {
	ID           int64
	Login        string
	PasswordHash string
	FullName     string
	Position     string
	Department   string
	Role         string
	Email        string
}

// IsAdmin reports whether the user has the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// CreateUser inserts a new user and returns its id.
// Returns ErrConflict if the login is already registered.
func (s *Store) CreateUser(u User) (int64, error) {
	if u.Login == "" {
		return 0, fmt.Errorf("%w: login is required", ErrInvalid)
	}
	if u.PasswordHash == "" {
		return 0, fmt.Errorf("%w: password hash is required", ErrInvalid)
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	if u.Role != RoleUser && u.Role != RoleAdmin {
		return 0, fmt.Errorf("%w: unknown role %q", ErrInvalid, u.Role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM users WHERE login = ?", u.Login).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to check login: %w", err)
	}
	if count > 0 {
		return 0, fmt.Errorf("%w: login already registered", ErrConflict)
	}

	res, err := s.db.Exec(`
		INSERT INTO users (login, password_hash, full_name, position, department, role, email)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, u.Login, u.PasswordHash, nullString(u.FullName), nullString(u.Position),
		nullString(u.Department), u.Role, nullString(u.Email))
	if err != nil {
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get user id: %w", err)
	}

	s.log.Info("User created",
		zap.Int64("id", id),
		zap.String("login", u.Login),
		zap.String("role", u.Role))
	return id, nil
}

// GetUserByLogin retrieves a user by login. Returns ErrNotFound if missing.
func (s *Store) GetUserByLogin(login string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, login, password_hash, COALESCE(full_name, ''), COALESCE(position, ''),
		       COALESCE(department, ''), role, COALESCE(email, '')
		FROM users WHERE login = ?
	`, login)
	return scanUser(row)
}

// GetUserByID retrieves a user by id. Returns ErrNotFound if missing.
func (s *Store) GetUserByID(id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, login, password_hash, COALESCE(full_name, ''), COALESCE(position, ''),
		       COALESCE(department, ''), role, COALESCE(email, '')
		FROM users WHERE id = ?
	`, id)
	return scanUser(row)
}

// ListUsers returns users ordered by id, with offset/limit paging.
func (s *Store) ListUsers(offset, limit int) ([]*User, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, login, password_hash, COALESCE(full_name, ''), COALESCE(position, ''),
		       COALESCE(department, ''), role, COALESCE(email, '')
		FROM users ORDER BY id LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	return scanUsers(rows)
}

// UpdateUser replaces a user's profile fields. The password hash is left
// untouched. Returns ErrNotFound if the user does not exist and ErrConflict
// if the new login is taken by another user.
func (s *Store) UpdateUser(id int64, u User) error {
	if u.Login == "" {
		return fmt.Errorf("%w: login is required", ErrInvalid)
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	if u.Role != RoleUser && u.Role != RoleAdmin {
		return fmt.Errorf("%w: unknown role %q", ErrInvalid, u.Role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM users WHERE login = ? AND id != ?", u.Login, id).Scan(&count); err != nil {
		return fmt.Errorf("failed to check login: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: login already registered", ErrConflict)
	}

	res, err := s.db.Exec(`
		UPDATE users SET login = ?, full_name = ?, position = ?, department = ?, role = ?
		WHERE id = ?
	`, u.Login, nullString(u.FullName), nullString(u.Position), nullString(u.Department), u.Role, id)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes a user. Returns ErrNotFound if the user does not exist.
func (s *Store) DeleteUser(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.log.Info("User deleted", zap.Int64("id", id))
	return nil
}

// scanUser scans a single user row.
func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.FullName, &u.Position,
		&u.Department, &u.Role, &u.Email)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

// scanUsers scans multiple user rows.
func scanUsers(rows *sql.Rows) ([]*User, error) {
	var users []*User
	for rows.Next() {
		var u User
		err := rows.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.FullName, &u.Position,
			&u.Department, &u.Role, &u.Email)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}
