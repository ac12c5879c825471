package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/msspconsole/console/internal/model"
)

// userRow is a flat struct that maps 1:1 to the users table columns. The role
// is kept as its storage name and the MFA secret as a nullable column.
type userRow struct {
	ID           int64          `db:"id"`
	Username     string         `db:"username"`
	PasswordHash string         `db:"password_hash"`
	Role         string         `db:"role"`
	Name         string         `db:"name" json:"name"`
	Email        string         `db:"email" json:"email"`
	Organization string         `db:"organization" json:"organization"`
	City         string         `db:"city" json:"city"`
	State        string         `db:"state" json:"state"`
	Blocked      bool           `db:"blocked"`
	MFASecret    sql.NullString `db:"mfa_secret"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func userRowFromModel(u *model.User) userRow {
	row := userRow{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Role:         u.Role.String(),
		Name:         u.Name,
		Email:        u.Email,
		Organization: u.Organization,
		City:         u.City,
		State:        u.State,
		Blocked:      u.Blocked,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
	if u.MFASecret != nil {
		row.MFASecret = sql.NullString{String: *u.MFASecret, Valid: true}
	}
	return row
}

func (r userRow) toModel() (model.User, error) {
	role, err := model.ParseRole(r.Role)
	if err != nil {
		return model.User{}, fmt.Errorf("user %d: %w", r.ID, err)
	}
	u := model.User{
		ID:           r.ID,
		Username:     r.Username,
		PasswordHash: r.PasswordHash,
		Role:         role,
		Name:         r.Name,
		Email:        r.Email,
		Organization: r.Organization,
		City:         r.City,
		State:        r.State,
		Blocked:      r.Blocked,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.MFASecret.Valid && r.MFASecret.String != "" {
		secret := r.MFASecret.String
		u.MFASecret = &secret
	}
	return u, nil
}

const userColumns = `id, username, password_hash, role, name, email, organization, city, state,
	blocked, mfa_secret, created_at, updated_at`

// ProfileUpdate carries the editable profile fields of an account.
type ProfileUpdate struct {
	Name         string `db:"name" json:"name"`
	Email        string `db:"email" json:"email"`
	Organization string `db:"organization" json:"organization"`
	City         string `db:"city" json:"city"`
	State        string `db:"state" json:"state"`
}

// CreateUser inserts a new account. The ID, CreatedAt, and UpdatedAt fields
// are populated after a successful insert. A username or email collision
// returns ErrDuplicate.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	if !u.Role.Valid() {
		return fmt.Errorf("insert user: invalid role")
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	const q = `INSERT INTO users
		(username, password_hash, role, name, email, organization, city, state, blocked, mfa_secret,
		 created_at, updated_at)
		VALUES
		(:username, :password_hash, :role, :name, :email, :organization, :city, :state, :blocked, :mfa_secret,
		 :created_at, :updated_at)`

	id, err := s.insertReturningID(ctx, s.db, q, userRowFromModel(u))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	u.ID = id
	return nil
}

// GetUser returns an account by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var row userRow
	q := s.db.Rebind("SELECT " + userColumns + " FROM users WHERE id = ?")
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// FindByUsername returns the account with the given username, or nil when
// no such account exists. Absence is not an error so that callers cannot
// accidentally distinguish unknown users from wrong passwords.
func (s *Store) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.findOne(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
}

// FindByUsernameOrEmail returns any account owning either identifier, or nil.
// It backs the duplicate pre-check on account creation.
func (s *Store) FindByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error) {
	return s.findOne(ctx, "SELECT "+userColumns+" FROM users WHERE username = ? OR email = ? ORDER BY id LIMIT 1", username, email)
}

func (s *Store) findOne(ctx context.Context, query string, args ...interface{}) (*model.User, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	u, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsersByRole returns every account holding exactly the given role.
func (s *Store) ListUsersByRole(ctx context.Context, role model.Role) ([]model.User, error) {
	var rows []userRow
	q := s.db.Rebind("SELECT " + userColumns + " FROM users WHERE role = ? ORDER BY username")
	if err := s.db.SelectContext(ctx, &rows, q, role.String()); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	users := make([]model.User, 0, len(rows))
	for _, r := range rows {
		u, err := r.toModel()
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// CountUsersByRole returns the number of accounts holding the given role.
func (s *Store) CountUsersByRole(ctx context.Context, role model.Role) (int, error) {
	var count int
	q := s.db.Rebind("SELECT COUNT(*) FROM users WHERE role = ?")
	if err := s.db.GetContext(ctx, &count, q, role.String()); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// UpdateUser replaces the profile fields of an account and returns the
// number of rows matched. An email collision returns ErrDuplicate.
func (s *Store) UpdateUser(ctx context.Context, id int64, p ProfileUpdate) (int64, error) {
	const q = `UPDATE users SET
		name = :name, email = :email, organization = :organization, city = :city, state = :state,
		updated_at = :updated_at
		WHERE id = :id`

	arg := struct {
		ProfileUpdate
		ID        int64     `db:"id"`
		UpdatedAt time.Time `db:"updated_at"`
	}{p, id, time.Now().UTC()}

	result, err := s.db.NamedExecContext(ctx, q, arg)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("update user: %w", err)
	}
	return affected(result, "update user")
}

// SetBlocked sets the blocked flag and returns the number of rows matched.
// Setting the flag to its current value still matches the row.
func (s *Store) SetBlocked(ctx context.Context, id int64, blocked bool) (int64, error) {
	q := s.db.Rebind("UPDATE users SET blocked = ?, updated_at = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, blocked, time.Now().UTC(), id)
	if err != nil {
		return 0, fmt.Errorf("set blocked: %w", err)
	}
	return affected(result, "set blocked")
}

// SetMFASecret stores the TOTP secret for a user that has none yet. It
// reports false when the user is unknown or already enrolled; the secret is
// written at most once.
func (s *Store) SetMFASecret(ctx context.Context, username, secret string) (bool, error) {
	q := s.db.Rebind("UPDATE users SET mfa_secret = ?, updated_at = ? WHERE username = ? AND mfa_secret IS NULL")
	result, err := s.db.ExecContext(ctx, q, secret, time.Now().UTC(), username)
	if err != nil {
		return false, fmt.Errorf("set mfa secret: %w", err)
	}
	n, err := affected(result, "set mfa secret")
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteUser removes an account. Its assignment rows are cascade deleted by
// the foreign key constraint.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM users WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, err := affected(result, "delete user")
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
