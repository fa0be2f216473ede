package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/cvforge/cvforge-auth/internal/model"
)

// UserRepository handles user data persistence
type UserRepository struct {
	db DBTX
}

const userColumns = `id, email, full_name, password_hash, is_active, is_verified, is_superuser,
		       roles, failed_login_count, last_login_at, created_at, updated_at, deactivated_at, deleted_at`

// Create inserts a new user into the database
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (id, email, full_name, password_hash, is_active, is_verified, is_superuser,
		    roles, failed_login_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.FullName,
		user.PasswordHash,
		user.IsActive,
		user.IsVerified,
		user.IsSuperuser,
		pq.Array(user.Roles.Strings()),
		user.FailedLoginCount,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return classify(err, "create user")
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL`
	return scanUser(queryRow(ctx, r.db, query, id))
}

// GetByEmail retrieves a user by the exact stored email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 AND deleted_at IS NULL`
	return scanUser(queryRow(ctx, r.db, query, email))
}

// List returns a page of users ordered by creation time
func (r *UserRepository) List(ctx context.Context, skip, limit int) ([]*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		WHERE deleted_at IS NULL
		ORDER BY created_at, id
		OFFSET $1 LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]*model.User, 0, limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// UpdatePasswordHash updates the user's password hash
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id, hash string, at time.Time) error {
	query := `UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, hash, at, id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return expectAffected(res, "update password")
}

// MarkVerified marks the user's email as verified, optionally activating the account.
// Accounts deactivated by an administrator stay inactive.
func (r *UserRepository) MarkVerified(ctx context.Context, id string, activate bool, at time.Time) error {
	query := `
		UPDATE users
		SET is_verified = true, is_active = is_active OR ($1 AND deactivated_at IS NULL), updated_at = $2
		WHERE id = $3 AND deleted_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, activate, at, id)
	if err != nil {
		return fmt.Errorf("failed to verify email: %w", err)
	}
	return expectAffected(res, "verify email")
}

// SetActive activates or deactivates the account. Deactivation stamps deactivated_at;
// activation clears it.
func (r *UserRepository) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	query := `
		UPDATE users
		SET is_active = $1, deactivated_at = CASE WHEN $1 THEN NULL ELSE $2::timestamptz END, updated_at = $2
		WHERE id = $3 AND deleted_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, active, at, id)
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}
	return expectAffected(res, "update user status")
}

// AddRole grants a role. Granting a held role leaves the set unchanged.
func (r *UserRepository) AddRole(ctx context.Context, id string, role model.Role, at time.Time) error {
	query := `
		UPDATE users
		SET roles = CASE WHEN $1::text = ANY(roles) THEN roles ELSE array_append(roles, $1::text) END,
		    updated_at = $2
		WHERE id = $3 AND deleted_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, string(role), at, id)
	if err != nil {
		return fmt.Errorf("failed to add role: %w", err)
	}
	return expectAffected(res, "add role")
}

// RemoveRole revokes a role. Revoking an absent role leaves the set unchanged.
func (r *UserRepository) RemoveRole(ctx context.Context, id string, role model.Role, at time.Time) error {
	query := `UPDATE users SET roles = array_remove(roles, $1::text), updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, string(role), at, id)
	if err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return expectAffected(res, "remove role")
}

// SetSuperuser toggles the superuser flag
func (r *UserRepository) SetSuperuser(ctx context.Context, id string, superuser bool, at time.Time) error {
	query := `UPDATE users SET is_superuser = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, superuser, at, id)
	if err != nil {
		return fmt.Errorf("failed to update superuser flag: %w", err)
	}
	return expectAffected(res, "update superuser flag")
}

// RecordLoginFailure increments the failed login counter
func (r *UserRepository) RecordLoginFailure(ctx context.Context, id string) (int, error) {
	query := `
		UPDATE users
		SET failed_login_count = failed_login_count + 1
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING failed_login_count
	`
	var count int
	if err := queryRow(ctx, r.db, query, id).Scan(&count); err != nil {
		return 0, classify(err, "increment failed logins")
	}
	return count, nil
}

// RecordLoginSuccess resets the failed login counter and stamps the last login time
func (r *UserRepository) RecordLoginSuccess(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE users SET failed_login_count = 0, last_login_at = $1 WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, at, id); err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

// SoftDelete hides the user from lookups and deactivates the account
func (r *UserRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE users
		SET deleted_at = $1, is_active = false, deactivated_at = COALESCE(deactivated_at, $1), updated_at = $1
		WHERE id = $2 AND deleted_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return expectAffected(res, "delete user")
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		user  model.User
		roles pq.StringArray
		last  sql.NullTime
		deact sql.NullTime
		del   sql.NullTime
	)
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.PasswordHash,
		&user.IsActive,
		&user.IsVerified,
		&user.IsSuperuser,
		&roles,
		&user.FailedLoginCount,
		&last,
		&user.CreatedAt,
		&user.UpdatedAt,
		&deact,
		&del,
	)
	if err != nil {
		return nil, classify(err, "scan user")
	}
	user.Roles = model.RoleSetFromStrings(roles)
	if last.Valid {
		user.LastLoginAt = &last.Time
	}
	if deact.Valid {
		user.DeactivatedAt = &deact.Time
	}
	if del.Valid {
		user.DeletedAt = &del.Time
	}
	return &user, nil
}
