package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cvforge/cvforge-auth/internal/model"
)

// RefreshTokenRepository handles refresh token persistence
type RefreshTokenRepository struct {
	db DBTX
}

const refreshColumns = `id, user_id, token_hash, expires_at, revoked, revoked_at, user_agent, ip_address, created_at`

// Create stores a new refresh token
func (r *RefreshTokenRepository) Create(ctx context.Context, token *model.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked, user_agent, ip_address, created_at)
		VALUES ($1, $2, $3, $4, false, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		token.ID,
		token.UserID,
		token.TokenHash,
		token.ExpiresAt,
		token.UserAgent,
		token.IPAddress,
		token.CreatedAt,
	)
	if err != nil {
		return classify(err, "create refresh token")
	}
	return nil
}

// ClaimActive revokes a usable token and returns it in one statement. Concurrent
// claims of the same hash serialize on the row lock; only the first sees a row.
func (r *RefreshTokenRepository) ClaimActive(ctx context.Context, hash string, now time.Time) (*model.RefreshToken, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = true, revoked_at = $2
		WHERE token_hash = $1 AND revoked = false AND expires_at > $2
		RETURNING ` + refreshColumns
	return scanRefreshToken(queryRow(ctx, r.db, query, hash, now))
}

// RevokeForUser revokes a token owned by userID. It reports whether a row changed.
func (r *RefreshTokenRepository) RevokeForUser(ctx context.Context, hash, userID string, now time.Time) (bool, error) {
	query := `
		UPDATE refresh_tokens SET revoked = true, revoked_at = $3
		WHERE token_hash = $1 AND user_id = $2 AND revoked = false
	`
	res, err := r.db.ExecContext(ctx, query, hash, userID, now)
	if err != nil {
		return false, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return n > 0, nil
}

// RevokeAllForUser revokes every live refresh token of a user
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	query := `UPDATE refresh_tokens SET revoked = true, revoked_at = $2 WHERE user_id = $1 AND revoked = false`
	res, err := r.db.ExecContext(ctx, query, userID, now)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

// ListActiveForUser returns the user's usable tokens, newest first
func (r *RefreshTokenRepository) ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]*model.RefreshToken, error) {
	query := `SELECT ` + refreshColumns + ` FROM refresh_tokens
		WHERE user_id = $1 AND revoked = false AND expires_at > $2
		ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list refresh tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*model.RefreshToken
	for rows.Next() {
		t, err := scanRefreshToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// RevokeByID revokes one token by row id, scoped to its owner
func (r *RefreshTokenRepository) RevokeByID(ctx context.Context, id, userID string, now time.Time) (bool, error) {
	query := `
		UPDATE refresh_tokens SET revoked = true, revoked_at = $3
		WHERE id = $1 AND user_id = $2 AND revoked = false
	`
	res, err := r.db.ExecContext(ctx, query, id, userID, now)
	if err != nil {
		return false, fmt.Errorf("failed to revoke session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to revoke session: %w", err)
	}
	return n > 0, nil
}

// DeleteExpired removes tokens past their expiry
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

func scanRefreshToken(row rowScanner) (*model.RefreshToken, error) {
	var (
		t         model.RefreshToken
		revokedAt sql.NullTime
		ua, ip    sql.NullString
	)
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.TokenHash,
		&t.ExpiresAt,
		&t.Revoked,
		&revokedAt,
		&ua,
		&ip,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, classify(err, "scan refresh token")
	}
	if revokedAt.Valid {
		t.RevokedAt = &revokedAt.Time
	}
	t.UserAgent = ua.String
	t.IPAddress = ip.String
	return &t, nil
}
