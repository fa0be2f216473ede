package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cvforge/cvforge-auth/internal/model"
)

// singleUseTables maps each single-use kind to its table. Table names are never
// taken from input.
var singleUseTables = map[model.TokenKind]string{
	model.TokenKindPasswordReset:     "password_reset_tokens",
	model.TokenKindEmailVerification: "email_verification_tokens",
}

// SingleUseTokenRepository handles password reset and email verification token persistence
type SingleUseTokenRepository struct {
	db    DBTX
	kind  model.TokenKind
	table string
}

func newSingleUseTokenRepository(db DBTX, kind model.TokenKind) *SingleUseTokenRepository {
	table, ok := singleUseTables[kind]
	if !ok {
		panic(fmt.Sprintf("repository: %q is not a single-use token kind", kind))
	}
	return &SingleUseTokenRepository{db: db, kind: kind, table: table}
}

// Create stores a new token
func (r *SingleUseTokenRepository) Create(ctx context.Context, token *model.SingleUseToken) error {
	query := `INSERT INTO ` + r.table + ` (id, user_id, token_hash, expires_at, used, created_at)
		VALUES ($1, $2, $3, $4, false, $5)`
	_, err := r.db.ExecContext(ctx, query,
		token.ID,
		token.UserID,
		token.TokenHash,
		token.ExpiresAt,
		token.CreatedAt,
	)
	if err != nil {
		return classify(err, "create "+string(r.kind)+" token")
	}
	return nil
}

// Consume marks a usable token as used and returns it. The WHERE clause is re-checked
// after the row lock, so exactly one of several concurrent consumers gets a row.
func (r *SingleUseTokenRepository) Consume(ctx context.Context, hash string, now time.Time) (*model.SingleUseToken, error) {
	query := `UPDATE ` + r.table + `
		SET used = true, used_at = $2
		WHERE token_hash = $1 AND used = false AND expires_at > $2
		RETURNING id, user_id, token_hash, expires_at, used, used_at, created_at`

	var (
		t      = model.SingleUseToken{Kind: r.kind}
		usedAt sql.NullTime
	)
	err := queryRow(ctx, r.db, query, hash, now).Scan(
		&t.ID,
		&t.UserID,
		&t.TokenHash,
		&t.ExpiresAt,
		&t.Used,
		&usedAt,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, classify(err, "consume "+string(r.kind)+" token")
	}
	if usedAt.Valid {
		t.UsedAt = &usedAt.Time
	}
	return &t, nil
}

// InvalidateForUser marks all unused tokens of a user as used
func (r *SingleUseTokenRepository) InvalidateForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	query := `UPDATE ` + r.table + ` SET used = true, used_at = $2 WHERE user_id = $1 AND used = false`
	res, err := r.db.ExecContext(ctx, query, userID, now)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate %s tokens: %w", r.kind, err)
	}
	return res.RowsAffected()
}

// CountSince counts tokens issued to a user at or after since
func (r *SingleUseTokenRepository) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM ` + r.table + ` WHERE user_id = $1 AND created_at >= $2`
	var count int
	if err := queryRow(ctx, r.db, query, userID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s tokens: %w", r.kind, err)
	}
	return count, nil
}

// DeleteExpired removes tokens past their expiry
func (r *SingleUseTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM `+r.table+` WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired %s tokens: %w", r.kind, err)
	}
	return res.RowsAffected()
}
