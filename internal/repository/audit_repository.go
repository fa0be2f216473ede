package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cvforge/cvforge-auth/internal/model"
)

// MaxAuditPageSize caps a single audit query page
const MaxAuditPageSize = 500

// AuditRepository handles audit log persistence
type AuditRepository struct {
	db DBTX
}

// Create inserts a new audit log entry
func (r *AuditRepository) Create(ctx context.Context, entry *model.AuditLog) error {
	details, err := json.Marshal(entry.Details)
	if err != nil || entry.Details == nil {
		details = []byte("{}")
	}

	query := `
		INSERT INTO audit_logs (id, action, details, user_id, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.Action,
		details,
		entry.UserID,
		entry.IPAddress,
		entry.UserAgent,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

// Query returns entries matching filter, newest first
func (r *AuditRepository) Query(ctx context.Context, filter model.AuditFilter) ([]*model.AuditLog, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.ActionPrefix != "" {
		add("action LIKE $%d", escapeLike(filter.ActionPrefix)+"%")
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at < $%d", *filter.To)
	}

	query := `SELECT id, action, details, user_id, ip_address, user_agent, created_at FROM audit_logs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 || limit > MaxAuditPageSize {
		limit = MaxAuditPageSize
	}
	args = append(args, max(filter.Skip, 0), limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id OFFSET $%d LIMIT $%d`, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var out []*model.AuditLog
	for rows.Next() {
		var (
			e       model.AuditLog
			details []byte
			userID  sql.NullString
			ip, ua  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Action, &details, &userID, &ip, &ua, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		e.UserID = nullableString(userID)
		e.IPAddress = nullableString(ip)
		e.UserAgent = nullableString(ua)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	return out, nil
}

// CountByAction returns per-action counts since a point in time
func (r *AuditRepository) CountByAction(ctx context.Context, since time.Time) (map[string]int, error) {
	query := `SELECT action, COUNT(*) FROM audit_logs WHERE created_at >= $1 GROUP BY action`
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit actions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			action string
			n      int
		)
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("failed to scan audit counts: %w", err)
		}
		counts[action] = n
	}
	return counts, rows.Err()
}

// TopUsers ranks users by number of entries since a point in time
func (r *AuditRepository) TopUsers(ctx context.Context, since time.Time, n int) ([]model.UserActivity, error) {
	query := `
		SELECT user_id, COUNT(*) AS c FROM audit_logs
		WHERE created_at >= $1 AND user_id IS NOT NULL
		GROUP BY user_id
		ORDER BY c DESC, user_id
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, since, n)
	if err != nil {
		return nil, fmt.Errorf("failed to rank audit users: %w", err)
	}
	defer rows.Close()

	var out []model.UserActivity
	for rows.Next() {
		var a model.UserActivity
		if err := rows.Scan(&a.UserID, &a.Count); err != nil {
			return nil, fmt.Errorf("failed to scan audit ranking: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteBefore purges entries older than cutoff
func (r *AuditRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit logs: %w", err)
	}
	return res.RowsAffected()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
