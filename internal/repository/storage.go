package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/cvforge/cvforge-auth/internal/database"
	"github.com/cvforge/cvforge-auth/internal/model"
)

// DBTX is satisfied by *sql.DB, *sql.Tx and *database.Postgres. Single-row reads go
// through queryRow so they share the retry policy of QueryContext.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Storage groups the stores and lets callers run several operations atomically
type Storage interface {
	Users() UserStore
	RefreshTokens() RefreshTokenStore
	SingleUseTokens(kind model.TokenKind) SingleUseTokenStore
	Audit() AuditStore

	// InTx runs fn against a Storage bound to one transaction. The transaction commits
	// when fn returns nil and rolls back otherwise. Nested calls reuse the outer transaction.
	InTx(ctx context.Context, fn func(Storage) error) error

	HealthCheck(ctx context.Context) error
}

// UserStore persists user accounts. Lookups exclude soft-deleted users.
type UserStore interface {
	// Create fails with ErrDuplicate when the email is taken
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	List(ctx context.Context, skip, limit int) ([]*model.User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string, at time.Time) error
	// MarkVerified sets the verified flag and, when activate is true, the active flag
	MarkVerified(ctx context.Context, id string, activate bool, at time.Time) error
	SetActive(ctx context.Context, id string, active bool, at time.Time) error
	AddRole(ctx context.Context, id string, role model.Role, at time.Time) error
	RemoveRole(ctx context.Context, id string, role model.Role, at time.Time) error
	SetSuperuser(ctx context.Context, id string, superuser bool, at time.Time) error
	RecordLoginFailure(ctx context.Context, id string) (int, error)
	RecordLoginSuccess(ctx context.Context, id string, at time.Time) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

// RefreshTokenStore is the refresh-token ledger
type RefreshTokenStore interface {
	Create(ctx context.Context, token *model.RefreshToken) error
	// ClaimActive revokes the token if it is still usable at now and returns it.
	// ErrNotFound means it was missing, expired or already revoked.
	ClaimActive(ctx context.Context, hash string, now time.Time) (*model.RefreshToken, error)
	// RevokeForUser revokes the token only if it belongs to userID
	RevokeForUser(ctx context.Context, hash, userID string, now time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error)
	// ListActiveForUser returns the user's usable tokens, newest first
	ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]*model.RefreshToken, error)
	// RevokeByID revokes one token by row id, scoped to its owner
	RevokeByID(ctx context.Context, id, userID string, now time.Time) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SingleUseTokenStore is the ledger for password reset and email verification tokens
type SingleUseTokenStore interface {
	Create(ctx context.Context, token *model.SingleUseToken) error
	// Consume marks the token used if it is still usable at now and returns it.
	// ErrNotFound means it was missing, expired or already used.
	Consume(ctx context.Context, hash string, now time.Time) (*model.SingleUseToken, error)
	InvalidateForUser(ctx context.Context, userID string, now time.Time) (int64, error)
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// AuditStore persists the append-only audit trail
type AuditStore interface {
	Create(ctx context.Context, entry *model.AuditLog) error
	Query(ctx context.Context, filter model.AuditFilter) ([]*model.AuditLog, error)
	CountByAction(ctx context.Context, since time.Time) (map[string]int, error)
	TopUsers(ctx context.Context, since time.Time, n int) ([]model.UserActivity, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type pgStorage struct {
	pg *database.Postgres
	db DBTX
	tx *sql.Tx
}

// NewPostgresStorage returns a Storage backed by PostgreSQL
func NewPostgresStorage(pg *database.Postgres) Storage {
	return &pgStorage{pg: pg, db: pg}
}

func (s *pgStorage) Users() UserStore {
	return &UserRepository{db: s.db}
}

func (s *pgStorage) RefreshTokens() RefreshTokenStore {
	return &RefreshTokenRepository{db: s.db}
}

func (s *pgStorage) SingleUseTokens(kind model.TokenKind) SingleUseTokenStore {
	return newSingleUseTokenRepository(s.db, kind)
}

func (s *pgStorage) Audit() AuditStore {
	return &AuditRepository{db: s.db}
}

func (s *pgStorage) HealthCheck(ctx context.Context) error {
	return s.pg.HealthCheck(ctx)
}

func (s *pgStorage) InTx(ctx context.Context, fn func(Storage) error) (err error) {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.pg.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cerr)
		}
	}()

	return fn(&pgStorage{pg: s.pg, db: tx, tx: tx})
}

type rowScanner interface {
	Scan(dest ...any) error
}

// row mirrors *sql.Row on top of *sql.Rows
type row struct {
	rows *sql.Rows
	err  error
}

func queryRow(ctx context.Context, db DBTX, query string, args ...any) rowScanner {
	rows, err := db.QueryContext(ctx, query, args...)
	return &row{rows: rows, err: err}
}

// Scan copies the first row into dest and closes the result set. It returns
// sql.ErrNoRows when there is no row.
func (r *row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	defer r.rows.Close()
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return err
		}
		return sql.ErrNoRows
	}
	if err := r.rows.Scan(dest...); err != nil {
		return err
	}
	return r.rows.Close()
}

// classify maps driver errors onto repository sentinels
func classify(err error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicate
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func expectAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
