// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cvforge/cvforge-auth/internal/model"
	"github.com/cvforge/cvforge-auth/internal/repository"
)

// MemStore is an in-memory repository.Storage. Transactions are serialized and roll
// back by restoring a snapshot.
type MemStore struct {
	mu sync.Mutex
	st memState

	// AuditErr, when set, makes every audit write fail.
	AuditErr error
	// HealthErr is returned by HealthCheck.
	HealthErr error
}

type memState struct {
	users   map[string]*model.User
	refresh map[string]*model.RefreshToken
	single  map[model.TokenKind]map[string]*model.SingleUseToken
	audit   []*model.AuditLog
}

// NewMemStore returns an empty store
func NewMemStore() *MemStore {
	return &MemStore{st: memState{
		users:   map[string]*model.User{},
		refresh: map[string]*model.RefreshToken{},
		single: map[model.TokenKind]map[string]*model.SingleUseToken{
			model.TokenKindPasswordReset:     {},
			model.TokenKindEmailVerification: {},
		},
	}}
}

func (st *memState) clone() memState {
	out := memState{
		users:   make(map[string]*model.User, len(st.users)),
		refresh: make(map[string]*model.RefreshToken, len(st.refresh)),
		single:  make(map[model.TokenKind]map[string]*model.SingleUseToken, len(st.single)),
		audit:   slices.Clone(st.audit),
	}
	for k, u := range st.users {
		c := *u
		c.Roles = slices.Clone(u.Roles)
		out.users[k] = &c
	}
	for k, t := range st.refresh {
		c := *t
		out.refresh[k] = &c
	}
	for kind, tokens := range st.single {
		m := make(map[string]*model.SingleUseToken, len(tokens))
		for k, t := range tokens {
			c := *t
			m[k] = &c
		}
		out.single[kind] = m
	}
	return out
}

type memView struct {
	m    *MemStore
	inTx bool
}

func (v memView) do(fn func(st *memState) error) error {
	if !v.inTx {
		v.m.mu.Lock()
		defer v.m.mu.Unlock()
	}
	return fn(&v.m.st)
}

func (m *MemStore) view() memView { return memView{m: m} }

func (m *MemStore) Users() repository.UserStore { return m.view().Users() }
func (m *MemStore) RefreshTokens() repository.RefreshTokenStore {
	return m.view().RefreshTokens()
}
func (m *MemStore) SingleUseTokens(kind model.TokenKind) repository.SingleUseTokenStore {
	return m.view().SingleUseTokens(kind)
}
func (m *MemStore) Audit() repository.AuditStore { return m.view().Audit() }
func (m *MemStore) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	return m.view().InTx(ctx, fn)
}
func (m *MemStore) HealthCheck(context.Context) error { return m.HealthErr }

func (v memView) Users() repository.UserStore { return memUsers{v} }
func (v memView) RefreshTokens() repository.RefreshTokenStore { return memRefresh{v} }
func (v memView) SingleUseTokens(kind model.TokenKind) repository.SingleUseTokenStore {
	if kind != model.TokenKindPasswordReset && kind != model.TokenKindEmailVerification {
		panic("testutil: not a single-use token kind: " + string(kind))
	}
	return memSingle{v, kind}
}
func (v memView) Audit() repository.AuditStore { return memAudit{v} }
func (v memView) HealthCheck(context.Context) error { return v.m.HealthErr }

func (v memView) InTx(_ context.Context, fn func(repository.Storage) error) error {
	if v.inTx {
		return fn(v)
	}
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	snapshot := v.m.st.clone()
	if err := fn(memView{m: v.m, inTx: true}); err != nil {
		v.m.st = snapshot
		return err
	}
	return nil
}

// AuditEntries returns a copy of the audit trail in insertion order
func (m *MemStore) AuditEntries() []model.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AuditLog, len(m.st.audit))
	for i, e := range m.st.audit {
		out[i] = *e
	}
	return out
}

// AuditActions returns the recorded action names in insertion order
func (m *MemStore) AuditActions() []string {
	var out []string
	for _, e := range m.AuditEntries() {
		out = append(out, e.Action)
	}
	return out
}

// RefreshTokensOf returns copies of every refresh token row of a user
func (m *MemStore) RefreshTokensOf(userID string) []model.RefreshToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.RefreshToken
	for _, t := range m.st.refresh {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out
}

// SingleUseTokensOf returns copies of a user's single-use tokens of one kind
func (m *MemStore) SingleUseTokensOf(kind model.TokenKind, userID string) []model.SingleUseToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SingleUseToken
	for _, t := range m.st.single[kind] {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out
}

// AppendAudit inserts an audit entry directly, bypassing AuditErr
func (m *MemStore) AppendAudit(e model.AuditLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.audit = append(m.st.audit, &e)
}

type memUsers struct{ v memView }

func (r memUsers) Create(_ context.Context, user *model.User) error {
	return r.v.do(func(st *memState) error {
		for _, u := range st.users {
			if u.Email == user.Email {
				return repository.ErrDuplicate
			}
		}
		c := *user
		c.Roles = slices.Clone(user.Roles)
		st.users[user.ID] = &c
		return nil
	})
}

func liveUser(st *memState, id string) (*model.User, error) {
	u, ok := st.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

func (r memUsers) GetByID(_ context.Context, id string) (*model.User, error) {
	var out *model.User
	err := r.v.do(func(st *memState) error {
		u, err := liveUser(st, id)
		if err != nil {
			return err
		}
		c := *u
		c.Roles = slices.Clone(u.Roles)
		out = &c
		return nil
	})
	return out, err
}

func (r memUsers) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var id string
	_ = r.v.do(func(st *memState) error {
		for _, u := range st.users {
			if u.Email == email && u.DeletedAt == nil {
				id = u.ID
			}
		}
		return nil
	})
	if id == "" {
		return nil, repository.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r memUsers) List(_ context.Context, skip, limit int) ([]*model.User, error) {
	var out []*model.User
	err := r.v.do(func(st *memState) error {
		all := make([]*model.User, 0, len(st.users))
		for _, u := range st.users {
			if u.DeletedAt == nil {
				c := *u
				all = append(all, &c)
			}
		}
		sort.Slice(all, func(i, j int) bool {
			if all[i].CreatedAt.Equal(all[j].CreatedAt) {
				return all[i].ID < all[j].ID
			}
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		})
		if skip >= len(all) {
			out = []*model.User{}
			return nil
		}
		end := min(skip+limit, len(all))
		out = all[skip:end]
		return nil
	})
	return out, err
}

func (r memUsers) mutate(id string, fn func(u *model.User)) error {
	return r.v.do(func(st *memState) error {
		u, err := liveUser(st, id)
		if err != nil {
			return err
		}
		fn(u)
		return nil
	})
}

func (r memUsers) UpdatePasswordHash(_ context.Context, id, hash string, at time.Time) error {
	return r.mutate(id, func(u *model.User) { u.PasswordHash = hash; u.UpdatedAt = at })
}

func (r memUsers) MarkVerified(_ context.Context, id string, activate bool, at time.Time) error {
	return r.mutate(id, func(u *model.User) {
		u.IsVerified = true
		u.IsActive = u.IsActive || (activate && u.DeactivatedAt == nil)
		u.UpdatedAt = at
	})
}

func (r memUsers) SetActive(_ context.Context, id string, active bool, at time.Time) error {
	return r.mutate(id, func(u *model.User) {
		u.IsActive = active
		u.DeactivatedAt = nil
		if !active {
			u.DeactivatedAt = &at
		}
		u.UpdatedAt = at
	})
}

func (r memUsers) AddRole(_ context.Context, id string, role model.Role, at time.Time) error {
	return r.mutate(id, func(u *model.User) { u.Roles = u.Roles.With(role); u.UpdatedAt = at })
}

func (r memUsers) RemoveRole(_ context.Context, id string, role model.Role, at time.Time) error {
	return r.mutate(id, func(u *model.User) { u.Roles = u.Roles.Without(role); u.UpdatedAt = at })
}

func (r memUsers) SetSuperuser(_ context.Context, id string, superuser bool, at time.Time) error {
	return r.mutate(id, func(u *model.User) { u.IsSuperuser = superuser; u.UpdatedAt = at })
}

func (r memUsers) RecordLoginFailure(_ context.Context, id string) (int, error) {
	var n int
	err := r.mutate(id, func(u *model.User) { u.FailedLoginCount++; n = u.FailedLoginCount })
	return n, err
}

func (r memUsers) RecordLoginSuccess(_ context.Context, id string, at time.Time) error {
	return r.mutate(id, func(u *model.User) { u.FailedLoginCount = 0; u.LastLoginAt = &at })
}

func (r memUsers) SoftDelete(_ context.Context, id string, at time.Time) error {
	return r.mutate(id, func(u *model.User) {
		u.DeletedAt = &at
		u.IsActive = false
		if u.DeactivatedAt == nil {
			u.DeactivatedAt = &at
		}
		u.UpdatedAt = at
	})
}

type memRefresh struct{ v memView }

func (r memRefresh) Create(_ context.Context, token *model.RefreshToken) error {
	return r.v.do(func(st *memState) error {
		if _, ok := st.refresh[token.TokenHash]; ok {
			return repository.ErrDuplicate
		}
		c := *token
		st.refresh[token.TokenHash] = &c
		return nil
	})
}

func (r memRefresh) ClaimActive(_ context.Context, hash string, now time.Time) (*model.RefreshToken, error) {
	var out *model.RefreshToken
	err := r.v.do(func(st *memState) error {
		t, ok := st.refresh[hash]
		if !ok || !t.Usable(now) {
			return repository.ErrNotFound
		}
		t.Revoked = true
		t.RevokedAt = &now
		c := *t
		out = &c
		return nil
	})
	return out, err
}

func (r memRefresh) RevokeForUser(_ context.Context, hash, userID string, now time.Time) (bool, error) {
	var changed bool
	err := r.v.do(func(st *memState) error {
		t, ok := st.refresh[hash]
		if ok && t.UserID == userID && !t.Revoked {
			t.Revoked = true
			t.RevokedAt = &now
			changed = true
		}
		return nil
	})
	return changed, err
}

func (r memRefresh) RevokeAllForUser(_ context.Context, userID string, now time.Time) (int64, error) {
	var n int64
	err := r.v.do(func(st *memState) error {
		for _, t := range st.refresh {
			if t.UserID == userID && !t.Revoked {
				t.Revoked = true
				t.RevokedAt = &now
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r memRefresh) ListActiveForUser(_ context.Context, userID string, now time.Time) ([]*model.RefreshToken, error) {
	var out []*model.RefreshToken
	err := r.v.do(func(st *memState) error {
		for _, t := range st.refresh {
			if t.UserID == userID && t.Usable(now) {
				c := *t
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

func (r memRefresh) RevokeByID(_ context.Context, id, userID string, now time.Time) (bool, error) {
	var changed bool
	err := r.v.do(func(st *memState) error {
		for _, t := range st.refresh {
			if t.ID == id && t.UserID == userID && !t.Revoked {
				t.Revoked = true
				t.RevokedAt = &now
				changed = true
			}
		}
		return nil
	})
	return changed, err
}

func (r memRefresh) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.v.do(func(st *memState) error {
		maps.DeleteFunc(st.refresh, func(_ string, t *model.RefreshToken) bool {
			if !t.ExpiresAt.After(now) {
				n++
				return true
			}
			return false
		})
		return nil
	})
	return n, err
}

type memSingle struct {
	v    memView
	kind model.TokenKind
}

func (r memSingle) Create(_ context.Context, token *model.SingleUseToken) error {
	return r.v.do(func(st *memState) error {
		if _, ok := st.single[r.kind][token.TokenHash]; ok {
			return repository.ErrDuplicate
		}
		c := *token
		c.Kind = r.kind
		st.single[r.kind][token.TokenHash] = &c
		return nil
	})
}

func (r memSingle) Consume(_ context.Context, hash string, now time.Time) (*model.SingleUseToken, error) {
	var out *model.SingleUseToken
	err := r.v.do(func(st *memState) error {
		t, ok := st.single[r.kind][hash]
		if !ok || !t.Usable(now) {
			return repository.ErrNotFound
		}
		t.Used = true
		t.UsedAt = &now
		c := *t
		out = &c
		return nil
	})
	return out, err
}

func (r memSingle) InvalidateForUser(_ context.Context, userID string, now time.Time) (int64, error) {
	var n int64
	err := r.v.do(func(st *memState) error {
		for _, t := range st.single[r.kind] {
			if t.UserID == userID && !t.Used {
				t.Used = true
				t.UsedAt = &now
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r memSingle) CountSince(_ context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := r.v.do(func(st *memState) error {
		for _, t := range st.single[r.kind] {
			if t.UserID == userID && !t.CreatedAt.Before(since) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r memSingle) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.v.do(func(st *memState) error {
		maps.DeleteFunc(st.single[r.kind], func(_ string, t *model.SingleUseToken) bool {
			if !t.ExpiresAt.After(now) {
				n++
				return true
			}
			return false
		})
		return nil
	})
	return n, err
}

type memAudit struct{ v memView }

func (r memAudit) Create(_ context.Context, entry *model.AuditLog) error {
	if r.v.m.AuditErr != nil {
		return r.v.m.AuditErr
	}
	return r.v.do(func(st *memState) error {
		c := *entry
		st.audit = append(st.audit, &c)
		return nil
	})
}

func (r memAudit) Query(_ context.Context, f model.AuditFilter) ([]*model.AuditLog, error) {
	var out []*model.AuditLog
	err := r.v.do(func(st *memState) error {
		var matched []*model.AuditLog
		for _, e := range st.audit {
			if f.ActionPrefix != "" && !strings.HasPrefix(e.Action, f.ActionPrefix) {
				continue
			}
			if f.UserID != "" && (e.UserID == nil || *e.UserID != f.UserID) {
				continue
			}
			if f.From != nil && e.CreatedAt.Before(*f.From) {
				continue
			}
			if f.To != nil && !e.CreatedAt.Before(*f.To) {
				continue
			}
			c := *e
			matched = append(matched, &c)
		}
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
		limit := f.Limit
		if limit <= 0 || limit > repository.MaxAuditPageSize {
			limit = repository.MaxAuditPageSize
		}
		skip := max(f.Skip, 0)
		if skip >= len(matched) {
			return nil
		}
		out = matched[skip:min(skip+limit, len(matched))]
		return nil
	})
	return out, err
}

func (r memAudit) CountByAction(_ context.Context, since time.Time) (map[string]int, error) {
	counts := map[string]int{}
	err := r.v.do(func(st *memState) error {
		for _, e := range st.audit {
			if !e.CreatedAt.Before(since) {
				counts[e.Action]++
			}
		}
		return nil
	})
	return counts, err
}

func (r memAudit) TopUsers(_ context.Context, since time.Time, n int) ([]model.UserActivity, error) {
	counts := map[string]int{}
	err := r.v.do(func(st *memState) error {
		for _, e := range st.audit {
			if e.UserID != nil && !e.CreatedAt.Before(since) {
				counts[*e.UserID]++
			}
		}
		return nil
	})
	out := make([]model.UserActivity, 0, len(counts))
	for id, c := range counts {
		out = append(out, model.UserActivity{UserID: id, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Count > out[j].Count
	})
	if len(out) > n {
		out = out[:n]
	}
	return out, err
}

func (r memAudit) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.v.do(func(st *memState) error {
		kept := st.audit[:0]
		for _, e := range st.audit {
			if e.CreatedAt.Before(cutoff) {
				n++
				continue
			}
			kept = append(kept, e)
		}
		st.audit = kept
		return nil
	})
	return n, err
}
