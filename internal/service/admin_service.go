package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cvforge/cvforge-auth/internal/auth"
	"github.com/cvforge/cvforge-auth/internal/config"
	"github.com/cvforge/cvforge-auth/internal/logger"
	"github.com/cvforge/cvforge-auth/internal/model"
	"github.com/cvforge/cvforge-auth/internal/repository"
)

// Admin errors
var (
	ErrInvalidRole = errors.New("unknown role")
	ErrSelfAction  = errors.New("administrators cannot deactivate or delete themselves")
)

// Default and maximum page sizes for user listings
const (
	DefaultUserPageSize = 100
	MaxUserPageSize     = 500
)

// AdminService implements superuser operations on accounts
type AdminService struct {
	store    repository.Storage
	hasher   auth.PasswordHasher
	audit    AuditRecorder
	notifier LogoutNotifier
	cfg      *config.Config
	log      *logger.Logger
	now      func() time.Time
}

// NewAdminService creates a new AdminService. notifier may be nil.
func NewAdminService(
	store repository.Storage,
	hasher auth.PasswordHasher,
	audit AuditRecorder,
	notifier LogoutNotifier,
	cfg *config.Config,
	log *logger.Logger,
) *AdminService {
	return &AdminService{
		store:    store,
		hasher:   hasher,
		audit:    audit,
		notifier: notifier,
		cfg:      cfg,
		log:      log.WithComponent("admin_service"),
		now:      time.Now,
	}
}

// ListUsers returns a page of users ordered by creation time
func (s *AdminService) ListUsers(ctx context.Context, skip, limit int) ([]*model.User, error) {
	if limit <= 0 {
		limit = DefaultUserPageSize
	}
	users, err := s.store.Users().List(ctx, max(skip, 0), min(limit, MaxUserPageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	if users == nil {
		users = []*model.User{}
	}
	return users, nil
}

// GetUser returns one user
func (s *AdminService) GetUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.store.Users().GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// AddRole grants a role. Granting a role the user already has is a no-op.
func (s *AdminService) AddRole(ctx context.Context, actorID, userID, roleName string, client ClientInfo) (*model.User, error) {
	role, err := model.ParseRole(roleName)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, roleName)
	}
	if err := s.store.Users().AddRole(ctx, userID, role, s.now().UTC()); err != nil {
		return nil, s.userErr(err, "add role")
	}

	s.audit.Record(ctx, AuditEvent{
		Action:  model.AuditActionAdminRoleAdd,
		UserID:  actorID,
		Client:  client,
		Details: map[string]any{"target_user_id": userID, "role": string(role)},
	})
	return s.GetUser(ctx, userID)
}

// RemoveRole revokes a role. Removing a role the user lacks is a no-op.
func (s *AdminService) RemoveRole(ctx context.Context, actorID, userID, roleName string, client ClientInfo) (*model.User, error) {
	role, err := model.ParseRole(roleName)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, roleName)
	}
	if err := s.store.Users().RemoveRole(ctx, userID, role, s.now().UTC()); err != nil {
		return nil, s.userErr(err, "remove role")
	}

	s.audit.Record(ctx, AuditEvent{
		Action:  model.AuditActionAdminRoleRemove,
		UserID:  actorID,
		Client:  client,
		Details: map[string]any{"target_user_id": userID, "role": string(role)},
	})
	return s.GetUser(ctx, userID)
}

// Deactivate disables an account and revokes its refresh tokens along with any
// unused reset or verification tokens
func (s *AdminService) Deactivate(ctx context.Context, actorID, userID string, client ClientInfo) error {
	if actorID == userID {
		return ErrSelfAction
	}

	var revoked int64
	err := s.store.InTx(ctx, func(tx repository.Storage) error {
		now := s.now().UTC()
		if err := tx.Users().SetActive(ctx, userID, false, now); err != nil {
			return err
		}
		var err error
		if revoked, err = tx.RefreshTokens().RevokeAllForUser(ctx, userID, now); err != nil {
			return err
		}
		return invalidateSingleUse(ctx, tx, userID, now)
	})
	if err != nil {
		return s.userErr(err, "deactivate user")
	}

	s.notify(ctx, userID, "deactivated")
	s.audit.Record(ctx, AuditEvent{
		Action:  model.AuditActionAdminUserDeactivate,
		UserID:  actorID,
		Client:  client,
		Details: map[string]any{"target_user_id": userID, "revoked_sessions": revoked},
	})
	return nil
}

// DeleteUser soft-deletes an account and revokes all of its tokens. The row is
// kept so audit references stay meaningful.
func (s *AdminService) DeleteUser(ctx context.Context, actorID, userID string, client ClientInfo) error {
	if actorID == userID {
		return ErrSelfAction
	}

	var email string
	err := s.store.InTx(ctx, func(tx repository.Storage) error {
		user, err := tx.Users().GetByID(ctx, userID)
		if err != nil {
			return err
		}
		email = user.Email

		now := s.now().UTC()
		if err := tx.Users().SoftDelete(ctx, userID, now); err != nil {
			return err
		}
		if _, err := tx.RefreshTokens().RevokeAllForUser(ctx, userID, now); err != nil {
			return err
		}
		return invalidateSingleUse(ctx, tx, userID, now)
	})
	if err != nil {
		return s.userErr(err, "delete user")
	}

	s.notify(ctx, userID, "deleted")
	s.audit.Record(ctx, AuditEvent{
		Action:  model.AuditActionAdminUserDelete,
		UserID:  actorID,
		Client:  client,
		Details: map[string]any{"target_user_id": userID, "email": email},
	})
	s.log.Info().Str("actor_id", actorID).Str("user_id", userID).Msg("user deleted")
	return nil
}

// CreateSuperuser creates an active, verified superuser, or promotes the existing
// account with that email
func (s *AdminService) CreateSuperuser(ctx context.Context, emailAddr, password, fullName string) (*model.User, error) {
	addr := auth.NormalizeEmail(emailAddr)
	if addr == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}

	existing, err := s.store.Users().GetByEmail(ctx, addr)
	switch {
	case err == nil:
		err = s.store.InTx(ctx, func(tx repository.Storage) error {
			now := s.now().UTC()
			if err := tx.Users().SetSuperuser(ctx, existing.ID, true, now); err != nil {
				return err
			}
			if err := tx.Users().AddRole(ctx, existing.ID, model.RoleAdmin, now); err != nil {
				return err
			}
			return tx.Users().MarkVerified(ctx, existing.ID, true, now)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to promote user: %w", err)
		}
		s.recordSuperuser(ctx, existing.ID, "promoted")
		return s.GetUser(ctx, existing.ID)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	if err := auth.ValidatePassword(password, s.cfg.Security.Password.MinLength); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWeakPassword, err)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWeakPassword, err)
	}

	now := s.now().UTC()
	user := &model.User{
		ID:           uuid.NewString(),
		Email:        addr,
		FullName:     strings.TrimSpace(fullName),
		PasswordHash: hash,
		IsActive:     true,
		IsVerified:   true,
		IsSuperuser:  true,
		Roles:        model.RoleSet{model.RoleUser, model.RoleAdmin},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailAlreadyExists
		}
		return nil, fmt.Errorf("failed to create superuser: %w", err)
	}

	s.recordSuperuser(ctx, user.ID, "created")
	return user, nil
}

func (s *AdminService) recordSuperuser(ctx context.Context, userID, how string) {
	s.audit.Record(ctx, AuditEvent{
		Action:  model.AuditActionSystemSuperuserCreated,
		UserID:  userID,
		Details: map[string]any{"mode": how},
	})
	s.log.Info().Str("user_id", userID).Str("mode", how).Msg("superuser provisioned")
}

// invalidateSingleUse burns every unused reset and verification token of a user
func invalidateSingleUse(ctx context.Context, tx repository.Storage, userID string, now time.Time) error {
	for _, kind := range []model.TokenKind{model.TokenKindPasswordReset, model.TokenKindEmailVerification} {
		if _, err := tx.SingleUseTokens(kind).InvalidateForUser(ctx, userID, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *AdminService) notify(ctx context.Context, userID, reason string) {
	if s.notifier != nil {
		s.notifier.NotifyLogout(ctx, LogoutEvent{Type: LogoutTypeUser, UserID: userID, Reason: reason})
	}
}

func (s *AdminService) userErr(err error, op string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrUserNotFound
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
