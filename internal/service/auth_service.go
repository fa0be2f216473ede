package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cvforge/cvforge-auth/internal/auth"
	"github.com/cvforge/cvforge-auth/internal/config"
	"github.com/cvforge/cvforge-auth/internal/email"
	"github.com/cvforge/cvforge-auth/internal/logger"
	"github.com/cvforge/cvforge-auth/internal/model"
	"github.com/cvforge/cvforge-auth/internal/repository"
)

// Common errors
var (
	ErrInvalidCredentials    = errors.New("incorrect email or password")
	ErrInactiveUser          = errors.New("inactive user")
	ErrEmailAlreadyExists    = errors.New("email already registered")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrRateLimitExceeded     = errors.New("too many requests")
	ErrPermissionDenied      = errors.New("not enough permissions")
	ErrUserNotFound          = errors.New("user not found")
	ErrWeakPassword          = errors.New("password does not meet requirements")
	ErrInvalidInput          = errors.New("invalid input")
)

// errUnusable marks a rolled-back flow whose token or user could not be used.
// It never leaves the service; callers see ErrInvalidOrExpiredToken.
var errUnusable = errors.New("token or user unusable")

// Mailer delivers templated email. Delivery is best-effort.
type Mailer interface {
	SendTemplate(ctx context.Context, to, subject, template string, data email.TemplateData)
}

// AuthService runs the credential and token lifecycle flows
type AuthService struct {
	store  repository.Storage
	hasher auth.PasswordHasher
	codec  *auth.TokenCodec
	mailer Mailer
	audit  AuditRecorder
	cfg    *config.Config
	log    *logger.Logger
	now    func() time.Time

	notifier LogoutNotifier
}

// NewAuthService creates a new AuthService
func NewAuthService(
	store repository.Storage,
	hasher auth.PasswordHasher,
	codec *auth.TokenCodec,
	mailer Mailer,
	audit AuditRecorder,
	cfg *config.Config,
	log *logger.Logger,
) *AuthService {
	return &AuthService{
		store:  store,
		hasher: hasher,
		codec:  codec,
		mailer: mailer,
		audit:  audit,
		cfg:    cfg,
		log:    log.WithComponent("auth_service"),
		now:    time.Now,
	}
}

// SetLogoutNotifier makes bulk revocations announce themselves through n
func (s *AuthService) SetLogoutNotifier(n LogoutNotifier) {
	s.notifier = n
}

func (s *AuthService) notifyUserLogout(ctx context.Context, userID, reason string) {
	if s.notifier != nil {
		s.notifier.NotifyLogout(ctx, LogoutEvent{Type: LogoutTypeUser, UserID: userID, Reason: reason})
	}
}

func (s *AuthService) requireVerified() bool {
	return s.cfg.Auth.RegistrationPolicy != config.PolicyActive
}

// RegisterRequest contains the data for registering a new user
type RegisterRequest struct {
	Email    string
	Password string
	FullName string
	Client   ClientInfo
}

// Register creates an account and sends its verification email. Under the
// verify_first policy the account stays inactive until the email is verified.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*model.User, error) {
	addr := auth.NormalizeEmail(req.Email)
	if addr == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if err := auth.ValidatePassword(req.Password, s.cfg.Security.Password.MinLength); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWeakPassword, err)
	}

	if _, err := s.store.Users().GetByEmail(ctx, addr); err == nil {
		return nil, ErrEmailAlreadyExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWeakPassword, err)
	}

	now := s.now().UTC()
	user := &model.User{
		ID:           uuid.NewString(),
		Email:        addr,
		FullName:     strings.TrimSpace(req.FullName),
		PasswordHash: hash,
		IsActive:     !s.requireVerified(),
		Roles:        model.RoleSet{model.RoleUser},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var verifyToken string
	err = s.store.InTx(ctx, func(tx repository.Storage) error {
		if err := tx.Users().Create(ctx, user); err != nil {
			return err
		}
		verifyToken, err = s.issueSingleUse(ctx, tx, user.ID, model.TokenKindEmailVerification)
		return err
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, ErrEmailAlreadyExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.sendVerification(ctx, user, verifyToken)
	s.audit.Record(ctx, AuditEvent{
		Action:  model.AuditActionUserCreated,
		UserID:  user.ID,
		Client:  req.Client,
		Details: map[string]any{"email": user.Email, "policy": s.cfg.Auth.RegistrationPolicy},
	})
	s.log.Info().Str("user_id", user.ID).Msg("user registered")

	return user, nil
}

// LoginRequest contains the data for logging in
type LoginRequest struct {
	Email    string
	Password string
	Client   ClientInfo
}

// Login authenticates a user and returns a fresh token pair. Unknown email and
// wrong password yield the same error.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*model.TokenPair, error) {
	addr := auth.NormalizeEmail(req.Email)

	user, err := s.store.Users().GetByEmail(ctx, addr)
	if errors.Is(err, repository.ErrNotFound) {
		s.hasher.Equalize(req.Password)
		s.audit.Record(ctx, AuditEvent{
			Action:  model.AuditActionLoginFailed,
			Client:  req.Client,
			Details: map[string]any{"email": addr, "reason": "unknown_email"},
		})
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if !s.hasher.Verify(req.Password, user.PasswordHash) {
		attempts, err := s.store.Users().RecordLoginFailure(ctx, user.ID)
		if err != nil {
			s.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to record login failure")
		}
		s.audit.Record(ctx, AuditEvent{
			Action:  model.AuditActionLoginFailed,
			UserID:  user.ID,
			Client:  req.Client,
			Details: map[string]any{"reason": "bad_password", "failed_attempts": attempts},
		})
		return nil, ErrInvalidCredentials
	}

	if !user.CanLogin(s.requireVerified()) {
		s.audit.Record(ctx, AuditEvent{
			Action:  model.AuditActionLoginFailed,
			UserID:  user.ID,
			Client:  req.Client,
			Details: map[string]any{"reason": "inactive", "is_verified": user.IsVerified},
		})
		return nil, ErrInactiveUser
	}

	pair, err := s.issuePair(ctx, s.store, user.ID, req.Client)
	if err != nil {
		return nil, err
	}

	if err := s.store.Users().RecordLoginSuccess(ctx, user.ID, s.now().UTC()); err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to record login")
	}
	s.audit.Record(ctx, AuditEvent{Action: model.AuditActionLogin, UserID: user.ID, Client: req.Client})
	s.log.Info().Str("user_id", user.ID).Msg("user logged in")

	return pair, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is revoked
// and its replacement stored in the same transaction.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (*model.TokenPair, error) {
	if _, err := s.codec.Verify(refreshToken, model.TokenKindRefresh); err != nil {
		s.refreshFailed(ctx, "", client, "invalid_token")
		return nil, ErrInvalidOrExpiredToken
	}

	var (
		pair   *model.TokenPair
		userID string
	)
	hash := auth.HashToken(refreshToken)
	err := s.store.InTx(ctx, func(tx repository.Storage) error {
		old, err := tx.RefreshTokens().ClaimActive(ctx, hash, s.now().UTC())
		if errors.Is(err, repository.ErrNotFound) {
			return errUnusable
		}
		if err != nil {
			return err
		}
		userID = old.UserID

		user, err := tx.Users().GetByID(ctx, old.UserID)
		if errors.Is(err, repository.ErrNotFound) {
			return errUnusable
		}
		if err != nil {
			return err
		}
		if !user.CanLogin(s.requireVerified()) {
			return errUnusable
		}

		pair, err = s.issuePair(ctx, tx, user.ID, client)
		return err
	})
	if errors.Is(err, errUnusable) {
		s.refreshFailed(ctx, userID, client, "unusable")
		return nil, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	s.audit.Record(ctx, AuditEvent{Action: model.AuditActionTokenRefresh, UserID: userID, Client: client})
	return pair, nil
}

func (s *AuthService) refreshFailed(ctx context.Context, userID string, client ClientInfo, reason string) {
	s.audit.Record(ctx, AuditEvent{
		Action:  model.AuditActionTokenRefreshFailed,
		UserID:  userID,
		Client:  client,
		Details: map[string]any{"reason": reason},
	})
}

// Logout revokes the given refresh token if it belongs to userID. It succeeds
// whether or not anything was revoked. Access tokens stay valid until they expire.
func (s *AuthService) Logout(ctx context.Context, userID, refreshToken string, client ClientInfo) error {
	revoked := false
	if refreshToken != "" {
		var err error
		revoked, err = s.store.RefreshTokens().RevokeForUser(ctx, auth.HashToken(refreshToken), userID, s.now().UTC())
		if err != nil {
			return fmt.Errorf("failed to revoke refresh token: %w", err)
		}
	}

	if revoked && s.notifier != nil {
		s.notifier.NotifyLogout(ctx, LogoutEvent{Type: LogoutTypeSession, UserID: userID, Reason: "logout"})
	}
	s.audit.Record(ctx, AuditEvent{
		Action:  model.AuditActionLogout,
		UserID:  userID,
		Client:  client,
		Details: map[string]any{"revoked": revoked},
	})
	return nil
}

// LogoutAll revokes every refresh token of the user
func (s *AuthService) LogoutAll(ctx context.Context, userID string, client ClientInfo) (int64, error) {
	n, err := s.store.RefreshTokens().RevokeAllForUser(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	s.notifyUserLogout(ctx, userID, "logout_all")
	s.audit.Record(ctx, AuditEvent{
		Action:  model.AuditActionLogoutAll,
		UserID:  userID,
		Client:  client,
		Details: map[string]any{"revoked": n},
	})
	return n, nil
}

// ForgotPassword issues a reset token and emails it. It returns nil for unknown
// emails so callers cannot tell the cases apart.
func (s *AuthService) ForgotPassword(ctx context.Context, emailAddr string, client ClientInfo) error {
	addr := auth.NormalizeEmail(emailAddr)

	user, err := s.store.Users().GetByEmail(ctx, addr)
	if errors.Is(err, repository.ErrNotFound) {
		s.audit.Record(ctx, AuditEvent{
			Action:  model.AuditActionPasswordResetUnknown,
			Client:  client,
			Details: map[string]any{"email": addr},
		})
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}

	tokens := s.store.SingleUseTokens(model.TokenKindPasswordReset)
	recent, err := tokens.CountSince(ctx, user.ID, s.now().Add(-time.Hour).UTC())
	if err != nil {
		return fmt.Errorf("failed to count reset requests: %w", err)
	}
	if limit := s.cfg.Auth.ResetRequestsPerHour; limit > 0 && recent >= limit {
		s.audit.Record(ctx, AuditEvent{
			Action:  model.AuditActionPasswordResetRequest,
			UserID:  user.ID,
			Client:  client,
			Details: map[string]any{"throttled": true},
		})
		return nil
	}

	var resetToken string
	err = s.store.InTx(ctx, func(tx repository.Storage) error {
		if _, err := tx.SingleUseTokens(model.TokenKindPasswordReset).InvalidateForUser(ctx, user.ID, s.now().UTC()); err != nil {
			return err
		}
		var err error
		resetToken, err = s.issueSingleUse(ctx, tx, user.ID, model.TokenKindPasswordReset)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create reset token: %w", err)
	}

	ttl := s.cfg.Security.Tokens.PasswordResetTTL
	s.mailer.SendTemplate(ctx, user.Email, "Reset your password", email.TemplatePasswordReset, email.TemplateData{
		Name:       user.FullName,
		Link:       s.link("/reset-password", resetToken),
		Token:      resetToken,
		TTLMinutes: max(int(ttl.Minutes()), 1),
	})
	s.audit.Record(ctx, AuditEvent{Action: model.AuditActionPasswordResetRequest, UserID: user.ID, Client: client})
	return nil
}

// ResetPassword redeems a reset token, sets the new password and revokes every
// refresh token of the user. All three happen in one transaction.
func (s *AuthService) ResetPassword(ctx context.Context, resetToken, newPassword string, client ClientInfo) error {
	if err := auth.ValidatePassword(newPassword, s.cfg.Security.Password.MinLength); err != nil {
		return fmt.Errorf("%w: %v", ErrWeakPassword, err)
	}
	if _, err := s.codec.Verify(resetToken, model.TokenKindPasswordReset); err != nil {
		s.resetFailed(ctx, "", client, "invalid_token")
		return ErrInvalidOrExpiredToken
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWeakPassword, err)
	}

	var (
		userID  string
		revoked int64
	)
	err = s.store.InTx(ctx, func(tx repository.Storage) error {
		now := s.now().UTC()
		tok, err := tx.SingleUseTokens(model.TokenKindPasswordReset).Consume(ctx, auth.HashToken(resetToken), now)
		if errors.Is(err, repository.ErrNotFound) {
			return errUnusable
		}
		if err != nil {
			return err
		}
		userID = tok.UserID

		err = tx.Users().UpdatePasswordHash(ctx, tok.UserID, hash, now)
		if errors.Is(err, repository.ErrNotFound) {
			return errUnusable
		}
		if err != nil {
			return err
		}
		if revoked, err = tx.RefreshTokens().RevokeAllForUser(ctx, tok.UserID, now); err != nil {
			return err
		}
		_, err = tx.SingleUseTokens(model.TokenKindPasswordReset).InvalidateForUser(ctx, tok.UserID, now)
		return err
	})
	if errors.Is(err, errUnusable) {
		s.resetFailed(ctx, userID, client, "unusable")
		return ErrInvalidOrExpiredToken
	}
	if err != nil {
		return fmt.Errorf("failed to reset password: %w", err)
	}

	s.notifyUserLogout(ctx, userID, "password_reset")
	s.audit.Record(ctx, AuditEvent{
		Action:  model.AuditActionPasswordReset,
		UserID:  userID,
		Client:  client,
		Details: map[string]any{"revoked_sessions": revoked},
	})
	s.log.Info().Str("user_id", userID).Msg("password reset completed")
	return nil
}

func (s *AuthService) resetFailed(ctx context.Context, userID string, client ClientInfo, reason string) {
	s.audit.Record(ctx, AuditEvent{
		Action:  model.AuditActionPasswordResetFailed,
		UserID:  userID,
		Client:  client,
		Details: map[string]any{"reason": reason},
	})
}

// VerifyEmail redeems a verification token and marks the user verified. Under the
// verify_first policy the user is activated as well.
func (s *AuthService) VerifyEmail(ctx context.Context, verifyToken string, client ClientInfo) error {
	if _, err := s.codec.Verify(verifyToken, model.TokenKindEmailVerification); err != nil {
		s.verifyFailed(ctx, "", client, "invalid_token")
		return ErrInvalidOrExpiredToken
	}

	var userID string
	err := s.store.InTx(ctx, func(tx repository.Storage) error {
		now := s.now().UTC()
		tok, err := tx.SingleUseTokens(model.TokenKindEmailVerification).Consume(ctx, auth.HashToken(verifyToken), now)
		if errors.Is(err, repository.ErrNotFound) {
			return errUnusable
		}
		if err != nil {
			return err
		}
		userID = tok.UserID

		err = tx.Users().MarkVerified(ctx, tok.UserID, s.requireVerified(), now)
		if errors.Is(err, repository.ErrNotFound) {
			return errUnusable
		}
		return err
	})
	if errors.Is(err, errUnusable) {
		s.verifyFailed(ctx, userID, client, "unusable")
		return ErrInvalidOrExpiredToken
	}
	if err != nil {
		return fmt.Errorf("failed to verify email: %w", err)
	}

	s.audit.Record(ctx, AuditEvent{Action: model.AuditActionEmailVerified, UserID: userID, Client: client})
	return nil
}

func (s *AuthService) verifyFailed(ctx context.Context, userID string, client ClientInfo, reason string) {
	s.audit.Record(ctx, AuditEvent{
		Action:  model.AuditActionEmailVerifyFailed,
		UserID:  userID,
		Client:  client,
		Details: map[string]any{"reason": reason},
	})
}

// ResendVerification sends a fresh verification email. Unknown, already verified
// or administratively deactivated addresses and requests inside the cooldown are
// silently ignored.
func (s *AuthService) ResendVerification(ctx context.Context, emailAddr string, client ClientInfo) error {
	user, err := s.store.Users().GetByEmail(ctx, auth.NormalizeEmail(emailAddr))
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user.IsVerified || user.DeactivatedAt != nil {
		return nil
	}

	if cooldown := s.cfg.Auth.ResendCooldown; cooldown > 0 {
		recent, err := s.store.SingleUseTokens(model.TokenKindEmailVerification).
			CountSince(ctx, user.ID, s.now().Add(-cooldown).UTC())
		if err != nil {
			return fmt.Errorf("failed to check resend cooldown: %w", err)
		}
		if recent > 0 {
			s.log.Debug().Str("user_id", user.ID).Msg("verification resend inside cooldown")
			return nil
		}
	}

	var verifyToken string
	err = s.store.InTx(ctx, func(tx repository.Storage) error {
		if _, err := tx.SingleUseTokens(model.TokenKindEmailVerification).InvalidateForUser(ctx, user.ID, s.now().UTC()); err != nil {
			return err
		}
		var err error
		verifyToken, err = s.issueSingleUse(ctx, tx, user.ID, model.TokenKindEmailVerification)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create verification token: %w", err)
	}

	s.sendVerification(ctx, user, verifyToken)
	s.audit.Record(ctx, AuditEvent{Action: model.AuditActionVerificationResent, UserID: user.ID, Client: client})
	return nil
}

// ChangePasswordRequest contains the data for changing a password
type ChangePasswordRequest struct {
	UserID          string
	CurrentPassword string
	NewPassword     string
	RevokeSessions  bool
	Client          ClientInfo
}

// ChangePassword replaces the password of an authenticated user after checking
// the current one
func (s *AuthService) ChangePassword(ctx context.Context, req ChangePasswordRequest) error {
	user, err := s.store.Users().GetByID(ctx, req.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}

	if !s.hasher.Verify(req.CurrentPassword, user.PasswordHash) {
		s.audit.Record(ctx, AuditEvent{
			Action:  model.AuditActionPasswordChangeFailed,
			UserID:  user.ID,
			Client:  req.Client,
			Details: map[string]any{"reason": "bad_password"},
		})
		return ErrInvalidCredentials
	}
	if err := auth.ValidatePassword(req.NewPassword, s.cfg.Security.Password.MinLength); err != nil {
		return fmt.Errorf("%w: %v", ErrWeakPassword, err)
	}
	if req.NewPassword == req.CurrentPassword {
		return fmt.Errorf("%w: new password must differ from the current one", ErrWeakPassword)
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWeakPassword, err)
	}

	var revoked int64
	err = s.store.InTx(ctx, func(tx repository.Storage) error {
		now := s.now().UTC()
		if err := tx.Users().UpdatePasswordHash(ctx, user.ID, hash, now); err != nil {
			return err
		}
		if !req.RevokeSessions {
			return nil
		}
		var err error
		revoked, err = tx.RefreshTokens().RevokeAllForUser(ctx, user.ID, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to change password: %w", err)
	}
	if revoked > 0 {
		s.notifyUserLogout(ctx, user.ID, "password_changed")
	}

	s.audit.Record(ctx, AuditEvent{
		Action:  model.AuditActionPasswordChanged,
		UserID:  user.ID,
		Client:  req.Client,
		Details: map[string]any{"revoked_sessions": revoked},
	})
	return nil
}

// Principal is the authenticated subject of an access token
type Principal struct {
	UserID      string
	Email       string
	IsSuperuser bool
	Roles       model.RoleSet
	ExpiresAt   time.Time
}

// VerifyAccess validates an access token and resolves its subject. Tokens of
// missing or deactivated users are rejected.
func (s *AuthService) VerifyAccess(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := s.codec.Verify(accessToken, model.TokenKindAccess)
	if err != nil {
		return nil, ErrInvalidOrExpiredToken
	}

	user, err := s.store.Users().GetByID(ctx, claims.Subject)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInvalidOrExpiredToken
	}

	return &Principal{
		UserID:      user.ID,
		Email:       user.Email,
		IsSuperuser: user.IsSuperuser,
		Roles:       user.Roles,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// Me returns the profile of an authenticated user
func (s *AuthService) Me(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.store.Users().GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// issuePair mints an access and refresh token and records the refresh token in
// the ledger bound to store
func (s *AuthService) issuePair(ctx context.Context, store repository.Storage, userID string, client ClientInfo) (*model.TokenPair, error) {
	tokens := s.cfg.Security.Tokens

	access, accessClaims, err := s.codec.Issue(userID, model.TokenKindAccess, tokens.AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	refresh, refreshClaims, err := s.codec.Issue(userID, model.TokenKindRefresh, tokens.RefreshTokenTTL)
	if err != nil {
		return nil, err
	}

	err = store.RefreshTokens().Create(ctx, &model.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: auth.HashToken(refresh),
		ExpiresAt: refreshClaims.ExpiresAt.Time.UTC(),
		UserAgent: client.UserAgent,
		IPAddress: client.IPAddress,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &model.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(tokens.AccessTokenTTL.Seconds()),
		ExpiresAt:    accessClaims.ExpiresAt.Time,
	}, nil
}

// issueSingleUse mints a reset or verification token and records its hash
func (s *AuthService) issueSingleUse(ctx context.Context, store repository.Storage, userID string, kind model.TokenKind) (string, error) {
	ttl := s.cfg.Security.Tokens.PasswordResetTTL
	if kind == model.TokenKindEmailVerification {
		ttl = s.cfg.Security.Tokens.EmailVerificationTTL
	}

	raw, claims, err := s.codec.Issue(userID, kind, ttl)
	if err != nil {
		return "", err
	}
	err = store.SingleUseTokens(kind).Create(ctx, &model.SingleUseToken{
		ID:        uuid.NewString(),
		Kind:      kind,
		UserID:    userID,
		TokenHash: auth.HashToken(raw),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to store %s token: %w", kind, err)
	}
	return raw, nil
}

func (s *AuthService) sendVerification(ctx context.Context, user *model.User, token string) {
	ttl := s.cfg.Security.Tokens.EmailVerificationTTL
	s.mailer.SendTemplate(ctx, user.Email, "Verify your email address", email.TemplateVerifyEmail, email.TemplateData{
		Name:       user.FullName,
		Link:       s.link("/verify-email", token),
		Token:      token,
		TTLMinutes: max(int(ttl.Minutes()), 1),
	})
}

func (s *AuthService) link(path, token string) string {
	base := strings.TrimRight(s.cfg.Auth.FrontendURL, "/")
	return base + path + "?token=" + url.QueryEscape(token)
}
