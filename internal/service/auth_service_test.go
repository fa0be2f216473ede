package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvforge/cvforge-auth/internal/auth"
	"github.com/cvforge/cvforge-auth/internal/config"
	"github.com/cvforge/cvforge-auth/internal/email"
	"github.com/cvforge/cvforge-auth/internal/metrics"
	"github.com/cvforge/cvforge-auth/internal/model"
	"github.com/cvforge/cvforge-auth/internal/testutil"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	cfg     *config.Config
	clk     *testClock
	store   *testutil.MemStore
	mailer  *testutil.RecordingMailer
	metrics *metrics.Metrics
	audit   *AuditService
	auth    *AuthService
	admin   *AdminService
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.Security.Tokens.Secret = "test-secret"
	cfg.Audit.Async = false
	for _, m := range mutate {
		m(cfg)
	}

	clk := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	codec, err := auth.NewTokenCodec(cfg.Security.Tokens.Secret, auth.WithClock(clk.Now))
	require.NoError(t, err)

	log := testutil.NewLogger(t)
	h := &harness{
		cfg:     cfg,
		clk:     clk,
		store:   testutil.NewMemStore(),
		mailer:  &testutil.RecordingMailer{},
		metrics: metrics.New(),
	}
	h.audit = NewAuditService(h.store, h.metrics, cfg.Audit, log)
	h.audit.now = clk.Now
	h.auth = NewAuthService(h.store, testutil.PlainHasher{}, codec, h.mailer, h.audit, cfg, log)
	h.auth.now = clk.Now
	h.admin = NewAdminService(h.store, testutil.PlainHasher{}, h.audit, nil, cfg, log)
	h.admin.now = clk.Now
	return h
}

// registerVerified registers an account and redeems its verification email
func (h *harness) registerVerified(t *testing.T, addr, password string) *model.User {
	t.Helper()
	ctx := context.Background()
	u, err := h.auth.Register(ctx, RegisterRequest{Email: addr, Password: password, FullName: "Alice"})
	require.NoError(t, err)
	require.NoError(t, h.auth.VerifyEmail(ctx, h.mailer.Last(email.TemplateVerifyEmail), ClientInfo{}))
	return u
}

func (h *harness) login(t *testing.T, addr, password string) *model.TokenPair {
	t.Helper()
	pair, err := h.auth.Login(context.Background(), LoginRequest{Email: addr, Password: password})
	require.NoError(t, err)
	return pair
}

func usableRefresh(tokens []model.RefreshToken, now time.Time) int {
	n := 0
	for _, tok := range tokens {
		if tok.Usable(now) {
			n++
		}
	}
	return n
}

func TestAuthService_RegisterLoginRefresh(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	client := ClientInfo{IPAddress: "10.0.0.1", UserAgent: "curl/8"}

	alice, err := h.auth.Register(ctx, RegisterRequest{
		Email: "alice@example.com", Password: "Secret123!", FullName: "Alice", Client: client,
	})
	require.NoError(t, err)
	assert.False(t, alice.IsActive, "verify_first keeps new accounts inactive")
	assert.False(t, alice.IsVerified)
	assert.Equal(t, model.RoleSet{model.RoleUser}, alice.Roles)

	sent := h.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "alice@example.com", sent[0].To)
	assert.Contains(t, sent[0].Data.Link, "/verify-email?token=")

	_, err = h.auth.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "Secret123!"})
	require.ErrorIs(t, err, ErrInactiveUser)

	require.NoError(t, h.auth.VerifyEmail(ctx, sent[0].Data.Token, client))

	_, wrongPw := h.auth.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "Wrong123!"})
	_, unknown := h.auth.Login(ctx, LoginRequest{Email: "bob@example.com", Password: "Secret123!"})
	require.ErrorIs(t, wrongPw, ErrInvalidCredentials)
	require.ErrorIs(t, unknown, ErrInvalidCredentials)
	assert.Equal(t, wrongPw.Error(), unknown.Error())

	pair := h.login(t, "alice@example.com", "Secret123!")
	assert.Equal(t, "bearer", pair.TokenType)
	assert.Equal(t, int64(30*60), pair.ExpiresIn)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	stored, err := h.store.Users().GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.FailedLoginCount)
	require.NotNil(t, stored.LastLoginAt)

	h.clk.Advance(time.Minute)
	next, err := h.auth.Refresh(ctx, pair.RefreshToken, client)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	_, err = h.auth.Refresh(ctx, pair.RefreshToken, client)
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken)
	assert.Equal(t, 1, usableRefresh(h.store.RefreshTokensOf(alice.ID), h.clk.Now()))

	_, err = h.auth.Refresh(ctx, next.RefreshToken, client)
	require.NoError(t, err)

	actions := h.store.AuditActions()
	assert.Contains(t, actions, model.AuditActionUserCreated)
	assert.Contains(t, actions, model.AuditActionEmailVerified)
	assert.Contains(t, actions, model.AuditActionLogin)
	assert.Contains(t, actions, model.AuditActionTokenRefresh)
	assert.Contains(t, actions, model.AuditActionTokenRefreshFailed)

	var unknownEntry *model.AuditLog
	for _, e := range h.store.AuditEntries() {
		if e.Action == model.AuditActionLoginFailed && e.Details["reason"] == "unknown_email" {
			unknownEntry = &e
		}
	}
	require.NotNil(t, unknownEntry)
	assert.Nil(t, unknownEntry.UserID)
}

func TestAuthService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate email", func(t *testing.T) {
		h := newHarness(t)
		h.registerVerified(t, "alice@example.com", "Secret123!")
		_, err := h.auth.Register(ctx, RegisterRequest{Email: " alice@example.com ", Password: "Secret123!"})
		require.ErrorIs(t, err, ErrEmailAlreadyExists)
	})

	t.Run("email comparison is case-sensitive", func(t *testing.T) {
		h := newHarness(t)
		h.registerVerified(t, "alice@example.com", "Secret123!")
		_, err := h.auth.Register(ctx, RegisterRequest{Email: "Alice@example.com", Password: "Secret123!"})
		require.NoError(t, err)
	})

	t.Run("weak password", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.auth.Register(ctx, RegisterRequest{Email: "a@example.com", Password: "short"})
		require.ErrorIs(t, err, ErrWeakPassword)
		assert.Empty(t, h.mailer.Sent())
	})

	t.Run("active policy", func(t *testing.T) {
		h := newHarness(t, func(c *config.Config) { c.Auth.RegistrationPolicy = config.PolicyActive })
		u, err := h.auth.Register(ctx, RegisterRequest{Email: "a@example.com", Password: "Secret123!"})
		require.NoError(t, err)
		assert.True(t, u.IsActive)
		h.login(t, "a@example.com", "Secret123!")

		require.NoError(t, h.auth.VerifyEmail(ctx, h.mailer.Last(email.TemplateVerifyEmail), ClientInfo{}))
		stored, err := h.store.Users().GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsActive)
		assert.True(t, stored.IsVerified)
	})
}

func TestAuthService_LoginFailureCounter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.registerVerified(t, "alice@example.com", "Secret123!")

	for range 2 {
		_, err := h.auth.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "nope-nope"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	stored, err := h.store.Users().GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.FailedLoginCount)

	h.login(t, "alice@example.com", "Secret123!")
	stored, err = h.store.Users().GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.FailedLoginCount)
}

func TestAuthService_RefreshRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("access token presented as refresh", func(t *testing.T) {
		h := newHarness(t)
		h.registerVerified(t, "alice@example.com", "Secret123!")
		pair := h.login(t, "alice@example.com", "Secret123!")
		_, err := h.auth.Refresh(ctx, pair.AccessToken, ClientInfo{})
		require.ErrorIs(t, err, ErrInvalidOrExpiredToken)
	})

	t.Run("expired", func(t *testing.T) {
		h := newHarness(t)
		h.registerVerified(t, "alice@example.com", "Secret123!")
		pair := h.login(t, "alice@example.com", "Secret123!")
		h.clk.Advance(h.cfg.Security.Tokens.RefreshTokenTTL)
		_, err := h.auth.Refresh(ctx, pair.RefreshToken, ClientInfo{})
		require.ErrorIs(t, err, ErrInvalidOrExpiredToken)
	})

	t.Run("deactivated user keeps the old token unrotated", func(t *testing.T) {
		h := newHarness(t)
		u := h.registerVerified(t, "alice@example.com", "Secret123!")
		pair := h.login(t, "alice@example.com", "Secret123!")
		require.NoError(t, h.store.Users().SetActive(ctx, u.ID, false, h.clk.Now()))

		_, err := h.auth.Refresh(ctx, pair.RefreshToken, ClientInfo{})
		require.ErrorIs(t, err, ErrInvalidOrExpiredToken)
		assert.Len(t, h.store.RefreshTokensOf(u.ID), 1)
	})

	t.Run("unknown to the ledger", func(t *testing.T) {
		h := newHarness(t)
		u := h.registerVerified(t, "alice@example.com", "Secret123!")
		codec, err := auth.NewTokenCodec("test-secret", auth.WithClock(h.clk.Now))
		require.NoError(t, err)
		forged, _, err := codec.Issue(u.ID, model.TokenKindRefresh, time.Hour)
		require.NoError(t, err)

		_, err = h.auth.Refresh(ctx, forged, ClientInfo{})
		require.ErrorIs(t, err, ErrInvalidOrExpiredToken)
	})
}

func TestAuthService_ConcurrentRefreshHasOneWinner(t *testing.T) {
	h := newHarness(t)
	u := h.registerVerified(t, "alice@example.com", "Secret123!")
	pair := h.login(t, "alice@example.com", "Secret123!")

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.auth.Refresh(context.Background(), pair.RefreshToken, ClientInfo{})
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, usableRefresh(h.store.RefreshTokensOf(u.ID), h.clk.Now()))
}

func TestAuthService_Logout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.registerVerified(t, "alice@example.com", "Secret123!")
	h.registerVerified(t, "bob@example.com", "Secret123!")
	alicePair := h.login(t, "alice@example.com", "Secret123!")
	bobPair := h.login(t, "bob@example.com", "Secret123!")

	n := &recordingNotifier{}
	h.auth.SetLogoutNotifier(n)

	require.NoError(t, h.auth.Logout(ctx, alice.ID, bobPair.RefreshToken, ClientInfo{}))
	_, err := h.auth.Refresh(ctx, bobPair.RefreshToken, ClientInfo{})
	require.NoError(t, err, "another user's token must survive")

	require.NoError(t, h.auth.Logout(ctx, alice.ID, alicePair.RefreshToken, ClientInfo{}))
	_, err = h.auth.Refresh(ctx, alicePair.RefreshToken, ClientInfo{})
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	p, err := h.auth.VerifyAccess(ctx, alicePair.AccessToken)
	require.NoError(t, err, "access tokens outlive logout")
	assert.Equal(t, alice.ID, p.UserID)

	require.NoError(t, h.auth.Logout(ctx, alice.ID, "garbage", ClientInfo{}))
	require.NoError(t, h.auth.Logout(ctx, alice.ID, "", ClientInfo{}))

	require.Len(t, n.events, 1, "only the revoking call announces itself")
	assert.Equal(t, LogoutTypeSession, n.events[0].Type)
	assert.Equal(t, alice.ID, n.events[0].UserID)
}

func TestAuthService_LogoutAllNotifies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.registerVerified(t, "alice@example.com", "Secret123!")
	h.login(t, "alice@example.com", "Secret123!")
	h.login(t, "alice@example.com", "Secret123!")

	n := &recordingNotifier{}
	h.auth.SetLogoutNotifier(n)

	revoked, err := h.auth.LogoutAll(ctx, u.ID, ClientInfo{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), revoked)
	assert.Zero(t, usableRefresh(h.store.RefreshTokensOf(u.ID), h.clk.Now()))
	require.Len(t, n.events, 1)
	assert.Equal(t, LogoutTypeUser, n.events[0].Type)
	assert.Equal(t, "logout_all", n.events[0].Reason)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []LogoutEvent
}

func (n *recordingNotifier) NotifyLogout(_ context.Context, e LogoutEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func TestAuthService_ForgotAndResetPassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.registerVerified(t, "alice@example.com", "Secret123!")
	h.login(t, "alice@example.com", "Secret123!")
	h.login(t, "alice@example.com", "Secret123!")
	mailsBefore := len(h.mailer.Sent())

	require.NoError(t, h.auth.ForgotPassword(ctx, "nobody@example.com", ClientInfo{}))
	assert.Len(t, h.mailer.Sent(), mailsBefore, "unknown email sends nothing")
	assert.Contains(t, h.store.AuditActions(), model.AuditActionPasswordResetUnknown)

	require.NoError(t, h.auth.ForgotPassword(ctx, "alice@example.com", ClientInfo{}))
	resetToken := h.mailer.Last(email.TemplatePasswordReset)
	require.NotEmpty(t, resetToken)

	t.Run("weak new password does not burn the token", func(t *testing.T) {
		err := h.auth.ResetPassword(ctx, resetToken, "short", ClientInfo{})
		require.ErrorIs(t, err, ErrWeakPassword)
	})

	require.NoError(t, h.auth.ResetPassword(ctx, resetToken, "NewSecret456!", ClientInfo{}))

	_, err := h.auth.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "Secret123!"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Zero(t, usableRefresh(h.store.RefreshTokensOf(alice.ID), h.clk.Now()), "reset revokes every session")
	h.login(t, "alice@example.com", "NewSecret456!")

	err = h.auth.ResetPassword(ctx, resetToken, "Another789!", ClientInfo{})
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken)
	assert.Contains(t, h.store.AuditActions(), model.AuditActionPasswordResetFailed)
}

func TestAuthService_ForgotPasswordThrottle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.registerVerified(t, "alice@example.com", "Secret123!")

	var tokens []string
	for range 4 {
		require.NoError(t, h.auth.ForgotPassword(ctx, "alice@example.com", ClientInfo{}))
		tokens = append(tokens, h.mailer.Last(email.TemplatePasswordReset))
		h.clk.Advance(time.Second)
	}
	assert.Equal(t, tokens[2], tokens[3], "fourth request inside the hour is silently dropped")
	assert.Len(t, h.store.SingleUseTokensOf(model.TokenKindPasswordReset, alice.ID), 3)

	err := h.auth.ResetPassword(ctx, tokens[0], "NewSecret456!", ClientInfo{})
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken, "newer request invalidates older tokens")
	require.NoError(t, h.auth.ResetPassword(ctx, tokens[2], "NewSecret456!", ClientInfo{}))

	h.clk.Advance(time.Hour)
	require.NoError(t, h.auth.ForgotPassword(ctx, "alice@example.com", ClientInfo{}))
	assert.NotEqual(t, tokens[2], h.mailer.Last(email.TemplatePasswordReset))
}

func TestAuthService_ConcurrentResetHasOneWinner(t *testing.T) {
	h := newHarness(t)
	h.registerVerified(t, "alice@example.com", "Secret123!")
	require.NoError(t, h.auth.ForgotPassword(context.Background(), "alice@example.com", ClientInfo{}))
	token := h.mailer.Last(email.TemplatePasswordReset)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := h.auth.ResetPassword(context.Background(), token, "NewSecret456!", ClientInfo{})
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestAuthService_SingleUseTokenKindsAreNotInterchangeable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.auth.Register(ctx, RegisterRequest{Email: "alice@example.com", Password: "Secret123!"})
	require.NoError(t, err)
	verifyToken := h.mailer.Last(email.TemplateVerifyEmail)

	err = h.auth.ResetPassword(ctx, verifyToken, "NewSecret456!", ClientInfo{})
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	require.NoError(t, h.auth.VerifyEmail(ctx, verifyToken, ClientInfo{}))
	err = h.auth.VerifyEmail(ctx, verifyToken, ClientInfo{})
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken)
}

func TestAuthService_VerifyEmailExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.auth.Register(ctx, RegisterRequest{Email: "alice@example.com", Password: "Secret123!"})
	require.NoError(t, err)

	h.clk.Advance(h.cfg.Security.Tokens.EmailVerificationTTL)
	err = h.auth.VerifyEmail(ctx, h.mailer.Last(email.TemplateVerifyEmail), ClientInfo{})
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken)
}

func TestAuthService_ResendVerification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.auth.Register(ctx, RegisterRequest{Email: "alice@example.com", Password: "Secret123!"})
	require.NoError(t, err)
	first := h.mailer.Last(email.TemplateVerifyEmail)

	require.NoError(t, h.auth.ResendVerification(ctx, "alice@example.com", ClientInfo{}))
	assert.Len(t, h.mailer.Sent(), 1, "inside cooldown")

	require.NoError(t, h.auth.ResendVerification(ctx, "nobody@example.com", ClientInfo{}))

	h.clk.Advance(h.cfg.Auth.ResendCooldown + time.Second)
	require.NoError(t, h.auth.ResendVerification(ctx, "alice@example.com", ClientInfo{}))
	second := h.mailer.Last(email.TemplateVerifyEmail)
	require.NotEqual(t, first, second)

	require.ErrorIs(t, h.auth.VerifyEmail(ctx, first, ClientInfo{}), ErrInvalidOrExpiredToken)
	require.NoError(t, h.auth.VerifyEmail(ctx, second, ClientInfo{}))

	h.clk.Advance(time.Hour)
	require.NoError(t, h.auth.ResendVerification(ctx, "alice@example.com", ClientInfo{}))
	assert.Len(t, h.mailer.Sent(), 2, "verified users get nothing")
}

func TestAuthService_AdminDeactivationSurvivesEmailVerification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u, err := h.auth.Register(ctx, RegisterRequest{Email: "mallory@example.com", Password: "Secret123!"})
	require.NoError(t, err)
	pending := h.mailer.Last(email.TemplateVerifyEmail)
	require.NotEmpty(t, pending)

	require.NoError(t, h.admin.Deactivate(ctx, "admin-1", u.ID, ClientInfo{}))

	require.ErrorIs(t, h.auth.VerifyEmail(ctx, pending, ClientInfo{}), ErrInvalidOrExpiredToken)

	h.clk.Advance(h.cfg.Auth.ResendCooldown + time.Second)
	require.NoError(t, h.auth.ResendVerification(ctx, "mallory@example.com", ClientInfo{}))
	assert.Len(t, h.mailer.Sent(), 1, "deactivated accounts get no new verification mail")

	_, err = h.auth.Login(ctx, LoginRequest{Email: "mallory@example.com", Password: "Secret123!"})
	require.ErrorIs(t, err, ErrInactiveUser)

	// a verification that still lands must not reactivate the account
	require.NoError(t, h.store.Users().MarkVerified(ctx, u.ID, true, h.clk.Now()))
	got, err := h.store.Users().GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.IsVerified)
	assert.False(t, got.IsActive)
	require.NotNil(t, got.DeactivatedAt)

	_, err = h.auth.Login(ctx, LoginRequest{Email: "mallory@example.com", Password: "Secret123!"})
	require.ErrorIs(t, err, ErrInactiveUser)
}

func TestAuthService_DeleteUserBurnsResetTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.registerVerified(t, "alice@example.com", "Secret123!")

	require.NoError(t, h.auth.ForgotPassword(ctx, "alice@example.com", ClientInfo{}))
	reset := h.mailer.Last(email.TemplatePasswordReset)
	require.NotEmpty(t, reset)

	require.NoError(t, h.admin.DeleteUser(ctx, "admin-1", u.ID, ClientInfo{}))
	require.NotEmpty(t, h.store.SingleUseTokensOf(model.TokenKindPasswordReset, u.ID))
	for _, tok := range h.store.SingleUseTokensOf(model.TokenKindPasswordReset, u.ID) {
		assert.True(t, tok.Used)
	}
	require.ErrorIs(t, h.auth.ResetPassword(ctx, reset, "NewSecret456!", ClientInfo{}), ErrInvalidOrExpiredToken)
}

func TestAuthService_ChangePassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.registerVerified(t, "alice@example.com", "Secret123!")
	pair := h.login(t, "alice@example.com", "Secret123!")

	err := h.auth.ChangePassword(ctx, ChangePasswordRequest{UserID: u.ID, CurrentPassword: "wrong", NewPassword: "NewSecret456!"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Contains(t, h.store.AuditActions(), model.AuditActionPasswordChangeFailed)

	err = h.auth.ChangePassword(ctx, ChangePasswordRequest{UserID: u.ID, CurrentPassword: "Secret123!", NewPassword: "Secret123!"})
	require.ErrorIs(t, err, ErrWeakPassword)

	err = h.auth.ChangePassword(ctx, ChangePasswordRequest{
		UserID: u.ID, CurrentPassword: "Secret123!", NewPassword: "NewSecret456!", RevokeSessions: true,
	})
	require.NoError(t, err)

	_, err = h.auth.Refresh(ctx, pair.RefreshToken, ClientInfo{})
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken)
	h.login(t, "alice@example.com", "NewSecret456!")
}

func TestAuthService_VerifyAccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.registerVerified(t, "alice@example.com", "Secret123!")
	pair := h.login(t, "alice@example.com", "Secret123!")

	p, err := h.auth.VerifyAccess(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", p.Email)
	assert.Equal(t, pair.ExpiresAt.Unix(), p.ExpiresAt.Unix())

	_, err = h.auth.VerifyAccess(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	require.NoError(t, h.store.Users().SoftDelete(ctx, u.ID, h.clk.Now()))
	_, err = h.auth.VerifyAccess(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	_, err = h.auth.Me(ctx, u.ID)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestAuthService_AuditFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.registerVerified(t, "alice@example.com", "Secret123!")
	h.store.AuditErr = errors.New("audit table locked")

	h.login(t, "alice@example.com", "Secret123!")
	_, err := h.auth.Login(context.Background(), LoginRequest{Email: "alice@example.com", Password: "wrong-one"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}
