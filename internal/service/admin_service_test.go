package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvforge/cvforge-auth/internal/model"
)

func TestAdminService_Roles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.registerVerified(t, "alice@example.com", "Secret123!")

	updated, err := h.admin.AddRole(ctx, "admin-1", u.ID, "premium", ClientInfo{})
	require.NoError(t, err)
	assert.Equal(t, model.RoleSet{model.RoleUser, model.RolePremium}, updated.Roles)

	updated, err = h.admin.AddRole(ctx, "admin-1", u.ID, "premium", ClientInfo{})
	require.NoError(t, err, "adding an existing role is a no-op")
	assert.Equal(t, model.RoleSet{model.RoleUser, model.RolePremium}, updated.Roles)

	updated, err = h.admin.RemoveRole(ctx, "admin-1", u.ID, "support", ClientInfo{})
	require.NoError(t, err, "removing an absent role is a no-op")
	assert.Len(t, updated.Roles, 2)

	_, err = h.admin.AddRole(ctx, "admin-1", u.ID, "superhero", ClientInfo{})
	require.ErrorIs(t, err, ErrInvalidRole)

	_, err = h.admin.AddRole(ctx, "admin-1", "missing", "premium", ClientInfo{})
	require.ErrorIs(t, err, ErrUserNotFound)

	var roleAdds int
	for _, e := range h.store.AuditEntries() {
		if e.Action == model.AuditActionAdminRoleAdd {
			roleAdds++
			require.NotNil(t, e.UserID)
			assert.Equal(t, "admin-1", *e.UserID)
			assert.Equal(t, u.ID, e.Details["target_user_id"])
		}
	}
	assert.Equal(t, 2, roleAdds)
}

func TestAdminService_DeactivateAndDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.registerVerified(t, "alice@example.com", "Secret123!")
	bob := h.registerVerified(t, "bob@example.com", "Secret123!")
	alicePair := h.login(t, "alice@example.com", "Secret123!")
	bobPair := h.login(t, "bob@example.com", "Secret123!")

	n := &recordingNotifier{}
	h.admin.notifier = n

	require.ErrorIs(t, h.admin.Deactivate(ctx, alice.ID, alice.ID, ClientInfo{}), ErrSelfAction)
	require.ErrorIs(t, h.admin.DeleteUser(ctx, alice.ID, alice.ID, ClientInfo{}), ErrSelfAction)

	require.NoError(t, h.admin.Deactivate(ctx, "admin-1", alice.ID, ClientInfo{}))
	_, err := h.auth.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "Secret123!"})
	require.ErrorIs(t, err, ErrInactiveUser)
	_, err = h.auth.Refresh(ctx, alicePair.RefreshToken, ClientInfo{})
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	require.NoError(t, h.admin.DeleteUser(ctx, "admin-1", bob.ID, ClientInfo{}))
	_, err = h.admin.GetUser(ctx, bob.ID)
	require.ErrorIs(t, err, ErrUserNotFound)
	_, err = h.auth.Refresh(ctx, bobPair.RefreshToken, ClientInfo{})
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken)
	_, err = h.auth.Login(ctx, LoginRequest{Email: "bob@example.com", Password: "Secret123!"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = h.auth.Register(ctx, RegisterRequest{Email: "bob@example.com", Password: "Secret123!"})
	require.ErrorIs(t, err, ErrEmailAlreadyExists, "soft-deleted emails stay reserved")

	require.ErrorIs(t, h.admin.DeleteUser(ctx, "admin-1", "missing", ClientInfo{}), ErrUserNotFound)

	assert.Contains(t, h.store.AuditActions(), model.AuditActionAdminUserDeactivate)
	assert.Contains(t, h.store.AuditActions(), model.AuditActionAdminUserDelete)
	require.Len(t, n.events, 2)
	assert.Equal(t, "deactivated", n.events[0].Reason)
	assert.Equal(t, "deleted", n.events[1].Reason)
}

func TestAdminService_ListUsers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registerVerified(t, "a@example.com", "Secret123!")
	h.registerVerified(t, "b@example.com", "Secret123!")
	h.registerVerified(t, "c@example.com", "Secret123!")

	users, err := h.admin.ListUsers(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, users, 3)

	users, err = h.admin.ListUsers(ctx, 1, 1)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	users, err = h.admin.ListUsers(ctx, 10, 5)
	require.NoError(t, err)
	assert.NotNil(t, users)
	assert.Empty(t, users)
}

func TestAdminService_CreateSuperuser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	root, err := h.admin.CreateSuperuser(ctx, "root@example.com", "Secret123!", "Root")
	require.NoError(t, err)
	assert.True(t, root.IsSuperuser)
	assert.True(t, root.IsActive)
	assert.True(t, root.Roles.Has(model.RoleAdmin))
	h.login(t, "root@example.com", "Secret123!")

	_, err = h.auth.Register(ctx, RegisterRequest{Email: "ops@example.com", Password: "Secret123!"})
	require.NoError(t, err)
	promoted, err := h.admin.CreateSuperuser(ctx, "ops@example.com", "", "")
	require.NoError(t, err)
	assert.True(t, promoted.IsSuperuser)
	assert.True(t, promoted.IsVerified)
	assert.True(t, promoted.IsActive)

	_, err = h.admin.CreateSuperuser(ctx, "new@example.com", "weak", "")
	require.ErrorIs(t, err, ErrWeakPassword)
}
