package service

import (
	"context"
	"errors"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvforge/cvforge-auth/internal/config"
	"github.com/cvforge/cvforge-auth/internal/metrics"
	"github.com/cvforge/cvforge-auth/internal/model"
	"github.com/cvforge/cvforge-auth/internal/testutil"
)

func strPtr(s string) *string { return &s }

func TestAuditService_RecordBestEffort(t *testing.T) {
	store := testutil.NewMemStore()
	m := metrics.New()
	svc := NewAuditService(store, m, config.AuditConfig{}, testutil.NewLogger(t))

	svc.Record(context.Background(), AuditEvent{
		Action: model.AuditActionLogin,
		UserID: "u1",
		Client: ClientInfo{IPAddress: "10.0.0.1"},
	})
	entries := store.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "u1", *entries[0].UserID)
	assert.Equal(t, "10.0.0.1", *entries[0].IPAddress)
	assert.Nil(t, entries[0].UserAgent)

	store.AuditErr = errors.New("disk full")
	svc.Record(context.Background(), AuditEvent{Action: model.AuditActionLoginFailed})
	assert.Len(t, store.AuditEntries(), 1)
	assert.Equal(t, 1.0, promtest.ToFloat64(m.AuditWriteFailures))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.AuthEvents.WithLabelValues(model.AuditActionLoginFailed)))
}

func TestAuditService_AsyncDrainsOnClose(t *testing.T) {
	store := testutil.NewMemStore()
	svc := NewAuditService(store, metrics.New(), config.AuditConfig{Async: true, BufferSize: 64}, testutil.NewLogger(t))

	for range 20 {
		svc.Record(context.Background(), AuditEvent{Action: model.AuditActionTokenRefresh})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Close(ctx))
	assert.Len(t, store.AuditEntries(), 20)

	svc.Record(context.Background(), AuditEvent{Action: model.AuditActionLogout})
	assert.Len(t, store.AuditEntries(), 21, "records after close are written synchronously")
	require.NoError(t, svc.Close(ctx))
}

func TestAuditService_QueryAndSummarize(t *testing.T) {
	store := testutil.NewMemStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewAuditService(store, metrics.New(), config.AuditConfig{}, testutil.NewLogger(t))
	svc.now = func() time.Time { return now }

	add := func(action, user string, age time.Duration) {
		e := model.AuditLog{ID: action + user + age.String(), Action: action, CreatedAt: now.Add(-age)}
		if user != "" {
			e.UserID = strPtr(user)
		}
		store.AppendAudit(e)
	}
	add(model.AuditActionLogin, "u1", time.Hour)
	add(model.AuditActionLogin, "u1", 2*time.Hour)
	add(model.AuditActionLoginFailed, "u2", 3*time.Hour)
	add(model.AuditActionLoginFailed, "", 4*time.Hour)
	add(model.AuditActionRateLimit, "", 5*time.Hour)
	add(model.AuditActionLogin, "u3", 48*time.Hour)

	summary, err := svc.Summarize(context.Background(), 24*time.Hour, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 2, summary.FailedAuth)
	assert.Equal(t, 2, summary.ActionCounts[model.AuditActionLogin])
	require.NotEmpty(t, summary.TopUsers)
	assert.Equal(t, model.UserActivity{UserID: "u1", Count: 2}, summary.TopUsers[0])

	failed, err := svc.Query(context.Background(), model.AuditFilter{ActionPrefix: model.FailedActionPrefix})
	require.NoError(t, err)
	assert.Len(t, failed, 2)

	from, to := now, now.Add(-time.Hour)
	_, err = svc.Query(context.Background(), model.AuditFilter{From: &from, To: &to})
	require.ErrorIs(t, err, ErrInvalidInput)

	purged, err := svc.Purge(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	actions := store.AuditActions()
	assert.Equal(t, model.AuditActionSystemAuditPurge, actions[len(actions)-1])
}
