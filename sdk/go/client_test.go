package cvforgeauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodToken = "good-token"

type fakeAuth struct {
	verifyCalls atomic.Int32
	expiresAt   time.Time
}

func (f *fakeAuth) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/verify", func(w http.ResponseWriter, r *http.Request) {
		f.verifyCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+goodToken {
			writeAuthJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]string{"code": "invalid_token", "message": "Invalid or expired token"},
			})
			return
		}
		writeAuthJSON(w, http.StatusOK, Identity{UserID: "u-1", Email: "ada@cvforge.io", ExpiresAt: f.expiresAt})
	})
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("username") != "ada@cvforge.io" || r.FormValue("password") != "s3cret-pass" {
			writeAuthJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]string{"code": "invalid_credentials", "message": "Incorrect email or password"},
			})
			return
		}
		writeAuthJSON(w, http.StatusOK, TokenPair{AccessToken: goodToken, RefreshToken: "r-1", TokenType: "bearer", ExpiresIn: 1800})
	})
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeAuthJSON(w, http.StatusOK, TokenPair{AccessToken: goodToken, RefreshToken: body["refresh_token"] + "-next", TokenType: "bearer"})
	})
	mux.HandleFunc("POST /auth/register", func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeAuthJSON(w, http.StatusCreated, User{ID: "u-2", Email: req.Email, FullName: req.Name, Roles: []string{"user"}})
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		writeAuthJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
	})
	mux.HandleFunc("GET /users/me", func(w http.ResponseWriter, r *http.Request) {
		writeAuthJSON(w, http.StatusOK, User{ID: "u-1", Email: "ada@cvforge.io", Roles: []string{"user", "premium"}})
	})
	return mux
}

func writeAuthJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, ttl time.Duration) (*Client, *fakeAuth) {
	t.Helper()
	fake := &fakeAuth{expiresAt: time.Now().Add(time.Hour).UTC()}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/", CacheTTL: ttl}), fake
}

func TestVerifyToken_Cached(t *testing.T) {
	client, fake := newTestClient(t, time.Minute)
	ctx := context.Background()

	id, err := client.VerifyToken(ctx, goodToken)
	require.NoError(t, err)
	assert.Equal(t, "u-1", id.UserID)
	assert.Equal(t, "ada@cvforge.io", id.Email)

	_, err = client.VerifyToken(ctx, goodToken)
	require.NoError(t, err)
	assert.EqualValues(t, 1, fake.verifyCalls.Load())

	client.InvalidateToken(goodToken)
	_, err = client.VerifyToken(ctx, goodToken)
	require.NoError(t, err)
	assert.EqualValues(t, 2, fake.verifyCalls.Load())
}

func TestVerifyToken_CacheBoundedByExpiry(t *testing.T) {
	client, fake := newTestClient(t, time.Hour)
	fake.expiresAt = time.Now().Add(-time.Second)

	_, err := client.VerifyToken(context.Background(), goodToken)
	require.NoError(t, err)
	_, err = client.VerifyToken(context.Background(), goodToken)
	require.NoError(t, err)
	assert.EqualValues(t, 2, fake.verifyCalls.Load())
}

func TestVerifyToken_Errors(t *testing.T) {
	client, _ := newTestClient(t, time.Minute)

	_, err := client.VerifyToken(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = client.VerifyToken(context.Background(), "bad")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	apiErr, ok := IsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "invalid_token", apiErr.Code)
}

func TestLoginRefreshLogout(t *testing.T) {
	client, _ := newTestClient(t, time.Minute)
	ctx := context.Background()

	pair, err := client.Login(ctx, "ada@cvforge.io", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, goodToken, pair.AccessToken)
	assert.Equal(t, "bearer", pair.TokenType)

	_, err = client.Login(ctx, "ada@cvforge.io", "wrong")
	apiErr, ok := IsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "invalid_credentials", apiErr.Code)

	next, err := client.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "r-1-next", next.RefreshToken)

	_, err = client.VerifyToken(ctx, goodToken)
	require.NoError(t, err)
	require.Equal(t, 1, client.cache.len())
	require.NoError(t, client.Logout(ctx, goodToken, next.RefreshToken))
	assert.Equal(t, 0, client.cache.len())
}

func TestRegisterAndMe(t *testing.T) {
	client, _ := newTestClient(t, time.Minute)
	ctx := context.Background()

	user, err := client.Register(ctx, RegisterRequest{Email: "grace@cvforge.io", Password: "s3cret-pass", Name: "Grace"})
	require.NoError(t, err)
	assert.Equal(t, "Grace", user.FullName)

	me, err := client.Me(ctx, goodToken)
	require.NoError(t, err)
	assert.True(t, me.HasRole("premium"))
	assert.False(t, me.HasRole("admin"))
}

func TestParseAPIError_NonEnvelope(t *testing.T) {
	err := parseAPIError(http.StatusBadGateway, []byte("upstream down"))
	apiErr, ok := IsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "unknown", apiErr.Code)
	assert.Equal(t, "upstream down", apiErr.Message)
}

func TestMiddleware(t *testing.T) {
	client, _ := newTestClient(t, time.Minute)
	protected := client.Middleware(MiddlewareConfig{SkipPaths: []string{"/health"}, CookieName: "cv_access"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := GetIdentity(r.Context())
			if id == nil {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			_, _ = w.Write([]byte(id.UserID))
		}),
	)

	tests := []struct {
		name   string
		path   string
		setup  func(r *http.Request)
		status int
		body   string
	}{
		{name: "bearer", path: "/cv", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+goodToken) }, status: http.StatusOK, body: "u-1"},
		{name: "cookie", path: "/cv", setup: func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "cv_access", Value: goodToken}) }, status: http.StatusOK, body: "u-1"},
		{name: "missing", path: "/cv", setup: func(*http.Request) {}, status: http.StatusUnauthorized},
		{name: "wrong scheme", path: "/cv", setup: func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }, status: http.StatusUnauthorized},
		{name: "invalid", path: "/cv", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, status: http.StatusUnauthorized},
		{name: "skipped", path: "/health", setup: func(*http.Request) {}, status: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestMiddleware_UpstreamDown(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1", CacheTTL: -1})
	h := client.Middleware(MiddlewareConfig{})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/cv", nil)
	req.Header.Set("Authorization", "Bearer "+goodToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestWatchLogouts(t *testing.T) {
	client, _ := newTestClient(t, time.Minute)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	_, err := client.VerifyToken(context.Background(), goodToken)
	require.NoError(t, err)
	require.Equal(t, 1, client.cache.len())

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan LogoutEvent, 1)
	done := make(chan error, 1)
	go func() { done <- client.WatchLogouts(ctx, rdb, func(e LogoutEvent) { events <- e }) }()

	payload, _ := json.Marshal(LogoutEvent{Type: "user", UserID: "u-1", Reason: "logout_all"})
	require.Eventually(t, func() bool {
		return rdb.Publish(context.Background(), LogoutChannel, payload).Val() > 0
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case e := <-events:
		assert.Equal(t, "u-1", e.UserID)
		assert.Equal(t, "logout_all", e.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("no logout event received")
	}
	assert.Equal(t, 0, client.cache.len())

	cancel()
	select {
	case err := <-done:
		assert.False(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
