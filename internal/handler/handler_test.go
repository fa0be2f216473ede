package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvforge/cvforge-auth/internal/config"
	"github.com/cvforge/cvforge-auth/internal/service"
	"github.com/cvforge/cvforge-auth/internal/testutil"
)

type errorBody struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func TestServiceError(t *testing.T) {
	cfg := config.Default()
	h := New(Services{}, nil, testutil.NewLogger(t), cfg)

	tests := []struct {
		err         error
		tokenStatus int
		status      int
		code        string
	}{
		{service.ErrInvalidCredentials, http.StatusUnauthorized, http.StatusUnauthorized, "invalid_credentials"},
		{service.ErrInactiveUser, http.StatusUnauthorized, http.StatusForbidden, "inactive_user"},
		{service.ErrEmailAlreadyExists, http.StatusBadRequest, http.StatusBadRequest, "email_exists"},
		{service.ErrInvalidOrExpiredToken, http.StatusUnauthorized, http.StatusUnauthorized, "invalid_token"},
		{service.ErrInvalidOrExpiredToken, http.StatusBadRequest, http.StatusBadRequest, "invalid_token"},
		{fmt.Errorf("%w: too short", service.ErrWeakPassword), http.StatusBadRequest, http.StatusBadRequest, "weak_password"},
		{service.ErrPermissionDenied, http.StatusBadRequest, http.StatusForbidden, "forbidden"},
		{service.ErrUserNotFound, http.StatusBadRequest, http.StatusNotFound, "user_not_found"},
		{service.ErrSessionNotFound, http.StatusBadRequest, http.StatusNotFound, "session_not_found"},
		{service.ErrRateLimitExceeded, http.StatusBadRequest, http.StatusTooManyRequests, "rate_limit_exceeded"},
		{errors.New("connection refused"), http.StatusBadRequest, http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.serviceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err, tt.tokenStatus)

			assert.Equal(t, tt.status, rec.Code)
			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}

func TestServiceError_DebugDetails(t *testing.T) {
	cfg := config.Default()
	h := New(Services{}, nil, testutil.NewLogger(t), cfg)
	boom := errors.New("pq: relation \"users\" does not exist")

	rec := httptest.NewRecorder()
	h.serviceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), boom, http.StatusBadRequest)
	assert.NotContains(t, rec.Body.String(), "relation")

	cfg.Server.Debug = true
	rec = httptest.NewRecorder()
	h.serviceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), boom, http.StatusBadRequest)
	assert.Contains(t, rec.Body.String(), "relation")
}

func TestBind(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		var req registerRequest
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@example.com","password":"Secret123!"}`))
		assert.True(t, bind(httptest.NewRecorder(), r, &req))
		assert.Equal(t, "a@example.com", req.Email)
	})

	t.Run("malformed json", func(t *testing.T) {
		var req registerRequest
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":`))
		assert.False(t, bind(rec, r, &req))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("field errors use json names", func(t *testing.T) {
		var req registerRequest
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"nope"}`))
		assert.False(t, bind(rec, r, &req))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		var body errorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "validation_error", body.Error.Code)
		assert.Equal(t, "Must be a valid email address", body.Error.Fields["email"])
		assert.Equal(t, "This field is required", body.Error.Fields["password"])
	})
}

func TestIsForm(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	assert.True(t, isForm(r))

	r.Header.Set("Content-Type", "application/json")
	assert.False(t, isForm(r))

	r.Header.Del("Content-Type")
	assert.False(t, isForm(r))
}
