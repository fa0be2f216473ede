// Package cvforgeauth is the client used by other CV services to authenticate
// requests against cvforge-auth.
package cvforgeauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config holds the configuration for the client.
type Config struct {
	// BaseURL is the root URL of the auth service, e.g. "https://auth.cvforge.io".
	BaseURL string

	// CacheTTL bounds how long a verified token is trusted without asking the
	// auth service again. Entries never outlive the token itself. Zero disables
	// caching. Default: 30 seconds
	CacheTTL time.Duration

	// HTTPClient is an optional custom HTTP client.
	// If nil, a default client with 10s timeout is used.
	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.CacheTTL == 0 {
		c.CacheTTL = 30 * time.Second
	}
	if c.CacheTTL < 0 {
		c.CacheTTL = 0
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
}

// Client calls the cvforge-auth HTTP API
type Client struct {
	cfg   Config
	cache *tokenCache
	now   func() time.Time
}

// NewClient creates a new client with the given configuration.
func NewClient(cfg Config) *Client {
	cfg.defaults()
	return &Client{
		cfg:   cfg,
		cache: newTokenCache(),
		now:   time.Now,
	}
}

// VerifyToken validates an access token with GET /auth/verify. Results are
// cached for CacheTTL or until the token expires, whichever comes first.
func (c *Client) VerifyToken(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrNoToken
	}

	now := c.now()
	if c.cfg.CacheTTL > 0 {
		if id, ok := c.cache.get(token, now); ok {
			return id, nil
		}
	}

	body, err := c.do(ctx, http.MethodGet, "/auth/verify", nil, token)
	if err != nil {
		return nil, err
	}

	var id Identity
	if err := json.Unmarshal(body, &id); err != nil {
		return nil, fmt.Errorf("cvforgeauth: failed to parse identity: %w", err)
	}

	if c.cfg.CacheTTL > 0 {
		until := now.Add(c.cfg.CacheTTL)
		if id.ExpiresAt.Before(until) {
			until = id.ExpiresAt
		}
		c.cache.set(token, &id, until, now)
	}
	return &id, nil
}

// InvalidateToken removes a token from the local cache.
func (c *Client) InvalidateToken(token string) {
	c.cache.delete(token)
}

// InvalidateUser removes every cached token of a user.
func (c *Client) InvalidateUser(userID string) int {
	return c.cache.deleteUser(userID)
}

// Login authenticates with the OAuth2 password form fields.
func (c *Client) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	form := url.Values{"username": {email}, "password": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("cvforgeauth: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.send(req)
	if err != nil {
		return nil, err
	}

	var pair TokenPair
	if err := json.Unmarshal(body, &pair); err != nil {
		return nil, fmt.Errorf("cvforgeauth: failed to parse login response: %w", err)
	}
	return &pair, nil
}

// Register creates a new account. The account may need email verification
// before it can log in.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	body, err := c.do(ctx, http.MethodPost, "/auth/register", req, "")
	if err != nil {
		return nil, err
	}

	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("cvforgeauth: failed to parse register response: %w", err)
	}
	return &user, nil
}

// Refresh exchanges a refresh token for a new pair. The old refresh token
// stops working.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	body, err := c.do(ctx, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": refreshToken}, "")
	if err != nil {
		return nil, err
	}

	var pair TokenPair
	if err := json.Unmarshal(body, &pair); err != nil {
		return nil, fmt.Errorf("cvforgeauth: failed to parse refresh response: %w", err)
	}
	return &pair, nil
}

// Logout revokes refreshToken and drops accessToken from the cache.
func (c *Client) Logout(ctx context.Context, accessToken, refreshToken string) error {
	_, err := c.do(ctx, http.MethodPost, "/auth/logout", map[string]string{"refresh_token": refreshToken}, accessToken)
	c.cache.delete(accessToken)
	return err
}

// Me returns the profile of the token subject.
func (c *Client) Me(ctx context.Context, accessToken string) (*User, error) {
	body, err := c.do(ctx, http.MethodGet, "/users/me", nil, accessToken)
	if err != nil {
		return nil, err
	}

	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("cvforgeauth: failed to parse user: %w", err)
	}
	return &user, nil
}

// do sends a JSON request to the auth API.
func (c *Client) do(ctx context.Context, method, path string, payload any, token string) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("cvforgeauth: failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("cvforgeauth: failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.send(req)
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cvforgeauth: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("cvforgeauth: failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}
