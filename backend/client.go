package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"framesense/secrets"
)

const (
	modelCacheTTL     = 5 * time.Minute
	modelCacheCleanup = 10 * time.Minute
)

// Client talks to the FrameSense backend. The access token lives only
// in memory; the refresh token only in the secrets store.
type Client struct {
	baseURL string
	http    *http.Client
	secrets secrets.Store
	log     *zap.Logger

	mu          sync.Mutex
	accessToken string
	authFailure func()

	modelCache *gocache.Cache
}

// New constructs a backend client.
func New(baseURL string, store secrets.Store, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		http:       &http.Client{Timeout: 60 * time.Second},
		secrets:    store,
		log:        logger,
		modelCache: gocache.New(modelCacheTTL, modelCacheCleanup),
	}
}

// AccessToken returns the in-memory access token, or "" when no
// session is active.
func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// SetAccessToken primes the in-memory access token, e.g. after a
// session snapshot restore.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.accessToken = token
	c.mu.Unlock()
}

// OnAuthFailure registers a callback invoked when the refresh token is
// rejected, i.e. the session is unrecoverable. May be called from any
// goroutine issuing requests.
func (c *Client) OnAuthFailure(fn func()) {
	c.mu.Lock()
	c.authFailure = fn
	c.mu.Unlock()
}

func (c *Client) notifyAuthFailure() {
	c.mu.Lock()
	fn := c.authFailure
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// ClearTokens drops the in-memory access token and the durable refresh
// token. Used on logout and on unrecoverable auth failure.
func (c *Client) ClearTokens() {
	c.mu.Lock()
	c.accessToken = ""
	c.mu.Unlock()
	if err := c.secrets.Delete(secrets.KeyRefreshToken); err != nil {
		c.log.Warn("failed to clear refresh token", zap.Error(err))
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates and installs the returned tokens: access token
// in memory, refresh token (when issued) in the secrets store. Nothing
// is retained from a failed attempt.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	var auth authResponse
	status, err := c.postJSON(ctx, "/auth/login", loginRequest{Email: email, Password: password}, "", &auth)
	if err != nil {
		return nil, fmt.Errorf("login request: %w", err)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, ErrUnauthorized
	}
	if status != http.StatusOK || !auth.Success {
		if auth.Message != nil {
			return nil, fmt.Errorf("login failed: %s", *auth.Message)
		}
		return nil, fmt.Errorf("login failed: status %d", status)
	}
	if auth.User == nil || auth.Token == nil {
		return nil, fmt.Errorf("login failed: invalid response format")
	}

	c.SetAccessToken(*auth.Token)
	if auth.RefreshToken != nil && *auth.RefreshToken != "" {
		if err := c.secrets.Set(secrets.KeyRefreshToken, *auth.RefreshToken); err != nil {
			c.log.Warn("failed to persist refresh token", zap.Error(err))
		}
	}

	user := auth.toUser(*auth.Token)
	c.log.Info("user logged in", zap.String("email", user.Email), zap.String("tier", user.Tier))
	return user, nil
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Logout informs the backend that the session ends. The refresh token
// is sent so the backend can revoke it; local clearing is the caller's
// responsibility and happens regardless of this call's outcome.
func (c *Client) Logout(ctx context.Context) error {
	refresh, err := c.secrets.Get(secrets.KeyRefreshToken)
	if err != nil {
		refresh = ""
	}
	status, err := c.postJSON(ctx, "/auth/logout", logoutRequest{RefreshToken: refresh}, c.AccessToken(), nil)
	if err != nil {
		return fmt.Errorf("logout request: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("logout failed: status %d", status)
	}
	return nil
}

// Verify re-validates the current access token and returns the fresh
// account snapshot. Runs under WithRefresh so an expired access token
// is recovered transparently.
func (c *Client) Verify(ctx context.Context) (*User, error) {
	resp, err := c.WithRefresh(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/verify", nil)
		if err != nil {
			return nil, err
		}
		c.authorize(req)
		return c.http.Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("verify failed: status %d", resp.StatusCode)
	}

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return nil, fmt.Errorf("verify parse: %w", err)
	}
	if !auth.Success || auth.User == nil {
		return nil, ErrUnauthorized
	}
	return auth.toUser(c.AccessToken()), nil
}

// Models lists the model identifiers available to a tier. Responses
// are cached per tier; the static catalog serves as fallback when the
// backend is unreachable.
func (c *Client) Models(ctx context.Context, tier string) ([]string, error) {
	if cached, ok := c.modelCache.Get(tier); ok {
		return cached.([]string), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models?tier="+tier, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("model listing unavailable, using fallback catalog", zap.Error(err))
		return FallbackModels(tier), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn("model listing rejected, using fallback catalog", zap.Int("status", resp.StatusCode))
		return FallbackModels(tier), nil
	}

	var payload struct {
		Models []string `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || len(payload.Models) == 0 {
		return FallbackModels(tier), nil
	}

	c.modelCache.Set(tier, payload.Models, gocache.DefaultExpiration)
	return payload.Models, nil
}

// CanUseModel reports whether a tier grants access to a model.
func (c *Client) CanUseModel(ctx context.Context, tier, model string) bool {
	models, err := c.Models(ctx, tier)
	if err != nil {
		models = FallbackModels(tier)
	}
	for _, m := range models {
		if m == model {
			return true
		}
	}
	return false
}

func (c *Client) authorize(req *http.Request) {
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// postJSON posts a JSON body and optionally decodes a JSON response
// into out. Returns the HTTP status code.
func (c *Client) postJSON(ctx context.Context, path string, body any, bearer string, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
