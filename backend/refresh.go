package backend

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"framesense/secrets"
)

// RequestFunc issues one attempt of a protected request. It must build
// the request from scratch so a retry picks up the refreshed access
// token (and re-creates any consumed body).
type RequestFunc func(ctx context.Context) (*http.Response, error)

// WithRefresh invokes fn; on an unauthorized response it performs
// exactly one token-refresh cycle and re-invokes fn exactly once,
// returning that second result as-is. Any other status or transport
// error passes through unmodified.
//
// When the in-memory access token is already known to be expired, the
// refresh happens before the first attempt instead of burning a
// round-trip on a guaranteed 401.
func (c *Client) WithRefresh(ctx context.Context, fn RequestFunc) (*http.Response, error) {
	if c.tokenExpired() {
		if _, err := c.RefreshToken(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	if _, err := c.RefreshToken(ctx); err != nil {
		return nil, err
	}
	return fn(ctx)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	Success      bool    `json:"success"`
	Token        *string `json:"token"`
	RefreshToken *string `json:"refresh_token"`
	Message      *string `json:"message"`
}

// RefreshToken exchanges the durable refresh token for a new access
// token. Safe to call with no active session (ErrNoRefreshToken). On
// rejection the durable token is cleared and the in-memory access
// token is never left partially updated: failure clears it.
func (c *Client) RefreshToken(ctx context.Context) (string, error) {
	refresh, err := c.secrets.Get(secrets.KeyRefreshToken)
	if err != nil {
		c.SetAccessToken("")
		return "", ErrNoRefreshToken
	}

	var out refreshResponse
	status, err := c.postJSON(ctx, "/auth/refresh", refreshRequest{RefreshToken: refresh}, "", &out)
	if err != nil {
		c.SetAccessToken("")
		return "", fmt.Errorf("refresh request: %w", err)
	}
	if status != http.StatusOK || !out.Success || out.Token == nil {
		// Treat the stored token as invalidated.
		c.SetAccessToken("")
		if derr := c.secrets.Delete(secrets.KeyRefreshToken); derr != nil {
			c.log.Warn("failed to clear rejected refresh token", zap.Error(derr))
		}
		c.notifyAuthFailure()
		return "", ErrRefreshRejected
	}

	c.SetAccessToken(*out.Token)
	if out.RefreshToken != nil && *out.RefreshToken != "" {
		// Backend rotated the refresh token; overwrite the durable one.
		if serr := c.secrets.Set(secrets.KeyRefreshToken, *out.RefreshToken); serr != nil {
			c.log.Warn("failed to persist rotated refresh token", zap.Error(serr))
		}
	}
	c.log.Debug("access token refreshed")
	return *out.Token, nil
}

// tokenExpired reports whether the in-memory access token is a JWT
// whose exp claim has passed. Opaque or unparsable tokens are assumed
// valid; the server remains the authority either way.
func (c *Client) tokenExpired() bool {
	token := c.AccessToken()
	if token == "" {
		return false
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}
