// Package backend implements the HTTP client for the FrameSense API:
// authentication, token refresh, the analyze streaming endpoint, and
// the tier-gated model catalog.
package backend

import "errors"

// Sentinel errors used for stable mapping at the session/UI layer.
var (
	// ErrUnauthorized indicates the backend rejected the credentials or
	// the access token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoRefreshToken indicates a refresh was requested but no
	// refresh token exists in durable storage.
	ErrNoRefreshToken = errors.New("no refresh token")

	// ErrRefreshRejected indicates the backend refused the refresh
	// token; the stored token has been cleared.
	ErrRefreshRejected = errors.New("refresh rejected")
)
