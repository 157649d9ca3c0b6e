package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framesense/secrets"
)

// memStore is an in-memory secrets.Store for tests.
type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: make(map[string]string)} }

func (m *memStore) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", secrets.ErrNotFound
	}
	return v, nil
}

func (m *memStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func TestWithRefreshRetriesExactlyOnceAfter401(t *testing.T) {
	var protectedCalls, refreshCalls int

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"token":"new-access","refresh_token":"new-refresh"}`))
	})
	mux.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
		protectedCalls++
		if r.Header.Get("Authorization") != "Bearer new-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("ok"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newMemStore()
	require.NoError(t, store.Set(secrets.KeyRefreshToken, "old-refresh"))
	c := New(srv.URL, store, nil)
	c.SetAccessToken("stale-access")

	resp, err := c.WithRefresh(context.Background(), func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/protected", nil)
		if err != nil {
			return nil, err
		}
		c.authorize(req)
		return c.http.Do(req)
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, protectedCalls, "original request retried exactly once")
	assert.Equal(t, 1, refreshCalls, "exactly one refresh cycle")
	assert.Equal(t, "new-access", c.AccessToken())

	rotated, err := store.Get(secrets.KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "new-refresh", rotated)
}

func TestWithRefreshRejectionClearsSession(t *testing.T) {
	var protectedCalls int

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":false,"message":"revoked"}`))
	})
	mux.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
		protectedCalls++
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newMemStore()
	require.NoError(t, store.Set(secrets.KeyRefreshToken, "revoked-refresh"))
	c := New(srv.URL, store, nil)
	c.SetAccessToken("stale-access")

	_, err := c.WithRefresh(context.Background(), func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/protected", nil)
		if err != nil {
			return nil, err
		}
		c.authorize(req)
		return c.http.Do(req)
	})
	require.ErrorIs(t, err, ErrRefreshRejected)

	assert.Equal(t, 1, protectedCalls, "no retry after a failed refresh")
	assert.Empty(t, c.AccessToken())
	_, err = store.Get(secrets.KeyRefreshToken)
	assert.ErrorIs(t, err, secrets.ErrNotFound)
}

func TestRefreshTokenWithoutDurableToken(t *testing.T) {
	c := New("http://127.0.0.1:0", newMemStore(), nil)
	c.SetAccessToken("whatever")

	_, err := c.RefreshToken(context.Background())
	require.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Empty(t, c.AccessToken())
}

func TestWithRefreshProactiveOnExpiredJWT(t *testing.T) {
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)

	var refreshCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"token":"fresh-access"}`))
	})
	mux.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newMemStore()
	require.NoError(t, store.Set(secrets.KeyRefreshToken, "valid-refresh"))
	c := New(srv.URL, store, nil)
	c.SetAccessToken(expired)

	var seenToken string
	resp, err := c.WithRefresh(context.Background(), func(ctx context.Context) (*http.Response, error) {
		seenToken = c.AccessToken()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/protected", nil)
		if err != nil {
			return nil, err
		}
		return c.http.Do(req)
	})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 1, refreshCalls, "refresh happens before the first attempt")
	assert.Equal(t, "fresh-access", seenToken)
}

func TestTokenExpiredTreatsOpaqueTokenAsValid(t *testing.T) {
	c := New("http://127.0.0.1:0", newMemStore(), nil)

	c.SetAccessToken("")
	assert.False(t, c.tokenExpired())

	c.SetAccessToken("opaque-session-token")
	assert.False(t, c.tokenExpired())

	future, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)
	c.SetAccessToken(future)
	assert.False(t, c.tokenExpired())
}
