package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framesense/secrets"
)

func TestLoginInstallsTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/login", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"success": true,
			"user": {"id":"u1","email":"a@b.c","name":"Ada","tier":"premium","usage_daily":3,"usage_total":40},
			"token": "access-1",
			"refresh_token": "refresh-1"
		}`))
	}))
	defer srv.Close()

	store := newMemStore()
	c := New(srv.URL, store, nil)

	user, err := c.Login(context.Background(), "a@b.c", "secret")
	require.NoError(t, err)

	assert.Equal(t, "a@b.c", user.Email)
	assert.Equal(t, "premium", user.Tier)
	assert.Equal(t, 3, user.Usage.Daily)
	assert.Equal(t, "access-1", c.AccessToken())

	refresh, err := store.Get(secrets.KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", refresh)
}

func TestLoginRejectedKeepsNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"success":false,"message":"bad credentials"}`))
	}))
	defer srv.Close()

	store := newMemStore()
	c := New(srv.URL, store, nil)

	_, err := c.Login(context.Background(), "a@b.c", "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)

	assert.Empty(t, c.AccessToken())
	_, err = store.Get(secrets.KeyRefreshToken)
	assert.ErrorIs(t, err, secrets.ErrNotFound)
}

func TestModelsFallbackWhenBackendUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:1", newMemStore(), nil)

	models, err := c.Models(context.Background(), "free")
	require.NoError(t, err)
	assert.Equal(t, FallbackModels("free"), models)
}

func TestModelsCachedPerTier(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "pro", r.URL.Query().Get("tier"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"models":["model-a","model-b"]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, newMemStore(), nil)

	first, err := c.Models(context.Background(), "pro")
	require.NoError(t, err)
	second, err := c.Models(context.Background(), "pro")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls, "second lookup served from cache")
}

func TestCanUseModel(t *testing.T) {
	c := New("http://127.0.0.1:1", newMemStore(), nil)
	ctx := context.Background()

	assert.True(t, c.CanUseModel(ctx, "free", "GPT-3.5-turbo"))
	assert.False(t, c.CanUseModel(ctx, "free", "GPT-4o"))
	assert.True(t, c.CanUseModel(ctx, "pro", "GPT-4o"))
}

func TestDailyLimitByTier(t *testing.T) {
	assert.Equal(t, 10, DailyLimit("free"))
	assert.Equal(t, 100, DailyLimit("premium"))
	assert.Equal(t, 500, DailyLimit("pro"))
	assert.Equal(t, -1, DailyLimit("enterprise"))
	assert.Equal(t, 10, DailyLimit("unknown"))
}
