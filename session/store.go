// Package session owns the "who is logged in" state: the current user
// snapshot, its listeners, and the restore/refresh lifecycle around
// the backend auth endpoints.
package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"framesense/backend"
	"framesense/host"
)

// Listener is notified with the new user on every identity change;
// nil means logged out.
type Listener func(user *backend.User)

// Store is the single source of truth for the authenticated user. It
// is a constructible service: create, use, and the subscriber list
// dies with it.
type Store struct {
	backend *backend.Client
	host    host.Commander
	log     *zap.Logger

	// fallbackPath is the local snapshot used when host storage is
	// unavailable (the host may not be attached yet at startup).
	fallbackPath string

	mu        sync.Mutex
	current   *backend.User
	listeners map[int]Listener
	nextID    int
}

// New constructs a session store. stateDir hosts the local fallback
// snapshot.
func New(client *backend.Client, commander host.Commander, stateDir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		backend:      client,
		host:         commander,
		log:          logger,
		fallbackPath: filepath.Join(stateDir, "user_session.json"),
		listeners:    make(map[int]Listener),
	}
	// A rejected refresh token means the session is unrecoverable; the
	// user snapshot must not survive to the next start.
	client.OnAuthFailure(s.expire)
	return s
}

// expire clears the local session after an unrecoverable auth failure.
// The tokens are already gone by the time this fires, so no backend
// round-trip is made.
func (s *Store) expire() {
	s.mu.Lock()
	hadUser := s.current != nil
	s.mu.Unlock()
	if !hadUser {
		return
	}
	s.log.Info("session expired, clearing local state")
	s.clearLocal()
}

// clearLocal drops the cached user and both persisted snapshots, then
// notifies listeners with nil.
func (s *Store) clearLocal() {
	if err := s.host.ClearSession(); err != nil {
		s.log.Warn("host session clear failed", zap.Error(err))
	}
	if err := os.Remove(s.fallbackPath); err != nil && !os.IsNotExist(err) {
		s.log.Warn("fallback snapshot removal failed", zap.Error(err))
	}

	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	s.notify(nil)
}

// Backend exposes the underlying API client for callers that need
// model/tier queries alongside session state.
func (s *Store) Backend() *backend.Client { return s.backend }

// CurrentUser returns the cached user snapshot, or nil when logged
// out.
func (s *Store) CurrentUser() *backend.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// AddListener registers cb for identity changes and returns its
// removal function.
func (s *Store) AddListener(cb Listener) (remove func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = cb
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// notify invokes every listener synchronously. A panicking listener
// must not prevent the others from being notified.
func (s *Store) notify(user *backend.User) {
	s.mu.Lock()
	cbs := make([]Listener, 0, len(s.listeners))
	for _, cb := range s.listeners {
		cbs = append(cbs, cb)
	}
	s.mu.Unlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Warn("session listener panicked", zap.Any("panic", r))
				}
			}()
			cb(user)
		}()
	}
}

// Login authenticates against the backend, persists the denormalized
// user snapshot, and synchronously notifies listeners before
// returning. Nothing is retained from a failed attempt.
func (s *Store) Login(ctx context.Context, email, password string) (*backend.User, error) {
	user, err := s.backend.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	s.persistSnapshot(user)

	s.mu.Lock()
	s.current = user
	s.mu.Unlock()

	s.notify(user)
	return user, nil
}

// Logout best-effort informs the backend, then unconditionally clears
// the in-memory token, the durable refresh token, and the persisted
// snapshot, then notifies listeners with nil. Idempotent.
func (s *Store) Logout(ctx context.Context) {
	if err := s.backend.Logout(ctx); err != nil {
		s.log.Warn("backend logout failed, clearing local session anyway", zap.Error(err))
	}

	s.backend.ClearTokens()
	s.clearLocal()
}

// LoadCurrentUser restores the session on startup, preferring the
// host-backed snapshot over the local fallback. On success the
// in-memory access token is re-primed. Never returns an error: any
// restoration failure yields nil and a nil notification.
func (s *Store) LoadCurrentUser(ctx context.Context) *backend.User {
	user, err := s.host.LoadSession()
	if err != nil || user == nil {
		if err != nil {
			s.log.Debug("host session load failed, trying fallback", zap.Error(err))
		}
		user = s.readFallback()
	}

	if user == nil {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
		s.notify(nil)
		return nil
	}

	s.backend.SetAccessToken(user.Token)

	s.mu.Lock()
	s.current = user
	s.mu.Unlock()

	s.notify(user)
	s.log.Info("session restored", zap.String("email", user.Email), zap.String("tier", user.Tier))
	return user
}

// RefreshUserStatus re-verifies the session against the backend (tier
// or usage may have changed server-side, e.g. after a payment). On
// failure the previous cached value is returned unchanged with no
// listener notification. Never returns an error.
func (s *Store) RefreshUserStatus(ctx context.Context) *backend.User {
	s.mu.Lock()
	prev := s.current
	s.mu.Unlock()

	if prev == nil {
		return nil
	}

	user, err := s.backend.Verify(ctx)
	if err != nil {
		s.log.Warn("user status refresh failed, keeping cached snapshot", zap.Error(err))
		return prev
	}

	if user.Tier != prev.Tier {
		s.log.Info("user tier updated", zap.String("from", prev.Tier), zap.String("to", user.Tier))
		s.persistSnapshot(user)
	}

	s.mu.Lock()
	s.current = user
	s.mu.Unlock()

	s.notify(user)
	return user
}

// DailyLimit exposes the tier-derived request quota for the current
// user; -1 means unlimited, 0 means logged out.
func (s *Store) DailyLimit() int {
	u := s.CurrentUser()
	if u == nil {
		return 0
	}
	return backend.DailyLimit(u.Tier)
}

func (s *Store) persistSnapshot(user *backend.User) {
	if err := s.host.SaveSession(user); err != nil {
		s.log.Warn("host session save failed", zap.Error(err))
	}
	if err := s.writeFallback(user); err != nil {
		s.log.Warn("fallback snapshot save failed", zap.Error(err))
	}
}

func (s *Store) writeFallback(user *backend.User) error {
	if err := os.MkdirAll(filepath.Dir(s.fallbackPath), 0700); err != nil {
		return err
	}
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return os.WriteFile(s.fallbackPath, data, 0600)
}

func (s *Store) readFallback() *backend.User {
	data, err := os.ReadFile(s.fallbackPath)
	if err != nil {
		return nil
	}
	var user backend.User
	if err := json.Unmarshal(data, &user); err != nil {
		s.log.Warn("fallback snapshot unreadable", zap.Error(err))
		return nil
	}
	if user.ID == "" || user.Token == "" {
		return nil
	}
	return &user
}
