package service

import (
	"sync"

	"sms-panel/internal/models"
	"sms-panel/internal/util"
)

// SessionStore is the single source of truth for the current session. It is
// a cache with load/save/rotate/clear semantics; no network calls originate
// here. Every mutation is persisted synchronously so a restart resumes the
// session without re-login.
type SessionStore struct {
	mu      sync.RWMutex
	store   Store
	session models.Session
}

func NewSessionStore(store Store) *SessionStore {
	return &SessionStore{
		store:   store,
		session: models.EmptySession(),
	}
}

// Load reads the persisted session at startup. Absent or malformed blobs
// fall back to logged-out defaults.
func (s *SessionStore) Load() models.Session {
	session, found, err := s.store.LoadSession()
	if err != nil {
		util.Warn("Could not load persisted session, starting logged out", util.ErrorField(err))
		session = models.EmptySession()
	}

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	if found && session.Authenticated {
		util.Info("Session restored",
			util.String("role", string(session.Role)),
			util.String("user_type", session.UserType),
		)
	}
	return session
}

// Current returns a copy of the session.
func (s *SessionStore) Current() models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Token returns the current bearer credential.
func (s *SessionStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.AccessToken
}

// Set replaces the session and persists it.
func (s *SessionStore) Set(session models.Session) error {
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()
	return s.store.SaveSession(session)
}

// Update applies a mutation under the store's lock and persists the result.
func (s *SessionStore) Update(mutate func(*models.Session)) error {
	s.mu.Lock()
	mutate(&s.session)
	session := s.session
	s.mu.Unlock()
	return s.store.SaveSession(session)
}

// RotateToken replaces the bearer credential in place, leaving role and
// quota fields untouched. Empty tokens are ignored so callers can pass the
// optional new_token field straight through.
func (s *SessionStore) RotateToken(newToken string) error {
	if newToken == "" {
		return nil
	}

	s.mu.Lock()
	s.session.AccessToken = newToken
	session := s.session
	s.mu.Unlock()

	util.Debug("Bearer token rotated")
	return s.store.SaveSession(session)
}

// Clear resets to logged-out defaults and removes the persisted copy.
func (s *SessionStore) Clear() error {
	s.mu.Lock()
	s.session = models.EmptySession()
	s.mu.Unlock()
	return s.store.ClearSession()
}
