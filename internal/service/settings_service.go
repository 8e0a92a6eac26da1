package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	redisrepo "sms-panel/internal/repository/redis"
	"sms-panel/internal/util"
)

// SettingsService caches the panel's remotely-managed endpoint URLs (the SMS
// provider URL and the backend's own public URL) plus local preferences like
// the theme. Reads hit the cache; mutations go to the backend first, then
// update the cache and the durable store.
type SettingsService struct {
	mu       sync.RWMutex
	backend  Backend
	sessions *SessionStore
	store    Store
	notifier *Notifier

	apiURL     string
	backendURL string
	theme      string
}

func NewSettingsService(backend Backend, sessions *SessionStore, store Store, notifier *Notifier) *SettingsService {
	return &SettingsService{
		backend:  backend,
		sessions: sessions,
		store:    store,
		notifier: notifier,
	}
}

// Load primes the cache from the durable store at startup.
func (s *SettingsService) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range []struct {
		name   string
		target *string
	}{
		{redisrepo.SettingAPIURL, &s.apiURL},
		{redisrepo.SettingBackendURL, &s.backendURL},
		{redisrepo.SettingTheme, &s.theme},
	} {
		value, err := s.store.GetSetting(entry.name)
		if err != nil {
			util.Warn("Could not load setting", util.String("setting", entry.name), util.ErrorField(err))
			continue
		}
		*entry.target = value
	}
}

// Refresh pulls both endpoint URLs from the backend concurrently and updates
// the cache and the durable store. Partial failure keeps the cached values.
func (s *SettingsService) Refresh(ctx context.Context) error {
	var apiURL, backendURL string

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := s.backend.GetAPIURL(ctx)
		if err != nil {
			return fmt.Errorf("api url: %w", err)
		}
		apiURL = v
		return nil
	})
	g.Go(func() error {
		v, err := s.backend.GetBackendURL(ctx)
		if err != nil {
			return fmt.Errorf("backend url: %w", err)
		}
		backendURL = v
		return nil
	})
	if err := g.Wait(); err != nil {
		util.Warn("Settings refresh incomplete", util.ErrorField(err))
		return classifyAuthError(err)
	}

	s.mu.Lock()
	s.apiURL = apiURL
	s.backendURL = backendURL
	s.mu.Unlock()

	s.persist(redisrepo.SettingAPIURL, apiURL)
	s.persist(redisrepo.SettingBackendURL, backendURL)
	return nil
}

// APIURL returns the cached SMS provider endpoint, "" when unconfigured.
func (s *SettingsService) APIURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiURL
}

func (s *SettingsService) BackendURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backendURL
}

func (s *SettingsService) Theme() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.theme == "" {
		return "dark"
	}
	return s.theme
}

// SetTheme is a purely local preference; it never touches the backend.
func (s *SettingsService) SetTheme(theme string) error {
	theme = strings.ToLower(strings.TrimSpace(theme))
	if theme != "dark" && theme != "light" {
		return fmt.Errorf("%w: theme must be dark or light", ErrValidation)
	}

	s.mu.Lock()
	s.theme = theme
	s.mu.Unlock()

	s.persist(redisrepo.SettingTheme, theme)
	return nil
}

// SetAPIURL updates the SMS provider endpoint on the backend, then locally.
func (s *SettingsService) SetAPIURL(ctx context.Context, rawURL string) error {
	rawURL, err := validateHTTPURL(rawURL)
	if err != nil {
		return err
	}

	res, err := s.backend.SetAPIURL(ctx, s.sessions.Token(), rawURL)
	if err != nil {
		wrapped := classifyAuthError(err)
		s.notifier.Error(userMessage(wrapped))
		return wrapped
	}
	s.applyRotation(res.NewToken)

	s.mu.Lock()
	s.apiURL = rawURL
	s.mu.Unlock()

	s.persist(redisrepo.SettingAPIURL, rawURL)
	s.notifier.Success("API URL updated")
	util.Info("API URL updated")
	return nil
}

// SetBackendURL updates the backend's advertised public URL.
func (s *SettingsService) SetBackendURL(ctx context.Context, rawURL string) error {
	rawURL, err := validateHTTPURL(rawURL)
	if err != nil {
		return err
	}

	res, err := s.backend.SetBackendURL(ctx, s.sessions.Token(), rawURL)
	if err != nil {
		wrapped := classifyAuthError(err)
		s.notifier.Error(userMessage(wrapped))
		return wrapped
	}
	s.applyRotation(res.NewToken)

	s.mu.Lock()
	s.backendURL = rawURL
	s.mu.Unlock()

	s.persist(redisrepo.SettingBackendURL, rawURL)
	s.notifier.Success("Backend URL updated")
	util.Info("Backend URL updated")
	return nil
}

func (s *SettingsService) persist(name, value string) {
	if err := s.store.SetSetting(name, value); err != nil {
		util.Warn("Setting not persisted", util.String("setting", name), util.ErrorField(err))
	}
}

func (s *SettingsService) applyRotation(newToken string) {
	if err := s.sessions.RotateToken(newToken); err != nil {
		util.Warn("Rotated token not persisted", util.ErrorField(err))
	}
}

func validateHTTPURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("%w: url is required", ErrValidation)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", fmt.Errorf("%w: url must be absolute http or https", ErrValidation)
	}
	return strings.TrimRight(rawURL, "/"), nil
}
