package service

import (
	"time"

	"sms-panel/internal/config"
	"sms-panel/internal/util"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	backend Backend
	store   Store
	cfg     *config.Config

	sessions *SessionStore
	notifier *Notifier
	idle     *IdleTimer
	auth     *AuthService
	admin    *AdminService
	send     *SendService
	settings *SettingsService
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(backend Backend, store Store, cfg *config.Config) *ServiceFactory {
	return &ServiceFactory{
		backend: backend,
		store:   store,
		cfg:     cfg,
	}
}

// Bootstrap primes all services from the durable store: restores a persisted
// session (restarting its idle countdown), reloads send history and settings.
func (f *ServiceFactory) Bootstrap() {
	f.SettingsService().Load()
	f.SendService().Load()
	f.AuthService().Restore()
}

func (f *ServiceFactory) SessionStore() *SessionStore {
	if f.sessions == nil {
		f.sessions = NewSessionStore(f.store)
	}
	return f.sessions
}

func (f *ServiceFactory) Notifier() *Notifier {
	if f.notifier == nil {
		f.notifier = NewNotifier(f.cfg.Toast.TTL)
	}
	return f.notifier
}

// IdleTimer returns the session inactivity timer. Expiry forces a logout;
// the warning window surfaces as a toast plus polled countdown state.
func (f *ServiceFactory) IdleTimer() *IdleTimer {
	if f.idle == nil {
		f.idle = NewIdleTimer(f.cfg.Session.IdleTimeout, f.cfg.Session.WarnBefore, IdleHooks{
			OnWarning: func(remaining time.Duration) {
				f.Notifier().Info("Session expiring soon from inactivity")
			},
			OnExpire: func() {
				f.Notifier().Info("Session expired from inactivity")
				f.AuthService().Logout()
			},
		})
	}
	return f.idle
}

func (f *ServiceFactory) AuthService() *AuthService {
	if f.auth == nil {
		f.auth = NewAuthService(f.backend, f.SessionStore(), f.IdleTimer(), f.Notifier(), f.AdminService())
	}
	return f.auth
}

func (f *ServiceFactory) AdminService() *AdminService {
	if f.admin == nil {
		f.admin = NewAdminService(f.backend, f.SessionStore(), f.Notifier())
	}
	return f.admin
}

func (f *ServiceFactory) SendService() *SendService {
	if f.send == nil {
		f.send = NewSendService(f.backend, f.SessionStore(), f.SettingsService(), f.store, f.Notifier(), f.cfg.Backend.SenderEmail)
	}
	return f.send
}

func (f *ServiceFactory) SettingsService() *SettingsService {
	if f.settings == nil {
		f.settings = NewSettingsService(f.backend, f.SessionStore(), f.store, f.Notifier())
	}
	return f.settings
}

// Cleanup stops the background timers. Persisted state is left in place so
// the next start can resume the session.
func (f *ServiceFactory) Cleanup() {
	if f.idle != nil {
		f.idle.Stop()
	}
	if f.notifier != nil {
		f.notifier.Stop()
	}
	util.Debug("Services cleaned up")
}
