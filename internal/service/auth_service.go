package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sms-panel/internal/client"
	"sms-panel/internal/models"
	"sms-panel/internal/util"
)

// AuthState is the panel's authentication lifecycle state.
type AuthState string

const (
	StateLoggedOut        AuthState = "logged_out"
	StateAuthenticating   AuthState = "authenticating"
	StateTwoFactorPending AuthState = "two_factor_pending"
	StateLoggedIn         AuthState = "logged_in"
)

// TwoFactorProvisioning is handed to the caller while 2FA enrollment is in
// progress: the QR code payload to scan and the manual-entry secret.
type TwoFactorProvisioning struct {
	QRCode string `json:"qr_code"`
	Secret string `json:"secret"`
}

// AuthService drives the login, two-factor and logout flows. All state
// transitions happen under one mutex; network calls are made outside it so a
// slow backend never blocks reads of the current state.
type AuthService struct {
	mu       sync.Mutex
	backend  Backend
	sessions *SessionStore
	idle     *IdleTimer
	notifier *Notifier
	admin    *AdminService

	state        AuthState
	pending      *models.PendingTwoFactor
	setupPending bool

	warmupTimeout time.Duration
}

func NewAuthService(backend Backend, sessions *SessionStore, idle *IdleTimer, notifier *Notifier, admin *AdminService) *AuthService {
	return &AuthService{
		backend:       backend,
		sessions:      sessions,
		idle:          idle,
		notifier:      notifier,
		admin:         admin,
		state:         StateLoggedOut,
		warmupTimeout: 30 * time.Second,
	}
}

// Restore resumes a persisted session at startup. A restored session starts
// a fresh idle countdown; no network call is made.
func (s *AuthService) Restore() {
	session := s.sessions.Load()
	if !session.Authenticated {
		return
	}

	s.mu.Lock()
	s.state = StateLoggedIn
	s.mu.Unlock()

	s.idle.Start()
}

// State returns the current lifecycle state.
func (s *AuthService) State() AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Session returns a copy of the current session.
func (s *AuthService) Session() models.Session {
	return s.sessions.Current()
}

// Login exchanges an access key for a session. When the account has 2FA
// enabled the flow parks in StateTwoFactorPending and ConfirmTwoFactor must
// complete it; otherwise the session is established immediately.
func (s *AuthService) Login(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: access key is required", ErrValidation)
	}

	s.mu.Lock()
	if s.state == StateAuthenticating || s.state == StateLoggedIn {
		s.mu.Unlock()
		return fmt.Errorf("%w: login already in progress or completed", ErrValidation)
	}
	s.state = StateAuthenticating
	s.pending = nil
	s.mu.Unlock()

	util.Info("Login attempt", util.String("key", util.MaskKey(key)))

	res, err := s.backend.Login(ctx, key)
	if err != nil {
		s.mu.Lock()
		s.state = StateLoggedOut
		s.mu.Unlock()

		wrapped := classifyAuthError(err)
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			wrapped = fmt.Errorf("%w: credential not found", ErrAuth)
		}
		s.notifier.Error(userMessage(wrapped))
		return wrapped
	}

	if res.Requires2FA {
		s.mu.Lock()
		s.pending = &models.PendingTwoFactor{TempToken: res.TempToken, AwaitingCode: true}
		s.state = StateTwoFactorPending
		s.mu.Unlock()

		util.Info("Two-factor verification required")
		return nil
	}

	return s.completeLogin(res, true)
}

// ConfirmTwoFactor finishes a login parked on OTP verification. A rejected
// code leaves the flow in StateTwoFactorPending for another attempt.
func (s *AuthService) ConfirmTwoFactor(ctx context.Context, code string) error {
	code = util.DigitsOnly(code)
	if len(code) != 6 {
		return fmt.Errorf("%w: verification code must be 6 digits", ErrValidation)
	}

	s.mu.Lock()
	if s.state != StateTwoFactorPending || s.pending == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: no verification in progress", ErrValidation)
	}
	tempToken := s.pending.TempToken
	s.mu.Unlock()

	res, err := s.backend.VerifyTwoFactor(ctx, tempToken, code)
	if err != nil {
		wrapped := classifyAuthError(err)
		s.notifier.Error(userMessage(wrapped))
		return wrapped
	}

	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()

	return s.completeLogin(res, false)
}

// CancelTwoFactor abandons a pending verification and returns to logged out.
// The temp token is discarded; the access key must be entered again.
func (s *AuthService) CancelTwoFactor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateTwoFactorPending {
		return
	}
	s.pending = nil
	s.state = StateLoggedOut
	util.Info("Two-factor verification cancelled")
}

func (s *AuthService) completeLogin(res *client.LoginResult, twoFAKnownOff bool) error {
	role := models.RoleUser
	if res.IsAdmin {
		role = models.RoleAdmin
	}
	userType := res.UserType
	if userType == "" {
		userType = models.UserTypeNormal
		if res.IsAdmin {
			userType = models.UserTypeAdmin
		}
	}

	session := models.Session{
		Authenticated: true,
		Role:          role,
		UserType:      userType,
		AccessToken:   res.AccessToken,
		DailyQuota:    res.DailyLimit,
		DailyUsed:     res.DailyUsed,
		TwoFAEnabled:  !twoFAKnownOff,
		LoginAt:       time.Now(),
	}
	if err := s.sessions.Set(session); err != nil {
		util.Warn("Session not persisted, continuing in memory", util.ErrorField(err))
	}

	s.mu.Lock()
	s.state = StateLoggedIn
	s.setupPending = false
	s.mu.Unlock()

	s.idle.Start()
	s.notifier.Success("Logged in")
	util.Info("Login completed",
		util.String("role", string(role)),
		util.String("user_type", userType),
	)

	if role == models.RoleAdmin {
		go s.warmupAdmin()
	}
	return nil
}

// warmupAdmin pre-fetches the data the admin view needs: the managed user
// list and the live 2FA enrollment state. Failures are logged, never fatal;
// the views fetch on demand anyway.
func (s *AuthService) warmupAdmin() {
	ctx, cancel := context.WithTimeout(context.Background(), s.warmupTimeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.admin.FetchUsers(ctx)
		return err
	})
	g.Go(func() error {
		return s.RefreshTwoFactorState(ctx)
	})
	if err := g.Wait(); err != nil {
		util.Warn("Admin warmup incomplete", util.ErrorField(err))
	}
}

// Logout tears the session down locally: stop the idle countdown, clear the
// persisted session, drop cached admin data. The backend keeps no server-side
// session to revoke. Idempotent.
func (s *AuthService) Logout() {
	s.mu.Lock()
	wasLoggedIn := s.state == StateLoggedIn
	s.state = StateLoggedOut
	s.pending = nil
	s.setupPending = false
	s.mu.Unlock()

	s.idle.Stop()
	if err := s.sessions.Clear(); err != nil {
		util.Warn("Persisted session not cleared", util.ErrorField(err))
	}
	if s.admin != nil {
		s.admin.Reset()
	}

	if wasLoggedIn {
		s.notifier.Info("Logged out")
		util.Info("Logged out")
	}
}

// Activity records user interaction, resetting the idle countdown. Ignored
// when not logged in.
func (s *AuthService) Activity() {
	s.mu.Lock()
	loggedIn := s.state == StateLoggedIn
	s.mu.Unlock()
	if loggedIn {
		s.idle.Activity()
	}
}

// RefreshTwoFactorState syncs the session's 2FA flag with the backend.
func (s *AuthService) RefreshTwoFactorState(ctx context.Context) error {
	if err := s.requireLogin(); err != nil {
		return err
	}

	status, err := s.backend.TwoFactorStatus(ctx, s.sessions.Token())
	if err != nil {
		return classifyAuthError(err)
	}
	s.applyRotation(status.NewToken)
	if err := s.sessions.Update(func(sess *models.Session) {
		sess.TwoFAEnabled = status.Enabled
	}); err != nil {
		util.Warn("Two-factor state not persisted", util.ErrorField(err))
	}
	return nil
}

// BeginTwoFactorSetup starts 2FA enrollment for the logged-in admin. The
// returned provisioning data is shown once; enrollment only takes effect
// after ConfirmTwoFactorSetup verifies a code from the enrolled device.
func (s *AuthService) BeginTwoFactorSetup(ctx context.Context) (*TwoFactorProvisioning, error) {
	if err := s.requireLogin(); err != nil {
		return nil, err
	}

	setup, err := s.backend.EnableTwoFactor(ctx, s.sessions.Token())
	if err != nil {
		wrapped := classifyAuthError(err)
		s.notifier.Error(userMessage(wrapped))
		return nil, wrapped
	}
	s.applyRotation(setup.NewToken)

	s.mu.Lock()
	s.setupPending = true
	s.mu.Unlock()

	return &TwoFactorProvisioning{QRCode: setup.QRCode, Secret: setup.Secret}, nil
}

// ConfirmTwoFactorSetup completes enrollment with a code from the device.
func (s *AuthService) ConfirmTwoFactorSetup(ctx context.Context, code string) error {
	code = util.DigitsOnly(code)
	if len(code) != 6 {
		return fmt.Errorf("%w: verification code must be 6 digits", ErrValidation)
	}

	s.mu.Lock()
	if !s.setupPending {
		s.mu.Unlock()
		return fmt.Errorf("%w: no enrollment in progress", ErrValidation)
	}
	s.mu.Unlock()

	res, err := s.backend.ConfirmTwoFactorSetup(ctx, s.sessions.Token(), code)
	if err != nil {
		wrapped := classifyAuthError(err)
		s.notifier.Error(userMessage(wrapped))
		return wrapped
	}
	s.applyRotation(res.NewToken)

	s.mu.Lock()
	s.setupPending = false
	s.mu.Unlock()

	if err := s.sessions.Update(func(sess *models.Session) {
		sess.TwoFAEnabled = true
	}); err != nil {
		util.Warn("Two-factor state not persisted", util.ErrorField(err))
	}
	s.notifier.Success("Two-factor authentication enabled")
	return nil
}

// DisableTwoFactor turns enrollment off for the logged-in admin.
func (s *AuthService) DisableTwoFactor(ctx context.Context) error {
	if err := s.requireLogin(); err != nil {
		return err
	}

	res, err := s.backend.DisableTwoFactor(ctx, s.sessions.Token())
	if err != nil {
		wrapped := classifyAuthError(err)
		s.notifier.Error(userMessage(wrapped))
		return wrapped
	}
	s.applyRotation(res.NewToken)

	if err := s.sessions.Update(func(sess *models.Session) {
		sess.TwoFAEnabled = false
	}); err != nil {
		util.Warn("Two-factor state not persisted", util.ErrorField(err))
	}
	s.notifier.Success("Two-factor authentication disabled")
	return nil
}

func (s *AuthService) requireLogin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLoggedIn {
		return ErrNotAuthenticated
	}
	return nil
}

func (s *AuthService) applyRotation(newToken string) {
	if err := s.sessions.RotateToken(newToken); err != nil {
		util.Warn("Rotated token not persisted", util.ErrorField(err))
	}
}

// classifyAuthError maps a backend client error onto the panel's error
// taxonomy, preserving the server's message when there is one.
func classifyAuthError(err error) error {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	switch {
	case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuth, apiErr.Message)
	case apiErr.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrAuth, apiErr.Message)
	case apiErr.StatusCode >= 500:
		return fmt.Errorf("%w: %s", ErrServer, apiErr.Message)
	default:
		return fmt.Errorf("%w: %s", ErrServer, apiErr.Message)
	}
}

// userMessage strips the sentinel prefix for display in a toast.
func userMessage(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{ErrAuth, ErrNetwork, ErrServer, ErrValidation, ErrConfig} {
		prefix := sentinel.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
}
