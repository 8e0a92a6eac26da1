package service

import (
	"context"
	"sync"
	"time"

	"sms-panel/internal/client"
	"sms-panel/internal/models"
)

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu       sync.Mutex
	session  *models.Session
	history  []models.SendRecord
	settings map[string]string

	saveSessionErr error
	loadSessionErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{settings: make(map[string]string)}
}

func (s *fakeStore) SaveSession(session models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveSessionErr != nil {
		return s.saveSessionErr
	}
	copied := session
	s.session = &copied
	return nil
}

func (s *fakeStore) LoadSession() (models.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadSessionErr != nil {
		return models.EmptySession(), false, s.loadSessionErr
	}
	if s.session == nil {
		return models.EmptySession(), false, nil
	}
	return *s.session, true, nil
}

func (s *fakeStore) ClearSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	return nil
}

func (s *fakeStore) SaveHistory(records []models.SendRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append([]models.SendRecord(nil), records...)
	return nil
}

func (s *fakeStore) LoadHistory() ([]models.SendRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SendRecord(nil), s.history...), nil
}

func (s *fakeStore) ClearHistory() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	return nil
}

func (s *fakeStore) SetSetting(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[name] = value
	return nil
}

func (s *fakeStore) GetSetting(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings[name], nil
}

func (s *fakeStore) persistedSession() *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	copied := *s.session
	return &copied
}

func (s *fakeStore) persistedHistory() []models.SendRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SendRecord(nil), s.history...)
}

// fakeBackend is a scriptable Backend. Unset hooks answer with benign zero
// values so background refreshes never panic a test.
type fakeBackend struct {
	mu    sync.Mutex
	calls []string

	loginFn       func(key string) (*client.LoginResult, error)
	verifyFn      func(tempToken, code string) (*client.LoginResult, error)
	sendFn        func(token, phone, email string, count, mode int) (*client.SendResult, error)
	listUsersFn   func(token string) ([]client.UserRecord, error)
	addKeyFn      func(token string, req client.AddKeyRequest) (*client.MutationResult, error)
	deleteUserFn  func(token, id string) (*client.MutationResult, error)
	getAPIURLFn   func() (string, error)
	getBackURLFn  func() (string, error)
	setAPIURLFn   func(token, apiURL string) (*client.MutationResult, error)
	setBackURLFn  func(token, backendURL string) (*client.MutationResult, error)
	twoFAStatusFn func(token string) (*client.TwoFactorStatus, error)
	enable2FAFn   func(token string) (*client.TwoFactorSetup, error)
	confirm2FAFn  func(token, code string) (*client.MutationResult, error)
	disable2FAFn  func(token string) (*client.MutationResult, error)
}

func (b *fakeBackend) record(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
}

func (b *fakeBackend) callCount(call string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (b *fakeBackend) Login(_ context.Context, key string) (*client.LoginResult, error) {
	b.record("login")
	if b.loginFn != nil {
		return b.loginFn(key)
	}
	return &client.LoginResult{AccessToken: "tok"}, nil
}

func (b *fakeBackend) VerifyTwoFactor(_ context.Context, tempToken, code string) (*client.LoginResult, error) {
	b.record("verify")
	if b.verifyFn != nil {
		return b.verifyFn(tempToken, code)
	}
	return &client.LoginResult{AccessToken: "tok"}, nil
}

func (b *fakeBackend) SendSMS(_ context.Context, token, phone, email string, count, mode int) (*client.SendResult, error) {
	b.record("send")
	if b.sendFn != nil {
		return b.sendFn(token, phone, email, count, mode)
	}
	return &client.SendResult{Success: count}, nil
}

func (b *fakeBackend) ListUsers(_ context.Context, token string) ([]client.UserRecord, error) {
	b.record("list_users")
	if b.listUsersFn != nil {
		return b.listUsersFn(token)
	}
	return nil, nil
}

func (b *fakeBackend) AddKey(_ context.Context, token string, req client.AddKeyRequest) (*client.MutationResult, error) {
	b.record("add_key")
	if b.addKeyFn != nil {
		return b.addKeyFn(token, req)
	}
	return &client.MutationResult{Status: "ok"}, nil
}

func (b *fakeBackend) DeleteUser(_ context.Context, token, id string) (*client.MutationResult, error) {
	b.record("delete_user")
	if b.deleteUserFn != nil {
		return b.deleteUserFn(token, id)
	}
	return &client.MutationResult{Status: "ok"}, nil
}

func (b *fakeBackend) GetAPIURL(_ context.Context) (string, error) {
	b.record("get_api_url")
	if b.getAPIURLFn != nil {
		return b.getAPIURLFn()
	}
	return "", nil
}

func (b *fakeBackend) SetAPIURL(_ context.Context, token, apiURL string) (*client.MutationResult, error) {
	b.record("set_api_url")
	if b.setAPIURLFn != nil {
		return b.setAPIURLFn(token, apiURL)
	}
	return &client.MutationResult{Status: "ok"}, nil
}

func (b *fakeBackend) GetBackendURL(_ context.Context) (string, error) {
	b.record("get_backend_url")
	if b.getBackURLFn != nil {
		return b.getBackURLFn()
	}
	return "", nil
}

func (b *fakeBackend) SetBackendURL(_ context.Context, token, backendURL string) (*client.MutationResult, error) {
	b.record("set_backend_url")
	if b.setBackURLFn != nil {
		return b.setBackURLFn(token, backendURL)
	}
	return &client.MutationResult{Status: "ok"}, nil
}

func (b *fakeBackend) TwoFactorStatus(_ context.Context, token string) (*client.TwoFactorStatus, error) {
	b.record("two_fa_status")
	if b.twoFAStatusFn != nil {
		return b.twoFAStatusFn(token)
	}
	return &client.TwoFactorStatus{}, nil
}

func (b *fakeBackend) EnableTwoFactor(_ context.Context, token string) (*client.TwoFactorSetup, error) {
	b.record("enable_2fa")
	if b.enable2FAFn != nil {
		return b.enable2FAFn(token)
	}
	return &client.TwoFactorSetup{QRCode: "qr", Secret: "secret"}, nil
}

func (b *fakeBackend) ConfirmTwoFactorSetup(_ context.Context, token, code string) (*client.MutationResult, error) {
	b.record("confirm_2fa")
	if b.confirm2FAFn != nil {
		return b.confirm2FAFn(token, code)
	}
	return &client.MutationResult{Status: "ok"}, nil
}

func (b *fakeBackend) DisableTwoFactor(_ context.Context, token string) (*client.MutationResult, error) {
	b.record("disable_2fa")
	if b.disable2FAFn != nil {
		return b.disable2FAFn(token)
	}
	return &client.MutationResult{Status: "ok"}, nil
}

// newTestNotifier returns a notifier with a TTL long enough that toasts stay
// visible for the duration of a test.
func newTestNotifier() *Notifier {
	return NewNotifier(time.Minute)
}
