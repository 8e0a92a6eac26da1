package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"sms-panel/internal/client"
	"sms-panel/internal/config"
	"sms-panel/internal/handler"
	"sms-panel/internal/models"
	"sms-panel/internal/service"
)

// memStore is an in-memory service.Store.
type memStore struct {
	mu       sync.Mutex
	session  *models.Session
	history  []models.SendRecord
	settings map[string]string
}

func newMemStore() *memStore {
	return &memStore{settings: make(map[string]string)}
}

func (s *memStore) SaveSession(session models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := session
	s.session = &copied
	return nil
}

func (s *memStore) LoadSession() (models.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return models.EmptySession(), false, nil
	}
	return *s.session, true, nil
}

func (s *memStore) ClearSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	return nil
}

func (s *memStore) SaveHistory(records []models.SendRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append([]models.SendRecord(nil), records...)
	return nil
}

func (s *memStore) LoadHistory() ([]models.SendRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SendRecord(nil), s.history...), nil
}

func (s *memStore) ClearHistory() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	return nil
}

func (s *memStore) SetSetting(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[name] = value
	return nil
}

func (s *memStore) GetSetting(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings[name], nil
}

// newBackendStub serves the subset of the remote API the tests exercise.
// The "admin-key" credential logs in as admin, anything else as a normal
// user, and "wrong-key" is rejected.
func newBackendStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	requireMethod := func(method string, h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Method != method {
				http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
				return
			}
			h(w, r)
		}
	}
	mux.HandleFunc("/login", requireMethod(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		switch req["key"] {
		case "admin-key":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "admin-tok", "is_admin": true, "user_type": "admin",
			})
		case "wrong-key":
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"detail": "Invalid key"})
		default:
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "user-tok", "user_type": "normal", "daily_limit": 500,
			})
		}
	}))
	mux.HandleFunc("/send-sms", requireMethod(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"success": 3, "failed": 0})
	}))
	mux.HandleFunc("/admin/users", requireMethod(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"u1","key":"k1","user_id":"alice"}]`))
	}))
	mux.HandleFunc("/admin/2fa-status", requireMethod(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]bool{"enabled": false})
	}))
	mux.HandleFunc("/admin/users/", requireMethod(http.MethodDelete, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	mux.HandleFunc("/live", requireMethod(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"alive"}`))
	}))
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestRouter(t *testing.T, store *memStore) http.Handler {
	t.Helper()
	backendServer := newBackendStub(t)

	backendClient, err := client.NewBackendClient(backendServer.URL, 5*time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewBackendClient: %v", err)
	}

	cfg := &config.Config{
		Environment: "test",
		Backend:     config.BackendConfig{SenderEmail: "sender@example.com"},
		Session:     config.SessionConfig{IdleTimeout: time.Minute, WarnBefore: time.Second},
		Toast:       config.ToastConfig{TTL: time.Minute},
	}
	services := service.NewServiceFactory(backendClient, store, cfg)
	t.Cleanup(services.Cleanup)
	services.Bootstrap()

	panelHandler := handler.NewPanelHandler(services, zap.NewNop())
	return handler.NewRouter(panelHandler, zap.NewNop())
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, handler.Response) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp handler.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: invalid response JSON %q: %v", method, path, rec.Body.String(), err)
	}
	return rec, resp
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestLoginFlowOverHTTP(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	rec, resp := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", `{"key":"some-user-key"}`)
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("login: status=%d resp=%+v", rec.Code, resp)
	}

	rec, resp = doJSON(t, router, http.MethodGet, "/api/v1/auth/session", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("session: status=%d", rec.Code)
	}
	view := resp.Data.(map[string]interface{})
	if view["authenticated"] != true || view["state"] != "logged_in" {
		t.Fatalf("session view = %v", view)
	}
	if _, exposed := view["access_token"]; exposed {
		t.Fatal("session view leaks the bearer token")
	}

	rec, _ = doJSON(t, router, http.MethodPost, "/api/v1/auth/logout", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: status=%d", rec.Code)
	}
	_, resp = doJSON(t, router, http.MethodGet, "/api/v1/auth/session", "")
	if resp.Data.(map[string]interface{})["authenticated"] != false {
		t.Fatal("still authenticated after logout")
	}
}

func TestLoginRejectionMapsTo401(t *testing.T) {
	router := newTestRouter(t, newMemStore())

	rec, resp := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", `{"key":"wrong-key"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if resp.Success {
		t.Fatal("rejected login reported success")
	}
	if !strings.Contains(resp.Error, "Invalid key") {
		t.Fatalf("error = %q, want the server detail text", resp.Error)
	}
}

func TestSendValidationMapsTo400(t *testing.T) {
	store := newMemStore()
	store.SetSetting("api_url", "https://sms.example.com")
	router := newTestRouter(t, store)

	doJSON(t, router, http.MethodPost, "/api/v1/auth/login", `{"key":"user-key"}`)

	rec, _ := doJSON(t, router, http.MethodPost, "/api/v1/sms/send", `{"recipient":"123","count":5}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for a short recipient", rec.Code)
	}
}

func TestSendWithoutAPIURLMapsTo412(t *testing.T) {
	router := newTestRouter(t, newMemStore())
	doJSON(t, router, http.MethodPost, "/api/v1/auth/login", `{"key":"user-key"}`)

	rec, _ := doJSON(t, router, http.MethodPost, "/api/v1/sms/send", `{"recipient":"9876543210","count":5}`)
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("status = %d, want 412 when no provider URL is set", rec.Code)
	}
}

func TestSendAndHistoryOverHTTP(t *testing.T) {
	store := newMemStore()
	store.SetSetting("api_url", "https://sms.example.com")
	router := newTestRouter(t, store)

	doJSON(t, router, http.MethodPost, "/api/v1/auth/login", `{"key":"user-key"}`)

	rec, resp := doJSON(t, router, http.MethodPost, "/api/v1/sms/send", `{"recipient":"9876543210","count":3,"mode":"turbo"}`)
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("send: status=%d resp=%+v", rec.Code, resp)
	}
	record := resp.Data.(map[string]interface{})
	if record["status"] != "completed" || record["success_count"] != float64(3) {
		t.Fatalf("record = %v", record)
	}

	_, resp = doJSON(t, router, http.MethodGet, "/api/v1/sms/history", "")
	history := resp.Data.([]interface{})
	if len(history) != 1 {
		t.Fatalf("history len = %d", len(history))
	}

	rec, _ = doJSON(t, router, http.MethodDelete, "/api/v1/sms/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("clear history: status=%d", rec.Code)
	}
}

func TestDeleteUserConfirmationOverHTTP(t *testing.T) {
	router := newTestRouter(t, newMemStore())
	doJSON(t, router, http.MethodPost, "/api/v1/auth/login", `{"key":"admin-key"}`)

	rec, _ := doJSON(t, router, http.MethodDelete, "/api/v1/admin/users/u1", "")
	if rec.Code != http.StatusPreconditionRequired {
		t.Fatalf("status = %d, want 428 without ?confirm=true", rec.Code)
	}

	rec, resp := doJSON(t, router, http.MethodDelete, "/api/v1/admin/users/u1?confirm=true", "")
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("confirmed delete: status=%d resp=%+v", rec.Code, resp)
	}
}

func TestAdminEndpointsRejectNormalUsers(t *testing.T) {
	router := newTestRouter(t, newMemStore())
	doJSON(t, router, http.MethodPost, "/api/v1/auth/login", `{"key":"user-key"}`)

	rec, _ := doJSON(t, router, http.MethodGet, "/api/v1/admin/users", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for non-admin", rec.Code)
	}
}

func TestNotificationsSurfaceToasts(t *testing.T) {
	router := newTestRouter(t, newMemStore())
	doJSON(t, router, http.MethodPost, "/api/v1/auth/login", `{"key":"user-key"}`)

	_, resp := doJSON(t, router, http.MethodGet, "/api/v1/notifications", "")
	toasts := resp.Data.([]interface{})
	if len(toasts) == 0 {
		t.Fatal("no toast after login")
	}
	toast := toasts[0].(map[string]interface{})
	if toast["severity"] != "success" {
		t.Fatalf("toast = %v", toast)
	}
}
