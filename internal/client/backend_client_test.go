package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*BackendClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewBackendClient(server.URL, 5*time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewBackendClient: %v", err)
	}
	return c, server
}

func TestNewBackendClientValidatesBaseURL(t *testing.T) {
	for _, bad := range []string{"", "   ", "not a url", "/relative/path"} {
		if _, err := NewBackendClient(bad, time.Second, zap.NewNop()); err == nil {
			t.Fatalf("NewBackendClient(%q) succeeded, want error", bad)
		}
	}
	c, err := NewBackendClient("https://backend.example.com/", time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewBackendClient: %v", err)
	}
	if c.baseURL != "https://backend.example.com" {
		t.Fatalf("baseURL = %q, want trailing slash trimmed", c.baseURL)
	}
}

func TestLoginPostsKeyAndDecodesResult(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/login" {
			t.Errorf("%s %s, want POST /login", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("login must not carry a bearer token")
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req["key"] != "my-key" {
			t.Errorf("login body = %v", req)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok",
			"is_admin":     true,
			"user_type":    "admin",
			"daily_limit":  500,
		})
	})

	result, err := c.Login(context.Background(), "my-key")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.AccessToken != "tok" || !result.IsAdmin || result.DailyLimit != 500 {
		t.Fatalf("result = %+v", result)
	}
}

func TestLoginRequires2FABranch(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"requires_2fa": true,
			"temp_token":   "temp-xyz",
		})
	})

	result, err := c.Login(context.Background(), "admin-key")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !result.Requires2FA || result.TempToken != "temp-xyz" {
		t.Fatalf("result = %+v", result)
	}
}

func TestSendSMSCarriesBearerToken(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/send-sms" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		var req map[string]interface{}
		json.NewDecoder(r.Body).Decode(&req)
		if req["phone"] != "9876543210" || req["mode"] != float64(2) {
			t.Errorf("body = %v", req)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": 9, "failed": 1, "new_token": "tok-2",
		})
	})

	result, err := c.SendSMS(context.Background(), "tok-1", "9876543210", "sender@example.com", 10, 2)
	if err != nil {
		t.Fatalf("SendSMS: %v", err)
	}
	if result.Success != 9 || result.Failed != 1 || result.NewToken != "tok-2" {
		t.Fatalf("result = %+v", result)
	}
}

func TestAPIErrorCarriesFastAPIDetail(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"detail": "Invalid or expired key"})
	})

	_, err := c.Login(context.Background(), "bad")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("StatusCode = %d", apiErr.StatusCode)
	}
	if apiErr.Message != "Invalid or expired key" {
		t.Fatalf("Message = %q, want the detail text verbatim", apiErr.Message)
	}
}

func TestAPIErrorFallsBackToBodyThenStatus(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	})
	_, err := c.Login(context.Background(), "key")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "upstream exploded" {
		t.Fatalf("err = %v", err)
	}

	c2, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err = c2.Login(context.Background(), "key")
	if !errors.As(err, &apiErr) || apiErr.Message == "" {
		t.Fatalf("err = %v, want status text fallback", err)
	}
}

func TestDeleteUserEscapesPath(t *testing.T) {
	var gotPath string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	if _, err := c.DeleteUser(context.Background(), "tok", "user/../7"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if gotPath != "/admin/users/user%2F..%2F7" {
		t.Fatalf("path = %q, id was not escaped", gotPath)
	}
}

func TestListUsersDecodesRawRecords(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/users" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`[{"id":"u1","key":"k1","is_admin":false},{"id":"u2","isAdmin":true}]`))
	})

	records, err := c.ListUsers(context.Background(), "tok")
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len = %d", len(records))
	}
	if records[0]["key"] != "k1" || records[1]["isAdmin"] != true {
		t.Fatalf("records = %v", records)
	}
}

func TestGetAPIURL(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/get-api-url" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"api_url": "https://sms.example.com"})
	})

	got, err := c.GetAPIURL(context.Background())
	if err != nil {
		t.Fatalf("GetAPIURL: %v", err)
	}
	if got != "https://sms.example.com" {
		t.Fatalf("GetAPIURL = %q", got)
	}
}

func TestHealthHitsLiveEndpoint(t *testing.T) {
	var hit bool
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/live" {
			hit = true
		}
		w.Write([]byte(`{"status":"alive"}`))
	})

	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !hit {
		t.Fatal("health check did not hit /live")
	}
}
