package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"sms-panel/internal/util"
)

// APIError is a non-2xx response from the SMS backend. Message carries the
// server-provided text verbatim so it can be surfaced to the user.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend status %d: %s", e.StatusCode, e.Message)
}

// BackendClient talks to the remote SMS backend HTTP API. It holds no
// credential state of its own; the bearer token is passed per call so the
// session store stays the single owner of the rotating token.
type BackendClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// LoginResult is the login/verify success shape. Requires2FA marks the
// step-up branch, in which case only TempToken is meaningful.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	IsAdmin     bool   `json:"is_admin"`
	UserType    string `json:"user_type"`
	DailyLimit  int    `json:"daily_limit"`
	DailyUsed   int    `json:"daily_used"`
	Requires2FA bool   `json:"requires_2fa"`
	TempToken   string `json:"temp_token"`
	NewToken    string `json:"new_token"`
}

// SendResult carries the per-batch delivery counters.
type SendResult struct {
	Success  int    `json:"success"`
	Failed   int    `json:"failed"`
	NewToken string `json:"new_token"`
}

// MutationResult is the generic confirmation shape for admin mutations.
type MutationResult struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	NewToken string `json:"new_token"`
}

// TwoFactorStatus reports whether 2FA is active for the current credential.
type TwoFactorStatus struct {
	Enabled  bool   `json:"enabled"`
	NewToken string `json:"new_token"`
}

// TwoFactorSetup is the provisioning artifact returned when enabling 2FA.
type TwoFactorSetup struct {
	QRCode   string `json:"qr_code"`
	Secret   string `json:"secret"`
	NewToken string `json:"new_token"`
}

// UserRecord is one raw admin-list entry. Field names vary across backend
// revisions, so normalization happens in one place on the service side.
type UserRecord map[string]interface{}

// AddKeyRequest is the admin key-provisioning payload.
type AddKeyRequest struct {
	Key        string `json:"key"`
	UserID     string `json:"user_id"`
	ExpiryDays int    `json:"expiry_days"`
	IsAdmin    bool   `json:"is_admin"`
	UserType   string `json:"user_type"`
}

func NewBackendClient(baseURL string, timeout time.Duration, logger *zap.Logger) (*BackendClient, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend base URL")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &BackendClient{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// Health probes the backend keep-alive endpoint.
func (c *BackendClient) Health(ctx context.Context) error {
	if _, err := c.doJSON(ctx, http.MethodGet, "/live", "", nil); err != nil {
		return fmt.Errorf("backend health check failed: %w", err)
	}
	return nil
}

func (c *BackendClient) Login(ctx context.Context, key string) (*LoginResult, error) {
	payload, err := json.Marshal(map[string]string{"key": key})
	if err != nil {
		return nil, fmt.Errorf("marshal login payload: %w", err)
	}
	body, err := c.doJSON(ctx, http.MethodPost, "/login", "", payload)
	if err != nil {
		return nil, err
	}
	var result LoginResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	return &result, nil
}

func (c *BackendClient) VerifyTwoFactor(ctx context.Context, tempToken, code string) (*LoginResult, error) {
	payload, err := json.Marshal(map[string]string{"temp_token": tempToken, "code": code})
	if err != nil {
		return nil, fmt.Errorf("marshal verify payload: %w", err)
	}
	body, err := c.doJSON(ctx, http.MethodPost, "/verify-2fa", "", payload)
	if err != nil {
		return nil, err
	}
	var result LoginResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode verify-2fa response: %w", err)
	}
	return &result, nil
}

func (c *BackendClient) SendSMS(ctx context.Context, token, phone, email string, count, mode int) (*SendResult, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"phone": phone,
		"email": email,
		"count": count,
		"mode":  mode,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal send payload: %w", err)
	}
	body, err := c.doJSON(ctx, http.MethodPost, "/send-sms", token, payload)
	if err != nil {
		return nil, err
	}
	var result SendResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode send-sms response: %w", err)
	}
	return &result, nil
}

func (c *BackendClient) ListUsers(ctx context.Context, token string) ([]UserRecord, error) {
	body, err := c.doJSON(ctx, http.MethodGet, "/admin/users", token, nil)
	if err != nil {
		return nil, err
	}
	var records []UserRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("decode users response: %w", err)
	}
	return records, nil
}

func (c *BackendClient) AddKey(ctx context.Context, token string, req AddKeyRequest) (*MutationResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal add-key payload: %w", err)
	}
	body, err := c.doJSON(ctx, http.MethodPost, "/admin/add-key", token, payload)
	if err != nil {
		return nil, err
	}
	return decodeMutation(body, "add-key")
}

func (c *BackendClient) DeleteUser(ctx context.Context, token, id string) (*MutationResult, error) {
	body, err := c.doJSON(ctx, http.MethodDelete, "/admin/users/"+url.PathEscape(id), token, nil)
	if err != nil {
		return nil, err
	}
	return decodeMutation(body, "delete-user")
}

func (c *BackendClient) GetAPIURL(ctx context.Context) (string, error) {
	body, err := c.doJSON(ctx, http.MethodGet, "/get-api-url", "", nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		APIURL string `json:"api_url"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode api-url response: %w", err)
	}
	return resp.APIURL, nil
}

func (c *BackendClient) SetAPIURL(ctx context.Context, token, apiURL string) (*MutationResult, error) {
	payload, err := json.Marshal(map[string]string{"api_url": apiURL})
	if err != nil {
		return nil, fmt.Errorf("marshal api-url payload: %w", err)
	}
	body, err := c.doJSON(ctx, http.MethodPost, "/admin/set-api-url", token, payload)
	if err != nil {
		return nil, err
	}
	return decodeMutation(body, "set-api-url")
}

func (c *BackendClient) GetBackendURL(ctx context.Context) (string, error) {
	body, err := c.doJSON(ctx, http.MethodGet, "/get-backend-url", "", nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		BackendURL string `json:"backend_url"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode backend-url response: %w", err)
	}
	return resp.BackendURL, nil
}

func (c *BackendClient) SetBackendURL(ctx context.Context, token, backendURL string) (*MutationResult, error) {
	payload, err := json.Marshal(map[string]string{"backend_url": backendURL})
	if err != nil {
		return nil, fmt.Errorf("marshal backend-url payload: %w", err)
	}
	body, err := c.doJSON(ctx, http.MethodPost, "/admin/set-backend-url", token, payload)
	if err != nil {
		return nil, err
	}
	return decodeMutation(body, "set-backend-url")
}

func (c *BackendClient) TwoFactorStatus(ctx context.Context, token string) (*TwoFactorStatus, error) {
	body, err := c.doJSON(ctx, http.MethodGet, "/admin/2fa-status", token, nil)
	if err != nil {
		return nil, err
	}
	var status TwoFactorStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("decode 2fa-status response: %w", err)
	}
	return &status, nil
}

func (c *BackendClient) EnableTwoFactor(ctx context.Context, token string) (*TwoFactorSetup, error) {
	body, err := c.doJSON(ctx, http.MethodPost, "/admin/2fa-enable", token, nil)
	if err != nil {
		return nil, err
	}
	var setup TwoFactorSetup
	if err := json.Unmarshal(body, &setup); err != nil {
		return nil, fmt.Errorf("decode 2fa-enable response: %w", err)
	}
	return &setup, nil
}

func (c *BackendClient) ConfirmTwoFactorSetup(ctx context.Context, token, code string) (*MutationResult, error) {
	payload, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return nil, fmt.Errorf("marshal 2fa-confirm payload: %w", err)
	}
	body, err := c.doJSON(ctx, http.MethodPost, "/admin/2fa-confirm", token, payload)
	if err != nil {
		return nil, err
	}
	return decodeMutation(body, "2fa-confirm")
}

func (c *BackendClient) DisableTwoFactor(ctx context.Context, token string) (*MutationResult, error) {
	body, err := c.doJSON(ctx, http.MethodPost, "/admin/2fa-disable", token, nil)
	if err != nil {
		return nil, err
	}
	return decodeMutation(body, "2fa-disable")
}

func decodeMutation(body []byte, op string) (*MutationResult, error) {
	var result MutationResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", op, err)
	}
	return &result, nil
}

func (c *BackendClient) doJSON(ctx context.Context, method, path, token string, payload []byte) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("nil client")
	}
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("Backend request",
		util.String("method", method),
		util.String("path", path),
		util.Int("status", resp.StatusCode),
		util.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body, resp.Status)}
	}
	return body, nil
}

// errorMessage extracts the server-provided error text. The backend speaks
// FastAPI's {"detail": "..."} shape; fall back to the raw body.
func errorMessage(body []byte, status string) string {
	var detail struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &detail); err == nil && detail.Detail != "" {
		return detail.Detail
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = status
	}
	return msg
}
