package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"sms-panel/internal/models"
	"sms-panel/internal/service"
	"sms-panel/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// PanelHandler exposes the panel's session, send, admin and settings
// operations over HTTP.
type PanelHandler struct {
	auth     *service.AuthService
	send     *service.SendService
	admin    *service.AdminService
	settings *service.SettingsService
	notifier *service.Notifier
	idle     *service.IdleTimer
	logger   *zap.Logger
}

// NewPanelHandler creates a new panel handler
func NewPanelHandler(services *service.ServiceFactory, logger *zap.Logger) *PanelHandler {
	return &PanelHandler{
		auth:     services.AuthService(),
		send:     services.SendService(),
		admin:    services.AdminService(),
		settings: services.SettingsService(),
		notifier: services.Notifier(),
		idle:     services.IdleTimer(),
		logger:   logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// RegisterRoutes registers all panel routes
func (h *PanelHandler) RegisterRoutes(router chi.Router) {
	// Every state-changing request counts as user activity for the idle timer.
	router.Use(h.touchOnWrite)

	router.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/2fa/verify", h.VerifyTwoFactor)
		r.Post("/2fa/cancel", h.CancelTwoFactor)
		r.Post("/logout", h.Logout)
		r.Post("/activity", h.Activity)
		r.Get("/session", h.GetSession)
	})

	router.Route("/sms", func(r chi.Router) {
		r.Post("/send", h.SendSMS)
		r.Get("/history", h.GetHistory)
		r.Delete("/history", h.ClearHistory)
	})

	router.Route("/admin", func(r chi.Router) {
		r.Get("/users", h.ListUsers)
		r.Post("/users", h.AddUser)
		r.Delete("/users/{userID}", h.DeleteUser)

		r.Get("/2fa", h.TwoFactorState)
		r.Post("/2fa/setup", h.BeginTwoFactorSetup)
		r.Post("/2fa/confirm", h.ConfirmTwoFactorSetup)
		r.Delete("/2fa", h.DisableTwoFactor)
	})

	router.Route("/settings", func(r chi.Router) {
		r.Get("/", h.GetSettings)
		r.Post("/refresh", h.RefreshSettings)
		r.Put("/api-url", h.SetAPIURL)
		r.Put("/backend-url", h.SetBackendURL)
		r.Put("/theme", h.SetTheme)
	})

	router.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.GetNotifications)
		r.Delete("/{toastID}", h.DismissNotification)
	})
}

// touchOnWrite resets the idle countdown on mutating requests. Polling reads
// (session state, notifications) deliberately do not count as activity.
func (h *PanelHandler) touchOnWrite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.URL.Path != "/api/v1/auth/logout" {
			h.auth.Activity()
		}
		next.ServeHTTP(w, r)
	})
}

// sessionView is the session state as the UI consumes it: lifecycle state,
// identity, quota and the idle-warning countdown. The bearer token is never
// exposed.
type sessionView struct {
	State            service.AuthState `json:"state"`
	Authenticated    bool              `json:"authenticated"`
	Role             models.Role       `json:"role"`
	UserType         string            `json:"user_type"`
	DailyQuota       int               `json:"daily_quota"`
	DailyUsed        int               `json:"daily_used"`
	Unlimited        bool              `json:"unlimited"`
	TwoFAEnabled     bool              `json:"two_fa_enabled"`
	IdleWarning      bool              `json:"idle_warning"`
	RemainingSeconds int               `json:"remaining_seconds"`
	Theme            string            `json:"theme"`
}

func (h *PanelHandler) sessionView() sessionView {
	session := h.auth.Session()
	view := sessionView{
		State:         h.auth.State(),
		Authenticated: session.Authenticated,
		Role:          session.Role,
		UserType:      session.UserType,
		DailyQuota:    session.DailyQuota,
		DailyUsed:     session.DailyUsed,
		Unlimited:     session.Unlimited(),
		TwoFAEnabled:  session.TwoFAEnabled,
		Theme:         h.settings.Theme(),
	}
	if session.Authenticated {
		view.IdleWarning = h.idle.Warning()
		view.RemainingSeconds = int(h.idle.Remaining() / time.Second)
	}
	return view
}

// Login handles the access-key login step.
func (h *PanelHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.auth.Login(ctx, req.Key); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Login failed")
		return
	}

	message := "Logged in"
	if h.auth.State() == service.StateTwoFactorPending {
		message = "Verification code required"
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(h.sessionView(), message))
}

// VerifyTwoFactor completes a login parked on OTP verification.
func (h *PanelHandler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.auth.ConfirmTwoFactor(ctx, req.Code); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Verification failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(h.sessionView(), "Logged in"))
}

// CancelTwoFactor abandons a pending verification.
func (h *PanelHandler) CancelTwoFactor(w http.ResponseWriter, r *http.Request) {
	h.auth.CancelTwoFactor()
	h.respondWithJSON(w, http.StatusOK, successResponse(h.sessionView(), "Verification cancelled"))
}

// Logout tears down the session. Always succeeds.
func (h *PanelHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.auth.Logout()
	h.respondWithJSON(w, http.StatusOK, successResponse(h.sessionView(), "Logged out"))
}

// Activity explicitly resets the idle countdown (keyboard/mouse equivalent).
func (h *PanelHandler) Activity(w http.ResponseWriter, r *http.Request) {
	h.auth.Activity()
	h.respondWithJSON(w, http.StatusOK, successResponse(h.sessionView(), ""))
}

// GetSession returns the current session state for UI polling.
func (h *PanelHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, successResponse(h.sessionView(), ""))
}

// SendSMS submits an SMS batch.
func (h *PanelHandler) SendSMS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req struct {
		Recipient string `json:"recipient"`
		Count     int    `json:"count"`
		Mode      string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	mode := models.SendMode(req.Mode)
	if req.Mode == "" {
		mode = models.ModeNormal
	}

	record, err := h.send.Submit(ctx, req.Recipient, req.Count, mode)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Send failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(record, "Batch sent"))
	h.logger.Info("SMS batch sent via HTTP",
		util.String("record_id", record.ID),
		util.Int("success", record.SuccessCount),
		util.Int("failed", record.FailedCount),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "SendSMS"),
	)
}

// GetHistory returns the send history, newest first.
func (h *PanelHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, successResponse(h.send.History(), ""))
}

// ClearHistory wipes the send history.
func (h *PanelHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.send.ClearHistory(); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to clear history")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "History cleared"))
}

// ListUsers returns the managed access keys (admin only).
func (h *PanelHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	users, err := h.admin.FetchUsers(ctx)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to fetch users")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(users, ""))
}

// AddUser provisions a new access key (admin only).
func (h *PanelHandler) AddUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req struct {
		Key        string `json:"key"`
		Tag        string `json:"tag"`
		ExpiryDays int    `json:"expiry_days"`
		UserType   string `json:"user_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.admin.AddUser(ctx, req.Key, req.Tag, req.ExpiryDays, req.UserType); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to add key")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(h.admin.Users(), "Key added"))
	h.logger.Info("Access key added via HTTP",
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "AddUser"),
	)
}

// DeleteUser removes an access key (admin only). Requires ?confirm=true;
// without it the handler answers 428 so the UI can raise its prompt.
func (h *PanelHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := chi.URLParam(r, "userID")
	confirmed := r.URL.Query().Get("confirm") == "true"

	if err := h.admin.DeleteUser(ctx, userID, confirmed); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to delete key")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(h.admin.Users(), "Key deleted"))
}

// TwoFactorState syncs the enrollment flag with the backend and returns it.
func (h *PanelHandler) TwoFactorState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.auth.RefreshTwoFactorState(ctx); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to fetch 2FA state")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]bool{
		"enabled": h.auth.Session().TwoFAEnabled,
	}, ""))
}

// BeginTwoFactorSetup starts 2FA enrollment for the logged-in admin.
func (h *PanelHandler) BeginTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	provisioning, err := h.auth.BeginTwoFactorSetup(ctx)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to start 2FA enrollment")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(provisioning, "Scan the code, then confirm"))
}

// ConfirmTwoFactorSetup completes 2FA enrollment.
func (h *PanelHandler) ConfirmTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.auth.ConfirmTwoFactorSetup(ctx, req.Code); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to confirm 2FA enrollment")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(h.sessionView(), "Two-factor authentication enabled"))
}

// DisableTwoFactor turns 2FA off for the logged-in admin.
func (h *PanelHandler) DisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.auth.DisableTwoFactor(ctx); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to disable 2FA")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(h.sessionView(), "Two-factor authentication disabled"))
}

// GetSettings returns the cached endpoint URLs and local preferences.
func (h *PanelHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{
		"api_url":     h.settings.APIURL(),
		"backend_url": h.settings.BackendURL(),
		"theme":       h.settings.Theme(),
	}, ""))
}

// RefreshSettings re-pulls the endpoint URLs from the backend.
func (h *PanelHandler) RefreshSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.settings.Refresh(ctx); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to refresh settings")
		return
	}
	h.GetSettings(w, r)
}

// SetAPIURL updates the SMS provider endpoint.
func (h *PanelHandler) SetAPIURL(w http.ResponseWriter, r *http.Request) {
	h.setURL(w, r, h.settings.SetAPIURL)
}

// SetBackendURL updates the backend's advertised public URL.
func (h *PanelHandler) SetBackendURL(w http.ResponseWriter, r *http.Request) {
	h.setURL(w, r, h.settings.SetBackendURL)
}

func (h *PanelHandler) setURL(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, rawURL string) error) {
	ctx := r.Context()

	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := apply(ctx, req.URL); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to update URL")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "URL updated"))
}

// SetTheme stores the local theme preference.
func (h *PanelHandler) SetTheme(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Theme string `json:"theme"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.settings.SetTheme(req.Theme); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to set theme")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Theme updated"))
}

// GetNotifications returns the active toast queue.
func (h *PanelHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, successResponse(h.notifier.Active(), ""))
}

// DismissNotification removes a toast before its TTL elapses.
func (h *PanelHandler) DismissNotification(w http.ResponseWriter, r *http.Request) {
	h.notifier.Dismiss(chi.URLParam(r, "toastID"))
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, ""))
}

// Helper Methods

// respondWithJSON sends a JSON response
func (h *PanelHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *PanelHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *PanelHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAuth), errors.Is(err, service.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, service.ErrConfirmRequired):
		return http.StatusPreconditionRequired
	case errors.Is(err, service.ErrConfig):
		return http.StatusPreconditionFailed
	case errors.Is(err, service.ErrNetwork), errors.Is(err, service.ErrServer):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
