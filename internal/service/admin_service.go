package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"sms-panel/internal/client"
	"sms-panel/internal/models"
	"sms-panel/internal/util"
)

// AdminService manages provisioned access keys. The user list is a cached
// snapshot of what the server returned; every mutation refetches the whole
// list rather than patching the cache, since the server is the source of
// truth for expiry and usage.
type AdminService struct {
	mu       sync.RWMutex
	backend  Backend
	sessions *SessionStore
	notifier *Notifier

	users []models.ManagedUser
	now   func() time.Time
}

func NewAdminService(backend Backend, sessions *SessionStore, notifier *Notifier) *AdminService {
	return &AdminService{
		backend:  backend,
		sessions: sessions,
		notifier: notifier,
		now:      time.Now,
	}
}

// FetchUsers pulls the user list from the backend and replaces the cached
// snapshot wholesale.
func (s *AdminService) FetchUsers(ctx context.Context) ([]models.ManagedUser, error) {
	if err := s.requireAdmin(); err != nil {
		return nil, err
	}

	records, err := s.backend.ListUsers(ctx, s.sessions.Token())
	if err != nil {
		wrapped := classifyAuthError(err)
		s.notifier.Error(userMessage(wrapped))
		return nil, wrapped
	}

	now := s.now()
	users := make([]models.ManagedUser, 0, len(records))
	for _, rec := range records {
		users = append(users, normalizeUser(rec, now))
	}

	s.mu.Lock()
	s.users = users
	s.mu.Unlock()

	util.Debug("User list refreshed", util.Int("users", len(users)))
	return s.Users(), nil
}

// Users returns the cached snapshot with derived fields recomputed against
// the current clock.
func (s *AdminService) Users() []models.ManagedUser {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]models.ManagedUser, len(s.users))
	copy(out, s.users)
	for i := range out {
		out[i].Recompute(now)
	}
	return out
}

// AddUser provisions a new access key. The duplicate check against the
// cached list is best-effort; the server check is authoritative.
func (s *AdminService) AddUser(ctx context.Context, key, tag string, expiryDays int, userType string) error {
	if err := s.requireAdmin(); err != nil {
		return err
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: access key is required", ErrValidation)
	}
	tag = util.SanitizeInput(tag)

	switch userType {
	case models.UserTypeNormal, models.UserTypePremium, models.UserTypeAdmin:
	case "":
		userType = models.UserTypeNormal
	default:
		return fmt.Errorf("%w: unknown user type %q", ErrValidation, userType)
	}
	if userType != models.UserTypeAdmin && expiryDays < 1 {
		return fmt.Errorf("%w: expiry must be at least 1 day", ErrValidation)
	}

	s.mu.RLock()
	for _, u := range s.users {
		if u.AccessKey == key {
			s.mu.RUnlock()
			return fmt.Errorf("%w: %s", ErrDuplicateKey, util.MaskKey(key))
		}
	}
	s.mu.RUnlock()

	res, err := s.backend.AddKey(ctx, s.sessions.Token(), client.AddKeyRequest{
		Key:        key,
		UserID:     tag,
		ExpiryDays: expiryDays,
		IsAdmin:    userType == models.UserTypeAdmin,
		UserType:   userType,
	})
	if err != nil {
		wrapped := classifyAuthError(err)
		s.notifier.Error(userMessage(wrapped))
		return wrapped
	}
	s.applyRotation(res.NewToken)

	s.notifier.Success("Key added")
	util.Info("Access key provisioned",
		util.String("key", util.MaskKey(key)),
		util.String("user_type", userType),
		util.Int("expiry_days", expiryDays),
	)

	if _, err := s.FetchUsers(ctx); err != nil {
		util.Warn("User list refresh after add failed", util.ErrorField(err))
	}
	return nil
}

// DeleteUser removes a provisioned key. The caller must pass confirmed=true;
// the first, unconfirmed call returns ErrConfirmRequired so the UI can show
// its prompt without any network traffic.
func (s *AdminService) DeleteUser(ctx context.Context, id string, confirmed bool) error {
	if err := s.requireAdmin(); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if !confirmed {
		return ErrConfirmRequired
	}

	res, err := s.backend.DeleteUser(ctx, s.sessions.Token(), id)
	if err != nil {
		wrapped := classifyAuthError(err)
		s.notifier.Error(userMessage(wrapped))
		return wrapped
	}
	s.applyRotation(res.NewToken)

	s.notifier.Success("Key deleted")
	util.Info("Access key deleted", util.String("user_id", id))

	if _, err := s.FetchUsers(ctx); err != nil {
		util.Warn("User list refresh after delete failed", util.ErrorField(err))
	}
	return nil
}

// Reset drops the cached snapshot. Called on logout.
func (s *AdminService) Reset() {
	s.mu.Lock()
	s.users = nil
	s.mu.Unlock()
}

func (s *AdminService) requireAdmin() error {
	session := s.sessions.Current()
	if !session.Authenticated {
		return ErrNotAuthenticated
	}
	if session.Role != models.RoleAdmin {
		return fmt.Errorf("%w: admin role required", ErrNotAuthenticated)
	}
	return nil
}

func (s *AdminService) applyRotation(newToken string) {
	if err := s.sessions.RotateToken(newToken); err != nil {
		util.Warn("Rotated token not persisted", util.ErrorField(err))
	}
}

// normalizeUser maps one raw server record onto ManagedUser. The server has
// shipped several field spellings over time, so every field is coalesced
// from its known aliases in one place.
func normalizeUser(rec client.UserRecord, now time.Time) models.ManagedUser {
	user := models.ManagedUser{
		ID:         strField(rec, "id", "key"),
		AccessKey:  strField(rec, "key", "access_key", "accessKey"),
		DisplayTag: strField(rec, "user_id", "userId", "display_tag", "tag"),
		UserType:   strField(rec, "user_type", "userType", "type"),
		IsAdmin:    boolField(rec, "is_admin", "isAdmin"),
		ExpiresAt:  timeField(rec, "expiry_date", "expires_at", "expiresAt"),
		CreatedAt:  timeField(rec, "created_at", "createdAt"),
		DailyLimit: intField(rec, "daily_limit", "dailyLimit", "usage_limit"),
		DailyUsed:  intField(rec, "daily_used", "dailyUsed"),
	}
	if user.UserType == "" {
		user.UserType = models.UserTypeNormal
		if user.IsAdmin {
			user.UserType = models.UserTypeAdmin
		}
	}
	user.Recompute(now)
	return user
}

func strField(rec client.UserRecord, keys ...string) string {
	for _, k := range keys {
		switch v := rec[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func boolField(rec client.UserRecord, keys ...string) bool {
	for _, k := range keys {
		switch v := rec[k].(type) {
		case bool:
			return v
		case float64:
			return v != 0
		case string:
			if parsed, err := strconv.ParseBool(v); err == nil {
				return parsed
			}
		}
	}
	return false
}

func intField(rec client.UserRecord, keys ...string) int {
	for _, k := range keys {
		switch v := rec[k].(type) {
		case float64:
			return int(v)
		case string:
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return 0
}

// timeField parses the timestamp layouts the server is known to emit.
func timeField(rec client.UserRecord, keys ...string) *time.Time {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, k := range keys {
		raw, ok := rec[k].(string)
		if !ok || raw == "" {
			continue
		}
		for _, layout := range layouts {
			if parsed, err := time.Parse(layout, raw); err == nil {
				return &parsed
			}
		}
	}
	return nil
}
