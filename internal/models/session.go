package models

import "time"

// Role is the authenticated identity's role inside the panel.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// UserType mirrors the backend's account tiers.
const (
	UserTypeNormal  = "normal"
	UserTypePremium = "premium"
	UserTypeAdmin   = "admin"
)

// Session is the current authenticated identity. It is either fully
// authenticated or absent; there is no partially-authenticated state.
type Session struct {
	Authenticated bool      `json:"authenticated"`
	Role          Role      `json:"role"`
	UserType      string    `json:"user_type"`
	AccessToken   string    `json:"access_token"`
	DailyQuota    int       `json:"daily_quota"`
	DailyUsed     int       `json:"daily_used"`
	TwoFAEnabled  bool      `json:"two_fa_enabled"`
	LoginAt       time.Time `json:"login_at,omitempty"`
}

// Unlimited reports whether the daily quota applies. Admin and premium
// accounts are not metered.
func (s Session) Unlimited() bool {
	return s.Role == RoleAdmin || s.UserType == UserTypePremium
}

// EmptySession is the logged-out default: normal role, zero usage.
func EmptySession() Session {
	return Session{
		Authenticated: false,
		Role:          RoleUser,
		UserType:      UserTypeNormal,
	}
}

// PendingTwoFactor bridges the credential check and the OTP confirmation.
// It lives in memory only and is never persisted.
type PendingTwoFactor struct {
	TempToken    string
	AwaitingCode bool
}
