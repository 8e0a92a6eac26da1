package models

import (
	"math"
	"time"
)

// ManagedUser is a provisioned access key as the admin view sees it.
// The list is always a disposable snapshot fetched from the server;
// RemainingDays and Active are recomputed locally from ExpiresAt.
type ManagedUser struct {
	ID         string     `json:"id"`
	AccessKey  string     `json:"access_key"`
	DisplayTag string     `json:"display_tag"`
	UserType   string     `json:"user_type"`
	IsAdmin    bool       `json:"is_admin"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	DailyLimit int        `json:"daily_limit"`
	DailyUsed  int        `json:"daily_used"`

	RemainingDays int  `json:"remaining_days"`
	Active        bool `json:"active"`
}

// RemainingDaysAt returns ceil((expiresAt-now)/1d), floored at zero.
// Keys without an expiry (admin keys) never expire.
func (u ManagedUser) RemainingDaysAt(now time.Time) int {
	if u.ExpiresAt == nil {
		return math.MaxInt32
	}
	d := u.ExpiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}

// Recompute fills the derived RemainingDays/Active fields.
func (u *ManagedUser) Recompute(now time.Time) {
	u.RemainingDays = u.RemainingDaysAt(now)
	u.Active = u.RemainingDays > 0
}
