package domain

import (
	"time"

	"github.com/kevin07696/subscription-checkout/pkg/timeutil"
)

// SubscriptionStatus represents the subscription state
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

// IsValid reports whether the status is one the backend is allowed to return
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusCancelled, SubscriptionStatusExpired:
		return true
	}
	return false
}

// UserSubscription is the backend-owned subscription of a single user.
// It is replaced wholesale on refetch and never patched locally.
type UserSubscription struct {
	StartDate time.Time          `json:"startDate"`
	EndDate   time.Time          `json:"endDate"`
	PlanID    string             `json:"planId"`
	Status    SubscriptionStatus `json:"status"`
}

// IsActive returns true if the subscription is currently active
func (s *UserSubscription) IsActive() bool {
	return s != nil && s.Status == SubscriptionStatusActive
}

// Covers returns true if the subscription is active on the given plan
func (s *UserSubscription) Covers(planID string) bool {
	return s.IsActive() && s.PlanID == planID
}

// DaysRemaining returns the whole days left until EndDate, never negative
func (s *UserSubscription) DaysRemaining(now time.Time) int {
	if s == nil || s.EndDate.IsZero() {
		return 0
	}
	days := int(timeutil.StartOfDay(s.EndDate).Sub(timeutil.StartOfDay(now)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
