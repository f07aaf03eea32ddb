package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestUserSubscription_IsActive tests active status check
func TestUserSubscription_IsActive(t *testing.T) {
	tests := []struct {
		name     string
		status   SubscriptionStatus
		expected bool
	}{
		{"active status returns true", SubscriptionStatusActive, true},
		{"cancelled status returns false", SubscriptionStatusCancelled, false},
		{"expired status returns false", SubscriptionStatusExpired, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &UserSubscription{Status: tt.status}
			assert.Equal(t, tt.expected, sub.IsActive())
		})
	}
}

func TestUserSubscription_NilIsInactive(t *testing.T) {
	var sub *UserSubscription
	assert.False(t, sub.IsActive())
	assert.False(t, sub.Covers("month"))
	assert.Equal(t, 0, sub.DaysRemaining(time.Now()))
}

// TestUserSubscription_Covers tests the already-subscribed check
func TestUserSubscription_Covers(t *testing.T) {
	tests := []struct {
		name     string
		sub      UserSubscription
		planID   string
		expected bool
	}{
		{"active on same plan", UserSubscription{PlanID: "month", Status: SubscriptionStatusActive}, "month", true},
		{"active on other plan", UserSubscription{PlanID: "month", Status: SubscriptionStatusActive}, "year", false},
		{"cancelled on same plan", UserSubscription{PlanID: "month", Status: SubscriptionStatusCancelled}, "month", false},
		{"expired on same plan", UserSubscription{PlanID: "month", Status: SubscriptionStatusExpired}, "month", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.sub.Covers(tt.planID))
		})
	}
}

func TestUserSubscription_DaysRemaining(t *testing.T) {
	now := time.Date(2025, 11, 20, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		endDate  time.Time
		expected int
	}{
		{"ends in ten days", now.AddDate(0, 0, 10), 10},
		{"ends later today", now.Add(2 * time.Hour), 0},
		{"ended yesterday", now.AddDate(0, 0, -1), 0},
		{"no end date", time.Time{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &UserSubscription{Status: SubscriptionStatusActive, EndDate: tt.endDate}
			assert.Equal(t, tt.expected, sub.DaysRemaining(now))
		})
	}
}

func TestSubscriptionStatus_IsValid(t *testing.T) {
	assert.True(t, SubscriptionStatusActive.IsValid())
	assert.True(t, SubscriptionStatusCancelled.IsValid())
	assert.True(t, SubscriptionStatusExpired.IsValid())
	assert.False(t, SubscriptionStatus("paused").IsValid())
}

func TestSubscriptionPlan_DecodesDecimalPrice(t *testing.T) {
	var plans []SubscriptionPlan
	err := json.Unmarshal([]byte(`[
		{"planId":"month","name":"Monthly","price":"9.90","durationDays":30},
		{"planId":"year","name":"Yearly","price":99.5,"durationDays":365}
	]`), &plans)
	require.NoError(t, err)
	require.Len(t, plans, 2)

	assert.True(t, decimal.RequireFromString("9.90").Equal(plans[0].Price))
	assert.True(t, decimal.RequireFromString("99.5").Equal(plans[1].Price))

	found := FindPlan(plans, "year")
	require.NotNil(t, found)
	assert.Equal(t, 365, found.DurationDays)
	assert.Nil(t, FindPlan(plans, "week"))
}
