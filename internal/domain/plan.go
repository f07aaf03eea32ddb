package domain

import (
	"github.com/shopspring/decimal"
)

// SubscriptionPlan is an immutable catalog entry; identity is PlanID
type SubscriptionPlan struct {
	Price        decimal.Decimal `json:"price"`
	PlanID       string          `json:"planId"`
	Name         string          `json:"name"`
	DurationDays int             `json:"durationDays"`
}

// FindPlan returns the plan with the given ID, or nil
func FindPlan(plans []SubscriptionPlan, planID string) *SubscriptionPlan {
	for i := range plans {
		if plans[i].PlanID == planID {
			return &plans[i]
		}
	}
	return nil
}
