package settlement

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kevin07696/subscription-checkout/internal/domain"
	"github.com/kevin07696/subscription-checkout/pkg/timeutil"
)

// Backend response structures

type plansEnvelope struct {
	Plans []domain.SubscriptionPlan `json:"plans"`
}

type subscriptionPayload struct {
	PlanID    string `json:"planId"`
	Status    string `json:"status"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type paymentStatusPayload struct {
	Subscription *subscriptionPayload `json:"subscription"`
	ErrorMessage *string              `json:"errorMessage"`
	Status       string               `json:"status"`
	Success      bool                 `json:"success"`
}

// Backend request structures

type purchaseRequest struct {
	UserID    string `json:"userId"`
	PlanID    string `json:"planId"`
	Processor string `json:"processor"`
}

type cancelRequest struct {
	UserID string `json:"userId"`
	Reason string `json:"reason,omitempty"`
}

// decodePlans accepts either a bare array or {"plans": [...]}
func decodePlans(body []byte) ([]domain.SubscriptionPlan, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var plans []domain.SubscriptionPlan
		if err := json.Unmarshal(trimmed, &plans); err != nil {
			return nil, err
		}
		return plans, nil
	}

	var env plansEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, err
	}
	if env.Plans == nil {
		return nil, fmt.Errorf("response has no plans field")
	}
	return env.Plans, nil
}

// decodeSubscription returns nil for a JSON null body
func decodeSubscription(body []byte) (*domain.UserSubscription, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var payload subscriptionPayload
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return nil, err
	}
	return payload.toDomain()
}

func (p *subscriptionPayload) toDomain() (*domain.UserSubscription, error) {
	status := domain.SubscriptionStatus(p.Status)
	if !status.IsValid() {
		return nil, fmt.Errorf("unknown subscription status %q", p.Status)
	}
	if p.PlanID == "" {
		return nil, fmt.Errorf("subscription missing planId")
	}

	sub := &domain.UserSubscription{
		PlanID: p.PlanID,
		Status: status,
	}

	if p.StartDate != "" {
		start, err := timeutil.ParseDate(p.StartDate)
		if err != nil {
			return nil, fmt.Errorf("startDate: %w", err)
		}
		sub.StartDate = start
	}
	if p.EndDate != "" {
		end, err := timeutil.ParseDate(p.EndDate)
		if err != nil {
			return nil, fmt.Errorf("endDate: %w", err)
		}
		sub.EndDate = end
	}

	return sub, nil
}

func decodeInitiation(body []byte) (*domain.PaymentInitiationResult, error) {
	var result domain.PaymentInitiationResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return &result, nil
}

func decodeOutcome(body []byte) (*domain.ReconciliationOutcome, error) {
	var payload paymentStatusPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	outcome := &domain.ReconciliationOutcome{
		Success:      payload.Success,
		Status:       domain.SettlementStatus(payload.Status),
		ErrorMessage: payload.ErrorMessage,
	}
	if payload.Subscription != nil {
		sub, err := payload.Subscription.toDomain()
		if err != nil {
			return nil, fmt.Errorf("subscription: %w", err)
		}
		outcome.Subscription = sub
	}
	outcome.Normalize()

	return outcome, nil
}
