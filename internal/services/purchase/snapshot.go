package purchase

import (
	"errors"
	"time"

	"github.com/kevin07696/subscription-checkout/internal/domain"
)

// ProcessorPrompt asks the user which processor to pay a plan with
type ProcessorPrompt struct {
	PlanID     string             `json:"planId"`
	Processors []domain.Processor `json:"processors"`
}

// AttemptView is the presentation view of the current purchase attempt
type AttemptView struct {
	StartedAt      time.Time        `json:"startedAt"`
	OrderNo        string           `json:"orderNo,omitempty"`
	PlanID         string           `json:"planId"`
	Processor      domain.Processor `json:"processor"`
	SurfaceURL     string           `json:"surfaceUrl,omitempty"`
	RedirectTarget string           `json:"redirectTarget,omitempty"`
	State          string           `json:"state"`
	Blocked        bool             `json:"blocked"`
}

// ErrorView is what the presentation shows for the last failure
type ErrorView struct {
	Code      domain.ErrorCode `json:"code"`
	Message   string           `json:"message"`
	Detail    string           `json:"detail,omitempty"`
	Retryable bool             `json:"retryable"`
}

// NewErrorView builds the user-facing view of err
func NewErrorView(err error) *ErrorView {
	if err == nil {
		return nil
	}
	code := domain.GetErrorCode(err)
	if code == "" {
		code = domain.ErrorCodeInternalError
	}
	view := &ErrorView{
		Code:      code,
		Message:   domain.UserMessage(err),
		Retryable: domain.IsRetryable(err),
	}

	// Backend and processor messages are worth showing verbatim
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		switch code {
		case domain.ErrorCodeProcessorDeclined, domain.ErrorCodeInitiationFailed:
			view.Detail = domainErr.Message
		}
	}
	return view
}

// Snapshot is a consistent copy of the orchestrator's derived state
type Snapshot struct {
	Plans          []domain.SubscriptionPlan     `json:"plans"`
	Subscription   *domain.UserSubscription      `json:"subscription"`
	Prompt         *ProcessorPrompt              `json:"processorPrompt,omitempty"`
	Attempt        *AttemptView                  `json:"attempt,omitempty"`
	Error          *ErrorView                    `json:"error,omitempty"`
	Outcome        *domain.ReconciliationOutcome `json:"outcome,omitempty"`
	SelectedPlanID string                        `json:"selectedPlanId,omitempty"`
	Loading        bool                          `json:"loading"`
	Purchasing     bool                          `json:"purchasing"`
}

// ActivePlan returns the plan the user is subscribed to, if any
func (s Snapshot) ActivePlan() *domain.SubscriptionPlan {
	if !s.Subscription.IsActive() {
		return nil
	}
	return domain.FindPlan(s.Plans, s.Subscription.PlanID)
}
