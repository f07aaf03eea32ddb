package domain

import (
	"strings"
	"time"
)

// Processor identifies an external payment settlement provider
type Processor string

const (
	// ProcessorAlipay yields a confirmation document rendered in an auxiliary window
	ProcessorAlipay Processor = "alipay"
	// ProcessorPayPal yields a redirect target for the current context
	ProcessorPayPal Processor = "paypal"
)

// Processors lists the processors offered in the payment method prompt
func Processors() []Processor {
	return []Processor{ProcessorAlipay, ProcessorPayPal}
}

// ParseProcessor normalizes and validates a processor code
func ParseProcessor(value string) (Processor, error) {
	p := Processor(strings.ToLower(strings.TrimSpace(value)))
	switch p {
	case ProcessorAlipay, ProcessorPayPal:
		return p, nil
	}
	return "", NewDomainError(ErrorCodeValidationFailed, "unsupported processor").
		WithDetail("processor", value)
}

// PurchaseIntent is built per purchase attempt and never persisted
type PurchaseIntent struct {
	UserID    string    `json:"userId"`
	PlanID    string    `json:"planId"`
	Processor Processor `json:"processor"`
}

// Validate checks that all fields of the intent are populated
func (i PurchaseIntent) Validate() error {
	if i.UserID == "" {
		return NewDomainError(ErrorCodeValidationFailed, "userId is required")
	}
	if i.PlanID == "" {
		return NewDomainError(ErrorCodeValidationFailed, "planId is required")
	}
	if _, err := ParseProcessor(string(i.Processor)); err != nil {
		return err
	}
	return nil
}

// SurfaceKind tells the orchestrator how to hand the user to the processor
type SurfaceKind string

const (
	SurfaceKindDocument SurfaceKind = "document"
	SurfaceKindRedirect SurfaceKind = "redirect"
)

// PaymentInitiationResult is the backend response to a purchase request
type PaymentInitiationResult struct {
	ConfirmationDocument *string   `json:"confirmationDocument,omitempty"`
	RedirectTarget       *string   `json:"redirectTarget,omitempty"`
	ErrorMessage         *string   `json:"errorMessage,omitempty"`
	OrderNo              string    `json:"orderNo"`
	Processor            Processor `json:"processor"`
	Success              bool      `json:"success"`
}

// SurfaceKind returns which surface field is populated.
// Exactly one must be non-empty on a successful result.
func (r *PaymentInitiationResult) SurfaceKind() (SurfaceKind, error) {
	hasDoc := r.ConfirmationDocument != nil && *r.ConfirmationDocument != ""
	hasRedirect := r.RedirectTarget != nil && *r.RedirectTarget != ""
	switch {
	case hasDoc && !hasRedirect:
		return SurfaceKindDocument, nil
	case hasRedirect && !hasDoc:
		return SurfaceKindRedirect, nil
	}
	return "", NewDomainError(ErrorCodeTransport, "initiation result must carry exactly one of confirmationDocument or redirectTarget").
		WithDetail("order_no", r.OrderNo)
}

// Validate checks a successful result is usable
func (r *PaymentInitiationResult) Validate() error {
	if !r.Success {
		return nil
	}
	if r.OrderNo == "" {
		return NewDomainError(ErrorCodeTransport, "initiation result missing orderNo")
	}
	_, err := r.SurfaceKind()
	return err
}

// Message returns the backend-provided error message, if any
func (r *PaymentInitiationResult) Message() string {
	if r.ErrorMessage != nil {
		return *r.ErrorMessage
	}
	return ""
}

// PendingPaymentRecord is the durable marker of exactly one in-flight attempt
type PendingPaymentRecord struct {
	OrderNo          string    `json:"orderNo"`
	PlanID           string    `json:"planId"`
	Processor        Processor `json:"processor"`
	StartedAtEpochMs int64     `json:"timestamp"`
}

// Age returns how long ago the attempt started
func (r *PendingPaymentRecord) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(r.StartedAtEpochMs))
}

// SettlementStatus is the backend view of an order
type SettlementStatus string

const (
	SettlementStatusPaid    SettlementStatus = "paid"
	SettlementStatusPending SettlementStatus = "pending"
	SettlementStatusFailed  SettlementStatus = "failed"
)

// ReconciliationOutcome is the result of a status query or return-page verification
type ReconciliationOutcome struct {
	Subscription *UserSubscription `json:"subscription,omitempty"`
	ErrorMessage *string           `json:"errorMessage,omitempty"`
	Status       SettlementStatus  `json:"status,omitempty"`
	Success      bool              `json:"success"`
}

// Normalize derives Status when the backend omitted it
func (o *ReconciliationOutcome) Normalize() {
	if o.Success {
		o.Status = SettlementStatusPaid
		return
	}
	switch o.Status {
	case SettlementStatusPaid:
		o.Success = true
	case SettlementStatusFailed, SettlementStatusPending:
	default:
		o.Status = SettlementStatusPending
	}
}

// IsPaid reports a definitive success
func (o *ReconciliationOutcome) IsPaid() bool {
	return o.Success || o.Status == SettlementStatusPaid
}

// IsFailed reports a definitive processor-side failure
func (o *ReconciliationOutcome) IsFailed() bool {
	return !o.IsPaid() && o.Status == SettlementStatusFailed
}

// IsDefinitive reports whether the outcome ends reconciliation
func (o *ReconciliationOutcome) IsDefinitive() bool {
	return o.IsPaid() || o.IsFailed()
}

// Message returns the backend-provided error message, if any
func (o *ReconciliationOutcome) Message() string {
	if o.ErrorMessage != nil {
		return *o.ErrorMessage
	}
	return ""
}
