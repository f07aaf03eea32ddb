package domain

import (
	"errors"
	"fmt"
	"sort"
)

// ErrorCode is the machine-readable reason a checkout step failed
type ErrorCode string

const (
	ErrorCodeTransport             ErrorCode = "TRANSPORT_ERROR"
	ErrorCodeProcessorDeclined     ErrorCode = "PROCESSOR_DECLINED"
	ErrorCodePaymentPending        ErrorCode = "PAYMENT_PENDING"
	ErrorCodeInitiationFailed      ErrorCode = "INITIATION_FAILED"
	ErrorCodeSurfaceBlocked        ErrorCode = "SURFACE_BLOCKED"
	ErrorCodeReconciliationTimeout ErrorCode = "RECONCILIATION_TIMEOUT"
	ErrorCodeMissingOrder          ErrorCode = "MISSING_ORDER"
	ErrorCodeNotAuthenticated      ErrorCode = "NOT_AUTHENTICATED"
	ErrorCodeAlreadySubscribed     ErrorCode = "ALREADY_SUBSCRIBED"
	ErrorCodePlanNotFound          ErrorCode = "PLAN_NOT_FOUND"
	ErrorCodeNoActiveSubscription  ErrorCode = "NO_ACTIVE_SUBSCRIPTION"
	ErrorCodeValidationFailed      ErrorCode = "VALIDATION_FAILED"
	ErrorCodeInternalError         ErrorCode = "INTERNAL_ERROR"
)

// codeInfo is what the user is told about a code, and whether trying the
// same action again can change the result
type codeInfo struct {
	message   string
	retryable bool
}

var catalog = map[ErrorCode]codeInfo{
	ErrorCodeTransport:             {"We could not reach the payment service. Please try again.", true},
	ErrorCodeProcessorDeclined:     {"The payment was declined by the payment provider.", false},
	ErrorCodePaymentPending:        {"Your payment has not been confirmed yet. Please check again in a moment.", true},
	ErrorCodeInitiationFailed:      {"The payment could not be started. Please try again.", true},
	ErrorCodeSurfaceBlocked:        {"The payment window was blocked. Allow pop-ups for this site and try again.", true},
	ErrorCodeReconciliationTimeout: {"We could not confirm your payment in time. Please check your subscription again later.", true},
	ErrorCodeMissingOrder:          {"No payment to verify was found.", false},
	ErrorCodeNotAuthenticated:      {"Please sign in again to verify your payment.", false},
	ErrorCodeAlreadySubscribed:     {"You are already subscribed to this plan.", false},
	ErrorCodePlanNotFound:          {"The selected plan is not available.", false},
	ErrorCodeNoActiveSubscription:  {"You do not have an active subscription.", false},
	ErrorCodeValidationFailed:      {"The request was invalid.", false},
	ErrorCodeInternalError:         {"Something went wrong. Please try again.", false},
}

// Codes lists every known code in sorted order
func Codes() []ErrorCode {
	out := make([]ErrorCode, 0, len(catalog))
	for code := range catalog {
		out = append(out, code)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DomainError carries a code, a developer message and optional context
type DomainError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError with the same code, so the predeclared
// instances below work with errors.Is after wrapping
func (e *DomainError) Is(target error) bool {
	other, ok := target.(*DomainError)
	return ok && other.Code == e.Code
}

// WithDetail attaches context for logs and API responses
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

// IsDomainError reports whether err wraps a DomainError. Given codes, the
// error must carry one of them.
func IsDomainError(err error, codes ...ErrorCode) bool {
	var de *DomainError
	if !errors.As(err, &de) {
		return false
	}
	if len(codes) == 0 {
		return true
	}
	for _, c := range codes {
		if de.Code == c {
			return true
		}
	}
	return false
}

// GetErrorCode returns the outermost DomainError code, or "" for other errors
func GetErrorCode(err error) ErrorCode {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsRetryable reports whether repeating the user's action can succeed
func IsRetryable(err error) bool {
	return catalog[GetErrorCode(err)].retryable
}

// IsTransportError reports whether the settlement backend was unreachable or misbehaved
func IsTransportError(err error) bool {
	return IsDomainError(err, ErrorCodeTransport)
}

// UserMessage is the display text for err. Unknown errors read as internal.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if info, ok := catalog[GetErrorCode(err)]; ok {
		return info.message
	}
	return catalog[ErrorCodeInternalError].message
}

var (
	ErrTransport             = NewDomainError(ErrorCodeTransport, "settlement backend unavailable")
	ErrProcessorDeclined     = NewDomainError(ErrorCodeProcessorDeclined, "payment declined by processor")
	ErrPaymentPending        = NewDomainError(ErrorCodePaymentPending, "payment not yet settled")
	ErrInitiationFailed      = NewDomainError(ErrorCodeInitiationFailed, "purchase initiation failed")
	ErrSurfaceBlocked        = NewDomainError(ErrorCodeSurfaceBlocked, "external payment surface blocked by host")
	ErrReconciliationTimeout = NewDomainError(ErrorCodeReconciliationTimeout, "payment not reconciled before ceiling")
	ErrMissingOrder          = NewDomainError(ErrorCodeMissingOrder, "no order identifier to verify")
	ErrNotAuthenticated      = NewDomainError(ErrorCodeNotAuthenticated, "authenticated session required")
	ErrAlreadySubscribed     = NewDomainError(ErrorCodeAlreadySubscribed, "plan already subscribed")
	ErrPlanNotFound          = NewDomainError(ErrorCodePlanNotFound, "plan not found")
	ErrNoActiveSubscription  = NewDomainError(ErrorCodeNoActiveSubscription, "no active subscription")
	ErrValidationFailed      = NewDomainError(ErrorCodeValidationFailed, "validation failed")
	ErrInternalError         = NewDomainError(ErrorCodeInternalError, "internal server error")
)
