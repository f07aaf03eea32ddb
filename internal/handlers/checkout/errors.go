package checkout

import (
	"errors"
	"net/http"

	"github.com/kevin07696/subscription-checkout/internal/domain"
	"github.com/kevin07696/subscription-checkout/internal/services/purchase"
	"github.com/kevin07696/subscription-checkout/pkg/encoding"
)

// statusForError maps domain errors to HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrValidationFailed),
		errors.Is(err, domain.ErrMissingOrder):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPlanNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadySubscribed),
		errors.Is(err, domain.ErrNoActiveSubscription),
		errors.Is(err, domain.ErrSurfaceBlocked):
		return http.StatusConflict
	case errors.Is(err, domain.ErrProcessorDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrInitiationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrPaymentPending):
		return http.StatusAccepted
	case errors.Is(err, domain.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrReconciliationTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	*purchase.ErrorView
	State *purchase.Snapshot `json:"state,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	_ = encoding.WriteJSON(w, status, body)
}

func respondError(w http.ResponseWriter, err error, state *purchase.Snapshot) {
	respondJSON(w, statusForError(err), ErrorResponse{
		ErrorView: purchase.NewErrorView(err),
		State:     state,
	})
}
