package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kevin07696/subscription-checkout/internal/adapters/pendingstore"
	"github.com/kevin07696/subscription-checkout/internal/adapters/surface"
	"github.com/kevin07696/subscription-checkout/internal/auth"
	"github.com/kevin07696/subscription-checkout/internal/domain"
	"github.com/kevin07696/subscription-checkout/internal/services/purchase"
	"github.com/kevin07696/subscription-checkout/internal/services/reconciliation"
	"github.com/kevin07696/subscription-checkout/pkg/resilience"
	"github.com/kevin07696/subscription-checkout/test/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testPlans = []domain.SubscriptionPlan{
	{PlanID: "month", Name: "Monthly", Price: decimal.RequireFromString("9.99"), DurationDays: 30},
	{PlanID: "year", Name: "Yearly", Price: decimal.RequireFromString("99.00"), DurationDays: 365},
}

type apiFixture struct {
	settlement *mocks.MockSettlementClient
	stores     *pendingstore.MemoryBackend
	hosted     *surface.Hosted
	mux        *http.ServeMux
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		settlement: mocks.NewMockSettlementClient(),
		stores:     pendingstore.NewMemoryBackend(),
		hosted:     surface.NewHosted(surface.DefaultHostedConfig(), nil),
		mux:        http.NewServeMux(),
	}
	f.settlement.SetPlans(testPlans, nil)

	timeouts := resilience.TestTimeoutConfig()
	idle := reconciliation.Config{
		CloseWatchInterval:  time.Hour,
		StatusWatchInterval: time.Hour,
		Ceiling:             time.Hour,
	}
	registry := purchase.NewRegistry(purchase.DefaultRegistryConfig(), func(userID string) purchase.Deps {
		view := f.hosted.ForUser(userID)
		return purchase.Deps{
			Settlement: f.settlement,
			Store:      f.stores.ForUser(userID),
			Surface:    view,
			Reconciler: reconciliation.NewPoller(f.settlement, view, idle, timeouts, nil, nil),
			Timeouts:   timeouts,
		}
	}, nil)
	t.Cleanup(registry.Shutdown)
	t.Cleanup(f.hosted.Shutdown)

	NewHandler(registry, f.hosted, timeouts, zap.NewNop()).Register(f.mux, nil)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, body, userID string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req = req.WithContext(auth.WithAuth(req.Context(), &auth.AuthInfo{Type: auth.AuthTypeSession, UserID: userID}))
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	return rec, decoded
}

func activeSub(planID string) *domain.UserSubscription {
	now := time.Now()
	return &domain.UserSubscription{PlanID: planID, Status: domain.SubscriptionStatusActive, StartDate: now, EndDate: now.AddDate(0, 0, 30)}
}

func TestHandler_RequiresUser(t *testing.T) {
	f := newAPIFixture(t)

	rec, body := f.do(t, http.MethodGet, "/api/v1/checkout/state", "", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "NOT_AUTHENTICATED", body["code"])
}

func TestHandler_RefreshAndState(t *testing.T) {
	f := newAPIFixture(t)
	f.settlement.SetSubscription(activeSub("year"), nil)

	rec, body := f.do(t, http.MethodPost, "/api/v1/checkout/refresh", "", "user-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["plans"], 2)

	active, ok := body["activePlan"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Yearly", active["name"])

	rec, body = f.do(t, http.MethodGet, "/api/v1/checkout/state", "", "user-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["plans"], 2)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestHandler_RequestOpensPrompt(t *testing.T) {
	f := newAPIFixture(t)

	rec, body := f.do(t, http.MethodPost, "/api/v1/checkout/request", `{"planId":"month"}`, "user-1")

	require.Equal(t, http.StatusOK, rec.Code)
	prompt, ok := body["processorPrompt"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "month", prompt["planId"])
	assert.ElementsMatch(t, []interface{}{"alipay", "paypal"}, prompt["processors"])
}

func TestHandler_AlreadySubscribed(t *testing.T) {
	f := newAPIFixture(t)
	f.settlement.SetSubscription(activeSub("month"), nil)
	f.do(t, http.MethodPost, "/api/v1/checkout/refresh", "", "user-1")

	rec, body := f.do(t, http.MethodPost, "/api/v1/checkout/choose", `{"planId":"month","processor":"alipay"}`, "user-1")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_SUBSCRIBED", body["code"])
	assert.NotNil(t, body["state"])
	_, _, initiate, _, _ := f.settlement.Counts()
	assert.Equal(t, 0, initiate)
}

func TestHandler_ChooseDocumentProcessor(t *testing.T) {
	f := newAPIFixture(t)
	doc := `<form action="https://openapi.alipay.com/gateway.do"></form>`
	f.settlement.SetInitiateResponse(&domain.PaymentInitiationResult{
		Success: true, OrderNo: "ORD-1", Processor: domain.ProcessorAlipay, ConfirmationDocument: &doc,
	}, nil)

	rec, body := f.do(t, http.MethodPost, "/api/v1/checkout/choose", `{"planId":"month","processor":"alipay"}`, "user-1")

	require.Equal(t, http.StatusOK, rec.Code, body)
	attempt, ok := body["attempt"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ORD-1", attempt["orderNo"])
	assert.True(t, strings.HasPrefix(attempt["surfaceUrl"].(string), "/checkout/"))
	assert.Equal(t, "watching", attempt["state"])
	assert.Nil(t, body["redirect"])

	record, err := f.stores.ForUser("user-1").Read(context.Background())
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "ORD-1", record.OrderNo)
}

func TestHandler_ChooseRedirectProcessor(t *testing.T) {
	f := newAPIFixture(t)
	target := "https://www.paypal.com/checkoutnow?token=ORD-2"
	f.settlement.SetInitiateResponse(&domain.PaymentInitiationResult{
		Success: true, OrderNo: "ORD-2", Processor: domain.ProcessorPayPal, RedirectTarget: &target,
	}, nil)

	rec, body := f.do(t, http.MethodPost, "/api/v1/checkout/choose", `{"planId":"year","processor":"paypal"}`, "user-1")

	require.Equal(t, http.StatusOK, rec.Code, body)
	assert.Equal(t, target, body["redirect"])

	// The navigation is handed out once
	_, body = f.do(t, http.MethodGet, "/api/v1/checkout/state", "", "user-1")
	assert.Nil(t, body["redirect"])
}

func TestHandler_ChooseErrors(t *testing.T) {
	refusal := "plan not sold in your region"

	tests := []struct {
		name       string
		body       string
		initiate   *domain.PaymentInitiationResult
		wantStatus int
		wantCode   string
		wantDetail string
	}{
		{
			name:       "missing processor",
			body:       `{"planId":"month"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name:       "malformed body",
			body:       `{"planId":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name:       "unknown processor",
			body:       `{"planId":"month","processor":"bitcoin"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name:       "backend refuses",
			body:       `{"planId":"month","processor":"alipay"}`,
			initiate:   &domain.PaymentInitiationResult{Success: false, ErrorMessage: &refusal},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "INITIATION_FAILED",
			wantDetail: refusal,
		},
		{
			name:       "backend unreachable",
			body:       `{"planId":"month","processor":"alipay"}`,
			wantStatus: http.StatusBadGateway,
			wantCode:   "TRANSPORT_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			f.settlement.SetInitiateResponse(tt.initiate, nil)

			rec, body := f.do(t, http.MethodPost, "/api/v1/checkout/choose", tt.body, "user-1")

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, body["code"])
			assert.NotEmpty(t, body["message"])
			if tt.wantDetail != "" {
				assert.Equal(t, tt.wantDetail, body["detail"])
			}
		})
	}
}

func TestHandler_RetrySurfaceWithoutBlockedWindow(t *testing.T) {
	f := newAPIFixture(t)

	rec, body := f.do(t, http.MethodPost, "/api/v1/checkout/retry-surface", "", "user-1")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", body["code"])
}

func TestHandler_Dismiss(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, http.MethodPost, "/api/v1/checkout/request", `{"planId":"month"}`, "user-1")

	rec, body := f.do(t, http.MethodPost, "/api/v1/checkout/dismiss", "", "user-1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, body["processorPrompt"])
}

func TestHandler_CancelSubscription(t *testing.T) {
	t.Run("no active subscription", func(t *testing.T) {
		f := newAPIFixture(t)

		rec, body := f.do(t, http.MethodPost, "/api/v1/subscription/cancel", `{"reason":"too expensive"}`, "user-1")

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "NO_ACTIVE_SUBSCRIPTION", body["code"])
	})

	t.Run("active subscription", func(t *testing.T) {
		f := newAPIFixture(t)
		f.settlement.SetSubscription(activeSub("month"), nil)
		f.do(t, http.MethodPost, "/api/v1/checkout/refresh", "", "user-1")
		f.settlement.SetSubscription(nil, nil)

		rec, body := f.do(t, http.MethodPost, "/api/v1/subscription/cancel", `{"reason":"too expensive"}`, "user-1")

		require.Equal(t, http.StatusOK, rec.Code, body)
		assert.Nil(t, body["subscription"])
		assert.Equal(t, "too expensive", f.settlement.LastCancelReason)
	})
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotAuthenticated, http.StatusUnauthorized},
		{domain.ErrValidationFailed, http.StatusBadRequest},
		{domain.ErrMissingOrder, http.StatusBadRequest},
		{domain.ErrPlanNotFound, http.StatusNotFound},
		{domain.ErrAlreadySubscribed, http.StatusConflict},
		{domain.ErrNoActiveSubscription, http.StatusConflict},
		{domain.ErrSurfaceBlocked, http.StatusConflict},
		{domain.ErrProcessorDeclined, http.StatusPaymentRequired},
		{domain.ErrInitiationFailed, http.StatusUnprocessableEntity},
		{domain.ErrPaymentPending, http.StatusAccepted},
		{domain.WrapError(domain.ErrorCodeTransport, "timeout", errors.New("dial tcp")), http.StatusBadGateway},
		{domain.ErrReconciliationTimeout, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusForError(tt.err); got != tt.want {
			t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
