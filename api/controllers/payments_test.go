package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/paycore/api/middleware"
	"github.com/angelmondragon/paycore/internal/gateway"
	"github.com/angelmondragon/paycore/internal/intents"
	"github.com/angelmondragon/paycore/pkg/enums"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
)

type stubIntentService struct {
	createInput  intents.CreateIntentInput
	createResult *intents.CreateIntentResult
	createErr    error

	callback       intents.CallbackInput
	completeResult *intents.CompletionResult
	completeErr    error

	refundAmount  int64
	captureAmount int64
	opResult      *intents.OperationResult
	opErr         error
}

func (s *stubIntentService) CreateIntent(_ context.Context, in intents.CreateIntentInput) (*intents.CreateIntentResult, error) {
	s.createInput = in
	return s.createResult, s.createErr
}

func (s *stubIntentService) CompleteThreeD(_ context.Context, in intents.CallbackInput) (*intents.CompletionResult, error) {
	s.callback = in
	return s.completeResult, s.completeErr
}

func (s *stubIntentService) Void(context.Context, uuid.UUID, string) (*intents.OperationResult, error) {
	return s.opResult, s.opErr
}

func (s *stubIntentService) Refund(_ context.Context, _ uuid.UUID, amount int64, _ string) (*intents.OperationResult, error) {
	s.refundAmount = amount
	return s.opResult, s.opErr
}

func (s *stubIntentService) Capture(_ context.Context, _ uuid.UUID, amount int64) (*intents.OperationResult, error) {
	s.captureAmount = amount
	return s.opResult, s.opErr
}

var testOrigins = middleware.NewOriginPolicy([]string{"https://shop.example.com"}, "https://www.example.com")

func authedRequest(method, target, body string, userID uuid.UUID, role enums.ActorRole) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req.WithContext(middleware.WithIdentity(req.Context(), userID, role))
}

func TestCreatePaymentIntentSuccess(t *testing.T) {
	intentID := uuid.New()
	svc := &stubIntentService{createResult: &intents.CreateIntentResult{
		IntentID: intentID,
		Reused:   true,
		ThreeD:   gateway.ThreeDPayload{RedirectURL: "https://acs.test/3d"},
	}}
	userID := uuid.New()
	shipping := uuid.New()
	body := `{"shippingAddressId":"` + shipping.String() + `","items":[{"product_id":"p-1","quantity":2}],
		"cardDetails":{"name":"Ada","number":"4111 1111 1111 1111","expiry":"07/29","cvv":"123"},
		"buyer":{"fullName":"Ada L","phone":"5551112233"},"uiOrigin":"https://shop.example.com/"}`
	req := authedRequest(http.MethodPost, "/api/v1/payments/intents", body, userID, enums.ActorRoleCustomer)
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	resp := httptest.NewRecorder()

	CreatePaymentIntent(svc, testOrigins, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var raw struct {
		ThreeD map[string]json.RawMessage `json:"threeD"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &raw))
	for _, key := range []string{"formAction", "formFields", "html"} {
		value, ok := raw.ThreeD[key]
		require.True(t, ok, "threeD.%s must be present", key)
		assert.Equal(t, "null", string(value))
	}

	var out createIntentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Success)
	assert.True(t, out.Reused)
	assert.Equal(t, intentID, out.IntentID)
	require.NotNil(t, out.ThreeD.RedirectURL)
	assert.Equal(t, "https://acs.test/3d", *out.ThreeD.RedirectURL)

	in := svc.createInput
	assert.Equal(t, userID, in.UserID)
	assert.Equal(t, shipping, in.ShippingAddressID)
	assert.Equal(t, 1, in.Installments)
	assert.Equal(t, "4111 1111 1111 1111", in.Card.Number)
	assert.Equal(t, "5551112233", in.Buyer.GSM)
	assert.Equal(t, "203.0.113.5", in.ClientIP)
	assert.Equal(t, "https://shop.example.com", in.UIOrigin)
}

func TestCreatePaymentIntentDropsUnknownOrigin(t *testing.T) {
	svc := &stubIntentService{createResult: &intents.CreateIntentResult{IntentID: uuid.New()}}
	body := `{"shippingAddressId":"` + uuid.NewString() + `","installmentNumber":3,"items":[{"id":"p-1","quantity":1}],"cardToken":"tok","uiOrigin":"https://evil.example.com"}`
	req := authedRequest(http.MethodPost, "/", body, uuid.New(), enums.ActorRoleCustomer)
	resp := httptest.NewRecorder()

	CreatePaymentIntent(svc, testOrigins, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, svc.createInput.UIOrigin)
	assert.Equal(t, 3, svc.createInput.Installments)
	assert.Equal(t, "tok", svc.createInput.Card.Token)
}

func TestCreatePaymentIntentErrors(t *testing.T) {
	validBody := `{"shippingAddressId":"` + uuid.NewString() + `","items":[{"id":"p-1","quantity":1}],"cardToken":"tok"}`
	tests := []struct {
		name   string
		body   string
		user   uuid.UUID
		err    error
		status int
	}{
		{name: "no identity", body: validBody, user: uuid.Nil, status: http.StatusUnauthorized},
		{name: "missing items", body: `{"shippingAddressId":"` + uuid.NewString() + `","items":[]}`, user: uuid.New(), status: http.StatusBadRequest},
		{name: "too many installments", body: `{"shippingAddressId":"` + uuid.NewString() + `","installmentNumber":13,"items":[{"id":"p","quantity":1}]}`, user: uuid.New(), status: http.StatusBadRequest},
		{name: "idempotency conflict", body: validBody, user: uuid.New(), err: pkgerrors.New(pkgerrors.CodeIdempotency, "in progress"), status: http.StatusConflict},
		{name: "rate limited", body: validBody, user: uuid.New(), err: pkgerrors.New(pkgerrors.CodeRateLimit, "slow down"), status: http.StatusTooManyRequests},
		{name: "feature disabled", body: validBody, user: uuid.New(), err: pkgerrors.New(pkgerrors.CodeFeatureDisabled, "off"), status: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubIntentService{createErr: tt.err, createResult: &intents.CreateIntentResult{IntentID: uuid.New()}}
			req := authedRequest(http.MethodPost, "/", tt.body, tt.user, enums.ActorRoleCustomer)
			resp := httptest.NewRecorder()
			CreatePaymentIntent(svc, testOrigins, nil).ServeHTTP(resp, req)
			require.Equal(t, tt.status, resp.Code, resp.Body.String())

			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["code"])
		})
	}
}

func TestThreeDReturnRedirects(t *testing.T) {
	intentID := uuid.New()
	tests := []struct {
		name     string
		target   string
		result   *intents.CompletionResult
		err      error
		wantPath string
		wantQS   map[string]string
	}{
		{
			name:     "missing intent",
			target:   "/3d-return",
			wantPath: "https://www.example.com/payment-failed",
			wantQS:   map[string]string{"code": "no_intent"},
		},
		{
			name:     "paid",
			target:   "/3d-return?intentId=" + intentID.String() + "&uiOrigin=https://shop.example.com",
			result:   &intents.CompletionResult{IntentID: intentID, Paid: true},
			wantPath: "https://shop.example.com/order-confirmation",
			wantQS:   map[string]string{"intent": intentID.String()},
		},
		{
			name:     "declined",
			target:   "/3d-return?MyTrxCode=" + intentID.String(),
			result:   &intents.CompletionResult{IntentID: intentID, ResultCode: "PaymentDealer.Declined", BankCode: "51", Message: "limit"},
			wantPath: "https://www.example.com/payment-failed",
			wantQS:   map[string]string{"intent": intentID.String(), "code": "PaymentDealer.Declined", "trxStatus": "unknown", "bankCode": "51", "msg": "limit"},
		},
		{
			name:     "no signal",
			target:   "/3d-return?intentId=" + intentID.String(),
			result:   &intents.CompletionResult{IntentID: intentID},
			wantPath: "https://www.example.com/payment-failed",
			wantQS:   map[string]string{"code": "fail", "trxStatus": "unknown"},
		},
		{
			name:     "unknown intent",
			target:   "/3d-return?intentId=" + intentID.String(),
			err:      pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found"),
			wantPath: "https://www.example.com/payment-failed",
			wantQS:   map[string]string{"code": "no_intent", "intent": intentID.String()},
		},
		{
			name:     "service failure",
			target:   "/3d-return?intentId=" + intentID.String(),
			err:      pkgerrors.New(pkgerrors.CodeDependency, "db down"),
			wantPath: "https://www.example.com/payment-failed",
			wantQS:   map[string]string{"code": "exception"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubIntentService{completeResult: tt.result, completeErr: tt.err}
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			resp := httptest.NewRecorder()
			ThreeDReturn(svc, testOrigins, "https://www.example.com/", nil).ServeHTTP(resp, req)

			require.Equal(t, http.StatusFound, resp.Code)
			loc, err := url.Parse(resp.Header().Get("Location"))
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, loc.Scheme+"://"+loc.Host+loc.Path)
			for k, v := range tt.wantQS {
				assert.Equal(t, v, loc.Query().Get(k), k)
			}
		})
	}
}

func TestThreeDReturnPassesCallbackFields(t *testing.T) {
	intentID := uuid.New()
	svc := &stubIntentService{completeResult: &intents.CompletionResult{IntentID: intentID, Paid: true}}
	req := httptest.NewRequest(http.MethodPost, "/3d-return?intentId="+intentID.String(),
		strings.NewReader("isSuccessful=True&trxCode=T-1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp := httptest.NewRecorder()

	ThreeDReturn(svc, testOrigins, "https://www.example.com", nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusFound, resp.Code)
	assert.Equal(t, intentID, svc.callback.IntentID)
	assert.Equal(t, http.MethodPost, svc.callback.Method)
	assert.Equal(t, "True", svc.callback.Fields["isSuccessful"])
	assert.Equal(t, "T-1", svc.callback.Fields["trxCode"])
}
