package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/paycore/internal/intents"
	"github.com/angelmondragon/paycore/internal/maintenance"
	"github.com/angelmondragon/paycore/internal/reviewqueue"
	"github.com/angelmondragon/paycore/pkg/db/models"
	"github.com/angelmondragon/paycore/pkg/enums"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/pagination"
)

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestAdminVoidPayment(t *testing.T) {
	intentID := uuid.New()
	svc := &stubIntentService{opResult: &intents.OperationResult{IntentID: intentID, Status: enums.IntentStatusVoided}}
	req := withURLParam(authedRequest(http.MethodPost, "/", "", uuid.New(), enums.ActorRoleAdmin), "intentID", intentID.String())
	resp := httptest.NewRecorder()

	AdminVoidPayment(svc, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var body struct {
		Success bool              `json:"success"`
		Data    operationResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, enums.IntentStatusVoided, body.Data.Status)
	assert.False(t, body.Data.Pending)
}

func TestAdminRefundPendingIsAccepted(t *testing.T) {
	intentID := uuid.New()
	svc := &stubIntentService{opResult: &intents.OperationResult{IntentID: intentID, Status: enums.IntentStatusRefundPending, Pending: true, AmountCents: 500}}
	req := withURLParam(authedRequest(http.MethodPost, "/", `{"amount_cents":500}`, uuid.New(), enums.ActorRoleAdmin), "intentID", intentID.String())
	resp := httptest.NewRecorder()

	AdminRefundPayment(svc, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusAccepted, resp.Code)
	assert.Equal(t, int64(500), svc.refundAmount)
}

func TestAdminCapturePayment(t *testing.T) {
	intentID := uuid.New()
	svc := &stubIntentService{opResult: &intents.OperationResult{IntentID: intentID, Status: enums.IntentStatusPaid, AmountCents: 750}}
	req := withURLParam(authedRequest(http.MethodPost, "/", `{"amount_cents":750}`, uuid.New(), enums.ActorRoleAdmin), "intentID", intentID.String())
	resp := httptest.NewRecorder()

	AdminCapturePayment(svc, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, int64(750), svc.captureAmount)
	assert.Contains(t, resp.Body.String(), `"status":"paid"`)

	svc.opErr = pkgerrors.New(pkgerrors.CodeDeclined, "capture failed")
	resp = httptest.NewRecorder()
	req = withURLParam(authedRequest(http.MethodPost, "/", "", uuid.New(), enums.ActorRoleAdmin), "intentID", intentID.String())
	AdminCapturePayment(svc, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, int64(0), svc.captureAmount)
}

func TestAdminOperationErrors(t *testing.T) {
	svc := &stubIntentService{opErr: pkgerrors.New(pkgerrors.CodeStateConflict, "intent is not paid")}
	req := withURLParam(authedRequest(http.MethodPost, "/", "", uuid.New(), enums.ActorRoleAdmin), "intentID", uuid.NewString())
	resp := httptest.NewRecorder()
	AdminVoidPayment(svc, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	req = withURLParam(authedRequest(http.MethodPost, "/", "", uuid.New(), enums.ActorRoleAdmin), "intentID", "bogus")
	resp = httptest.NewRecorder()
	AdminRefundPayment(svc, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	req = withURLParam(authedRequest(http.MethodPost, "/", `{"amount_cents":-1}`, uuid.New(), enums.ActorRoleAdmin), "intentID", uuid.NewString())
	resp = httptest.NewRecorder()
	AdminRefundPayment(svc, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

type stubHistory struct {
	rows   []models.PaymentTransaction
	err    error
	intent uuid.UUID
}

func (s *stubHistory) History(_ context.Context, intentID uuid.UUID) ([]models.PaymentTransaction, error) {
	s.intent = intentID
	return s.rows, s.err
}

func TestAdminPaymentTransactions(t *testing.T) {
	intentID := uuid.New()
	code := "PaymentDealer.DoVoid.InvalidRequest"
	history := &stubHistory{rows: []models.PaymentTransaction{
		{ID: uuid.New(), IntentID: intentID, Operation: enums.TransactionOperationInit3D, Success: true, RequestPayload: json.RawMessage(`{"masked":true}`)},
		{ID: uuid.New(), IntentID: intentID, Operation: enums.TransactionOperationVoid, ErrorCode: &code},
	}}
	req := withURLParam(authedRequest(http.MethodGet, "/", "", uuid.New(), enums.ActorRoleAdmin), "intentID", intentID.String())
	resp := httptest.NewRecorder()

	AdminPaymentTransactions(history, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, intentID, history.intent)
	var body struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Data, 2)
	assert.Equal(t, "init_3d", body.Data[0]["operation"])
	assert.Equal(t, map[string]any{"masked": true}, body.Data[0]["request_payload"])
	assert.Nil(t, body.Data[1]["response_payload"])
	assert.Equal(t, code, body.Data[1]["error_code"])

	history.err = errors.New("db down")
	resp = httptest.NewRecorder()
	AdminPaymentTransactions(history, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

type stubReviewService struct {
	entries  []models.ManualReviewEntry
	params   pagination.Params
	operator string
	note     string
	err      error
}

func (s *stubReviewService) ListOpen(_ context.Context, params pagination.Params) (*reviewqueue.Page, error) {
	s.params = params
	if s.err != nil {
		return nil, s.err
	}
	return &reviewqueue.Page{Entries: s.entries, NextCursor: "next"}, nil
}

func (s *stubReviewService) Resolve(_ context.Context, id uuid.UUID, operator, note string) (*models.ManualReviewEntry, error) {
	s.operator, s.note = operator, note
	if s.err != nil {
		return nil, s.err
	}
	now := time.Now()
	return &models.ManualReviewEntry{ID: id, ResolvedAt: &now, ResolvedBy: &operator}, nil
}

func TestAdminListReviews(t *testing.T) {
	svc := &stubReviewService{entries: []models.ManualReviewEntry{{
		ID:        uuid.New(),
		Reason:    enums.ReviewReasonStuckVoidPending,
		Details:   json.RawMessage(`{"age_minutes":45}`),
		DedupeKey: "k",
	}}}
	req := authedRequest(http.MethodGet, "/?limit=10&cursor=abc", "", uuid.New(), enums.ActorRoleAdmin)
	resp := httptest.NewRecorder()

	AdminListReviews(svc, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, pagination.Params{Limit: 10, Cursor: "abc"}, svc.params)
	var body struct {
		Data reviewPageResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Data.Entries, 1)
	assert.Equal(t, "next", body.Data.NextCursor)
	assert.JSONEq(t, `{"age_minutes":45}`, string(body.Data.Entries[0].Details))

	req = authedRequest(http.MethodGet, "/?limit=500", "", uuid.New(), enums.ActorRoleAdmin)
	resp = httptest.NewRecorder()
	AdminListReviews(svc, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAdminResolveReview(t *testing.T) {
	operator := uuid.New()
	svc := &stubReviewService{}
	entryID := uuid.New()
	req := withURLParam(authedRequest(http.MethodPost, "/", `{"note":" refunded manually "}`, operator, enums.ActorRoleAdmin), "entryID", entryID.String())
	resp := httptest.NewRecorder()

	AdminResolveReview(svc, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, operator.String(), svc.operator)
	assert.Equal(t, "refunded manually", svc.note)

	svc.err = pkgerrors.New(pkgerrors.CodeStateConflict, "review entry already resolved")
	req = withURLParam(authedRequest(http.MethodPost, "/", "", operator, enums.ActorRoleAdmin), "entryID", entryID.String())
	resp = httptest.NewRecorder()
	AdminResolveReview(svc, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

type stubMaintenance struct {
	opts   maintenance.Options
	result *maintenance.Result
	err    error
}

func (s *stubMaintenance) Run(_ context.Context, opts maintenance.Options) (*maintenance.Result, error) {
	s.opts = opts
	return s.result, s.err
}

func TestRunMaintenanceFlags(t *testing.T) {
	sw := &stubMaintenance{result: &maintenance.Result{ExpiredIntents: 3}}
	defaults := maintenance.Options{RunReconciliation: true}

	req := httptest.NewRequest(http.MethodPost, "/internal/maintenance", nil)
	resp := httptest.NewRecorder()
	RunMaintenance(sw, defaults, nil).ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, defaults, sw.opts)

	req = authedRequest(http.MethodPost, "/internal/maintenance", `{"probe_providers":true,"run_reconciliation":false}`, uuid.Nil, "")
	resp = httptest.NewRecorder()
	RunMaintenance(sw, defaults, nil).ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, maintenance.Options{ProbeProviders: true}, sw.opts)

	var body struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.EqualValues(t, 3, body.Data["expired_intents"])
}

func TestRunMaintenanceAcceptsSchedulerFlagName(t *testing.T) {
	sw := &stubMaintenance{result: &maintenance.Result{}}
	defaults := maintenance.Options{RunReconciliation: true}

	req := authedRequest(http.MethodPost, "/internal/maintenance", `{"run_provider_checks":true}`, uuid.Nil, "")
	resp := httptest.NewRecorder()
	RunMaintenance(sw, defaults, nil).ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, maintenance.Options{ProbeProviders: true, RunReconciliation: true}, sw.opts)

	req = authedRequest(http.MethodPost, "/internal/maintenance", `{"run_provider_checks":false,"probe_providers":true}`, uuid.Nil, "")
	resp = httptest.NewRecorder()
	RunMaintenance(sw, defaults, nil).ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.False(t, sw.opts.ProbeProviders)
}

func TestRunMaintenanceReportsStepErrors(t *testing.T) {
	sw := &stubMaintenance{
		result: &maintenance.Result{},
		err:    pkgerrors.New(pkgerrors.CodeDependency, "release expired reservations: db down"),
	}
	resp := httptest.NewRecorder()
	RunMaintenance(sw, maintenance.Options{}, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	var body struct {
		Data struct {
			Errors []string `json:"errors"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Data.Errors, 1)
	assert.Contains(t, body.Data.Errors[0], "db down")
}
