package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paycore/api/middleware"
	"github.com/angelmondragon/paycore/api/responses"
	"github.com/angelmondragon/paycore/api/validators"
	"github.com/angelmondragon/paycore/internal/intents"
	"github.com/angelmondragon/paycore/internal/reviewqueue"
	"github.com/angelmondragon/paycore/pkg/db/models"
	"github.com/angelmondragon/paycore/pkg/enums"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/logger"
	"github.com/angelmondragon/paycore/pkg/pagination"
)

// ReviewService is the operator view of the manual review queue.
type ReviewService interface {
	ListOpen(ctx context.Context, params pagination.Params) (*reviewqueue.Page, error)
	Resolve(ctx context.Context, id uuid.UUID, operator, note string) (*models.ManualReviewEntry, error)
}

// TransactionHistory reads the gateway exchanges recorded for an intent.
type TransactionHistory interface {
	History(ctx context.Context, intentID uuid.UUID) ([]models.PaymentTransaction, error)
}

type transactionResponse struct {
	ID              uuid.UUID                  `json:"id"`
	Operation       enums.TransactionOperation `json:"operation"`
	Success         bool                       `json:"success"`
	ErrorCode       *string                    `json:"error_code"`
	ErrorMessage    *string                    `json:"error_message"`
	RequestPayload  json.RawMessage            `json:"request_payload"`
	ResponsePayload json.RawMessage            `json:"response_payload"`
	CreatedAt       time.Time                  `json:"created_at"`
}

type operationResponse struct {
	IntentID    uuid.UUID          `json:"intent_id"`
	Status      enums.IntentStatus `json:"status"`
	Pending     bool               `json:"pending"`
	AmountCents int64              `json:"amount_cents,omitempty"`
}

type amountRequest struct {
	AmountCents int64 `json:"amount_cents" validate:"gte=0"`
}

type resolveRequest struct {
	Note string `json:"note" validate:"max=2000"`
}

type reviewPageResponse struct {
	Entries    []reviewEntryResponse `json:"entries"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

type reviewEntryResponse struct {
	ID             uuid.UUID          `json:"id"`
	IntentID       *uuid.UUID         `json:"intent_id,omitempty"`
	Reason         enums.ReviewReason `json:"reason"`
	Details        json.RawMessage    `json:"details"`
	CreatedAt      time.Time          `json:"created_at"`
	ResolvedAt     *time.Time         `json:"resolved_at,omitempty"`
	ResolvedBy     *string            `json:"resolved_by,omitempty"`
	ResolutionNote *string            `json:"resolution_note,omitempty"`
}

// AdminVoidPayment cancels a paid intent at the gateway.
func AdminVoidPayment(svc intents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		intentID, err := validators.ParseUUIDParam(r, "intentID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Void(r.Context(), intentID, validators.ClientIP(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeOperation(w, result)
	}
}

// AdminRefundPayment refunds a paid intent; an empty body or zero amount refunds in full.
func AdminRefundPayment(svc intents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		intentID, err := validators.ParseUUIDParam(r, "intentID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload amountRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		result, err := svc.Refund(r.Context(), intentID, payload.AmountCents, validators.ClientIP(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeOperation(w, result)
	}
}

// AdminCapturePayment settles a paid intent at the gateway; an empty body or zero amount captures in full.
func AdminCapturePayment(svc intents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		intentID, err := validators.ParseUUIDParam(r, "intentID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload amountRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		result, err := svc.Capture(r.Context(), intentID, payload.AmountCents)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeOperation(w, result)
	}
}

func writeOperation(w http.ResponseWriter, result *intents.OperationResult) {
	status := http.StatusOK
	if result.Pending {
		status = http.StatusAccepted
	}
	responses.WriteSuccessStatus(w, status, operationResponse{
		IntentID:    result.IntentID,
		Status:      result.Status,
		Pending:     result.Pending,
		AmountCents: result.AmountCents,
	})
}

// AdminPaymentTransactions lists the masked gateway exchanges of one intent, oldest first.
func AdminPaymentTransactions(svc TransactionHistory, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transaction log unavailable"))
			return
		}
		intentID, err := validators.ParseUUIDParam(r, "intentID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.History(r.Context(), intentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction history"))
			return
		}
		out := make([]transactionResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, transactionResponse{
				ID:              row.ID,
				Operation:       row.Operation,
				Success:         row.Success,
				ErrorCode:       row.ErrorCode,
				ErrorMessage:    row.ErrorMessage,
				RequestPayload:  nullJSON(row.RequestPayload),
				ResponsePayload: nullJSON(row.ResponsePayload),
				CreatedAt:       row.CreatedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}

func nullJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`null`)
	}
	return raw
}

// AdminListReviews pages through unresolved review entries, oldest first.
func AdminListReviews(svc ReviewService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListOpen(r.Context(), pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := reviewPageResponse{
			Entries:    make([]reviewEntryResponse, 0, len(page.Entries)),
			NextCursor: page.NextCursor,
		}
		for _, entry := range page.Entries {
			out.Entries = append(out.Entries, newReviewEntryResponse(entry))
		}
		responses.WriteSuccess(w, out)
	}
}

// AdminResolveReview closes a review entry on behalf of the calling operator.
func AdminResolveReview(svc ReviewService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entryID, err := validators.ParseUUIDParam(r, "entryID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		operator := middleware.UserIDFromContext(r.Context())
		if operator == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		var payload resolveRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		entry, err := svc.Resolve(r.Context(), entryID, operator.String(), strings.TrimSpace(payload.Note))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newReviewEntryResponse(*entry))
	}
}

func newReviewEntryResponse(entry models.ManualReviewEntry) reviewEntryResponse {
	details := entry.Details
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}
	return reviewEntryResponse{
		ID:             entry.ID,
		IntentID:       entry.IntentID,
		Reason:         entry.Reason,
		Details:        details,
		CreatedAt:      entry.CreatedAt,
		ResolvedAt:     entry.ResolvedAt,
		ResolvedBy:     entry.ResolvedBy,
		ResolutionNote: entry.ResolutionNote,
	}
}
