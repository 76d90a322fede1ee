package controllers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/paycore/api/middleware"
	"github.com/angelmondragon/paycore/api/responses"
	"github.com/angelmondragon/paycore/api/validators"
	"github.com/angelmondragon/paycore/internal/gateway"
	"github.com/angelmondragon/paycore/internal/intents"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/logger"
)

type createIntentRequest struct {
	ShippingAddressID uuid.UUID          `json:"shippingAddressId" validate:"required"`
	InstallmentNumber int                `json:"installmentNumber" validate:"gte=0,lte=12"`
	Items             []cartItemRequest  `json:"items" validate:"required,min=1,dive"`
	PromoCode         string             `json:"promoCode,omitempty" validate:"max=64"`
	CardToken         string             `json:"cardToken,omitempty"`
	CardDetails       *cardDetailRequest `json:"cardDetails,omitempty"`
	Buyer             *buyerRequest      `json:"buyer,omitempty"`
	UIOrigin          string             `json:"uiOrigin,omitempty"`
}

type cartItemRequest struct {
	ProductID string `json:"product_id,omitempty"`
	ID        string `json:"id,omitempty"`
	Quantity  int    `json:"quantity" validate:"gte=0"`
}

type cardDetailRequest struct {
	Name   string `json:"name,omitempty"`
	Number string `json:"number"`
	Expiry string `json:"expiry"`
	CVV    string `json:"cvv"`
}

type buyerRequest struct {
	FullName string `json:"fullName,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
}

type createIntentResponse struct {
	Success  bool           `json:"success"`
	IntentID uuid.UUID      `json:"intentId"`
	Reused   bool           `json:"reused"`
	ThreeD   threeDResponse `json:"threeD"`
}

// threeDResponse always carries all four hints; absent ones are null.
type threeDResponse struct {
	RedirectURL *string           `json:"redirectUrl"`
	FormAction  *string           `json:"formAction"`
	FormFields  map[string]string `json:"formFields"`
	HTML        *string           `json:"html"`
}

func newThreeDResponse(p gateway.ThreeDPayload) threeDResponse {
	out := threeDResponse{
		RedirectURL: nullableString(p.RedirectURL),
		FormAction:  nullableString(p.FormAction),
		HTML:        nullableString(p.HTML),
	}
	if len(p.FormFields) > 0 {
		out.FormFields = p.FormFields
	}
	return out
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

// CreatePaymentIntent starts a card payment and returns the 3-D Secure rendering hints.
func CreatePaymentIntent(svc intents.Service, origins middleware.OriginPolicy, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		userID := middleware.UserIDFromContext(r.Context())
		if userID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		var payload createIntentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := payload.toInput(userID, validators.ClientIP(r))
		input.UIOrigin = allowedOrigin(origins, firstNonBlank(payload.UIOrigin, r.Header.Get("Origin")))

		result, err := svc.CreateIntent(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteJSON(w, http.StatusOK, createIntentResponse{
			Success:  true,
			IntentID: result.IntentID,
			Reused:   result.Reused,
			ThreeD:   newThreeDResponse(result.ThreeD),
		})
	}
}

func (p createIntentRequest) toInput(userID uuid.UUID, clientIP string) intents.CreateIntentInput {
	installments := p.InstallmentNumber
	if installments == 0 {
		installments = 1
	}
	items := make([]intents.CartItem, 0, len(p.Items))
	for _, item := range p.Items {
		items = append(items, intents.CartItem{ProductID: item.ProductID, ID: item.ID, Quantity: item.Quantity})
	}
	input := intents.CreateIntentInput{
		UserID:            userID,
		ShippingAddressID: p.ShippingAddressID,
		Installments:      installments,
		Items:             items,
		PromoCode:         strings.TrimSpace(p.PromoCode),
		Card:              intents.CardInput{Token: strings.TrimSpace(p.CardToken)},
		ClientIP:          clientIP,
	}
	if p.CardDetails != nil {
		input.Card.HolderName = p.CardDetails.Name
		input.Card.Number = p.CardDetails.Number
		input.Card.Expiry = p.CardDetails.Expiry
		input.Card.CVV = p.CardDetails.CVV
	}
	if p.Buyer != nil {
		input.Buyer = gateway.Buyer{
			FullName: p.Buyer.FullName,
			Email:    p.Buyer.Email,
			GSM:      p.Buyer.Phone,
			Address:  p.Buyer.Address,
		}
	}
	return input
}

// ThreeDReturn finalizes an intent from the gateway's browser redirect and sends the shopper back to the UI.
func ThreeDReturn(svc intents.Service, origins middleware.OriginPolicy, appBaseURL string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		query := r.URL.Query()
		ui := allowedOrigin(origins, query.Get("uiOrigin"))
		if ui == "" {
			ui = strings.TrimRight(appBaseURL, "/")
		}

		rawID := firstNonBlank(query.Get("MyTrxCode"), query.Get("intentId"))
		intentID, err := uuid.Parse(strings.TrimSpace(rawID))
		if err != nil || intentID == uuid.Nil {
			redirect(w, r, ui+"/payment-failed", url.Values{"code": {"no_intent"}})
			return
		}
		if logg != nil {
			ctx = logg.WithIntentID(ctx, intentID.String())
		}

		fields, err := validators.ParseCallbackFields(r)
		if err != nil && logg != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "payments.3d_return.parse_failed")
		}

		result, err := svc.CompleteThreeD(ctx, intents.CallbackInput{
			IntentID:    intentID,
			Method:      r.Method,
			ContentType: r.Header.Get("Content-Type"),
			Fields:      fields,
		})
		if err != nil {
			if logg != nil {
				logg.Error(ctx, "payments.3d_return.failed", err)
			}
			code := "exception"
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				code = "no_intent"
			}
			redirect(w, r, ui+"/payment-failed", url.Values{"intent": {intentID.String()}, "code": {code}})
			return
		}

		if result.Paid {
			redirect(w, r, ui+"/order-confirmation", url.Values{"intent": {intentID.String()}})
			return
		}
		redirect(w, r, ui+"/payment-failed", url.Values{
			"intent":    {intentID.String()},
			"code":      {firstNonBlank(result.ResultCode, "fail")},
			"trxStatus": {firstNonBlank(result.TrxStatus, "unknown")},
			"bankCode":  {result.BankCode},
			"msg":       {result.Message},
		})
	}
}

func redirect(w http.ResponseWriter, r *http.Request, target string, params url.Values) {
	http.Redirect(w, r, target+"?"+params.Encode(), http.StatusFound)
}

func allowedOrigin(origins middleware.OriginPolicy, origin string) string {
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	if origin == "" || !origins.Allowed(origin) {
		return ""
	}
	return origin
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
