package intents

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paycore/internal/gateway"
	"github.com/angelmondragon/paycore/internal/quote"
	"github.com/angelmondragon/paycore/internal/stock"
	"github.com/angelmondragon/paycore/internal/transactions"
	"github.com/angelmondragon/paycore/pkg/db"
	"github.com/angelmondragon/paycore/pkg/db/models"
	"github.com/angelmondragon/paycore/pkg/enums"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
)

const (
	maxInstallments     = 12
	defaultHolderName   = "CUSTOMER"
	paymentDescription = "Online payment"
)

var (
	holderNameChars = regexp.MustCompile(`[^a-zA-Z0-9 ]`)
	turkishFolding  = strings.NewReplacer(
		"ç", "c", "Ç", "C", "ğ", "g", "Ğ", "G", "ı", "i", "İ", "I",
		"ö", "o", "Ö", "O", "ş", "s", "Ş", "S", "ü", "u", "Ü", "U",
	)
)

// CardInput is either a stored card token or raw card fields.
type CardInput struct {
	Token      string
	HolderName string
	Number     string
	Expiry     string
	CVV        string
}

// CreateIntentInput is one checkout attempt.
type CreateIntentInput struct {
	UserID            uuid.UUID
	ShippingAddressID uuid.UUID
	Installments      int
	Items             []CartItem
	PromoCode         string
	Card              CardInput
	Buyer             gateway.Buyer
	ClientIP          string
	UIOrigin          string
}

// CreateIntentResult is the redirect contract returned to the client.
type CreateIntentResult struct {
	IntentID uuid.UUID
	Reused   bool
	ThreeD   gateway.ThreeDPayload
}

type pricingSnapshot struct {
	quote.Quote
	RateVersion       string              `json:"rate_version"`
	CaptureSource     enums.CaptureSource `json:"capture_source"`
	ShippingAddressID string              `json:"shipping_address_id"`
	CalculatedAt      time.Time           `json:"calculated_at"`
}

// CreateIntent validates the attempt, replays a live intent for the same key, or prices, stores, reserves
// stock for and initiates 3-D Secure on a new intent.
func (s *service) CreateIntent(ctx context.Context, input CreateIntentInput) (*CreateIntentResult, error) {
	source, err := s.captureSource(input.Card)
	if err != nil {
		return nil, err
	}
	items, card, err := validateCreate(input)
	if err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, input.UserID); err != nil {
		return nil, err
	}

	rateVersion, err := s.quoter.RateVersion(ctx)
	if err != nil {
		s.metrics.IncIntent("quote_failed")
		return nil, asQuoteError(err)
	}
	now := s.clock()
	key, expiresAt := s.deriver.Derive(KeyInput{
		UserID:            input.UserID,
		CartHash:          CartHash(items),
		ShippingAddressID: input.ShippingAddressID,
		Installments:      input.Installments,
		RateVersion:       rateVersion,
	}, now)

	existing, err := s.repo.FindReusable(ctx, key, now)
	switch {
	case err == nil:
		return s.replay(ctx, existing)
	case !isNotFound(err):
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup intent")
	}

	priced, err := s.quoter.Quote(ctx, quote.Request{
		UserID:            input.UserID,
		ShippingAddressID: input.ShippingAddressID,
		Items:             items,
		Installments:      input.Installments,
		PromoCode:         input.PromoCode,
	})
	if err != nil {
		s.metrics.IncIntent("quote_failed")
		return nil, asQuoteError(err)
	}
	if err := priced.Validate(); err != nil {
		s.metrics.IncIntent("quote_failed")
		return nil, err
	}

	intent := s.buildIntent(input, items, priced, rateVersion, source, key, expiresAt, now)
	if err := s.repo.Create(ctx, intent); err != nil {
		if db.IsUniqueViolation(err, "idempotency_key") {
			return s.replayByKey(ctx, key)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert intent")
	}

	reservation := make([]stock.Item, 0, len(items))
	for _, item := range items {
		reservation = append(reservation, stock.Item{ProductID: item.ProductID, Qty: item.Quantity})
	}
	if err := s.reserver.Reserve(ctx, intent.ID, reservation, s.payments.ReservationTTL); err != nil {
		s.markFailed(ctx, intent.ID, "reservation_failed")
		s.metrics.IncIntent("reservation_failed")
		if pkgerrors.IsCode(err, pkgerrors.CodeReservation) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeReservation, err, "stock reservation failed")
	}

	result, err := s.gateway.InitThreeD(ctx, gateway.ThreeDRequest{
		IntentID:     intent.ID.String(),
		AmountCents:  intent.PaidTotalCents,
		Installments: intent.InstallmentNumber,
		RedirectURL:  s.redirectURL,
		UIOrigin:     s.uiOrigin(input.UIOrigin),
		ClientIP:     input.ClientIP,
		Description:  paymentDescription,
		Card:         card,
		Buyer:        input.Buyer,
	})
	if result != nil && len(result.Exchange.Request) > 0 {
		s.record(ctx, transactions.Entry{
			IntentID:  intent.ID,
			Operation: enums.TransactionOperationInit3D,
			Exchange:  result.Exchange,
			Success:   err == nil,
			Err:       err,
		})
	}
	if err != nil {
		s.abortAfterGatewayFailure(ctx, intent.ID, gateway.FailureReason(result, err))
		s.metrics.IncIntent("gateway_failed")
		return nil, gatewayError(err)
	}

	if err := s.storeChallenge(ctx, intent.ID, result); err != nil {
		return nil, err
	}
	s.metrics.IncIntent("created")
	return &CreateIntentResult{IntentID: intent.ID, ThreeD: result.Payload}, nil
}

func (s *service) captureSource(card CardInput) (enums.CaptureSource, error) {
	if !s.payments.CardEnabled {
		return "", pkgerrors.New(pkgerrors.CodeFeatureDisabled, "card payments are disabled")
	}
	if strings.TrimSpace(card.Token) != "" {
		if !s.payments.TokenCaptureEnabled {
			return "", pkgerrors.New(pkgerrors.CodeFeatureDisabled, "stored card payments are disabled")
		}
		return enums.CaptureSourceCardToken, nil
	}
	if !s.payments.RawCaptureEnabled {
		return "", pkgerrors.New(pkgerrors.CodeFeatureDisabled, "card entry is disabled")
	}
	return enums.CaptureSourceRawCard, nil
}

func validateCreate(input CreateIntentInput) ([]quote.LineItem, gateway.Card, error) {
	if input.UserID == uuid.Nil {
		return nil, gateway.Card{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user is required")
	}
	if input.ShippingAddressID == uuid.Nil {
		return nil, gateway.Card{}, pkgerrors.New(pkgerrors.CodeValidation, "shipping address is required")
	}
	if input.Installments < 1 || input.Installments > maxInstallments {
		return nil, gateway.Card{}, pkgerrors.New(pkgerrors.CodeValidation, "installment number must be between 1 and 12")
	}
	items := NormalizeCart(input.Items)
	if len(items) == 0 {
		return nil, gateway.Card{}, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}

	if token := strings.TrimSpace(input.Card.Token); token != "" {
		return items, gateway.Card{Token: token}, nil
	}

	number := strings.Join(strings.Fields(input.Card.Number), "")
	if number == "" || strings.TrimSpace(input.Card.Expiry) == "" || strings.TrimSpace(input.Card.CVV) == "" {
		return nil, gateway.Card{}, pkgerrors.New(pkgerrors.CodeValidation, "card details are incomplete")
	}
	month, year, err := gateway.ParseExpiry(input.Card.Expiry)
	if err != nil {
		return nil, gateway.Card{}, pkgerrors.New(pkgerrors.CodeValidation, "card expiry must be MM/YY or MM/YYYY")
	}
	holder := sanitizeName(input.Card.HolderName)
	if holder == "" {
		holder = sanitizeName(input.Buyer.FullName)
	}
	if holder == "" {
		holder = defaultHolderName
	}
	return items, gateway.Card{
		HolderName: strings.ToUpper(holder),
		Number:     number,
		ExpMonth:   month,
		ExpYear:    year,
		CVC:        input.Card.CVV,
	}, nil
}

func sanitizeName(value string) string {
	folded := turkishFolding.Replace(value)
	return strings.Join(strings.Fields(holderNameChars.ReplaceAllString(folded, " ")), " ")
}

func (s *service) checkRateLimit(ctx context.Context, userID uuid.UUID) error {
	if s.limiter == nil {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, userID, enums.PaymentMethodCard)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting")
	}
	if !allowed {
		s.metrics.IncIntent("rate_limited")
		return pkgerrors.New(pkgerrors.CodeRateLimit, "too many payment attempts")
	}
	return nil
}

func (s *service) buildIntent(
	input CreateIntentInput,
	items []quote.LineItem,
	priced *quote.Quote,
	rateVersion string,
	source enums.CaptureSource,
	key string,
	expiresAt time.Time,
	now time.Time,
) *models.PaymentIntent {
	cart := priced.CartSnapshot
	if len(cart) == 0 {
		cart = mustJSON(items)
	}
	snapshot := pricingSnapshot{
		Quote:             *priced,
		RateVersion:       rateVersion,
		CaptureSource:     source,
		ShippingAddressID: input.ShippingAddressID.String(),
		CalculatedAt:      now,
	}
	snapshot.Quote.CartSnapshot = nil

	installments := priced.InstallmentNumber
	if installments == 0 {
		installments = input.Installments
	}
	id := uuid.New()
	redirect := s.redirectURL
	return &models.PaymentIntent{
		ID:                    id,
		UserID:                input.UserID,
		ShippingAddressID:     input.ShippingAddressID,
		PaymentMethod:         enums.PaymentMethodCard,
		Status:                enums.IntentStatusPending,
		IdempotencyKey:        key,
		IdempotencyExpiresAt:  expiresAt,
		Currency:              gateway.Currency,
		ItemTotalCents:        priced.ItemTotalCents,
		VATTotalCents:         priced.VATTotalCents,
		ShippingTotalCents:    priced.ShippingTotalCents,
		DiscountTotalCents:    priced.DiscountTotalCents,
		BaseTotalCents:        priced.BaseTotalCents,
		CommissionRateBps:     priced.CommissionRateBps,
		CommissionAmountCents: priced.CommissionAmountCents,
		PaidTotalCents:        priced.PaidTotalCents,
		InstallmentNumber:     installments,
		CartSnapshot:          cart,
		PricingSnapshot:       mustJSON(snapshot),
		Provider:              gateway.Provider,
		MerchantRef:           id.String(),
		ReturnURL:             &redirect,
		FailURL:               &redirect,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// replay returns the stored challenge for a live intent, or an idempotency conflict when it has none.
func (s *service) replay(ctx context.Context, intent *models.PaymentIntent) (*CreateIntentResult, error) {
	conflict := pkgerrors.New(pkgerrors.CodeIdempotency, "payment attempt already in progress").
		WithDetails(map[string]any{"intent_id": intent.ID.String()})

	if intent.ThreeDPayloadEncrypted == nil || *intent.ThreeDPayloadEncrypted == "" {
		s.metrics.IncIntent("conflict")
		return nil, conflict
	}
	version := s.sealerVersion(intent)
	plain, err := s.sealer.Open(*intent.ThreeDPayloadEncrypted, version)
	if err != nil {
		s.warn(ctx, intent.ID, "intents.replay.decrypt_failed", err)
		s.metrics.IncIntent("conflict")
		return nil, conflict
	}
	var payload gateway.ThreeDPayload
	if err := json.Unmarshal(plain, &payload); err != nil || payload.Empty() {
		s.metrics.IncIntent("conflict")
		return nil, conflict
	}
	s.metrics.IncIntent("reused")
	return &CreateIntentResult{IntentID: intent.ID, Reused: true, ThreeD: payload}, nil
}

func (s *service) replayByKey(ctx context.Context, key string) (*CreateIntentResult, error) {
	existing, err := s.repo.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload intent by idempotency key")
	}
	if !isReusable(existing.Status) {
		s.metrics.IncIntent("conflict")
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "payment attempt already in progress").
			WithDetails(map[string]any{"intent_id": existing.ID.String()})
	}
	return s.replay(ctx, existing)
}

func (s *service) sealerVersion(intent *models.PaymentIntent) int {
	if intent.ThreeDPayloadKeyVersion != nil {
		return *intent.ThreeDPayloadKeyVersion
	}
	return s.payments.PayloadKeyVersion
}

func (s *service) storeChallenge(ctx context.Context, intentID uuid.UUID, result *gateway.ThreeDResult) error {
	sealed, version, err := s.sealer.Seal(mustJSON(result.Payload))
	if err != nil {
		s.abortAfterGatewayFailure(ctx, intentID, "seal_failed")
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "seal 3DS payload")
	}
	fields := map[string]any{
		"gateway_status":             result.Exchange.ResultCode,
		"threed_payload_encrypted":   sealed,
		"threed_payload_key_version": version,
	}
	if result.TrxCode != "" {
		fields["gateway_trx_code"] = result.TrxCode
	}
	moved, err := s.repo.Transition(ctx, intentID, []enums.IntentStatus{enums.IntentStatusPending}, enums.IntentStatusAwaiting3D, fields)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store 3DS challenge")
	}
	if !moved {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "intent left pending before the challenge was stored")
	}
	return nil
}

// abortAfterGatewayFailure releases stock before the intent is marked failed with reason.
func (s *service) abortAfterGatewayFailure(ctx context.Context, intentID uuid.UUID, reason string) {
	if _, err := s.reserver.Release(ctx, intentID); err != nil {
		s.warn(ctx, intentID, "intents.release_failed", err)
	}
	s.markFailed(ctx, intentID, reason)
}

func (s *service) markFailed(ctx context.Context, intentID uuid.UUID, gatewayStatus string) {
	_, err := s.repo.Transition(ctx, intentID,
		[]enums.IntentStatus{enums.IntentStatusPending, enums.IntentStatusAwaiting3D},
		enums.IntentStatusFailed,
		map[string]any{"gateway_status": gatewayStatus})
	if err != nil {
		s.warn(ctx, intentID, "intents.mark_failed", err)
	}
}

func (s *service) uiOrigin(origin string) string {
	if trimmed := strings.TrimRight(strings.TrimSpace(origin), "/"); trimmed != "" {
		return trimmed
	}
	return strings.TrimRight(s.appBaseURL, "/")
}

func isReusable(status enums.IntentStatus) bool {
	for _, candidate := range enums.ReusableIntentStatuses {
		if candidate == status {
			return true
		}
	}
	return false
}

func asQuoteError(err error) error {
	if pkgerrors.IsCode(err, pkgerrors.CodeQuote) {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeQuote, err, "quote failure")
}

func gatewayError(err error) error {
	if typed := pkgerrors.As(err); typed != nil {
		switch typed.Code() {
		case pkgerrors.CodeDeclined, pkgerrors.CodeGatewayProtocol:
			return typed
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeGatewayProtocol, err, "3D gateway failure")
}
