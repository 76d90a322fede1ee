// Package quote prices a cart for checkout through the external pricing service.
package quote

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
)

// LineItem is one normalized cart row.
type LineItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Request asks for a priced breakdown of the cart.
type Request struct {
	UserID            uuid.UUID
	ShippingAddressID uuid.UUID
	Items             []LineItem
	Installments      int
	PromoCode         string
}

// Quote is the priced breakdown, in minor units.
type Quote struct {
	Currency              string          `json:"currency"`
	ItemTotalCents        int64           `json:"item_total_cents"`
	VATTotalCents         int64           `json:"vat_total_cents"`
	ShippingTotalCents    int64           `json:"shipping_total_cents"`
	DiscountTotalCents    int64           `json:"discount_total_cents"`
	BaseTotalCents        int64           `json:"base_total_cents"`
	CommissionRateBps     int64           `json:"commission_rate_bps"`
	CommissionAmountCents int64           `json:"commission_amount_cents"`
	PaidTotalCents        int64           `json:"paid_total_cents"`
	InstallmentNumber     int             `json:"installment_number"`
	RateVersion           string          `json:"rate_version"`
	CartSnapshot          json.RawMessage `json:"cart_snapshot,omitempty"`
}

// Quoter is the pricing collaborator. RateVersion identifies the commission table in force so that a
// rate change yields a new idempotency key.
type Quoter interface {
	RateVersion(ctx context.Context) (string, error)
	Quote(ctx context.Context, req Request) (*Quote, error)
}

// Validate checks the amount identities every stored intent must satisfy.
func (q *Quote) Validate() error {
	if q == nil {
		return pkgerrors.New(pkgerrors.CodeQuote, "empty quote")
	}
	for name, v := range map[string]int64{
		"item_total_cents":        q.ItemTotalCents,
		"vat_total_cents":         q.VATTotalCents,
		"shipping_total_cents":    q.ShippingTotalCents,
		"discount_total_cents":    q.DiscountTotalCents,
		"base_total_cents":        q.BaseTotalCents,
		"commission_rate_bps":     q.CommissionRateBps,
		"commission_amount_cents": q.CommissionAmountCents,
		"paid_total_cents":        q.PaidTotalCents,
	} {
		if v < 0 {
			return pkgerrors.New(pkgerrors.CodeQuote, fmt.Sprintf("%s must not be negative", name))
		}
	}
	if q.BaseTotalCents != q.ItemTotalCents+q.VATTotalCents+q.ShippingTotalCents-q.DiscountTotalCents {
		return pkgerrors.New(pkgerrors.CodeQuote, "base total does not match its components")
	}
	if q.PaidTotalCents != q.BaseTotalCents+q.CommissionAmountCents {
		return pkgerrors.New(pkgerrors.CodeQuote, "paid total does not match base total plus commission")
	}
	if q.PaidTotalCents == 0 {
		return pkgerrors.New(pkgerrors.CodeQuote, "paid total must be positive")
	}
	return nil
}
