package enums

import "fmt"

// ReviewReason is the closed set of anomalies routed to the manual review queue.
type ReviewReason string

const (
	ReviewReasonStuckVoidPending        ReviewReason = "stuck_void_pending"
	ReviewReasonStuckRefundPending      ReviewReason = "stuck_refund_pending"
	ReviewReasonReconWindowOverflow     ReviewReason = "reconciliation_window_overflow"
	ReviewReasonGatewayPaidLocalMissing ReviewReason = "gateway_paid_but_local_missing"
	ReviewReasonAmountMismatch          ReviewReason = "amount_mismatch"
	ReviewReasonLocalPaidGatewayMissing ReviewReason = "local_paid_but_gateway_missing"
)

var validReviewReasons = []ReviewReason{
	ReviewReasonStuckVoidPending,
	ReviewReasonStuckRefundPending,
	ReviewReasonReconWindowOverflow,
	ReviewReasonGatewayPaidLocalMissing,
	ReviewReasonAmountMismatch,
	ReviewReasonLocalPaidGatewayMissing,
}

// String implements fmt.Stringer.
func (r ReviewReason) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ReviewReason.
func (r ReviewReason) IsValid() bool {
	for _, candidate := range validReviewReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseReviewReason converts raw input into a ReviewReason.
func ParseReviewReason(value string) (ReviewReason, error) {
	for _, candidate := range validReviewReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid review reason %q", value)
}
