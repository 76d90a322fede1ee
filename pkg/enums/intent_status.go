package enums

import "fmt"

// IntentStatus tracks the lifecycle of a payment intent.
type IntentStatus string

const (
	IntentStatusPending       IntentStatus = "pending"
	IntentStatusAwaiting3D    IntentStatus = "awaiting_3d"
	IntentStatusPaid          IntentStatus = "paid"
	IntentStatusFailed        IntentStatus = "failed"
	IntentStatusVoidPending   IntentStatus = "void_pending"
	IntentStatusVoided        IntentStatus = "voided"
	IntentStatusRefundPending IntentStatus = "refund_pending"
	IntentStatusRefunded      IntentStatus = "refunded"
)

var validIntentStatuses = []IntentStatus{
	IntentStatusPending,
	IntentStatusAwaiting3D,
	IntentStatusPaid,
	IntentStatusFailed,
	IntentStatusVoidPending,
	IntentStatusVoided,
	IntentStatusRefundPending,
	IntentStatusRefunded,
}

// ReusableIntentStatuses are the states in which an intent may be replayed to the client.
var ReusableIntentStatuses = []IntentStatus{IntentStatusPending, IntentStatusAwaiting3D}

// String implements fmt.Stringer.
func (s IntentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known IntentStatus.
func (s IntentStatus) IsValid() bool {
	for _, candidate := range validIntentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s IntentStatus) IsTerminal() bool {
	switch s {
	case IntentStatusFailed, IntentStatusVoided, IntentStatusRefunded:
		return true
	}
	return false
}

// ParseIntentStatus converts raw input into an IntentStatus.
func ParseIntentStatus(value string) (IntentStatus, error) {
	for _, candidate := range validIntentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid intent status %q", value)
}
