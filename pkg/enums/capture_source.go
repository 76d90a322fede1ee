package enums

import "fmt"

// CaptureSource identifies how card data reached the gateway.
type CaptureSource string

const (
	CaptureSourceRawCard   CaptureSource = "raw_card"
	CaptureSourceCardToken CaptureSource = "card_token"
)

// String implements fmt.Stringer.
func (c CaptureSource) String() string {
	return string(c)
}

// ParseCaptureSource converts raw input into a CaptureSource.
func ParseCaptureSource(value string) (CaptureSource, error) {
	switch CaptureSource(value) {
	case CaptureSourceRawCard, CaptureSourceCardToken:
		return CaptureSource(value), nil
	}
	return "", fmt.Errorf("invalid capture source %q", value)
}
