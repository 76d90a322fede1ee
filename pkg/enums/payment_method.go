package enums

// PaymentMethod describes how a buyer settles a checkout.
type PaymentMethod string

const (
	PaymentMethodCard PaymentMethod = "card"
)

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}
