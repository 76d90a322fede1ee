package enums

// ReservationStatus tracks a stock hold created for a payment intent.
type ReservationStatus string

const (
	ReservationStatusActive   ReservationStatus = "active"
	ReservationStatusReleased ReservationStatus = "released"
	ReservationStatusConsumed ReservationStatus = "consumed"
)

// String implements fmt.Stringer.
func (s ReservationStatus) String() string {
	return string(s)
}
