package intents

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const dayBucketLayout = "2006-01-02"

// KeyInput is everything that makes two checkout attempts the same attempt.
type KeyInput struct {
	UserID            uuid.UUID
	CartHash          string
	ShippingAddressID uuid.UUID
	Installments      int
	RateVersion       string
}

// Deriver builds idempotency keys that stay stable within one reuse window.
type Deriver struct {
	window time.Duration
}

// NewDeriver returns a deriver for the reuse window; non-positive windows fall back to ten minutes.
func NewDeriver(window time.Duration) Deriver {
	if window < time.Second {
		window = 10 * time.Minute
	}
	return Deriver{window: window.Truncate(time.Second)}
}

// Derive returns the key and the instant its reuse bucket ends.
func (d Deriver) Derive(in KeyInput, now time.Time) (string, time.Time) {
	now = now.UTC()
	windowSeconds := int64(d.window / time.Second)
	bucket := now.Unix() / windowSeconds

	material := strings.Join([]string{
		in.UserID.String(),
		in.CartHash,
		in.ShippingAddressID.String(),
		strconv.Itoa(in.Installments),
		in.RateVersion,
		now.Format(dayBucketLayout),
		strconv.FormatInt(bucket, 10),
	}, "|")
	sum := sha256.Sum256([]byte(material))

	expires := time.Unix((bucket+1)*windowSeconds, 0).UTC()
	return hex.EncodeToString(sum[:]), expires
}
