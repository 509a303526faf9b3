package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// ErrInvalidSignature is returned when a webhook payload does not carry a
// valid, fresh Stripe-Signature.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// DefaultTolerance bounds the age of a signed webhook timestamp.
const DefaultTolerance = webhook.DefaultTolerance

// VerifySignature checks the header against the payload and returns the
// decoded event. Any v1 signature may match, which allows secret rotation.
// The event's API version is not checked; only the fields read here matter.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration) (stripe.Event, error) {
	if secret == "" || header == "" {
		return stripe.Event{}, ErrInvalidSignature
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, header, secret, tolerance); err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var ev stripe.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return stripe.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Data == nil {
		return stripe.Event{}, fmt.Errorf("decode event %s: missing data", ev.ID)
	}
	return ev, nil
}
