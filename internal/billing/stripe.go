package billing

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// CheckoutParams describes one hosted checkout session.
type CheckoutParams struct {
	Mode              string
	PriceID           string
	SuccessURL        string
	CancelURL         string
	ClientReferenceID string
	Metadata          map[string]string
}

// Session is the subset of a Stripe checkout session used here.
type Session struct {
	ID                string
	URL               string
	Mode              string
	Status            string
	PaymentStatus     string
	ClientReferenceID string
	Metadata          map[string]string
}

// Paid reports whether Stripe considers the session settled.
func (s Session) Paid() bool {
	return s.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusPaid) ||
		s.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusNoPaymentRequired)
}

func sessionFrom(cs *stripe.CheckoutSession) Session {
	return Session{
		ID:                cs.ID,
		URL:               cs.URL,
		Mode:              string(cs.Mode),
		Status:            string(cs.Status),
		PaymentStatus:     string(cs.PaymentStatus),
		ClientReferenceID: cs.ClientReferenceID,
		Metadata:          cs.Metadata,
	}
}

// StripeClient wraps the stripe-go checkout session API.
type StripeClient struct {
	api *client.API
}

// NewStripeClient builds a client against baseURL (the public API when
// empty). maxRetries is handed to stripe-go's network retry loop.
func NewStripeClient(baseURL, secretKey string, timeoutMs, maxRetries int) *StripeClient {
	if timeoutMs <= 0 {
		timeoutMs = 15000
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		MaxNetworkRetries: stripe.Int64(int64(maxRetries)),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if baseURL != "" {
		cfg.URL = stripe.String(baseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)
	return &StripeClient{api: client.New(secretKey, &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})}
}

// CreateCheckoutSession creates a hosted checkout session. An idempotency
// key makes retried creates safe.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(p.Mode),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(p.PriceID),
			Quantity: stripe.Int64(1),
		}},
	}
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewString())
	if p.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(p.ClientReferenceID)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	// Renewal invoices only carry the subscription's metadata.
	if p.Mode == string(stripe.CheckoutSessionModeSubscription) {
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{Metadata: p.Metadata}
	}

	cs, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return Session{}, err
	}
	return sessionFrom(cs), nil
}

// GetCheckoutSession retrieves a session by id.
func (c *StripeClient) GetCheckoutSession(ctx context.Context, id string) (Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	cs, err := c.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return Session{}, err
	}
	return sessionFrom(cs), nil
}
