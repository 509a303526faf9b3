package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"

	"dubhub/internal/config"
	"dubhub/internal/credits"
	"dubhub/internal/model"
	"dubhub/internal/notify"
	"dubhub/internal/store"
)

var (
	// ErrUnknownPackage is returned for package ids missing from configuration.
	ErrUnknownPackage = errors.New("unknown credit package")
	// ErrNotPaid is returned when confirming a session Stripe has not settled.
	ErrNotPaid = errors.New("checkout session is not paid")
	// ErrSessionMismatch is returned when a session belongs to another user.
	ErrSessionMismatch = errors.New("checkout session does not belong to user")
)

// Stripe is the checkout API used by the service. *StripeClient implements it.
type Stripe interface {
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (Session, error)
	GetCheckoutSession(ctx context.Context, id string) (Session, error)
}

// Store persists checkout sessions. *store.Store implements it.
type Store interface {
	CreateCheckoutSession(ctx context.Context, cs store.CheckoutSession) (store.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (store.CheckoutSession, error)
	MarkCheckoutCompleted(ctx context.Context, id string) (bool, error)
}

// Crediter adds purchased credits. *credits.Ledger implements it.
type Crediter interface {
	Credit(ctx context.Context, req credits.CreditRequest) (model.CreditTransaction, bool, error)
}

// Checkout is the result of starting a hosted checkout.
type Checkout struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// Fulfillment reports the outcome of crediting a paid session.
type Fulfillment struct {
	SessionID    string `json:"sessionId"`
	Credits      int64  `json:"credits"`
	Applied      bool   `json:"applied"`
	BalanceAfter int64  `json:"balanceAfter,omitempty"`
}

// Service is the billing checkout boundary: it creates hosted sessions and
// credits the ledger once payment is confirmed.
type Service struct {
	cfg      config.BillingConfig
	stripe   Stripe
	store    Store
	ledger   Crediter
	notifier notify.Notifier
	log      *slog.Logger
}

func NewService(cfg config.BillingConfig, stripe Stripe, st Store, ledger Crediter, notifier notify.Notifier, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, stripe: stripe, store: st, ledger: ledger, notifier: notifier, log: log}
}

func (s *Service) Packages() []config.CreditPackage {
	return s.cfg.Packages
}

func (s *Service) pkg(id string) (config.CreditPackage, error) {
	p, ok := s.cfg.Package(id)
	if !ok {
		return config.CreditPackage{}, fmt.Errorf("%w: %s", ErrUnknownPackage, id)
	}
	return p, nil
}

// CreateCheckout starts a hosted checkout for a configured package.
func (s *Service) CreateCheckout(ctx context.Context, userID uuid.UUID, packageID string) (Checkout, error) {
	p, err := s.pkg(packageID)
	if err != nil {
		return Checkout{}, err
	}

	sess, err := s.stripe.CreateCheckoutSession(ctx, CheckoutParams{
		Mode:              p.Mode,
		PriceID:           p.PriceID,
		SuccessURL:        s.cfg.SuccessURL,
		CancelURL:         s.cfg.CancelURL,
		ClientReferenceID: userID.String(),
		Metadata: map[string]string{
			"user_id":    userID.String(),
			"package_id": p.ID,
			"credits":    strconv.FormatInt(p.Credits, 10),
		},
	})
	if err != nil {
		return Checkout{}, fmt.Errorf("create checkout session: %w", err)
	}

	if _, err := s.store.CreateCheckoutSession(ctx, store.CheckoutSession{
		ID:        sess.ID,
		UserID:    userID,
		PackageID: p.ID,
		Mode:      p.Mode,
		Credits:   p.Credits,
	}); err != nil {
		return Checkout{}, fmt.Errorf("record checkout session: %w", err)
	}

	s.log.Info("checkout created", "user_id", userID, "package", p.ID, "session_id", sess.ID)
	return Checkout{SessionID: sess.ID, URL: sess.URL}, nil
}

// Confirm verifies a session server-side with Stripe and credits it.
func (s *Service) Confirm(ctx context.Context, userID uuid.UUID, sessionID string) (Fulfillment, error) {
	sess, err := s.stripe.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return Fulfillment{}, fmt.Errorf("get checkout session: %w", err)
	}
	if sess.ClientReferenceID != userID.String() {
		return Fulfillment{}, ErrSessionMismatch
	}
	if !sess.Paid() {
		return Fulfillment{}, ErrNotPaid
	}
	return s.fulfill(ctx, sess)
}

// HandleWebhook verifies and applies a Stripe event. Unhandled event types
// are accepted and ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	tolerance := time.Duration(s.cfg.WebhookTolerance) * time.Second
	ev, err := VerifySignature(payload, signature, s.cfg.WebhookSecret, tolerance)
	if err != nil {
		return err
	}

	switch ev.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		sess := sessionFrom(&cs)
		if !sess.Paid() {
			s.log.Info("checkout completed without payment yet", "session_id", sess.ID, "payment_status", sess.PaymentStatus)
			return nil
		}
		_, err := s.fulfill(ctx, sess)
		return err
	case stripe.EventTypeInvoicePaid:
		var inv stripe.Invoice
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return s.renewal(ctx, &inv)
	default:
		s.log.Debug("ignoring stripe event", "type", ev.Type, "id", ev.ID)
		return nil
	}
}

// fulfill credits a paid session once, keyed by the session id.
func (s *Service) fulfill(ctx context.Context, sess Session) (Fulfillment, error) {
	userID, pkgID, amount, err := s.resolve(ctx, sess)
	if err != nil {
		return Fulfillment{}, err
	}

	tx, applied, err := s.ledger.Credit(ctx, credits.CreditRequest{
		UserID:      userID,
		Amount:      amount,
		Type:        model.TransactionPurchase,
		Reference:   "checkout:" + sess.ID,
		Description: "Credit package " + pkgID,
	})
	if err != nil {
		return Fulfillment{}, err
	}
	if _, err := s.store.MarkCheckoutCompleted(ctx, sess.ID); err != nil && !errors.Is(err, store.ErrCheckoutNotFound) {
		s.log.Warn("mark checkout completed failed", "session_id", sess.ID, "error", err)
	}

	if applied {
		s.announce(ctx, userID, amount)
	}
	return Fulfillment{SessionID: sess.ID, Credits: amount, Applied: applied, BalanceAfter: tx.BalanceAfter}, nil
}

// resolve prefers the recorded checkout row and falls back to the session
// metadata written at creation.
func (s *Service) resolve(ctx context.Context, sess Session) (uuid.UUID, string, int64, error) {
	row, err := s.store.GetCheckoutSession(ctx, sess.ID)
	if err == nil {
		return row.UserID, row.PackageID, row.Credits, nil
	}
	if !errors.Is(err, store.ErrCheckoutNotFound) {
		return uuid.Nil, "", 0, err
	}

	userID, err := uuid.Parse(sess.Metadata["user_id"])
	if err != nil {
		return uuid.Nil, "", 0, fmt.Errorf("checkout %s: missing user metadata", sess.ID)
	}
	p, err := s.pkg(sess.Metadata["package_id"])
	if err != nil {
		return uuid.Nil, "", 0, err
	}
	return userID, p.ID, p.Credits, nil
}

// renewal credits a subscription package on each paid renewal invoice.
// The first invoice is covered by the checkout session itself.
func (s *Service) renewal(ctx context.Context, inv *stripe.Invoice) error {
	if inv.BillingReason == stripe.InvoiceBillingReasonSubscriptionCreate {
		return nil
	}
	var meta map[string]string
	if inv.SubscriptionDetails != nil {
		meta = inv.SubscriptionDetails.Metadata
	}
	userID, err := uuid.Parse(meta["user_id"])
	if err != nil {
		s.log.Warn("invoice without user metadata", "invoice_id", inv.ID)
		return nil
	}
	p, err := s.pkg(meta["package_id"])
	if err != nil {
		return err
	}

	_, applied, err := s.ledger.Credit(ctx, credits.CreditRequest{
		UserID:      userID,
		Amount:      p.Credits,
		Type:        model.TransactionPurchase,
		Reference:   "invoice:" + inv.ID,
		Description: "Subscription renewal " + p.ID,
	})
	if err != nil {
		return err
	}
	if applied {
		s.announce(ctx, userID, p.Credits)
	}
	return nil
}

func (s *Service) announce(ctx context.Context, userID uuid.UUID, amount int64) {
	if s.notifier == nil {
		return
	}
	n := notify.Notification{
		UserID:  userID,
		Kind:    notify.KindCreditsAdded,
		Title:   "Credits added",
		Message: strconv.FormatInt(amount, 10) + " credits were added to your balance.",
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.Warn("credit notification failed", "user_id", userID, "error", err)
	}
}
