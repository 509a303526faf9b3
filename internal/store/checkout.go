package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// CheckoutSession records a hosted checkout started by a user. The Stripe
// session id is the primary key.
type CheckoutSession struct {
	ID          string
	UserID      uuid.UUID
	PackageID   string
	Mode        string
	Credits     int64
	Status      string
	CreatedAt   time.Time
	CompletedAt sql.NullTime
}

const (
	CheckoutStatusOpen      = "open"
	CheckoutStatusCompleted = "completed"
)

// ErrCheckoutNotFound is returned when no session row matches.
var ErrCheckoutNotFound = errors.New("checkout session not found")

const checkoutColumns = "id, user_id, package_id, mode, credits, status, created_at, completed_at"

func scanCheckout(row rowScanner) (CheckoutSession, error) {
	var cs CheckoutSession
	err := row.Scan(&cs.ID, &cs.UserID, &cs.PackageID, &cs.Mode, &cs.Credits, &cs.Status, &cs.CreatedAt, &cs.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CheckoutSession{}, ErrCheckoutNotFound
	}
	return cs, err
}

// CreateCheckoutSession stores a newly created hosted checkout session.
func (s *Store) CreateCheckoutSession(ctx context.Context, cs CheckoutSession) (CheckoutSession, error) {
	if cs.Status == "" {
		cs.Status = CheckoutStatusOpen
	}
	row := s.DB.QueryRowContext(ctx, `INSERT INTO checkout_sessions (id, user_id, package_id, mode, credits, status)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+checkoutColumns, cs.ID, cs.UserID, cs.PackageID, cs.Mode, cs.Credits, cs.Status)
	return scanCheckout(row)
}

// GetCheckoutSession fetches a session by its Stripe id.
func (s *Store) GetCheckoutSession(ctx context.Context, id string) (CheckoutSession, error) {
	return scanCheckout(s.DB.QueryRowContext(ctx, "SELECT "+checkoutColumns+" FROM checkout_sessions WHERE id = $1", id))
}

// MarkCheckoutCompleted flips an open session to completed. It reports
// whether this call performed the transition.
func (s *Store) MarkCheckoutCompleted(ctx context.Context, id string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE checkout_sessions
SET status = $2, completed_at = now()
WHERE id = $1 AND status <> $2`, id, CheckoutStatusCompleted)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
