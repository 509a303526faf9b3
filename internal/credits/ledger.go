package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"dubhub/internal/metrics"
	"dubhub/internal/model"
)

// ErrInsufficientCredits is returned (wrapped in *model.InsufficientCreditsError)
// when a spend exceeds the balance. Nothing is written in that case.
var ErrInsufficientCredits = model.ErrInsufficientCredits

// Store is the persistence the ledger needs. *store.Store implements it.
type Store interface {
	GetCreditBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	DebitCredits(ctx context.Context, d model.Debit) (model.CreditTransaction, error)
	CreditCredits(ctx context.Context, c model.Credit) (model.CreditTransaction, bool, error)
	ListCreditTransactions(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]model.CreditTransaction, error)
}

// SpendRequest debits credits for a service.
type SpendRequest struct {
	UserID      uuid.UUID
	Amount      int64
	ServiceType string
	JobID       *uuid.UUID
	Description string
}

// CreditRequest adds credits. Reference makes the credit idempotent.
type CreditRequest struct {
	UserID      uuid.UUID
	Amount      int64
	Type        model.TransactionType
	JobID       *uuid.UUID
	Reference   string
	Description string
}

// Ledger is the only way balances change.
type Ledger struct {
	store Store
	log   *slog.Logger
}

func NewLedger(store Store, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{store: store, log: log}
}

// Spend atomically removes credits and records a usage transaction plus a
// usage log row. A short balance fails with *model.InsufficientCreditsError.
func (l *Ledger) Spend(ctx context.Context, req SpendRequest) (model.CreditTransaction, error) {
	if req.UserID == uuid.Nil {
		return model.CreditTransaction{}, errors.New("spend: user id is required")
	}
	if req.Amount <= 0 {
		return model.CreditTransaction{}, fmt.Errorf("spend: amount must be positive, got %d", req.Amount)
	}

	tx, err := l.store.DebitCredits(ctx, model.Debit{
		UserID:      req.UserID,
		Amount:      req.Amount,
		ServiceType: req.ServiceType,
		JobID:       req.JobID,
		Description: req.Description,
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			metrics.RecordInsufficientCredits(req.ServiceType)
			return model.CreditTransaction{}, err
		}
		return model.CreditTransaction{}, fmt.Errorf("spend: %w", err)
	}

	metrics.RecordCreditsSpent(req.ServiceType, req.Amount)
	l.log.Info("credits spent", "user_id", req.UserID, "amount", req.Amount, "service", req.ServiceType, "balance_after", tx.BalanceAfter)
	return tx, nil
}

// Credit adds credits. The second return is false when the reference had
// already been applied and nothing changed.
func (l *Ledger) Credit(ctx context.Context, req CreditRequest) (model.CreditTransaction, bool, error) {
	if req.UserID == uuid.Nil {
		return model.CreditTransaction{}, false, errors.New("credit: user id is required")
	}
	if req.Amount <= 0 {
		return model.CreditTransaction{}, false, fmt.Errorf("credit: amount must be positive, got %d", req.Amount)
	}
	if req.Type == "" {
		req.Type = model.TransactionGrant
	}

	tx, applied, err := l.store.CreditCredits(ctx, model.Credit{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Type:        req.Type,
		JobID:       req.JobID,
		Reference:   req.Reference,
		Description: req.Description,
	})
	if err != nil {
		return model.CreditTransaction{}, false, fmt.Errorf("credit: %w", err)
	}
	if !applied {
		l.log.Info("credit already applied", "user_id", req.UserID, "reference", req.Reference)
		return model.CreditTransaction{}, false, nil
	}

	metrics.RecordCreditsAdded(string(req.Type), req.Amount)
	l.log.Info("credits added", "user_id", req.UserID, "amount", req.Amount, "type", req.Type, "balance_after", tx.BalanceAfter)
	return tx, true, nil
}

// Refund returns credits for a job whose start failed after the debit.
// It is keyed by the job id so retries never refund twice.
func (l *Ledger) Refund(ctx context.Context, userID, jobID uuid.UUID, amount int64, reason string) (model.CreditTransaction, bool, error) {
	id := jobID
	return l.Credit(ctx, CreditRequest{
		UserID:      userID,
		Amount:      amount,
		Type:        model.TransactionRefund,
		JobID:       &id,
		Reference:   "refund:" + jobID.String(),
		Description: reason,
	})
}

func (l *Ledger) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return l.store.GetCreditBalance(ctx, userID)
}

// Transactions lists ledger entries newest first.
func (l *Ledger) Transactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return l.store.ListCreditTransactions(ctx, userID, int32(limit), int32(offset))
}
