package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"dubhub/internal/model"
)

const transactionColumns = "id, user_id, amount, type, service_type, job_id, description, reference, balance_after, created_at"

func scanTransaction(row rowScanner) (model.CreditTransaction, error) {
	var (
		tx          model.CreditTransaction
		txType      string
		serviceType sql.NullString
		jobID       uuid.NullUUID
		description sql.NullString
		reference   sql.NullString
	)
	if err := row.Scan(&tx.ID, &tx.UserID, &tx.Amount, &txType, &serviceType, &jobID, &description, &reference, &tx.BalanceAfter, &tx.CreatedAt); err != nil {
		return model.CreditTransaction{}, err
	}
	tx.Type = model.TransactionType(txType)
	tx.ServiceType = serviceType.String
	tx.Description = description.String
	tx.Reference = reference.String
	if jobID.Valid {
		id := jobID.UUID
		tx.JobID = &id
	}
	return tx, nil
}

// GetCreditBalance returns the user's current balance; users without a
// balance row have zero credits.
func (s *Store) GetCreditBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := s.DB.QueryRowContext(ctx, "SELECT balance FROM credit_balances WHERE user_id = $1", userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

// DebitCredits removes credits in one transaction: a conditional balance
// update, a usage transaction row and a usage log row. When the balance is
// short it returns *model.InsufficientCreditsError and writes nothing.
func (s *Store) DebitCredits(ctx context.Context, d model.Debit) (model.CreditTransaction, error) {
	if d.Amount <= 0 {
		return model.CreditTransaction{}, fmt.Errorf("debit amount must be positive, got %d", d.Amount)
	}

	var out model.CreditTransaction
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var balanceAfter int64
		err := tx.QueryRowContext(ctx, `UPDATE credit_balances
SET balance = balance - $2, updated_at = now()
WHERE user_id = $1 AND balance >= $2
RETURNING balance`, d.UserID, d.Amount).Scan(&balanceAfter)
		if errors.Is(err, sql.ErrNoRows) {
			var current int64
			if err := tx.QueryRowContext(ctx, "SELECT balance FROM credit_balances WHERE user_id = $1", d.UserID).Scan(&current); err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			return &model.InsufficientCreditsError{Balance: current, Required: d.Amount}
		}
		if err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}

		row := tx.QueryRowContext(ctx, `INSERT INTO credit_transactions
(id, user_id, amount, type, service_type, job_id, description, balance_after)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+transactionColumns,
			newID(), d.UserID, -d.Amount, string(model.TransactionUsage), nullString(d.ServiceType), nullUUID(d.JobID), nullString(d.Description), balanceAfter)
		out, err = scanTransaction(row)
		if err != nil {
			return fmt.Errorf("insert usage transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO usage_logs (id, user_id, service_type, job_id, credits, transaction_id)
VALUES ($1, $2, $3, $4, $5, $6)`, newID(), d.UserID, d.ServiceType, nullUUID(d.JobID), d.Amount, out.ID); err != nil {
			return fmt.Errorf("insert usage log: %w", err)
		}
		return nil
	})
	return out, err
}

// CreditCredits adds credits in one transaction. When the reference was
// already applied, it returns applied=false and changes nothing.
func (s *Store) CreditCredits(ctx context.Context, c model.Credit) (model.CreditTransaction, bool, error) {
	if c.Amount <= 0 {
		return model.CreditTransaction{}, false, fmt.Errorf("credit amount must be positive, got %d", c.Amount)
	}
	if c.Type == "" || c.Type == model.TransactionUsage {
		return model.CreditTransaction{}, false, fmt.Errorf("invalid credit transaction type %q", c.Type)
	}

	var (
		out     model.CreditTransaction
		applied bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var balanceAfter int64
		if err := tx.QueryRowContext(ctx, `INSERT INTO credit_balances (user_id, balance)
VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE SET balance = credit_balances.balance + EXCLUDED.balance, updated_at = now()
RETURNING balance`, c.UserID, c.Amount).Scan(&balanceAfter); err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}

		row := tx.QueryRowContext(ctx, `INSERT INTO credit_transactions
(id, user_id, amount, type, job_id, description, reference, balance_after)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+transactionColumns,
			newID(), c.UserID, c.Amount, string(c.Type), nullUUID(c.JobID), nullString(c.Description), nullString(c.Reference), balanceAfter)
		var err error
		out, err = scanTransaction(row)
		if err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil && isUniqueViolation(err) {
		// The reference was already applied; the rollback undid the balance change.
		return model.CreditTransaction{}, false, nil
	}
	if err != nil {
		return model.CreditTransaction{}, false, err
	}
	return out, applied, nil
}

// ListCreditTransactions returns a user's ledger entries, newest first.
func (s *Store) ListCreditTransactions(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]model.CreditTransaction, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+transactionColumns+`
FROM credit_transactions
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CreditTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}
