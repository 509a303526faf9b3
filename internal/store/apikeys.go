package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// APIKey is a stored API key. Only the SHA-256 hash of the raw key is kept.
type APIKey struct {
	ID                 uuid.UUID
	KeyHash            string
	Label              string
	UserID             uuid.UUID
	IsAdmin            bool
	RateLimitPerMinute sql.NullInt32
	CreatedAt          time.Time
	RevokedAt          sql.NullTime
}

const apiKeyColumns = "id, key_hash, label, user_id, is_admin, rate_limit_per_minute, created_at, revoked_at"

func scanAPIKey(row rowScanner) (APIKey, error) {
	var k APIKey
	err := row.Scan(&k.ID, &k.KeyHash, &k.Label, &k.UserID, &k.IsAdmin, &k.RateLimitPerMinute, &k.CreatedAt, &k.RevokedAt)
	return k, err
}

// GetAPIKeyByRawKey looks up an API key by its raw value.
func (s *Store) GetAPIKeyByRawKey(ctx context.Context, rawKey string) (APIKey, error) {
	row := s.DB.QueryRowContext(ctx, "SELECT "+apiKeyColumns+" FROM api_keys WHERE key_hash = $1", hashAPIKey(rawKey))
	return scanAPIKey(row)
}

// EnsureAPIKey ensures that there is an API key for the given raw key.
// If it already exists, it is returned; otherwise, it is created.
func (s *Store) EnsureAPIKey(ctx context.Context, rawKey, label string, userID uuid.UUID, isAdmin bool) (APIKey, error) {
	var out APIKey
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		key, err := scanAPIKey(tx.QueryRowContext(ctx, "SELECT "+apiKeyColumns+" FROM api_keys WHERE key_hash = $1", hashAPIKey(rawKey)))
		if err == nil {
			out = key
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		out, err = insertAPIKey(ctx, tx, rawKey, label, userID, isAdmin, sql.NullInt32{})
		return err
	})
	return out, err
}

// CreateRandomAPIKey creates a new random API key (with dh_ prefix).
// It returns the raw key plus the stored record.
func (s *Store) CreateRandomAPIKey(ctx context.Context, label string, userID uuid.UUID, isAdmin bool, rateLimitPerMinute *int) (string, APIKey, error) {
	raw := "dh_" + uuid.New().String()

	var rl sql.NullInt32
	if rateLimitPerMinute != nil && *rateLimitPerMinute > 0 {
		rl = sql.NullInt32{Int32: int32(*rateLimitPerMinute), Valid: true}
	}

	var out APIKey
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = insertAPIKey(ctx, tx, raw, label, userID, isAdmin, rl)
		return err
	})
	return raw, out, err
}

func insertAPIKey(ctx context.Context, tx *sql.Tx, rawKey, label string, userID uuid.UUID, isAdmin bool, rl sql.NullInt32) (APIKey, error) {
	row := tx.QueryRowContext(ctx, `INSERT INTO api_keys (id, key_hash, label, user_id, is_admin, rate_limit_per_minute)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+apiKeyColumns, uuid.New(), hashAPIKey(rawKey), label, userID, isAdmin, rl)
	return scanAPIKey(row)
}
