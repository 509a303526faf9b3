package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"dubhub/internal/config"
	"dubhub/internal/credits"
	"dubhub/internal/model"
	"dubhub/internal/store"
)

// KeyStore ensures configured API keys exist. *store.Store implements it.
type KeyStore interface {
	EnsureAPIKey(ctx context.Context, rawKey, label string, userID uuid.UUID, isAdmin bool) (store.APIKey, error)
}

// Crediter applies configured credit grants. *credits.Ledger implements it.
type Crediter interface {
	Credit(ctx context.Context, req credits.CreditRequest) (model.CreditTransaction, bool, error)
}

// Run applies bootstrap configuration for API keys and starting credits.
// It is idempotent: keys are matched by hash and grants by reference.
func Run(ctx context.Context, cfg *config.Config, keys KeyStore, ledger Crediter, log *slog.Logger) error {
	if cfg == nil {
		return nil
	}
	if log == nil {
		log = slog.Default()
	}

	if keys != nil {
		if k := strings.TrimSpace(cfg.Auth.InitialAdminKey); k != "" {
			if _, err := keys.EnsureAPIKey(ctx, k, "initial-admin", uuid.Nil, true); err != nil {
				return fmt.Errorf("ensure initial admin key: %w", err)
			}
		}
		for i, k := range cfg.Bootstrap.APIKeys {
			if err := bootstrapKey(ctx, keys, k); err != nil {
				return fmt.Errorf("bootstrap api key %d: %w", i, err)
			}
		}
	}

	if ledger != nil {
		for i, g := range cfg.Bootstrap.CreditGrants {
			applied, err := bootstrapGrant(ctx, ledger, g)
			if err != nil {
				return fmt.Errorf("bootstrap credit grant %d: %w", i, err)
			}
			if applied {
				log.Info("bootstrap credits granted", "user_id", g.UserID, "credits", g.Credits)
			}
		}
	}

	return nil
}

func bootstrapKey(ctx context.Context, keys KeyStore, k config.BootstrapAPIKeyConfig) error {
	raw := strings.TrimSpace(k.Key)
	if raw == "" {
		return nil
	}
	userID := uuid.Nil
	if strings.TrimSpace(k.UserID) != "" {
		id, err := uuid.Parse(strings.TrimSpace(k.UserID))
		if err != nil {
			return fmt.Errorf("invalid userId %q: %w", k.UserID, err)
		}
		userID = id
	}
	label := k.Label
	if label == "" {
		label = "bootstrap"
	}
	_, err := keys.EnsureAPIKey(ctx, raw, label, userID, k.IsAdmin)
	return err
}

func bootstrapGrant(ctx context.Context, ledger Crediter, g config.BootstrapCreditGrantConfig) (bool, error) {
	if g.Credits <= 0 {
		return false, nil
	}
	userID, err := uuid.Parse(strings.TrimSpace(g.UserID))
	if err != nil {
		return false, fmt.Errorf("invalid userId %q: %w", g.UserID, err)
	}
	ref := strings.TrimSpace(g.Reference)
	if ref == "" {
		ref = fmt.Sprintf("bootstrap:%s:%d", userID, g.Credits)
	}
	desc := g.Description
	if desc == "" {
		desc = "Bootstrap grant"
	}
	_, applied, err := ledger.Credit(ctx, credits.CreditRequest{
		UserID:      userID,
		Amount:      g.Credits,
		Type:        model.TransactionGrant,
		Reference:   ref,
		Description: desc,
	})
	return applied, err
}
