package bootstrap

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"dubhub/internal/config"
	"dubhub/internal/credits"
	"dubhub/internal/model"
	"dubhub/internal/store"
)

type fakeKeys struct {
	keys map[string]store.APIKey
}

func (f *fakeKeys) EnsureAPIKey(_ context.Context, raw, label string, userID uuid.UUID, isAdmin bool) (store.APIKey, error) {
	if k, ok := f.keys[raw]; ok {
		return k, nil
	}
	k := store.APIKey{ID: uuid.New(), Label: label, UserID: userID, IsAdmin: isAdmin}
	f.keys[raw] = k
	return k, nil
}

type fakeLedger struct {
	refs    map[string]int64
	credits int
}

func (f *fakeLedger) Credit(_ context.Context, req credits.CreditRequest) (model.CreditTransaction, bool, error) {
	if _, ok := f.refs[req.Reference]; ok {
		return model.CreditTransaction{}, false, nil
	}
	f.refs[req.Reference] = req.Amount
	f.credits++
	return model.CreditTransaction{Amount: req.Amount, Type: req.Type}, true, nil
}

func TestRunIsIdempotent(t *testing.T) {
	user := uuid.New()
	cfg := &config.Config{}
	cfg.Auth.InitialAdminKey = "dh_admin"
	cfg.Bootstrap.APIKeys = []config.BootstrapAPIKeyConfig{
		{Key: "dh_user", Label: "ci", UserID: user.String()},
		{Key: "  "},
	}
	cfg.Bootstrap.CreditGrants = []config.BootstrapCreditGrantConfig{
		{UserID: user.String(), Credits: 250, Reference: "welcome"},
		{UserID: user.String(), Credits: 0},
	}

	keys := &fakeKeys{keys: map[string]store.APIKey{}}
	ledger := &fakeLedger{refs: map[string]int64{}}

	for i := 0; i < 2; i++ {
		if err := Run(context.Background(), cfg, keys, ledger, nil); err != nil {
			t.Fatalf("Run #%d: %v", i, err)
		}
	}

	if len(keys.keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys.keys))
	}
	if !keys.keys["dh_admin"].IsAdmin || keys.keys["dh_user"].UserID != user {
		t.Fatalf("unexpected keys %+v", keys.keys)
	}
	if ledger.credits != 1 || ledger.refs["welcome"] != 250 {
		t.Fatalf("grant applied %d times: %v", ledger.credits, ledger.refs)
	}
}

func TestRunRejectsInvalidUserID(t *testing.T) {
	cfg := &config.Config{}
	cfg.Bootstrap.CreditGrants = []config.BootstrapCreditGrantConfig{{UserID: "not-a-uuid", Credits: 10}}
	if err := Run(context.Background(), cfg, nil, &fakeLedger{refs: map[string]int64{}}, nil); err == nil {
		t.Fatalf("expected error for invalid user id")
	}
}
