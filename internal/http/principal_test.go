package http

import (
	"database/sql"
	"testing"

	"github.com/google/uuid"

	"dubhub/internal/store"
)

func TestPrincipalFromAPIKey_PopulatesFields(t *testing.T) {
	userID := uuid.New()
	apiKey := store.APIKey{
		ID:                 uuid.New(),
		IsAdmin:            true,
		UserID:             userID,
		RateLimitPerMinute: sql.NullInt32{Int32: 120, Valid: true},
	}

	p := principalFromAPIKey(apiKey)

	if p.APIKeyID == nil || *p.APIKeyID != apiKey.ID {
		t.Fatalf("expected APIKeyID %v, got %#v", apiKey.ID, p.APIKeyID)
	}
	if !p.IsAdmin {
		t.Fatalf("expected IsAdmin=true")
	}
	if p.UserID == nil || *p.UserID != userID {
		t.Fatalf("expected UserID %v, got %#v", userID, p.UserID)
	}
	if p.RateLimitPerMinute != 120 {
		t.Fatalf("expected rate limit 120, got %d", p.RateLimitPerMinute)
	}
	if p.rateKey() != "key:"+apiKey.ID.String() {
		t.Fatalf("unexpected rate key %q", p.rateKey())
	}
}

func TestPrincipalFromAPIKey_NoUser(t *testing.T) {
	p := principalFromAPIKey(store.APIKey{ID: uuid.New()})
	if p.UserID != nil {
		t.Fatalf("expected no user for uuid.Nil, got %v", *p.UserID)
	}
	if p.IsAdmin || p.RateLimitPerMinute != 0 {
		t.Fatalf("unexpected principal %+v", p)
	}
}
