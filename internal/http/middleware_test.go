package http

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"dubhub/internal/config"
	"dubhub/internal/store"
)

func authApp(t *testing.T, cfg *config.Config, keys KeyLookup, captured *Principal) *fiber.App {
	t.Helper()
	app := fiber.New()
	app.Use(authMiddleware(cfg, keys))
	app.Get("/protected", func(c *fiber.Ctx) error {
		p, ok := principalFrom(c)
		if !ok {
			t.Fatalf("expected Principal in context, got %T", c.Locals("principal"))
		}
		*captured = p
		return c.SendStatus(http.StatusOK)
	})
	app.Get("/admin", adminOnlyMiddleware, func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})
	return app
}

func bearer(t *testing.T, app *fiber.App, path, token string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	return resp.StatusCode
}

func TestAuthMiddleware_APIKey(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.Enabled = true

	userID := uuid.New()
	keys := &fakeKeys{keys: map[string]store.APIKey{
		"dh_user":    {ID: uuid.New(), UserID: userID, RateLimitPerMinute: sql.NullInt32{Int32: 5, Valid: true}},
		"dh_admin":   {ID: uuid.New(), IsAdmin: true},
		"dh_revoked": {ID: uuid.New(), UserID: userID, RevokedAt: sql.NullTime{Time: time.Now(), Valid: true}},
	}}

	var captured Principal
	app := authApp(t, cfg, keys, &captured)

	if code := bearer(t, app, "/protected", "dh_user"); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if captured.UserID == nil || *captured.UserID != userID || captured.IsAdmin || captured.RateLimitPerMinute != 5 {
		t.Fatalf("unexpected principal %+v", captured)
	}

	for _, tok := range []string{"", "dh_unknown", "dh_revoked"} {
		if code := bearer(t, app, "/protected", tok); code != http.StatusUnauthorized {
			t.Fatalf("token %q: expected 401, got %d", tok, code)
		}
	}

	if code := bearer(t, app, "/admin", "dh_user"); code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", code)
	}
	if code := bearer(t, app, "/admin", "dh_admin"); code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", code)
	}
}

func TestAuthMiddleware_AccessToken(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = "test-secret"

	var captured Principal
	app := authApp(t, cfg, nil, &captured)

	userID := uuid.New()
	token, err := issueAccessToken(cfg.Auth.JWTSecret, userID, "authenticated", time.Hour)
	if err != nil {
		t.Fatalf("issueAccessToken: %v", err)
	}
	if code := bearer(t, app, "/protected", token); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if captured.UserID == nil || *captured.UserID != userID || captured.IsAdmin {
		t.Fatalf("unexpected principal %+v", captured)
	}

	service, _ := issueAccessToken(cfg.Auth.JWTSecret, uuid.New(), serviceRole, time.Hour)
	if code := bearer(t, app, "/admin", service); code != http.StatusOK {
		t.Fatalf("service role should pass admin check, got %d", code)
	}

	forged, _ := issueAccessToken("other-secret", userID, serviceRole, time.Hour)
	if code := bearer(t, app, "/protected", forged); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for forged token, got %d", code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	cfg := &config.Config{}
	var captured Principal
	app := authApp(t, cfg, nil, &captured)

	userID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("X-User-Id", userID.String())
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusOK || captured.UserID == nil || *captured.UserID != userID {
		t.Fatalf("unexpected result %d %+v", resp.StatusCode, captured)
	}

	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("X-User-Id", "nope")
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed X-User-Id, got %d", resp.StatusCode)
	}
}

func TestRateLimitMiddleware_NoRedisPassesThrough(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.Enabled = true
	cfg.RateLimit.DefaultPerMinute = 1

	app := fiber.New()
	app.Use(rateLimitMiddleware(cfg, nil))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusOK) })

	for i := 0; i < 3; i++ {
		if code := bearer(t, app, "/", ""); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
}
