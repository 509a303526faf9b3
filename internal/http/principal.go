package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"dubhub/internal/store"
)

// Principal represents the authenticated identity for a request. It is
// constructed from an API key, a bearer access token, or, when auth is
// disabled, the X-User-Id header.
type Principal struct {
	UserID  *uuid.UUID
	IsAdmin bool

	APIKeyID           *uuid.UUID
	RateLimitPerMinute int
}

// rateKey identifies the principal for rate limiting.
func (p Principal) rateKey() string {
	if p.APIKeyID != nil {
		return "key:" + p.APIKeyID.String()
	}
	if p.UserID != nil {
		return "user:" + p.UserID.String()
	}
	return ""
}

// principalFromAPIKey builds a Principal from a stored API key. Keys that
// belong to no user (uuid.Nil) act only through admin routes.
func principalFromAPIKey(k store.APIKey) Principal {
	p := Principal{IsAdmin: k.IsAdmin}

	id := k.ID
	p.APIKeyID = &id

	if k.UserID != uuid.Nil {
		uid := k.UserID
		p.UserID = &uid
	}
	if k.RateLimitPerMinute.Valid && k.RateLimitPerMinute.Int32 > 0 {
		p.RateLimitPerMinute = int(k.RateLimitPerMinute.Int32)
	}
	return p
}

func principalFrom(c *fiber.Ctx) (Principal, bool) {
	p, ok := c.Locals("principal").(Principal)
	return p, ok
}
