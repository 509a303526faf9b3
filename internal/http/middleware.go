package http

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"dubhub/internal/config"
	"dubhub/internal/metrics"
	"dubhub/internal/store"
)

// KeyLookup resolves raw API keys. *store.Store implements it.
type KeyLookup interface {
	GetAPIKeyByRawKey(ctx context.Context, rawKey string) (store.APIKey, error)
}

// requestLogger assigns a request id, records request metrics and logs one
// line per request.
func requestLogger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)
		c.Set("X-Request-Id", reqID)

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		method := c.Method()
		path := c.Route().Path

		metrics.RecordRequest(method, path, status, latency.Milliseconds())

		if logger != nil {
			attrs := []any{
				"request_id", reqID,
				"method", method,
				"path", c.Path(),
				"status", status,
				"latency_ms", latency.Milliseconds(),
			}
			if p, ok := principalFrom(c); ok && p.UserID != nil {
				attrs = append(attrs, "user_id", p.UserID.String())
			}
			logger.Info("request", attrs...)
		}

		return err
	}
}

func unauthenticated(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
		Success: false,
		Code:    "UNAUTHENTICATED",
		Error:   msg,
	})
}

// authMiddleware resolves the Authorization: Bearer credential into a
// Principal stored in the context as "principal". Credentials with the dh_
// prefix are API keys; anything else is treated as an access token.
func authMiddleware(cfg *config.Config, keys KeyLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.Auth.Enabled {
			// Development mode: trust X-User-Id and allow admin routes.
			p := Principal{IsAdmin: true}
			if raw := strings.TrimSpace(c.Get("X-User-Id")); raw != "" {
				id, err := uuid.Parse(raw)
				if err != nil {
					return badRequest(c, "invalid X-User-Id header")
				}
				p.UserID = &id
			}
			c.Locals("principal", p)
			return c.Next()
		}

		rawAuth := c.Get("Authorization")
		if rawAuth == "" || !strings.HasPrefix(rawAuth, "Bearer ") {
			return unauthenticated(c, "Missing Authorization Bearer token")
		}
		token := strings.TrimSpace(strings.TrimPrefix(rawAuth, "Bearer "))
		if token == "" {
			return unauthenticated(c, "Missing Authorization Bearer token")
		}

		if !strings.HasPrefix(token, "dh_") {
			p, err := parseAccessToken(token, cfg.Auth.JWTSecret)
			if err != nil {
				return unauthenticated(c, "Invalid or expired access token")
			}
			c.Locals("principal", p)
			return c.Next()
		}

		if keys == nil {
			return unauthenticated(c, "API keys are not accepted")
		}
		apiKey, err := keys.GetAPIKeyByRawKey(c.Context(), token)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return unauthenticated(c, "Invalid or revoked API key")
			}
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
				Success: false,
				Code:    "INTERNAL_ERROR",
				Error:   fmt.Sprintf("API key lookup failed: %v", err),
			})
		}
		if apiKey.RevokedAt.Valid {
			return unauthenticated(c, "Invalid or revoked API key")
		}

		c.Locals("principal", principalFromAPIKey(apiKey))
		return c.Next()
	}
}

// rateLimitMiddleware enforces a per-minute fixed-window rate limit per
// principal using Redis.
func rateLimitMiddleware(cfg *config.Config, rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rdb == nil || !cfg.Auth.Enabled || cfg.RateLimit.DefaultPerMinute <= 0 {
			return c.Next()
		}

		p, ok := principalFrom(c)
		if !ok {
			return unauthenticated(c, "Principal not found in context")
		}
		id := p.rateKey()
		if id == "" {
			return c.Next()
		}

		limit := cfg.RateLimit.DefaultPerMinute
		if p.RateLimitPerMinute > 0 {
			limit = p.RateLimitPerMinute
		}

		now := time.Now().UTC()
		window := now.Format("200601021504") // YYYYMMDDHHMM minute window
		key := fmt.Sprintf("dubhub:rl:%s:%s", id, window)

		ctx := c.Context()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
				Success: false,
				Code:    "INTERNAL_ERROR",
				Error:   fmt.Sprintf("rate limit increment failed: %v", err),
			})
		}
		if count == 1 {
			_ = rdb.Expire(ctx, key, time.Minute)
		}

		if count > int64(limit) {
			return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
				Success: false,
				Code:    "RATE_LIMIT_EXCEEDED",
				Error:   "Rate limit exceeded, try again later",
			})
		}

		return c.Next()
	}
}

// adminOnlyMiddleware ensures the current principal has admin privileges.
func adminOnlyMiddleware(c *fiber.Ctx) error {
	p, ok := principalFrom(c)
	if !ok {
		return unauthenticated(c, "Principal not found in context")
	}

	if !p.IsAdmin {
		return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{
			Success: false,
			Code:    "FORBIDDEN",
			Error:   "Admin privileges required",
		})
	}

	return c.Next()
}
