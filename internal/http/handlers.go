package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Success: false,
		Code:    "BAD_REQUEST",
		Error:   msg,
	})
}

func notFound(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
		Success: false,
		Code:    "NOT_FOUND",
		Error:   msg,
	})
}

func (s *Server) internalError(c *fiber.Ctx, err error) error {
	s.logger.Error("request failed", "request_id", c.Locals("request_id"), "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Success: false,
		Code:    "INTERNAL_ERROR",
		Error:   err.Error(),
	})
}

func unavailable(c *fiber.Ctx, code, msg string) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
		Success: false,
		Code:    code,
		Error:   msg,
	})
}

// requireUser returns the caller's user id or writes a 401.
func requireUser(c *fiber.Ctx) (uuid.UUID, bool, error) {
	p, ok := principalFrom(c)
	if !ok || p.UserID == nil {
		return uuid.Nil, false, c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Success: false,
			Code:    "UNAUTHENTICATED",
			Error:   "User context is not available for this request",
		})
	}
	return *p.UserID, true, nil
}

// queryInt parses an optional positive integer query value clamped to max.
func queryInt(c *fiber.Ctx, name string, def, max int) (int, bool) {
	v := c.Query(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	if max > 0 && n > max {
		n = max
	}
	return n, true
}
