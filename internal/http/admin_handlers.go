package http

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"dubhub/internal/credits"
	"dubhub/internal/jobs"
	"dubhub/internal/model"
)

// adminRecoveryHandler runs a recovery pass, for one user or everyone.
func (s *Server) adminRecoveryHandler(c *fiber.Ctx) error {
	if s.deps.Recovery == nil {
		return unavailable(c, "RECOVERY_DISABLED", "recovery is not configured")
	}

	var req RecoveryRunRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid JSON body")
		}
	}

	report := s.deps.Recovery.Run(c.Context(), req.UserID)
	return c.JSON(SyncResponse{Success: true, Report: report})
}

// adminGrantHandler adds credits to a user. Grants carrying a reference are
// applied at most once.
func (s *Server) adminGrantHandler(c *fiber.Ctx) error {
	var req GrantRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	if req.UserID == uuid.Nil {
		return badRequest(c, "userId is required")
	}
	if req.Credits <= 0 {
		return badRequest(c, "credits must be positive")
	}

	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		desc = fmt.Sprintf("Admin grant of %d credits", req.Credits)
	}
	tx, applied, err := s.deps.Credits.Credit(c.Context(), credits.CreditRequest{
		UserID:      req.UserID,
		Amount:      req.Credits,
		Type:        model.TransactionGrant,
		Reference:   strings.TrimSpace(req.Reference),
		Description: desc,
	})
	if err != nil {
		return s.internalError(c, err)
	}
	return c.JSON(GrantResponse{Success: true, Applied: applied, BalanceAfter: tx.BalanceAfter})
}

func (s *Server) adminActiveJobsHandler(c *fiber.Ctx) error {
	active := s.deps.Jobs.Active()
	if active == nil {
		active = []jobs.ActiveJob{}
	}
	return c.JSON(ActiveJobsResponse{Success: true, Jobs: active})
}
