package http

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"dubhub/internal/billing"
	"dubhub/internal/config"
)

func (s *Server) billingDisabled(c *fiber.Ctx) error {
	return unavailable(c, "BILLING_DISABLED", "billing is not enabled")
}

func (s *Server) packagesHandler(c *fiber.Ctx) error {
	if s.deps.Billing == nil {
		return c.JSON(PackagesResponse{Success: true, Packages: []config.CreditPackage{}})
	}
	pkgs := s.deps.Billing.Packages()
	if pkgs == nil {
		pkgs = []config.CreditPackage{}
	}
	return c.JSON(PackagesResponse{Success: true, Packages: pkgs})
}

func (s *Server) checkoutHandler(c *fiber.Ctx) error {
	userID, ok, err := requireUser(c)
	if !ok {
		return err
	}
	if s.deps.Billing == nil {
		return s.billingDisabled(c)
	}

	var req CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	if strings.TrimSpace(req.PackageID) == "" {
		return badRequest(c, "packageId is required")
	}

	co, err := s.deps.Billing.CreateCheckout(c.Context(), userID, req.PackageID)
	if err != nil {
		if errors.Is(err, billing.ErrUnknownPackage) {
			return badRequest(c, err.Error())
		}
		return s.internalError(c, err)
	}
	return c.JSON(CheckoutResponse{Success: true, Checkout: co})
}

// confirmHandler verifies a returning checkout with Stripe and credits it.
// Repeated confirmations of the same session are no-ops.
func (s *Server) confirmHandler(c *fiber.Ctx) error {
	userID, ok, err := requireUser(c)
	if !ok {
		return err
	}
	if s.deps.Billing == nil {
		return s.billingDisabled(c)
	}

	var req ConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return badRequest(c, "sessionId is required")
	}

	f, err := s.deps.Billing.Confirm(c.Context(), userID, req.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrNotPaid):
			return c.Status(fiber.StatusPaymentRequired).JSON(ErrorResponse{
				Success: false,
				Code:    "NOT_PAID",
				Error:   err.Error(),
			})
		case errors.Is(err, billing.ErrSessionMismatch):
			return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{
				Success: false,
				Code:    "FORBIDDEN",
				Error:   err.Error(),
			})
		case errors.Is(err, billing.ErrUnknownPackage):
			return badRequest(c, err.Error())
		default:
			return s.internalError(c, err)
		}
	}
	return c.JSON(ConfirmResponse{Success: true, Fulfillment: f})
}

// stripeWebhookHandler verifies and applies a Stripe event. Failures other
// than bad signatures return 500 so Stripe redelivers.
func (s *Server) stripeWebhookHandler(c *fiber.Ctx) error {
	if s.deps.Billing == nil {
		return s.billingDisabled(c)
	}

	payload := append([]byte(nil), c.Body()...)
	if err := s.deps.Billing.HandleWebhook(c.Context(), payload, c.Get("Stripe-Signature")); err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			return badRequest(c, "invalid signature")
		}
		return s.internalError(c, err)
	}
	return c.JSON(fiber.Map{"received": true})
}
