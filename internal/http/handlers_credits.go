package http

import (
	"github.com/gofiber/fiber/v2"

	"dubhub/internal/model"
	"dubhub/internal/pricing"
)

func (s *Server) balanceHandler(c *fiber.Ctx) error {
	userID, ok, err := requireUser(c)
	if !ok {
		return err
	}
	balance, err := s.deps.Credits.Balance(c.Context(), userID)
	if err != nil {
		return s.internalError(c, err)
	}
	return c.JSON(BalanceResponse{Success: true, UserID: userID, Balance: balance})
}

// transactionsHandler pages through the caller's ledger, newest first.
func (s *Server) transactionsHandler(c *fiber.Ctx) error {
	userID, ok, err := requireUser(c)
	if !ok {
		return err
	}
	limit, ok := queryInt(c, "limit", 50, 200)
	if !ok || limit == 0 {
		return badRequest(c, "invalid limit value")
	}
	offset, ok := queryInt(c, "offset", 0, 0)
	if !ok {
		return badRequest(c, "invalid offset value")
	}

	txs, err := s.deps.Credits.Transactions(c.Context(), userID, limit, offset)
	if err != nil {
		return s.internalError(c, err)
	}
	if txs == nil {
		txs = []model.CreditTransaction{}
	}
	return c.JSON(TransactionsResponse{Success: true, Transactions: txs})
}

// estimateHandler prices a prospective job against the caller's balance.
func (s *Server) estimateHandler(c *fiber.Ctx) error {
	userID, ok, err := requireUser(c)
	if !ok {
		return err
	}

	var req pricing.Request
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	cost, err := pricing.Estimate(req)
	if err != nil {
		return badRequest(c, err.Error())
	}

	balance, err := s.deps.Credits.Balance(c.Context(), userID)
	if err != nil {
		return s.internalError(c, err)
	}
	return c.JSON(EstimateResponse{Success: true, Credits: cost, Balance: balance, Sufficient: balance >= cost})
}
