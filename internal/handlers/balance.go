package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sol1corejz/sendcent/internal/logger"
	"github.com/sol1corejz/sendcent/internal/middleware"
	"github.com/sol1corejz/sendcent/internal/store"
)

type BalanceHandler struct {
	Store *store.Store
}

func (h *BalanceHandler) GetBalance(c *fiber.Ctx) error {
	caller := middleware.CallerFromContext(c)

	// Re-read instead of trusting the session copy: a transfer may have
	// committed since the token was resolved.
	user, err := h.Store.UserByID(c.Context(), caller.ID)
	if err != nil {
		logger.Log.Error("Error getting user balance", zap.Error(err))
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"balance":         user.Balance,
		"balance_dollars": float64(user.Balance) / 100,
	})
}
