package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sol1corejz/sendcent/internal/logger"
	"github.com/sol1corejz/sendcent/internal/middleware"
	"github.com/sol1corejz/sendcent/internal/models"
	"github.com/sol1corejz/sendcent/internal/store"
)

type TransactionsHandler struct {
	Store *store.Store
}

func transactionJSON(t models.Transaction) fiber.Map {
	return fiber.Map{
		"uuid":          t.UUID,
		"sender_id":     t.SenderID,
		"receiver_id":   t.ReceiverID,
		"amount":        t.Amount,
		"commission":    t.Commission,
		"total_debited": t.TotalDebited(),
		"status":        t.Status,
		"created_at":    t.CreatedAt,
	}
}

func (h *TransactionsHandler) List(c *fiber.Ctx) error {
	caller := middleware.CallerFromContext(c)

	page := c.QueryInt("page", 1)
	perPage := c.QueryInt("per_page", 20)
	direction := c.Query("direction", store.DirectionAll)

	switch direction {
	case store.DirectionAll, store.DirectionSent, store.DirectionReceived:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "direction must be all, sent or received",
		})
	}

	transactions, total, err := h.Store.ListTransactions(c.Context(), caller.ID, direction, page, perPage)
	if err != nil {
		logger.Log.Error("Error listing transactions", zap.Error(err))
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	items := make([]fiber.Map, 0, len(transactions))
	for _, t := range transactions {
		items = append(items, transactionJSON(t))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "success",
		"data": fiber.Map{
			"items":    items,
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}

// Detail returns 404 both for unknown transactions and for ones the caller
// is no party to, so existence does not leak.
func (h *TransactionsHandler) Detail(c *fiber.Ctx) error {
	caller := middleware.CallerFromContext(c)
	uuid := c.Params("uuid")

	txn, err := h.Store.TransactionByUUID(c.Context(), uuid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Transaction not found",
			})
		}
		logger.Log.Error("Error getting transaction", zap.Error(err))
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	if txn.SenderID != caller.ID && txn.ReceiverID != caller.ID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Transaction not found",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "success",
		"data":   transactionJSON(txn),
	})
}

func (h *TransactionsHandler) Stats(c *fiber.Ctx) error {
	caller := middleware.CallerFromContext(c)

	stats, err := h.Store.Stats(c.Context(), caller.ID)
	if err != nil {
		logger.Log.Error("Error getting transaction stats", zap.Error(err))
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "success",
		"data": fiber.Map{
			"total_sent":         stats.SentTotalWithCommission,
			"total_received":     stats.ReceivedTotal,
			"total_commission":   stats.CommissionPaid,
			"total_transactions": stats.SentCount + stats.ReceivedCount,
			"net_balance_change": stats.ReceivedTotal - stats.SentTotalWithCommission,
			"sent_count":         stats.SentCount,
			"received_count":     stats.ReceivedCount,
		},
	})
}
