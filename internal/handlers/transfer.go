package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sol1corejz/sendcent/internal/identity"
	"github.com/sol1corejz/sendcent/internal/ledger"
	"github.com/sol1corejz/sendcent/internal/logger"
	"github.com/sol1corejz/sendcent/internal/middleware"
)

type TransferHandler struct {
	Engine   *ledger.Engine
	Identity *identity.Service
}

type ValidateReceiverRequest struct {
	Email string `json:"email" validate:"required"`
}

type CreateTransferRequest struct {
	ReceiverEmail string `json:"receiver_email" validate:"required"`
	Amount        int64  `json:"amount" validate:"required"`
}

// ValidateReceiver is the read-only check the transfer form calls while the
// sender types. It reveals nothing beyond valid yes/no plus name and email
// when valid.
func (h *TransferHandler) ValidateReceiver(c *fiber.Ctx) error {
	var request ValidateReceiverRequest
	if err := c.BodyParser(&request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	caller := middleware.CallerFromContext(c)

	receiver, err := h.Identity.ResolveReceiver(c.Context(), request.Email, caller)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrSelfReceiver):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"status": "error",
				"data": fiber.Map{
					"valid":   false,
					"message": "You cannot transfer money to yourself",
				},
			})
		case errors.Is(err, identity.ErrReceiverNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"status": "error",
				"data": fiber.Map{
					"valid":   false,
					"message": "No user with this email",
				},
			})
		default:
			logger.Log.Error("Error resolving receiver", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Internal server error",
			})
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "success",
		"data": fiber.Map{
			"valid": true,
			"user": fiber.Map{
				"name":  receiver.Name,
				"email": receiver.Email,
			},
		},
	})
}

func (h *TransferHandler) CreateTransfer(c *fiber.Ctx) error {
	var request CreateTransferRequest
	if err := c.BodyParser(&request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	caller := middleware.CallerFromContext(c)

	receiver, err := h.Identity.ResolveReceiver(c.Context(), request.ReceiverEmail, caller)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrSelfReceiver):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"status": "error", "message": "You cannot transfer money to yourself",
			})
		case errors.Is(err, identity.ErrReceiverNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"status": "error", "message": "No user with this email",
			})
		default:
			logger.Log.Error("Error resolving receiver", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Internal server error",
			})
		}
	}

	idempotencyKey := c.Get("Idempotency-Key")
	if idempotencyKey == "" {
		idempotencyKey = ledger.DeriveIdempotencyKey(caller.ID, receiver.ID, request.Amount, time.Now())
	}

	result, err := h.Engine.Transfer(c.Context(), ledger.TransferInput{
		SenderID:       caller.ID,
		ReceiverID:     receiver.ID,
		Amount:         request.Amount,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidAmount):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"status": "error", "message": "Amount must be a positive number of cents",
			})
		case errors.Is(err, ledger.ErrSelfTransfer):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"status": "error", "message": "You cannot transfer money to yourself",
			})
		case errors.Is(err, ledger.ErrInsufficientBalance):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"status": "error", "message": "Insufficient balance to cover amount and commission",
			})
		case errors.Is(err, ledger.ErrUserNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"status": "error", "message": "User not found",
			})
		case errors.Is(err, ledger.ErrLockContention):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "error", "message": "Too much contention, please retry",
			})
		case errors.Is(err, context.DeadlineExceeded):
			return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{
				"status": "error", "message": "Request timed out",
			})
		default:
			logger.Log.Error("Error executing transfer", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Internal server error",
			})
		}
	}

	txn := result.Transaction
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status":  "success",
		"message": "Transfer completed",
		"data": fiber.Map{
			"uuid":             txn.UUID,
			"amount":           txn.Amount,
			"commission":       txn.Commission,
			"total_debited":    txn.TotalDebited(),
			"sender_balance":   result.SenderBalance,
			"receiver_balance": result.ReceiverBalance,
			"created_at":       txn.CreatedAt,
		},
	})
}
