package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sol1corejz/sendcent/internal/identity"
	"github.com/sol1corejz/sendcent/internal/logger"
	"github.com/sol1corejz/sendcent/internal/middleware"
	"github.com/sol1corejz/sendcent/internal/models"
)

type AuthHandler struct {
	Identity *identity.Service
}

type RegisterRequest struct {
	Name                 string `json:"name" validate:"required"`
	Email                string `json:"email" validate:"required"`
	Password             string `json:"password" validate:"required"`
	PasswordConfirmation string `json:"password_confirmation" validate:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func userJSON(u models.User) fiber.Map {
	return fiber.Map{
		"id":              u.ID,
		"name":            u.Name,
		"email":           u.Email,
		"balance":         u.Balance,
		"balance_dollars": float64(u.Balance) / 100,
	}
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var request RegisterRequest
	if err := c.BodyParser(&request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if request.Password != request.PasswordConfirmation {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Password confirmation does not match",
		})
	}

	user, token, err := h.Identity.Register(c.Context(), request.Name, request.Email, request.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrValidation):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": err.Error(),
			})
		case errors.Is(err, identity.ErrEmailInUse):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": "Email already in use",
			})
		default:
			logger.Log.Error("Error registering user", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Internal server error",
			})
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "User registered successfully",
		"user":    userJSON(user),
		"token":   token,
	})
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var request LoginRequest
	if err := c.BodyParser(&request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	user, token, err := h.Identity.Login(c.Context(), request.Email, request.Password)
	if err != nil {
		if errors.Is(err, identity.ErrBadCredentials) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": "Wrong email or password",
			})
		}
		logger.Log.Error("Error logging in", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Internal server error",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "User authorized successfully",
		"user":    userJSON(user),
		"token":   token,
	})
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	user := middleware.CallerFromContext(c)
	token, _ := c.Locals(middleware.TokenKey).(string)

	if err := h.Identity.Logout(c.Context(), user.ID, token); err != nil {
		logger.Log.Error("Error revoking token", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Internal server error",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Logged out successfully",
	})
}

func (h *AuthHandler) User(c *fiber.Ctx) error {
	user := middleware.CallerFromContext(c)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"user": userJSON(user),
	})
}
