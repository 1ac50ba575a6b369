package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/sol1corejz/sendcent/internal/identity"
	"github.com/sol1corejz/sendcent/internal/ledger"
	"github.com/sol1corejz/sendcent/internal/middleware"
	"github.com/sol1corejz/sendcent/internal/store"
)

func NewApp(st *store.Store, ident *identity.Service, engine *ledger.Engine) *fiber.App {
	app := fiber.New()
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
	}))

	authHandler := &AuthHandler{Identity: ident}
	balanceHandler := &BalanceHandler{Store: st}
	transferHandler := &TransferHandler{Engine: engine, Identity: ident}
	transactionsHandler := &TransactionsHandler{Store: st}

	app.Post("/api/auth/register", authHandler.Register)
	app.Post("/api/auth/login", authHandler.Login)

	authRoutes := app.Group("/api", middleware.Auth(ident))
	authRoutes.Post("/auth/logout", authHandler.Logout)
	authRoutes.Get("/auth/user", authHandler.User)
	authRoutes.Get("/balance", balanceHandler.GetBalance)
	authRoutes.Post("/transactions/validate-receiver", transferHandler.ValidateReceiver)
	authRoutes.Get("/transactions/stats", transactionsHandler.Stats)
	authRoutes.Post("/transactions", transferHandler.CreateTransfer)
	authRoutes.Get("/transactions", transactionsHandler.List)
	authRoutes.Get("/transactions/:uuid", transactionsHandler.Detail)

	return app
}
