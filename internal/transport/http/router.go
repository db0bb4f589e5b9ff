package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/sakashimaa/go-pet-project/stock/internal/auth"
	"github.com/sakashimaa/go-pet-project/stock/internal/metrics"
	"github.com/sakashimaa/go-pet-project/stock/internal/transport/http/handler"
	"github.com/sakashimaa/go-pet-project/stock/internal/transport/http/middleware"
)

type Handlers struct {
	Auth  *handler.AuthHandler
	Stock *handler.StockHandler
}

func RegisterRoutes(app *fiber.App, h *Handlers, m *metrics.Metrics, secret string, blacklist *auth.Blacklist) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("Stock Service is alive!")
	})
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	requireAuth := middleware.NewAuthMiddleware(secret, blacklist)

	api := app.Group("/api")
	api.Post("/auth/logout", requireAuth, h.Auth.Logout)

	stock := api.Group("/stock")
	stock.Get("/:id", h.Stock.GetStock)
	stock.Post("/:id/restock", requireAuth, h.Stock.Restock)

	api.Get("/reservations/:orderId", requireAuth, h.Stock.GetReservation)
}
