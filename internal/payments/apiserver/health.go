package apiserver

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/veridex/core/internal/payments/app"
)

// healthResponse reports per-dependency status alongside an overall verdict.
type healthResponse struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Timestamp int64             `json:"timestamp"`
}

func registerHealthRoutes(fiberApp *fiber.App, a *app.App) {
	fiberApp.Get("/health", func(c fiber.Ctx) error {
		services := map[string]string{"api": "up"}
		status := "healthy"
		if a.Store == nil {
			services["store"] = "not_configured"
			status = "degraded"
		} else {
			services["store"] = "up"
		}
		return c.JSON(healthResponse{Status: status, Services: services, Timestamp: time.Now().Unix()})
	})

	fiberApp.Get("/health/live", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "alive"})
	})
}
