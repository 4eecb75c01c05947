// Package apiserver exposes the payments core over HTTP, for deployments
// that want a long-running service instead of (or alongside) cmd/agent's
// CLI: a fiber.App with a recover/logger/cors middleware stack and a
// custom errorHandler, routing session/token/pay/audit requests onto
// internal/payments/app.App.
package apiserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/veridex/core/internal/payments/app"
)

// Server is the HTTP frontend over an app.App.
type Server struct {
	fiberApp *fiber.App
	app      *app.App
}

// New constructs a Server with routes and middleware wired.
func New(a *app.App) *Server {
	fiberApp := fiber.New(fiber.Config{
		AppName:      "veridex-core",
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		ErrorHandler: errorHandler,
	})

	s := &Server{fiberApp: fiberApp, app: a}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.fiberApp.Use(recover.New())
	s.fiberApp.Use(requestID())
	s.fiberApp.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} ${latency}\n",
	}))
	s.fiberApp.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "DELETE"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "PAYMENT-TOKEN"},
		ExposeHeaders: []string{"PAYMENT-RESPONSE"},
		MaxAge:        300,
	}))
}

func (s *Server) setupRoutes() {
	registerHealthRoutes(s.fiberApp, s.app)
	registerDocsRoutes(s.fiberApp)
	registerSessionRoutes(s.fiberApp, s.app)
	registerTokenRoutes(s.fiberApp, s.app)
	registerAuditRoutes(s.fiberApp, s.app)
	registerPayRoutes(s.fiberApp, s.app, tokenAuth(s.app))

	s.fiberApp.Use(func(c fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "not found",
			"path":  c.Path(),
		})
	})
}

// Start listens on the configured port.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%s", s.app.Config.Server.Port)
	slog.Info("starting veridex-core API server", "addr", addr)
	return s.fiberApp.Listen(addr)
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Close()
	return s.fiberApp.ShutdownWithContext(ctx)
}

func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	slog.Error("request error", "error", err, "path", c.Path(), "request_id", requestIDFrom(c))
	return c.Status(code).JSON(fiber.Map{
		"error":      message,
		"status":     code,
		"timestamp":  time.Now().Unix(),
		"request_id": requestIDFrom(c),
	})
}
