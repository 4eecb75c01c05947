package apiserver

import (
	"github.com/gofiber/fiber/v3"
	"github.com/swaggo/swag"

	_ "github.com/veridex/core/internal/payments/docs"
)

// registerDocsRoutes serves the Swagger spec registered by
// internal/payments/docs and a minimal Scalar viewer over it.
func registerDocsRoutes(fiberApp *fiber.App) {
	fiberApp.Get("/docs", func(c fiber.Ctx) error {
		c.Set("Content-Type", "text/html")
		return c.SendString(`<!DOCTYPE html>
<html>
<head><title>veridex-core API</title><meta charset="utf-8"></head>
<body>
  <script id="api-reference" data-url="/docs/swagger.json"
    src="https://cdn.jsdelivr.net/npm/@scalar/api-reference"></script>
</body>
</html>`)
	})

	fiberApp.Get("/docs/swagger.json", func(c fiber.Ctx) error {
		spec, err := swag.ReadDoc("swagger")
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "swagger spec unavailable: "+err.Error())
		}
		c.Set("Content-Type", "application/json")
		return c.SendString(spec)
	})
}
