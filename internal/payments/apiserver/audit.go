package apiserver

import (
	"bytes"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/veridex/core/internal/payments/app"
	"github.com/veridex/core/internal/payments/audit"
)

func registerAuditRoutes(fiberApp *fiber.App, a *app.App) {
	fiberApp.Get("/v1/audit", func(c fiber.Ctx) error {
		filter := audit.Filter{
			Limit:  queryInt(c, "limit", audit.DefaultLimit),
			Offset: queryInt(c, "offset", audit.DefaultOffset),
		}
		if raw := c.Query("chainId"); raw != "" {
			if chainID, err := strconv.Atoi(raw); err == nil {
				filter.ChainID = &chainID
			}
		}

		records, err := a.AuditLog.Query(c.Context(), filter)
		if err != nil {
			return err
		}

		switch c.Query("format") {
		case "csv":
			var buf bytes.Buffer
			if err := audit.WriteCSV(&buf, records); err != nil {
				return err
			}
			c.Set("Content-Type", "text/csv")
			return c.SendString(buf.String())
		default:
			return c.JSON(records)
		}
	})
}

func queryInt(c fiber.Ctx, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
