package apiserver

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/veridex/core/internal/payments/app"
)

type mintTokenRequest struct {
	KeyHash string `json:"keyHash"`
	TTLSecs int64  `json:"ttlSecs"`
}

type mintTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

type validateTokenRequest struct {
	Token string `json:"token"`
}

func registerTokenRoutes(fiberApp *fiber.App, a *app.App) {
	group := fiberApp.Group("/v1/tokens")

	group.Post("/", func(c fiber.Ctx) error {
		var req mintTokenRequest
		if err := c.Bind().Body(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
		}
		keyHash, err := parseKeyHashParam(req.KeyHash)
		if err != nil {
			return err
		}

		sess, err := a.Sessions.Load(c.Context(), keyHash)
		if err != nil {
			return err
		}

		tok, err := a.Tokens.Mint(sess, time.Duration(req.TTLSecs)*time.Second)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(mintTokenResponse{
			Token:     tok.TokenString,
			ExpiresAt: tok.ExpiresAt.Unix(),
		})
	})

	group.Post("/validate", func(c fiber.Ctx) error {
		var req validateTokenRequest
		if err := c.Bind().Body(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
		}
		_, reason, ok := a.Tokens.Validate(req.Token)
		return c.JSON(fiber.Map{"valid": ok, "reason": string(reason)})
	})
}
