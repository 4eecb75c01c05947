package apiserver

import (
	"encoding/hex"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/veridex/core/internal/payments/app"
	"github.com/veridex/core/internal/payments/corex"
)

type createSessionRequest struct {
	DailyCapUSD     float64 `json:"dailyCapUSD"`
	PerTxCapUSD     float64 `json:"perTxCapUSD"`
	ExpiresInSecs   int64   `json:"expiresInSecs"`
	AllowedChainIDs []int   `json:"allowedChainIds"`
}

type sessionResponse struct {
	KeyHash       string  `json:"keyHash"`
	DailyCapUSD   string  `json:"dailyCapUSD"`
	PerTxCapUSD   string  `json:"perTxCapUSD"`
	DailySpentUSD string  `json:"dailySpentUSD"`
	ExpiresAt     int64   `json:"expiresAt"`
	TxCount       int64   `json:"txCount"`
}

func toSessionResponse(s corex.Session) sessionResponse {
	return sessionResponse{
		KeyHash:       hex.EncodeToString(s.KeyHash[:]),
		DailyCapUSD:   s.Policy.DailyCapUSD.String(),
		PerTxCapUSD:   s.Policy.PerTxCapUSD.String(),
		DailySpentUSD: s.Ledger.DailySpentUSD.String(),
		ExpiresAt:     s.Policy.ExpiresAt.Unix(),
		TxCount:       s.Ledger.TxCount,
	}
}

func registerSessionRoutes(fiberApp *fiber.App, a *app.App) {
	group := fiberApp.Group("/v1/sessions")

	group.Post("/", func(c fiber.Ctx) error {
		var req createSessionRequest
		if err := c.Bind().Body(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
		}
		if req.ExpiresInSecs <= 0 {
			req.ExpiresInSecs = int64(a.Config.Session.DefaultExpiry.Seconds())
		}

		policy := corex.Policy{
			DailyCapUSD:     corex.FromFloat(req.DailyCapUSD),
			PerTxCapUSD:     corex.FromFloat(req.PerTxCapUSD),
			ExpiresAt:       time.Now().UTC().Add(time.Duration(req.ExpiresInSecs) * time.Second),
			AllowedChainIDs: req.AllowedChainIDs,
		}

		sess, err := a.Sessions.Create(c.Context(), a.Identity.CredentialID, a.Identity.MasterKeyHash(), policy)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(toSessionResponse(sess))
	})

	group.Get("/", func(c fiber.Ctx) error {
		sessions, err := a.Sessions.SessionsForMaster(c.Context(), a.Identity.MasterKeyHash())
		if err != nil {
			return err
		}
		out := make([]sessionResponse, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, toSessionResponse(s))
		}
		return c.JSON(out)
	})

	group.Delete("/:keyHash", func(c fiber.Ctx) error {
		keyHash, err := parseKeyHashParam(c.Params("keyHash"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := a.Sessions.Revoke(c.Context(), keyHash); err != nil {
			return err
		}
		a.Tokens.RevokeAllForSession(keyHash)
		return c.JSON(fiber.Map{"revoked": true})
	})
}

func parseKeyHashParam(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return out, fiber.NewError(fiber.StatusBadRequest, "malformed keyHash")
	}
	copy(out[:], raw)
	return out, nil
}
