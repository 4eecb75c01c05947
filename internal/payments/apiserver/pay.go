package apiserver

import (
	"github.com/gofiber/fiber/v3"

	"github.com/veridex/core/internal/payments/app"
	"github.com/veridex/core/internal/payments/corex"
	"github.com/veridex/core/internal/payments/x402"
)

// headerPaymentToken is the header other local processes present instead
// of ever touching the underlying Session's private key: TokenVault's
// bearer-token contract surfaced over HTTP.
const headerPaymentToken = "PAYMENT-TOKEN"

const localsPaymentToken = "paymentToken"

// tokenAuth validates headerPaymentToken against a.Tokens, rejecting the
// request with 401 if missing or invalid, then passes the resolved token
// downstream via c.Locals so the route handler never revalidates it.
func tokenAuth(a *app.App) fiber.Handler {
	return func(c fiber.Ctx) error {
		tokenString := c.Get(headerPaymentToken)
		if tokenString == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing "+headerPaymentToken+" header")
		}
		tok, reason, ok := a.Tokens.Validate(tokenString)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid payment token: "+string(reason))
		}
		c.Locals(localsPaymentToken, tok)
		return c.Next()
	}
}

type payRequest struct {
	URL    string `json:"url"`
	Method string `json:"method"`
}

func registerPayRoutes(fiberApp *fiber.App, a *app.App, auth fiber.Handler) {
	fiberApp.Post("/v1/pay", auth, func(c fiber.Ctx) error {
		var req payRequest
		if err := c.Bind().Body(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
		}
		if req.Method == "" {
			req.Method = "GET"
		}

		tok := c.Locals(localsPaymentToken).(corex.PaymentToken)
		sess, err := a.Sessions.Load(c.Context(), tok.SessionKeyHash)
		if err != nil {
			return err
		}

		outcome, err := a.Engine.HandleFetch(c.Context(), x402.Request{Method: req.Method, URL: req.URL}, sess)
		if err != nil {
			return err
		}

		if updated, loadErr := a.Sessions.Load(c.Context(), sess.KeyHash); loadErr == nil {
			a.AlertBus.OnSpending(updated.KeyHash, updated.Ledger.DailySpentUSD, updated.Policy.DailyCapUSD)
		}

		return c.JSON(fiber.Map{
			"state":      string(outcome.State),
			"statusCode": outcome.Response.StatusCode,
		})
	})
}
