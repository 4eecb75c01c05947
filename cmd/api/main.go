// @title veridex-core API
// @version 1.0
// @description Bounded-authority x402 payment agent, exposed over HTTP.
// @description
// @description ## Sessions
// @description Create a Session scoped to a daily/per-transaction spending
// @description policy, then mint short-lived PaymentTokens against it for
// @description other local processes to present.
// @description
// @description ## Payments
// @description POST /v1/pay negotiates any HTTP 402 challenge the target
// @description URL returns, within the bound Session's policy.

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @tag.name health
// @tag.description Health check endpoints for monitoring
// @tag.name sessions
// @tag.description Session lifecycle management
// @tag.name tokens
// @tag.description PaymentToken minting and validation
// @tag.name pay
// @tag.description x402 payment negotiation (token required)
// @tag.name audit
// @tag.description Append-only payment audit log

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veridex/core/internal/payments/app"
	"github.com/veridex/core/internal/payments/apiserver"
	"github.com/veridex/core/internal/payments/config"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Bootstrap(ctx, "default")
	if err != nil {
		slog.Error("failed to bootstrap app", "error", err)
		os.Exit(1)
	}

	srv := apiserver.New(a)

	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server exited")
}

// setupLogging configures the global slog logger: JSON for production,
// text for development.
func setupLogging(cfg *config.Config) {
	var handler slog.Handler
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	slog.SetDefault(slog.New(handler))
}
