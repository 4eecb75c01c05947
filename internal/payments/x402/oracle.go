package x402

import (
	"context"
	"math/big"

	"github.com/veridex/core/internal/payments/corex"
	"github.com/veridex/core/internal/payments/perr"
)

// NullOracle rejects every quote. The engine only calls PriceOracle.Quote
// for non-stablecoin assets (isStablecoin short-circuits first), so a
// deployment that only ever pays in USDC/USDT can run with NullOracle
// and never exercise it; anything else fails loudly instead of silently
// mispricing.
type NullOracle struct{}

// Quote always fails; see NullOracle.
func (NullOracle) Quote(_ context.Context, asset string, _ string, _ int) (corex.Microdollars, error) {
	return 0, perr.New(perr.KindProtocol, 0, "no price oracle configured for non-stablecoin asset "+asset, false, "configure a PriceOracle or pay in a supported stablecoin")
}

// FixedOracle quotes every asset at a single configured USD-per-token
// price, for development and demos where wiring a real market-data feed
// is out of scope.
type FixedOracle struct {
	USDPerToken float64
}

// Quote converts amountSmallestUnit at the fixed price.
func (o FixedOracle) Quote(_ context.Context, _ string, amountSmallestUnit string, decimals int) (corex.Microdollars, error) {
	raw, ok := new(big.Int).SetString(amountSmallestUnit, 10)
	if !ok {
		return 0, perr.New(perr.KindProtocol, 0, "malformed amount: "+amountSmallestUnit, false, "")
	}
	whole := new(big.Float).Quo(new(big.Float).SetInt(raw), big.NewFloat(pow10(decimals)))
	usd, _ := whole.Float64()
	return corex.FromFloat(usd * o.USDPerToken), nil
}

func pow10(n int) float64 {
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
