// Package x402 implements PaymentRequestParser and X402Engine: decoding
// and normalizing 402 challenges, and orchestrating the
// parse -> policy -> sign -> retry -> settlement state machine.
package x402

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/veridex/core/internal/payments/corex"
	"github.com/veridex/core/internal/payments/signer"
)

// HeaderUCPInitiationURL signals a UCP handoff outside the engine's own
// negotiation; the engine stops and returns control to the caller when
// present instead of attempting to settle the payment itself.
const HeaderUCPInitiationURL = "x-ucp-initiation-url"

// ParsePaymentRequired implements PaymentRequestParser.parse.
// It returns (nil, false) both when the header is absent and when decoding
// fails — the caller (X402Engine) is responsible for distinguishing "no
// payment required" from a malformed challenge by first checking the
// response status.
func ParsePaymentRequired(headers http.Header) (*corex.PaymentRequest, bool) {
	raw := headerValueCaseInsensitive(headers, corex.HeaderPaymentRequired)
	if raw == "" {
		return nil, false
	}

	decoded, err := corex.Base64StdDecode(raw)
	if err != nil {
		return nil, false
	}

	var wire corex.PaymentRequiredWire
	if err := json.Unmarshal(decoded, &wire); err != nil {
		return nil, false
	}
	if len(wire.PaymentRequirements) == 0 {
		return nil, false
	}

	req := wire.PaymentRequirements[0] // take the first requirement the facilitator lists.

	chainID, ok := ResolveNetwork(req.Network)
	if !ok {
		return nil, false
	}

	amount, ok := new(big.Int).SetString(req.MaxAmountRequired, 10)
	if !ok {
		return nil, false
	}

	return &corex.PaymentRequest{
		Scheme:             corex.PaymentScheme(req.Scheme),
		Network:            req.Network,
		ChainID:            chainID,
		Asset:              req.Asset,
		PayTo:              req.PayTo,
		AmountSmallestUnit: amount,
		Facilitator:        req.Facilitator,
		SchemeVersion:      1,
	}, true
}

// ResolveNetwork maps a 402 "network" string to an internal chain id,
// accepting known names, then bare numeric EVM chain ids.
func ResolveNetwork(network string) (int, bool) {
	if id, ok := signer.ResolveChainID(network); ok {
		return id, true
	}
	trimmed := strings.TrimSpace(network)
	if id, err := strconv.Atoi(trimmed); err == nil {
		return id, true
	}
	return 0, false
}

func headerValueCaseInsensitive(headers http.Header, name string) string {
	if v := headers.Get(name); v != "" {
		return v
	}
	for k, vs := range headers {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}

// ParsePaymentResponse decodes the PAYMENT-RESPONSE header after a retry.
func ParsePaymentResponse(headers http.Header) (*corex.PaymentResponseWire, bool) {
	raw := headerValueCaseInsensitive(headers, corex.HeaderPaymentResponse)
	if raw == "" {
		return nil, false
	}
	decoded, err := corex.Base64StdDecode(raw)
	if err != nil {
		return nil, false
	}
	var wire corex.PaymentResponseWire
	if err := json.Unmarshal(decoded, &wire); err != nil {
		return nil, false
	}
	return &wire, true
}
