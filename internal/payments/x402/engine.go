package x402

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/veridex/core/internal/payments/audit"
	"github.com/veridex/core/internal/payments/corex"
	"github.com/veridex/core/internal/payments/perr"
	"github.com/veridex/core/internal/payments/session"
	"github.com/veridex/core/internal/payments/signer"
)

// DefaultPaymentTimeout bounds the whole 402 round trip: parse, sign,
// retry, and settle, not just a single HTTP call.
const DefaultPaymentTimeout = 30 * time.Second

// Request is the minimal outbound HTTP request the engine drives through
// HTTPClient.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// Response is what HTTPClient.Send returns.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// HTTPClient is the external transport capability the engine depends on;
// production code backs it with *http.Client, tests back it with a
// hand-rolled stub.
type HTTPClient interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// PriceOracle converts a non-stablecoin asset amount to Microdollars. For
// stablecoins the engine short-circuits without calling this at all.
type PriceOracle interface {
	Quote(ctx context.Context, asset string, amountSmallestUnit string, decimals int) (corex.Microdollars, error)
}

// State is the X402Engine's negotiation state.
type State string

const (
	StateStart          State = "start"
	StateInitial        State = "initial"
	StatePaymentRequired State = "payment_required"
	StateParsed         State = "parsed"
	StatePolicyChecked  State = "policy_checked"
	StateSigned         State = "signed"
	StateRecorded       State = "recorded"
	StateRetried        State = "retried"
	StateSettled        State = "settled"
	StateFailed         State = "failed"
	StateTerminal       State = "terminal"
)

// Outcome is the terminal result of HandleFetch.
type Outcome struct {
	State       State
	Response    Response
	Settlement  *corex.PaymentResponseWire
}

// KeyMaterialProvider resolves the plaintext secp256k1 scalar for a
// session's signing key, e.g. by calling vault.Vault.Open against the
// session's owning credential. The engine never stores or caches the
// result; it is handed straight to signer.Sign and zeroized there.
type KeyMaterialProvider interface {
	PlaintextScalar(ctx context.Context, sess corex.Session) ([]byte, error)
}

// Engine is the 402 negotiation state machine.
type Engine struct {
	http     HTTPClient
	sessions *session.Manager
	signer   *signer.Signer
	keys     KeyMaterialProvider
	oracle   PriceOracle
	auditLog audit.Log
	logger   *slog.Logger
}

// New constructs an Engine. auditLog may be nil, in which case HandleFetch
// skips recording attempts (used by callers that audit out-of-band).
func New(httpClient HTTPClient, sessions *session.Manager, sgn *signer.Signer, keys KeyMaterialProvider, oracle PriceOracle, auditLog audit.Log, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{http: httpClient, sessions: sessions, signer: sgn, keys: keys, oracle: oracle, auditLog: auditLog, logger: logger}
}

// isStablecoin reports whether asset is a known stablecoin symbol or
// address.
func isStablecoin(asset string) bool {
	switch asset {
	case "USDC", "USDT", "usdc", "usdt":
		return true
	}
	for _, symbol := range []string{"USDC", "USDT"} {
		for _, chainID := range []int{signer.ChainIDBase, signer.ChainIDBaseSepolia, signer.ChainIDEthereum} {
			if addr, fellBack := signer.ResolveTokenAddress(symbol, chainID); !fellBack && strings.EqualFold(addr, asset) {
				return true
			}
		}
	}
	return false
}

// HandleFetch drives the full negotiation for one outbound request on
// behalf of session: send, observe a 402, parse, check policy, sign,
// retry with payment attached, and record the outcome.
func (e *Engine) HandleFetch(ctx context.Context, req Request, sess corex.Session) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultPaymentTimeout)
	defer cancel()

	resp, err := e.http.Send(ctx, req)
	if err != nil {
		return Outcome{State: StateFailed}, perr.NewNetworkError("initial request failed", err)
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		return Outcome{State: StateTerminal, Response: resp}, nil
	}

	if resp.Headers.Get(HeaderUCPInitiationURL) != "" {
		return Outcome{State: StateTerminal, Response: resp}, nil
	}

	parsed, ok := ParsePaymentRequired(resp.Headers)
	if !ok {
		return Outcome{State: StateFailed}, perr.NewX402ParseError("malformed PAYMENT-REQUIRED challenge", nil)
	}

	amountUSD, err := e.computeAmountUSD(ctx, *parsed)
	if err != nil {
		return Outcome{State: StateFailed}, err
	}

	decision := e.sessions.CheckLimits(sess, amountUSD)
	if !decision.Allowed {
		return Outcome{State: StateFailed}, perr.NewLimitExceeded(fmt.Sprintf("%s: remaining %s", decision.Reason, decision.RemainingUSD))
	}

	plaintextScalar, err := e.keys.PlaintextScalar(ctx, sess)
	if err != nil {
		return Outcome{State: StateFailed}, perr.Wrap(perr.KindCrypto, 0, "resolve session key material", false, "", err)
	}
	result, err := e.signer.Sign(*parsed, sess.PublicKey, plaintextScalar)
	if err != nil {
		return Outcome{State: StateFailed}, err
	}

	if err := e.sessions.RecordSpending(ctx, sess.KeyHash, amountUSD); err != nil {
		return Outcome{State: StateFailed}, err
	}

	retryReq := mergeRetryHeaders(req, result.PayloadB64)
	retryResp, err := e.http.Send(ctx, retryReq)
	if err != nil {
		e.appendAudit(ctx, sess, *parsed, amountUSD, corex.StatusFailed, nil, corex.ProtocolX402)
		return Outcome{State: StateFailed}, perr.NewNetworkError("retry request failed", err)
	}

	if retryResp.StatusCode == http.StatusPaymentRequired {
		reason := serverRejectionReason(retryResp.Headers)
		e.appendAudit(ctx, sess, *parsed, amountUSD, corex.StatusFailed, nil, corex.ProtocolX402)
		return Outcome{State: StateFailed, Response: retryResp}, perr.NewPaymentFailed(fmt.Sprintf("server rejected payment: %s", reason), nil)
	}

	settlement, _ := ParsePaymentResponse(retryResp.Headers)
	if settlement != nil && !settlement.Success {
		e.logger.Warn("payment settlement reported failure", "network", settlement.Network, "error", settlement.Error)
	}

	status := corex.StatusConfirmed
	var txHash *string
	if settlement != nil {
		if !settlement.Success {
			status = corex.StatusFailed
		}
		if settlement.TransactionHash != "" {
			txHash = &settlement.TransactionHash
		}
	}
	e.appendAudit(ctx, sess, *parsed, amountUSD, status, txHash, corex.ProtocolX402)

	return Outcome{State: StateSettled, Response: retryResp, Settlement: settlement}, nil
}

// Pay performs a direct payment on behalf of sess without any HTTP 402
// negotiation: it signs req, checks and records spending against sess's
// policy, and audits the attempt with Protocol=ProtocolDirect. This is the
// entry point for a caller that already knows the recipient and amount —
// e.g. the CLI's `pay --direct` flow — rather than having them dictated by
// a server's PAYMENT-REQUIRED challenge. The returned signer.Result's
// PayloadB64 is the artifact the caller hands to the recipient or
// facilitator out of band; Pay never submits it anywhere itself, so the
// audited status is Pending until settlement is observed some other way.
func (e *Engine) Pay(ctx context.Context, req corex.PaymentRequest, sess corex.Session) (signer.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultPaymentTimeout)
	defer cancel()

	amountUSD, err := e.computeAmountUSD(ctx, req)
	if err != nil {
		return signer.Result{}, err
	}

	decision := e.sessions.CheckLimits(sess, amountUSD)
	if !decision.Allowed {
		return signer.Result{}, perr.NewLimitExceeded(fmt.Sprintf("%s: remaining %s", decision.Reason, decision.RemainingUSD))
	}

	plaintextScalar, err := e.keys.PlaintextScalar(ctx, sess)
	if err != nil {
		return signer.Result{}, perr.Wrap(perr.KindCrypto, 0, "resolve session key material", false, "", err)
	}
	result, err := e.signer.Sign(req, sess.PublicKey, plaintextScalar)
	if err != nil {
		return signer.Result{}, err
	}

	if err := e.sessions.RecordSpending(ctx, sess.KeyHash, amountUSD); err != nil {
		return signer.Result{}, err
	}

	e.appendAudit(ctx, sess, req, amountUSD, corex.StatusPending, nil, corex.ProtocolDirect)

	return result, nil
}

// appendAudit records a payment attempt once spending has been committed to
// the ledger, so the audit trail and the ledger never disagree about
// whether an attempt happened. It never fails the caller: a logging
// failure is reported, not propagated, since the payment itself already
// went through.
func (e *Engine) appendAudit(ctx context.Context, sess corex.Session, req corex.PaymentRequest, amountUSD corex.Microdollars, status corex.PaymentStatus, txHash *string, protocol corex.Protocol) {
	if e.auditLog == nil {
		return
	}
	record := corex.PaymentRecord{
		Recipient:          req.PayTo,
		AmountSmallestUnit: req.AmountSmallestUnit,
		AmountUSD:          amountUSD,
		TokenSymbolOrAddr:  req.Asset,
		ChainID:            req.ChainID,
		Status:             status,
		TxHash:             txHash,
		Protocol:           protocol,
	}
	if _, err := e.auditLog.Append(ctx, record, sess.KeyHash); err != nil {
		e.logger.Error("failed to append audit record", "error", err)
	}
}

func (e *Engine) computeAmountUSD(ctx context.Context, req corex.PaymentRequest) (corex.Microdollars, error) {
	if isStablecoin(req.Asset) {
		return corex.StablecoinMicrodollars(req.AmountSmallestUnit), nil
	}
	if e.oracle == nil {
		return 0, perr.New(perr.KindInternal, 0, "no price oracle configured for non-stablecoin asset", false, "")
	}
	amount, err := e.oracle.Quote(ctx, req.Asset, req.AmountSmallestUnit.String(), 18)
	if err != nil {
		return 0, perr.Wrap(perr.KindTransient, 0, "price oracle lookup failed", true, "", err)
	}
	return amount, nil
}

// serverRejectionReason extracts the `error` field from a second
// PAYMENT-REQUIRED body, returning "" if absent or undecodable.
func serverRejectionReason(headers http.Header) string {
	raw := headerValueCaseInsensitive(headers, corex.HeaderPaymentRequired)
	if raw == "" {
		return ""
	}
	decoded, err := corex.Base64StdDecode(raw)
	if err != nil {
		return ""
	}
	var body corex.PaymentRequiredWire
	if err := json.Unmarshal(decoded, &body); err != nil {
		return ""
	}
	return body.Error
}

func mergeRetryHeaders(original Request, paymentSignature string) Request {
	headers := original.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	headers.Set(corex.HeaderPaymentSignature, paymentSignature)
	return Request{
		Method:  original.Method,
		URL:     original.URL,
		Headers: headers,
		Body:    original.Body,
	}
}
