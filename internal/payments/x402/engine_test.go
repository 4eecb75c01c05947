package x402_test

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridex/core/internal/payments/audit"
	"github.com/veridex/core/internal/payments/corex"
	"github.com/veridex/core/internal/payments/session"
	"github.com/veridex/core/internal/payments/signer"
	"github.com/veridex/core/internal/payments/store"
	"github.com/veridex/core/internal/payments/token"
	"github.com/veridex/core/internal/payments/vault"
	"github.com/veridex/core/internal/payments/x402"
)

// scriptedHTTPClient replays a fixed sequence of responses, one per Send
// call, the same shape as a jarcoal/httpmock-backed round tripper but
// without needing *http.Client plumbing in the engine's own tests.
type scriptedHTTPClient struct {
	responses []x402.Response
	calls     int
}

func (c *scriptedHTTPClient) Send(_ context.Context, _ x402.Request) (x402.Response, error) {
	if c.calls >= len(c.responses) {
		return x402.Response{}, assertUnexpectedCall{}
	}
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

type assertUnexpectedCall struct{}

func (assertUnexpectedCall) Error() string { return "no scripted response left" }

type staticKeyProvider struct {
	scalar []byte
}

func (p staticKeyProvider) PlaintextScalar(_ context.Context, _ corex.Session) ([]byte, error) {
	return append([]byte{}, p.scalar...), nil
}

func paymentRequiredResponse(t *testing.T) x402.Response {
	t.Helper()
	wire := corex.PaymentRequiredWire{
		PaymentRequirements: []corex.PaymentRequirementWire{
			{
				Scheme:            "exact",
				Network:           "base-mainnet",
				MaxAmountRequired: "1000000",
				Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
				PayTo:             "0x0000000000000000000000000000000000000001",
			},
		},
	}
	raw, err := json.Marshal(wire)
	require.NoError(t, err)

	headers := http.Header{}
	headers.Set(corex.HeaderPaymentRequired, corex.Base64StdEncode(raw))
	return x402.Response{StatusCode: http.StatusPaymentRequired, Headers: headers}
}

func settledResponse(t *testing.T) x402.Response {
	t.Helper()
	wire := corex.PaymentResponseWire{Success: true, TransactionHash: "0xdeadbeef", Network: "base", Amount: "1000000"}
	raw, err := json.Marshal(wire)
	require.NoError(t, err)
	headers := http.Header{}
	headers.Set(corex.HeaderPaymentResponse, corex.Base64StdEncode(raw))
	return x402.Response{StatusCode: http.StatusOK, Headers: headers}
}

func newTestStack(t *testing.T, now time.Time) (*session.Manager, corex.Session, []byte, *audit.MemLog) {
	t.Helper()
	clock := corex.NewFixedClock(now)
	v := vault.New(vault.NewStaticDeriver([]byte("test-master-secret")))
	s := store.NewMemStore()
	tokens := token.New(clock, corex.CryptoRng{}, nil)
	mgr := session.New(v, s, tokens, clock, corex.CryptoRng{})
	auditLog := audit.NewMemLog(clock)

	// Build the session by hand (rather than via Manager.Create, which
	// generates and seals its own key internally) so the test can retain
	// the plaintext scalar matching session.PublicKey, the way a real
	// caller would have it momentarily after a CredentialVault.Open.
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	scalar := crypto.FromECDSA(priv)
	pubBytes := crypto.FromECDSAPub(&priv.PublicKey)
	keyHash := corex.KeyHash(pubBytes)

	sealed, err := v.Seal(context.Background(), "cred-1", scalar)
	require.NoError(t, err)

	var masterHash [32]byte
	sess := corex.Session{
		KeyHash:       keyHash,
		EncPrivateKey: sealed,
		PublicKey:     pubBytes,
		Policy: corex.Policy{
			DailyCapUSD:     corex.FromFloat(50),
			PerTxCapUSD:     corex.FromFloat(10),
			ExpiresAt:       now.Add(time.Hour),
			AllowedChainIDs: []int{8453},
		},
		Ledger: corex.LedgerState{
			CreatedAt:    now,
			LastUsedAt:   now,
			DailyResetAt: now.Add(24 * time.Hour),
		},
		MasterKeyHash: masterHash,
	}
	require.NoError(t, s.Put(context.Background(), sess))

	return mgr, sess, scalar, auditLog
}

func TestHandleFetchReturnsNonPaymentRequiredUnchanged(t *testing.T) {
	now := time.Now().UTC()
	mgr, sess, scalar, auditLog := newTestStack(t, now)

	client := &scriptedHTTPClient{responses: []x402.Response{{StatusCode: http.StatusOK}}}
	eng := x402.New(client, mgr, signer.New(corex.CryptoRng{}), staticKeyProvider{scalar}, nil, auditLog, nil)

	outcome, err := eng.HandleFetch(context.Background(), x402.Request{Method: "GET", URL: "https://example.com"}, sess)
	require.NoError(t, err)
	assert.Equal(t, x402.StateTerminal, outcome.State)

	records, err := auditLog.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestHandleFetchHappyPathSettles(t *testing.T) {
	now := time.Now().UTC()
	mgr, sess, scalar, auditLog := newTestStack(t, now)

	client := &scriptedHTTPClient{responses: []x402.Response{paymentRequiredResponse(t), settledResponse(t)}}
	eng := x402.New(client, mgr, signer.New(corex.CryptoRng{}), staticKeyProvider{scalar}, nil, auditLog, nil)

	outcome, err := eng.HandleFetch(context.Background(), x402.Request{Method: "GET", URL: "https://example.com", Headers: http.Header{}}, sess)
	require.NoError(t, err)
	assert.Equal(t, x402.StateSettled, outcome.State)
	require.NotNil(t, outcome.Settlement)
	assert.True(t, outcome.Settlement.Success)

	reloaded, err := mgr.Load(context.Background(), sess.KeyHash)
	require.NoError(t, err)
	assert.Equal(t, corex.FromFloat(1), reloaded.Ledger.DailySpentUSD)
	assert.Equal(t, int64(1), reloaded.Ledger.TxCount)

	records, err := auditLog.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, corex.StatusConfirmed, records[0].Status)
	assert.Equal(t, corex.ProtocolX402, records[0].Protocol)
	assert.Equal(t, sess.KeyHash, records[0].SessionKeyHash)
	require.NotNil(t, records[0].TxHash)
	assert.Equal(t, "0xdeadbeef", *records[0].TxHash)
}

func TestHandleFetchDeniesOverPerTransactionLimit(t *testing.T) {
	now := time.Now().UTC()
	mgr, sess, scalar, auditLog := newTestStack(t, now)

	wire := corex.PaymentRequiredWire{
		PaymentRequirements: []corex.PaymentRequirementWire{
			{
				Scheme:            "exact",
				Network:           "base-mainnet",
				MaxAmountRequired: "20000000", // $20, above the $10 per-tx cap
				Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
				PayTo:             "0x0000000000000000000000000000000000000001",
			},
		},
	}
	raw, err := json.Marshal(wire)
	require.NoError(t, err)
	headers := http.Header{}
	headers.Set(corex.HeaderPaymentRequired, corex.Base64StdEncode(raw))

	client := &scriptedHTTPClient{responses: []x402.Response{{StatusCode: http.StatusPaymentRequired, Headers: headers}}}
	eng := x402.New(client, mgr, signer.New(corex.CryptoRng{}), staticKeyProvider{scalar}, nil, auditLog, nil)

	_, err = eng.HandleFetch(context.Background(), x402.Request{Method: "GET", URL: "https://example.com", Headers: http.Header{}}, sess)
	require.Error(t, err)

	reloaded, err := mgr.Load(context.Background(), sess.KeyHash)
	require.NoError(t, err)
	assert.Equal(t, corex.Microdollars(0), reloaded.Ledger.DailySpentUSD)

	records, err := auditLog.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	assert.Empty(t, records, "a denied payment must never reach the audit log")
}

func TestHandleFetchFailsOnMalformedChallenge(t *testing.T) {
	now := time.Now().UTC()
	mgr, sess, scalar, auditLog := newTestStack(t, now)

	headers := http.Header{}
	headers.Set(corex.HeaderPaymentRequired, "not-base64!!!")
	client := &scriptedHTTPClient{responses: []x402.Response{{StatusCode: http.StatusPaymentRequired, Headers: headers}}}
	eng := x402.New(client, mgr, signer.New(corex.CryptoRng{}), staticKeyProvider{scalar}, nil, auditLog, nil)

	_, err := eng.HandleFetch(context.Background(), x402.Request{Method: "GET", URL: "https://example.com", Headers: http.Header{}}, sess)
	require.Error(t, err)
}

func TestHandleFetchSecondPaymentRequiredFails(t *testing.T) {
	now := time.Now().UTC()
	mgr, sess, scalar, auditLog := newTestStack(t, now)

	rejection := corex.PaymentRequiredWire{Error: "insufficient funds"}
	rejectionRaw, err := json.Marshal(rejection)
	require.NoError(t, err)
	rejectionHeaders := http.Header{}
	rejectionHeaders.Set(corex.HeaderPaymentRequired, corex.Base64StdEncode(rejectionRaw))

	client := &scriptedHTTPClient{responses: []x402.Response{
		paymentRequiredResponse(t),
		{StatusCode: http.StatusPaymentRequired, Headers: rejectionHeaders},
	}}
	eng := x402.New(client, mgr, signer.New(corex.CryptoRng{}), staticKeyProvider{scalar}, nil, auditLog, nil)

	_, err = eng.HandleFetch(context.Background(), x402.Request{Method: "GET", URL: "https://example.com", Headers: http.Header{}}, sess)
	require.Error(t, err)

	records, err := auditLog.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1, "spend was already recorded before the server rejected the retry, so the attempt must still be audited")
	assert.Equal(t, corex.StatusFailed, records[0].Status)
}

func TestPaySignsDirectlyWithoutHTTPNegotiation(t *testing.T) {
	now := time.Now().UTC()
	mgr, sess, scalar, auditLog := newTestStack(t, now)

	client := &scriptedHTTPClient{} // no responses scripted: Pay must never call Send
	eng := x402.New(client, mgr, signer.New(corex.CryptoRng{}), staticKeyProvider{scalar}, nil, auditLog, nil)

	req := corex.PaymentRequest{
		Scheme:             corex.SchemeExact,
		ChainID:            8453,
		Asset:              "USDC",
		PayTo:              "0x0000000000000000000000000000000000000001",
		AmountSmallestUnit: big.NewInt(1_000_000),
		SchemeVersion:      1,
	}

	result, err := eng.Pay(context.Background(), req, sess)
	require.NoError(t, err)
	assert.NotEmpty(t, result.PayloadB64)

	reloaded, err := mgr.Load(context.Background(), sess.KeyHash)
	require.NoError(t, err)
	assert.Equal(t, corex.FromFloat(1), reloaded.Ledger.DailySpentUSD)
	assert.Equal(t, int64(1), reloaded.Ledger.TxCount)

	records, err := auditLog.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, corex.ProtocolDirect, records[0].Protocol)
	assert.Equal(t, corex.StatusPending, records[0].Status)
	assert.Nil(t, records[0].TxHash)
}

func TestPayDeniesOverPerTransactionLimit(t *testing.T) {
	now := time.Now().UTC()
	mgr, sess, scalar, auditLog := newTestStack(t, now)

	client := &scriptedHTTPClient{}
	eng := x402.New(client, mgr, signer.New(corex.CryptoRng{}), staticKeyProvider{scalar}, nil, auditLog, nil)

	req := corex.PaymentRequest{
		Scheme:             corex.SchemeExact,
		ChainID:            8453,
		Asset:              "USDC",
		PayTo:              "0x0000000000000000000000000000000000000001",
		AmountSmallestUnit: big.NewInt(20_000_000), // $20, above the $10 per-tx cap
		SchemeVersion:      1,
	}

	_, err := eng.Pay(context.Background(), req, sess)
	require.Error(t, err)

	records, err := auditLog.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	assert.Empty(t, records, "a denied payment must never reach the audit log")
}
