package apiserver

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridex/core/internal/payments/alert"
	"github.com/veridex/core/internal/payments/app"
	"github.com/veridex/core/internal/payments/audit"
	"github.com/veridex/core/internal/payments/config"
	"github.com/veridex/core/internal/payments/corex"
	"github.com/veridex/core/internal/payments/identity"
	"github.com/veridex/core/internal/payments/session"
	"github.com/veridex/core/internal/payments/store"
	"github.com/veridex/core/internal/payments/token"
	"github.com/veridex/core/internal/payments/vault"
)

// newTestApp wires the same collaborators app.Bootstrap would, but against
// a StaticDeriver and MemStore so the test never touches KMS or Postgres.
func newTestApp(t *testing.T) *app.App {
	t.Helper()
	clock := corex.NewFixedClock(time.Now().UTC())
	rng := corex.CryptoRng{}

	v := vault.New(vault.NewStaticDeriver([]byte("test-master-secret")))
	st := store.NewMemStore()
	tokens := token.New(clock, rng, func([32]byte) (bool, bool) { return false, true })
	sessions := session.New(v, st, tokens, clock, rng)

	cfg := &config.Config{}
	cfg.Server.Port = "0"

	return &app.App{
		Config:   cfg,
		Identity: &identity.Identity{CredentialID: "cred-test"},
		Vault:    v,
		Store:    st,
		Tokens:   tokens,
		Sessions: sessions,
		AlertBus: alert.New(clock, nil, 0),
		AuditLog: audit.NewMemLog(clock),
	}
}

func TestHealthRoutes(t *testing.T) {
	srv := New(newTestApp(t))

	resp, err := srv.fiberApp.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	liveResp, err := srv.fiberApp.Test(httptest.NewRequest("GET", "/health/live", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, liveResp.StatusCode)
}

func TestSessionCreateAndGet(t *testing.T) {
	srv := New(newTestApp(t))

	body, _ := json.Marshal(map[string]any{
		"dailyCapUSD":     100.0,
		"perTxCapUSD":     10.0,
		"expiresInSecs":   3600,
		"allowedChainIds": []int{8453},
	})
	req := httptest.NewRequest("POST", "/v1/sessions/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.fiberApp.Test(req)
	require.NoError(t, err)
	require.Equal(t, 201, resp.StatusCode)

	var created map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	keyHash, ok := created["keyHash"].(string)
	require.True(t, ok)
	require.NotEmpty(t, keyHash)

	getResp, err := srv.fiberApp.Test(httptest.NewRequest("GET", "/v1/sessions/", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, getResp.StatusCode)

	var listed []map[string]any
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&listed))
	assert.Len(t, listed, 1)
}

func TestTokenMintAndValidate(t *testing.T) {
	a := newTestApp(t)
	srv := New(a)

	sess, err := a.Sessions.Create(t.Context(), a.Identity.CredentialID, a.Identity.MasterKeyHash(), corex.Policy{
		DailyCapUSD:     corex.FromFloat(100),
		PerTxCapUSD:     corex.FromFloat(10),
		ExpiresAt:       time.Now().Add(time.Hour),
		AllowedChainIDs: []int{8453},
	})
	require.NoError(t, err)

	mintBody, _ := json.Marshal(map[string]any{
		"keyHash": hex.EncodeToString(sess.KeyHash[:]),
		"ttlSecs": 300,
	})
	mintReq := httptest.NewRequest("POST", "/v1/tokens/", bytes.NewReader(mintBody))
	mintReq.Header.Set("Content-Type", "application/json")

	mintResp, err := srv.fiberApp.Test(mintReq)
	require.NoError(t, err)
	require.Equal(t, 201, mintResp.StatusCode)

	var minted map[string]any
	require.NoError(t, json.NewDecoder(mintResp.Body).Decode(&minted))
	tokenString, ok := minted["token"].(string)
	require.True(t, ok)
	require.NotEmpty(t, tokenString)

	validateBody, _ := json.Marshal(map[string]any{"token": tokenString})
	validateReq := httptest.NewRequest("POST", "/v1/tokens/validate", bytes.NewReader(validateBody))
	validateReq.Header.Set("Content-Type", "application/json")

	validateResp, err := srv.fiberApp.Test(validateReq)
	require.NoError(t, err)
	assert.Equal(t, 200, validateResp.StatusCode)

	var result map[string]any
	require.NoError(t, json.NewDecoder(validateResp.Body).Decode(&result))
	assert.Equal(t, true, result["valid"])
}

func TestPayRequiresPaymentTokenHeader(t *testing.T) {
	srv := New(newTestApp(t))

	body, _ := json.Marshal(map[string]any{"url": "http://example.invalid/resource"})
	req := httptest.NewRequest("POST", "/v1/pay", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.fiberApp.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestRequestIDIsEchoedBack(t *testing.T) {
	srv := New(newTestApp(t))

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "my-custom-id-123")

	resp, err := srv.fiberApp.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "my-custom-id-123", resp.Header.Get("X-Request-ID"))
}

func TestAuditQueryReturnsEmptyList(t *testing.T) {
	srv := New(newTestApp(t))

	resp, err := srv.fiberApp.Test(httptest.NewRequest("GET", "/v1/audit", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	var records []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	assert.Empty(t, records)
}

func TestRequestIDMintsWhenMalformed(t *testing.T) {
	srv := New(newTestApp(t))

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "not valid!! has spaces")

	resp, err := srv.fiberApp.Test(req)
	require.NoError(t, err)
	assert.NotEqual(t, "not valid!! has spaces", resp.Header.Get("X-Request-ID"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
