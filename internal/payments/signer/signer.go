// Package signer implements EIP-712 typed-data signing of the ERC-3009
// TransferWithAuthorization message, and deterministic verification of
// the resulting signature.
package signer

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/veridex/core/internal/payments/corex"
	"github.com/veridex/core/internal/payments/perr"
)

// DefaultValidityWindow is used when the request carries no explicit
// deadline: valid_before becomes now + DefaultValidityWindow.
const DefaultValidityWindow = 300 * time.Second

// Result is the output of Sign: the signature plus the fields the caller
// needs to build the retry payload.
type Result struct {
	Signature   []byte
	Nonce       [32]byte
	Authorization corex.Authorization
	DeadlineUnix  int64
	PayloadB64    string
}

// Signer produces and verifies EIP-712 ERC-3009 authorizations.
type Signer struct {
	rng corex.Rng
}

// New constructs a Signer.
func New(rng corex.Rng) *Signer {
	return &Signer{rng: rng}
}

// parseAmount parses a decimal or integer string into the token's
// smallest-unit integer.
func parseAmount(amount string, decimals int) (*big.Int, error) {
	if strings.Contains(amount, ".") {
		return parseDecimalAmount(amount, decimals)
	}
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, fmt.Errorf("signer: cannot parse amount %q", amount)
	}
	return v, nil
}

func parseDecimalAmount(amount string, decimals int) (*big.Int, error) {
	parts := strings.SplitN(amount, ".", 2)
	whole, ok := new(big.Int).SetString(parts[0], 10)
	if !ok {
		return nil, fmt.Errorf("signer: cannot parse whole part of %q", amount)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole.Mul(whole, scale)

	if len(parts) == 1 || parts[1] == "" {
		return whole, nil
	}
	frac := parts[1]
	if len(frac) > decimals {
		frac = frac[:decimals]
	}
	for len(frac) < decimals {
		frac += "0"
	}
	fracVal, ok := new(big.Int).SetString(frac, 10)
	if !ok {
		return nil, fmt.Errorf("signer: cannot parse fractional part of %q", amount)
	}
	return whole.Add(whole, fracVal), nil
}

// formatAmount is the inverse of parseAmount: smallest-unit integer to
// decimal string.
func formatAmount(smallestUnit *big.Int, decimals int) string {
	return corex.TruncateFromBigInt(smallestUnit, decimals).String()
}

// interpretAmount applies the dual-interpretation rule for amount fields
// that may arrive as either whole tokens or smallest-unit integers: a
// decimal point means whole tokens scaled by 10^decimals; otherwise, if
// the bare integer is below 10^9 it is still whole tokens, else it is
// already smallest-unit.
func interpretAmount(amount string, decimals int) (*big.Int, error) {
	if strings.Contains(amount, ".") {
		return parseDecimalAmount(amount, decimals)
	}
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, fmt.Errorf("signer: cannot parse amount %q", amount)
	}
	threshold := big.NewInt(1_000_000_000)
	if v.Cmp(threshold) < 0 {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
		v.Mul(v, scale)
	}
	return v, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func eip712Domain(name, version string, chainIDEVM int64, verifyingContract common.Address) apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              name,
		Version:           version,
		ChainId:           (*math.HexOrDecimal256)(big.NewInt(chainIDEVM)),
		VerifyingContract: verifyingContract.Hex(),
	}
}

var transferWithAuthorizationTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"TransferWithAuthorization": {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

func buildTypedData(authz corex.Authorization, domain apitypes.TypedDataDomain) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       transferWithAuthorizationTypes,
		PrimaryType: "TransferWithAuthorization",
		Domain:      domain,
		Message: apitypes.TypedDataMessage{
			"from":        authz.From.Hex(),
			"to":          authz.To.Hex(),
			"value":       authz.Value.String(),
			"validAfter":  strconv.FormatUint(authz.ValidAfter, 10),
			"validBefore": strconv.FormatUint(authz.ValidBefore, 10),
			"nonce":       corex.HexEncode(authz.Nonce[:]),
		},
	}
}

// Sign produces the ERC-3009 TransferWithAuthorization signature for
// request on behalf of session.
//
// plaintextScalar is moved into a fresh memguard enclave (the caller's
// slice is wiped immediately), opened for exactly one signature, and the
// opened buffer is destroyed before this function returns, including on
// the error paths below, so no plaintext copy of the scalar outlives this
// call. Solana chain ids are rejected: ERC-3009 signing is EVM-only.
func (s *Signer) Sign(req corex.PaymentRequest, sessionPublicKey []byte, plaintextScalar []byte) (Result, error) {
	enclave, err := memguard.NewEnclave(plaintextScalar)
	memguard.WipeBytes(plaintextScalar)
	if err != nil {
		return Result{}, perr.Wrap(perr.KindCrypto, 0, "seal session key into enclave", false, "", err)
	}
	if req.ChainID == ChainIDSolana || req.ChainID == ChainIDSolanaDevnet {
		return Result{}, perr.New(perr.KindCrypto, 0, "ERC-3009 signing is EVM-only; Solana requests are not supported", false, "")
	}

	buf, err := enclave.Open()
	if err != nil {
		return Result{}, perr.Wrap(perr.KindCrypto, 0, "open session key enclave", false, "", err)
	}
	defer buf.Destroy()

	privKey, err := crypto.ToECDSA(buf.Bytes())
	if err != nil {
		return Result{}, perr.Wrap(perr.KindCrypto, 0, "reconstruct session private key", false, "", err)
	}

	if len(sessionPublicKey) > 0 {
		derivedPub := crypto.FromECDSAPub(&privKey.PublicKey)
		if !bytesEqual(derivedPub, sessionPublicKey) {
			return Result{}, perr.New(perr.KindCrypto, 0, "session key material does not match session.public_key", false, "")
		}
	}

	fromAddr := crypto.PubkeyToAddress(privKey.PublicKey)

	tokenAddrHex, fellBack := ResolveTokenAddress(req.Asset, req.ChainID)
	_ = fellBack // Sign neither logs nor reports the fallback.
	tokenAddr := common.HexToAddress(tokenAddrHex)
	name, version, decimals := ResolveTokenMeta(tokenAddrHex)
	evmChainID := ResolveEVMChainID(req.ChainID)

	value := req.AmountSmallestUnit
	if value == nil {
		return Result{}, perr.New(perr.KindProtocol, 0, "payment request has no amount_smallest_unit", false, "")
	}
	_ = decimals

	nonce, err := corex.Nonce32(s.rng)
	if err != nil {
		return Result{}, perr.Wrap(perr.KindCrypto, 0, "generate nonce", false, "", err)
	}

	deadline := time.Now().Add(DefaultValidityWindow).Unix()
	if req.DeadlineUnix != nil {
		deadline = *req.DeadlineUnix
	}

	authz := corex.Authorization{
		From:        fromAddr,
		To:          common.HexToAddress(req.PayTo),
		Value:       value,
		ValidAfter:  0,
		ValidBefore: uint64(deadline),
		Nonce:       nonce,
	}

	domain := eip712Domain(name, version, evmChainID, tokenAddr)
	typedData := buildTypedData(authz, domain)

	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return Result{}, perr.Wrap(perr.KindCrypto, 0, "compute EIP-712 digest", false, "", err)
	}

	sig, err := crypto.Sign(digest, privKey)
	if err != nil {
		return Result{}, perr.Wrap(perr.KindCrypto, 0, "sign digest", false, "", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}

	payload := corex.PaymentPayloadWire{
		X402Version: 1,
		Scheme:      string(req.Scheme),
		Network:     req.Network,
		Payload: corex.PaymentPayloadInnerWire{
			Signature: corex.HexEncode(sig),
			Authorization: corex.AuthorizationWire{
				From:        authz.From.Hex(),
				To:          authz.To.Hex(),
				Value:       authz.Value.String(),
				ValidAfter:  strconv.FormatUint(authz.ValidAfter, 10),
				ValidBefore: strconv.FormatUint(authz.ValidBefore, 10),
				Nonce:       corex.HexEncode(authz.Nonce[:]),
			},
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Result{}, perr.Wrap(perr.KindInternal, 0, "marshal payment payload", false, "", err)
	}

	return Result{
		Signature:     sig,
		Nonce:         nonce,
		Authorization: authz,
		DeadlineUnix:  deadline,
		PayloadB64:    corex.Base64StdEncode(encoded),
	}, nil
}

// Verify recomputes the typed-data hash with identical domain/types and
// recovers the signer, returning false (never erroring) on any decoding
// failure.
func Verify(signature []byte, authz corex.Authorization, expectedSigner common.Address, chainIDEVM int64, tokenAddr common.Address) bool {
	if len(signature) != 65 {
		return false
	}
	name, version, _ := ResolveTokenMeta(tokenAddr.Hex())
	domain := eip712Domain(name, version, chainIDEVM, tokenAddr)
	typedData := buildTypedData(authz, domain)

	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return false
	}

	sig := append([]byte{}, signature...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKey, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return false
	}
	recovered := crypto.PubkeyToAddress(*pubKey)
	return recovered == expectedSigner
}

// ParseAmount exposes the package's amount-parsing helper for tests.
func ParseAmount(str string, decimals int) (*big.Int, error) {
	return parseAmount(str, decimals)
}

// FormatAmount exposes the package's amount-formatting helper for tests.
func FormatAmount(smallestUnit *big.Int, decimals int) string {
	return formatAmount(smallestUnit, decimals)
}

// InterpretAmount exposes the dual-interpretation rule to callers outside
// the package; cmd/agent's `pay --direct` uses it to turn its --amount flag
// into a smallest-unit amount.
func InterpretAmount(amount string, decimals int) (*big.Int, error) {
	return interpretAmount(amount, decimals)
}
