// Package vault implements CredentialVault: derivation of a per-master
// symmetric key and AES-256-GCM encryption/decryption of session private
// keys at rest.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/veridex/core/internal/payments/corex"
	"github.com/veridex/core/internal/payments/perr"
)

func hexDecode(s string) ([]byte, error) {
	return corex.HexDecode(s)
}

func base64Decode(s string) ([]byte, error) {
	return corex.Base64StdDecode(s)
}

// Deriver produces the 32-byte symmetric key used to wrap a given master
// credential's session keys. KMSDeriver and StaticDeriver are the two
// concrete implementations.
type Deriver interface {
	DeriveKey(ctx context.Context, credentialID string) ([]byte, error)
}

// Vault wraps a Deriver with an LRU-free, unbounded cache of derived keys
// (derivation is either a network round trip to KMS or a single
// HMAC-SHA256; both are safe to memoize for the process lifetime) and
// performs the actual AES-256-GCM sealing.
type Vault struct {
	deriver Deriver

	mu    sync.RWMutex
	cache map[string][]byte
}

// New constructs a Vault backed by the given Deriver.
func New(deriver Deriver) *Vault {
	return &Vault{
		deriver: deriver,
		cache:   make(map[string][]byte),
	}
}

func (v *Vault) keyFor(ctx context.Context, credentialID string) ([]byte, error) {
	v.mu.RLock()
	key, ok := v.cache[credentialID]
	v.mu.RUnlock()
	if ok {
		return key, nil
	}

	derived, err := v.deriver.DeriveKey(ctx, credentialID)
	if err != nil {
		return nil, perr.Wrap(perr.KindCrypto, 0, "derive credential key", false, "", err)
	}
	if len(derived) != 32 {
		return nil, perr.New(perr.KindCrypto, 0, fmt.Sprintf("derived key must be 32 bytes, got %d", len(derived)), false, "")
	}

	v.mu.Lock()
	v.cache[credentialID] = derived
	v.mu.Unlock()
	return derived, nil
}

// Seal encrypts plaintext (a session's raw private key) under the key
// derived for credentialID, returning nonce||ciphertext||tag.
func (v *Vault) Seal(ctx context.Context, credentialID string, plaintext []byte) ([]byte, error) {
	key, err := v.keyFor(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, perr.Wrap(perr.KindCrypto, 0, "construct AES cipher", false, "", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, perr.Wrap(perr.KindCrypto, 0, "construct AES-GCM", false, "", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, perr.Wrap(perr.KindCrypto, 0, "generate nonce", false, "", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return sealed, nil
}

// Open decrypts a value previously produced by Seal for the same
// credentialID. A GCM authentication failure (tampering, wrong key, or
// truncation) is reported as a CryptoError, never a silent garbage result.
func (v *Vault) Open(ctx context.Context, credentialID string, sealed []byte) ([]byte, error) {
	key, err := v.keyFor(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, perr.Wrap(perr.KindCrypto, 0, "construct AES cipher", false, "", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, perr.Wrap(perr.KindCrypto, 0, "construct AES-GCM", false, "", err)
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) <= nonceSize {
		return nil, perr.New(perr.KindCrypto, 0, "ciphertext shorter than nonce+tag, cannot be genuine", false, "")
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, perr.Wrap(perr.KindCrypto, 0, "authentication tag mismatch, ciphertext may be tampered", false, "", err)
	}
	return plaintext, nil
}

// DecodeStored decodes a persisted session's encryptedPrivateKey field —
// hex (0x…, > 66 chars) or base64, with the 66-char 0x… form recognized as
// a legacy unencrypted scalar — into the raw bytes to hand to Open, plus
// whether the value was already plaintext and never sealed.
//
// It refuses anything short enough that it could not possibly carry a GCM
// tag, except for the legacy 66-char unencrypted-scalar form, which
// predates GCM sealing entirely.
func DecodeStored(raw string) (data []byte, plaintext bool, err error) {
	const gcmTagSize = 16

	if len(raw) == 66 && (raw[:2] == "0x" || raw[:2] == "0X") {
		scalar, decodeErr := hexDecode(raw[2:])
		if decodeErr == nil && len(scalar) == 32 {
			return scalar, true, nil
		}
	}

	if len(raw) > 2 && (raw[:2] == "0x" || raw[:2] == "0X") {
		decoded, decodeErr := hexDecode(raw[2:])
		if decodeErr != nil {
			return nil, false, perr.Wrap(perr.KindCrypto, 0, "decode hex ciphertext", false, "", decodeErr)
		}
		if len(decoded) <= gcmTagSize {
			return nil, false, perr.New(perr.KindCrypto, 0, "ciphertext too short to be genuine", false, "")
		}
		return decoded, false, nil
	}

	decoded, decodeErr := base64Decode(raw)
	if decodeErr != nil {
		return nil, false, perr.Wrap(perr.KindCrypto, 0, "decode base64 ciphertext", false, "", decodeErr)
	}
	if len(decoded) <= gcmTagSize {
		return nil, false, perr.New(perr.KindCrypto, 0, "ciphertext too short to be genuine", false, "")
	}
	return decoded, false, nil
}
