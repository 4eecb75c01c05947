package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/veridex/core/internal/payments/corex"
	"github.com/veridex/core/internal/payments/perr"
	"github.com/veridex/core/internal/payments/vault"
)

// ToWire renders a Session in the persisted-session wire layout, used for
// export/backup: a SessionWire is self-contained JSON a caller can archive
// or move between deployments, as opposed to the raw ciphertext bytes
// Put/Get exchange with the database driver.
func ToWire(s corex.Session) corex.SessionWire {
	return corex.SessionWire{
		KeyHash:             corex.HexEncode(s.KeyHash[:]),
		EncryptedPrivateKey: corex.HexEncode(s.EncPrivateKey),
		PublicKey:           corex.HexEncode(s.PublicKey),
		Config: corex.SessionConfig{
			DailyLimitUSD:          s.Policy.DailyCapUSD.String(),
			PerTransactionLimitUSD: s.Policy.PerTxCapUSD.String(),
			ExpiryTimestamp:        s.Policy.ExpiresAt.Unix(),
			AllowedChains:          s.Policy.AllowedChainIDs,
		},
		Metadata: corex.SessionMetadata{
			CreatedAt:        s.Ledger.CreatedAt.Unix(),
			LastUsedAt:       s.Ledger.LastUsedAt.Unix(),
			TotalSpentUSD:    s.Ledger.TotalSpentUSD.String(),
			DailySpentUSD:    s.Ledger.DailySpentUSD.String(),
			DailyResetAt:     s.Ledger.DailyResetAt.Unix(),
			TransactionCount: s.Ledger.TxCount,
		},
		MasterKeyHash: corex.HexEncode(s.MasterKeyHash[:]),
	}
}

// FromWire reconstructs a Session from an exported SessionWire, re-sealing
// the private key under credentialID if it decodes to DecodeStored's
// legacy plaintext-scalar form rather than an already-sealed ciphertext.
// This is the only production caller of vault.DecodeStored: it is how a
// session imported from an older, pre-GCM-sealing export gets upgraded to
// the current at-rest format instead of being stored unencrypted.
func FromWire(ctx context.Context, w corex.SessionWire, v *vault.Vault, credentialID string) (corex.Session, error) {
	keyHash, err := decodeHash32(w.KeyHash, "keyHash")
	if err != nil {
		return corex.Session{}, err
	}
	masterKeyHash, err := decodeHash32(w.MasterKeyHash, "masterKeyHash")
	if err != nil {
		return corex.Session{}, err
	}
	publicKey, err := corex.HexDecode(w.PublicKey)
	if err != nil {
		return corex.Session{}, perr.Wrap(perr.KindCrypto, 0, "decode publicKey", false, "", err)
	}

	raw, isPlaintext, err := vault.DecodeStored(w.EncryptedPrivateKey)
	if err != nil {
		return corex.Session{}, perr.Wrap(perr.KindCrypto, 0, "decode encryptedPrivateKey", false, "", err)
	}
	encPrivateKey := raw
	if isPlaintext {
		encPrivateKey, err = v.Seal(ctx, credentialID, raw)
		if err != nil {
			return corex.Session{}, perr.Wrap(perr.KindCrypto, 0, "seal legacy plaintext session key", false, "", err)
		}
	}

	dailyCap, err := parseDollars(w.Config.DailyLimitUSD)
	if err != nil {
		return corex.Session{}, err
	}
	perTxCap, err := parseDollars(w.Config.PerTransactionLimitUSD)
	if err != nil {
		return corex.Session{}, err
	}
	totalSpent, err := parseDollars(w.Metadata.TotalSpentUSD)
	if err != nil {
		return corex.Session{}, err
	}
	dailySpent, err := parseDollars(w.Metadata.DailySpentUSD)
	if err != nil {
		return corex.Session{}, err
	}

	return corex.Session{
		KeyHash:       keyHash,
		EncPrivateKey: encPrivateKey,
		PublicKey:     publicKey,
		Policy: corex.Policy{
			DailyCapUSD:     dailyCap,
			PerTxCapUSD:     perTxCap,
			ExpiresAt:       time.Unix(w.Config.ExpiryTimestamp, 0).UTC(),
			AllowedChainIDs: w.Config.AllowedChains,
		},
		Ledger: corex.LedgerState{
			CreatedAt:     time.Unix(w.Metadata.CreatedAt, 0).UTC(),
			LastUsedAt:    time.Unix(w.Metadata.LastUsedAt, 0).UTC(),
			TotalSpentUSD: totalSpent,
			DailySpentUSD: dailySpent,
			DailyResetAt:  time.Unix(w.Metadata.DailyResetAt, 0).UTC(),
			TxCount:       w.Metadata.TransactionCount,
		},
		MasterKeyHash: masterKeyHash,
	}, nil
}

func decodeHash32(hexStr, field string) ([32]byte, error) {
	var out [32]byte
	b, err := corex.HexDecode(hexStr)
	if err != nil {
		return out, perr.Wrap(perr.KindCrypto, 0, fmt.Sprintf("decode %s", field), false, "", err)
	}
	if len(b) != 32 {
		return out, perr.New(perr.KindCrypto, 0, fmt.Sprintf("%s must be 32 bytes, got %d", field, len(b)), false, "")
	}
	copy(out[:], b)
	return out, nil
}

func parseDollars(s string) (corex.Microdollars, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, perr.Wrap(perr.KindProtocol, 0, fmt.Sprintf("parse dollar amount %q", s), false, "", err)
	}
	return corex.FromFloat(f), nil
}
