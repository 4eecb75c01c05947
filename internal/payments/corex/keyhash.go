package corex

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeyHash computes the stable, chain-agnostic session identity from an
// uncompressed secp256k1 public key: keccak256(pubkeyBytes). Unlike the EVM
// address (the low 20 bytes of the same hash), this is never truncated, so
// it never collides across sessions whose addresses happen to alias on
// different curves or encodings.
func KeyHash(uncompressedPubKey []byte) [32]byte {
	return crypto.Keccak256Hash(uncompressedPubKey)
}

func addressFromUncompressedPubKey(uncompressedPubKey []byte) (common.Address, error) {
	pub, err := crypto.UnmarshalPubkey(uncompressedPubKey)
	if err != nil {
		return common.Address{}, fmt.Errorf("corex: unmarshal public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
