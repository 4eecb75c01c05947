package signer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/veridex/core/internal/payments/signer"
)

func TestResolveChainIDKnownNetworks(t *testing.T) {
	id, ok := signer.ResolveChainID("base-mainnet")
	assert.True(t, ok)
	assert.Equal(t, signer.ChainIDBase, id)

	id, ok = signer.ResolveChainID("BASE-SEPOLIA")
	assert.True(t, ok)
	assert.Equal(t, signer.ChainIDBaseSepolia, id)
}

func TestResolveChainIDUnknownNetwork(t *testing.T) {
	_, ok := signer.ResolveChainID("mystery-chain")
	assert.False(t, ok)
}

func TestResolveEVMChainIDKnownAndUnknown(t *testing.T) {
	assert.Equal(t, int64(8453), signer.ResolveEVMChainID(signer.ChainIDBase))
	assert.Equal(t, int64(999999), signer.ResolveEVMChainID(999999))
}

func TestResolveTokenAddressVerbatimHex(t *testing.T) {
	addr, fellBack := signer.ResolveTokenAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", signer.ChainIDBase)
	assert.False(t, fellBack)
	assert.Equal(t, "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", addr)
}

func TestResolveTokenAddressSymbolLookup(t *testing.T) {
	addr, fellBack := signer.ResolveTokenAddress("USDC", signer.ChainIDBase)
	assert.False(t, fellBack)
	assert.NotEmpty(t, addr)
}

func TestResolveTokenAddressUnresolvedSymbolFallsBack(t *testing.T) {
	addr, fellBack := signer.ResolveTokenAddress("NOTACOIN", signer.ChainIDBase)
	assert.True(t, fellBack)
	assert.NotEmpty(t, addr)
}

func TestResolveTokenMetaDefaultsForUnknownContract(t *testing.T) {
	name, version, decimals := signer.ResolveTokenMeta("0x0000000000000000000000000000000000000001")
	assert.Equal(t, "x402", name)
	assert.Equal(t, "1", version)
	assert.Equal(t, 6, decimals)
}

func TestResolveTokenMetaKnownUSDCBase(t *testing.T) {
	name, _, decimals := signer.ResolveTokenMeta("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	assert.Equal(t, "USD Coin", name)
	assert.Equal(t, 6, decimals)
}
