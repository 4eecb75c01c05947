package signer

import "strings"

// tokenMeta is the EIP-712 domain name/version and decimal count for a
// known ERC-20 verifying_contract, keyed by lowercased address.
type tokenMeta struct {
	name     string
	version  string
	decimals int
}

// defaultTokenName/defaultTokenVersion are used when verifying_contract is
// not in tokenMetadata.
const (
	defaultTokenName    = "x402"
	defaultTokenVersion = "1"
	defaultDecimals     = 6
)

// tokenMetadata maps a lowercased ERC-20 contract address to its EIP-712
// domain name/version and decimal count. Entries cover USDC and USDT on
// Base, Base Sepolia, and Ethereum mainnet.
var tokenMetadata = map[string]tokenMeta{
	// USDC, Base mainnet.
	"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913": {"USD Coin", "2", 6},
	// USDC, Base Sepolia.
	"0x036cbd53842c5426634e7929541ec2318f3dcf7e": {"USDC", "2", 6},
	// USDC, Ethereum mainnet.
	"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48": {"USD Coin", "2", 6},
	// USDT, Ethereum mainnet.
	"0xdac17f958d2ee523a2206206994597c13d831ec7": {"Tether USD", "1", 6},
}

// symbolTable resolves a bare asset symbol to its verifying_contract
// address, keyed by (uppercased symbol, internal chain_id).
var symbolTable = map[string]map[int]string{
	"USDC": {
		ChainIDBase:       "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		ChainIDBaseSepolia: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		ChainIDEthereum:   "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	},
	"USDT": {
		ChainIDEthereum: "0xdAC17F958D2ee523a2206206994597C13D831ec7",
	},
}

// defaultUSDCAddress is the fallback used when a symbol can't be resolved
// against symbolTable; callers are expected to surface a warning when the
// fallback is taken.
const defaultUSDCAddress = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"

// Internal chain ids.
const (
	ChainIDBase        = 30
	ChainIDBaseSepolia = 31
	ChainIDEthereum    = 1
	ChainIDSolana      = 900
	ChainIDSolanaDevnet = 901
)

// networkToInternalChainID maps a 402 "network" string, as used in
// payment requirement wire messages, to an internal chain id.
var networkToInternalChainID = map[string]int{
	"base":            ChainIDBase,
	"base-mainnet":    ChainIDBase,
	"base-sepolia":    ChainIDBaseSepolia,
	"ethereum":        ChainIDEthereum,
	"ethereum-mainnet": ChainIDEthereum,
	"solana":          ChainIDSolana,
	"solana-mainnet":  ChainIDSolana,
	"solana-devnet":   ChainIDSolanaDevnet,
}

// internalChainIDToEVM maps an internal chain id to its EVM chain id, used
// for the EIP-712 domain. Unknown internal ids pass through unchanged.
var internalChainIDToEVM = map[int]int64{
	ChainIDBase:        8453,
	ChainIDBaseSepolia: 84532,
	ChainIDEthereum:    1,
}

// ResolveEVMChainID returns the EVM chain id for an internal chain id.
func ResolveEVMChainID(internalChainID int) int64 {
	if evm, ok := internalChainIDToEVM[internalChainID]; ok {
		return evm
	}
	return int64(internalChainID)
}

// ResolveChainID maps a 402 "network" string to an internal chain id.
func ResolveChainID(network string) (int, bool) {
	lower := strings.ToLower(strings.TrimSpace(network))
	if id, ok := networkToInternalChainID[lower]; ok {
		return id, true
	}
	return 0, false
}

// ResolveTokenMeta returns the domain name/version/decimals for a
// verifying_contract address, falling back to defaults when unknown.
func ResolveTokenMeta(verifyingContract string) (name, version string, decimals int) {
	meta, ok := tokenMetadata[strings.ToLower(verifyingContract)]
	if !ok {
		return defaultTokenName, defaultTokenVersion, defaultDecimals
	}
	return meta.name, meta.version, meta.decimals
}

// ResolveTokenAddress resolves an asset identifier to a verifying_contract
// address: a 42-char 0x-prefixed address is used verbatim; otherwise the
// asset is treated as a symbol looked up against symbolTable for chainID,
// falling back to defaultUSDCAddress (fellBack reports whether the
// fallback was taken, so the caller can emit a warning).
func ResolveTokenAddress(asset string, chainID int) (address string, fellBack bool) {
	if len(asset) == 42 && (strings.HasPrefix(asset, "0x") || strings.HasPrefix(asset, "0X")) {
		return asset, false
	}
	symbol := strings.ToUpper(asset)
	if byChain, ok := symbolTable[symbol]; ok {
		if addr, ok := byChain[chainID]; ok {
			return addr, false
		}
	}
	return defaultUSDCAddress, true
}
