package corex

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PaymentScheme is the x402 payment scheme requested by a facilitator.
type PaymentScheme string

const (
	SchemeExact PaymentScheme = "exact"
	SchemeUpTo  PaymentScheme = "upto"
)

// Protocol identifies which negotiation produced a PaymentRecord.
type Protocol string

const (
	ProtocolX402   Protocol = "x402"
	ProtocolUCP    Protocol = "ucp"
	ProtocolDirect Protocol = "direct"
)

// PaymentStatus is the settlement state of a PaymentRecord.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusConfirmed PaymentStatus = "confirmed"
	StatusFailed    PaymentStatus = "failed"
)

// AlertSeverity classifies an Alert.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// MasterCredential is the long-lived identity that a Session is derived on
// behalf of. The core treats credential_id as opaque and derivation as a
// collaborator concern; only the identifiers are modeled here.
type MasterCredential struct {
	CredentialID string
	KeyHash      [32]byte
	PubX, PubY   *big.Int
}

// Policy is the bounded-authority tuple carried on every Session.
type Policy struct {
	DailyCapUSD     Microdollars
	PerTxCapUSD     Microdollars
	ExpiresAt       time.Time
	AllowedChainIDs []int
}

// LimitsSnapshot is the policy subset copied into a PaymentToken at mint
// time.
type LimitsSnapshot struct {
	DailyLimitUSD     Microdollars
	PerTransactionUSD Microdollars
}

// SnapshotOf extracts the limits snapshot from a Policy.
func SnapshotOf(p Policy) LimitsSnapshot {
	return LimitsSnapshot{
		DailyLimitUSD:     p.DailyCapUSD,
		PerTransactionUSD: p.PerTxCapUSD,
	}
}

// LedgerState is the mutable spend-tracking portion of a Session. It is a
// pure value type; only ledger.Check/Record may compute its next value,
// and only SessionManager commits it back to the store.
type LedgerState struct {
	CreatedAt     time.Time
	LastUsedAt    time.Time
	TotalSpentUSD Microdollars
	DailySpentUSD Microdollars
	DailyResetAt  time.Time
	TxCount       int64
}

// Session is the primary entity of the session-lifecycle component.
// KeyHash is its stable identity.
type Session struct {
	KeyHash        [32]byte
	EncPrivateKey  []byte
	PublicKey      []byte
	Policy         Policy
	Ledger         LedgerState
	MasterKeyHash  [32]byte
}

// Address derives the EVM address of the session key from its uncompressed
// public key bytes (keccak256(pubkey)[12:]), the standard Ethereum address
// derivation.
func (s Session) Address() (common.Address, error) {
	return addressFromUncompressedPubKey(s.PublicKey)
}

// PaymentRequest is the parsed, normalized form of a 402 challenge.
type PaymentRequest struct {
	Scheme             PaymentScheme
	Network            string
	ChainID            int
	Asset              string
	PayTo              string
	AmountSmallestUnit *big.Int
	Facilitator        string
	DeadlineUnix       *int64
	SchemeVersion      int
}

// Authorization is the ERC-3009 TransferWithAuthorization message.
type Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  uint64
	ValidBefore uint64
	Nonce       [32]byte
}

// PaymentToken is a short-lived opaque capability minted from a Session.
type PaymentToken struct {
	TokenString    string
	SessionKeyHash [32]byte
	LimitsSnapshot LimitsSnapshot
	ExpiresAt      time.Time
	Nonce          [16]byte
}

// PaymentRecord is an append-only audit entry for one payment attempt.
type PaymentRecord struct {
	ID                 string
	Timestamp          time.Time
	SessionKeyHash      [32]byte
	Recipient          string
	AmountSmallestUnit *big.Int
	AmountUSD          Microdollars
	TokenSymbolOrAddr  string
	ChainID            int
	Status             PaymentStatus
	TxHash             *string
	Protocol           Protocol
}

// Alert is a threshold-crossing notification emitted by AlertBus.
type Alert struct {
	Severity       AlertSeverity
	Reason         string
	SessionKeyHash [32]byte
	DailySpentUSD  Microdollars
	DailyCapUSD    Microdollars
	Timestamp      time.Time
}

// Approval is a pending high-value transaction approval decision.
type Approval struct {
	TransactionID string
	AmountUSD     Microdollars
	RequestedAt   time.Time
	ExpiresAt     time.Time
	Approved      bool
	ApprovedBy    *string
}
