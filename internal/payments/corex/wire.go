package corex

// This file holds the external wire shapes exchanged with facilitators
// and peer agents. Field names are JSON-tagged verbatim so that a
// byte-exact reader in another implementation can decode what this core
// produces.

// PaymentPayloadWire is the `PaymentPayload` shape carried in the
// PAYMENT-SIGNATURE retry header.
type PaymentPayloadWire struct {
	X402Version int                     `json:"x402Version"`
	Scheme      string                  `json:"scheme"`
	Network     string                  `json:"network"`
	Payload     PaymentPayloadInnerWire `json:"payload"`
}

// PaymentPayloadInnerWire carries the signature and EIP-3009 authorization.
type PaymentPayloadInnerWire struct {
	Signature     string                `json:"signature"`
	Authorization AuthorizationWire     `json:"authorization"`
}

// AuthorizationWire is the wire (string-encoded) form of Authorization.
type AuthorizationWire struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// PaymentRequirementWire is one element of the `paymentRequirements` array
// decoded from a PAYMENT-REQUIRED challenge header.
type PaymentRequirementWire struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"`
	MaxAmountRequired string                 `json:"maxAmountRequired"`
	Asset             string                 `json:"asset"`
	PayTo             string                 `json:"payTo"`
	Facilitator       string                 `json:"facilitator,omitempty"`
	Description       string                 `json:"description,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequiredWire is the JSON body base64-encoded into the
// PAYMENT-REQUIRED header.
type PaymentRequiredWire struct {
	PaymentRequirements []PaymentRequirementWire `json:"paymentRequirements"`
	Error               string                   `json:"error,omitempty"`
}

// PaymentResponseWire is the JSON body base64-encoded into the
// PAYMENT-RESPONSE header returned after a successful retry.
type PaymentResponseWire struct {
	Success         bool   `json:"success"`
	TransactionHash string `json:"transactionHash,omitempty"`
	Network         string `json:"network"`
	Amount          string `json:"amount"`
	Facilitator     string `json:"facilitator,omitempty"`
	Error           string `json:"error,omitempty"`
}

// PaymentTokenWire is the JSON envelope minted/validated by TokenVault,
// base64url-encoded into the opaque token string.
type PaymentTokenWire struct {
	KeyHash   string               `json:"keyHash"`
	Type      string               `json:"type"`
	Limits    PaymentTokenLimits   `json:"limits"`
	ExpiresAt int64                `json:"expiresAt"`
	Nonce     string               `json:"nonce"`
}

// PaymentTokenLimits is the embedded limits snapshot of PaymentTokenWire.
type PaymentTokenLimits struct {
	DailyLimitUSD         string `json:"dailyLimitUSD"`
	PerTransactionLimitUSD string `json:"perTransactionLimitUSD"`
}

// PaymentTokenType is the required, exact `type` discriminator; any other
// value must be rejected by TokenVault.validate.
const PaymentTokenType = "VERIDEX_SESSION_TOKEN"

// SessionWire is the persisted-session layout.
type SessionWire struct {
	KeyHash             string           `json:"keyHash"`
	EncryptedPrivateKey string           `json:"encryptedPrivateKey"`
	PublicKey           string           `json:"publicKey"`
	Config              SessionConfig    `json:"config"`
	Metadata            SessionMetadata  `json:"metadata"`
	MasterKeyHash       string           `json:"masterKeyHash"`
}

// SessionConfig is the `config` sub-object of SessionWire.
type SessionConfig struct {
	DailyLimitUSD         string  `json:"dailyLimitUSD"`
	PerTransactionLimitUSD string `json:"perTransactionLimitUSD"`
	ExpiryTimestamp       int64   `json:"expiryTimestamp"`
	AllowedChains         []int   `json:"allowedChains"`
}

// SessionMetadata is the `metadata` sub-object of SessionWire.
type SessionMetadata struct {
	CreatedAt         int64  `json:"createdAt"`
	LastUsedAt        int64  `json:"lastUsedAt"`
	TotalSpentUSD     string `json:"totalSpentUSD"`
	DailySpentUSD     string `json:"dailySpentUSD"`
	DailyResetAt      int64  `json:"dailyResetAt"`
	TransactionCount  int64  `json:"transactionCount"`
}

// Header names for the 402 wire protocol.
const (
	HeaderPaymentRequired  = "PAYMENT-REQUIRED"
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
	HeaderPaymentResponse  = "PAYMENT-RESPONSE"
)
