package x402

import (
	"context"

	"github.com/veridex/core/internal/payments/corex"
	"github.com/veridex/core/internal/payments/vault"
)

// VaultKeyProvider implements KeyMaterialProvider over a vault.Vault,
// opening a Session's sealed scalar under the local agent's
// credential_id for exactly the duration of one Sign call.
type VaultKeyProvider struct {
	vault        *vault.Vault
	credentialID string
}

// NewVaultKeyProvider constructs a VaultKeyProvider bound to a single
// local credential_id, the normal single-identity CLI/agent shape.
func NewVaultKeyProvider(v *vault.Vault, credentialID string) *VaultKeyProvider {
	return &VaultKeyProvider{vault: v, credentialID: credentialID}
}

// PlaintextScalar opens sess.EncPrivateKey under the bound credential_id.
func (p *VaultKeyProvider) PlaintextScalar(ctx context.Context, sess corex.Session) ([]byte, error) {
	return p.vault.Open(ctx, p.credentialID, sess.EncPrivateKey)
}
