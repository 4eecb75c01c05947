// Package identity manages the local agent's MasterCredential: the
// long-lived credential_id that keys every SessionManager.Create call and
// CredentialVault.DeriveKey derivation. The OS-keyring storage and
// platform backend selection keep the same OS-keyring approach other
// wallet-style tools use for holding a raw signing key directly; here the
// keyring holds only the opaque credential_id string, since the scalar
// signing key lives behind vault.Vault instead.
package identity

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/99designs/keyring"
	"github.com/google/uuid"

	"github.com/veridex/core/internal/payments/corex"
)

const serviceName = "veridex-core"

// Identity is the local agent's persisted MasterCredential identity.
type Identity struct {
	userID       string
	ring         keyring.Keyring
	CredentialID string
}

// Load opens the OS keyring and loads (or creates, on first run) the local
// agent's credential_id for userID.
func Load(userID string) (*Identity, error) {
	ring, err := openKeyring()
	if err != nil {
		return nil, fmt.Errorf("identity: open keyring: %w", err)
	}

	id := &Identity{userID: userID, ring: ring}
	if err := id.load(); err != nil {
		return id.create()
	}
	return id, nil
}

// MasterKeyHash derives the MasterCredential.key_hash used to index
// SessionStore.list_by_master, the keccak256 of the credential_id string.
func (id *Identity) MasterKeyHash() [32]byte {
	return corex.KeyHash([]byte(id.CredentialID))
}

func (id *Identity) keyID() string {
	return fmt.Sprintf("credential-%s", id.userID)
}

func (id *Identity) load() error {
	item, err := id.ring.Get(id.keyID())
	if err != nil {
		return err
	}
	id.CredentialID = string(item.Data)
	return nil
}

func (id *Identity) create() (*Identity, error) {
	raw := make([]byte, 16)
	copy(raw, uuid.New()[:])
	id.CredentialID = "cred_" + hex.EncodeToString(raw)

	if err := id.ring.Set(keyring.Item{
		Key:  id.keyID(),
		Data: []byte(id.CredentialID),
	}); err != nil {
		return nil, fmt.Errorf("identity: store credential_id: %w", err)
	}
	return id, nil
}

// Forget removes the local identity from the keyring. A fresh credential_id
// (and therefore a fresh derived encryption key) is created on next Load.
func (id *Identity) Forget() error {
	return id.ring.Remove(id.keyID())
}

func openKeyring() (keyring.Keyring, error) {
	if runtime.GOOS == "linux" {
		return openLinuxKeyring()
	}
	return keyring.Open(keyring.Config{
		ServiceName:              serviceName,
		KeychainName:             serviceName,
		KeychainTrustApplication: true,
	})
}

func openLinuxKeyring() (keyring.Keyring, error) {
	var errs []string

	if hasSecretService() {
		ring, err := keyring.Open(keyring.Config{
			ServiceName:     serviceName,
			KeychainName:    serviceName,
			AllowedBackends: []keyring.BackendType{keyring.SecretServiceBackend},
		})
		if err == nil {
			return ring, nil
		}
		errs = append(errs, fmt.Sprintf("Secret Service: %v", err))
	} else {
		errs = append(errs, "Secret Service: DBUS_SESSION_BUS_ADDRESS not set")
	}

	if hasPass() {
		ring, err := keyring.Open(keyring.Config{
			ServiceName:     serviceName,
			KeychainName:    serviceName,
			AllowedBackends: []keyring.BackendType{keyring.PassBackend},
		})
		if err == nil {
			return ring, nil
		}
		errs = append(errs, fmt.Sprintf("pass: %v", err))
	} else {
		errs = append(errs, "pass: 'pass' command not found in PATH")
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:     serviceName,
		AllowedBackends: []keyring.BackendType{keyring.FileBackend},
		FileDir:         defaultFileBackendDir(),
		FilePasswordFunc: keyring.FixedStringPrompt(fileBackendPassword()),
	})
	if err == nil {
		return ring, nil
	}
	errs = append(errs, fmt.Sprintf("file: %v", err))

	return nil, fmt.Errorf("no keyring backend available:\n  - %s", strings.Join(errs, "\n  - "))
}

func defaultFileBackendDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".veridex-core"
	}
	return filepath.Join(home, ".veridex-core", "keyring")
}

func fileBackendPassword() string {
	if p := os.Getenv("VERIDEX_KEYRING_PASSWORD"); p != "" {
		return p
	}
	return "veridex-core-dev-only"
}

func hasSecretService() bool {
	return os.Getenv("DBUS_SESSION_BUS_ADDRESS") != ""
}

func hasPass() bool {
	for _, dir := range strings.Split(os.Getenv("PATH"), string(filepath.ListSeparator)) {
		if info, err := os.Stat(filepath.Join(dir, "pass")); err == nil && !info.IsDir() {
			return true
		}
	}
	return false
}
