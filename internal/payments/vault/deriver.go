package vault

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/veridex/core/internal/payments/perr"
)

// KMSDeriver derives a per-credential symmetric key via AWS KMS envelope
// decryption, grounded on Caesar-Trade's internal/kms/client.go: a stored,
// KMS-wrapped data key is decrypted once per credential and cached by the
// owning Vault.
type KMSDeriver struct {
	client           *kms.Client
	wrappedDataKeyOf func(credentialID string) ([]byte, error)
}

// NewKMSDeriver constructs a KMSDeriver. region selects the KMS endpoint;
// localstackEndpoint, if non-empty, overrides it with a local KMS emulator
// for development. wrappedDataKeyOf resolves a credential_id to its
// KMS-encrypted data key blob, typically a lookup against the credential
// store.
func NewKMSDeriver(ctx context.Context, region, localstackEndpoint string, wrappedDataKeyOf func(credentialID string) ([]byte, error)) (*KMSDeriver, error) {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(region))
	if localstackEndpoint != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, perr.Wrap(perr.KindInternal, 0, "load AWS config", false, "", err)
	}

	var kmsOpts []func(*kms.Options)
	if localstackEndpoint != "" {
		endpoint := localstackEndpoint
		kmsOpts = append(kmsOpts, func(o *kms.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	return &KMSDeriver{
		client:           kms.NewFromConfig(cfg, kmsOpts...),
		wrappedDataKeyOf: wrappedDataKeyOf,
	}, nil
}

// DeriveKey decrypts the credential's wrapped data key through KMS and
// returns it directly as the 32-byte symmetric key (KMS data keys for
// AES-256 are generated as 32 bytes upstream of this call).
func (d *KMSDeriver) DeriveKey(ctx context.Context, credentialID string) ([]byte, error) {
	wrapped, err := d.wrappedDataKeyOf(credentialID)
	if err != nil {
		return nil, perr.Wrap(perr.KindInternal, 0, "look up wrapped data key", false, "", err)
	}

	out, err := d.client.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: wrapped})
	if err != nil {
		return nil, perr.Wrap(perr.KindInternal, 0, "KMS decrypt", true, "check KMS key policy and network connectivity", err)
	}
	return out.Plaintext, nil
}

// StaticDeriver derives a per-credential key via HMAC-SHA256 over a single
// master secret, for development and tests where no KMS is available. It
// must never be reachable in production (enforced by config.Validate).
type StaticDeriver struct {
	masterSecret []byte
}

// NewStaticDeriver constructs a StaticDeriver from a raw master secret.
func NewStaticDeriver(masterSecret []byte) *StaticDeriver {
	return &StaticDeriver{masterSecret: masterSecret}
}

// DeriveKey computes HMAC-SHA256(masterSecret, credentialID), which is
// exactly 32 bytes, suitable directly as an AES-256 key.
func (d *StaticDeriver) DeriveKey(_ context.Context, credentialID string) ([]byte, error) {
	if len(d.masterSecret) == 0 {
		return nil, perr.New(perr.KindInternal, 0, "static deriver has no master secret configured", false, "")
	}
	mac := hmac.New(sha256.New, d.masterSecret)
	if _, err := mac.Write([]byte(credentialID)); err != nil {
		return nil, perr.Wrap(perr.KindInternal, 0, "compute HMAC", false, "", err)
	}
	sum := mac.Sum(nil)
	if len(sum) != 32 {
		return nil, perr.New(perr.KindInternal, 0, fmt.Sprintf("unexpected HMAC length %d", len(sum)), false, "")
	}
	return sum, nil
}
