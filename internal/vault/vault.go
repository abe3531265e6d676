// Package vault implements the Secret Vault contract: durable storage of
// bunker/client private key material, addressed by an opaque account id and
// never exposed in logs or control-plane responses.
//
// Two backends exist. FileVault is the implemented default: an
// AES-256-CBC encrypted JSON blob, keyed by a passphrase-independent key
// derived with scrypt from the machine identifier and a per-install random
// salt. NativeKeyringVault is
// a documented stub for a future OS-keyring-backed implementation,
// following the teacher's own stub-provider convention (see
// pkg/anchors/india_cca.go's CCAProvider in the witnessd codebase).
package vault

import "context"

// Vault is the contract every backend satisfies.
type Vault interface {
	// Put stores secret under account, overwriting any existing value.
	Put(ctx context.Context, account string, secret []byte) error

	// Get retrieves the secret stored under account. Returns
	// errs.ErrNotFound if no such account exists.
	Get(ctx context.Context, account string) ([]byte, error)

	// Delete removes account's secret. Deleting a missing account is not
	// an error.
	Delete(ctx context.Context, account string) error

	// List returns the accounts currently stored, for diagnostics.
	List(ctx context.Context) ([]string, error)
}
