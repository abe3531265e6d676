package vault

import (
	"context"
	"fmt"
)

// NativeKeyringVault is a placeholder for a future backend that stores
// secrets in the host OS keyring (macOS Keychain, Secret Service on Linux,
// Windows Credential Manager).
//
// STATUS: STUB - Not implemented.
//
// No keyring binding is available to this build. Every method returns an
// error, and nothing falls back to FileVault: session.NewManager registers
// this stub for metadata.StorageNativeKeyring, so a key recorded against
// that backend fails with a "not implemented" error. The stub exists so
// that storage kind has a named backend to grow into, rather than a
// silently absent option.
type NativeKeyringVault struct{}

// NewNativeKeyringVault always returns an error: the backend is unimplemented.
func NewNativeKeyringVault() (*NativeKeyringVault, error) {
	return nil, fmt.Errorf("native keyring vault: not implemented, use file vault")
}

func (v *NativeKeyringVault) Put(ctx context.Context, account string, secret []byte) error {
	return fmt.Errorf("native keyring vault: not implemented")
}

func (v *NativeKeyringVault) Get(ctx context.Context, account string) ([]byte, error) {
	return nil, fmt.Errorf("native keyring vault: not implemented")
}

func (v *NativeKeyringVault) Delete(ctx context.Context, account string) error {
	return fmt.Errorf("native keyring vault: not implemented")
}

func (v *NativeKeyringVault) List(ctx context.Context) ([]string, error) {
	return nil, fmt.Errorf("native keyring vault: not implemented")
}
