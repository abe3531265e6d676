package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/scrypt"

	"intercessio/internal/errs"
)

const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32 // AES-256
	saltLen      = 16
)

// FileVault is an encrypted-file Vault backend. The file holds a JSON map
// of account -> base64(iv || ciphertext), encrypted in place with a key
// derived by scrypt from the host's machine identifier and a per-install
// salt file sitting alongside it. There is no user passphrase: the
// machine binding plus the salt file's secrecy (0600, same directory as
// the rest of the daemon's state) is the only protection, matching the
// threat model of a single-user local daemon.
type FileVault struct {
	mu       sync.Mutex
	path     string
	saltPath string
	key      []byte
}

// OpenFileVault opens (creating if necessary) a FileVault rooted at path,
// deriving its key from the salt file at saltPath.
func OpenFileVault(path, saltPath string) (*FileVault, error) {
	salt, err := loadOrCreateSalt(saltPath)
	if err != nil {
		return nil, errs.Wrap(errs.ErrSecretVaultFailure, "load vault salt", err)
	}

	// §4.1 requires the key be bound to the machine, not just the salt
	// file: derive it from the per-machine identifier plus the random
	// salt, so the vault and salt files alone don't decrypt on another
	// host.
	key, err := scrypt.Key(machineIdentifier(), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, errs.Wrap(errs.ErrSecretVaultFailure, "derive vault key", err)
	}

	fv := &FileVault{path: path, saltPath: saltPath, key: key}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := fv.writeRecords(map[string]string{}); err != nil {
			return nil, err
		}
	}
	return fv, nil
}

func loadOrCreateSalt(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		return data, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if err := atomicWriteFile(path, salt, 0600); err != nil {
		return nil, err
	}
	return salt, nil
}

func (v *FileVault) readRecords() (map[string]string, error) {
	data, err := os.ReadFile(v.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, errs.Wrap(errs.ErrSecretVaultFailure, "read vault file", err)
	}
	records := map[string]string{}
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errs.Wrap(errs.ErrSecretVaultFailure, "parse vault file", err)
	}
	return records, nil
}

func (v *FileVault) writeRecords(records map[string]string) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errs.Wrap(errs.ErrSecretVaultFailure, "marshal vault file", err)
	}
	if err := atomicWriteFile(v.path, data, 0600); err != nil {
		return errs.Wrap(errs.ErrSecretVaultFailure, "write vault file", err)
	}
	return nil
}

// Put implements Vault.
func (v *FileVault) Put(ctx context.Context, account string, secret []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	records, err := v.readRecords()
	if err != nil {
		return err
	}

	enc, err := v.encrypt(secret)
	if err != nil {
		return errs.Wrap(errs.ErrSecretVaultFailure, "encrypt secret", err)
	}
	records[account] = enc
	return v.writeRecords(records)
}

// Get implements Vault.
func (v *FileVault) Get(ctx context.Context, account string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	records, err := v.readRecords()
	if err != nil {
		return nil, err
	}
	enc, ok := records[account]
	if !ok {
		return nil, fmt.Errorf("vault account %q: %w", account, errs.ErrNotFound)
	}
	plain, err := v.decrypt(enc)
	if err != nil {
		return nil, errs.Wrap(errs.ErrSecretVaultFailure, "decrypt secret", err)
	}
	return plain, nil
}

// Delete implements Vault.
func (v *FileVault) Delete(ctx context.Context, account string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	records, err := v.readRecords()
	if err != nil {
		return err
	}
	if _, ok := records[account]; !ok {
		return nil
	}
	delete(records, account)
	return v.writeRecords(records)
}

// List implements Vault.
func (v *FileVault) List(ctx context.Context) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	records, err := v.readRecords()
	if err != nil {
		return nil, err
	}
	accounts := make([]string, 0, len(records))
	for account := range records {
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func (v *FileVault) encrypt(plain []byte) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", err
	}

	padded := pkcs7Pad(plain, block.BlockSize())
	iv := make([]byte, block.BlockSize())
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	ciphertext := make([]byte, len(padded))
	cbc := cipher.NewCBCEncrypter(block, iv)
	cbc.CryptBlocks(ciphertext, padded)

	out := append(iv, ciphertext...)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (v *FileVault) decrypt(enc string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}
	blockSize := block.BlockSize()
	if len(raw) < blockSize || (len(raw)-blockSize)%blockSize != 0 {
		return nil, fmt.Errorf("corrupt vault ciphertext")
	}

	iv, ciphertext := raw[:blockSize], raw[blockSize:]
	plain := make([]byte, len(ciphertext))
	cbc := cipher.NewCBCDecrypter(block, iv)
	cbc.CryptBlocks(plain, ciphertext)

	return pkcs7Unpad(plain, blockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	pad := make([]byte, padLen)
	for i := range pad {
		pad[i] = byte(padLen)
	}
	return append(data, pad...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}

func atomicWriteFile(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
