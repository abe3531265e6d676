// Package metadata implements the Metadata Store: the durable record of
// which keys the daemon knows about and which one is currently active.
//
// Two files live in the config directory: keys.json (a list of
// KeyMetadata) and state.json (the ActiveKeyPointer). Both are written with
// a write-to-temp-then-rename sequence so a crash mid-write never leaves a
// truncated file, and an advisory flock guards the directory against two
// daemon processes racing a write, mirroring the witnessd store's
// file-safety conventions translated from SQLite transactions to plain
// JSON files.
package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"intercessio/internal/errs"
)

// StorageKind names which Secret Vault backend holds a key's private
// material.
type StorageKind string

const (
	StorageEncryptedFile StorageKind = "encrypted-file"
	StorageNativeKeyring StorageKind = "native-keyring"
)

// KeyMetadata describes one key the daemon has been introduced to.
type KeyMetadata struct {
	ID           string      `json:"id"`
	Npub         string      `json:"npub"`
	Label        string      `json:"label"`
	CreatedAt    int64       `json:"created_at_ms"`
	VaultAccount string      `json:"vault_account"`
	StorageKind  StorageKind `json:"storage_kind"`
}

// ActiveKeyPointer names the key currently backing new sessions.
type ActiveKeyPointer struct {
	ActiveID string `json:"active_id"`
}

// Store is the on-disk metadata store.
type Store struct {
	mu        sync.Mutex
	keysPath  string
	statePath string
	lockPath  string
}

// Open returns a Store rooted at dir, creating empty keys.json/state.json
// if they do not already exist.
func Open(dir string) (*Store, error) {
	s := &Store{
		keysPath:  filepath.Join(dir, "keys.json"),
		statePath: filepath.Join(dir, "state.json"),
		lockPath:  filepath.Join(dir, ".metadata.lock"),
	}

	if _, err := os.Stat(s.keysPath); os.IsNotExist(err) {
		if err := s.writeKeysLocked([]KeyMetadata{}); err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(s.statePath); os.IsNotExist(err) {
		if err := s.writeStateLocked(ActiveKeyPointer{}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// withLock runs fn while holding an advisory exclusive lock on lockPath,
// serializing writers across processes as well as goroutines.
func (s *Store) withLock(fn func() error) error {
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return errs.Wrap(errs.ErrStoreFailure, "open metadata lock", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return errs.Wrap(errs.ErrStoreFailure, "lock metadata", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	return fn()
}

// ListKeys returns all known keys.
func (s *Store) ListKeys() ([]KeyMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []KeyMetadata
	err := s.withLock(func() error {
		var readErr error
		keys, readErr = s.readKeysLocked()
		return readErr
	})
	return keys, err
}

// PutKey inserts or replaces a key by id. A key arriving without an
// explicit vault account or storage kind defaults to its own id under the
// encrypted-file backend, the only backend implemented today.
func (s *Store) PutKey(key KeyMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key.VaultAccount == "" {
		key.VaultAccount = key.ID
	}
	if key.StorageKind == "" {
		key.StorageKind = StorageEncryptedFile
	}

	return s.withLock(func() error {
		keys, err := s.readKeysLocked()
		if err != nil {
			return err
		}
		replaced := false
		for i, k := range keys {
			if k.ID == key.ID {
				keys[i] = key
				replaced = true
				break
			}
		}
		if !replaced {
			keys = append(keys, key)
		}
		return s.writeKeysLocked(keys)
	})
}

// GetKey looks up one key by id.
func (s *Store) GetKey(id string) (KeyMetadata, bool, error) {
	keys, err := s.ListKeys()
	if err != nil {
		return KeyMetadata{}, false, err
	}
	for _, k := range keys {
		if k.ID == id {
			return k, true, nil
		}
	}
	return KeyMetadata{}, false, nil
}

// GetActive returns the current active key pointer.
func (s *Store) GetActive() (ActiveKeyPointer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ptr ActiveKeyPointer
	err := s.withLock(func() error {
		var readErr error
		ptr, readErr = s.readStateLocked()
		return readErr
	})
	return ptr, err
}

// SetActive updates the active key pointer.
func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withLock(func() error {
		return s.writeStateLocked(ActiveKeyPointer{ActiveID: id})
	})
}

func (s *Store) readKeysLocked() ([]KeyMetadata, error) {
	data, err := os.ReadFile(s.keysPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []KeyMetadata{}, nil
		}
		return nil, errs.Wrap(errs.ErrStoreFailure, "read keys.json", err)
	}
	var keys []KeyMetadata
	if len(data) == 0 {
		return []KeyMetadata{}, nil
	}
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, errs.Wrap(errs.ErrStoreFailure, "parse keys.json", err)
	}
	return keys, nil
}

func (s *Store) writeKeysLocked(keys []KeyMetadata) error {
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return errs.Wrap(errs.ErrStoreFailure, "marshal keys.json", err)
	}
	return atomicWrite(s.keysPath, data)
}

func (s *Store) readStateLocked() (ActiveKeyPointer, error) {
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return ActiveKeyPointer{}, nil
		}
		return ActiveKeyPointer{}, errs.Wrap(errs.ErrStoreFailure, "read state.json", err)
	}
	var ptr ActiveKeyPointer
	if len(data) == 0 {
		return ActiveKeyPointer{}, nil
	}
	if err := json.Unmarshal(data, &ptr); err != nil {
		return ActiveKeyPointer{}, errs.Wrap(errs.ErrStoreFailure, "parse state.json", err)
	}
	return ptr, nil
}

func (s *Store) writeStateLocked(ptr ActiveKeyPointer) error {
	data, err := json.MarshalIndent(ptr, "", "  ")
	if err != nil {
		return errs.Wrap(errs.ErrStoreFailure, "marshal state.json", err)
	}
	return atomicWrite(s.statePath, data)
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errs.Wrap(errs.ErrStoreFailure, "create temp file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errs.Wrap(errs.ErrStoreFailure, "write temp file", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return errs.Wrap(errs.ErrStoreFailure, "chmod temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.ErrStoreFailure, "close temp file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errs.Wrap(errs.ErrStoreFailure, "rename temp file", err)
	}
	return nil
}
