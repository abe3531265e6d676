package metadata

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenCreatesEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	keys, err := s.ListKeys()
	require.NoError(t, err)
	require.Empty(t, keys)

	active, err := s.GetActive()
	require.NoError(t, err)
	require.Empty(t, active.ActiveID)
}

func TestPutKeyInsertsAndReplaces(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, s.PutKey(KeyMetadata{ID: "k1", Npub: "npub1abc", Label: "first"}))
	require.NoError(t, s.PutKey(KeyMetadata{ID: "k2", Npub: "npub1xyz", Label: "second"}))

	keys, err := s.ListKeys()
	require.NoError(t, err)
	require.Len(t, keys, 2)

	require.NoError(t, s.PutKey(KeyMetadata{ID: "k1", Npub: "npub1abc", Label: "renamed"}))
	keys, err = s.ListKeys()
	require.NoError(t, err)
	require.Len(t, keys, 2)

	var found bool
	for _, k := range keys {
		if k.ID == "k1" {
			require.Equal(t, "renamed", k.Label)
			found = true
		}
	}
	require.True(t, found)
}

func TestPutKeyDefaultsVaultAccountAndStorageKind(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, s.PutKey(KeyMetadata{ID: "k1", Npub: "npub1abc", Label: "first"}))

	keys, err := s.ListKeys()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Equal(t, "k1", keys[0].VaultAccount)
	require.Equal(t, StorageEncryptedFile, keys[0].StorageKind)

	require.NoError(t, s.PutKey(KeyMetadata{
		ID: "k2", Npub: "npub1xyz", Label: "second",
		VaultAccount: "custom-account", StorageKind: StorageNativeKeyring,
	}))
	keys, err = s.ListKeys()
	require.NoError(t, err)
	require.Len(t, keys, 2)
	for _, k := range keys {
		if k.ID == "k2" {
			require.Equal(t, "custom-account", k.VaultAccount)
			require.Equal(t, StorageNativeKeyring, k.StorageKind)
		}
	}
}

func TestSetActivePersists(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, s.SetActive("k1"))

	s2, err := Open(dir)
	require.NoError(t, err)
	active, err := s2.GetActive()
	require.NoError(t, err)
	require.Equal(t, "k1", active.ActiveID)
}
