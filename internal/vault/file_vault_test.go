package vault

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"intercessio/internal/errs"
)

func TestFileVaultPutGetDelete(t *testing.T) {
	dir := t.TempDir()
	v, err := OpenFileVault(filepath.Join(dir, "secrets.json"), filepath.Join(dir, "salt"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, v.Put(ctx, "bunker-1", []byte("nsec1deadbeef")))

	got, err := v.Get(ctx, "bunker-1")
	require.NoError(t, err)
	require.Equal(t, []byte("nsec1deadbeef"), got)

	require.NoError(t, v.Delete(ctx, "bunker-1"))
	_, err = v.Get(ctx, "bunker-1")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestFileVaultDeleteMissingIsNoop(t *testing.T) {
	dir := t.TempDir()
	v, err := OpenFileVault(filepath.Join(dir, "secrets.json"), filepath.Join(dir, "salt"))
	require.NoError(t, err)
	require.NoError(t, v.Delete(context.Background(), "never-existed"))
}

func TestFileVaultSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	secretsPath := filepath.Join(dir, "secrets.json")
	saltPath := filepath.Join(dir, "salt")

	v1, err := OpenFileVault(secretsPath, saltPath)
	require.NoError(t, err)
	require.NoError(t, v1.Put(context.Background(), "acct", []byte("topsecret")))

	v2, err := OpenFileVault(secretsPath, saltPath)
	require.NoError(t, err)
	got, err := v2.Get(context.Background(), "acct")
	require.NoError(t, err)
	require.Equal(t, []byte("topsecret"), got)
}

func TestFileVaultList(t *testing.T) {
	dir := t.TempDir()
	v, err := OpenFileVault(filepath.Join(dir, "secrets.json"), filepath.Join(dir, "salt"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, v.Put(ctx, "a", []byte("1")))
	require.NoError(t, v.Put(ctx, "b", []byte("2")))

	accounts, err := v.List(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, accounts)
}

func TestNativeKeyringVaultIsUnimplemented(t *testing.T) {
	_, err := NewNativeKeyringVault()
	require.Error(t, err)
}
