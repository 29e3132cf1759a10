package keyvault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const signingKey = "0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef"

func newVault(t *testing.T) *Vault {
	t.Helper()
	key, err := GenerateMasterKey()
	require.NoError(t, err)
	v, err := New(key)
	require.NoError(t, err)
	return v
}

func TestVaultRoundTrip(t *testing.T) {
	v := newVault(t)

	blob1, err := v.Encrypt(signingKey)
	require.NoError(t, err)
	blob2, err := v.Encrypt(signingKey)
	require.NoError(t, err)
	assert.NotEqual(t, blob1, blob2, "salted blobs must differ")

	for _, blob := range []string{blob1, blob2} {
		got, err := v.Decrypt(blob)
		require.NoError(t, err)
		assert.Equal(t, signingKey, got)
	}
}

func TestVaultWrongMasterKey(t *testing.T) {
	blob, err := newVault(t).Encrypt(signingKey)
	require.NoError(t, err)

	_, err = newVault(t).Decrypt(blob)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestVaultCorruptBlob(t *testing.T) {
	v := newVault(t)
	_, err := v.Decrypt("not-base64!!")
	assert.ErrorIs(t, err, ErrDecryption)

	_, err = v.Decrypt(encoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestVaultRotate(t *testing.T) {
	old := newVault(t)
	current := newVault(t)

	blob, err := old.Encrypt(signingKey)
	require.NoError(t, err)

	rotated, err := current.Rotate(blob, old)
	require.NoError(t, err)

	got, err := current.Decrypt(rotated)
	require.NoError(t, err)
	assert.Equal(t, signingKey, got)

	_, err = old.Decrypt(rotated)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestNewRejectsShortKey(t *testing.T) {
	_, err := New(encoding.EncodeToString([]byte("too-short")))
	assert.ErrorIs(t, err, ErrInvalidMasterKey)
}
