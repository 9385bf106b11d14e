package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	require.NoError(t, err)

	ciphertext, err := mgr.EncryptString("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", ciphertext)

	plaintext, err := mgr.DecryptString(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plaintext)
}

func TestKeyPersistsAcrossManagers(t *testing.T) {
	dir := t.TempDir()

	first, err := NewManager(dir)
	require.NoError(t, err)
	ciphertext, err := first.EncryptString("api-token")
	require.NoError(t, err)

	second, err := NewManager(dir)
	require.NoError(t, err)
	plaintext, err := second.DecryptString(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "api-token", plaintext)
}

func TestDecryptRejectsShortCiphertext(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	require.NoError(t, err)

	_, err = mgr.Decrypt([]byte("short"))
	assert.Error(t, err)
}
