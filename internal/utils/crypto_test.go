package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptSecretRoundTrip(t *testing.T) {
	sealed, err := EncryptSecret("sk-live-123", "passphrase")
	require.NoError(t, err)
	assert.True(t, IsEncrypted(sealed))
	assert.NotContains(t, sealed, "sk-live-123")

	plain, err := DecryptSecret(sealed, "passphrase")
	require.NoError(t, err)
	assert.Equal(t, "sk-live-123", plain)

	_, err = DecryptSecret(sealed, "wrong")
	assert.Error(t, err)
	_, err = DecryptSecret(sealed, "")
	assert.ErrorIs(t, err, ErrSecretRequired)
}

func TestEncryptSecretPassThrough(t *testing.T) {
	out, err := EncryptSecret("sk-live-123", "")
	require.NoError(t, err)
	assert.Equal(t, "sk-live-123", out)

	out, err = DecryptSecret("plain-key", "passphrase")
	require.NoError(t, err)
	assert.Equal(t, "plain-key", out)
}
