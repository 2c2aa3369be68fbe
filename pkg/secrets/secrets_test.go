package secrets_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formbot/formbot/pkg/secrets"
)

func TestAESGCMRoundTrip(t *testing.T) {
	cipher, err := secrets.NewAESGCM(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	sealed, err := cipher.Encrypt("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", sealed)

	plain, err := cipher.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestAESGCMRejectsShortKey(t *testing.T) {
	_, err := secrets.NewAESGCM([]byte("short"))
	assert.Error(t, err)
}

func TestAESGCMRejectsTamperedCiphertext(t *testing.T) {
	cipher, err := secrets.NewAESGCM(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	_, err = cipher.Decrypt("bm90IGEgcmVhbCBjaXBoZXJ0ZXh0IGF0IGFsbCBidXQgbG9uZyBlbm91Z2g=")
	assert.Error(t, err)
}

func TestPlaintextPassThrough(t *testing.T) {
	cipher := secrets.Plaintext{}

	sealed, err := cipher.Encrypt("value")
	require.NoError(t, err)
	assert.Equal(t, "value", sealed)

	plain, err := cipher.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "value", plain)
}
