package crypto

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACSigner_SignAndVerify(t *testing.T) {
	keyring := NewSingleKeyKeyring("key-1", []byte("super-secret"))
	signer, err := NewHMACSigner(keyring)
	require.NoError(t, err)

	sig, err := signer.Sign(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, SignatureAlgorithmHMAC, sig.Algorithm)
	assert.Equal(t, "key-1", sig.KeyID)

	ok, err := signer.Verify(context.Background(), "deadbeef", sig)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = signer.Verify(context.Background(), "tampered-hash", sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHMACSigner_VerifyAfterKeyRotation(t *testing.T) {
	keyring := &Keyring{
		CurrentKeyID: "key-1",
		Keys: map[string][]byte{
			"key-1": []byte("secret-one"),
		},
	}
	signer, err := NewHMACSigner(keyring)
	require.NoError(t, err)

	sig, err := signer.Sign(context.Background(), "deadbeef")
	require.NoError(t, err)

	// Rotate: key-1 becomes a legacy key, key-2 is current. Old
	// signatures must still verify against the retained key.
	keyring.Keys["key-2"] = []byte("secret-two")
	keyring.CurrentKeyID = "key-2"

	ok, err := signer.Verify(context.Background(), "deadbeef", sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewHMACSigner_RejectsEmptyKeyring(t *testing.T) {
	_, err := NewHMACSigner(&Keyring{})
	assert.Error(t, err)

	_, err = NewHMACSigner(nil)
	assert.Error(t, err)
}
