package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVault(t *testing.T) *Vault {
	t.Helper()
	encoded, err := GenerateKey()
	require.NoError(t, err)
	v, err := NewFromHex(encoded)
	require.NoError(t, err)
	return v
}

func TestSealOpenRoundTrip(t *testing.T) {
	v := testVault(t)

	plaintext := []byte("sk-ant-api03-very-secret")
	blob, err := v.Seal(plaintext)
	require.NoError(t, err)
	assert.Equal(t, len(plaintext)+Overhead, len(blob))
	assert.NotContains(t, string(blob), string(plaintext))

	opened, err := v.Open(blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestSealIsNonDeterministic(t *testing.T) {
	v := testVault(t)

	first, err := v.Seal([]byte("same secret"))
	require.NoError(t, err)
	second, err := v.Seal([]byte("same secret"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestOpenRejectsTampering(t *testing.T) {
	v := testVault(t)

	blob, err := v.Seal([]byte("secret"))
	require.NoError(t, err)

	t.Run("flipped ciphertext byte", func(t *testing.T) {
		tampered := append([]byte(nil), blob...)
		tampered[len(tampered)-1] ^= 0x01
		_, err := v.Open(tampered)
		assert.ErrorIs(t, err, ErrCiphertext)
	})

	t.Run("flipped version byte", func(t *testing.T) {
		tampered := append([]byte(nil), blob...)
		tampered[0] = 0x02
		_, err := v.Open(tampered)
		assert.ErrorIs(t, err, ErrCiphertext)
	})

	t.Run("truncated blob", func(t *testing.T) {
		_, err := v.Open(blob[:Overhead-1])
		assert.ErrorIs(t, err, ErrCiphertext)
	})

	t.Run("wrong key", func(t *testing.T) {
		other := testVault(t)
		_, err := other.Open(blob)
		assert.ErrorIs(t, err, ErrCiphertext)
	})
}

func TestNewRejectsShortKey(t *testing.T) {
	_, err := New([]byte("short"))
	assert.ErrorIs(t, err, ErrBadKey)

	_, err = NewFromHex("abcd")
	assert.ErrorIs(t, err, ErrBadKey)
}
