package crypto

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateEthereumKey(t *testing.T) {
	t.Run("generates valid key", func(t *testing.T) {
		key, err := GenerateEthereumKey()
		require.NoError(t, err)
		require.NotNil(t, key)
		assert.NotNil(t, key.D)
	})

	t.Run("generates unique keys", func(t *testing.T) {
		key1, err := GenerateEthereumKey()
		require.NoError(t, err)
		key2, err := GenerateEthereumKey()
		require.NoError(t, err)

		assert.NotEqual(t, key1.D.Bytes(), key2.D.Bytes())
	})
}

func TestGetEthereumAddress(t *testing.T) {
	t.Run("derives valid address", func(t *testing.T) {
		key, err := GenerateEthereumKey()
		require.NoError(t, err)

		address := GetEthereumAddress(key)
		assert.Len(t, address.Bytes(), 20)
		assert.NotEqual(t, common.Address{}, address)
	})

	t.Run("known vector", func(t *testing.T) {
		// Hardhat/anvil default account #0
		key, err := PrivateKeyFromHex("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
		require.NoError(t, err)
		assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", GetEthereumAddress(key).Hex())
	})
}

func TestPrivateKeyHexRoundtrip(t *testing.T) {
	key, err := GenerateEthereumKey()
	require.NoError(t, err)

	encoded := PrivateKeyToHex(key)
	assert.True(t, strings.HasPrefix(encoded, "0x"))
	assert.Len(t, encoded, 66)

	restored, err := PrivateKeyFromHex(encoded)
	require.NoError(t, err)
	assert.Equal(t, GetEthereumAddress(key), GetEthereumAddress(restored))

	unprefixed, err := PrivateKeyFromHex(strings.TrimPrefix(encoded, "0x"))
	require.NoError(t, err)
	assert.Equal(t, GetEthereumAddress(key), GetEthereumAddress(unprefixed))
}

func TestPrivateKeyFromHex_Invalid(t *testing.T) {
	for _, in := range []string{"", "0x", "0x1234", "not-hex", "0x" + strings.Repeat("00", 32)} {
		_, err := PrivateKeyFromHex(in)
		assert.Error(t, err, in)
	}
}
