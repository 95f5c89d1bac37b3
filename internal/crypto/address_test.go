package crypto

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestCreate2AddressEIP1014Vectors(t *testing.T) {
	tests := []struct {
		name     string
		relay    string
		salt     string
		initCode string
		expected string
	}{
		{
			name:     "zero relay",
			relay:    "0x0000000000000000000000000000000000000000",
			salt:     "0x0000000000000000000000000000000000000000000000000000000000000000",
			initCode: "0x00",
			expected: "0x4D1A2e2bB4F88F0250f26Ffff098B0b30B26BF38",
		},
		{
			name:     "deadbeef relay",
			relay:    "0xdeadbeef00000000000000000000000000000000",
			salt:     "0x0000000000000000000000000000000000000000000000000000000000000000",
			initCode: "0x00",
			expected: "0xB928f69Bb1D91Cd65274e3c79d8986362984fDA3",
		},
		{
			name:     "deadbeef salt",
			relay:    "0xdeadbeef00000000000000000000000000000000",
			salt:     "0x000000000000000000000000feed000000000000000000000000000000000000",
			initCode: "0x00",
			expected: "0xD04116cDd17beBE565EB2422F2497E06cC1C9833",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay := common.HexToAddress(tt.relay)
			salt := common.HexToHash(tt.salt)
			got := CalculateCreate2Address(relay, salt, common.FromHex(tt.initCode))
			require.Equal(t, tt.expected, got.Hex())
		})
	}
}

func TestCreate2AddressMatchesGeth(t *testing.T) {
	relay := common.HexToAddress(FactoryAddress)
	initCode := common.FromHex("0x608060405234801561001057600080fd5b50")
	initCodeHash := Keccak256Hash(initCode)

	for i := uint64(0); i < 64; i++ {
		salt := common.BigToHash(new(big.Int).SetUint64(i * 7919))
		want := gethcrypto.CreateAddress2(relay, salt, initCodeHash[:])
		require.Equal(t, want, Create2Address(relay, salt, initCodeHash))
	}
}

func TestCreate2AddressIntoReusesBuffers(t *testing.T) {
	relay := common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	initCodeHash := Keccak256Hash([]byte{0x60})
	salt := common.HexToHash("0x2a")

	input := NewCreate2Input(relay, initCodeHash)
	require.Len(t, input, Create2InputLen)
	require.Equal(t, byte(0xff), input[0])
	copy(input[Create2PrefixLen:], salt[:])

	hasher := NewHasher()
	var hashBuf [32]byte
	var addr common.Address
	Create2AddressInto(hasher, input, hashBuf[:], addr[:])
	require.Equal(t, Create2Address(relay, salt, initCodeHash), addr)

	// second run with the same hasher must not carry state over
	Create2AddressInto(hasher, input, hashBuf[:], addr[:])
	require.Equal(t, Create2Address(relay, salt, initCodeHash), addr)
}

func TestKeccak256Deterministic(t *testing.T) {
	require.Equal(t, Keccak256([]byte{0x60}), Keccak256([]byte{0x60}))
	require.Equal(t, gethcrypto.Keccak256Hash([]byte("hello")), Keccak256Hash([]byte("hel"), []byte("lo")))
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress(FactoryAddress)
	require.NoError(t, err)
	require.Equal(t, FactoryAddress, addr.Hex())

	_, err = ParseAddress("0x1234")
	require.Error(t, err)

	_, err = ParseAddress("0xzz0042B868300000d44A59004Da54A005ffdcf9f")
	require.Error(t, err)
}
