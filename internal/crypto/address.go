package crypto

import (
	"fmt"
	"hash"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

const (
	// ERC-2470 Singleton Factory address
	FactoryAddress = "0xce0042B868300000d44A59004Da54A005ffdcf9f"

	// CREATE2 input layout: 0xff (1) + relay (20) + salt (32) + initcodeHash (32) = 85
	Create2PrefixLen = 1 + common.AddressLength
	Create2SaltLen   = common.HashLength
	Create2SuffixLen = common.HashLength
	Create2InputLen  = Create2PrefixLen + Create2SaltLen + Create2SuffixLen

	create2Marker = 0xff
)

// NewHasher returns a fresh legacy Keccak-256 hasher. Workers keep one each
// and pass it to Create2AddressInto.
func NewHasher() hash.Hash {
	return sha3.NewLegacyKeccak256()
}

// Keccak256 calculates the keccak256 hash of the input bytes
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		_, _ = h.Write(b)
	}
	return h.Sum(nil)
}

// Keccak256Hash is Keccak256 returned as a common.Hash.
func Keccak256Hash(data ...[]byte) common.Hash {
	return common.BytesToHash(Keccak256(data...))
}

// Create2PrefixBytes returns the constant prefix for CREATE2 input (0xff + relay, 21 bytes).
// Caller can copy into input buffer then fill salt and suffix.
func Create2PrefixBytes(relay common.Address) [Create2PrefixLen]byte {
	var prefix [Create2PrefixLen]byte
	prefix[0] = create2Marker
	copy(prefix[1:], relay[:])
	return prefix
}

// NewCreate2Input returns an 85-byte buffer primed with the relay prefix and
// the init code hash. Only the salt window [21:53] changes between attempts.
func NewCreate2Input(relay common.Address, initCodeHash common.Hash) []byte {
	buf := make([]byte, Create2InputLen)
	prefix := Create2PrefixBytes(relay)
	copy(buf, prefix[:])
	copy(buf[Create2PrefixLen+Create2SaltLen:], initCodeHash[:])
	return buf
}

// Create2AddressInto hashes CREATE2 input and writes the 20-byte address into addrBuf.
// Reuses the provided hasher to avoid allocations. inputBuf must be Create2InputLen (85),
// hashBuf must be at least 32 bytes, addrBuf must be 20 bytes.
// Layout: inputBuf = prefix(21) + salt(32) + suffix(32).
func Create2AddressInto(hasher hash.Hash, inputBuf, hashBuf, addrBuf []byte) {
	hasher.Reset()
	hasher.Write(inputBuf)
	sum := hasher.Sum(hashBuf[:0])
	copy(addrBuf, sum[12:32])
}

// Create2Address derives the address the relay contract creates for salt and
// the hash of the init code.
func Create2Address(relay common.Address, salt common.Hash, initCodeHash common.Hash) common.Address {
	input := NewCreate2Input(relay, initCodeHash)
	copy(input[Create2PrefixLen:], salt[:])
	return common.BytesToAddress(Keccak256(input)[12:])
}

// CalculateCreate2Address is Create2Address over raw init code.
func CalculateCreate2Address(relay common.Address, salt common.Hash, initCode []byte) common.Address {
	return Create2Address(relay, salt, Keccak256Hash(initCode))
}

// TrimHexPrefix strips surrounding whitespace and an optional 0x/0X.
func TrimHexPrefix(s string) string {
	h := strings.TrimSpace(s)
	if len(h) >= 2 && (h[0:2] == "0x" || h[0:2] == "0X") {
		h = h[2:]
	}
	return h
}

// ParseAddress converts a hex address string into an address, rejecting
// anything that is not exactly 40 hex characters.
func ParseAddress(addr string) (common.Address, error) {
	h := TrimHexPrefix(addr)
	if len(h) != 2*common.AddressLength {
		return common.Address{}, fmt.Errorf("invalid address length: got %d hex chars, want 40", len(h))
	}
	if !common.IsHexAddress(h) {
		return common.Address{}, fmt.Errorf("invalid address hex: %q", addr)
	}
	return common.HexToAddress(h), nil
}
