package crypto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidPrefix = errors.New("invalid address prefix")

// Prefix is a vanity prefix decoded into nibbles so the hot path compares raw
// address bytes instead of hex strings.
type Prefix struct {
	text    string
	nibbles []byte
}

// ParsePrefix accepts a hex prefix with or without 0x, any case, odd length
// allowed, at most 40 nibbles.
func ParsePrefix(s string) (Prefix, error) {
	h := strings.ToLower(TrimHexPrefix(s))
	if len(h) > 2*common.AddressLength {
		return Prefix{}, fmt.Errorf("%w: %d nibbles exceeds address length", ErrInvalidPrefix, len(h))
	}
	nibbles := make([]byte, len(h))
	for i := 0; i < len(h); i++ {
		c := h[i]
		switch {
		case c >= '0' && c <= '9':
			nibbles[i] = c - '0'
		case c >= 'a' && c <= 'f':
			nibbles[i] = c - 'a' + 10
		default:
			return Prefix{}, fmt.Errorf("%w: %q is not hex", ErrInvalidPrefix, s)
		}
	}
	return Prefix{text: h, nibbles: nibbles}, nil
}

// MustParsePrefix is ParsePrefix for constants and tests.
func MustParsePrefix(s string) Prefix {
	p, err := ParsePrefix(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the canonical lower-case form without 0x.
func (p Prefix) String() string { return p.text }

// Len is the number of nibbles.
func (p Prefix) Len() int { return len(p.nibbles) }

// IsZero reports whether the prefix consists only of '0' nibbles.
func (p Prefix) IsZero() bool {
	for _, n := range p.nibbles {
		if n != 0 {
			return false
		}
	}
	return true
}

// Matches compares the leading nibbles of a 20-byte address.
func (p Prefix) Matches(addr []byte) bool {
	for i, n := range p.nibbles {
		b := addr[i/2]
		if i%2 == 0 {
			b >>= 4
		} else {
			b &= 0x0f
		}
		if b != n {
			return false
		}
	}
	return true
}
