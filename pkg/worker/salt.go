package worker

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SaltRange walks the salts in [start, end) in increasing order.
type SaltRange struct {
	next uint64
	end  uint64
}

// NewSaltRange returns an iterator over [start, end).
func NewSaltRange(start, end uint64) *SaltRange {
	return &SaltRange{next: start, end: end}
}

// Next returns the next candidate salt, false once the range is exhausted.
func (r *SaltRange) Next() (uint64, bool) {
	if r.next >= r.end {
		return 0, false
	}
	s := r.next
	r.next++
	return s, true
}

// Remaining is the number of salts not yet returned.
func (r *SaltRange) Remaining() uint64 {
	if r.next >= r.end {
		return 0
	}
	return r.end - r.next
}

// PutSalt writes salt as a 32-byte big-endian word into dst.
func PutSalt(dst []byte, salt uint64) {
	clear(dst[:24])
	binary.BigEndian.PutUint64(dst[24:32], salt)
}

// SaltHash widens a numeric salt to the bytes32 the relay contract takes.
func SaltHash(salt uint64) common.Hash {
	return common.Hash(uint256.NewInt(salt).Bytes32())
}
