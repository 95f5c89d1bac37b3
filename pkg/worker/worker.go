package worker

import (
	"hash"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/screa/create2-deployer/internal/crypto"
	"github.com/screa/create2-deployer/pkg/types"
)

// Worker handles individual address generation and matching
type Worker struct {
	config   *types.WorkerConfig
	attempts *atomic.Int64
	hasher   hash.Hash

	// Pre-allocated buffers for performance
	input   []byte
	hashBuf [32]byte
	addrBuf common.Address
}

// NewWorker creates a new worker instance. attempts is shared by all workers
// of a run and may be nil.
func NewWorker(config *types.WorkerConfig, attempts *atomic.Int64) *Worker {
	if attempts == nil {
		attempts = new(atomic.Int64)
	}
	input := make([]byte, crypto.Create2InputLen)
	copy(input, config.Create2Input)
	return &Worker{
		config:   config,
		attempts: attempts,
		hasher:   crypto.NewHasher(),
		input:    input,
	}
}

// GenerateAddress computes the address for a single salt and checks it
// against the prefix.
func (w *Worker) GenerateAddress(salt uint64) *types.WorkerResult {
	w.hash(salt)
	w.attempts.Add(1)
	return &types.WorkerResult{
		Salt:     salt,
		Address:  w.addrBuf,
		Attempts: 1,
		IsMatch:  w.matchesBytes(w.addrBuf[:]),
	}
}

// ProcessBatch walks r until the first matching salt and returns it, or nil
// once r is exhausted. Attempts in the result count hashes done by this call.
func (w *Worker) ProcessBatch(r *SaltRange) *types.WorkerResult {
	var done int64
	defer func() { w.attempts.Add(done) }()

	for {
		salt, ok := r.Next()
		if !ok {
			return nil
		}
		w.hash(salt)
		done++

		if w.matchesBytes(w.addrBuf[:]) {
			return &types.WorkerResult{
				Salt:     salt,
				Address:  w.addrBuf,
				Attempts: done,
				IsMatch:  true,
			}
		}
	}
}

func (w *Worker) hash(salt uint64) {
	PutSalt(w.input[crypto.Create2PrefixLen:crypto.Create2PrefixLen+crypto.Create2SaltLen], salt)
	crypto.Create2AddressInto(w.hasher, w.input, w.hashBuf[:], w.addrBuf[:])
}

// matchesBytes checks the leading nibbles of a raw address
func (w *Worker) matchesBytes(addr []byte) bool {
	return w.config.Prefix.Matches(addr)
}
