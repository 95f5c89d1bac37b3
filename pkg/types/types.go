package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/screa/create2-deployer/internal/crypto"
)

// Result represents a mining result
type Result struct {
	Salt     common.Hash
	Address  common.Address
	Attempts int64
	Duration time.Duration
	Cached   bool // served from the salt cache, no hashing performed
}

// Target describes what a mining run searches for.
type Target struct {
	Relay   common.Address
	Prefix  crypto.Prefix
	MaxSalt uint64 // salts in [0, MaxSalt) are tried
}

// WorkerConfig contains configuration for individual workers
type WorkerConfig struct {
	Prefix crypto.Prefix

	// 85-byte CREATE2 input primed with 0xff + relay and the init code hash.
	// Each worker copies it and only rewrites the salt window.
	Create2Input []byte
}

// WorkerResult represents a result from a single worker
type WorkerResult struct {
	Salt     uint64
	Address  common.Address
	Attempts int64 // hashes computed for this chunk
	IsMatch  bool
}

// Stage is a step of the deployment state machine.
type Stage int

const (
	StageIdle Stage = iota
	StageInitCodeResolved
	StageSaltMined
	StageSubmitted
	StageVerified
	StageVerificationSkipped
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageInitCodeResolved:
		return "init-code-resolved"
	case StageSaltMined:
		return "salt-mined"
	case StageSubmitted:
		return "submitted"
	case StageVerified:
		return "verified"
	case StageVerificationSkipped:
		return "verification-skipped"
	default:
		return "unknown"
	}
}

// DeploymentResult is produced once per successful deployment.
type DeploymentResult struct {
	Address         common.Address
	Salt            common.Hash
	TxHash          common.Hash
	TxData          []byte
	GasUsed         uint64
	Stage           Stage
	AlreadyDeployed bool // code was present at Address, nothing was submitted
}
