// Package resolver recovers a contract's init code (creation bytecode plus
// packed constructor arguments) by running a deployment that is aborted at
// signing time and capturing the assembled transaction.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/screa/create2-deployer/pkg/artifact"
)

var (
	// ErrUnexpectedDeploy means the probe created a contract instead of failing.
	ErrUnexpectedDeploy = errors.New("init code probe unexpectedly deployed a contract")
	// ErrNoPayload means the probe failed without a transaction to read from.
	ErrNoPayload = errors.New("init code probe failed without a payload")

	errProbeAborted       = errors.New("init code probe aborted before broadcast")
	errProbeNotAuthorized = errors.New("init code probe asked to sign for another account")
)

// probeGasLimit only has to be non-zero so the binding skips gas estimation.
const probeGasLimit = 30_000_000

// Outcome is the result class of a probe.
type Outcome int

const (
	OutcomePayload Outcome = iota
	OutcomeUnexpectedSuccess
	OutcomeNoPayload
)

func (o Outcome) String() string {
	switch o {
	case OutcomePayload:
		return "payload"
	case OutcomeUnexpectedSuccess:
		return "unexpected-success"
	case OutcomeNoPayload:
		return "no-payload"
	default:
		return "unknown"
	}
}

// ProbeResult carries exactly one of Payload, Address or Err depending on Outcome.
type ProbeResult struct {
	Outcome Outcome
	Payload []byte
	Address common.Address
	Err     error
}

type deployFunc func(opts *bind.TransactOpts, abi abi.ABI, bytecode []byte, backend bind.ContractBackend, params ...interface{}) (common.Address, *types.Transaction, *bind.BoundContract, error)

// Resolver turns a template and constructor arguments into init code.
type Resolver struct {
	backend bind.ContractBackend
	chainID *big.Int
	logger  log.Logger
	deploy  deployFunc
}

// New creates a resolver. The backend is handed to the binding but never
// reached: nonce, gas price and gas limit are preset and the signer aborts.
func New(backend bind.ContractBackend, chainID *big.Int, logger log.Logger) *Resolver {
	if chainID == nil {
		chainID = big.NewInt(1)
	}
	return &Resolver{
		backend: backend,
		chainID: chainID,
		logger:  logger,
		deploy:  bind.DeployContract,
	}
}

// Probe attempts to deploy tmpl from a freshly generated key that has never
// held funds. Its signer records the signed transaction and refuses to
// release it, so nothing reaches the network.
func (r *Resolver) Probe(ctx context.Context, tmpl *artifact.Template, args []any) ProbeResult {
	key, err := gethcrypto.GenerateKey()
	if err != nil {
		return ProbeResult{Outcome: OutcomeNoPayload, Err: err}
	}
	from := gethcrypto.PubkeyToAddress(key.PublicKey)
	signer := types.LatestSignerForChainID(r.chainID)

	var captured *types.Transaction
	opts := &bind.TransactOpts{
		From:     from,
		Nonce:    new(big.Int),
		GasPrice: new(big.Int),
		GasLimit: probeGasLimit,
		Context:  ctx,
		Signer: func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if addr != from {
				return nil, errProbeNotAuthorized
			}
			signed, err := types.SignTx(tx, signer, key)
			if err != nil {
				return nil, err
			}
			captured = signed
			return nil, errProbeAborted
		},
	}

	addr, _, _, err := r.deploy(opts, tmpl.ABI, tmpl.Bytecode, r.backend, args...)
	switch {
	case err == nil:
		return ProbeResult{Outcome: OutcomeUnexpectedSuccess, Address: addr}
	case captured != nil && len(captured.Data()) > 0:
		return ProbeResult{Outcome: OutcomePayload, Payload: captured.Data()}
	default:
		return ProbeResult{Outcome: OutcomeNoPayload, Err: err}
	}
}

// Resolve returns the init code of tmpl constructed with args.
func (r *Resolver) Resolve(ctx context.Context, tmpl *artifact.Template, args []any) ([]byte, error) {
	res := r.Probe(ctx, tmpl, args)
	switch res.Outcome {
	case OutcomePayload:
		r.logger.Debug("Resolved init code", "contract", tmpl.Name, "size", len(res.Payload))
		return res.Payload, nil
	case OutcomeUnexpectedSuccess:
		return nil, fmt.Errorf("%w: %s at %s", ErrUnexpectedDeploy, tmpl.Name, res.Address)
	default:
		return nil, fmt.Errorf("%w: %s: %v", ErrNoPayload, tmpl.Name, res.Err)
	}
}
