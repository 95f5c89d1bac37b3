// Package relay submits init code to an already deployed CREATE2 relay
// contract exposing deploy(bytes,bytes32), such as the ERC-2470 singleton
// factory.
package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// ABI of the relay entry point.
const ABI = `[{"inputs":[{"internalType":"bytes","name":"_initCode","type":"bytes"},{"internalType":"bytes32","name":"_salt","type":"bytes32"}],"name":"deploy","outputs":[{"internalType":"address payable","name":"createdContract","type":"address"}],"stateMutability":"nonpayable","type":"function"}]`

// ErrSubmissionReverted is returned when the deploy transaction is mined with
// a failed status.
var ErrSubmissionReverted = errors.New("relay deployment reverted")

// Backend is the chain access the relay needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Options tunes how deployments are sent and awaited.
type Options struct {
	GasLimit     uint64
	PollInterval time.Duration // receipt polling, default 1s
	Timeout      time.Duration // submission plus receipt wait, zero waits for ctx only
}

// Relay is a bound relay contract.
type Relay struct {
	address  common.Address
	abi      abi.ABI
	contract *bind.BoundContract
	backend  Backend
	opts     Options
	logger   log.Logger
}

// New binds the relay contract at address.
func New(address common.Address, backend Backend, opts Options, logger log.Logger) (*Relay, error) {
	parsed, err := abi.JSON(strings.NewReader(ABI))
	if err != nil {
		return nil, err
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Relay{
		address:  address,
		abi:      parsed,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		backend:  backend,
		opts:     opts,
		logger:   logger,
	}, nil
}

// Address returns the relay contract address.
func (r *Relay) Address() common.Address { return r.address }

// CallData returns the calldata of deploy(initCode, salt).
func (r *Relay) CallData(initCode []byte, salt common.Hash) ([]byte, error) {
	return r.abi.Pack("deploy", initCode, [32]byte(salt))
}

// HasCode reports whether a contract already lives at addr.
func (r *Relay) HasCode(ctx context.Context, addr common.Address) (bool, error) {
	code, err := r.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}

// Deploy sends deploy(initCode, salt) with the relay's fixed gas limit and
// blocks until the transaction is mined or the submission timeout expires.
func (r *Relay) Deploy(ctx context.Context, opts *bind.TransactOpts, initCode []byte, salt common.Hash) (*types.Transaction, *types.Receipt, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}
	txOpts := *opts
	txOpts.Context = ctx
	txOpts.GasLimit = r.opts.GasLimit

	tx, err := r.contract.Transact(&txOpts, "deploy", initCode, [32]byte(salt))
	if err != nil {
		return nil, nil, fmt.Errorf("submit deploy: %w", err)
	}
	r.logger.Info("Submitted deployment", "relay", r.address, "tx", tx.Hash(), "salt", salt)

	receipt, err := r.waitMined(ctx, tx.Hash())
	if err != nil {
		return tx, nil, fmt.Errorf("wait for %s: %w", tx.Hash(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return tx, receipt, fmt.Errorf("%w: tx %s", ErrSubmissionReverted, tx.Hash())
	}
	return tx, receipt, nil
}

// waitMined polls for the receipt until ctx is done.
func (r *Relay) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := r.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if errors.Is(err, ethereum.NotFound) {
			r.logger.Trace("Transaction not yet mined", "tx", hash)
		} else {
			r.logger.Trace("Receipt retrieval failed", "tx", hash, "err", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
