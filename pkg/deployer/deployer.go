// Package deployer drives a contract from template to verified CREATE2
// deployment: resolve init code, mine a vanity salt, submit through the relay
// and verify.
package deployer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/screa/create2-deployer/internal/crypto"
	"github.com/screa/create2-deployer/pkg/artifact"
	"github.com/screa/create2-deployer/pkg/types"
	"github.com/screa/create2-deployer/pkg/verify"
)

// LocalChainID is the chain id of a local development node. Deployments there
// are never verified.
const LocalChainID = 31337

// InitCodeResolver turns a template and constructor arguments into init code.
type InitCodeResolver interface {
	Resolve(ctx context.Context, tmpl *artifact.Template, args []any) ([]byte, error)
}

// SaltMiner finds a salt for init code.
type SaltMiner interface {
	Mine(ctx context.Context, initCode []byte, target types.Target) (*types.Result, error)
}

// Submitter sends init code and salt to the relay contract.
type Submitter interface {
	Address() common.Address
	HasCode(ctx context.Context, addr common.Address) (bool, error)
	Deploy(ctx context.Context, opts *bind.TransactOpts, initCode []byte, salt common.Hash) (*gethtypes.Transaction, *gethtypes.Receipt, error)
}

// Options wires the collaborators of a Deployer.
type Options struct {
	Resolver  InitCodeResolver
	Miner     SaltMiner
	Submitter Submitter
	Verifier  verify.Verifier // nil disables verification
	ChainID   *big.Int
	Prefix    crypto.Prefix
	MaxSalt   uint64
	Logger    log.Logger
}

// Deployer orchestrates deployments. It holds no per-deployment state and
// may be reused.
type Deployer struct {
	resolver  InitCodeResolver
	miner     SaltMiner
	submitter Submitter
	verifier  verify.Verifier
	chainID   *big.Int
	prefix    crypto.Prefix
	maxSalt   uint64
	logger    log.Logger
}

func New(opts Options) *Deployer {
	chainID := opts.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}
	return &Deployer{
		resolver:  opts.Resolver,
		miner:     opts.Miner,
		submitter: opts.Submitter,
		verifier:  opts.Verifier,
		chainID:   chainID,
		prefix:    opts.Prefix,
		maxSalt:   opts.MaxSalt,
		logger:    opts.Logger,
	}
}

// MineAndDeploy resolves the init code of tmpl with args, mines a salt for
// the configured prefix and deploys through the relay. Verification failures
// are logged and never fail the deployment.
func (d *Deployer) MineAndDeploy(ctx context.Context, tmpl *artifact.Template, args []any, signer *bind.TransactOpts) (*types.DeploymentResult, error) {
	stage := types.StageIdle
	advance := func(next types.Stage) {
		d.logger.Debug("Deployment stage", "contract", tmpl.Name, "from", stage, "to", next)
		stage = next
	}

	initCode, err := d.resolver.Resolve(ctx, tmpl, args)
	if err != nil {
		return nil, fmt.Errorf("resolve init code: %w", err)
	}
	advance(types.StageInitCodeResolved)

	mined, err := d.miner.Mine(ctx, initCode, types.Target{
		Relay:   d.submitter.Address(),
		Prefix:  d.prefix,
		MaxSalt: d.maxSalt,
	})
	if err != nil {
		return nil, fmt.Errorf("mine salt: %w", err)
	}
	advance(types.StageSaltMined)

	result := &types.DeploymentResult{
		Address: mined.Address,
		Salt:    mined.Salt,
	}

	exists, err := d.submitter.HasCode(ctx, mined.Address)
	if err != nil {
		return nil, fmt.Errorf("check code at %s: %w", mined.Address, err)
	}
	if exists {
		d.logger.Info("Contract already deployed", "contract", tmpl.Name, "address", mined.Address)
		result.AlreadyDeployed = true
	} else {
		tx, receipt, err := d.submitter.Deploy(ctx, signer, initCode, mined.Salt)
		if err != nil {
			return nil, fmt.Errorf("deploy %s: %w", tmpl.Name, err)
		}
		result.TxHash = tx.Hash()
		result.TxData = tx.Data()
		result.GasUsed = receipt.GasUsed
		d.logger.Info("Deployed", "contract", tmpl.Name, "address", mined.Address, "tx", result.TxHash, "gasUsed", result.GasUsed)
	}
	advance(types.StageSubmitted)

	if d.Verify(ctx, mined.Address, args) {
		advance(types.StageVerified)
	} else {
		advance(types.StageVerificationSkipped)
	}
	result.Stage = stage
	return result, nil
}

// Verify submits address for source verification unless the chain is local.
// Errors are logged and swallowed; the return value reports whether a
// verification attempt completed.
func (d *Deployer) Verify(ctx context.Context, address common.Address, args []any) bool {
	if d.verifier == nil {
		d.logger.Debug("Verification disabled", "address", address)
		return false
	}
	if d.chainID.IsInt64() && d.chainID.Int64() == LocalChainID {
		d.logger.Debug("Skipping verification on local chain", "address", address)
		return false
	}
	if err := d.verifier.Verify(ctx, address, args); err != nil {
		d.logger.Warn("Verification failed", "address", address, "err", err)
		return false
	}
	d.logger.Info("Verified", "address", address)
	return true
}
