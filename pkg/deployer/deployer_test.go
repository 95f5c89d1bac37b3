package deployer

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/screa/create2-deployer/internal/config"
	"github.com/screa/create2-deployer/internal/crypto"
	"github.com/screa/create2-deployer/internal/logger"
	"github.com/screa/create2-deployer/pkg/artifact"
	"github.com/screa/create2-deployer/pkg/cache"
	"github.com/screa/create2-deployer/pkg/miner"
	"github.com/screa/create2-deployer/pkg/relay"
	"github.com/screa/create2-deployer/pkg/types"
	"github.com/stretchr/testify/require"
)

var (
	testInitCode = []byte{0x60, 0x80, 0x60, 0x40, 0x52}
	testTemplate = &artifact.Template{Name: "WaToken", Bytecode: testInitCode}
	testRelay    = common.HexToAddress(crypto.FactoryAddress)
	minedAddress = common.HexToAddress("0x501ACE9c35E60f03A2af4d484f49F9B1EFde9f40")
	minedSalt    = common.HexToHash("0x2a")
)

type stubResolver struct{ err error }

func (r stubResolver) Resolve(context.Context, *artifact.Template, []any) ([]byte, error) {
	return testInitCode, r.err
}

type stubMiner struct {
	err    error
	target types.Target
}

func (m *stubMiner) Mine(_ context.Context, _ []byte, target types.Target) (*types.Result, error) {
	m.target = target
	if m.err != nil && !errors.Is(m.err, cache.ErrCacheIO) {
		return nil, m.err
	}
	return &types.Result{Address: minedAddress, Salt: minedSalt}, m.err
}

type stubSubmitter struct {
	exists   bool
	err      error
	deployed int
}

func (s *stubSubmitter) Address() common.Address { return testRelay }

func (s *stubSubmitter) HasCode(context.Context, common.Address) (bool, error) {
	return s.exists, nil
}

func (s *stubSubmitter) Deploy(_ context.Context, _ *bind.TransactOpts, initCode []byte, salt common.Hash) (*gethtypes.Transaction, *gethtypes.Receipt, error) {
	s.deployed++
	if s.err != nil {
		return nil, nil, s.err
	}
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{To: &testRelay, Data: append(salt.Bytes(), initCode...)})
	return tx, &gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful, GasUsed: 21000}, nil
}

type stubVerifier struct {
	err   error
	calls int
}

func (v *stubVerifier) Verify(context.Context, common.Address, []any) error {
	v.calls++
	return v.err
}

func newTestDeployer(chainID int64, m *stubMiner, s *stubSubmitter, v *stubVerifier) *Deployer {
	opts := Options{
		Resolver:  stubResolver{},
		Miner:     m,
		Submitter: s,
		ChainID:   big.NewInt(chainID),
		Prefix:    crypto.MustParsePrefix("501ace"),
		MaxSalt:   1 << 56,
		Logger:    logger.Discard(),
	}
	if v != nil {
		opts.Verifier = v
	}
	return New(opts)
}

func TestMineAndDeploy(t *testing.T) {
	m, s, v := &stubMiner{}, &stubSubmitter{}, &stubVerifier{}
	d := newTestDeployer(1, m, s, v)

	res, err := d.MineAndDeploy(context.Background(), testTemplate, nil, &bind.TransactOpts{})
	require.NoError(t, err)
	require.Equal(t, minedAddress, res.Address)
	require.Equal(t, minedSalt, res.Salt)
	require.EqualValues(t, 21000, res.GasUsed)
	require.Equal(t, append(minedSalt.Bytes(), testInitCode...), res.TxData)
	require.Equal(t, types.StageVerified, res.Stage)
	require.False(t, res.AlreadyDeployed)
	require.Equal(t, 1, s.deployed)
	require.Equal(t, 1, v.calls)

	require.Equal(t, testRelay, m.target.Relay)
	require.Equal(t, "501ace", m.target.Prefix.String())
	require.EqualValues(t, 1<<56, m.target.MaxSalt)
}

func TestVerificationFailureIsSwallowed(t *testing.T) {
	v := &stubVerifier{err: errors.New("etherscan unavailable")}
	d := newTestDeployer(5, &stubMiner{}, &stubSubmitter{}, v)

	res, err := d.MineAndDeploy(context.Background(), testTemplate, nil, &bind.TransactOpts{})
	require.NoError(t, err)
	require.Equal(t, types.StageVerificationSkipped, res.Stage)
	require.Equal(t, 1, v.calls)
}

func TestLocalChainSkipsVerification(t *testing.T) {
	v := &stubVerifier{}
	d := newTestDeployer(LocalChainID, &stubMiner{}, &stubSubmitter{}, v)

	res, err := d.MineAndDeploy(context.Background(), testTemplate, nil, &bind.TransactOpts{})
	require.NoError(t, err)
	require.Equal(t, types.StageVerificationSkipped, res.Stage)
	require.Zero(t, v.calls)
}

func TestNilVerifierSkipsVerification(t *testing.T) {
	d := newTestDeployer(1, &stubMiner{}, &stubSubmitter{}, nil)
	require.False(t, d.Verify(context.Background(), minedAddress, nil))
}

func TestAlreadyDeployedSkipsSubmission(t *testing.T) {
	s := &stubSubmitter{exists: true}
	d := newTestDeployer(1, &stubMiner{}, s, &stubVerifier{})

	res, err := d.MineAndDeploy(context.Background(), testTemplate, nil, &bind.TransactOpts{})
	require.NoError(t, err)
	require.True(t, res.AlreadyDeployed)
	require.Zero(t, s.deployed)
	require.Equal(t, common.Hash{}, res.TxHash)
	require.Equal(t, minedAddress, res.Address)
}

func TestSubmissionErrorPropagates(t *testing.T) {
	v := &stubVerifier{}
	s := &stubSubmitter{err: relay.ErrSubmissionReverted}
	d := newTestDeployer(1, &stubMiner{}, s, v)

	_, err := d.MineAndDeploy(context.Background(), testTemplate, nil, &bind.TransactOpts{})
	require.ErrorIs(t, err, relay.ErrSubmissionReverted)
	require.Zero(t, v.calls)
}

func TestMiningErrors(t *testing.T) {
	d := newTestDeployer(1, &stubMiner{err: miner.ErrSaltSpaceExhausted}, &stubSubmitter{}, nil)
	_, err := d.MineAndDeploy(context.Background(), testTemplate, nil, &bind.TransactOpts{})
	require.ErrorIs(t, err, miner.ErrSaltSpaceExhausted)

	// a salt that could not be persisted is never deployed
	s := &stubSubmitter{}
	d = newTestDeployer(1, &stubMiner{err: cache.ErrCacheIO}, s, nil)
	res, err := d.MineAndDeploy(context.Background(), testTemplate, nil, &bind.TransactOpts{})
	require.ErrorIs(t, err, cache.ErrCacheIO)
	require.Nil(t, res)
	require.Zero(t, s.deployed)
}

func TestCacheWriteFailureIsFatal(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c, err := cache.Open(filepath.Join(dir, "knownHashes.json"))
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	cfg := config.NewConfig()
	cfg.Workers = 2
	s := &stubSubmitter{}
	d := New(Options{
		Resolver:  stubResolver{},
		Miner:     miner.NewMiner(cfg, c, logger.Discard()),
		Submitter: s,
		ChainID:   big.NewInt(1),
		Prefix:    crypto.MustParsePrefix("0"),
		MaxSalt:   1 << 16,
		Logger:    logger.Discard(),
	})

	res, err := d.MineAndDeploy(context.Background(), testTemplate, nil, &bind.TransactOpts{})
	require.ErrorIs(t, err, cache.ErrCacheIO)
	require.Nil(t, res)
	require.Zero(t, s.deployed)
}

func TestResolveErrorStopsEarly(t *testing.T) {
	m := &stubMiner{}
	d := newTestDeployer(1, m, &stubSubmitter{}, nil)
	d.resolver = stubResolver{err: errors.New("no payload")}

	_, err := d.MineAndDeploy(context.Background(), testTemplate, nil, &bind.TransactOpts{})
	require.EqualError(t, err, "resolve init code: no payload")
	require.Equal(t, types.Target{}, m.target)
}
