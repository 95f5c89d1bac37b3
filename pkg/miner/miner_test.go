package miner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/screa/create2-deployer/internal/config"
	"github.com/screa/create2-deployer/internal/crypto"
	"github.com/screa/create2-deployer/internal/logger"
	"github.com/screa/create2-deployer/pkg/cache"
	"github.com/screa/create2-deployer/pkg/types"
	"github.com/screa/create2-deployer/pkg/worker"
	"github.com/stretchr/testify/require"
)

var testRelay = common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")

func newTestMiner(t *testing.T, workers int, c *cache.SaltCache) *Miner {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Workers = workers
	m := NewMiner(cfg, c, logger.Discard())
	m.chunkSize = 64
	return m
}

// referenceSalt scans sequentially with go-ethereum's CREATE2 helper.
func referenceSalt(relay common.Address, initCode []byte, prefix crypto.Prefix, maxSalt uint64) (uint64, common.Address, bool) {
	initCodeHash := gethcrypto.Keccak256(initCode)
	for s := uint64(0); s < maxSalt; s++ {
		addr := gethcrypto.CreateAddress2(relay, worker.SaltHash(s), initCodeHash)
		if prefix.Matches(addr[:]) {
			return s, addr, true
		}
	}
	return 0, common.Address{}, false
}

func TestNewMiner(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Workers = 0
	miner := NewMiner(cfg, nil, logger.Discard())
	if miner == nil {
		t.Fatal("NewMiner returned nil")
	}
	if miner.config != cfg {
		t.Error("Config not set correctly")
	}
	if miner.workers <= 0 {
		t.Error("Workers not defaulted")
	}
	if cfg.Workers != 0 {
		t.Error("Caller config modified")
	}
	if miner.Cache() == nil {
		t.Error("Cache not defaulted")
	}
}

func TestMineEndToEndScenario(t *testing.T) {
	initCode := []byte{0x60}
	target := types.Target{Relay: testRelay, Prefix: crypto.MustParsePrefix("00"), MaxSalt: 1 << 20}

	wantSalt, wantAddr, ok := referenceSalt(testRelay, initCode, target.Prefix, target.MaxSalt)
	require.True(t, ok)
	require.EqualValues(t, 13, wantSalt)
	require.Equal(t, common.HexToAddress("0x009e64b60926584C72f79BE345e1e8dD7DFffD22"), wantAddr)

	m := newTestMiner(t, 4, nil)
	res, err := m.Mine(context.Background(), initCode, target)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0x000000000000000000000000000000000000000000000000000000000000000d"), res.Salt)
	require.Equal(t, "0x009e64b60926584C72f79BE345e1e8dD7DFffD22", res.Address.Hex())
	require.Equal(t, worker.SaltHash(wantSalt), res.Salt)
	require.Equal(t, wantAddr, res.Address)
	require.False(t, res.Cached)
	require.Positive(t, res.Attempts)
}

func TestMineFirstMatchInvariant(t *testing.T) {
	initCode := common.FromHex("0x608060405234801561001057600080fd5b50")
	prefix := crypto.MustParsePrefix("abc")
	target := types.Target{Relay: common.HexToAddress(crypto.FactoryAddress), Prefix: prefix, MaxSalt: 1 << 22}

	m := newTestMiner(t, 8, nil)
	res, err := m.Mine(context.Background(), initCode, target)
	require.NoError(t, err)
	require.True(t, prefix.Matches(res.Address[:]))

	salt := res.Salt.Big().Uint64()
	initCodeHash := crypto.Keccak256Hash(initCode)
	for s := uint64(0); s < salt; s++ {
		addr := crypto.Create2Address(target.Relay, worker.SaltHash(s), initCodeHash)
		require.False(t, prefix.Matches(addr[:]), "salt %d matches before %d", s, salt)
	}
}

func TestMineParallelEqualsSequential(t *testing.T) {
	initCode := []byte{0x60, 0x80, 0x60, 0x40, 0x52}
	target := types.Target{Relay: testRelay, Prefix: crypto.MustParsePrefix("0ff"), MaxSalt: 1 << 22}

	seq, err := newTestMiner(t, 1, nil).Mine(context.Background(), initCode, target)
	require.NoError(t, err)
	for _, workers := range []int{2, 3, 16} {
		par, err := newTestMiner(t, workers, nil).Mine(context.Background(), initCode, target)
		require.NoError(t, err)
		require.Equal(t, seq.Salt, par.Salt, "workers=%d", workers)
		require.Equal(t, seq.Address, par.Address, "workers=%d", workers)
	}
}

func TestMineIdempotentCacheHit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knownHashes.json")
	c, err := cache.Open(path)
	require.NoError(t, err)

	initCode := []byte{0x60}
	target := types.Target{Relay: testRelay, Prefix: crypto.MustParsePrefix("00"), MaxSalt: 1 << 20}
	m := newTestMiner(t, 2, c)

	first, err := m.Mine(context.Background(), initCode, target)
	require.NoError(t, err)
	second, err := m.Mine(context.Background(), initCode, target)
	require.NoError(t, err)

	require.Equal(t, first.Salt, second.Salt)
	require.Equal(t, first.Address, second.Address)
	require.True(t, second.Cached)
	require.Zero(t, second.Attempts)

	// a fresh process sees the persisted result
	reopened, err := cache.Open(path)
	require.NoError(t, err)
	third, err := newTestMiner(t, 2, reopened).Mine(context.Background(), initCode, target)
	require.NoError(t, err)
	require.True(t, third.Cached)
	require.Equal(t, first.Salt, third.Salt)
}

func TestMineExhaustion(t *testing.T) {
	initCode := []byte{0x60}
	addr := crypto.CalculateCreate2Address(testRelay, common.Hash{}, initCode)
	// first nibble of salt 0's address, shifted so it cannot match
	nibble := (addr[0] >> 4) ^ 0x1
	prefix := crypto.MustParsePrefix(string("0123456789abcdef"[nibble]))

	m := newTestMiner(t, 4, nil)
	_, err := m.Mine(context.Background(), initCode, types.Target{Relay: testRelay, Prefix: prefix, MaxSalt: 1})
	require.ErrorIs(t, err, ErrSaltSpaceExhausted)
	require.Equal(t, 0, m.Cache().Len())
}

func TestMineZeroMaxSalt(t *testing.T) {
	m := newTestMiner(t, 2, nil)
	_, err := m.Mine(context.Background(), []byte{0x60}, types.Target{Relay: testRelay, MaxSalt: 0})
	require.ErrorIs(t, err, ErrSaltSpaceExhausted)
}

func TestMineCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := newTestMiner(t, 2, nil)
	// a full-address prefix never matches in practice
	prefix := crypto.MustParsePrefix("ffffffffffffffffffffffffffffffffffffffff")
	_, err := m.Mine(ctx, []byte{0x60}, types.Target{Relay: testRelay, Prefix: prefix, MaxSalt: 1 << 40})
	require.ErrorIs(t, err, context.Canceled)
}

func TestMineCacheWriteFailure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gone")
	c, err := cache.Open(filepath.Join(dir, "knownHashes.json"))
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	m := newTestMiner(t, 2, c)
	target := types.Target{Relay: testRelay, Prefix: crypto.MustParsePrefix("0"), MaxSalt: 1 << 16}
	res, err := m.Mine(context.Background(), []byte{0x60}, target)
	require.ErrorIs(t, err, cache.ErrCacheIO)
	require.NotNil(t, res)

	_, ok := c.Lookup([]byte{0x60})
	require.True(t, ok)
}

func TestMineStop(t *testing.T) {
	m := newTestMiner(t, 2, nil)
	target := types.Target{Relay: testRelay, Prefix: crypto.MustParsePrefix("0000000000000000"), MaxSalt: 1 << 40}

	done := make(chan error, 1)
	go func() {
		_, err := m.Mine(context.Background(), []byte{0x60}, target)
		done <- err
	}()

	// Stop before Mine installs its cancel func is a no-op, so keep trying.
	for {
		m.Stop()
		select {
		case err := <-done:
			require.ErrorIs(t, err, context.Canceled)
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}
