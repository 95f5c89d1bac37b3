package miner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/screa/create2-deployer/internal/config"
	"github.com/screa/create2-deployer/internal/crypto"
	"github.com/screa/create2-deployer/pkg/cache"
	"github.com/screa/create2-deployer/pkg/types"
	"github.com/screa/create2-deployer/pkg/worker"
	"golang.org/x/sync/errgroup"
)

// ErrSaltSpaceExhausted is returned when no salt below MaxSalt yields the prefix.
var ErrSaltSpaceExhausted = errors.New("salt space exhausted without a match")

// DefaultChunkSize is the number of consecutive salts a worker claims at once.
const DefaultChunkSize = 1 << 14

const noMatch = math.MaxUint64

// Miner provides high-performance address mining coordination
type Miner struct {
	config    *config.Config
	logger    log.Logger
	cache     *cache.SaltCache
	workers   int
	chunkSize uint64

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewMiner creates a new miner instance. Found salts are recorded in c.
func NewMiner(cfg *config.Config, c *cache.SaltCache, logger log.Logger) *Miner {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if c == nil {
		c = cache.NewMemory()
	}
	return &Miner{
		config:    cfg,
		logger:    logger,
		cache:     c,
		workers:   workers,
		chunkSize: DefaultChunkSize,
	}
}

// Cache returns the salt cache the miner records into.
func (m *Miner) Cache() *cache.SaltCache { return m.cache }

// search is the state shared by the workers of one run.
type search struct {
	maxSalt   uint64
	chunkSize uint64
	chunks    uint64

	next     atomic.Uint64 // next chunk index to claim
	best     atomic.Uint64 // smallest matching salt so far, noMatch if none
	attempts atomic.Int64

	mu       sync.Mutex
	bestAddr common.Address
}

func (s *search) offer(res *types.WorkerResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res.Salt < s.best.Load() {
		s.best.Store(res.Salt)
		s.bestAddr = res.Address
	}
}

// Mine returns the smallest salt in [0, target.MaxSalt) whose CREATE2 address
// starts with target.Prefix. Chunks of salts are claimed in increasing order
// so the result is identical to a sequential scan regardless of worker count.
// A cache hit returns immediately without hashing.
func (m *Miner) Mine(ctx context.Context, initCode []byte, target types.Target) (*types.Result, error) {
	if e, ok := m.cache.Lookup(initCode); ok {
		m.logger.Info("Salt cache hit", "address", e.Address, "salt", e.Salt)
		return &types.Result{Salt: e.Salt, Address: e.Address, Cached: true}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	start := time.Now()
	workerConfig := &types.WorkerConfig{
		Prefix:       target.Prefix,
		Create2Input: crypto.NewCreate2Input(target.Relay, crypto.Keccak256Hash(initCode)),
	}

	run := &search{
		maxSalt:   target.MaxSalt,
		chunkSize: m.chunkSize,
		chunks:    target.MaxSalt / m.chunkSize,
	}
	if target.MaxSalt%m.chunkSize != 0 {
		run.chunks++
	}
	run.best.Store(noMatch)

	m.logger.Info("Mining started", "workers", m.workers, "prefix", target.Prefix.String(),
		"relay", target.Relay, "maxSalt", target.MaxSalt)

	// Start periodic logging if verbose mode is enabled
	logDone := make(chan struct{})
	if m.config.Verbose && m.config.LogInterval > 0 {
		ticker := time.NewTicker(time.Duration(m.config.LogInterval) * time.Second)
		go m.periodicLogger(ticker, logDone, start, run)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < m.workers; i++ {
		w := worker.NewWorker(workerConfig, &run.attempts)
		g.Go(func() error {
			return m.worker(gctx, w, run)
		})
	}
	err := g.Wait()
	close(logDone)
	if err != nil {
		return nil, err
	}

	best := run.best.Load()
	if best == noMatch {
		return nil, fmt.Errorf("%w: prefix %q, max salt %d", ErrSaltSpaceExhausted, target.Prefix, target.MaxSalt)
	}

	result := &types.Result{
		Salt:     worker.SaltHash(best),
		Address:  run.bestAddr,
		Attempts: run.attempts.Load(),
		Duration: time.Since(start),
	}
	m.logger.Info("Found match", "address", result.Address, "salt", result.Salt,
		"attempts", result.Attempts, "duration", result.Duration, "rate", rate(result.Attempts, result.Duration))

	if err := m.cache.Record(initCode, result.Address, result.Salt); err != nil {
		return result, fmt.Errorf("record mined salt: %w", err)
	}
	return result, nil
}

// worker claims chunks until the salt space is exhausted or a smaller salt
// than any unclaimed chunk has been found.
func (m *Miner) worker(ctx context.Context, w *worker.Worker, run *search) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := run.next.Add(1) - 1
		if chunk >= run.chunks {
			return nil
		}
		start := chunk * run.chunkSize
		if start >= run.best.Load() {
			return nil
		}
		end := start + run.chunkSize
		if end > run.maxSalt || end < start {
			end = run.maxSalt
		}
		if res := w.ProcessBatch(worker.NewSaltRange(start, end)); res != nil {
			run.offer(res)
			return nil
		}
	}
}

// Stop cancels an in-flight Mine call.
func (m *Miner) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
}

// periodicLogger logs mining progress at regular intervals
func (m *Miner) periodicLogger(ticker *time.Ticker, done chan struct{}, start time.Time, run *search) {
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			attempts := run.attempts.Load()
			elapsed := time.Since(start)
			if best := run.best.Load(); best != noMatch {
				m.logger.Info("Progress", "attempts", attempts, "rate", rate(attempts, elapsed),
					"best", worker.SaltHash(best))
			} else {
				m.logger.Info("Progress", "attempts", attempts, "rate", rate(attempts, elapsed),
					"claimed", min(run.next.Load(), run.chunks)*run.chunkSize)
			}
		case <-done:
			return
		}
	}
}

// rate formats hashes per second, safe for zero durations.
func rate(attempts int64, d time.Duration) string {
	r := 0.0
	if d.Seconds() > 0 {
		r = float64(attempts) / d.Seconds()
	}
	return fmt.Sprintf("%.2f hashes/sec", r)
}
