// Package cache persists mined salts keyed by init code so a contract is
// never mined twice.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gofrs/flock"
)

// ErrCacheIO wraps every failure to read or write the cache file.
var ErrCacheIO = errors.New("salt cache i/o")

// Entry is a previously mined address and salt.
type Entry struct {
	Address common.Address `json:"address"`
	Salt    common.Hash    `json:"salt"`
}

// MarshalJSON writes the address checksummed.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Address string      `json:"address"`
		Salt    common.Hash `json:"salt"`
	}{e.Address.Hex(), e.Salt})
}

// SaltCache maps init code to the salt found for it. Records are written
// through to disk; the whole file is rewritten on every Record.
type SaltCache struct {
	path    string
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemory returns a cache that is never persisted.
func NewMemory() *SaltCache {
	return &SaltCache{entries: make(map[string]Entry)}
}

// Open loads the cache stored at path. A missing or empty file is an empty
// cache. An empty path behaves like NewMemory.
func Open(path string) (*SaltCache, error) {
	c := NewMemory()
	if path == "" {
		return c, nil
	}
	c.path = path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheIO, err)
	}

	lock := flock.New(lockPath(path))
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("%w: lock %s: %v", ErrCacheIO, path, err)
	}
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrCacheIO, path, err)
	}
	if len(data) == 0 {
		return c, nil
	}
	entries, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrCacheIO, path, err)
	}
	c.entries = entries
	return c, nil
}

// Path returns the backing file, empty for memory caches.
func (c *SaltCache) Path() string { return c.path }

// Len returns the number of cached init codes.
func (c *SaltCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Lookup returns the entry recorded for initCode.
func (c *SaltCache) Lookup(initCode []byte) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key(initCode)]
	return e, ok
}

// Record stores the entry and flushes the full map to disk. If the flush
// fails the entry stays in memory and the error is returned.
func (c *SaltCache) Record(initCode []byte, address common.Address, salt common.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key(initCode)] = Entry{Address: address, Salt: salt}
	if c.path == "" {
		return nil
	}
	return c.flush()
}

// flush must be called with c.mu held.
func (c *SaltCache) flush() error {
	lock := flock.New(lockPath(c.path))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("%w: lock %s: %v", ErrCacheIO, c.path, err)
	}
	defer lock.Unlock()

	// Pick up entries other processes recorded since we loaded.
	if data, err := os.ReadFile(c.path); err == nil && len(data) > 0 {
		if onDisk, err := decode(data); err == nil {
			for k, e := range onDisk {
				if _, ok := c.entries[k]; !ok {
					c.entries[k] = e
				}
			}
		}
	}

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrCacheIO, err)
	}

	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrCacheIO, c.path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: write %s: %v", ErrCacheIO, c.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: write %s: %v", ErrCacheIO, c.path, err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: replace %s: %v", ErrCacheIO, c.path, err)
	}
	return nil
}

// decode parses a cache file. Entries whose address or salt is not a full
// 20 or 32 byte value, like the {"0x0": {"address": "0x0", "salt": "0x0"}}
// seed older files start with, are dropped.
func decode(data []byte) (map[string]Entry, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	entries := make(map[string]Entry, len(raw))
	for k, v := range raw {
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			continue
		}
		entries[k] = e
	}
	return entries, nil
}

func key(initCode []byte) string {
	return hexutil.Encode(initCode)
}

func lockPath(path string) string {
	return path + ".lock"
}
