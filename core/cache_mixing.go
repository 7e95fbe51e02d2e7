package core

// Cache-mixing store: cached content is keyed by a blinded Poseidon
// commitment and encrypted under a key derived from that commitment, so the
// store learns neither what is cached nor who fetches it. Commitments are
// additionally inserted into a shallow Poseidon tree for membership proofs.

import (
	"sync"
	"sync/atomic"
	"time"
)

const cacheMixTreeDepth = 16

type cacheEntry struct {
	commitment [32]byte
	blinding   [32]byte
	encrypted  []byte
	lastAccess time.Time
	accessCount uint64
	expiresAt  time.Time
}

// CacheMixingStore is the privacy-preserving content cache.
type CacheMixingStore struct {
	mu         sync.Mutex
	tree       *PoseidonMerkleTree
	entries    map[[32]byte]*cacheEntry
	maxEntries int

	hits   atomic.Uint64
	misses atomic.Uint64
	mixOps atomic.Uint64
}

// NewCacheMixingStore bounds the cache at maxEntries.
func NewCacheMixingStore(maxEntries int) *CacheMixingStore {
	return &CacheMixingStore{
		tree:       NewPoseidonMerkleTree(cacheMixTreeDepth),
		entries:    make(map[[32]byte]*cacheEntry),
		maxEntries: maxEntries,
	}
}

// StoreMixed caches data under its content hash with the default 1h TTL.
func (c *CacheMixingStore) StoreMixed(contentHash [32]byte, data []byte) ([32]byte, error) {
	return c.StoreMixedWithTTL(contentHash, data, time.Hour)
}

// StoreMixedWithTTL caches data, returning the blinded commitment.
func (c *CacheMixingStore) StoreMixedWithTTL(contentHash [32]byte, data []byte, ttl time.Duration) ([32]byte, error) {
	blinding := Random32()
	commitment := PoseidonHashBytes(contentHash[:], blinding[:])
	encryptionKey := PoseidonHashBytes(commitment[:], blinding[:])

	encrypted, err := Encrypt(&encryptionKey, data)
	Zeroize(encryptionKey[:])
	if err != nil {
		return [32]byte{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for hash, entry := range c.entries {
		if entry.expiresAt.Before(now) {
			delete(c.entries, hash)
		}
	}
	for len(c.entries) >= c.maxEntries {
		var oldestHash [32]byte
		var oldest time.Time
		first := true
		for hash, entry := range c.entries {
			if first || entry.lastAccess.Before(oldest) {
				oldestHash, oldest = hash, entry.lastAccess
				first = false
			}
		}
		if first {
			break
		}
		delete(c.entries, oldestHash)
	}

	c.entries[contentHash] = &cacheEntry{
		commitment:  commitment,
		blinding:    blinding,
		encrypted:   encrypted,
		lastAccess:  now,
		accessCount: 1,
		expiresAt:   now.Add(ttl),
	}
	if _, err := c.tree.Insert(BytesToFr(commitment[:])); err != nil && err != ErrTreeFull {
		return [32]byte{}, err
	}

	c.mixOps.Add(1)
	return commitment, nil
}

// Retrieve decrypts and returns cached content by its content hash.
func (c *CacheMixingStore) Retrieve(contentHash [32]byte) ([]byte, bool) {
	c.mu.Lock()
	entry, ok := c.entries[contentHash]
	if !ok || entry.expiresAt.Before(time.Now()) {
		if ok {
			delete(c.entries, contentHash)
		}
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	entry.lastAccess = time.Now()
	entry.accessCount++
	encrypted := entry.encrypted
	commitment := entry.commitment
	blinding := entry.blinding
	c.mu.Unlock()

	encryptionKey := PoseidonHashBytes(commitment[:], blinding[:])
	data, err := Decrypt(&encryptionKey, encrypted)
	Zeroize(encryptionKey[:])
	if err != nil {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return data, true
}

// SweepExpired drops entries past their TTL, returning how many.
func (c *CacheMixingStore) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	removed := 0
	for hash, entry := range c.entries {
		if entry.expiresAt.Before(now) {
			delete(c.entries, hash)
			removed++
		}
	}
	return removed
}

// Root returns the commitment tree root.
func (c *CacheMixingStore) Root() [32]byte { return FrToBytes(c.tree.Root()) }

// Len returns the live entry count.
func (c *CacheMixingStore) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns (hits, misses, mix operations).
func (c *CacheMixingStore) Stats() (uint64, uint64, uint64) {
	return c.hits.Load(), c.misses.Load(), c.mixOps.Load()
}
