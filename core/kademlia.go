package core

// Minimal in-memory Kademlia routing table used for discovery bookkeeping on
// the overlay. Peers observed by the swarm supervisor are slotted into 160
// XOR-distance buckets; small discovery records can be stored and looked up
// by key.

import (
	"crypto/sha256"
	"math/big"
	"sort"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Kademlia tracks peers by XOR distance and stores small discovery records.
type Kademlia struct {
	id      peer.ID
	buckets [160][]peer.ID
	store   map[[20]byte][]byte
	mu      sync.RWMutex
}

func hash160(data []byte) [20]byte {
	sum := sha256.Sum256(data)
	var h [20]byte
	copy(h[:], sum[:20])
	return h
}

// NewKademlia creates a table bound to the local overlay identity.
func NewKademlia(id peer.ID) *Kademlia {
	return &Kademlia{
		id:    id,
		store: make(map[[20]byte][]byte),
	}
}

// AddPeer inserts a peer into its distance bucket.
func (k *Kademlia) AddPeer(id peer.ID) {
	if id == k.id {
		return
	}
	idx := k.bucketIndex(id)
	k.mu.Lock()
	defer k.mu.Unlock()
	list := k.buckets[idx]
	for _, p := range list {
		if p == id {
			return
		}
	}
	k.buckets[idx] = append(list, id)
}

// RemovePeer drops a peer from its bucket.
func (k *Kademlia) RemovePeer(id peer.ID) {
	idx := k.bucketIndex(id)
	k.mu.Lock()
	defer k.mu.Unlock()
	list := k.buckets[idx]
	for i, p := range list {
		if p == id {
			k.buckets[idx] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Store saves a discovery record. The key is hashed with SHA-256 truncated
// to 160 bits.
func (k *Kademlia) Store(key string, value []byte) {
	hash := hash160([]byte(key))
	k.mu.Lock()
	k.store[hash] = append([]byte(nil), value...)
	k.mu.Unlock()
}

// Lookup retrieves a discovery record by key.
func (k *Kademlia) Lookup(key string) ([]byte, bool) {
	hash := hash160([]byte(key))
	k.mu.RLock()
	val, ok := k.store[hash]
	k.mu.RUnlock()
	if ok {
		return append([]byte(nil), val...), true
	}
	return nil, false
}

// PeerCount returns the number of tracked peers.
func (k *Kademlia) PeerCount() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	n := 0
	for _, b := range k.buckets {
		n += len(b)
	}
	return n
}

// Nearest returns up to count peers with XOR distance closest to target.
func (k *Kademlia) Nearest(target peer.ID, count int) []peer.ID {
	k.mu.RLock()
	defer k.mu.RUnlock()
	peers := make([]peer.ID, 0, count)
	for _, b := range k.buckets {
		peers = append(peers, b...)
	}
	sort.Slice(peers, func(i, j int) bool {
		di := k.distance(peers[i], target)
		dj := k.distance(peers[j], target)
		return di.Cmp(dj) < 0
	})
	if len(peers) > count {
		peers = peers[:count]
	}
	return peers
}

func (k *Kademlia) bucketIndex(id peer.ID) int {
	a := hash160([]byte(k.id))
	b := hash160([]byte(id))
	var diff [20]byte
	for i := 0; i < len(diff); i++ {
		diff[i] = a[i] ^ b[i]
	}
	bn := new(big.Int).SetBytes(diff[:])
	if bn.Sign() == 0 {
		return 159
	}
	return 159 - bn.BitLen() + 1
}

func (k *Kademlia) distance(a, b peer.ID) *big.Int {
	aa := hash160([]byte(a))
	bb := hash160([]byte(b))
	var diff [20]byte
	for i := 0; i < len(diff); i++ {
		diff[i] = aa[i] ^ bb[i]
	}
	return new(big.Int).SetBytes(diff[:])
}
