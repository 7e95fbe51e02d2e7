package core

// Append-only Poseidon Merkle tree of fixed depth. Inserts update only the
// O(depth) frontier; proofs are rebuilt by replaying the stored leaf list
// against the empty-subtree cache.

import (
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// MerkleStep is one hop of an authentication path. IsRight reports whether
// the node being proven sits on the right of its sibling at that level.
type MerkleStep struct {
	Sibling fr.Element
	IsRight bool
}

// PoseidonMerkleTree is safe for concurrent use: single writer, many readers.
type PoseidonMerkleTree struct {
	mu       sync.RWMutex
	depth    int
	leaves   []fr.Element
	frontier []fr.Element
	zeros    []fr.Element
	root     fr.Element
}

// NewPoseidonMerkleTree builds an empty tree of the given depth. The empty
// root is the zero leaf hashed up through every level.
func NewPoseidonMerkleTree(depth int) *PoseidonMerkleTree {
	zeros := make([]fr.Element, depth+1)
	for i := 0; i < depth; i++ {
		zeros[i+1] = PoseidonHash2(zeros[i], zeros[i])
	}
	return &PoseidonMerkleTree{
		depth:    depth,
		frontier: make([]fr.Element, depth),
		zeros:    zeros,
		root:     zeros[depth],
	}
}

// Depth returns the fixed tree depth.
func (t *PoseidonMerkleTree) Depth() int { return t.depth }

// Insert appends a leaf and returns its index. Fails with ErrTreeFull once
// 2^depth leaves have been inserted.
func (t *PoseidonMerkleTree) Insert(leaf fr.Element) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	index := len(t.leaves)
	if index >= 1<<uint(t.depth) {
		return 0, ErrTreeFull
	}
	t.leaves = append(t.leaves, leaf)

	cur := leaf
	idx := index
	for level := 0; level < t.depth; level++ {
		if idx%2 == 0 {
			t.frontier[level] = cur
			cur = PoseidonHash2(cur, t.zeros[level])
		} else {
			cur = PoseidonHash2(t.frontier[level], cur)
		}
		idx /= 2
	}
	t.root = cur
	return index, nil
}

// Root returns the current tree root.
func (t *PoseidonMerkleTree) Root() fr.Element {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// LeafCount returns the number of inserted leaves.
func (t *PoseidonMerkleTree) LeafCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.leaves)
}

// Proof returns the depth-length authentication path for the leaf at index.
func (t *PoseidonMerkleTree) Proof(index int) ([]MerkleStep, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if index < 0 || index >= len(t.leaves) {
		return nil, wrapErr(ErrNoteNotFound, "leaf index %d out of range", index)
	}

	path := make([]MerkleStep, 0, t.depth)
	level := make([]fr.Element, len(t.leaves))
	copy(level, t.leaves)

	idx := index
	for d := 0; d < t.depth; d++ {
		sibIdx := idx ^ 1
		var sibling fr.Element
		if sibIdx < len(level) {
			sibling = level[sibIdx]
		} else {
			sibling = t.zeros[d]
		}
		path = append(path, MerkleStep{Sibling: sibling, IsRight: idx%2 == 1})

		next := make([]fr.Element, (len(level)+1)/2)
		for i := 0; i < len(next); i++ {
			left := level[2*i]
			right := t.zeros[d]
			if 2*i+1 < len(level) {
				right = level[2*i+1]
			}
			next[i] = PoseidonHash2(left, right)
		}
		level = next
		idx /= 2
	}
	return path, nil
}

// VerifyMerklePath replays a path from leaf to root natively, mirroring the
// in-circuit computation.
func VerifyMerklePath(leaf fr.Element, path []MerkleStep, root fr.Element) bool {
	cur := leaf
	for _, step := range path {
		if step.IsRight {
			cur = PoseidonHash2(step.Sibling, cur)
		} else {
			cur = PoseidonHash2(cur, step.Sibling)
		}
	}
	return cur.Equal(&root)
}
