package core

// Private-asset mixer: an append-only commitment tree, a bounded spent
// nullifier set and a rolling window of accepted roots. No operation ever
// rewinds a commitment; the nullifier set only grows until the LRU cap,
// which is sized so evicted nullifiers can only belong to roots that have
// long aged out of the accepted window.

import (
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

const (
	// MixerTreeDepth bounds the pool at 2^20 notes.
	MixerTreeDepth = 20
	// MaxNullifiers caps the spent set; eviction is insertion-ordered.
	MaxNullifiers = 1_000_000
	// MaxAcceptedRoots is the rolling window a spend may reference.
	MaxAcceptedRoots = 256
)

// Spend rejection reasons reported to callers. Final; never retried.
const (
	SpendReasonDoubleSpend  = "DoubleSpend"
	SpendReasonUnknownRoot  = "UnknownRoot"
	SpendReasonMissingProof = "MissingProof"
)

// AssetID identifies a mixed asset.
type AssetID [32]byte

// Note is a private-asset entry. The holder keeps it after deposit to build
// spend proofs; the pool only ever sees the commitment.
type Note struct {
	SecretKey [32]byte
	Amount    *big.Int
	Asset     AssetID
	Blinding  [32]byte

	treeIndex    int
	hasTreeIndex bool
}

// NewNote assembles a note. Amount must fit in 128 bits.
func NewNote(secret [32]byte, amount *big.Int, asset AssetID, blinding [32]byte) *Note {
	return &Note{SecretKey: secret, Amount: new(big.Int).Set(amount), Asset: asset, Blinding: blinding}
}

// Commitment derives the tree leaf: Poseidon(secret, amount, asset, blinding).
func (n *Note) Commitment() fr.Element {
	var amount fr.Element
	amount.SetBigInt(n.Amount)
	return PoseidonHash(
		BytesToFr(n.SecretKey[:]),
		amount,
		BytesToFr(n.Asset[:]),
		BytesToFr(n.Blinding[:]),
	)
}

// Nullifier derives the spend tag: Poseidon(secret, tree_index). The tree
// index is assigned by Deposit; before that it is 0, so the tag only matches
// a spend once the note has been deposited.
func (n *Note) Nullifier() [32]byte {
	var index fr.Element
	index.SetUint64(uint64(n.treeIndex))
	return FrToBytes(PoseidonHash2(BytesToFr(n.SecretKey[:]), index))
}

// TreeIndex returns the assigned leaf index after deposit.
func (n *Note) TreeIndex() (int, bool) { return n.treeIndex, n.hasTreeIndex }

// Zero wipes the note secret.
func (n *Note) Zero() { Zeroize(n.SecretKey[:]); Zeroize(n.Blinding[:]) }

// SpendRequest references an accepted root with a nullifier and recipient.
type SpendRequest struct {
	MerkleRoot [32]byte     `json:"merkle_root"`
	Nullifier  [32]byte     `json:"nullifier"`
	Recipient  [20]byte     `json:"recipient"`
	Fee        uint64       `json:"fee"`
	MerklePath []MerkleStep `json:"-"`
	Proof      []byte       `json:"proof"`
}

// SpendResult reports the outcome of a spend attempt.
type SpendResult struct {
	Success bool     `json:"success"`
	Reason  string   `json:"reason,omitempty"`
	TxHash  [32]byte `json:"tx_hash"`
}

// MixerStats is a point-in-time counter snapshot.
type MixerStats struct {
	Deposits     uint64 `json:"deposits"`
	Spends       uint64 `json:"spends"`
	FailedSpends uint64 `json:"failed_spends"`
	Notes        int    `json:"notes"`
	SpentNotes   int    `json:"spent_notes"`
}

// NoteMixer is the process-wide mixing pool.
type NoteMixer struct {
	mu              sync.RWMutex
	tree            *PoseidonMerkleTree
	nullifiers      *lru.Cache[[32]byte, struct{}]
	commitmentIndex map[[32]byte]int
	acceptedRoots   [][32]byte
	tvl             map[AssetID]*big.Int

	productionMode atomic.Bool
	deposits       atomic.Uint64
	spends         atomic.Uint64
	failedSpends   atomic.Uint64

	collector *WorkMetricsCollector
}

// NewNoteMixer builds an empty pool whose initial (empty) root is accepted.
func NewNoteMixer() *NoteMixer {
	nullifiers, err := lru.New[[32]byte, struct{}](MaxNullifiers)
	if err != nil {
		panic(err)
	}
	tree := NewPoseidonMerkleTree(MixerTreeDepth)
	return &NoteMixer{
		tree:            tree,
		nullifiers:      nullifiers,
		commitmentIndex: make(map[[32]byte]int),
		acceptedRoots:   [][32]byte{FrToBytes(tree.Root())},
		tvl:             make(map[AssetID]*big.Int),
	}
}

// SetProductionMode toggles the mandatory proof check on spends.
func (m *NoteMixer) SetProductionMode(enabled bool) {
	m.productionMode.Store(enabled)
	if enabled {
		logrus.Info("note mixer: production mode enabled")
	}
}

// SetCollector attaches the work-metrics collector so deposits and spends
// count toward the mixer-ops category.
func (m *NoteMixer) SetCollector(c *WorkMetricsCollector) { m.collector = c }

// Deposit inserts the note commitment and returns its leaf index. The new
// root is in the accepted window before Deposit returns.
func (m *NoteMixer) Deposit(note *Note) (int, error) {
	commitment := FrToBytes(note.Commitment())

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.commitmentIndex) >= 1<<MixerTreeDepth {
		return 0, ErrPoolFull
	}
	if _, exists := m.commitmentIndex[commitment]; exists {
		return 0, ErrAlreadyDeposited
	}

	index, err := m.tree.Insert(BytesToFr(commitment[:]))
	if err != nil {
		return 0, err
	}

	m.acceptedRoots = append(m.acceptedRoots, FrToBytes(m.tree.Root()))
	if len(m.acceptedRoots) > MaxAcceptedRoots {
		m.acceptedRoots = m.acceptedRoots[1:]
	}

	m.commitmentIndex[commitment] = index

	cur, ok := m.tvl[note.Asset]
	if !ok {
		cur = new(big.Int)
		m.tvl[note.Asset] = cur
	}
	cur.Add(cur, note.Amount)

	note.treeIndex = index
	note.hasTreeIndex = true
	m.deposits.Add(1)
	if m.collector != nil {
		m.collector.RecordMixerDeposit(note.Amount)
	}
	return index, nil
}

// Proof fetches the authentication path for a deposited commitment.
func (m *NoteMixer) Proof(commitment [32]byte) ([]MerkleStep, error) {
	m.mu.RLock()
	index, ok := m.commitmentIndex[commitment]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNoteNotFound
	}
	return m.tree.Proof(index)
}

// Root returns the current tree root.
func (m *NoteMixer) Root() [32]byte { return FrToBytes(m.tree.Root()) }

// IsRootAccepted reports whether root is inside the rolling window.
func (m *NoteMixer) IsRootAccepted(root [32]byte) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.acceptedRoots {
		if r == root {
			return true
		}
	}
	return false
}

// IsSpent reports whether a nullifier has been recorded.
func (m *NoteMixer) IsSpent(nullifier [32]byte) bool {
	return m.nullifiers.Contains(nullifier)
}

// Spend validates a spend request, records the nullifier and returns the
// synthetic transaction hash Poseidon(nullifier, recipient). Rejections are
// final. Two concurrent spends of one nullifier observe exactly one success.
func (m *NoteMixer) Spend(request *SpendRequest) SpendResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.nullifiers.Contains(request.Nullifier) {
		m.failedSpends.Add(1)
		logrus.Warn("spend rejected: nullifier already spent")
		return SpendResult{Success: false, Reason: SpendReasonDoubleSpend}
	}

	accepted := false
	for _, r := range m.acceptedRoots {
		if r == request.MerkleRoot {
			accepted = true
			break
		}
	}
	if !accepted {
		m.failedSpends.Add(1)
		logrus.Warn("spend rejected: merkle root outside accepted window")
		return SpendResult{Success: false, Reason: SpendReasonUnknownRoot}
	}

	if m.productionMode.Load() && len(request.Proof) == 0 {
		m.failedSpends.Add(1)
		logrus.Error("spend rejected: proof required in production")
		return SpendResult{Success: false, Reason: SpendReasonMissingProof}
	}

	m.nullifiers.Add(request.Nullifier, struct{}{})
	m.spends.Add(1)
	if m.collector != nil {
		m.collector.RecordMixerSpend(new(big.Int).SetUint64(request.Fee))
	}

	txHash := PoseidonHash2(BytesToFr(request.Nullifier[:]), BytesToFr(request.Recipient[:]))
	return SpendResult{Success: true, TxHash: FrToBytes(txHash)}
}

// TVL returns the total value locked for an asset.
func (m *NoteMixer) TVL(asset AssetID) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.tvl[asset]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// NoteCount returns the number of deposited commitments.
func (m *NoteMixer) NoteCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.commitmentIndex)
}

// SpentCount returns the size of the nullifier set.
func (m *NoteMixer) SpentCount() int { return m.nullifiers.Len() }

// Stats snapshots the pool counters.
func (m *NoteMixer) Stats() MixerStats {
	return MixerStats{
		Deposits:     m.deposits.Load(),
		Spends:       m.spends.Load(),
		FailedSpends: m.failedSpends.Load(),
		Notes:        m.NoteCount(),
		SpentNotes:   m.SpentCount(),
	}
}
