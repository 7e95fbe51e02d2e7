package core

import (
	"math/big"
	"testing"
)

var assetA = AssetID{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA}

func fixedNote(secret byte, amount int64) *Note {
	var sk, blinding [32]byte
	for i := range sk {
		sk[i] = secret
		blinding[i] = secret + 1
	}
	return NewNote(sk, big.NewInt(amount), assetA, blinding)
}

func TestDepositSpendRoundTrip(t *testing.T) {
	mixer := NewNoteMixer()
	note := fixedNote(1, 1000)

	index, err := mixer.Deposit(note)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if index != 0 {
		t.Fatalf("index=%d want 0", index)
	}
	if got := mixer.TVL(assetA); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("tvl=%s want 1000", got)
	}

	root := mixer.Root()
	commitment := FrToBytes(note.Commitment())
	path, err := mixer.Proof(commitment)
	if err != nil {
		t.Fatalf("proof: %v", err)
	}

	var recipient [20]byte
	for i := range recipient {
		recipient[i] = 3
	}
	req := &SpendRequest{
		MerkleRoot: root,
		Nullifier:  note.Nullifier(),
		Recipient:  recipient,
		Fee:        10,
		MerklePath: path,
	}
	result := mixer.Spend(req)
	if !result.Success {
		t.Fatalf("spend rejected: %s", result.Reason)
	}
	wantHash := FrToBytes(PoseidonHash2(BytesToFr(req.Nullifier[:]), BytesToFr(recipient[:])))
	if result.TxHash != wantHash {
		t.Fatalf("tx hash mismatch")
	}
	if !mixer.IsSpent(req.Nullifier) {
		t.Fatalf("nullifier not recorded")
	}

	// Second identical spend must fail without touching state.
	tvlBefore := mixer.TVL(assetA)
	spentBefore := mixer.SpentCount()
	again := mixer.Spend(req)
	if again.Success || again.Reason != SpendReasonDoubleSpend {
		t.Fatalf("double spend not rejected: %+v", again)
	}
	if mixer.TVL(assetA).Cmp(tvlBefore) != 0 {
		t.Fatalf("tvl changed on rejected spend")
	}
	if mixer.SpentCount() != spentBefore {
		t.Fatalf("nullifier set changed on rejected spend")
	}
}

func TestDuplicateDepositRejected(t *testing.T) {
	mixer := NewNoteMixer()
	note := fixedNote(2, 500)
	if _, err := mixer.Deposit(note); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := mixer.Deposit(note); err != ErrAlreadyDeposited {
		t.Fatalf("expected ErrAlreadyDeposited, got %v", err)
	}
	if mixer.NoteCount() != 1 {
		t.Fatalf("note count=%d want 1", mixer.NoteCount())
	}
}

func TestSpendUnknownRoot(t *testing.T) {
	mixer := NewNoteMixer()
	note := fixedNote(3, 100)
	if _, err := mixer.Deposit(note); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	req := &SpendRequest{
		MerkleRoot: [32]byte{0xFF},
		Nullifier:  note.Nullifier(),
	}
	result := mixer.Spend(req)
	if result.Success || result.Reason != SpendReasonUnknownRoot {
		t.Fatalf("unknown root not rejected: %+v", result)
	}
}

func TestProductionModeRequiresProof(t *testing.T) {
	mixer := NewNoteMixer()
	mixer.SetProductionMode(true)
	note := fixedNote(4, 100)
	if _, err := mixer.Deposit(note); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	req := &SpendRequest{MerkleRoot: mixer.Root(), Nullifier: note.Nullifier()}
	result := mixer.Spend(req)
	if result.Success || result.Reason != SpendReasonMissingProof {
		t.Fatalf("missing proof not rejected: %+v", result)
	}

	req.Proof = []byte{1, 2, 3}
	if result := mixer.Spend(req); !result.Success {
		t.Fatalf("spend with proof rejected: %s", result.Reason)
	}
}

func TestAcceptedRootWindow(t *testing.T) {
	mixer := NewNoteMixer()

	roots := make([][32]byte, 0, 300)
	for i := 0; i < 300; i++ {
		note := fixedNote(byte(i%250), int64(i+1))
		// Vary the amount too so every commitment is unique.
		note.Amount = big.NewInt(int64(1000 + i))
		if _, err := mixer.Deposit(note); err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
		roots = append(roots, mixer.Root())
	}

	// Exactly the last 256 roots are accepted.
	for i, root := range roots {
		accepted := mixer.IsRootAccepted(root)
		if i < len(roots)-MaxAcceptedRoots && accepted {
			t.Fatalf("root %d still accepted", i)
		}
		if i >= len(roots)-MaxAcceptedRoots && !accepted {
			t.Fatalf("root %d aged out too early", i)
		}
	}
}

func TestMixerStats(t *testing.T) {
	mixer := NewNoteMixer()
	note := fixedNote(9, 250)
	if _, err := mixer.Deposit(note); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	result := mixer.Spend(&SpendRequest{MerkleRoot: mixer.Root(), Nullifier: note.Nullifier()})
	if !result.Success {
		t.Fatalf("spend rejected: %s", result.Reason)
	}
	mixer.Spend(&SpendRequest{MerkleRoot: mixer.Root(), Nullifier: note.Nullifier()})

	stats := mixer.Stats()
	if stats.Deposits != 1 || stats.Spends != 1 || stats.FailedSpends != 1 {
		t.Fatalf("stats=%+v", stats)
	}
}
