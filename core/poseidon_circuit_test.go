package core

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/test"
)

// hashPairCircuit asserts the gadget reproduces a native two-input hash.
type hashPairCircuit struct {
	A   frontend.Variable
	B   frontend.Variable
	Out frontend.Variable `gnark:",public"`
}

func (c *hashPairCircuit) Define(api frontend.API) error {
	api.AssertIsEqual(PoseidonHashGadget(api, c.A, c.B), c.Out)
	return nil
}

// hashTripleCircuit covers the multi-chunk absorb path.
type hashTripleCircuit struct {
	A   frontend.Variable
	B   frontend.Variable
	C   frontend.Variable
	Out frontend.Variable `gnark:",public"`
}

func (c *hashTripleCircuit) Define(api frontend.API) error {
	api.AssertIsEqual(PoseidonHashGadget(api, c.A, c.B, c.C), c.Out)
	return nil
}

func TestPoseidonGadgetMatchesNative(t *testing.T) {
	native := PoseidonHash2(frOf(7), frOf(11))
	assignment := &hashPairCircuit{A: frOf(7), B: frOf(11), Out: native}
	if err := test.IsSolved(&hashPairCircuit{}, assignment, ecc.BN254.ScalarField()); err != nil {
		t.Fatalf("gadget disagrees with native hash: %v", err)
	}

	// A wrong expected output must not satisfy the circuit.
	bad := PoseidonHash2(frOf(11), frOf(7))
	assignment = &hashPairCircuit{A: frOf(7), B: frOf(11), Out: bad}
	if err := test.IsSolved(&hashPairCircuit{}, assignment, ecc.BN254.ScalarField()); err == nil {
		t.Fatalf("swapped-order hash satisfied the circuit")
	}
}

func TestPoseidonGadgetTripleMatchesNative(t *testing.T) {
	native := PoseidonHash3(frOf(1), frOf(2), frOf(3))
	assignment := &hashTripleCircuit{A: frOf(1), B: frOf(2), C: frOf(3), Out: native}
	if err := test.IsSolved(&hashTripleCircuit{}, assignment, ecc.BN254.ScalarField()); err != nil {
		t.Fatalf("triple gadget disagrees with native hash: %v", err)
	}
}

// merklePathCircuit recomputes a root the way the credential circuit does.
type merklePathCircuit struct {
	Leaf    frontend.Variable
	Path    [4]frontend.Variable
	Indices [4]frontend.Variable
	Root    frontend.Variable `gnark:",public"`
}

func (c *merklePathCircuit) Define(api frontend.API) error {
	cur := c.Leaf
	for i := range c.Path {
		api.AssertIsBoolean(c.Indices[i])
		left := api.Select(c.Indices[i], c.Path[i], cur)
		right := api.Select(c.Indices[i], cur, c.Path[i])
		cur = PoseidonHashGadget(api, left, right)
	}
	api.AssertIsEqual(cur, c.Root)
	return nil
}

func TestMerkleGadgetMatchesNativeTree(t *testing.T) {
	tree := NewPoseidonMerkleTree(4)
	for i := uint64(0); i < 6; i++ {
		if _, err := tree.Insert(frOf(100 + i)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	path, err := tree.Proof(3)
	if err != nil {
		t.Fatalf("proof: %v", err)
	}

	assignment := &merklePathCircuit{Leaf: frOf(103), Root: tree.Root()}
	for i, step := range path {
		assignment.Path[i] = step.Sibling
		if step.IsRight {
			assignment.Indices[i] = 1
		} else {
			assignment.Indices[i] = 0
		}
	}
	if err := test.IsSolved(&merklePathCircuit{}, assignment, ecc.BN254.ScalarField()); err != nil {
		t.Fatalf("in-circuit merkle disagrees with native tree: %v", err)
	}
}
