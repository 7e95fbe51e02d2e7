package core

// Groth16 circuit for credential proofs. The statement: a commitment
// Poseidon(identitySecret, nullifierSeed, credentialType) is a member of the
// credential tree under merkleRoot, and nullifier was derived as
// Poseidon(nullifierSeed, externalNullifier). The signal hash rides along as
// a public input so any tampering invalidates the proof.

import (
	"github.com/consensys/gnark/frontend"
)

// CredentialTreeDepth fixes the membership path length.
const CredentialTreeDepth = 20

// CredentialCircuit declares the credential statement. Field order of the
// public variables is the wire order of the verifier's public inputs.
type CredentialCircuit struct {
	MerkleRoot        frontend.Variable `gnark:"merkleRoot,public"`
	Nullifier         frontend.Variable `gnark:"nullifier,public"`
	ExternalNullifier frontend.Variable `gnark:"externalNullifier,public"`
	SignalHash        frontend.Variable `gnark:"signalHash,public"`

	IdentitySecret frontend.Variable                        `gnark:"identitySecret"`
	NullifierSeed  frontend.Variable                        `gnark:"nullifierSeed"`
	CredentialType frontend.Variable                        `gnark:"credentialType"`
	MerklePath     [CredentialTreeDepth]frontend.Variable   `gnark:"merklePath"`
	MerkleIndices  [CredentialTreeDepth]frontend.Variable   `gnark:"merkleIndices"`
}

// Define builds the constraint system.
func (c *CredentialCircuit) Define(api frontend.API) error {
	commitment := PoseidonHashGadget(api, c.IdentitySecret, c.NullifierSeed, c.CredentialType)

	// Merkle recomputation. Each index bit selects the (left, right) order
	// exactly as the native VerifyMerklePath does; the selection must stay
	// bit-exact with the native side.
	cur := commitment
	for i := 0; i < CredentialTreeDepth; i++ {
		api.AssertIsBoolean(c.MerkleIndices[i])
		left := api.Select(c.MerkleIndices[i], c.MerklePath[i], cur)
		right := api.Select(c.MerkleIndices[i], cur, c.MerklePath[i])
		cur = PoseidonHashGadget(api, left, right)
	}
	api.AssertIsEqual(cur, c.MerkleRoot)

	computedNullifier := PoseidonHashGadget(api, c.NullifierSeed, c.ExternalNullifier)
	api.AssertIsEqual(computedNullifier, c.Nullifier)

	// Bind the signal into the statement (Semaphore convention).
	signalSquared := api.Mul(c.SignalHash, c.SignalHash)
	_ = signalSquared

	return nil
}
