package core

// ZK credential system: Semaphore-style identity attestation over a
// dedicated Poseidon tree with Groth16 proofs. Proving and verifying keys
// are published once and never cloned; proofs bind an external nullifier so
// one credential yields exactly one nullifier per context.

import (
	"bytes"
	"sync"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/sirupsen/logrus"
)

// CredentialKind discriminates credential types.
type CredentialKind uint8

const (
	CredentialIdentity CredentialKind = iota
	CredentialAgeVerification
	CredentialRegionVerification
	CredentialCustom
)

// CredentialType carries the kind plus its parameter, if any.
type CredentialType struct {
	Kind     CredentialKind `json:"kind"`
	MinAge   uint8          `json:"min_age,omitempty"`
	CustomID uint32         `json:"custom_id,omitempty"`
}

// Tag maps the type onto its circuit field element.
func (t CredentialType) Tag() uint64 {
	switch t.Kind {
	case CredentialIdentity:
		return 0
	case CredentialAgeVerification:
		return uint64(t.MinAge) + 1000
	case CredentialRegionVerification:
		return 2000
	default:
		return uint64(t.CustomID) + 10000
	}
}

// Credential is held by the subject; only the commitment enters the tree.
type Credential struct {
	IdentitySecret   [32]byte       `json:"identity_secret"`
	NullifierSeed    [32]byte       `json:"nullifier_seed"`
	Type             CredentialType `json:"credential_type"`
	ExpiresAt        uint64         `json:"expires_at"`
	IssuerCommitment [32]byte       `json:"issuer_commitment"`
	Commitment       [32]byte       `json:"commitment"`
}

// Zero wipes the credential secrets.
func (c *Credential) Zero() {
	Zeroize(c.IdentitySecret[:])
	Zeroize(c.NullifierSeed[:])
}

// CredentialPublicInputs are the four public wires of a credential proof.
type CredentialPublicInputs struct {
	MerkleRoot        [32]byte `json:"merkle_root"`
	Nullifier         [32]byte `json:"nullifier"`
	ExternalNullifier [32]byte `json:"external_nullifier"`
	SignalHash        [32]byte `json:"signal_hash"`
}

// CredentialProof bundles a Groth16 proof with its public inputs.
type CredentialProof struct {
	Proof        groth16.Proof
	PublicInputs CredentialPublicInputs
}

// MarshalProof serializes the Groth16 proof with gnark's canonical encoding.
func (p *CredentialProof) MarshalProof() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := p.Proof.WriteTo(&buf); err != nil {
		return nil, wrapErr(ErrStorageSerialization, "proof: %v", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalCredentialProof reconstructs a proof from its wire form.
func UnmarshalCredentialProof(raw []byte, inputs CredentialPublicInputs) (*CredentialProof, error) {
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(raw)); err != nil {
		return nil, wrapErr(ErrInvalidProof, "decode: %v", err)
	}
	return &CredentialProof{Proof: proof, PublicInputs: inputs}, nil
}

// ZkCredentialSystem is the process-wide credential service.
type ZkCredentialSystem struct {
	mu sync.RWMutex

	ccs         constraint.ConstraintSystem
	provingKey  groth16.ProvingKey
	verifyingKey groth16.VerifyingKey
	initialized bool
	proveReady  bool

	tree       *PoseidonMerkleTree
	leafIndex  map[[32]byte]int
	nullifiers map[[32]byte]int64

	issuerSecret     [32]byte
	issuerCommitment [32]byte

	collector *WorkMetricsCollector
}

// NewZkCredentialSystem builds an uninitialized system bound to an issuer
// secret. Initialize or ImportVerifyingKey must run before proofs flow.
func NewZkCredentialSystem(issuerSecret [32]byte) *ZkCredentialSystem {
	commitment := FrToBytes(PoseidonHash1(BytesToFr(issuerSecret[:])))
	return &ZkCredentialSystem{
		tree:             NewPoseidonMerkleTree(CredentialTreeDepth),
		leafIndex:        make(map[[32]byte]int),
		nullifiers:       make(map[[32]byte]int64),
		issuerSecret:     issuerSecret,
		issuerCommitment: commitment,
	}
}

// SetCollector attaches the work-metrics collector so proof generation and
// verification count toward the zk category.
func (s *ZkCredentialSystem) SetCollector(c *WorkMetricsCollector) { s.collector = c }

// Initialize compiles the circuit and runs the Groth16 circuit-specific
// setup. Expensive; runs once per process. Prover deployments only.
func (s *ZkCredentialSystem) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	logrus.Info("zk credentials: generating proving and verifying keys, this may take a while")

	var circuit CredentialCircuit
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return wrapErr(ErrInvalidProof, "circuit compile: %v", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return wrapErr(ErrInvalidProof, "groth16 setup: %v", err)
	}

	s.ccs = ccs
	s.provingKey = pk
	s.verifyingKey = vk
	s.initialized = true
	s.proveReady = true

	logrus.Info("zk credential system initialized")
	return nil
}

// ExportVerifyingKey serializes the verifying key for verification-only
// deployments.
func (s *ZkCredentialSystem) ExportVerifyingKey() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.verifyingKey == nil {
		return nil, ErrSystemUninitialized
	}
	var buf bytes.Buffer
	if _, err := s.verifyingKey.WriteTo(&buf); err != nil {
		return nil, wrapErr(ErrStorageSerialization, "verifying key: %v", err)
	}
	return buf.Bytes(), nil
}

// ImportVerifyingKey loads a verifying key; the system can then verify but
// not prove.
func (s *ZkCredentialSystem) ImportVerifyingKey(raw []byte) error {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(raw)); err != nil {
		return wrapErr(ErrInvalidKey, "verifying key decode: %v", err)
	}
	s.mu.Lock()
	s.verifyingKey = vk
	s.initialized = true
	s.mu.Unlock()
	logrus.Info("zk credentials: imported verifying key, verification-only mode")
	return nil
}

// Issue creates a credential for identitySecret, inserting its commitment
// into the credential tree.
func (s *ZkCredentialSystem) Issue(identitySecret [32]byte, credentialType CredentialType, expiresAt uint64) (*Credential, error) {
	nullifierSeed := Random32()

	var tag fr.Element
	tag.SetUint64(credentialType.Tag())
	commitment := FrToBytes(PoseidonHash3(
		BytesToFr(identitySecret[:]),
		BytesToFr(nullifierSeed[:]),
		tag,
	))

	index, err := s.tree.Insert(BytesToFr(commitment[:]))
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.leafIndex[commitment] = index
	s.mu.Unlock()

	logrus.WithField("commitment", commitment[:8]).Info("issued credential")
	return &Credential{
		IdentitySecret:   identitySecret,
		NullifierSeed:    nullifierSeed,
		Type:             credentialType,
		ExpiresAt:        expiresAt,
		IssuerCommitment: s.issuerCommitment,
		Commitment:       commitment,
	}, nil
}

// credentialIndex locates a commitment in the tree.
func (s *ZkCredentialSystem) credentialIndex(commitment [32]byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	index, ok := s.leafIndex[commitment]
	if !ok {
		return 0, wrapErr(ErrInvalidProof, "credential not in tree")
	}
	return index, nil
}

// Prove generates a credential proof scoped to externalNullifier and binding
// BLAKE3(signal).
func (s *ZkCredentialSystem) Prove(credential *Credential, externalNullifier [32]byte, signal []byte) (*CredentialProof, error) {
	s.mu.RLock()
	ready := s.proveReady
	s.mu.RUnlock()
	if !ready {
		return nil, ErrSystemUninitialized
	}

	index, err := s.credentialIndex(credential.Commitment)
	if err != nil {
		return nil, err
	}
	path, err := s.tree.Proof(index)
	if err != nil {
		return nil, err
	}
	root := FrToBytes(s.tree.Root())
	signalHash := Blake3Hash(signal)

	nullifier := FrToBytes(PoseidonHash2(
		BytesToFr(credential.NullifierSeed[:]),
		BytesToFr(externalNullifier[:]),
	))

	assignment := &CredentialCircuit{
		MerkleRoot:        BytesToFr(root[:]),
		Nullifier:         BytesToFr(nullifier[:]),
		ExternalNullifier: BytesToFr(externalNullifier[:]),
		SignalHash:        BytesToFr(signalHash[:]),
		IdentitySecret:    BytesToFr(credential.IdentitySecret[:]),
		NullifierSeed:     BytesToFr(credential.NullifierSeed[:]),
	}
	var tag fr.Element
	tag.SetUint64(credential.Type.Tag())
	assignment.CredentialType = tag
	for i, step := range path {
		assignment.MerklePath[i] = step.Sibling
		if step.IsRight {
			assignment.MerkleIndices[i] = 1
		} else {
			assignment.MerkleIndices[i] = 0
		}
	}

	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, wrapErr(ErrInvalidProof, "witness: %v", err)
	}

	started := time.Now()
	proof, err := groth16.Prove(s.ccs, s.provingKey, witness)
	if err != nil {
		return nil, wrapErr(ErrInvalidProof, "prove: %v", err)
	}
	if s.collector != nil {
		s.collector.RecordZkProofGenerated(uint64(time.Since(started).Milliseconds()))
	}

	logrus.Debug("generated credential proof")
	return &CredentialProof{
		Proof: proof,
		PublicInputs: CredentialPublicInputs{
			MerkleRoot:        root,
			Nullifier:         nullifier,
			ExternalNullifier: externalNullifier,
			SignalHash:        signalHash,
		},
	}, nil
}

// VerifyProof checks the Groth16 proof against the current tree root without
// touching the nullifier ledger. Stale roots fail verification; extending
// the tree effectively revokes proofs built against old roots.
func (s *ZkCredentialSystem) VerifyProof(proof *CredentialProof) (bool, error) {
	s.mu.RLock()
	vk := s.verifyingKey
	initialized := s.initialized
	s.mu.RUnlock()
	if !initialized || vk == nil {
		return false, ErrSystemUninitialized
	}

	currentRoot := FrToBytes(s.tree.Root())
	if proof.PublicInputs.MerkleRoot != currentRoot {
		logrus.Debug("credential proof rejected: merkle root is not current")
		return false, nil
	}

	public := &CredentialCircuit{
		MerkleRoot:        BytesToFr(proof.PublicInputs.MerkleRoot[:]),
		Nullifier:         BytesToFr(proof.PublicInputs.Nullifier[:]),
		ExternalNullifier: BytesToFr(proof.PublicInputs.ExternalNullifier[:]),
		SignalHash:        BytesToFr(proof.PublicInputs.SignalHash[:]),
	}
	witness, err := frontend.NewWitness(public, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, wrapErr(ErrInvalidProof, "public witness: %v", err)
	}

	err = groth16.Verify(proof.Proof, vk, witness)
	if s.collector != nil {
		s.collector.RecordZkProofVerified(err == nil)
	}
	if err != nil {
		return false, nil
	}
	return true, nil
}

// VerifyAndRecord verifies the proof and, when valid, records its nullifier.
// A second call with the same nullifier returns false.
func (s *ZkCredentialSystem) VerifyAndRecord(proof *CredentialProof) (bool, error) {
	ok, err := s.VerifyProof(proof)
	if err != nil || !ok {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, used := s.nullifiers[proof.PublicInputs.Nullifier]; used {
		logrus.Warn("credential nullifier already used")
		return false, nil
	}
	s.nullifiers[proof.PublicInputs.Nullifier] = time.Now().Unix()
	return true, nil
}

// MerkleRoot returns the credential tree root.
func (s *ZkCredentialSystem) MerkleRoot() [32]byte { return FrToBytes(s.tree.Root()) }

// CredentialCount returns the number of issued commitments.
func (s *ZkCredentialSystem) CredentialCount() int { return s.tree.LeafCount() }

// NullifierCount returns the number of recorded nullifiers.
func (s *ZkCredentialSystem) NullifierCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nullifiers)
}

// RegisterCommitment inserts an externally computed identity commitment into
// the credential tree, returning its leaf index. Control-plane entry point.
func (s *ZkCredentialSystem) RegisterCommitment(commitment [32]byte) (int, error) {
	index, err := s.tree.Insert(BytesToFr(commitment[:]))
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.leafIndex[commitment] = index
	s.mu.Unlock()
	return index, nil
}
