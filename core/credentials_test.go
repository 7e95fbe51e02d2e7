package core

import (
	"testing"
)

func TestCredentialTypeTags(t *testing.T) {
	tests := []struct {
		name string
		typ  CredentialType
		want uint64
	}{
		{"identity", CredentialType{Kind: CredentialIdentity}, 0},
		{"age18", CredentialType{Kind: CredentialAgeVerification, MinAge: 18}, 1018},
		{"region", CredentialType{Kind: CredentialRegionVerification}, 2000},
		{"custom", CredentialType{Kind: CredentialCustom, CustomID: 7}, 10007},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.typ.Tag(); got != tc.want {
				t.Fatalf("tag=%d want %d", got, tc.want)
			}
		})
	}
}

func TestIssueInsertsCommitment(t *testing.T) {
	sys := NewZkCredentialSystem([32]byte{1})
	emptyRoot := sys.MerkleRoot()

	cred, err := sys.Issue([32]byte{123}, CredentialType{Kind: CredentialIdentity}, 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if sys.CredentialCount() != 1 {
		t.Fatalf("count=%d want 1", sys.CredentialCount())
	}
	if sys.MerkleRoot() == emptyRoot {
		t.Fatalf("root unchanged after issuance")
	}
	if cred.Commitment == ([32]byte{}) {
		t.Fatalf("empty commitment")
	}
	if cred.IssuerCommitment == ([32]byte{}) {
		t.Fatalf("empty issuer commitment")
	}

	// The commitment must bind the type tag.
	other, err := sys.Issue([32]byte{123}, CredentialType{Kind: CredentialRegionVerification}, 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if other.Commitment == cred.Commitment && other.NullifierSeed == cred.NullifierSeed {
		t.Fatalf("distinct types produced identical commitments")
	}
}

func TestRegisterCommitmentIndices(t *testing.T) {
	sys := NewZkCredentialSystem([32]byte{2})
	for i := 0; i < 3; i++ {
		index, err := sys.RegisterCommitment([32]byte{byte(10 + i)})
		if err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
		if index != i {
			t.Fatalf("index=%d want %d", index, i)
		}
	}
}

func TestProveRequiresInitialization(t *testing.T) {
	sys := NewZkCredentialSystem([32]byte{3})
	cred, err := sys.Issue([32]byte{5}, CredentialType{Kind: CredentialIdentity}, 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := sys.Prove(cred, [32]byte{1}, []byte("signal")); err != ErrSystemUninitialized {
		t.Fatalf("expected ErrSystemUninitialized, got %v", err)
	}
	if _, err := sys.VerifyProof(&CredentialProof{}); err != ErrSystemUninitialized {
		t.Fatalf("expected ErrSystemUninitialized, got %v", err)
	}
}

// TestCredentialProofRoundTrip exercises the full Groth16 pipeline: setup,
// issue, prove, verify-and-record, replay rejection and re-proof under a
// fresh external nullifier. The trusted setup dominates the runtime.
func TestCredentialProofRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is expensive")
	}

	sys := NewZkCredentialSystem([32]byte{4})
	if err := sys.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	var identitySecret [32]byte
	for i := range identitySecret {
		identitySecret[i] = 123
	}
	cred, err := sys.Issue(identitySecret, CredentialType{Kind: CredentialIdentity}, 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	ext1 := [32]byte{1}
	proof, err := sys.Prove(cred, ext1, []byte("login@example"))
	if err != nil {
		t.Fatalf("prove: %v", err)
	}

	ok, err := sys.VerifyAndRecord(proof)
	if err != nil || !ok {
		t.Fatalf("first verify: ok=%v err=%v", ok, err)
	}

	// Identical public inputs replay the nullifier and must be rejected.
	ok, err = sys.VerifyAndRecord(proof)
	if err != nil || ok {
		t.Fatalf("replay accepted: ok=%v err=%v", ok, err)
	}

	// A fresh external nullifier scopes a new nullifier for the same secret.
	ext2 := [32]byte{2}
	proof2, err := sys.Prove(cred, ext2, []byte("login@example"))
	if err != nil {
		t.Fatalf("second prove: %v", err)
	}
	ok, err = sys.VerifyAndRecord(proof2)
	if err != nil || !ok {
		t.Fatalf("fresh context verify: ok=%v err=%v", ok, err)
	}

	if sys.NullifierCount() != 2 {
		t.Fatalf("nullifier count=%d want 2", sys.NullifierCount())
	}
}

// TestStaleRootRejected verifies that extending the tree revokes proofs
// built against the previous root.
func TestStaleRootRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is expensive")
	}

	sys := NewZkCredentialSystem([32]byte{5})
	if err := sys.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	cred, err := sys.Issue([32]byte{9}, CredentialType{Kind: CredentialIdentity}, 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	proof, err := sys.Prove(cred, [32]byte{1}, []byte("s"))
	if err != nil {
		t.Fatalf("prove: %v", err)
	}

	// Issuing another credential moves the root.
	if _, err := sys.Issue([32]byte{10}, CredentialType{Kind: CredentialIdentity}, 0); err != nil {
		t.Fatalf("issue: %v", err)
	}

	ok, err := sys.VerifyAndRecord(proof)
	if err != nil || ok {
		t.Fatalf("stale root accepted: ok=%v err=%v", ok, err)
	}
}

func TestVerifyKeyExportImport(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is expensive")
	}

	prover := NewZkCredentialSystem([32]byte{6})
	if err := prover.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	vkBytes, err := prover.ExportVerifyingKey()
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	verifier := NewZkCredentialSystem([32]byte{6})
	if err := verifier.ImportVerifyingKey(vkBytes); err != nil {
		t.Fatalf("import: %v", err)
	}

	// The verifier tracks the same tree contents.
	cred, err := prover.Issue([32]byte{7}, CredentialType{Kind: CredentialIdentity}, 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.RegisterCommitment(cred.Commitment); err != nil {
		t.Fatalf("register: %v", err)
	}

	proof, err := prover.Prove(cred, [32]byte{1}, []byte("cross"))
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	ok, err := verifier.VerifyAndRecord(proof)
	if err != nil || !ok {
		t.Fatalf("verification-only node rejected valid proof: ok=%v err=%v", ok, err)
	}

	// A verification-only system cannot prove.
	if _, err := verifier.Prove(cred, [32]byte{2}, []byte("x")); err != ErrSystemUninitialized {
		t.Fatalf("expected ErrSystemUninitialized, got %v", err)
	}
}
