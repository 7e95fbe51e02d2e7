package core

import (
	"testing"
)

func openTestStorage(t *testing.T) *NodeStorage {
	t.Helper()
	master := [32]byte{0x42}
	s, err := OpenNodeStorage(t.TempDir(), &master)
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type testRecord struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func TestStoragePutGetRoundTrip(t *testing.T) {
	s := openTestStorage(t)

	in := testRecord{Name: "alpha", Value: 7}
	if err := s.Put(TreePeers, []byte("k1"), &in); err != nil {
		t.Fatalf("put: %v", err)
	}
	var out testRecord
	found, err := s.Get(TreePeers, []byte("k1"), &out)
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if out != in {
		t.Fatalf("round trip: %+v != %+v", out, in)
	}

	found, err = s.Get(TreePeers, []byte("missing"), &out)
	if err != nil || found {
		t.Fatalf("missing key: found=%v err=%v", found, err)
	}
}

func TestStorageEncryptedTreeRoundTrip(t *testing.T) {
	s := openTestStorage(t)

	in := testRecord{Name: "secret", Value: 99}
	if err := s.Put(TreeSecrets, []byte("wallet"), &in); err != nil {
		t.Fatalf("put: %v", err)
	}

	// On disk the value must not be plain JSON.
	var sawPlain bool
	_ = s.Iterate(TreeSecrets, func(_, value []byte) bool {
		if len(value) > 0 && value[0] == '{' {
			sawPlain = true
		}
		return true
	})
	if sawPlain {
		t.Fatalf("secrets tree stored plaintext")
	}

	var out testRecord
	found, err := s.Get(TreeSecrets, []byte("wallet"), &out)
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if out != in {
		t.Fatalf("round trip: %+v != %+v", out, in)
	}
}

func TestStorageAuditOnSensitiveWrites(t *testing.T) {
	s := openTestStorage(t)

	if err := s.Put(TreeIdentity, []byte("id"), &testRecord{Name: "me"}); err != nil {
		t.Fatalf("put identity: %v", err)
	}
	if err := s.Put(TreePeers, []byte("p"), &testRecord{Name: "peer"}); err != nil {
		t.Fatalf("put peers: %v", err)
	}
	if err := s.Delete(TreeIdentity, []byte("id")); err != nil {
		t.Fatalf("delete identity: %v", err)
	}

	entries, err := s.AuditEntries(0)
	if err != nil {
		t.Fatalf("audit entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("audit entries=%d want 2", len(entries))
	}
	for _, e := range entries {
		if e.Tree != string(TreeIdentity) {
			t.Fatalf("unexpected audited tree %s", e.Tree)
		}
	}
}

func TestStorageEpochOrdering(t *testing.T) {
	s := openTestStorage(t)

	for _, epoch := range []uint64{3, 1, 7, 5} {
		summary := &StoredEpochSummary{Epoch: epoch, TotalWorkScore: float64(epoch)}
		if err := s.StoreEpoch(epoch, summary); err != nil {
			t.Fatalf("store epoch %d: %v", epoch, err)
		}
	}

	latest, found, err := s.LatestEpoch()
	if err != nil || !found {
		t.Fatalf("latest: found=%v err=%v", found, err)
	}
	if latest != 7 {
		t.Fatalf("latest=%d want 7", latest)
	}

	rangeOut, err := s.LoadEpochRange(2, 6)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(rangeOut) != 2 || rangeOut[0].Epoch != 3 || rangeOut[1].Epoch != 5 {
		t.Fatalf("range=%+v", rangeOut)
	}

	loaded, err := s.LoadEpoch(5)
	if err != nil || loaded == nil || loaded.Epoch != 5 {
		t.Fatalf("load epoch 5: %+v err=%v", loaded, err)
	}
	if missing, err := s.LoadEpoch(100); err != nil || missing != nil {
		t.Fatalf("missing epoch: %+v err=%v", missing, err)
	}
}

func TestStorageClaims(t *testing.T) {
	s := openTestStorage(t)

	if err := s.StoreClaim(2, &StoredClaim{Epoch: 2, Amount: "10", TxHash: "0xaa"}); err != nil {
		t.Fatalf("store claim: %v", err)
	}
	if err := s.StoreClaim(1, &StoredClaim{Epoch: 1, Amount: "5", TxHash: "0xbb"}); err != nil {
		t.Fatalf("store claim: %v", err)
	}

	claims, err := s.LoadClaims()
	if err != nil {
		t.Fatalf("load claims: %v", err)
	}
	if len(claims) != 2 || claims[0].Epoch != 1 || claims[1].Epoch != 2 {
		t.Fatalf("claims=%+v", claims)
	}
}

func TestStorageBatchSplit(t *testing.T) {
	s := openTestStorage(t)

	entries := make([]BatchEntry, MaxBatchSize+50)
	for i := range entries {
		entries[i] = BatchEntry{
			Key:   []byte{byte(i >> 8), byte(i)},
			Value: &testRecord{Value: i},
		}
	}
	if err := s.PutBatch(TreeMetrics, entries); err != nil {
		t.Fatalf("batch: %v", err)
	}

	count := 0
	_ = s.Iterate(TreeMetrics, func(_, _ []byte) bool {
		count++
		return true
	})
	if count != len(entries) {
		t.Fatalf("stored=%d want %d", count, len(entries))
	}
	if s.Metrics.Writes.Load() < uint64(len(entries)) {
		t.Fatalf("write counter=%d", s.Metrics.Writes.Load())
	}
}
