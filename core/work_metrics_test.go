package core

import (
	"math"
	"math/big"
	"testing"
	"time"
)

func TestWeightedWorkScore(t *testing.T) {
	c := NewWorkMetricsCollector(time.Now())

	// 100 MB relayed against a 1 GB baseline scores 10.
	c.RecordRelay(100_000_000, true, 50)
	if got := c.TrafficScore(); math.Abs(got-10.0) > 1e-9 {
		t.Fatalf("traffic score=%f want 10", got)
	}

	// 500 proofs against a 1000-op baseline scores 50.
	for i := 0; i < 500; i++ {
		c.RecordZkProofGenerated(5)
	}
	if got := c.ZkScore(); math.Abs(got-50.0) > 1e-9 {
		t.Fatalf("zk score=%f want 50", got)
	}

	want := 0.30*10.0 + 0.25*50.0
	if got := c.TotalWorkScore(); math.Abs(got-want) > 1e-9 {
		t.Fatalf("total=%f want %f", got, want)
	}
}

func TestScoreSaturation(t *testing.T) {
	c := NewWorkMetricsCollector(time.Now())
	c.RecordRelay(5*BaselineTrafficBytes, true, 1)
	if got := c.TrafficScore(); got != 100.0 {
		t.Fatalf("score=%f want saturation at 100", got)
	}
	if got := c.TotalWorkScore(); got > 100.0 {
		t.Fatalf("total=%f exceeds 100", got)
	}
}

func TestEpochNumbering(t *testing.T) {
	genesis := time.Now().Add(-2*EpochDuration - time.Second)
	c := NewWorkMetricsCollector(genesis)
	if got := c.CurrentEpoch(); got != 2 {
		t.Fatalf("epoch=%d want 2", got)
	}
}

func TestEpochLifecycle(t *testing.T) {
	genesis := time.Now().Add(-EpochDuration - time.Second)
	c := NewWorkMetricsCollector(genesis)

	// Rewind the stored epoch to simulate a node that was up across the
	// boundary.
	c.currentEpoch.Store(0)
	c.submitted.Store(true)

	if !c.CheckEpochAdvance() {
		t.Fatalf("advance not detected")
	}
	if c.CurrentEpoch() != 1 {
		t.Fatalf("epoch=%d want 1", c.CurrentEpoch())
	}
	if c.IsEpochSubmitted() {
		t.Fatalf("submitted flag not cleared on advance")
	}
	if c.CheckEpochAdvance() {
		t.Fatalf("second advance for same epoch")
	}

	// Settlement sequence: submit, reset, flag.
	c.RecordRelay(1000, true, 1)
	c.RecordMixerDeposit(big.NewInt(500))
	c.ResetWorkMetrics()
	c.MarkEpochSubmitted()

	snap := c.Snapshot()
	if snap.TotalWorkScore != 0 {
		t.Fatalf("score=%f after reset", snap.TotalWorkScore)
	}
	if snap.TrafficRelay.BytesRelayed != 0 || snap.MixerOps.DepositsProcessed != 0 {
		t.Fatalf("counters survived reset: %+v", snap)
	}
	if !c.IsEpochSubmitted() {
		t.Fatalf("submitted flag lost")
	}

	info := c.EpochInfo()
	if info.EpochEndTimestamp-info.EpochStartTimestamp != uint64(EpochDuration/time.Second) {
		t.Fatalf("epoch span wrong: %+v", info)
	}
}

func TestValueMixedSplitCounter(t *testing.T) {
	c := NewWorkMetricsCollector(time.Now())

	big1 := new(big.Int).Lsh(big.NewInt(1), 64) // 2^64
	c.RecordMixerDeposit(big1)
	c.RecordMixerSpend(big.NewInt(5))

	snap := c.Snapshot()
	want := new(big.Int).Add(big1, big.NewInt(5))
	if snap.MixerOps.TotalValueMixed != want.String() {
		t.Fatalf("value mixed=%s want %s", snap.MixerOps.TotalValueMixed, want)
	}
}

func TestRegistryAndEntropyRecording(t *testing.T) {
	c := NewWorkMetricsCollector(time.Now())
	c.RecordRegistryRegistration()
	c.RecordRegistryLookup()
	c.RecordRegistrySync()
	c.RecordRegistryFailure()
	c.RecordEntropyContribution(1024, 0.9)
	c.RecordEntropyRequestServed()
	c.RecordMixerPoolParticipation()

	snap := c.Snapshot()
	if snap.RegistryOps.RegistrationsProcessed != 1 || snap.RegistryOps.LookupsServed != 1 ||
		snap.RegistryOps.SyncOperations != 1 || snap.RegistryOps.FailedOperations != 1 {
		t.Fatalf("registry snapshot: %+v", snap.RegistryOps)
	}
	if snap.Entropy.EntropyBytesContributed != 1024 || snap.Entropy.QualityScore != 0.9 {
		t.Fatalf("entropy snapshot: %+v", snap.Entropy)
	}
	if snap.MixerOps.PoolParticipations != 1 {
		t.Fatalf("pool participations: %+v", snap.MixerOps)
	}
}
