package core

import (
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

func testPeerID(t *testing.T, seed byte) peer.ID {
	t.Helper()
	// Identity multihash over a fixed payload gives a stable, valid peer ID.
	raw := append([]byte{0x00, 0x04}, seed, seed, seed, seed)
	id, err := peer.IDFromBytes(raw)
	if err != nil {
		t.Fatalf("peer id: %v", err)
	}
	return id
}

func TestAutoBanOnThreshold(t *testing.T) {
	store := NewPeerStore(10, 50)
	id := testPeerID(t, 1)
	store.GetOrCreate(id)

	if _, ok := store.ApplyPenalty(id, PenaltySpam); !ok {
		t.Fatalf("peer missing")
	}
	if store.IsBanned(id) {
		t.Fatalf("banned too early")
	}
	store.ApplyPenalty(id, PenaltySpam)

	entry, _ := store.Get(id)
	if entry.State != PeerBanned {
		t.Fatalf("state=%s want banned", entry.State)
	}
	if !entry.IsBanned() {
		t.Fatalf("IsBanned false")
	}
	remaining, ok := entry.BanRemaining()
	if !ok || remaining > SevereBanDuration || remaining < SevereBanDuration-5*time.Second {
		t.Fatalf("ban remaining=%v want ~%v", remaining, SevereBanDuration)
	}
	if store.TotalBans() != 1 {
		t.Fatalf("total bans=%d want 1", store.TotalBans())
	}
	for _, p := range store.TrustworthyPeers() {
		if p.PeerID == id.String() {
			t.Fatalf("banned peer listed as trustworthy")
		}
	}
}

func TestDefaultBanDurationForMildReasons(t *testing.T) {
	store := NewPeerStore(10, 20)
	id := testPeerID(t, 2)
	store.GetOrCreate(id)
	store.ApplyPenalty(id, PenaltyExcessiveMessages)
	store.ApplyPenalty(id, PenaltyExcessiveMessages)

	entry, _ := store.Get(id)
	remaining, ok := entry.BanRemaining()
	if !ok || remaining > DefaultBanDuration {
		t.Fatalf("ban remaining=%v want <=%v", remaining, DefaultBanDuration)
	}
}

func TestPenaltyBounds(t *testing.T) {
	store := NewPeerStoreWithDefaults()
	id := testPeerID(t, 3)
	store.GetOrCreate(id)

	for i := 0; i < 20; i++ {
		store.ApplyPenalty(id, PenaltySpam)
	}
	entry, _ := store.Get(id)
	if entry.PenaltyScore < 0 || entry.PenaltyScore > MaxPenaltyScore {
		t.Fatalf("penalty=%d out of bounds", entry.PenaltyScore)
	}
	if entry.QualityScore < 0 || entry.QualityScore > 1 {
		t.Fatalf("quality=%f out of bounds", entry.QualityScore)
	}

	for i := 0; i < 500; i++ {
		store.RecordSuccess(id)
	}
	entry, _ = store.Get(id)
	if entry.PenaltyScore < 0 || entry.PenaltyScore > MaxPenaltyScore {
		t.Fatalf("penalty=%d out of bounds after successes", entry.PenaltyScore)
	}
}

func TestSuccessDecaysPenaltyAndResetsFailures(t *testing.T) {
	store := NewPeerStoreWithDefaults()
	id := testPeerID(t, 4)
	store.GetOrCreate(id)

	store.RecordFailure(id)
	store.RecordFailure(id)
	entry, _ := store.Get(id)
	if entry.ConsecutiveFailures != 2 || entry.PenaltyScore != 10 {
		t.Fatalf("after failures: %+v", entry)
	}

	store.RecordSuccess(id)
	entry, _ = store.Get(id)
	if entry.ConsecutiveFailures != 0 {
		t.Fatalf("consecutive failures not reset")
	}
	if entry.PenaltyScore != 9 {
		t.Fatalf("penalty=%d want 9", entry.PenaltyScore)
	}
}

func TestCleanupExpiredKeepsPenalty(t *testing.T) {
	store := NewPeerStoreWithDefaults()
	id := testPeerID(t, 5)
	store.GetOrCreate(id)
	store.Update(id, func(e *PeerEntry) {
		e.PenaltyScore = 60
		e.State = PeerBanned
		e.BanExpiresAt = time.Now().Add(-time.Second).Unix()
	})

	store.CleanupExpired()
	entry, _ := store.Get(id)
	if entry.State != PeerDisconnected {
		t.Fatalf("state=%s want disconnected", entry.State)
	}
	if entry.PenaltyScore != 60 {
		t.Fatalf("penalty reset by cleanup: %d", entry.PenaltyScore)
	}
}

func TestPruneSparesBootstrapPeers(t *testing.T) {
	store := NewPeerStoreWithDefaults()
	old := testPeerID(t, 6)
	boot := testPeerID(t, 7)
	store.GetOrCreate(old)
	store.SetBootstrap(boot)

	past := time.Now().Add(-48 * time.Hour).Unix()
	store.Update(old, func(e *PeerEntry) { e.LastSeen = past })
	store.Update(boot, func(e *PeerEntry) { e.LastSeen = past })

	pruned := store.PruneOldPeers(24 * time.Hour)
	if pruned != 1 {
		t.Fatalf("pruned=%d want 1", pruned)
	}
	if store.Contains(old) {
		t.Fatalf("stale peer survived prune")
	}
	if !store.Contains(boot) {
		t.Fatalf("bootstrap peer pruned")
	}
}

func TestQualityScoreLatencyBuckets(t *testing.T) {
	tests := []struct {
		latency uint32
		factor  float64
	}{
		{25, 1.0}, {75, 0.9}, {200, 0.8}, {400, 0.6}, {800, 0.4}, {2000, 0.2},
	}
	for _, tc := range tests {
		entry := NewPeerEntry(testPeerID(t, 8))
		entry.LatencyMs = tc.latency
		entry.HasLatency = true
		entry.updateQualityScore()
		want := 0.5 + 0.3 + 0.2*tc.factor
		if diff := entry.QualityScore - want; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("latency %d: quality=%f want %f", tc.latency, entry.QualityScore, want)
		}
	}
}

func TestUnbanLeavesProbation(t *testing.T) {
	store := NewPeerStoreWithDefaults()
	id := testPeerID(t, 9)
	store.GetOrCreate(id)
	store.Ban(id, time.Hour, "test")
	store.Unban(id)

	entry, _ := store.Get(id)
	if entry.State != PeerDisconnected || entry.PenaltyScore != MaxPenaltyScore/2 {
		t.Fatalf("after unban: %+v", entry)
	}
}
