package core

// Work accounting across the five reward categories. Every counter is a
// single-instruction atomic; recording never suspends. The aggregate score
// weighs normalized category scores and feeds the epoch oracle submission.
//
// Counters are only eventually consistent across cores: during a
// reset-and-submit sequence, readers must consult the submitted flag first.

import (
	"math"
	"math/big"
	"sync/atomic"
	"time"
)

// EpochDuration is the settlement period against the oracle.
const EpochDuration = 7 * 24 * time.Hour

// Category weights; they sum to 1.
const (
	WeightTrafficRelay = 0.30
	WeightZkProofs     = 0.25
	WeightMixerOps     = 0.20
	WeightEntropy      = 0.15
	WeightRegistryOps  = 0.10
)

// Normalization baselines: raw work equal to the baseline scores 100.
const (
	BaselineTrafficBytes = 1_000_000_000
	BaselineZkOps        = 1_000
	BaselineMixerOps     = 100
	BaselineEntropyBytes = 10_000_000
	BaselineRegistryOps  = 500
)

// TrafficRelayMetrics snapshot.
type TrafficRelayMetrics struct {
	BytesRelayed     uint64  `json:"bytes_relayed"`
	RelaySessions    uint64  `json:"relay_sessions"`
	SuccessfulRelays uint64  `json:"successful_relays"`
	FailedRelays     uint64  `json:"failed_relays"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
}

// ZkProofMetrics snapshot.
type ZkProofMetrics struct {
	ProofsGenerated      uint64  `json:"proofs_generated"`
	ProofsVerified       uint64  `json:"proofs_verified"`
	AvgGenerationTimeMs  float64 `json:"avg_generation_time_ms"`
	VerificationFailures uint64  `json:"verification_failures"`
}

// MixerOpsMetrics snapshot. TotalValueMixed is a u128 rendered decimal.
type MixerOpsMetrics struct {
	DepositsProcessed  uint64 `json:"deposits_processed"`
	SpendsProcessed    uint64 `json:"spends_processed"`
	TotalValueMixed    string `json:"total_value_mixed"`
	PoolParticipations uint64 `json:"pool_participations"`
}

// EntropyMetrics snapshot.
type EntropyMetrics struct {
	EntropyBytesContributed uint64  `json:"entropy_bytes_contributed"`
	EntropyRequestsServed   uint64  `json:"entropy_requests_served"`
	QualityScore            float64 `json:"quality_score"`
}

// RegistryOpsMetrics snapshot.
type RegistryOpsMetrics struct {
	RegistrationsProcessed uint64 `json:"registrations_processed"`
	LookupsServed          uint64 `json:"lookups_served"`
	SyncOperations         uint64 `json:"sync_operations"`
	FailedOperations       uint64 `json:"failed_operations"`
}

// EpochInfo snapshot.
type EpochInfo struct {
	CurrentEpoch        uint64 `json:"current_epoch"`
	EpochStartTimestamp uint64 `json:"epoch_start_timestamp"`
	EpochEndTimestamp   uint64 `json:"epoch_end_timestamp"`
	SubmittedToOracle   bool   `json:"submitted_to_oracle"`
}

// WorkMetrics is the full snapshot served on the control plane.
type WorkMetrics struct {
	TrafficRelay   TrafficRelayMetrics `json:"traffic_relay"`
	ZkProofs       ZkProofMetrics      `json:"zk_proofs"`
	MixerOps       MixerOpsMetrics     `json:"mixer_ops"`
	Entropy        EntropyMetrics      `json:"entropy"`
	RegistryOps    RegistryOpsMetrics  `json:"registry_ops"`
	Epoch          EpochInfo           `json:"epoch"`
	TotalWorkScore float64             `json:"total_work_score"`
}

// WorkMetricsCollector is the process-wide lock-free collector.
type WorkMetricsCollector struct {
	bytesRelayed     atomic.Uint64
	relaySessions    atomic.Uint64
	successfulRelays atomic.Uint64
	failedRelays     atomic.Uint64
	relayLatencySum  atomic.Uint64

	proofsGenerated      atomic.Uint64
	proofsVerified       atomic.Uint64
	verificationFailures atomic.Uint64
	generationTimeSum    atomic.Uint64

	depositsProcessed  atomic.Uint64
	spendsProcessed    atomic.Uint64
	valueMixedLo       atomic.Uint64
	valueMixedHi       atomic.Uint64
	poolParticipations atomic.Uint64

	entropyBytes    atomic.Uint64
	entropyRequests atomic.Uint64
	entropyQuality  atomic.Uint64 // float64 bits

	registrations    atomic.Uint64
	lookups          atomic.Uint64
	syncOps          atomic.Uint64
	registryFailures atomic.Uint64

	genesis      int64
	currentEpoch atomic.Uint64
	submitted    atomic.Bool
}

// NewWorkMetricsCollector anchors epochs at the given genesis timestamp.
func NewWorkMetricsCollector(genesis time.Time) *WorkMetricsCollector {
	c := &WorkMetricsCollector{genesis: genesis.Unix()}
	c.entropyQuality.Store(math.Float64bits(1.0))
	c.currentEpoch.Store(c.epochAt(time.Now().Unix()))
	return c
}

//---------------------------------------------------------------------
// Recording
//---------------------------------------------------------------------

// RecordRelay counts one relay session of the given size.
func (c *WorkMetricsCollector) RecordRelay(bytes uint64, success bool, latencyMs uint64) {
	c.bytesRelayed.Add(bytes)
	c.relaySessions.Add(1)
	if success {
		c.successfulRelays.Add(1)
		c.relayLatencySum.Add(latencyMs)
	} else {
		c.failedRelays.Add(1)
	}
}

// RecordZkProofGenerated counts one proof with its generation time.
func (c *WorkMetricsCollector) RecordZkProofGenerated(timeMs uint64) {
	c.proofsGenerated.Add(1)
	c.generationTimeSum.Add(timeMs)
}

// RecordZkProofVerified counts one verification attempt.
func (c *WorkMetricsCollector) RecordZkProofVerified(success bool) {
	c.proofsVerified.Add(1)
	if !success {
		c.verificationFailures.Add(1)
	}
}

// addValueMixed accumulates a u128 value into the split counter.
func (c *WorkMetricsCollector) addValueMixed(value *big.Int) {
	var lo, hi uint64
	if value.Sign() > 0 {
		lo = value.Uint64()
		hi = new(big.Int).Rsh(value, 64).Uint64()
	}
	if newLo := c.valueMixedLo.Add(lo); newLo < lo {
		hi++
	}
	if hi > 0 {
		c.valueMixedHi.Add(hi)
	}
}

// RecordMixerDeposit counts a deposit of the given value.
func (c *WorkMetricsCollector) RecordMixerDeposit(value *big.Int) {
	c.depositsProcessed.Add(1)
	c.addValueMixed(value)
}

// RecordMixerSpend counts a spend of the given value.
func (c *WorkMetricsCollector) RecordMixerSpend(value *big.Int) {
	c.spendsProcessed.Add(1)
	c.addValueMixed(value)
}

// RecordMixerPoolParticipation counts membership in a mixing round.
func (c *WorkMetricsCollector) RecordMixerPoolParticipation() {
	c.poolParticipations.Add(1)
}

// RecordEntropyContribution counts contributed entropy and its quality.
func (c *WorkMetricsCollector) RecordEntropyContribution(bytes uint64, quality float64) {
	c.entropyBytes.Add(bytes)
	c.entropyQuality.Store(math.Float64bits(quality))
}

// RecordEntropyRequestServed counts a served entropy request.
func (c *WorkMetricsCollector) RecordEntropyRequestServed() {
	c.entropyRequests.Add(1)
}

// RecordRegistryRegistration counts a processed registration.
func (c *WorkMetricsCollector) RecordRegistryRegistration() { c.registrations.Add(1) }

// RecordRegistryLookup counts a served lookup.
func (c *WorkMetricsCollector) RecordRegistryLookup() { c.lookups.Add(1) }

// RecordRegistrySync counts a sync operation.
func (c *WorkMetricsCollector) RecordRegistrySync() { c.syncOps.Add(1) }

// RecordRegistryFailure counts a failed registry operation.
func (c *WorkMetricsCollector) RecordRegistryFailure() { c.registryFailures.Add(1) }

//---------------------------------------------------------------------
// Scoring
//---------------------------------------------------------------------

func normalizedScore(raw, baseline uint64) float64 {
	score := float64(raw) / float64(baseline) * 100.0
	if score > 100.0 {
		score = 100.0
	}
	return score
}

// TrafficScore normalizes relayed bytes.
func (c *WorkMetricsCollector) TrafficScore() float64 {
	return normalizedScore(c.bytesRelayed.Load(), BaselineTrafficBytes)
}

// ZkScore normalizes proof operations.
func (c *WorkMetricsCollector) ZkScore() float64 {
	return normalizedScore(c.proofsGenerated.Load()+c.proofsVerified.Load(), BaselineZkOps)
}

// MixerScore normalizes mixer operations.
func (c *WorkMetricsCollector) MixerScore() float64 {
	return normalizedScore(c.depositsProcessed.Load()+c.spendsProcessed.Load(), BaselineMixerOps)
}

// EntropyScore normalizes contributed entropy.
func (c *WorkMetricsCollector) EntropyScore() float64 {
	return normalizedScore(c.entropyBytes.Load(), BaselineEntropyBytes)
}

// RegistryScore normalizes registry operations.
func (c *WorkMetricsCollector) RegistryScore() float64 {
	return normalizedScore(c.registrations.Load()+c.lookups.Load(), BaselineRegistryOps)
}

// TotalWorkScore is the weighted aggregate in [0, 100].
func (c *WorkMetricsCollector) TotalWorkScore() float64 {
	return c.TrafficScore()*WeightTrafficRelay +
		c.ZkScore()*WeightZkProofs +
		c.MixerScore()*WeightMixerOps +
		c.EntropyScore()*WeightEntropy +
		c.RegistryScore()*WeightRegistryOps
}

//---------------------------------------------------------------------
// Epoch state machine
//---------------------------------------------------------------------

func (c *WorkMetricsCollector) epochAt(ts int64) uint64 {
	if ts <= c.genesis {
		return 0
	}
	return uint64(ts-c.genesis) / uint64(EpochDuration/time.Second)
}

// CheckEpochAdvance advances the stored epoch when wall time has crossed a
// boundary, clearing the submitted flag. Returns true on advance.
func (c *WorkMetricsCollector) CheckEpochAdvance() bool {
	actual := c.epochAt(time.Now().Unix())
	stored := c.currentEpoch.Load()
	if actual > stored && c.currentEpoch.CompareAndSwap(stored, actual) {
		c.submitted.Store(false)
		return true
	}
	return false
}

// CurrentEpoch returns the stored epoch number.
func (c *WorkMetricsCollector) CurrentEpoch() uint64 { return c.currentEpoch.Load() }

// MarkEpochSubmitted flags the current epoch as settled with the oracle.
func (c *WorkMetricsCollector) MarkEpochSubmitted() { c.submitted.Store(true) }

// IsEpochSubmitted reads the settlement flag.
func (c *WorkMetricsCollector) IsEpochSubmitted() bool { return c.submitted.Load() }

// EpochInfo snapshots the epoch machine.
func (c *WorkMetricsCollector) EpochInfo() EpochInfo {
	epoch := c.currentEpoch.Load()
	span := uint64(EpochDuration / time.Second)
	start := uint64(c.genesis) + epoch*span
	return EpochInfo{
		CurrentEpoch:        epoch,
		EpochStartTimestamp: start,
		EpochEndTimestamp:   start + span,
		SubmittedToOracle:   c.submitted.Load(),
	}
}

// ResetWorkMetrics zeroes every category counter. Called immediately after
// the oracle submission; the correct sequence is advance, submit, reset,
// then flag.
func (c *WorkMetricsCollector) ResetWorkMetrics() {
	c.bytesRelayed.Store(0)
	c.relaySessions.Store(0)
	c.successfulRelays.Store(0)
	c.failedRelays.Store(0)
	c.relayLatencySum.Store(0)

	c.proofsGenerated.Store(0)
	c.proofsVerified.Store(0)
	c.verificationFailures.Store(0)
	c.generationTimeSum.Store(0)

	c.depositsProcessed.Store(0)
	c.spendsProcessed.Store(0)
	c.valueMixedLo.Store(0)
	c.valueMixedHi.Store(0)
	c.poolParticipations.Store(0)

	c.entropyBytes.Store(0)
	c.entropyRequests.Store(0)

	c.registrations.Store(0)
	c.lookups.Store(0)
	c.syncOps.Store(0)
	c.registryFailures.Store(0)
}

// Snapshot renders the full metrics view.
func (c *WorkMetricsCollector) Snapshot() WorkMetrics {
	successful := c.successfulRelays.Load()
	avgLatency := 0.0
	if successful > 0 {
		avgLatency = float64(c.relayLatencySum.Load()) / float64(successful)
	}
	generated := c.proofsGenerated.Load()
	avgGeneration := 0.0
	if generated > 0 {
		avgGeneration = float64(c.generationTimeSum.Load()) / float64(generated)
	}

	mixed := new(big.Int).SetUint64(c.valueMixedHi.Load())
	mixed.Lsh(mixed, 64)
	mixed.Add(mixed, new(big.Int).SetUint64(c.valueMixedLo.Load()))

	return WorkMetrics{
		TrafficRelay: TrafficRelayMetrics{
			BytesRelayed:     c.bytesRelayed.Load(),
			RelaySessions:    c.relaySessions.Load(),
			SuccessfulRelays: successful,
			FailedRelays:     c.failedRelays.Load(),
			AvgLatencyMs:     avgLatency,
		},
		ZkProofs: ZkProofMetrics{
			ProofsGenerated:      generated,
			ProofsVerified:       c.proofsVerified.Load(),
			AvgGenerationTimeMs:  avgGeneration,
			VerificationFailures: c.verificationFailures.Load(),
		},
		MixerOps: MixerOpsMetrics{
			DepositsProcessed:  c.depositsProcessed.Load(),
			SpendsProcessed:    c.spendsProcessed.Load(),
			TotalValueMixed:    mixed.String(),
			PoolParticipations: c.poolParticipations.Load(),
		},
		Entropy: EntropyMetrics{
			EntropyBytesContributed: c.entropyBytes.Load(),
			EntropyRequestsServed:   c.entropyRequests.Load(),
			QualityScore:            math.Float64frombits(c.entropyQuality.Load()),
		},
		RegistryOps: RegistryOpsMetrics{
			RegistrationsProcessed: c.registrations.Load(),
			LookupsServed:          c.lookups.Load(),
			SyncOperations:         c.syncOps.Load(),
			FailedOperations:       c.registryFailures.Load(),
		},
		Epoch:          c.EpochInfo(),
		TotalWorkScore: c.TotalWorkScore(),
	}
}
