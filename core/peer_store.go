package core

// Reputation-scored peer table. Penalties accumulate per peer; crossing the
// ban threshold transitions a peer to Banned for a duration keyed to the
// offense. Bans are temporal isolation only — reputation recovers solely
// through observed successes.

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
)

const (
	MaxPenaltyScore     = 100
	MinQualityThreshold = 0.3

	DefaultBanDuration = 300 * time.Second
	SevereBanDuration  = 3600 * time.Second

	DefaultMaxPeers = 100
)

// PeerState is the connection lifecycle state of a peer.
type PeerState uint8

const (
	PeerDisconnected PeerState = iota
	PeerConnecting
	PeerConnected
	PeerReconnecting
	PeerFailed
	PeerBanned
	PeerSidelined
)

func (s PeerState) String() string {
	switch s {
	case PeerDisconnected:
		return "disconnected"
	case PeerConnecting:
		return "connecting"
	case PeerConnected:
		return "connected"
	case PeerReconnecting:
		return "reconnecting"
	case PeerFailed:
		return "failed"
	case PeerBanned:
		return "banned"
	case PeerSidelined:
		return "sidelined"
	default:
		return "unknown"
	}
}

// PenaltyReason names a chargeable offense.
type PenaltyReason uint8

const (
	PenaltyProtocolViolation PenaltyReason = iota
	PenaltyExcessiveMessages
	PenaltyMalformedMessage
	PenaltyUnresponsive
	PenaltyInvalidData
	PenaltySpam
	PenaltyConnectionAbuse
)

func (r PenaltyReason) String() string {
	switch r {
	case PenaltyProtocolViolation:
		return "protocol_violation"
	case PenaltyExcessiveMessages:
		return "excessive_messages"
	case PenaltyMalformedMessage:
		return "malformed_message"
	case PenaltyUnresponsive:
		return "unresponsive"
	case PenaltyInvalidData:
		return "invalid_data"
	case PenaltySpam:
		return "spam"
	case PenaltyConnectionAbuse:
		return "connection_abuse"
	default:
		return "unknown"
	}
}

// Score returns the additive penalty for the reason.
func (r PenaltyReason) Score() int {
	switch r {
	case PenaltyProtocolViolation:
		return 20
	case PenaltyExcessiveMessages:
		return 10
	case PenaltyMalformedMessage:
		return 15
	case PenaltyUnresponsive:
		return 5
	case PenaltyInvalidData:
		return 15
	case PenaltySpam:
		return 25
	case PenaltyConnectionAbuse:
		return 20
	default:
		return 0
	}
}

// severe reports whether the reason earns the severe ban duration.
func (r PenaltyReason) severe() bool {
	return r == PenaltySpam || r == PenaltyProtocolViolation
}

// ViolationCounts tallies offenses by kind.
type ViolationCounts struct {
	ProtocolViolations uint32 `json:"protocol_violations"`
	ExcessiveMessages  uint32 `json:"excessive_messages"`
	MalformedMessages  uint32 `json:"malformed_messages"`
	Unresponsive       uint32 `json:"unresponsive"`
	InvalidData        uint32 `json:"invalid_data"`
	Spam               uint32 `json:"spam"`
	ConnectionAbuse    uint32 `json:"connection_abuse"`
}

func (v *ViolationCounts) record(reason PenaltyReason) {
	switch reason {
	case PenaltyProtocolViolation:
		v.ProtocolViolations++
	case PenaltyExcessiveMessages:
		v.ExcessiveMessages++
	case PenaltyMalformedMessage:
		v.MalformedMessages++
	case PenaltyUnresponsive:
		v.Unresponsive++
	case PenaltyInvalidData:
		v.InvalidData++
	case PenaltySpam:
		v.Spam++
	case PenaltyConnectionAbuse:
		v.ConnectionAbuse++
	}
}

// Total sums all recorded violations.
func (v *ViolationCounts) Total() uint32 {
	return v.ProtocolViolations + v.ExcessiveMessages + v.MalformedMessages +
		v.Unresponsive + v.InvalidData + v.Spam + v.ConnectionAbuse
}

// NodeRole hints at a peer's function in the network.
type NodeRole string

const (
	RoleRelay     NodeRole = "relay"
	RoleBootstrap NodeRole = "bootstrap"
	RoleMixer     NodeRole = "mixer"
	RoleOracle    NodeRole = "oracle"
)

// PeerEntry is the stored record for one peer.
type PeerEntry struct {
	PeerID              string          `json:"peer_id"`
	Addresses           []string        `json:"addresses"`
	State               PeerState       `json:"state"`
	FirstSeen           int64           `json:"first_seen"`
	LastSeen            int64           `json:"last_seen"`
	LastSuccess         int64           `json:"last_success,omitempty"`
	MessagesReceived    uint64          `json:"messages_received"`
	MessagesSent        uint64          `json:"messages_sent"`
	BytesReceived       uint64          `json:"bytes_received"`
	BytesSent           uint64          `json:"bytes_sent"`
	ErrorCount          uint32          `json:"error_count"`
	PenaltyScore        int             `json:"penalty_score"`
	QualityScore        float64         `json:"quality_score"`
	LatencyMs           uint32          `json:"latency_ms,omitempty"`
	HasLatency          bool            `json:"has_latency"`
	ProtocolVersion     string          `json:"protocol_version,omitempty"`
	AgentVersion        string          `json:"agent_version,omitempty"`
	RoleHint            NodeRole        `json:"role_hint,omitempty"`
	IsBootstrap         bool            `json:"is_bootstrap"`
	BanExpiresAt        int64           `json:"ban_expires_at,omitempty"`
	BanReason           string          `json:"ban_reason,omitempty"`
	SidelineExpiresAt   int64           `json:"sideline_expires_at,omitempty"`
	ConnectionCount     uint32          `json:"connection_count"`
	ConsecutiveFailures uint32          `json:"consecutive_failures"`
	Violations          ViolationCounts `json:"violation_counts"`
}

// NewPeerEntry creates a record with a perfect starting reputation.
func NewPeerEntry(id peer.ID) *PeerEntry {
	now := time.Now().Unix()
	return &PeerEntry{
		PeerID:       id.String(),
		State:        PeerDisconnected,
		FirstSeen:    now,
		LastSeen:     now,
		QualityScore: 1.0,
	}
}

// IsBanned reports whether the peer is inside an active ban window.
func (e *PeerEntry) IsBanned() bool {
	return e.State == PeerBanned && e.BanExpiresAt != 0 && time.Now().Unix() < e.BanExpiresAt
}

// IsSidelined reports whether the peer is inside an active sideline window.
func (e *PeerEntry) IsSidelined() bool {
	return e.State == PeerSidelined && e.SidelineExpiresAt != 0 && time.Now().Unix() < e.SidelineExpiresAt
}

// IsTrustworthy applies the gating rule: not banned, penalty below half the
// cap, quality above the floor.
func (e *PeerEntry) IsTrustworthy() bool {
	return !e.IsBanned() && e.PenaltyScore < MaxPenaltyScore/2 && e.QualityScore > MinQualityThreshold
}

// RecordSuccess notes a successful interaction: penalty decays by one and
// the failure streak resets.
func (e *PeerEntry) RecordSuccess() {
	now := time.Now().Unix()
	e.LastSeen = now
	e.LastSuccess = now
	e.ConsecutiveFailures = 0
	if e.PenaltyScore > 0 {
		e.PenaltyScore--
	}
	e.updateQualityScore()
}

// RecordFailure notes a failed interaction.
func (e *PeerEntry) RecordFailure() {
	e.LastSeen = time.Now().Unix()
	e.ConsecutiveFailures++
	e.ErrorCount++
	e.PenaltyScore += 5
	if e.PenaltyScore > MaxPenaltyScore {
		e.PenaltyScore = MaxPenaltyScore
	}
	e.updateQualityScore()
}

// ApplyPenalty charges the peer and returns the new penalty score.
func (e *PeerEntry) ApplyPenalty(reason PenaltyReason) int {
	e.PenaltyScore += reason.Score()
	if e.PenaltyScore > MaxPenaltyScore {
		e.PenaltyScore = MaxPenaltyScore
	}
	e.Violations.record(reason)
	e.updateQualityScore()

	logrus.Debugf("applied penalty %d to peer %s for %s: new score %d",
		reason.Score(), e.PeerID, reason, e.PenaltyScore)
	return e.PenaltyScore
}

// RecordMessage updates traffic counters.
func (e *PeerEntry) RecordMessage(bytes uint64, sent bool) {
	e.LastSeen = time.Now().Unix()
	if sent {
		e.MessagesSent++
		e.BytesSent += bytes
	} else {
		e.MessagesReceived++
		e.BytesReceived += bytes
	}
}

func (e *PeerEntry) updateQualityScore() {
	penaltyFactor := 1.0 - float64(e.PenaltyScore)/float64(MaxPenaltyScore)

	interactions := e.MessagesReceived + e.MessagesSent
	reliability := 1.0
	if interactions > 0 {
		reliability = 1.0 - float64(e.ErrorCount)/(float64(interactions)+float64(e.ErrorCount))
	}

	latencyFactor := 0.5
	if e.HasLatency {
		switch {
		case e.LatencyMs < 50:
			latencyFactor = 1.0
		case e.LatencyMs < 100:
			latencyFactor = 0.9
		case e.LatencyMs < 250:
			latencyFactor = 0.8
		case e.LatencyMs < 500:
			latencyFactor = 0.6
		case e.LatencyMs < 1000:
			latencyFactor = 0.4
		default:
			latencyFactor = 0.2
		}
	}

	score := penaltyFactor*0.5 + reliability*0.3 + latencyFactor*0.2
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	e.QualityScore = score
}

// Ban transitions the peer to Banned for the given duration.
func (e *PeerEntry) Ban(duration time.Duration, reason string) {
	e.State = PeerBanned
	e.BanExpiresAt = time.Now().Add(duration).Unix()
	e.BanReason = reason
	e.SidelineExpiresAt = 0
}

// Unban lifts a ban early, leaving the peer on probation at half the cap.
func (e *PeerEntry) Unban() {
	e.State = PeerDisconnected
	e.BanExpiresAt = 0
	e.BanReason = ""
	e.PenaltyScore = MaxPenaltyScore / 2
}

// Sideline parks the peer without the stigma of a ban.
func (e *PeerEntry) Sideline(duration time.Duration) {
	e.State = PeerSidelined
	e.SidelineExpiresAt = time.Now().Add(duration).Unix()
}

// BanRemaining returns the time left on an active ban.
func (e *PeerEntry) BanRemaining() (time.Duration, bool) {
	if e.BanExpiresAt == 0 {
		return 0, false
	}
	remaining := e.BanExpiresAt - time.Now().Unix()
	if remaining <= 0 {
		return 0, false
	}
	return time.Duration(remaining) * time.Second, true
}

// PeerStoreStats summarizes the table.
type PeerStoreStats struct {
	TotalPeers      uint64  `json:"total_peers"`
	ConnectedPeers  uint64  `json:"connected_peers"`
	BannedPeers     uint64  `json:"banned_peers"`
	SidelinedPeers  uint64  `json:"sidelined_peers"`
	BootstrapPeers  uint64  `json:"bootstrap_peers"`
	AvgQualityScore float64 `json:"avg_quality_score"`
	TotalMessages   uint64  `json:"total_messages"`
	TotalBytes      uint64  `json:"total_bytes"`
}

// PeerStore is the process-wide peer table.
type PeerStore struct {
	mu             sync.RWMutex
	peers          map[peer.ID]*PeerEntry
	maxPeers       uint32
	banThreshold   int
	totalBans      atomic.Uint64
	totalPenalties atomic.Uint64
	createdAt      time.Time
}

// NewPeerStore builds a table with the given limits.
func NewPeerStore(maxPeers uint32, banThreshold int) *PeerStore {
	return &PeerStore{
		peers:        make(map[peer.ID]*PeerEntry),
		maxPeers:     maxPeers,
		banThreshold: banThreshold,
		createdAt:    time.Now(),
	}
}

// NewPeerStoreWithDefaults applies the standard limits.
func NewPeerStoreWithDefaults() *PeerStore {
	return NewPeerStore(DefaultMaxPeers, MaxPenaltyScore)
}

// GetOrCreate returns a copy of the peer entry, creating it if absent.
func (s *PeerStore) GetOrCreate(id peer.ID) PeerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.peers[id]
	if !ok {
		entry = NewPeerEntry(id)
		s.peers[id] = entry
	}
	return *entry
}

// Get returns a copy of the entry if present.
func (s *PeerStore) Get(id peer.ID) (PeerEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if entry, ok := s.peers[id]; ok {
		return *entry, true
	}
	return PeerEntry{}, false
}

// Update applies f to the stored entry under the write lock.
func (s *PeerStore) Update(id peer.ID, f func(*PeerEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.peers[id]; ok {
		f(entry)
	}
}

// Upsert replaces the stored entry.
func (s *PeerStore) Upsert(id peer.ID, entry PeerEntry) {
	s.mu.Lock()
	s.peers[id] = &entry
	s.mu.Unlock()
}

// Remove deletes a peer from the table.
func (s *PeerStore) Remove(id peer.ID) {
	s.mu.Lock()
	delete(s.peers, id)
	s.mu.Unlock()
}

// Contains reports table membership.
func (s *PeerStore) Contains(id peer.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.peers[id]
	return ok
}

// IsBanned reports whether a peer is actively banned.
func (s *PeerStore) IsBanned(id peer.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if entry, ok := s.peers[id]; ok {
		return entry.IsBanned()
	}
	return false
}

// Ban forcibly bans a known peer.
func (s *PeerStore) Ban(id peer.ID, duration time.Duration, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.peers[id]; ok {
		entry.Ban(duration, reason)
		s.totalBans.Add(1)
		logrus.Warnf("banned peer %s for %s: %s", id, duration, reason)
	}
}

// Unban lifts a ban early.
func (s *PeerStore) Unban(id peer.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.peers[id]; ok {
		entry.Unban()
		logrus.Infof("unbanned peer %s", id)
	}
}

// ApplyPenalty charges a peer; crossing the ban threshold auto-bans with a
// duration keyed to the offense. Returns the new score when the peer exists.
func (s *PeerStore) ApplyPenalty(id peer.ID, reason PenaltyReason) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.peers[id]
	if !ok {
		return 0, false
	}

	newScore := entry.ApplyPenalty(reason)
	s.totalPenalties.Add(1)

	if newScore >= s.banThreshold && !entry.IsBanned() {
		duration := DefaultBanDuration
		if reason.severe() {
			duration = SevereBanDuration
		}
		entry.Ban(duration, fmt.Sprintf("penalty threshold exceeded: %s", reason))
		s.totalBans.Add(1)
		logrus.Warnf("auto-banned peer %s: score=%d", id, newScore)
	}
	return newScore, true
}

// RecordSuccess notes a successful interaction.
func (s *PeerStore) RecordSuccess(id peer.ID) {
	s.Update(id, func(e *PeerEntry) { e.RecordSuccess() })
}

// RecordFailure notes a failed interaction.
func (s *PeerStore) RecordFailure(id peer.ID) {
	s.Update(id, func(e *PeerEntry) { e.RecordFailure() })
}

// RecordMessage updates traffic counters.
func (s *PeerStore) RecordMessage(id peer.ID, bytes uint64, sent bool) {
	s.Update(id, func(e *PeerEntry) { e.RecordMessage(bytes, sent) })
}

// MarkConnected transitions a peer to Connected, creating it on first sight.
func (s *PeerStore) MarkConnected(id peer.ID, addrs []multiaddr.Multiaddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.peers[id]
	if !ok {
		entry = NewPeerEntry(id)
		s.peers[id] = entry
	}
	entry.State = PeerConnected
	entry.LastSeen = time.Now().Unix()
	entry.ConnectionCount++
	entry.Addresses = entry.Addresses[:0]
	for _, a := range addrs {
		entry.Addresses = append(entry.Addresses, a.String())
	}
}

// MarkDisconnected transitions a connected peer back to Disconnected.
func (s *PeerStore) MarkDisconnected(id peer.ID) {
	s.Update(id, func(e *PeerEntry) {
		if e.State == PeerConnected {
			e.State = PeerDisconnected
		}
	})
}

// SetLatency stores a ping RTT and counts it as a success.
func (s *PeerStore) SetLatency(id peer.ID, latencyMs uint32) {
	s.Update(id, func(e *PeerEntry) {
		e.LatencyMs = latencyMs
		e.HasLatency = true
		e.RecordSuccess()
	})
}

// SetProtocolInfo stores identify handshake results.
func (s *PeerStore) SetProtocolInfo(id peer.ID, protocol, agent string) {
	s.Update(id, func(e *PeerEntry) {
		e.ProtocolVersion = protocol
		e.AgentVersion = agent
	})
}

// SetBootstrap marks a peer as a bootstrap node; such peers survive pruning.
func (s *PeerStore) SetBootstrap(id peer.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.peers[id]
	if !ok {
		entry = NewPeerEntry(id)
		s.peers[id] = entry
	}
	entry.IsBootstrap = true
	entry.RoleHint = RoleBootstrap
}

func (s *PeerStore) filtered(keep func(*PeerEntry) bool) []PeerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PeerEntry, 0, len(s.peers))
	for _, entry := range s.peers {
		if keep(entry) {
			out = append(out, *entry)
		}
	}
	return out
}

// ConnectedPeers lists peers in the Connected state.
func (s *PeerStore) ConnectedPeers() []PeerEntry {
	return s.filtered(func(e *PeerEntry) bool { return e.State == PeerConnected })
}

// BannedPeers lists actively banned peers.
func (s *PeerStore) BannedPeers() []PeerEntry {
	return s.filtered(func(e *PeerEntry) bool { return e.IsBanned() })
}

// AllPeers lists every stored peer.
func (s *PeerStore) AllPeers() []PeerEntry {
	return s.filtered(func(*PeerEntry) bool { return true })
}

// TrustworthyPeers lists connected peers passing the trust gate.
func (s *PeerStore) TrustworthyPeers() []PeerEntry {
	return s.filtered(func(e *PeerEntry) bool {
		return e.IsTrustworthy() && e.State == PeerConnected
	})
}

// PeersByRole lists peers carrying a role hint.
func (s *PeerStore) PeersByRole(role NodeRole) []PeerEntry {
	return s.filtered(func(e *PeerEntry) bool { return e.RoleHint == role })
}

// PeerCount returns the table size.
func (s *PeerStore) PeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// ConnectedCount counts peers in the Connected state.
func (s *PeerStore) ConnectedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.peers {
		if e.State == PeerConnected {
			n++
		}
	}
	return n
}

// HasCapacity reports whether another connection fits under the limit.
func (s *PeerStore) HasCapacity() bool {
	return s.ConnectedCount() < int(s.maxPeers)
}

// CleanupExpired moves peers whose ban or sideline has elapsed back to
// Disconnected. Penalty scores are deliberately untouched.
func (s *PeerStore) CleanupExpired() {
	now := time.Now().Unix()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.peers {
		if entry.State == PeerBanned && entry.BanExpiresAt != 0 && now >= entry.BanExpiresAt {
			entry.State = PeerDisconnected
			entry.BanExpiresAt = 0
			entry.BanReason = ""
			logrus.Debugf("ban expired for peer %s", entry.PeerID)
		}
		if entry.State == PeerSidelined && entry.SidelineExpiresAt != 0 && now >= entry.SidelineExpiresAt {
			entry.State = PeerDisconnected
			entry.SidelineExpiresAt = 0
			logrus.Debugf("sideline expired for peer %s", entry.PeerID)
		}
	}
}

// PruneOldPeers drops disconnected non-bootstrap peers unseen for maxAge.
func (s *PeerStore) PruneOldPeers(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge).Unix()
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for id, entry := range s.peers {
		if entry.State == PeerDisconnected && entry.LastSeen < cutoff && !entry.IsBootstrap {
			delete(s.peers, id)
			pruned++
		}
	}
	return pruned
}

// Stats snapshots the table.
func (s *PeerStore) Stats() PeerStoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := PeerStoreStats{TotalPeers: uint64(len(s.peers)), AvgQualityScore: 1.0}
	var qualitySum float64
	for _, e := range s.peers {
		if e.State == PeerConnected {
			stats.ConnectedPeers++
		}
		if e.IsBanned() {
			stats.BannedPeers++
		}
		if e.IsSidelined() {
			stats.SidelinedPeers++
		}
		if e.IsBootstrap {
			stats.BootstrapPeers++
		}
		qualitySum += e.QualityScore
		stats.TotalMessages += e.MessagesReceived + e.MessagesSent
		stats.TotalBytes += e.BytesReceived + e.BytesSent
	}
	if stats.TotalPeers > 0 {
		stats.AvgQualityScore = qualitySum / float64(stats.TotalPeers)
	}
	return stats
}

// TotalBans returns the lifetime ban counter.
func (s *PeerStore) TotalBans() uint64 { return s.totalBans.Load() }

// TotalPenalties returns the lifetime penalty counter.
func (s *PeerStore) TotalPenalties() uint64 { return s.totalPenalties.Load() }

// Uptime returns the store age.
func (s *PeerStore) Uptime() time.Duration { return time.Since(s.createdAt) }
