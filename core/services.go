package core

// Node services run under the service supervisor: a health beacon gossiping
// liveness, a quality oracle persisting peer-quality snapshots, a bootstrap
// responder answering peer-list requests, and the content cache loop that
// expires mixed cache entries.

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
)

// ServicesConfig selects which services start and their tuning.
type ServicesConfig struct {
	HealthBeacon      bool          `json:"health_beacon"`
	QualityOracle     bool          `json:"quality_oracle"`
	BootstrapResponder bool         `json:"bootstrap_responder"`
	ContentCache      bool          `json:"content_cache"`
	BeaconInterval    time.Duration `json:"beacon_interval"`
	OracleInterval    time.Duration `json:"oracle_interval"`
	CacheSweepInterval time.Duration `json:"cache_sweep_interval"`
}

// DefaultServicesConfig enables everything with standard cadences.
func DefaultServicesConfig() ServicesConfig {
	return ServicesConfig{
		HealthBeacon:       true,
		QualityOracle:      true,
		BootstrapResponder: true,
		ContentCache:       true,
		BeaconInterval:     30 * time.Second,
		OracleInterval:     5 * time.Minute,
		CacheSweepInterval: time.Minute,
	}
}

// healthBeaconPayload is gossiped on the health topic.
type healthBeaconPayload struct {
	NodeID       string  `json:"node_id"`
	QualityScore float64 `json:"quality_score"`
	WorkScore    float64 `json:"work_score"`
	Connected    int     `json:"connected"`
	Timestamp    int64   `json:"timestamp"`
}

// qualitySnapshot is persisted by the quality oracle.
type qualitySnapshot struct {
	Timestamp       int64   `json:"timestamp"`
	AvgQualityScore float64 `json:"avg_quality_score"`
	ConnectedPeers  uint64  `json:"connected_peers"`
	BannedPeers     uint64  `json:"banned_peers"`
	TotalWorkScore  float64 `json:"total_work_score"`
}

// peerListAnnouncement answers bootstrap requests on the peers topic.
type peerListAnnouncement struct {
	NodeID string   `json:"node_id"`
	Peers  []string `json:"peers"`
}

// StartServices spawns the configured subset under the supervisor.
func StartServices(ctx context.Context, sup *ServiceSupervisor, cfg ServicesConfig, n *Node) {
	if cfg.HealthBeacon {
		sup.Spawn(ctx, "health-beacon", RestartExponentialBackoff, func(ctx context.Context, task *SupervisedTask) error {
			return runHealthBeacon(ctx, task, cfg.BeaconInterval, n)
		})
	}
	if cfg.QualityOracle {
		sup.Spawn(ctx, "quality-oracle", RestartExponentialBackoff, func(ctx context.Context, task *SupervisedTask) error {
			return runQualityOracle(ctx, task, cfg.OracleInterval, n)
		})
	}
	if cfg.BootstrapResponder {
		sup.Spawn(ctx, "bootstrap-responder", RestartOnFailure, func(ctx context.Context, task *SupervisedTask) error {
			return runBootstrapResponder(ctx, task, n)
		})
	}
	if cfg.ContentCache {
		sup.Spawn(ctx, "content-cache", RestartAlways, func(ctx context.Context, task *SupervisedTask) error {
			return runCacheSweeper(ctx, task, cfg.CacheSweepInterval, n)
		})
	}
}

func runHealthBeacon(ctx context.Context, task *SupervisedTask, interval time.Duration, n *Node) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			payload := healthBeaconPayload{
				NodeID:       n.Swarm.ID().String(),
				QualityScore: n.PeerStore.Stats().AvgQualityScore,
				WorkScore:    n.Collector.TotalWorkScore(),
				Connected:    n.PeerStore.ConnectedCount(),
				Timestamp:    time.Now().Unix(),
			}
			raw, err := json.Marshal(payload)
			if err != nil {
				task.RecordSample(false)
				continue
			}
			if err := n.Swarm.Publish(TopicHealth, raw); err != nil {
				logrus.Debugf("health beacon publish: %v", err)
				task.RecordSample(false)
				continue
			}
			task.RecordSample(true)
		}
	}
}

func runQualityOracle(ctx context.Context, task *SupervisedTask, interval time.Duration, n *Node) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stats := n.PeerStore.Stats()
			snap := qualitySnapshot{
				Timestamp:       time.Now().Unix(),
				AvgQualityScore: stats.AvgQualityScore,
				ConnectedPeers:  stats.ConnectedPeers,
				BannedPeers:     stats.BannedPeers,
				TotalWorkScore:  n.Collector.TotalWorkScore(),
			}
			key := []byte(time.Now().UTC().Format(time.RFC3339))
			if err := n.Storage.Put(TreeMetrics, key, &snap); err != nil {
				logrus.Warnf("quality oracle persist: %v", err)
				task.RecordSample(false)
				continue
			}
			raw, _ := json.Marshal(snap)
			_ = n.Swarm.Publish(TopicQuality, raw)
			task.RecordSample(true)
		}
	}
}

func runBootstrapResponder(ctx context.Context, task *SupervisedTask, n *Node) error {
	if err := n.Swarm.Subscribe(TopicPeers); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-n.Swarm.Events():
			if !ok {
				return nil
			}
			if ev.Type != EventMessage || ev.Topic != TopicPeers {
				continue
			}
			trustworthy := n.PeerStore.TrustworthyPeers()
			peers := make([]string, 0, len(trustworthy))
			for _, p := range trustworthy {
				peers = append(peers, p.PeerID)
			}
			raw, err := json.Marshal(peerListAnnouncement{NodeID: n.Swarm.ID().String(), Peers: peers})
			if err != nil {
				task.RecordSample(false)
				continue
			}
			if err := n.Swarm.Publish(TopicPeers, raw); err != nil {
				task.RecordSample(false)
				continue
			}
			n.Collector.RecordRegistryLookup()
			task.RecordSample(true)
		}
	}
}

func runCacheSweeper(ctx context.Context, task *SupervisedTask, interval time.Duration, n *Node) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed := n.CacheMixer.SweepExpired()
			if removed > 0 {
				logrus.Debugf("cache sweeper removed %d expired entries", removed)
			}
			task.RecordSample(true)
		}
	}
}
