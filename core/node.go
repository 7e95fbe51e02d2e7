package core

// Node assembly: wires the mixer, credential system, peer store, work
// collector, swarm supervisor, storage and ledger client into one daemon
// and owns the persisted identity material.

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/sirupsen/logrus"
)

// NodeConfig collects the daemon settings.
type NodeConfig struct {
	DataDir        string
	ListenAddr     string
	BootstrapPeers []string
	DiscoveryTag   string

	APIBind         string
	APIAuthRequired bool
	APIToken        string

	SocksProxy     string
	RPCEndpoints   []string
	ChainID        uint64
	OracleContract string

	Production bool
	Genesis    time.Time

	Services ServicesConfig
}

// DefaultNodeConfig returns a developer-friendly configuration.
func DefaultNodeConfig(dataDir string) NodeConfig {
	return NodeConfig{
		DataDir:      dataDir,
		ListenAddr:   "/ip4/0.0.0.0/tcp/4001",
		DiscoveryTag: "nonos-discovery",
		APIBind:      "127.0.0.1:8420",
		SocksProxy:   DefaultSocksProxy,
		ChainID:      1,
		Genesis:      time.Unix(1735689600, 0), // network genesis, 2025-01-01T00:00:00Z
		Services:     DefaultServicesConfig(),
	}
}

// Node is the assembled daemon.
type Node struct {
	Config NodeConfig

	Swarm       *SwarmSupervisor
	PeerStore   *PeerStore
	Mixer       *NoteMixer
	Credentials *ZkCredentialSystem
	Collector   *WorkMetricsCollector
	Supervisor  *ServiceSupervisor
	Storage     *NodeStorage
	Ledger      *LedgerClient
	Oracle      *WorkOracle
	CacheMixer  *CacheMixingStore
	Blocker     *TrackingBlocker
	Sessions    *StealthSessionManager
	Normalizer  *FingerprintNormalizer

	identity ed25519.PrivateKey
	started  time.Time

	errMu     sync.RWMutex
	lastError string

	cancel context.CancelFunc
}

// loadOrCreateP2PIdentity keeps the overlay keypair at
// $DATA_DIR/p2p_identity.key.
func loadOrCreateP2PIdentity(dataDir string) (p2pcrypto.PrivKey, error) {
	path := filepath.Join(dataDir, "p2p_identity.key")
	if raw, err := os.ReadFile(path); err == nil {
		priv, err := p2pcrypto.UnmarshalPrivateKey(raw)
		if err != nil {
			return nil, wrapErr(ErrInvalidKey, "p2p identity: %v", err)
		}
		return priv, nil
	}

	priv, _, err := p2pcrypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, wrapErr(ErrInvalidKey, "p2p keygen: %v", err)
	}
	raw, err := p2pcrypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, wrapErr(ErrInvalidKey, "p2p identity marshal: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, wrapErr(ErrStorageIO, "write p2p identity: %v", err)
	}
	return priv, nil
}

// loadOrCreateNodeIdentity keeps the encrypted long-term signing key at
// $DATA_DIR/identity (mode 0600).
func loadOrCreateNodeIdentity(dataDir string, masterKey *[32]byte) (ed25519.PrivateKey, error) {
	path := filepath.Join(dataDir, "identity")
	if raw, err := os.ReadFile(path); err == nil {
		envelope, err := UnmarshalEncryptedData(raw)
		if err != nil {
			return nil, err
		}
		seed, err := envelope.Decrypt(masterKey)
		if err != nil {
			return nil, err
		}
		defer Zeroize(seed)
		if len(seed) != ed25519.SeedSize {
			return nil, wrapErr(ErrInvalidKey, "identity seed length %d", len(seed))
		}
		return ed25519.NewKeyFromSeed(seed), nil
	}

	_, priv, err := GenerateEd25519()
	if err != nil {
		return nil, err
	}
	seed := priv.Seed()
	envelope, err := NewEncryptedData(masterKey, seed)
	Zeroize(seed)
	if err != nil {
		return nil, err
	}
	raw, err := envelope.Marshal()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, wrapErr(ErrStorageIO, "write identity: %v", err)
	}
	return priv, nil
}

// NewNode assembles the daemon from its configuration and master key.
func NewNode(cfg NodeConfig, masterKey *[32]byte) (*Node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, wrapErr(ErrStorageIO, "data dir: %v", err)
	}

	storage, err := OpenNodeStorage(cfg.DataDir, masterKey)
	if err != nil {
		return nil, err
	}

	identity, err := loadOrCreateNodeIdentity(cfg.DataDir, masterKey)
	if err != nil {
		storage.Close()
		return nil, err
	}
	p2pIdentity, err := loadOrCreateP2PIdentity(cfg.DataDir)
	if err != nil {
		storage.Close()
		return nil, err
	}

	collector := NewWorkMetricsCollector(cfg.Genesis)
	peerStore := NewPeerStoreWithDefaults()

	swarmCfg := DefaultSwarmConfig()
	swarmCfg.ListenAddr = cfg.ListenAddr
	swarmCfg.BootstrapPeers = cfg.BootstrapPeers
	swarmCfg.DiscoveryTag = cfg.DiscoveryTag
	swarm, err := NewSwarmSupervisor(swarmCfg, p2pIdentity, peerStore, collector)
	if err != nil {
		storage.Close()
		return nil, err
	}

	mixer := NewNoteMixer()
	mixer.SetProductionMode(cfg.Production)
	mixer.SetCollector(collector)

	issuerSecret := DeriveChildKey(masterKey, []uint32{0x6964656e, 0x74697479})
	credentials := NewZkCredentialSystem(issuerSecret)
	credentials.SetCollector(collector)
	Zeroize(issuerSecret[:])

	n := &Node{
		Config:      cfg,
		Swarm:       swarm,
		PeerStore:   peerStore,
		Mixer:       mixer,
		Credentials: credentials,
		Collector:   collector,
		Supervisor:  NewServiceSupervisor(),
		Storage:     storage,
		CacheMixer:  NewCacheMixingStore(10_000),
		Blocker:     NewTrackingBlocker(),
		Sessions:    NewStealthSessionManager(),
		Normalizer:  NewFingerprintNormalizer(),
		identity:    identity,
		started:     time.Now(),
	}

	if len(cfg.RPCEndpoints) > 0 {
		provider := NewRpcProvider(cfg.RPCEndpoints, cfg.ChainID)
		ledger, err := NewLedgerClient(provider, cfg.SocksProxy, cfg.Production)
		if err != nil {
			swarm.Shutdown()
			storage.Close()
			return nil, err
		}
		n.Ledger = ledger

		signerSeed := DeriveChildKey(masterKey, []uint32{0x6c656467, 0x65727369})
		signer := SecpKeyFromBytes(signerSeed)
		Zeroize(signerSeed[:])
		n.Oracle = NewWorkOracle(ledger, collector, storage, signer, cfg.OracleContract)
	}

	return n, nil
}

// Start bootstraps the overlay, subscribes the standard topics and spawns
// the configured services plus the maintenance loop.
func (n *Node) Start(ctx context.Context) error {
	ctx, n.cancel = context.WithCancel(ctx)

	for _, topic := range []string{TopicHealth, TopicQuality, TopicNodes} {
		if err := n.Swarm.Subscribe(topic); err != nil {
			return err
		}
	}

	if len(n.Config.BootstrapPeers) > 0 {
		if err := n.Swarm.Bootstrap(ctx); err != nil {
			n.setLastError(err)
			logrus.Warnf("bootstrap incomplete: %v", err)
		}
	}

	StartServices(ctx, n.Supervisor, n.Config.Services, n)
	n.Supervisor.Spawn(ctx, "maintenance", RestartAlways, func(ctx context.Context, task *SupervisedTask) error {
		return n.maintenanceLoop(ctx, task)
	})
	return nil
}

// maintenanceLoop runs periodic housekeeping: ban expiry, peer pruning and
// epoch settlement.
func (n *Node) maintenanceLoop(ctx context.Context, task *SupervisedTask) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.PeerStore.CleanupExpired()
			n.PeerStore.PruneOldPeers(24 * time.Hour)
			n.Sessions.SweepExpired()

			if n.Collector.CheckEpochAdvance() {
				logrus.Infof("epoch advanced to %d", n.Collector.CurrentEpoch())
			}
			if n.Oracle != nil && !n.Collector.IsEpochSubmitted() {
				if err := n.Oracle.SettleEpoch(ctx); err != nil {
					n.setLastError(err)
					logrus.Warnf("epoch settlement: %v", err)
					task.RecordSample(false)
					continue
				}
			}
			task.RecordSample(true)
		}
	}
}

// Stop tears the node down: services first, then the swarm, then storage.
func (n *Node) Stop() error {
	if n.cancel != nil {
		n.cancel()
	}
	err := n.Swarm.Shutdown()
	n.Supervisor.Wait()
	if ferr := n.Storage.Flush(); ferr != nil && err == nil {
		err = ferr
	}
	if cerr := n.Storage.Close(); cerr != nil && err == nil {
		err = cerr
	}
	Zeroize(n.identity)
	logrus.Info("node stopped")
	return err
}

// Identity returns the node's long-term public key.
func (n *Node) Identity() ed25519.PublicKey {
	return n.identity.Public().(ed25519.PublicKey)
}

// SignAsNode signs msg with the long-term identity key.
func (n *Node) SignAsNode(msg []byte) []byte { return SignEd25519(n.identity, msg) }

// Uptime reports how long the node has been running.
func (n *Node) Uptime() time.Duration { return time.Since(n.started) }

func (n *Node) setLastError(err error) {
	n.errMu.Lock()
	n.lastError = err.Error()
	n.errMu.Unlock()
}

// LastError returns the most recent unrecoverable-path error, if any.
func (n *Node) LastError() string {
	n.errMu.RLock()
	defer n.errMu.RUnlock()
	return n.lastError
}

// Healthy reports whether the node is healthy: no last error recorded and no
// supervised task classified Critical. A degraded node keeps serving its
// status endpoint.
func (n *Node) Healthy() bool {
	return n.LastError() == "" && !n.Supervisor.AnyCritical()
}

// StatusString renders a short operator summary.
func (n *Node) StatusString() string {
	return fmt.Sprintf("id=%s peers=%d uptime=%s score=%.1f",
		n.Swarm.ID(), n.PeerStore.ConnectedCount(), n.Uptime().Round(time.Second), n.Collector.TotalWorkScore())
}
