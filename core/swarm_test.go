package core

import (
	"context"
	"testing"
	"time"

	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
)

func newTestSwarm(t *testing.T) *SwarmSupervisor {
	t.Helper()
	priv, _, err := p2pcrypto.GenerateEd25519Key(nil)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	cfg := DefaultSwarmConfig()
	cfg.ListenAddr = "/ip4/127.0.0.1/tcp/0"
	cfg.DiscoveryTag = "" // no mdns in tests

	s, err := NewSwarmSupervisor(cfg, priv, NewPeerStoreWithDefaults(), nil)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func TestSwarmPublishSubscribe(t *testing.T) {
	s := newTestSwarm(t)

	if err := s.Subscribe(TopicHealth); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// Subscribing twice is idempotent.
	if err := s.Subscribe(TopicHealth); err != nil {
		t.Fatalf("re-subscribe: %v", err)
	}
	if err := s.Publish(TopicHealth, []byte("beacon")); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestSwarmConnectInvalidAddr(t *testing.T) {
	s := newTestSwarm(t)
	if err := s.Connect("not-a-multiaddr"); err == nil {
		t.Fatalf("invalid address accepted")
	}
}

func TestSwarmPeerExchange(t *testing.T) {
	a := newTestSwarm(t)
	b := newTestSwarm(t)

	addrs := b.Addrs()
	if len(addrs) == 0 {
		t.Fatalf("b has no listen addrs")
	}
	target := addrs[0].String() + "/p2p/" + b.ID().String()
	if err := a.Connect(target); err != nil {
		t.Fatalf("connect: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(a.ConnectedPeerIDs()) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(a.ConnectedPeerIDs()) == 0 {
		t.Fatalf("no connection established")
	}
	if entry, ok := a.peerStore.Get(b.ID()); !ok || entry.State != PeerConnected {
		t.Fatalf("peer store did not observe the connection")
	}
	if a.Kademlia().PeerCount() == 0 {
		t.Fatalf("kademlia table empty after connect")
	}
}

func TestSwarmShutdownRejectsCommands(t *testing.T) {
	s := newTestSwarm(t)
	if err := s.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := s.Publish(TopicHealth, []byte("late")); err != ErrShuttingDown {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
}

func TestSwarmBannedPeerRefused(t *testing.T) {
	a := newTestSwarm(t)
	b := newTestSwarm(t)

	a.peerStore.GetOrCreate(b.ID())
	a.peerStore.Ban(b.ID(), time.Hour, "test")

	target := b.Addrs()[0].String() + "/p2p/" + b.ID().String()
	if err := a.Connect(target); err == nil {
		t.Fatalf("banned peer dialed")
	}
}

func TestSwarmContextHelpers(t *testing.T) {
	s := newTestSwarm(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// No bootstrap peers configured: Bootstrap returns immediately.
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("empty bootstrap: %v", err)
	}
}
