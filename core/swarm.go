package core

// Swarm supervisor: owns the libp2p host and gossipsub router, serializes
// all mutations through a bounded command channel and emits events for the
// surrounding program. Per-peer rate limiters and circuit breakers hang off
// the supervisor; connection charges flow into the peer store.

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/protocol/ping"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
)

const (
	// ProtocolVersion is exchanged during the identify handshake.
	ProtocolVersion = "/nonos/1.0.0"
	// AgentVersion identifies this implementation on the overlay.
	AgentVersion = "nonosd/0.1.0"

	TopicHealth  = "nonos/health/v1"
	TopicQuality = "nonos/quality/v1"
	TopicPeers   = "nonos/peers/v1"
	TopicNodes   = "nonos/nodes/v1"

	commandQueueSize       = 256
	eventQueueSize         = 256
	defaultMaxTransmitSize = 1 << 20
	gossipHeartbeat        = 10 * time.Second
	pingInterval           = 30 * time.Second
)

// SwarmConfig tunes the supervisor.
type SwarmConfig struct {
	ListenAddr      string
	BootstrapPeers  []string
	DiscoveryTag    string
	MaxTransmitSize int

	MessagesPerSec uint32
	BytesPerSec    uint64

	DialFailureThreshold uint32
	DialSuccessThreshold uint32
	DialResetTimeout     time.Duration

	BootstrapBackoffBase time.Duration
	BootstrapBackoffMax  time.Duration
	BootstrapMaxAttempts uint32
}

// DefaultSwarmConfig returns the standard tuning.
func DefaultSwarmConfig() SwarmConfig {
	return SwarmConfig{
		ListenAddr:           "/ip4/0.0.0.0/tcp/4001",
		DiscoveryTag:         "nonos-discovery",
		MaxTransmitSize:      defaultMaxTransmitSize,
		MessagesPerSec:       50,
		BytesPerSec:          1 << 20,
		DialFailureThreshold: 3,
		DialSuccessThreshold: 2,
		DialResetTimeout:     5 * time.Second,
		BootstrapBackoffBase: time.Second,
		BootstrapBackoffMax:  time.Minute,
		BootstrapMaxAttempts: 10,
	}
}

// swarmCommandKind discriminates supervisor commands.
type swarmCommandKind uint8

const (
	cmdConnect swarmCommandKind = iota
	cmdDisconnect
	cmdPublish
	cmdSubscribe
	cmdShutdown
)

type swarmCommand struct {
	kind  swarmCommandKind
	addr  string
	peer  peer.ID
	topic string
	data  []byte
	reply chan error
}

// SwarmEventType labels outbound events.
type SwarmEventType uint8

const (
	EventConnectionEstablished SwarmEventType = iota
	EventConnectionLost
	EventMessage
	EventIdentify
	EventPing
)

// SwarmEvent flows out of the supervisor to the surrounding program.
type SwarmEvent struct {
	Type     SwarmEventType
	Peer     peer.ID
	Topic    string
	Data     []byte
	RTT      time.Duration
	Protocol string
	Agent    string
}

// SwarmSupervisor owns the overlay. One supervisor task reads commands; any
// number of callers may enqueue them (senders block when the queue is full).
type SwarmSupervisor struct {
	cfg    SwarmConfig
	host   host.Host
	pubsub *pubsub.PubSub
	pinger *ping.PingService

	topicLock sync.Mutex
	topics    map[string]*pubsub.Topic
	subs      map[string]*pubsub.Subscription

	auxLock  sync.Mutex
	limiters map[peer.ID]*RateLimiter
	breakers map[peer.ID]*CircuitBreaker

	bootstrapBackoff *BackoffStrategy
	peerStore        *PeerStore
	kad              *Kademlia
	collector        *WorkMetricsCollector

	commands chan swarmCommand
	events   chan SwarmEvent

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSwarmSupervisor boots the libp2p host and gossipsub router. Messages on
// the overlay are always signed.
func NewSwarmSupervisor(cfg SwarmConfig, identity p2pcrypto.PrivKey, store *PeerStore, collector *WorkMetricsCollector) (*SwarmSupervisor, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(
		libp2p.ListenAddrStrings(cfg.ListenAddr),
		libp2p.Identity(identity),
		libp2p.UserAgent(AgentVersion),
		libp2p.ProtocolVersion(ProtocolVersion),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create host: %w", err)
	}

	params := pubsub.DefaultGossipSubParams()
	params.HeartbeatInterval = gossipHeartbeat
	ps, err := pubsub.NewGossipSub(ctx, h,
		pubsub.WithMessageSignaturePolicy(pubsub.StrictSign),
		pubsub.WithMaxMessageSize(cfg.MaxTransmitSize),
		pubsub.WithGossipSubParams(params),
	)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("create pubsub: %w", err)
	}

	s := &SwarmSupervisor{
		cfg:       cfg,
		host:      h,
		pubsub:    ps,
		pinger:    ping.NewPingService(h),
		topics:    make(map[string]*pubsub.Topic),
		subs:      make(map[string]*pubsub.Subscription),
		limiters:  make(map[peer.ID]*RateLimiter),
		breakers:  make(map[peer.ID]*CircuitBreaker),
		peerStore: store,
		kad:       NewKademlia(h.ID()),
		collector: collector,
		commands:  make(chan swarmCommand, commandQueueSize),
		events:    make(chan SwarmEvent, eventQueueSize),
		ctx:       ctx,
		cancel:    cancel,
		bootstrapBackoff: NewExponentialBackoff(cfg.BootstrapBackoffBase, cfg.BootstrapBackoffMax).
			WithMaxAttempts(cfg.BootstrapMaxAttempts),
	}

	h.Network().Notify(&swarmNotifee{s: s})

	if cfg.DiscoveryTag != "" {
		svc := mdns.NewMdnsService(h, cfg.DiscoveryTag, &mdnsNotifee{s: s})
		if err := svc.Start(); err != nil {
			logrus.Warnf("mdns start failed: %v", err)
		}
	}

	go s.commandLoop()
	go s.pingLoop()
	return s, nil
}

// ID returns the local overlay identity.
func (s *SwarmSupervisor) ID() peer.ID { return s.host.ID() }

// Events exposes the outbound event stream.
func (s *SwarmSupervisor) Events() <-chan SwarmEvent { return s.events }

// Kademlia exposes the discovery table.
func (s *SwarmSupervisor) Kademlia() *Kademlia { return s.kad }

func (s *SwarmSupervisor) emit(ev SwarmEvent) {
	select {
	case s.events <- ev:
	default:
		logrus.Debug("swarm event dropped: consumer lagging")
	}
}

// send enqueues a command and waits for completion.
func (s *SwarmSupervisor) send(cmd swarmCommand) error {
	cmd.reply = make(chan error, 1)
	select {
	case s.commands <- cmd:
	case <-s.ctx.Done():
		return ErrShuttingDown
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-s.ctx.Done():
		return ErrShuttingDown
	}
}

// Connect dials a multiaddr through the supervisor.
func (s *SwarmSupervisor) Connect(addr string) error {
	return s.send(swarmCommand{kind: cmdConnect, addr: addr})
}

// Disconnect closes all connections to a peer.
func (s *SwarmSupervisor) Disconnect(id peer.ID) error {
	return s.send(swarmCommand{kind: cmdDisconnect, peer: id})
}

// Publish broadcasts data on a gossip topic.
func (s *SwarmSupervisor) Publish(topic string, data []byte) error {
	return s.send(swarmCommand{kind: cmdPublish, topic: topic, data: data})
}

// Subscribe joins a topic; inbound messages surface as EventMessage events.
func (s *SwarmSupervisor) Subscribe(topic string) error {
	return s.send(swarmCommand{kind: cmdSubscribe, topic: topic})
}

// Shutdown stops the supervisor and closes the host.
func (s *SwarmSupervisor) Shutdown() error {
	err := s.send(swarmCommand{kind: cmdShutdown})
	if err == ErrShuttingDown {
		return nil
	}
	return err
}

func (s *SwarmSupervisor) commandLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case cmd := <-s.commands:
			var err error
			switch cmd.kind {
			case cmdConnect:
				err = s.handleConnect(cmd.addr)
			case cmdDisconnect:
				err = s.host.Network().ClosePeer(cmd.peer)
				if err == nil {
					s.peerStore.MarkDisconnected(cmd.peer)
				}
			case cmdPublish:
				err = s.handlePublish(cmd.topic, cmd.data)
			case cmdSubscribe:
				err = s.handleSubscribe(cmd.topic)
			case cmdShutdown:
				s.cancel()
				err = s.host.Close()
			}
			cmd.reply <- err
			if cmd.kind == cmdShutdown {
				return
			}
		}
	}
}

// breaker returns the dial circuit breaker for a peer, creating it lazily.
func (s *SwarmSupervisor) breaker(id peer.ID) *CircuitBreaker {
	s.auxLock.Lock()
	defer s.auxLock.Unlock()
	b, ok := s.breakers[id]
	if !ok {
		b = NewCircuitBreaker(s.cfg.DialFailureThreshold, s.cfg.DialSuccessThreshold, s.cfg.DialResetTimeout)
		s.breakers[id] = b
	}
	return b
}

// limiter returns the inbound rate limiter for a peer, creating it lazily.
func (s *SwarmSupervisor) limiter(id peer.ID) *RateLimiter {
	s.auxLock.Lock()
	defer s.auxLock.Unlock()
	l, ok := s.limiters[id]
	if !ok {
		l = NewRateLimiter(s.cfg.MessagesPerSec, s.cfg.BytesPerSec)
		s.limiters[id] = l
	}
	return l
}

func (s *SwarmSupervisor) handleConnect(addr string) error {
	info, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("invalid address %s: %w", addr, err)
	}
	if s.peerStore.IsBanned(info.ID) {
		return wrapErr(ErrProtocolViolation, "peer %s is banned", info.ID)
	}

	breaker := s.breaker(info.ID)
	if !breaker.ShouldAllow() {
		return wrapErr(ErrNetworkRefused, "circuit open for peer %s", info.ID)
	}

	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	if err := s.host.Connect(ctx, *info); err != nil {
		breaker.RecordFailure()
		s.peerStore.GetOrCreate(info.ID)
		s.peerStore.RecordFailure(info.ID)
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	breaker.RecordSuccess()
	s.peerStore.MarkConnected(info.ID, info.Addrs)
	s.peerStore.RecordSuccess(info.ID)
	s.kad.AddPeer(info.ID)
	return nil
}

func (s *SwarmSupervisor) joinTopic(topic string) (*pubsub.Topic, error) {
	s.topicLock.Lock()
	defer s.topicLock.Unlock()
	t, ok := s.topics[topic]
	if !ok {
		var err error
		t, err = s.pubsub.Join(topic)
		if err != nil {
			return nil, fmt.Errorf("join topic %s: %w", topic, err)
		}
		s.topics[topic] = t
	}
	return t, nil
}

func (s *SwarmSupervisor) handlePublish(topic string, data []byte) error {
	t, err := s.joinTopic(topic)
	if err != nil {
		return err
	}
	if err := t.Publish(s.ctx, data); err != nil {
		return fmt.Errorf("publish topic %s: %w", topic, err)
	}
	if s.collector != nil {
		s.collector.RecordRelay(uint64(len(data)), true, 0)
	}
	return nil
}

func (s *SwarmSupervisor) handleSubscribe(topic string) error {
	s.topicLock.Lock()
	if _, ok := s.subs[topic]; ok {
		s.topicLock.Unlock()
		return nil
	}
	s.topicLock.Unlock()

	t, err := s.joinTopic(topic)
	if err != nil {
		return err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe topic %s: %w", topic, err)
	}
	s.topicLock.Lock()
	s.subs[topic] = sub
	s.topicLock.Unlock()

	go s.readLoop(topic, sub)
	return nil
}

// readLoop drains one subscription. Message handling for a single peer is
// serialized here; rate-limit violations charge the peer's reputation.
func (s *SwarmSupervisor) readLoop(topic string, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				logrus.Warnf("subscription %s closed: %v", topic, err)
			}
			return
		}
		from := msg.GetFrom()
		if from == s.host.ID() {
			continue
		}
		size := uint64(len(msg.Data))

		if reason := s.limiter(from).CheckMessage(size); reason != RateLimitOK {
			s.peerStore.GetOrCreate(from)
			s.peerStore.ApplyPenalty(from, PenaltyExcessiveMessages)
			logrus.Debugf("dropped message from %s: %s", from, reason)
			continue
		}

		s.peerStore.GetOrCreate(from)
		s.peerStore.RecordMessage(from, size, false)
		if s.collector != nil {
			s.collector.RecordRelay(size, true, 0)
		}
		s.emit(SwarmEvent{Type: EventMessage, Peer: from, Topic: topic, Data: msg.Data})
	}
}

// pingLoop measures RTT to connected peers and surfaces identify results.
func (s *SwarmSupervisor) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			for _, id := range s.host.Network().Peers() {
				s.pingPeer(id)
			}
		}
	}
}

func (s *SwarmSupervisor) pingPeer(id peer.ID) {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	select {
	case res := <-s.pinger.Ping(ctx, id):
		if res.Error != nil {
			s.peerStore.RecordFailure(id)
			return
		}
		s.peerStore.SetLatency(id, uint32(res.RTT.Milliseconds()))
		s.emit(SwarmEvent{Type: EventPing, Peer: id, RTT: res.RTT})

		protocol, agent := s.identifyInfo(id)
		if protocol != "" || agent != "" {
			s.peerStore.SetProtocolInfo(id, protocol, agent)
			s.emit(SwarmEvent{Type: EventIdentify, Peer: id, Protocol: protocol, Agent: agent})
		}
	case <-ctx.Done():
		s.peerStore.RecordFailure(id)
	}
}

func (s *SwarmSupervisor) identifyInfo(id peer.ID) (protocol, agent string) {
	if v, err := s.host.Peerstore().Get(id, "ProtocolVersion"); err == nil {
		protocol, _ = v.(string)
	}
	if v, err := s.host.Peerstore().Get(id, "AgentVersion"); err == nil {
		agent, _ = v.(string)
	}
	return protocol, agent
}

// Bootstrap dials the configured seed peers, retrying with the shared
// exponential backoff until every seed connected or attempts ran out.
func (s *SwarmSupervisor) Bootstrap(ctx context.Context) error {
	pending := append([]string(nil), s.cfg.BootstrapPeers...)
	s.bootstrapBackoff.Reset()

	for len(pending) > 0 {
		remaining := pending[:0]
		for _, addr := range pending {
			if err := s.Connect(addr); err != nil {
				logrus.Warnf("bootstrap dial %s: %v", addr, err)
				remaining = append(remaining, addr)
				continue
			}
			if info, err := peer.AddrInfoFromString(addr); err == nil {
				s.peerStore.SetBootstrap(info.ID)
			}
		}
		pending = remaining
		if len(pending) == 0 {
			break
		}

		delay, ok := s.bootstrapBackoff.NextDelay()
		if !ok {
			return wrapErr(ErrNetworkTimeout, "bootstrap attempts exhausted, %d seeds unreachable", len(pending))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil
}

// ConnectedPeerIDs lists currently connected overlay peers.
func (s *SwarmSupervisor) ConnectedPeerIDs() []peer.ID {
	return s.host.Network().Peers()
}

// Addrs returns the host's listen addresses.
func (s *SwarmSupervisor) Addrs() []multiaddr.Multiaddr {
	return s.host.Addrs()
}

// swarmNotifee feeds connection lifecycle into the peer store and events.
type swarmNotifee struct{ s *SwarmSupervisor }

func (n *swarmNotifee) Connected(_ network.Network, conn network.Conn) {
	id := conn.RemotePeer()
	n.s.peerStore.MarkConnected(id, []multiaddr.Multiaddr{conn.RemoteMultiaddr()})
	n.s.kad.AddPeer(id)
	n.s.emit(SwarmEvent{Type: EventConnectionEstablished, Peer: id})
}

func (n *swarmNotifee) Disconnected(_ network.Network, conn network.Conn) {
	id := conn.RemotePeer()
	n.s.peerStore.MarkDisconnected(id)
	n.s.emit(SwarmEvent{Type: EventConnectionLost, Peer: id})
}

func (n *swarmNotifee) Listen(network.Network, multiaddr.Multiaddr)      {}
func (n *swarmNotifee) ListenClose(network.Network, multiaddr.Multiaddr) {}

// mdnsNotifee connects to locally discovered peers, skipping known ones.
type mdnsNotifee struct{ s *SwarmSupervisor }

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.s.host.ID() || n.s.peerStore.IsBanned(info.ID) {
		return
	}
	if err := n.s.host.Connect(n.s.ctx, info); err != nil {
		logrus.Debugf("mdns connect %s failed: %v", info.ID, err)
		return
	}
	n.s.peerStore.MarkConnected(info.ID, info.Addrs)
	n.s.kad.AddPeer(info.ID)
	logrus.Infof("connected to peer %s via mdns", info.ID)
}
