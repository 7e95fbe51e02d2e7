package core

// Local control plane: JSON over HTTP on loopback. Bearer-token auth when
// configured, per-client token-bucket rate limiting, and Prometheus metrics
// on /metrics. Core errors are translated into HTTP status codes with
// redacted messages; a degraded node still answers /api/status.

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nonos_api_requests_total",
		Help: "Control-plane requests by path and status.",
	}, []string{"path", "status"})

	promWorkScore = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "nonos_total_work_score",
		Help: "Current aggregate work score.",
	}, func() float64 {
		if globalAPINode == nil {
			return 0
		}
		return globalAPINode.Collector.TotalWorkScore()
	})

	promConnectedPeers = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "nonos_connected_peers",
		Help: "Currently connected overlay peers.",
	}, func() float64 {
		if globalAPINode == nil {
			return 0
		}
		return float64(globalAPINode.PeerStore.ConnectedCount())
	})
)

// globalAPINode backs the prometheus gauge callbacks.
var globalAPINode *Node

// APIServer is the loopback control plane.
type APIServer struct {
	node   *Node
	server *http.Server

	limiterMu sync.Mutex
	limiters  map[string]*RateLimiter
}

// NewAPIServer wires the router. Bind defaults to 127.0.0.1:8420.
func NewAPIServer(n *Node) *APIServer {
	s := &APIServer{node: n, limiters: make(map[string]*RateLimiter)}
	globalAPINode = n

	r := chi.NewRouter()
	r.Use(s.rateLimitMiddleware)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/status", s.handleStatus)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/peers", s.handlePeers)
		r.Post("/rewards/claim", s.handleClaimRewards)
		r.Post("/staking/stake", s.handleStake)
		r.Post("/privacy/identity/register", s.handleIdentityRegister)
		r.Get("/work/metrics", s.handleWorkMetrics)
		r.Get("/work/epoch", s.handleWorkEpoch)
	})

	bind := n.Config.APIBind
	if bind == "" {
		bind = "127.0.0.1:8420"
	}
	s.server = &http.Server{Addr: bind, Handler: r}
	return s
}

// Start serves until Shutdown.
func (s *APIServer) Start() error {
	logrus.Infof("control plane listening on %s", s.server.Addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close stops the listener.
func (s *APIServer) Close() error { return s.server.Close() }

func (s *APIServer) clientLimiter(remoteAddr string) *RateLimiter {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	l, ok := s.limiters[host]
	if !ok {
		l = NewRateLimiter(20, 1<<20)
		s.limiters[host] = l
	}
	return l
}

func (s *APIServer) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		size := uint64(0)
		if r.ContentLength > 0 {
			size = uint64(r.ContentLength)
		}
		if reason := s.clientLimiter(r.RemoteAddr).CheckMessage(size); reason != RateLimitOK {
			writeError(w, r, http.StatusTooManyRequests, "rate limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *APIServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.node.Config.APIAuthRequired {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token != s.node.Config.APIToken {
				writeError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	apiRequestsTotal.WithLabelValues(r.URL.Path, http.StatusText(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]interface{}{"success": false, "error": msg})
}

// translateError maps core errors onto HTTP statuses with redacted text.
func translateError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrInvalidProof),
		errors.Is(err, ErrAlreadyDeposited), errors.Is(err, ErrPoolFull):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNoteNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, ErrNetworkRateLimited):
		writeError(w, r, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, ErrNetworkTimeout), errors.Is(err, ErrNetworkRefused):
		writeError(w, r, http.StatusBadGateway, "downstream unavailable")
	default:
		logrus.Warnf("control plane error on %s: %v", r.URL.Path, err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	n := s.node
	stats := n.PeerStore.Stats()

	// Pending rewards: settled epochs that have no stored claim yet.
	claimed := make(map[uint64]bool)
	if claims, err := n.Storage.LoadClaims(); err == nil {
		for _, c := range claims {
			claimed[c.Epoch] = true
		}
	}
	pending := 0.0
	if epochs, err := n.Storage.LoadEpochRange(0, n.Collector.CurrentEpoch()); err == nil {
		for _, e := range epochs {
			if e.Submitted && !claimed[e.Epoch] {
				pending += e.TotalWorkScore
			}
		}
	}

	tier := "bronze"
	switch score := n.Collector.TotalWorkScore(); {
	case score >= 75:
		tier = "gold"
	case score >= 40:
		tier = "silver"
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"node_id":            n.Swarm.ID().String(),
		"healthy":            n.Healthy(),
		"last_error":         n.LastError(),
		"uptime_secs":        uint64(n.Uptime().Seconds()),
		"quality_score":      stats.AvgQualityScore,
		"tier":               tier,
		"active_connections": stats.ConnectedPeers,
		"total_requests":     stats.TotalMessages,
		"pending_rewards":    pending,
		"staked_nox":         0.0,
		"streak_days":        uint64(n.Uptime().Hours() / 24),
	})
}

func (s *APIServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	n := s.node
	stats := n.PeerStore.Stats()
	work := n.Collector.Snapshot()
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"quality": map[string]interface{}{
			"avg_peer_quality": stats.AvgQualityScore,
			"total_work_score": work.TotalWorkScore,
		},
		"requests": map[string]interface{}{
			"total_messages": stats.TotalMessages,
			"total_bytes":    stats.TotalBytes,
		},
		"network": map[string]interface{}{
			"connected_peers": stats.ConnectedPeers,
			"banned_peers":    stats.BannedPeers,
			"total_peers":     stats.TotalPeers,
			"total_bans":      n.PeerStore.TotalBans(),
		},
		"rewards": map[string]interface{}{
			"current_epoch": work.Epoch.CurrentEpoch,
			"submitted":     work.Epoch.SubmittedToOracle,
		},
	})
}

func (s *APIServer) handlePeers(w http.ResponseWriter, r *http.Request) {
	peers := s.node.PeerStore.AllPeers()
	out := make([]map[string]interface{}, 0, len(peers))
	for _, p := range peers {
		addr := ""
		if len(p.Addresses) > 0 {
			addr = p.Addresses[0]
		}
		out = append(out, map[string]interface{}{
			"id":           p.PeerID,
			"address":      addr,
			"lat":          0.0,
			"lon":          0.0,
			"country":      "",
			"latency_ms":   p.LatencyMs,
			"connected":    p.State == PeerConnected,
			"is_bootstrap": p.IsBootstrap,
			"quality":      p.QualityScore,
		})
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{"count": len(out), "peers": out})
}

func (s *APIServer) handleClaimRewards(w http.ResponseWriter, r *http.Request) {
	if s.node.Oracle == nil {
		writeError(w, r, http.StatusBadGateway, "ledger not configured")
		return
	}
	epoch := s.node.Collector.CurrentEpoch()
	claim, err := s.node.Oracle.ClaimRewards(r.Context(), epoch)
	if err != nil {
		translateError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"success": true,
		"tx_hash": claim.TxHash,
		"amount":  claim.Amount,
		"epoch":   claim.Epoch,
	})
}

func (s *APIServer) handleStake(w http.ResponseWriter, r *http.Request) {
	if s.node.Oracle == nil {
		writeError(w, r, http.StatusBadGateway, "ledger not configured")
		return
	}
	var req struct {
		Amount float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid body")
		return
	}
	txHash, err := s.node.Oracle.Stake(r.Context(), req.Amount)
	if err != nil {
		translateError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"success": true,
		"tx_hash": txHash,
		"amount":  req.Amount,
	})
}

func (s *APIServer) handleIdentityRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Commitment string `json:"commitment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid body")
		return
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(req.Commitment, "0x"))
	if err != nil || len(raw) != 32 {
		writeError(w, r, http.StatusBadRequest, "commitment must be 32 hex bytes")
		return
	}
	var commitment [32]byte
	copy(commitment[:], raw)

	index, err := s.node.Credentials.RegisterCommitment(commitment)
	if err != nil {
		translateError(w, r, err)
		return
	}
	s.node.Collector.RecordRegistryRegistration()
	writeJSON(w, r, http.StatusOK, map[string]interface{}{"success": true, "index": index})
}

func (s *APIServer) handleWorkMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    s.node.Collector.Snapshot(),
	})
}

func (s *APIServer) handleWorkEpoch(w http.ResponseWriter, r *http.Request) {
	info := s.node.Collector.EpochInfo()
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"success":     true,
		"epoch":       info.CurrentEpoch,
		"epoch_start": info.EpochStartTimestamp,
		"epoch_end":   info.EpochEndTimestamp,
		"submitted":   info.SubmittedToOracle,
	})
}
