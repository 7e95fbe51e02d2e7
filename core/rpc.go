package core

// Ledger interface: JSON-RPC over HTTP, routed through the SOCKS5 egress
// proxy, with endpoint rotation on failure. An endpoint is marked unhealthy
// after three consecutive failures; health checks probe with eth_chainId.
// In production the client refuses to build without the proxy configured.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

const (
	// MaxEndpointFailures marks an endpoint unhealthy.
	MaxEndpointFailures = 3
	// DefaultRPCTimeout bounds a single ledger call.
	DefaultRPCTimeout = 10 * time.Second
	// DefaultSocksProxy is the expected local anonymous-transport address.
	DefaultSocksProxy = "127.0.0.1:9050"
)

// RpcEndpoint tracks the health of one upstream.
type RpcEndpoint struct {
	URL         string
	Healthy     bool
	Failures    uint32
	LastSuccess time.Time
}

// RpcProvider rotates across a list of endpoints.
type RpcProvider struct {
	mu        sync.RWMutex
	endpoints []RpcEndpoint
	current   atomic.Uint32
	chainID   uint64
}

// NewRpcProvider builds a provider over the given endpoint URLs.
func NewRpcProvider(urls []string, chainID uint64) *RpcProvider {
	endpoints := make([]RpcEndpoint, len(urls))
	for i, u := range urls {
		endpoints[i] = RpcEndpoint{URL: u, Healthy: true}
	}
	return &RpcProvider{endpoints: endpoints, chainID: chainID}
}

// ChainID returns the configured chain id.
func (p *RpcProvider) ChainID() uint64 { return p.chainID }

// CurrentURL returns the preferred healthy endpoint, falling back to the
// first endpoint when all are unhealthy.
func (p *RpcProvider) CurrentURL() (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.endpoints) == 0 {
		return "", wrapErr(ErrNetworkRefused, "no rpc endpoints configured")
	}
	start := int(p.current.Load())
	for i := 0; i < len(p.endpoints); i++ {
		idx := (start + i) % len(p.endpoints)
		if p.endpoints[idx].Healthy {
			if i > 0 {
				p.current.Store(uint32(idx))
				logrus.Debugf("switched to rpc endpoint %s", p.endpoints[idx].URL)
			}
			return p.endpoints[idx].URL, nil
		}
	}
	logrus.Warn("all rpc endpoints unhealthy, trying first")
	return p.endpoints[0].URL, nil
}

// ReportSuccess resets the current endpoint's failure streak.
func (p *RpcProvider) ReportSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := int(p.current.Load())
	if idx < len(p.endpoints) {
		p.endpoints[idx].Healthy = true
		p.endpoints[idx].Failures = 0
		p.endpoints[idx].LastSuccess = time.Now()
	}
}

// ReportFailure charges the current endpoint and fails over when it crosses
// the failure threshold.
func (p *RpcProvider) ReportFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := int(p.current.Load())
	if idx >= len(p.endpoints) {
		return
	}
	ep := &p.endpoints[idx]
	ep.Failures++
	logrus.Warnf("rpc endpoint %s failed (%d consecutive)", ep.URL, ep.Failures)
	if ep.Failures >= MaxEndpointFailures {
		ep.Healthy = false
		for i := 1; i < len(p.endpoints); i++ {
			next := (idx + i) % len(p.endpoints)
			if p.endpoints[next].Healthy {
				p.current.Store(uint32(next))
				logrus.Infof("rpc failover to %s", p.endpoints[next].URL)
				break
			}
		}
	}
}

// MarkHealthy restores an endpoint after a passing health check.
func (p *RpcProvider) MarkHealthy(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.endpoints {
		if p.endpoints[i].URL == url {
			p.endpoints[i].Healthy = true
			p.endpoints[i].Failures = 0
		}
	}
}

// HealthyCount returns the number of healthy endpoints.
func (p *RpcProvider) HealthyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, ep := range p.endpoints {
		if ep.Healthy {
			n++
		}
	}
	return n
}

// AllURLs lists every configured endpoint.
func (p *RpcProvider) AllURLs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	urls := make([]string, len(p.endpoints))
	for i, ep := range p.endpoints {
		urls[i] = ep.URL
	}
	return urls
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      uint64        `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// CallObject is the eth_call / eth_estimateGas argument.
type CallObject struct {
	From  string `json:"from,omitempty"`
	To    string `json:"to"`
	Gas   string `json:"gas,omitempty"`
	Value string `json:"value,omitempty"`
	Data  string `json:"data,omitempty"`
}

// LedgerClient issues JSON-RPC calls through the SOCKS5 proxy.
type LedgerClient struct {
	provider *RpcProvider
	client   *http.Client
	nextID   atomic.Uint64
}

// NewLedgerClient builds a client. With production set, an empty proxy
// address is refused; direct connections are a developer-mode fallback only.
func NewLedgerClient(provider *RpcProvider, socksAddr string, production bool) (*LedgerClient, error) {
	transport := &http.Transport{}
	if socksAddr == "" {
		if production {
			return nil, wrapErr(ErrNetworkRefused, "socks proxy required in production")
		}
		logrus.Warn("ledger client using direct connections (developer mode)")
	} else {
		dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
		if err != nil {
			return nil, wrapErr(ErrNetworkRefused, "socks dialer: %v", err)
		}
		ctxDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, wrapErr(ErrNetworkRefused, "socks dialer lacks context support")
		}
		transport.DialContext = ctxDialer.DialContext
	}

	return &LedgerClient{
		provider: provider,
		client:   &http.Client{Transport: transport, Timeout: DefaultRPCTimeout},
	}, nil
}

// call issues one JSON-RPC request with exponential retries; each failure
// charges the current endpoint, and once that endpoint turns unhealthy the
// following retries go to the next healthy one.
func (c *LedgerClient) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return nil, wrapErr(ErrStorageSerialization, "rpc request: %v", err)
	}

	var result json.RawMessage
	operation := func() error {
		url, err := c.provider.CurrentURL()
		if err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			c.provider.ReportFailure()
			return wrapErr(ErrNetworkTimeout, "%s: %v", method, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			c.provider.ReportFailure()
			return wrapErr(ErrNetworkRateLimited, "%s: endpoint throttled", method)
		}
		if resp.StatusCode != http.StatusOK {
			c.provider.ReportFailure()
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			return wrapErr(ErrNetworkRefused, "%s: status %d: %s", method, resp.StatusCode, snippet)
		}

		var decoded rpcResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			c.provider.ReportFailure()
			return wrapErr(ErrNetworkRefused, "%s: decode: %v", method, err)
		}
		if decoded.Error != nil {
			// Upstream executed the call; a node-level error is final.
			c.provider.ReportSuccess()
			return backoff.Permanent(fmt.Errorf("rpc %s: %s (%d)", method, decoded.Error.Message, decoded.Error.Code))
		}
		c.provider.ReportSuccess()
		result = decoded.Result
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *LedgerClient) callString(ctx context.Context, method string, params ...interface{}) (string, error) {
	raw, err := c.call(ctx, method, params...)
	if err != nil {
		return "", err
	}
	var out string
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", wrapErr(ErrNetworkRefused, "%s: unexpected result: %v", method, err)
	}
	return out, nil
}

// ChainID fetches the ledger chain id.
func (c *LedgerClient) ChainID(ctx context.Context) (string, error) {
	return c.callString(ctx, "eth_chainId")
}

// GetBalance fetches an account balance at the latest block.
func (c *LedgerClient) GetBalance(ctx context.Context, addr string) (string, error) {
	return c.callString(ctx, "eth_getBalance", addr, "latest")
}

// GetNonce fetches the pending transaction count for an account.
func (c *LedgerClient) GetNonce(ctx context.Context, addr string) (string, error) {
	return c.callString(ctx, "eth_getTransactionCount", addr, "pending")
}

// GasPrice fetches the current gas price.
func (c *LedgerClient) GasPrice(ctx context.Context) (string, error) {
	return c.callString(ctx, "eth_gasPrice")
}

// EstimateGas estimates gas for a call.
func (c *LedgerClient) EstimateGas(ctx context.Context, call CallObject) (string, error) {
	return c.callString(ctx, "eth_estimateGas", call)
}

// Call executes a read-only contract call at the latest block.
func (c *LedgerClient) Call(ctx context.Context, call CallObject) (string, error) {
	return c.callString(ctx, "eth_call", call, "latest")
}

// SendRawTransaction submits a signed transaction and returns its hash.
func (c *LedgerClient) SendRawTransaction(ctx context.Context, rawTx string) (string, error) {
	return c.callString(ctx, "eth_sendRawTransaction", rawTx)
}

// HealthCheck probes every endpoint with eth_chainId and restores the ones
// that answer.
func (c *LedgerClient) HealthCheck(ctx context.Context) map[string]bool {
	results := make(map[string]bool)
	body, _ := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: "eth_chainId", Params: []interface{}{}, ID: 1})
	for _, url := range c.provider.AllURLs() {
		ok := func() bool {
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			req, err := http.NewRequestWithContext(probeCtx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return false
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := c.client.Do(req)
			if err != nil {
				return false
			}
			defer resp.Body.Close()
			return resp.StatusCode == http.StatusOK
		}()
		results[url] = ok
		if ok {
			c.provider.MarkHealthy(url)
		}
	}
	return results
}
