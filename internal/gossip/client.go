// Package gossip is the outbound side of the Heartbeat Manager's network
// callback (spec.md §9 "Cyclic references"): it dials sibling validator-core
// nodes and pushes signed heartbeats, registrations, and bulk validator
// lists over a small JSON-RPC surface, using the same dial/health-check
// shape as the teacher's internal/rpc node manager.
package gossip

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/nucash-mining/WATTx-testnet/internal/logger"
	"github.com/nucash-mining/WATTx-testnet/internal/trust"
	"github.com/nucash-mining/WATTx-testnet/internal/wire"
)

// PeerConfig names one sibling validator-core endpoint to gossip with.
type PeerConfig struct {
	Label string
	Addr  string // JSON-RPC endpoint URL, e.g. ws://host:port or http://host:port
}

// PeerStatus mirrors the teacher's rpc.NodeStatus shape, tracked per peer.
type PeerStatus struct {
	Healthy   bool
	Latency   time.Duration
	LastError error
	LastCheck time.Time
}

// Peer is one dialed (or not-yet-dialed) sibling node.
type Peer struct {
	Config PeerConfig

	mu     sync.RWMutex
	client *gethrpc.Client
	status PeerStatus
}

// GetStatus returns a copy of the peer's last known health.
func (p *Peer) GetStatus() PeerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Client is the Heartbeat Manager's AddNode/broadcast sink: it owns a set of
// dialed peers and exposes the small RPC surface the original's network
// layer used to broadcast heartbeats and registrations.
type Client struct {
	mu          sync.RWMutex
	peers       map[string]*Peer // keyed by address
	checkTicker *time.Ticker
}

// NewClient constructs a gossip client for the configured peer set.
func NewClient(cfg []PeerConfig) *Client {
	peers := make(map[string]*Peer, len(cfg))
	for _, pc := range cfg {
		peers[pc.Addr] = &Peer{Config: pc}
	}
	return &Client{peers: peers}
}

// AddPeer implements the Heartbeat Manager's AddNode callback contract
// (spec.md §9): dial a newly-discovered validator address on demand.
func (c *Client) AddPeer(address string) {
	c.mu.Lock()
	if _, exists := c.peers[address]; exists {
		c.mu.Unlock()
		return
	}
	p := &Peer{Config: PeerConfig{Label: address, Addr: address}}
	c.peers[address] = p
	c.mu.Unlock()

	logger.Info("GOSSIP", "Learned new peer %s, dialing", address)
	c.dial(context.Background(), p)
}

// Start performs an initial connectivity pass and then re-checks every
// peer periodically, mirroring the teacher's rpc.Manager.Start.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	c.checkTicker = time.NewTicker(30 * time.Second)
	c.mu.Unlock()

	c.checkAll(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.mu.Lock()
				if c.checkTicker != nil {
					c.checkTicker.Stop()
				}
				c.mu.Unlock()
				return
			case <-c.checkTicker.C:
				c.checkAll(ctx)
			}
		}
	}()
}

func (c *Client) checkAll(ctx context.Context) {
	c.mu.RLock()
	peers := make([]*Peer, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	c.mu.RUnlock()

	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(peer *Peer) {
			defer wg.Done()
			c.dial(ctx, peer)
		}(p)
	}
	wg.Wait()
}

func (c *Client) dial(ctx context.Context, p *Peer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return
	}

	start := time.Now()
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := gethrpc.DialContext(dialCtx, p.Config.Addr)
	if err != nil {
		logger.Warn("GOSSIP", "dial %s failed: %s", p.Config.Addr, err)
		p.status.Healthy = false
		p.status.LastError = err
		p.status.LastCheck = time.Now()
		return
	}

	p.client = client
	p.status.Healthy = true
	p.status.Latency = time.Since(start)
	p.status.LastError = nil
	p.status.LastCheck = time.Now()
	logger.Info("GOSSIP", "Connected to peer %s", p.Config.Addr)
}

// BroadcastHeartbeat pushes a signed heartbeat to every healthy peer,
// calling the wattx_submitHeartbeat method on each. Best-effort: a failure
// against one peer never blocks the others.
func (c *Client) BroadcastHeartbeat(ctx context.Context, hb wire.Heartbeat) {
	c.call(ctx, "wattx_submitHeartbeat", hb)
}

// BroadcastRegistration pushes a signed registration announcement to every
// healthy peer via wattx_submitRegistration.
func (c *Client) BroadcastRegistration(ctx context.Context, reg wire.ValidatorRegistration) {
	c.call(ctx, "wattx_submitRegistration", reg)
}

// BroadcastValidatorList sends the bulk ValidatorList sync message to every
// healthy peer (SPEC_FULL.md §3).
func (c *Client) BroadcastValidatorList(ctx context.Context, list []trust.Info) {
	c.call(ctx, "wattx_submitValidatorList", list)
}

func (c *Client) call(ctx context.Context, method string, arg interface{}) {
	c.mu.RLock()
	peers := make([]*Peer, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	c.mu.RUnlock()

	for _, p := range peers {
		p.mu.RLock()
		client := p.client
		healthy := p.status.Healthy
		addr := p.Config.Addr
		p.mu.RUnlock()

		if !healthy || client == nil {
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.CallContext(callCtx, nil, method, arg)
		cancel()
		if err != nil {
			logger.Warn("GOSSIP", "%s to %s failed: %s", method, addr, err)
		}
	}
}

// Peers returns every configured peer and its current status, sorted by
// address for stable dashboard/metrics output.
func (c *Client) Peers() []*Peer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Peer, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Config.Addr < out[j].Config.Addr })
	return out
}

// HealthyPeerCount returns the number of peers currently dialed and
// responsive.
func (c *Client) HealthyPeerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, p := range c.peers {
		if p.GetStatus().Healthy {
			n++
		}
	}
	return n
}

// String implements fmt.Stringer for diagnostic logging.
func (p PeerStatus) String() string {
	if p.Healthy {
		return fmt.Sprintf("healthy (%s)", p.Latency)
	}
	return "down"
}
