// Package gatewayclient provides the gateway's view of the cluster: a
// pooled set of OSD shard-RPC clients, hedged-read fan-out across a
// stripe's shard placements, and a Redis-backed cache for the
// bucket→storage-class lookups every PUT/GET needs.
package gatewayclient

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cloudomate/objectio/internal/osd/rpc"
)

// Pool lazily creates and caches one rpc.Client per OSD node ID.
type Pool struct {
	mu      sync.RWMutex
	clients map[string]*rpc.Client
	timeout time.Duration
}

func NewPool(timeout time.Duration) *Pool {
	return &Pool{clients: make(map[string]*rpc.Client), timeout: timeout}
}

// Client returns the cached rpc.Client for nodeID, creating it for addr
// on first use. Later calls for the same nodeID reuse that client
// whatever addr they pass.
func (p *Pool) Client(nodeID, addr string) *rpc.Client {
	p.mu.RLock()
	if c, ok := p.clients[nodeID]; ok {
		p.mu.RUnlock()
		return c
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[nodeID]; ok {
		return c
	}
	c := rpc.NewClient("http://"+addr, p.timeout)
	p.clients[nodeID] = c
	return c
}

// Invalidate drops a cached client, so the next Client call for nodeID
// creates a new one for the address it is given.
func (p *Pool) Invalidate(nodeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clients, nodeID)
	slog.Debug("gatewayclient: invalidated pooled client", "node_id", nodeID)
}
