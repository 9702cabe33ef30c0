package gatewayclient

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	rendezvous "github.com/dgryski/go-rendezvous"

	"github.com/cloudomate/objectio/internal/objerr"
	"github.com/cloudomate/objectio/internal/objmodel"
	"github.com/cloudomate/objectio/internal/placement"
)

// stripeHash combines a candidate node name with the per-stripe seed so
// rendezvous.Rendezvous.Get picks a different highest-scoring node for
// each stripe without needing per-node weights — plain unweighted HRW is
// enough for hedge-order shuffling, unlike primary placement which needs
// placement's weighted variant.
func stripeHash(node string, seed uint64) uint64 {
	h := xxhash.New()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(seed >> (8 * i))
	}
	h.Write(buf[:])
	h.WriteString(node)
	return h.Sum64()
}

// AddressBook resolves a node ID to its current "host:port" shard-RPC
// address, backed by the CCS's topology view.
type AddressBook interface {
	Address(nodeID string) (string, bool)
}

// shardResult is one placement's outcome, used internally by
// HedgedReadShard to pick the first success.
type shardResult struct {
	position int
	data     []byte
	err      error
}

// HedgedReadShard reads one shard of a stripe, starting with the
// position-0 (primary) placement immediately and firing off the
// remaining candidates — in an order fixed per stripe ID by an unweighted
// rendezvous hash, so different stripes don't all pressure the same
// fallback OSD first — after hedgeDelay, returning as soon as any read
// succeeds.
func (p *Pool) HedgedReadShard(ctx context.Context, addrs AddressBook, placements []placement.Placement,
	stripeID objmodel.StripeID, hedgeDelay time.Duration) ([]byte, int, error) {

	if len(placements) == 0 {
		return nil, 0, objerr.New(objerr.BadInput, "gatewayclient.HedgedReadShard", nil)
	}

	order := hedgeOrder(placements, stripeID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan shardResult, len(order))
	var wg sync.WaitGroup

	fire := func(idx int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pl := placements[order[idx]]
			addr, ok := addrs.Address(pl.NodeID)
			if !ok {
				results <- shardResult{position: pl.Position, err: objerr.New(objerr.NotFound, "gatewayclient.HedgedReadShard", nil)}
				return
			}
			client := p.Client(pl.NodeID, addr)
			data, err := client.ReadShard(ctx, stripeID, pl.Position)
			results <- shardResult{position: pl.Position, data: data, err: err}
		}()
	}

	fire(0)
	remaining := len(order) - 1
	fired := 1

	timer := time.NewTimer(hedgeDelay)
	defer timer.Stop()

	var lastErr error
	for remaining >= 0 {
		select {
		case res := <-results:
			if res.err == nil {
				go func() { wg.Wait() }() // drain stragglers without blocking the caller
				return res.data, res.position, nil
			}
			lastErr = res.err
			remaining--
		case <-timer.C:
			if fired < len(order) {
				fire(fired)
				fired++
				timer.Reset(hedgeDelay)
			}
		case <-ctx.Done():
			return nil, 0, objerr.New(objerr.Timeout, "gatewayclient.HedgedReadShard", ctx.Err())
		}
	}
	if lastErr == nil {
		lastErr = objerr.New(objerr.InsufficientShards, "gatewayclient.HedgedReadShard", nil)
	}
	return nil, 0, lastErr
}

// hedgeOrder returns placement indices with position 0 first and the
// rest ordered by an unweighted rendezvous hash keyed on stripeID. The
// order is the same on every call for a given stripe and differs between
// stripes, so fallback load spreads across candidates over many stripes
// rather than always escalating in placement order.
func hedgeOrder(placements []placement.Placement, stripeID objmodel.StripeID) []int {
	order := make([]int, 0, len(placements))
	rest := make([]string, 0, len(placements)-1)
	nodeToIdx := make(map[string]int, len(placements))
	primaryIdx := 0

	for i, pl := range placements {
		if pl.Position == 0 {
			primaryIdx = i
			continue
		}
		rest = append(rest, pl.NodeID)
		nodeToIdx[pl.NodeID] = i
	}
	order = append(order, primaryIdx)

	if len(rest) == 0 {
		return order
	}
	rh := rendezvous.New(rest, stripeHash)
	for len(rest) > 0 {
		winner := rh.Get(stripeKey(stripeID, len(rest)))
		order = append(order, nodeToIdx[winner])
		rest = removeString(rest, winner)
		rh = rendezvous.New(rest, stripeHash)
	}
	return order
}

func stripeKey(stripeID objmodel.StripeID, round int) string {
	buf := make([]byte, 0, 16)
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(stripeID>>(8*i)))
	}
	buf = append(buf, byte(round))
	return string(buf)
}

func removeString(s []string, v string) []string {
	out := make([]string, 0, len(s)-1)
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
