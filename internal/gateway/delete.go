package gateway

import (
	"context"
	"log/slog"

	"github.com/cloudomate/objectio/internal/objerr"
	"github.com/cloudomate/objectio/internal/placement"
)

// DeleteObject implements spec §3's object lifecycle: DeleteObjectMeta on
// the primary OSD first, then best-effort DeleteShard everywhere else —
// the same order PutObject's own cleanup uses, so a crash between the two
// steps leaves shards for the background cleaner/scrub pass to reclaim
// rather than a dangling ObjectMeta with no shards behind it.
func (g *Gateway) DeleteObject(ctx context.Context, bucket, key string) error {
	sc, err := g.storageClassFor(ctx, bucket)
	if err != nil {
		return err
	}
	topo, err := g.ccs.Topology(ctx)
	if err != nil {
		return err
	}
	placement0, err := placement.PlaceStripe(bucket, key, 0, sc, topo)
	if err != nil {
		return err
	}
	primary := placement0[0]
	addr, ok := g.ccs.Address(primary.NodeID)
	if !ok {
		return objerr.New(objerr.NotFound, "gateway.DeleteObject", nil)
	}

	getCtx, cancel := context.WithTimeout(ctx, g.rpcTimeout)
	om, err := g.pool.Client(primary.NodeID, addr).GetObjectMeta(getCtx, bucket, key)
	cancel()
	if err != nil {
		return err
	}

	delCtx, cancel := context.WithTimeout(ctx, g.rpcTimeout)
	err = g.pool.Client(primary.NodeID, addr).DeleteObjectMeta(delCtx, bucket, key)
	cancel()
	if err != nil {
		return err
	}

	for _, sm := range om.Stripes {
		for _, loc := range sm.Shards {
			if loc.Tombstone {
				continue
			}
			shardAddr, ok := g.ccs.Address(loc.NodeID)
			if !ok {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, g.rpcTimeout)
			err := g.pool.Client(loc.NodeID, shardAddr).DeleteShard(sctx, sm.StripeID, loc.Position)
			cancel()
			if err != nil {
				slog.Warn("gateway: best-effort shard delete failed", "bucket", bucket, "key", key,
					"stripe_id", sm.StripeID, "position", loc.Position, "error", err)
			}
		}
	}
	return nil
}
