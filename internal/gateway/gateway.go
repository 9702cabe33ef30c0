// Package gateway implements the stripe state machine of spec §4.4: it
// owns no persistent state itself, sequencing bucket/placement lookups,
// erasure encode/decode, and parallel shard RPCs against whatever OSDs
// internal/placement names. Everything that touches a disk or the
// network lives one layer down, in internal/osd (server side) and
// internal/gatewayclient (client side); this package is pure
// orchestration, mirroring the teacher's own separation between its
// thin internal/server HTTP layer and the heavier internal/storage and
// internal/metadata engines underneath it.
package gateway

import (
	"context"
	"time"

	"github.com/cloudomate/objectio/internal/codec"
	"github.com/cloudomate/objectio/internal/events"
	"github.com/cloudomate/objectio/internal/gatewayclient"
	"github.com/cloudomate/objectio/internal/objmodel"
)

// CCS is the gateway's view of the cluster configuration service: enough
// to resolve a bucket's storage class, fetch the current topology for
// placement, and dial any node_id placement names. ccsstore.Client
// implements this directly.
type CCS interface {
	Topology(ctx context.Context) (*objmodel.ClusterTopology, error)
	StorageClass(ctx context.Context, name string) (objmodel.StorageClass, error)
	Bucket(ctx context.Context, name string) (objmodel.BucketMeta, error)
	gatewayclient.AddressBook
}

// Options configures a Gateway. Zero-value Options yields usable
// defaults for every field.
type Options struct {
	// HedgeDelay is how long GET waits for a slow shard read before
	// firing the next candidate (spec §4.4.2, §5 "hedged reads").
	HedgeDelay time.Duration
	// RPCTimeout bounds every individual WriteShard/ReadShard/object
	// metadata RPC the gateway issues.
	RPCTimeout time.Duration
	// Backend selects the codec's Reed-Solomon implementation. The zero
	// value is codec.BackendPortable; objio-gateway passes the result of
	// codec.SelectBackend()'s runtime CPU probe.
	Backend codec.Backend
	// MaxShardBytes bounds one shard's payload size, mirroring the OSD's
	// data block size minus header/footer (spec §4.4.1 step 3).
	MaxShardBytes int64
	// HMACKey signs ListObjectsV2 continuation tokens (spec §4.4.3
	// step 2). Required for Gateway.ListObjects to be used; PUT/GET work
	// without it.
	HMACKey []byte
	// Buckets is an optional bucket→storage-class cache (spec §4.4.1
	// step 1: "cached; CCS is authoritative"). Nil disables caching and
	// every lookup goes straight to CCS.
	Buckets *gatewayclient.BucketCache
	// Events receives ShardRepaired/ShardCorrupt/DiskOutOfService
	// notifications from the repair manager. Nil disables publishing.
	Events *events.Publisher
}

const (
	defaultMaxShardBytes = 4<<20 - 96 // ~4 MiB minus header+footer, matching spec §4.4.1 step 3's default
	defaultHedgeDelay    = 50 * time.Millisecond
	defaultRPCTimeout    = 5 * time.Second
)

// Gateway is the stripe engine: stateless, safe for concurrent use by
// many in-flight requests.
type Gateway struct {
	ccs     CCS
	pool    *gatewayclient.Pool
	buckets *gatewayclient.BucketCache
	events  *events.Publisher

	hedgeDelay    time.Duration
	rpcTimeout    time.Duration
	backend       codec.Backend
	maxShardBytes int64
	hmacKey       []byte
}

func New(ccs CCS, opts Options) *Gateway {
	g := &Gateway{
		ccs:           ccs,
		buckets:       opts.Buckets,
		events:        opts.Events,
		hedgeDelay:    opts.HedgeDelay,
		rpcTimeout:    opts.RPCTimeout,
		backend:       opts.Backend,
		maxShardBytes: opts.MaxShardBytes,
		hmacKey:       opts.HMACKey,
	}
	if g.hedgeDelay <= 0 {
		g.hedgeDelay = defaultHedgeDelay
	}
	if g.rpcTimeout <= 0 {
		g.rpcTimeout = defaultRPCTimeout
	}
	if g.maxShardBytes <= 0 {
		g.maxShardBytes = defaultMaxShardBytes
	}
	g.pool = gatewayclient.NewPool(g.rpcTimeout)
	return g
}

// storageClassFor resolves bucket's storage class, through the bucket
// cache when one is configured (spec §4.4.1 step 1).
func (g *Gateway) storageClassFor(ctx context.Context, bucket string) (objmodel.StorageClass, error) {
	if g.buckets != nil {
		return g.buckets.StorageClass(ctx, bucket)
	}
	return g.directStorageClass(ctx, bucket)
}

func (g *Gateway) directStorageClass(ctx context.Context, bucket string) (objmodel.StorageClass, error) {
	bm, err := g.ccs.Bucket(ctx, bucket)
	if err != nil {
		return objmodel.StorageClass{}, err
	}
	return g.ccs.StorageClass(ctx, bm.StorageClassName)
}

// codecFor builds the Codec for sc using the backend fixed at
// construction time (Options.Backend; callers that want the
// CPU-appropriate choice pass codec.SelectBackend() themselves).
func (g *Gateway) codecFor(sc objmodel.StorageClass) (codec.Codec, error) {
	params := codec.Params{
		ECType:    sc.Protection.Type,
		K:         sc.Protection.K,
		M:         sc.Protection.M,
		L:         sc.Protection.L,
		G:         sc.Protection.G,
		GroupSize: sc.Protection.GroupSize,
		N:         sc.Protection.N,
	}
	return codec.New(params, g.backend)
}

// codecParamsFromStripe rebuilds codec.Params from a persisted
// StripeMeta. StripeMeta has no N field (Replication's codec folds n
// into k=1, m=n-1 at encode time via Parameters()), so N is derived back
// out as k+m here — the one case where TotalShards() and Params.Total()
// must agree by construction.
func codecParamsFromStripe(sm objmodel.StripeMeta) codec.Params {
	p := codec.Params{ECType: sm.ECType, K: sm.K, M: sm.M, L: sm.L, G: sm.G, GroupSize: sm.GroupSize}
	if sm.ECType == objmodel.ECTypeReplication {
		p.N = sm.K + sm.M
	}
	return p
}

// quorumFor returns the minimum ack count for a stripe encoded under p,
// independent of any codec-internal K normalization (replication's codec
// rewrites K to 1; the gateway must still reason about the pre-normalized
// protection parameters it read from the storage class).
func quorumFor(p objmodel.Protection) int {
	if p.Type == objmodel.ECTypeReplication {
		return 1
	}
	return p.K
}

// shardKindFor classifies shard position under protection p, matching
// internal/codec/lrc.go's documented layout: LRC is [0,K) data, [K,K+L)
// local parity, [K+L,K+L+G) global parity; MDS is [0,K) data, [K,K+M)
// parity; Replication has no data/parity distinction.
func shardKindFor(p objmodel.Protection, position int) (objmodel.ShardKind, int) {
	switch p.Type {
	case objmodel.ECTypeReplication:
		return objmodel.ShardReplica, 0
	case objmodel.ECTypeLRC:
		switch {
		case position < p.K:
			groupSize := p.GroupSize
			if groupSize == 0 && p.L > 0 {
				groupSize = p.K / p.L
			}
			if groupSize == 0 {
				groupSize = 1
			}
			return objmodel.ShardData, position / groupSize
		case position < p.K+p.L:
			return objmodel.ShardLocalParity, position - p.K
		default:
			return objmodel.ShardGlobalParity, 0
		}
	default:
		if position < p.K {
			return objmodel.ShardData, 0
		}
		return objmodel.ShardGlobalParity, 0
	}
}
