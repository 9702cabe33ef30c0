package gatewayclient

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cloudomate/objectio/internal/objerr"
	"github.com/cloudomate/objectio/internal/objmodel"
)

// BucketLoader resolves a bucket's storage class from the CCS when the
// cache misses, the same role the teacher's notify backends played for
// cluster-wide state the gateway doesn't own.
type BucketLoader func(ctx context.Context, bucket string) (objmodel.StorageClass, error)

// BucketCache fronts bucket-to-storage-class lookups with Redis so every
// PUT/GET on the hot path avoids a CCS round trip. Every gateway node
// shares the same Redis keyspace, so a storage-class change made through
// one gateway is visible to the others as soon as their entries expire.
type BucketCache struct {
	rdb    *redis.Client
	load   BucketLoader
	ttl    time.Duration
	prefix string
}

type BucketCacheOptions struct {
	TTL       time.Duration
	KeyPrefix string // defaults to "objio:bucket:"
}

func NewBucketCache(rdb *redis.Client, load BucketLoader, opts BucketCacheOptions) *BucketCache {
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "objio:bucket:"
	}
	return &BucketCache{rdb: rdb, load: load, ttl: opts.TTL, prefix: opts.KeyPrefix}
}

// StorageClass returns the bucket's storage class, serving from Redis
// when present and falling back to load on a miss or a Redis error —
// a Redis outage degrades this to an uncached CCS lookup per request
// rather than failing PUT/GET outright.
func (c *BucketCache) StorageClass(ctx context.Context, bucket string) (objmodel.StorageClass, error) {
	key := c.prefix + bucket

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var sc objmodel.StorageClass
		if jsonErr := json.Unmarshal(raw, &sc); jsonErr == nil {
			return sc, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		slog.Warn("gatewayclient: bucket cache read failed, falling back to loader", "bucket", bucket, "error", err)
	}

	sc, err := c.load(ctx, bucket)
	if err != nil {
		return objmodel.StorageClass{}, err
	}

	if payload, jsonErr := json.Marshal(sc); jsonErr == nil {
		if setErr := c.rdb.Set(ctx, key, payload, c.ttl).Err(); setErr != nil {
			slog.Warn("gatewayclient: bucket cache write failed", "bucket", bucket, "error", setErr)
		}
	}
	return sc, nil
}

// Invalidate evicts a bucket's cached storage class, so the next lookup
// goes to the loader.
func (c *BucketCache) Invalidate(ctx context.Context, bucket string) error {
	if err := c.rdb.Del(ctx, c.prefix+bucket).Err(); err != nil {
		return objerr.New(objerr.Overloaded, "gatewayclient.BucketCache.Invalidate", err)
	}
	return nil
}
