package gateway

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"hash/crc32"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/cloudomate/objectio/internal/objerr"
	"github.com/cloudomate/objectio/internal/objmodel"
	"github.com/cloudomate/objectio/internal/placement"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// shardRef names one written shard for best-effort cleanup on PUT
// failure.
type shardRef struct {
	nodeID   string
	stripeID objmodel.StripeID
	position int
}

// PutObject implements spec §4.4.1: it streams body in
// max_stripe_bytes-sized stripes, encoding and dispatching each to its
// placement in parallel, and commits the assembled ObjectMeta to the
// primary OSD of stripe 0. The caller must not have already read body;
// PutObject reads it to EOF (or to the first I/O error).
func (g *Gateway) PutObject(ctx context.Context, bucket, key string, body io.Reader, contentType string, userMeta map[string]string) (objmodel.ObjectMeta, error) {
	sc, err := g.storageClassFor(ctx, bucket)
	if err != nil {
		return objmodel.ObjectMeta{}, err
	}

	topo, err := g.ccs.Topology(ctx)
	if err != nil {
		return objmodel.ObjectMeta{}, err
	}

	placement0, err := placement.PlaceStripe(bucket, key, 0, sc, topo)
	if err != nil {
		return objmodel.ObjectMeta{}, err
	}
	primary := placement0[0]

	enc, err := g.codecFor(sc)
	if err != nil {
		return objmodel.ObjectMeta{}, err
	}
	// params carries the codec's normalized K/M/L/G (e.g. Replication
	// rewrites K=1, M=n-1) — StripeMeta stores these, not the storage
	// class's raw Protection fields, so TotalShards()/Quorum() stay
	// correct for every ECType without special-casing Replication again.
	params := enc.Parameters()

	dataShards := dataShardCount(sc.Protection)
	maxStripeBytes := int64(dataShards) * g.maxShardBytes

	var (
		stripes       []objmodel.StripeMeta
		stripeDigests [][md5.Size]byte
		totalSize     int64
		written       []shardRef
	)
	defer func() {
		// written is only non-empty here if we're returning on an error
		// path that didn't already clear it; cleanupShards is a no-op on
		// the success path since it's cleared just before returning nil.
		if len(written) > 0 {
			g.cleanupShards(written)
		}
	}()

	objectID := objmodel.NewObjectID()

	for stripeID := objmodel.StripeID(0); ; stripeID++ {
		buf := make([]byte, maxStripeBytes)
		n, readErr := io.ReadFull(body, buf)
		eof := readErr == io.EOF || readErr == io.ErrUnexpectedEOF
		if readErr != nil && !eof {
			return objmodel.ObjectMeta{}, objerr.New(objerr.BadInput, "gateway.PutObject", readErr)
		}
		if n == 0 {
			// An empty object ends here with no stripes and no shards; its
			// ObjectMeta is still committed below.
			break
		}
		data := buf[:n]

		placements := placement0
		if stripeID != 0 {
			placements, err = placement.PlaceStripe(bucket, key, stripeID, sc, topo)
			if err != nil {
				return objmodel.ObjectMeta{}, err
			}
		}

		shards, err := enc.Encode(data)
		if err != nil {
			return objmodel.ObjectMeta{}, objerr.New(objerr.BadInput, "gateway.PutObject", err)
		}

		locs, acked, err := g.writeStripe(ctx, sc, stripeID, placements, shards)
		for i, ok := range acked {
			if ok {
				written = append(written, shardRef{nodeID: placements[i].NodeID, stripeID: stripeID, position: i})
			}
		}
		if err != nil {
			return objmodel.ObjectMeta{}, err
		}

		digest := md5.Sum(data)
		stripeDigests = append(stripeDigests, digest)
		totalSize += int64(n)
		stripes = append(stripes, objmodel.StripeMeta{
			StripeID:        stripeID,
			ECType:          params.ECType,
			K:               params.K,
			M:               params.M,
			L:               params.L,
			G:               params.G,
			GroupSize:       params.GroupSize,
			LogicalDataSize: int64(n),
			Shards:          locs,
		})

		if eof {
			break
		}
	}

	om := objmodel.ObjectMeta{
		Bucket:       bucket,
		Key:          key,
		ObjectID:     objectID,
		TotalSize:    totalSize,
		ETag:         compositeETag(stripeDigests),
		ContentType:  contentType,
		CreatedAt:    time.Now(),
		LastModified: time.Now(),
		UserMetadata: userMeta,
		Stripes:      stripes,
		Version:      1,
	}

	addr, ok := g.ccs.Address(primary.NodeID)
	if !ok {
		return objmodel.ObjectMeta{}, objerr.New(objerr.NotFound, "gateway.PutObject", nil)
	}
	putCtx, cancel := context.WithTimeout(ctx, g.rpcTimeout)
	defer cancel()
	if err := g.pool.Client(primary.NodeID, addr).PutObjectMeta(putCtx, om); err != nil {
		return objmodel.ObjectMeta{}, err
	}

	written = nil // success: nothing to clean up
	return om, nil
}

// writeStripe dispatches WriteShard to every placement in parallel and
// waits for all of them (each bounded by g.rpcTimeout), then checks the
// quorum rule of spec §4.4.1 step 4. Shards that never acked are still
// returned, flagged with Tombstone, so the repair manager can complete
// them later.
func (g *Gateway) writeStripe(ctx context.Context, sc objmodel.StorageClass, stripeID objmodel.StripeID,
	placements []placement.Placement, shards [][]byte) ([]objmodel.ShardLocation, []bool, error) {

	type result struct {
		position int
		err      error
	}
	results := make(chan result, len(placements))

	for i, pl := range placements {
		go func(i int, pl placement.Placement) {
			addr, ok := g.ccs.Address(pl.NodeID)
			if !ok {
				results <- result{i, objerr.New(objerr.NotFound, "gateway.writeStripe", nil)}
				return
			}
			wctx, cancel := context.WithTimeout(ctx, g.rpcTimeout)
			defer cancel()
			err := g.pool.Client(pl.NodeID, addr).WriteShard(wctx, stripeID, pl.Position, shards[i])
			results <- result{i, err}
		}(i, pl)
	}

	acked := make([]bool, len(placements))
	acks := 0
	for range placements {
		res := <-results
		if res.err == nil {
			acked[res.position] = true
			acks++
		} else {
			slog.Warn("gateway: shard write failed", "stripe_id", stripeID, "position", res.position, "error", res.err)
		}
	}

	locs := make([]objmodel.ShardLocation, len(placements))
	for i, pl := range placements {
		kind, group := shardKindFor(sc.Protection, i)
		var crc uint32
		if acked[i] {
			crc = crc32.Checksum(shards[i], crc32cTable)
		}
		locs[i] = objmodel.ShardLocation{
			Position:   i,
			NodeID:     pl.NodeID,
			DiskID:     pl.DiskID,
			ByteLength: uint32(len(shards[i])),
			CRC32C:     crc,
			Kind:       kind,
			LocalGroup: group,
			Tombstone:  !acked[i],
		}
	}

	needed := quorumFor(sc.Protection)
	if acks < needed {
		return locs, acked, objerr.New(objerr.Quorum, "gateway.writeStripe",
			objerr.QuorumInfo{StripeID: uint64(stripeID), Acks: acks, Needed: needed})
	}
	return locs, acked, nil
}

func (g *Gateway) cleanupShards(refs []shardRef) {
	ctx, cancel := context.WithTimeout(context.Background(), g.rpcTimeout)
	defer cancel()
	for _, ref := range refs {
		addr, ok := g.ccs.Address(ref.nodeID)
		if !ok {
			continue
		}
		if err := g.pool.Client(ref.nodeID, addr).DeleteShard(ctx, ref.stripeID, ref.position); err != nil {
			slog.Warn("gateway: best-effort shard cleanup failed", "node_id", ref.nodeID,
				"stripe_id", ref.stripeID, "position", ref.position, "error", err)
		}
	}
}

func dataShardCount(p objmodel.Protection) int {
	if p.Type == objmodel.ECTypeReplication {
		return 1
	}
	return p.K
}

// compositeETag implements the multipart-style composite ETag of spec
// §6: a single stripe's raw MD5 hex for one-stripe objects, or the hex
// MD5 of the concatenated per-stripe MD5 digests plus "-N" otherwise.
func compositeETag(digests [][md5.Size]byte) string {
	if len(digests) == 0 {
		sum := md5.Sum(nil)
		return hex.EncodeToString(sum[:])
	}
	if len(digests) == 1 {
		return hex.EncodeToString(digests[0][:])
	}
	var concat []byte
	for _, d := range digests {
		concat = append(concat, d[:]...)
	}
	sum := md5.Sum(concat)
	return hex.EncodeToString(sum[:]) + "-" + strconv.Itoa(len(digests))
}
