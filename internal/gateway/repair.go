package gateway

import (
	"container/heap"
	"context"
	"hash/crc32"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudomate/objectio/internal/codec"
	"github.com/cloudomate/objectio/internal/events"
	"github.com/cloudomate/objectio/internal/objerr"
	"github.com/cloudomate/objectio/internal/objmodel"
	"github.com/cloudomate/objectio/internal/placement"
)

// RepairPriority orders the repair queue (spec §4.4.4): a stripe at or
// below quorum outranks one that merely lost spare redundancy.
type RepairPriority int

const (
	PriorityLow RepairPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// RepairTask names one shard needing attention: missing (tombstoned, or
// its disk went OutOfService) or failed a scrub's CRC32C check.
type RepairTask struct {
	Bucket   string
	Key      string
	StripeID objmodel.StripeID
	Position int
	BadDisk  string
	Priority RepairPriority
}

type repairQueue []RepairTask

func (q repairQueue) Len() int { return len(q) }
func (q repairQueue) Less(i, j int) bool { return q[i].Priority > q[j].Priority }
func (q repairQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *repairQueue) Push(x interface{}) { *q = append(*q, x.(RepairTask)) }
func (q *repairQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// RepairManager runs the priority-ordered repair loop and periodic scrub
// of spec §4.4.4 against a fixed set of buckets. Relocation goes through
// placement.PlaceStripeExcluding so every shard position other than the
// one being repaired keeps its existing placement.
type RepairManager struct {
	g       *Gateway
	buckets []string

	mu    sync.Mutex
	queue repairQueue

	ScrubInterval time.Duration
}

func NewRepairManager(g *Gateway, buckets []string) *RepairManager {
	return &RepairManager{
		g:             g,
		buckets:       buckets,
		ScrubInterval: 24 * time.Hour,
	}
}

// Enqueue adds a repair task directly; the scrub pass uses it for each
// shard it finds corrupt or absent.
func (m *RepairManager) Enqueue(task RepairTask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	heap.Push(&m.queue, task)
}

func (m *RepairManager) dequeue() (RepairTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return RepairTask{}, false
	}
	return heap.Pop(&m.queue).(RepairTask), true
}

// Run drains the repair queue and drives the periodic scrub pass until
// ctx is canceled. Meant to run for the lifetime of the gateway process.
func (m *RepairManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.ScrubInterval)
	defer ticker.Stop()

	for {
		if task, ok := m.dequeue(); ok {
			m.repairOne(ctx, task)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scrubAll(ctx)
		case <-time.After(time.Second):
		}
	}
}

// scrubAll walks every configured bucket, verifying each live shard's
// CRC32C by asking its OSD to read it back (the OSD already checks CRC
// server-side on handleReadShard), and enqueues a RepairTask for any
// mismatch or transport failure.
func (m *RepairManager) scrubAll(ctx context.Context) {
	for _, bucket := range m.buckets {
		m.scrubBucket(ctx, bucket)
	}
}

func (m *RepairManager) scrubBucket(ctx context.Context, bucket string) {
	var token string
	for {
		res, err := m.g.ListObjects(ctx, ListObjectsInput{Bucket: bucket, ContinuationToken: token, MaxKeys: defaultMaxKeys})
		if err != nil {
			slog.Warn("gateway: scrub listing failed", "bucket", bucket, "error", err)
			return
		}
		for _, om := range res.Objects {
			m.scrubObject(ctx, om)
		}
		if !res.IsTruncated {
			return
		}
		token = res.NextContinuationToken
	}
}

func (m *RepairManager) scrubObject(ctx context.Context, om objmodel.ObjectMeta) {
	for _, sm := range om.Stripes {
		for _, loc := range sm.Shards {
			if loc.Tombstone {
				m.Enqueue(RepairTask{Bucket: om.Bucket, Key: om.Key, StripeID: sm.StripeID,
					Position: loc.Position, Priority: priorityFor(sm)})
				continue
			}
			addr, ok := m.g.ccs.Address(loc.NodeID)
			if !ok {
				continue
			}
			rctx, cancel := context.WithTimeout(ctx, m.g.rpcTimeout)
			data, err := m.g.pool.Client(loc.NodeID, addr).ReadShard(rctx, sm.StripeID, loc.Position)
			cancel()
			if err != nil || (loc.CRC32C != 0 && crc32.Checksum(data, crc32cTable) != loc.CRC32C) {
				m.Enqueue(RepairTask{Bucket: om.Bucket, Key: om.Key, StripeID: sm.StripeID,
					Position: loc.Position, BadDisk: loc.DiskID, Priority: priorityFor(sm)})
			}
		}
	}
}

// priorityFor ranks a stripe by how many of its shards are already
// tombstoned: at or below quorum is Critical, one spare above quorum is
// High, otherwise Normal.
func priorityFor(sm objmodel.StripeMeta) RepairPriority {
	live := 0
	for _, loc := range sm.Shards {
		if !loc.Tombstone {
			live++
		}
	}
	quorum := sm.Quorum()
	switch {
	case live <= quorum:
		return PriorityCritical
	case live == quorum+1:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

func (m *RepairManager) repairOne(ctx context.Context, task RepairTask) {
	sc, err := m.g.storageClassFor(ctx, task.Bucket)
	if err != nil {
		slog.Warn("gateway: repair could not resolve storage class", "bucket", task.Bucket, "error", err)
		return
	}
	topo, err := m.g.ccs.Topology(ctx)
	if err != nil {
		slog.Warn("gateway: repair could not resolve topology", "error", err)
		return
	}
	placement0, err := placement.PlaceStripe(task.Bucket, task.Key, 0, sc, topo)
	if err != nil {
		slog.Warn("gateway: repair could not place stripe 0", "bucket", task.Bucket, "key", task.Key, "error", err)
		return
	}
	primary := placement0[0]
	addr, ok := m.g.ccs.Address(primary.NodeID)
	if !ok {
		return
	}
	gctx, cancel := context.WithTimeout(ctx, m.g.rpcTimeout)
	om, err := m.g.pool.Client(primary.NodeID, addr).GetObjectMeta(gctx, task.Bucket, task.Key)
	cancel()
	if err != nil {
		slog.Warn("gateway: repair could not fetch object meta", "bucket", task.Bucket, "key", task.Key, "error", err)
		return
	}

	idx := -1
	for i, sm := range om.Stripes {
		if sm.StripeID == task.StripeID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	sm := om.Stripes[idx]
	if task.Position < 0 || task.Position >= len(sm.Shards) {
		return
	}

	recovered, err := m.recoverShard(ctx, sm, task.Position)
	if err != nil {
		m.g.events.Publish(ctx, events.Event{Kind: events.ShardCorrupt, Bucket: task.Bucket, Key: task.Key,
			StripeID: task.StripeID, Position: task.Position, Detail: err.Error()})
		return
	}

	exclude := sm.Shards[task.Position].DiskID
	if task.BadDisk != "" {
		exclude = task.BadDisk
	}
	newPlacements, err := placement.PlaceStripeExcluding(task.Bucket, task.Key, sm.StripeID, sc, topo, []string{exclude})
	if err != nil {
		slog.Warn("gateway: repair could not find a replacement disk", "bucket", task.Bucket, "key", task.Key, "error", err)
		return
	}
	var dest placement.Placement
	for _, pl := range newPlacements {
		if pl.Position == task.Position {
			dest = pl
			break
		}
	}
	destAddr, ok := m.g.ccs.Address(dest.NodeID)
	if !ok {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, m.g.rpcTimeout)
	err = m.g.pool.Client(dest.NodeID, destAddr).WriteShard(wctx, sm.StripeID, task.Position, recovered)
	cancel()
	if err != nil {
		slog.Warn("gateway: repair write failed", "bucket", task.Bucket, "key", task.Key, "error", err)
		return
	}

	updated := make([]objmodel.ShardLocation, len(sm.Shards))
	copy(updated, sm.Shards)
	updated[task.Position] = objmodel.ShardLocation{
		Position:   task.Position,
		NodeID:     dest.NodeID,
		DiskID:     dest.DiskID,
		ByteLength: uint32(len(recovered)),
		CRC32C:     crc32.Checksum(recovered, crc32cTable),
		Kind:       sm.Shards[task.Position].Kind,
		LocalGroup: sm.Shards[task.Position].LocalGroup,
	}
	sm.Shards = updated
	om.Stripes[idx] = sm
	om.Version++

	pctx, cancel := context.WithTimeout(ctx, m.g.rpcTimeout)
	err = m.g.pool.Client(primary.NodeID, addr).PutObjectMeta(pctx, om)
	cancel()
	if err != nil {
		slog.Warn("gateway: repair could not commit relocated shard", "bucket", task.Bucket, "key", task.Key, "error", err)
		return
	}

	m.g.events.Publish(ctx, events.Event{Kind: events.ShardRepaired, Bucket: task.Bucket, Key: task.Key,
		NodeID: dest.NodeID, DiskID: dest.DiskID, StripeID: sm.StripeID, Position: task.Position})
}

// recoverShard reconstructs the bytes that belonged at position: for
// LRC, spec §4.4.4 step 3's TryLocalRecovery shortcut is attempted first
// since it needs only the failed shard's local group; everything else
// falls back to a full stripe decode plus re-encode.
func (m *RepairManager) recoverShard(ctx context.Context, sm objmodel.StripeMeta, position int) ([]byte, error) {
	dec, err := codec.New(codecParamsFromStripe(sm), m.g.backend)
	if err != nil {
		return nil, err
	}

	if sm.ECType == objmodel.ECTypeLRC && position < sm.K {
		present := m.readGroupShards(ctx, sm, position)
		if shard, err := dec.TryLocalRecovery(present, position); err == nil {
			return shard, nil
		}
	}

	full, err := m.g.readStripe(ctx, sm)
	if err != nil {
		return nil, err
	}
	shards, err := dec.Encode(full)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= len(shards) {
		return nil, objerr.New(objerr.BadInput, "gateway.recoverShard", nil)
	}
	return shards[position], nil
}

// readGroupShards fetches every live shard TryLocalRecovery needs for
// position's local group: the group's other data shards plus its local
// parity, indexed exactly like StripeMeta.Shards.
func (m *RepairManager) readGroupShards(ctx context.Context, sm objmodel.StripeMeta, position int) [][]byte {
	present := make([][]byte, sm.TotalShards())
	groupSize := sm.GroupSize
	if groupSize == 0 && sm.L > 0 {
		groupSize = sm.K / sm.L
	}
	if groupSize == 0 {
		groupSize = 1
	}
	group := position / groupSize
	start, end := group*groupSize, (group+1)*groupSize
	localParityPos := sm.K + group

	for _, pos := range append(rangeInts(start, end), localParityPos) {
		if pos == position || pos >= len(sm.Shards) {
			continue
		}
		loc := sm.Shards[pos]
		if loc.Tombstone {
			continue
		}
		addr, ok := m.g.ccs.Address(loc.NodeID)
		if !ok {
			continue
		}
		rctx, cancel := context.WithTimeout(ctx, m.g.rpcTimeout)
		data, err := m.g.pool.Client(loc.NodeID, addr).ReadShard(rctx, sm.StripeID, pos)
		cancel()
		if err == nil {
			present[pos] = data
		}
	}
	return present
}

func rangeInts(start, end int) []int {
	out := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, i)
	}
	return out
}
