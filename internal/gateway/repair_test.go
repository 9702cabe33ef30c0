package gateway

import (
	"bytes"
	"context"
	"testing"

	"github.com/cloudomate/objectio/internal/objmodel"
)

func TestRepairManagerRelocatesAfterDiskLoss(t *testing.T) {
	// Four nodes for a three-shard class, so a replacement disk exists.
	tc := newTestCluster(t, 4, mdsClass())
	ctx := context.Background()
	payload := []byte("repair manager relocates a shard after its disk is declared gone")
	putTestObject(t, tc, "test-bucket", "needs-repair.bin", payload)

	topo, err := tc.ccs.Topology(ctx)
	if err != nil {
		t.Fatalf("Topology: %v", err)
	}

	// Find where the object's metadata landed so we know stripe 0's
	// placements and which disk to declare lost.
	var om objmodel.ObjectMeta
	var metaNode, metaAddr string
	found := false
	for nodeID := range nodeSet(topo) {
		addr, ok := tc.ccs.Address(nodeID)
		if !ok {
			continue
		}
		if m, err := tc.gw.pool.Client(nodeID, addr).GetObjectMeta(ctx, "test-bucket", "needs-repair.bin"); err == nil {
			om, found = m, true
			metaNode, metaAddr = nodeID, addr
			break
		}
	}
	if !found {
		t.Fatal("could not locate the object's metadata on any OSD")
	}

	sm := om.Stripes[0]
	badPosition := 0
	badDisk := sm.Shards[badPosition].DiskID

	mgr := NewRepairManager(tc.gw, []string{"test-bucket"})
	mgr.repairOne(ctx, RepairTask{
		Bucket: "test-bucket", Key: "needs-repair.bin",
		StripeID: sm.StripeID, Position: badPosition, BadDisk: badDisk,
		Priority: PriorityCritical,
	})

	after, err := tc.gw.pool.Client(metaNode, metaAddr).GetObjectMeta(ctx, "test-bucket", "needs-repair.bin")
	if err != nil {
		t.Fatalf("GetObjectMeta after repair: %v", err)
	}
	if got := after.Stripes[0].Shards[badPosition].DiskID; got == badDisk {
		t.Fatalf("position %d still placed on lost disk %v after repair", badPosition, badDisk)
	}

	var buf bytes.Buffer
	res, err := tc.gw.GetObject(ctx, "test-bucket", "needs-repair.bin", nil, &buf)
	if err != nil {
		t.Fatalf("GetObject after repair: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), payload) {
		t.Fatal("payload mismatch after repair")
	}
	if res.Written != int64(len(payload)) {
		t.Fatalf("expected written %d, got %d", len(payload), res.Written)
	}
}

func nodeSet(topo *objmodel.ClusterTopology) map[string]bool {
	out := map[string]bool{}
	for _, id := range allNodeIDs(topo) {
		out[id] = true
	}
	return out
}
