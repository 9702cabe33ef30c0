package gateway

import (
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudomate/objectio/internal/ccsstore"
	"github.com/cloudomate/objectio/internal/objmodel"
	"github.com/cloudomate/objectio/internal/osd/bitmap"
	"github.com/cloudomate/objectio/internal/osd/blockcache"
	"github.com/cloudomate/objectio/internal/osd/datawal"
	"github.com/cloudomate/objectio/internal/osd/disk"
	"github.com/cloudomate/objectio/internal/osd/metastore"
	"github.com/cloudomate/objectio/internal/osd/rpc"
)

// newTestOSD wires up one single-disk OSD process in-process, the same
// disk/cache/wal/bitmap/metastore stack newHedgeTestOSD builds in
// internal/gatewayclient, and serves it over httptest so the gateway
// dials it exactly like it would a real objio-osd.
func newTestOSD(t *testing.T, nodeID string) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	d, err := disk.Open(nodeID, filepath.Join(dir, "data.img"), 512*disk.BlockSize)
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	c, err := blockcache.Open(d, blockcache.Options{Policy: blockcache.WriteThrough, CapacityBlocks: 32})
	if err != nil {
		t.Fatalf("blockcache.Open: %v", err)
	}

	w, err := datawal.Open(filepath.Join(dir, "data.wal"), nil)
	if err != nil {
		t.Fatalf("datawal.Open: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	bmp := bitmap.New(uint64(d.BlockCount()))

	shardIdx, err := metastore.Open(filepath.Join(dir, "shards"), metastore.Options{})
	if err != nil {
		t.Fatalf("metastore.Open shards: %v", err)
	}
	t.Cleanup(func() { shardIdx.Close() })

	objIdx, err := metastore.Open(filepath.Join(dir, "objects"), metastore.Options{})
	if err != nil {
		t.Fatalf("metastore.Open objects: %v", err)
	}
	t.Cleanup(func() { objIdx.Close() })

	srv := rpc.NewServer(rpc.Config{Disk: d, Cache: c, WAL: w, Bitmap: bmp, ShardIndex: shardIdx, ObjectIndex: objIdx})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

// testCluster bundles a small real CCS plus nOSDs single-disk OSDs
// behind one storage class and bucket, enough to drive a Gateway
// end-to-end without touching the network beyond loopback.
type testCluster struct {
	gw    *Gateway
	ccs   *ccsstore.Client
	osds  []*httptest.Server
	store *ccsstore.Store
}

// newTestCluster builds nOSDs single-disk nodes under a flat topology
// (mirrors internal/placement's own flatTopology test fixture) and
// registers bucket "test-bucket" under sc.
func newTestCluster(t *testing.T, nOSDs int, sc objmodel.StorageClass) *testCluster {
	t.Helper()

	store, err := ccsstore.Open(filepath.Join(t.TempDir(), "ccs.db"))
	if err != nil {
		t.Fatalf("ccsstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ccsSrv := ccsstore.NewServer(store)
	ccsTS := httptest.NewServer(ccsSrv.Handler())
	t.Cleanup(ccsTS.Close)
	ccsClient := ccsstore.NewClient(ccsTS.URL, 5*time.Second)

	root := &objmodel.TopologyNode{ID: "cluster", Level: objmodel.DomainRegion}
	osds := make([]*httptest.Server, nOSDs)
	for i := 0; i < nOSDs; i++ {
		nodeID := fmt.Sprintf("node-%d", i)
		diskID := fmt.Sprintf("node-%d/disk-0", i)
		ts := newTestOSD(t, nodeID)
		osds[i] = ts

		if err := store.RegisterNode(nodeID, ts.Listener.Addr().String()); err != nil {
			t.Fatalf("RegisterNode: %v", err)
		}
		root.Children = append(root.Children, &objmodel.TopologyNode{
			ID: nodeID, Level: objmodel.DomainNode, NodeID: nodeID,
			Children: []*objmodel.TopologyNode{{
				ID: diskID, Level: objmodel.DomainDisk, Weight: 1, State: objmodel.DiskUp,
				NodeID: nodeID, DiskID: diskID,
			}},
		})
	}
	if err := store.SetTopology(&objmodel.ClusterTopology{Root: root}); err != nil {
		t.Fatalf("SetTopology: %v", err)
	}
	if err := store.PutStorageClass(sc); err != nil {
		t.Fatalf("PutStorageClass: %v", err)
	}
	if err := store.PutBucket(objmodel.BucketMeta{Name: "test-bucket", StorageClassName: sc.Name}); err != nil {
		t.Fatalf("PutBucket: %v", err)
	}

	gw := New(ccsClient, Options{
		HedgeDelay: 20 * time.Millisecond,
		RPCTimeout: 5 * time.Second,
		HMACKey:    []byte("test-hmac-key-0123456789abcdef"),
	})

	return &testCluster{gw: gw, ccs: ccsClient, osds: osds, store: store}
}

// replicationClass is a 3-way replica storage class across a disk-level
// failure domain: every one of the 3 single-disk nodes newTestCluster
// builds gets exactly one copy.
func replicationClass() objmodel.StorageClass {
	return objmodel.StorageClass{
		Name:          "test-replicated",
		Protection:    objmodel.Protection{Type: objmodel.ECTypeReplication, N: 3},
		FailureDomain: objmodel.DomainDisk,
	}
}

// mdsClass is a small K=2,M=1 erasure class, also sized to fit exactly
// across newTestCluster's 3 single-disk nodes.
func mdsClass() objmodel.StorageClass {
	return objmodel.StorageClass{
		Name:          "test-mds",
		Protection:    objmodel.Protection{Type: objmodel.ECTypeMDS, K: 2, M: 1},
		FailureDomain: objmodel.DomainDisk,
	}
}
