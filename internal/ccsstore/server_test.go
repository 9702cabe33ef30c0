package ccsstore

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudomate/objectio/internal/objmodel"
)

func newTestServer(t *testing.T) (*httptest.Server, *Client) {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "ccs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ts := httptest.NewServer(NewServer(store).Handler())
	t.Cleanup(ts.Close)
	return ts, NewClient(ts.URL, 2*time.Second)
}

func TestServerTopologyRoundTrip(t *testing.T) {
	ts, client := newTestServer(t)
	ctx := context.Background()

	topo := objmodel.ClusterTopology{Root: &objmodel.TopologyNode{ID: "root"}}
	// Topology is only mutated through SetTopology server-side via POST;
	// verify the default empty response first, then post one and read it
	// back.
	got, err := client.Topology(ctx)
	if err != nil {
		t.Fatalf("Topology: %v", err)
	}
	if got.TopologyVersion != 0 {
		t.Fatalf("expected version 0, got %d", got.TopologyVersion)
	}

	postJSON(t, ts.URL+"/topology", topo)
	got, err = client.Topology(ctx)
	if err != nil {
		t.Fatalf("Topology after POST: %v", err)
	}
	if got.TopologyVersion != 1 {
		t.Fatalf("expected version 1 after POST, got %d", got.TopologyVersion)
	}
	if got.Root == nil || got.Root.ID != "root" {
		t.Fatalf("expected root node %q after POST, got %+v", "root", got.Root)
	}
}

func TestServerNodeRegisterAndResolve(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	if err := client.RegisterNode(ctx, "node-a", "127.0.0.1:9001"); err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}
	addr, ok := client.Address("node-a")
	if !ok || addr != "127.0.0.1:9001" {
		t.Fatalf("Address mismatch: %q %v", addr, ok)
	}
}

func TestServerStorageClassAndBucket(t *testing.T) {
	ts, client := newTestServer(t)
	ctx := context.Background()

	if _, err := client.StorageClass(ctx, "missing"); err == nil {
		t.Fatalf("expected error for missing storage class")
	}

	sc := objmodel.StorageClass{Name: "sc1", Protection: objmodel.Protection{Type: objmodel.ECTypeMDS, K: 4, M: 2}}
	postJSON(t, ts.URL+"/storage-class", sc)
	got, err := client.StorageClass(ctx, "sc1")
	if err != nil {
		t.Fatalf("StorageClass: %v", err)
	}
	if got.Protection.K != 4 {
		t.Fatalf("mismatch: %+v", got)
	}

	bm := objmodel.BucketMeta{Name: "b1", StorageClassName: "sc1"}
	postJSON(t, ts.URL+"/bucket", bm)
	gotBucket, err := client.Bucket(ctx, "b1")
	if err != nil {
		t.Fatalf("Bucket: %v", err)
	}
	if gotBucket.StorageClassName != "sc1" {
		t.Fatalf("mismatch: %+v", gotBucket)
	}
}

func postJSON(t *testing.T, url string, v interface{}) {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post %s: status %d", url, resp.StatusCode)
	}
}
