package frontend

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloudomate/objectio/internal/ccsstore"
	"github.com/cloudomate/objectio/internal/gateway"
	"github.com/cloudomate/objectio/internal/objmodel"
	"github.com/cloudomate/objectio/internal/osd/bitmap"
	"github.com/cloudomate/objectio/internal/osd/blockcache"
	"github.com/cloudomate/objectio/internal/osd/datawal"
	"github.com/cloudomate/objectio/internal/osd/disk"
	"github.com/cloudomate/objectio/internal/osd/metastore"
	"github.com/cloudomate/objectio/internal/osd/rpc"
)

// newTestOSD mirrors the harness internal/gateway's own tests use; it is
// duplicated here rather than exported since each package's tests need
// only their own tiny slice of the wiring.
func newTestOSD(t *testing.T, nodeID string) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	d, err := disk.Open(nodeID, filepath.Join(dir, "data.img"), 256*disk.BlockSize)
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

// newTestHandler wires one single-disk OSD, a real CCS, and a Gateway
// behind a Handler, enough to drive PUT/GET/DELETE/List over real HTTP.
func newTestHandler(t *testing.T) http.Handler {
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

	osdTS := newTestOSD(t, "node-0")
	if err := store.RegisterNode("node-0", osdTS.Listener.Addr().String()); err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}

	root := &objmodel.TopologyNode{
		ID: "cluster", Level: objmodel.DomainRegion,
		Children: []*objmodel.TopologyNode{{
			ID: "node-0", Level: objmodel.DomainNode, NodeID: "node-0",
			Children: []*objmodel.TopologyNode{{
				ID: "node-0/disk-0", Level: objmodel.DomainDisk, Weight: 1, State: objmodel.DiskUp,
				NodeID: "node-0", DiskID: "node-0/disk-0",
			}},
		}},
	}
	if err := store.SetTopology(&objmodel.ClusterTopology{Root: root}); err != nil {
		t.Fatalf("SetTopology: %v", err)
	}
	sc := objmodel.StorageClass{
		Name:          "test-single",
		Protection:    objmodel.Protection{Type: objmodel.ECTypeReplication, N: 1},
		FailureDomain: objmodel.DomainDisk,
	}
	if err := store.PutStorageClass(sc); err != nil {
		t.Fatalf("PutStorageClass: %v", err)
	}
	if err := store.PutBucket(objmodel.BucketMeta{Name: "bucket", StorageClassName: sc.Name}); err != nil {
		t.Fatalf("PutBucket: %v", err)
	}

	gw := gateway.New(ccsClient, gateway.Options{
		HedgeDelay: 20 * time.Millisecond,
		RPCTimeout: 5 * time.Second,
		HMACKey:    []byte("test-hmac-key-0123456789abcdef"),
	})
	return New(gw)
}

func TestHandlerPutGetRoundTrip(t *testing.T) {
	h := newTestHandler(t)

	putReq := httptest.NewRequest(http.MethodPut, "/bucket/hello.txt", strings.NewReader("hello world"))
	putReq.Header.Set("Content-Type", "text/plain")
	putReq.Header.Set("X-Objio-Meta-Author", "gopher")
	putRec := httptest.NewRecorder()
	h.ServeHTTP(putRec, putReq)
	if putRec.Code != http.StatusOK {
		t.Fatalf("PUT expected 200, got %d: %s", putRec.Code, putRec.Body.String())
	}
	etag := putRec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected a non-empty ETag header on PUT")
	}

	getReq := httptest.NewRequest(http.MethodGet, "/bucket/hello.txt", nil)
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("GET expected 200, got %d: %s", getRec.Code, getRec.Body.String())
	}
	if getRec.Body.String() != "hello world" {
		t.Fatalf("unexpected body: %q", getRec.Body.String())
	}
	if getRec.Header().Get("ETag") != etag {
		t.Fatalf("ETag mismatch: put %q, get %q", etag, getRec.Header().Get("ETag"))
	}
	if cl := getRec.Header().Get("Content-Length"); cl != "11" {
		t.Fatalf("expected Content-Length 11, got %q", cl)
	}
}

func TestHandlerGetRange(t *testing.T) {
	h := newTestHandler(t)

	putReq := httptest.NewRequest(http.MethodPut, "/bucket/range.txt", strings.NewReader("0123456789"))
	h.ServeHTTP(httptest.NewRecorder(), putReq)

	getReq := httptest.NewRequest(http.MethodGet, "/bucket/range.txt", nil)
	getReq.Header.Set("Range", "bytes=2-5")
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", getRec.Code, getRec.Body.String())
	}
	if getRec.Body.String() != "2345" {
		t.Fatalf("unexpected range body: %q", getRec.Body.String())
	}
}

func TestHandlerDeleteThenGetNotFound(t *testing.T) {
	h := newTestHandler(t)

	putReq := httptest.NewRequest(http.MethodPut, "/bucket/gone.txt", strings.NewReader("bye"))
	h.ServeHTTP(httptest.NewRecorder(), putReq)

	delReq := httptest.NewRequest(http.MethodDelete, "/bucket/gone.txt", nil)
	delRec := httptest.NewRecorder()
	h.ServeHTTP(delRec, delReq)
	if delRec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", delRec.Code)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/bucket/gone.txt", nil)
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d: %s", getRec.Code, getRec.Body.String())
	}
	var body errorBody
	if err := json.Unmarshal(getRec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Kind != "not_found" {
		t.Fatalf("expected kind not_found, got %q", body.Kind)
	}
}

func TestHandlerListObjects(t *testing.T) {
	h := newTestHandler(t)

	for _, key := range []string{"a.txt", "b.txt"} {
		req := httptest.NewRequest(http.MethodPut, "/bucket/"+key, strings.NewReader("data"))
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/bucket?list-type=2", nil)
	listRec := httptest.NewRecorder()
	h.ServeHTTP(listRec, listReq)
	if listRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", listRec.Code, listRec.Body.String())
	}
	var resp listResponseJSON
	if err := json.Unmarshal(listRec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(resp.Contents) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(resp.Contents))
	}
}

func TestHandlerInvalidPath(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty path, got %d", rec.Code)
	}
}
