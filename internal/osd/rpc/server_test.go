package rpc

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/cloudomate/objectio/internal/objmodel"
	"github.com/cloudomate/objectio/internal/osd/bitmap"
	"github.com/cloudomate/objectio/internal/osd/blockcache"
	"github.com/cloudomate/objectio/internal/osd/datawal"
	"github.com/cloudomate/objectio/internal/osd/disk"
	"github.com/cloudomate/objectio/internal/osd/metastore"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()

	d, err := disk.Open("disk-0", filepath.Join(dir, "data.img"), 1024*disk.BlockSize)
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	c, err := blockcache.Open(d, blockcache.Options{Policy: blockcache.WriteThrough, CapacityBlocks: 64})
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
		t.Fatalf("metastore.Open: %v", err)
	}
	t.Cleanup(func() { shardIdx.Close() })

	objIdx, err := metastore.Open(filepath.Join(dir, "objects"), metastore.Options{})
	if err != nil {
		t.Fatalf("metastore.Open: %v", err)
	}
	t.Cleanup(func() { objIdx.Close() })

	srv := NewServer(Config{Disk: d, Cache: c, WAL: w, Bitmap: bmp, ShardIndex: shardIdx, ObjectIndex: objIdx})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestWriteReadDeleteShard(t *testing.T) {
	_, ts := newTestServer(t)
	client := NewClient(ts.URL, 0)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("x"), 9001)
	if err := client.WriteShard(ctx, 1, 0, payload); err != nil {
		t.Fatalf("WriteShard: %v", err)
	}

	got, err := client.ReadShard(ctx, 1, 0)
	if err != nil {
		t.Fatalf("ReadShard: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("read shard mismatch")
	}

	if err := client.DeleteShard(ctx, 1, 0); err != nil {
		t.Fatalf("DeleteShard: %v", err)
	}
	if _, err := client.ReadShard(ctx, 1, 0); err == nil {
		t.Fatalf("expected error reading deleted shard")
	}
}

func TestObjectMetaPutGetList(t *testing.T) {
	_, ts := newTestServer(t)
	client := NewClient(ts.URL, 0)
	ctx := context.Background()

	om := objmodel.ObjectMeta{Bucket: "b", Key: "k1", TotalSize: 10, Version: 1}
	if err := client.PutObjectMeta(ctx, om); err != nil {
		t.Fatalf("PutObjectMeta: %v", err)
	}

	got, err := client.GetObjectMeta(ctx, "b", "k1")
	if err != nil {
		t.Fatalf("GetObjectMeta: %v", err)
	}
	if got.Key != "k1" || got.TotalSize != 10 {
		t.Fatalf("get mismatch: %+v", got)
	}

	om2 := objmodel.ObjectMeta{Bucket: "b", Key: "k2", TotalSize: 20, Version: 1}
	if err := client.PutObjectMeta(ctx, om2); err != nil {
		t.Fatalf("PutObjectMeta 2: %v", err)
	}

	list, err := client.ListObjectMeta(ctx, "b", "")
	if err != nil {
		t.Fatalf("ListObjectMeta: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(list))
	}
}

func TestPutObjectMetaRejectsStaleVersion(t *testing.T) {
	_, ts := newTestServer(t)
	client := NewClient(ts.URL, 0)
	ctx := context.Background()

	if err := client.PutObjectMeta(ctx, objmodel.ObjectMeta{Bucket: "b", Key: "k", Version: 5}); err != nil {
		t.Fatalf("PutObjectMeta: %v", err)
	}
	if err := client.PutObjectMeta(ctx, objmodel.ObjectMeta{Bucket: "b", Key: "k", Version: 3}); err == nil {
		t.Fatalf("expected conflict for stale version")
	}
}

func TestHeartbeat(t *testing.T) {
	_, ts := newTestServer(t)
	client := NewClient(ts.URL, 0)
	report, err := client.Heartbeat(context.Background())
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if report.DiskID != "disk-0" {
		t.Fatalf("unexpected disk id: %s", report.DiskID)
	}
}
