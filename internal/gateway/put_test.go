package gateway

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestPutObjectRoundTripReplicated(t *testing.T) {
	tc := newTestCluster(t, 3, replicationClass())
	ctx := context.Background()

	payload := []byte("hello stripe engine, this is a small test object")
	om, err := tc.gw.PutObject(ctx, "test-bucket", "greeting.txt", bytes.NewReader(payload), "text/plain", map[string]string{"author": "gopher"})
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if om.TotalSize != int64(len(payload)) {
		t.Fatalf("expected total size %d, got %d", len(payload), om.TotalSize)
	}
	if om.ETag == "" {
		t.Fatal("expected non-empty ETag")
	}
	if len(om.Stripes) != 1 {
		t.Fatalf("expected 1 stripe for a small object, got %d", len(om.Stripes))
	}
	if got := len(om.Stripes[0].Shards); got != 3 {
		t.Fatalf("expected 3 replica shards, got %d", got)
	}
}

func TestPutObjectEmptyBody(t *testing.T) {
	tc := newTestCluster(t, 3, replicationClass())
	ctx := context.Background()

	om, err := tc.gw.PutObject(ctx, "test-bucket", "empty.txt", strings.NewReader(""), "", nil)
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if om.TotalSize != 0 {
		t.Fatalf("expected size 0, got %d", om.TotalSize)
	}
	if len(om.Stripes) != 0 {
		t.Fatalf("expected no stripes for an empty object, got %d", len(om.Stripes))
	}
}

func TestPutObjectMDSMultiStripe(t *testing.T) {
	tc := newTestCluster(t, 3, mdsClass())
	ctx := context.Background()

	gw := tc.gw
	gw.maxShardBytes = 16 // force several small stripes

	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = byte(i)
	}
	om, err := gw.PutObject(ctx, "test-bucket", "big.bin", bytes.NewReader(payload), "application/octet-stream", nil)
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if om.TotalSize != int64(len(payload)) {
		t.Fatalf("expected total size %d, got %d", len(payload), om.TotalSize)
	}
	if len(om.Stripes) < 2 {
		t.Fatalf("expected multiple stripes, got %d", len(om.Stripes))
	}
	for _, sm := range om.Stripes {
		if len(sm.Shards) != 3 {
			t.Fatalf("expected 3 shards (k=2,m=1) per stripe, got %d", len(sm.Shards))
		}
	}
}
