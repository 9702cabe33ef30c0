package gateway

import (
	"context"
	"testing"
)

func TestListObjectsPagination(t *testing.T) {
	tc := newTestCluster(t, 3, replicationClass())
	ctx := context.Background()

	keys := []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt"}
	for _, k := range keys {
		putTestObject(t, tc, "test-bucket", k, []byte("payload for "+k))
	}

	seen := map[string]bool{}
	token := ""
	for i := 0; i < len(keys)+1; i++ {
		res, err := tc.gw.ListObjects(ctx, ListObjectsInput{Bucket: "test-bucket", ContinuationToken: token, MaxKeys: 2})
		if err != nil {
			t.Fatalf("ListObjects: %v", err)
		}
		for _, om := range res.Objects {
			if seen[om.Key] {
				t.Fatalf("key %q returned twice across pages", om.Key)
			}
			seen[om.Key] = true
		}
		if !res.IsTruncated {
			break
		}
		token = res.NextContinuationToken
		if token == "" {
			t.Fatal("expected a continuation token while truncated")
		}
	}

	for _, k := range keys {
		if !seen[k] {
			t.Fatalf("key %q never returned by listing", k)
		}
	}
}

func TestListObjectsEmptyBucket(t *testing.T) {
	tc := newTestCluster(t, 3, replicationClass())
	res, err := tc.gw.ListObjects(context.Background(), ListObjectsInput{Bucket: "test-bucket"})
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(res.Objects) != 0 || res.IsTruncated {
		t.Fatalf("expected empty, non-truncated result, got %+v", res)
	}
}
