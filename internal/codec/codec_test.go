package codec

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/cloudomate/objectio/internal/objerr"
	"github.com/cloudomate/objectio/internal/objmodel"
)

func mdsParams(k, m int) Params {
	return Params{ECType: objmodel.ECTypeMDS, K: k, M: m}
}

// TestMDSRoundTrip is Testable Property 1: for all k, m and all erasure
// patterns of up to m positions, decode(erase(encode(data))) == data.
func TestMDSRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, kmShape := range [][2]int{{4, 2}, {6, 3}, {1, 1}, {10, 4}} {
		k, m := kmShape[0], kmShape[1]
		for _, size := range []int{0, 1, 11, 4096, 4096*4 + 37} {
			c, err := New(mdsParams(k, m), BackendPortable)
			if err != nil {
				t.Fatalf("New(%d,%d): %v", k, m, err)
			}
			data := make([]byte, size)
			rng.Read(data)

			shards, err := c.Encode(data)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			erased := make([][]byte, len(shards))
			copy(erased, shards)
			perm := rng.Perm(len(shards))[:m]
			for _, idx := range perm {
				erased[idx] = nil
			}

			got, err := c.Decode(erased, int64(size))
			if err != nil {
				t.Fatalf("k=%d m=%d size=%d: Decode: %v", k, m, size, err)
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("k=%d m=%d size=%d: round trip mismatch", k, m, size)
			}
		}
	}
}

func TestMDSInsufficientShards(t *testing.T) {
	c, _ := New(mdsParams(4, 2), BackendPortable)
	shards, _ := c.Encode([]byte("hello world, this is a stripe"))
	for i := 0; i < 3; i++ {
		shards[i] = nil
	}
	_, err := c.Decode(shards, 29)
	if objerr.KindOf(err) != objerr.InsufficientShards {
		t.Fatalf("expected InsufficientShards, got %v", err)
	}
}

func TestTotalShardsOver255Rejected(t *testing.T) {
	_, err := New(mdsParams(200, 100), BackendPortable)
	if objerr.KindOf(err) != objerr.BadInput {
		t.Fatalf("expected BadInput for total>255, got %v", err)
	}
}

// TestBackendEquivalence is Testable Property 2: portable and
// accelerated backends produce byte-identical shards for identical
// inputs.
func TestBackendEquivalence(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	data := make([]byte, 9001)
	rng.Read(data)

	portable, _ := New(mdsParams(6, 3), BackendPortable)
	accel, _ := New(mdsParams(6, 3), BackendAccelerated)

	ps, err := portable.Encode(data)
	if err != nil {
		t.Fatalf("portable Encode: %v", err)
	}
	as, err := accel.Encode(data)
	if err != nil {
		t.Fatalf("accelerated Encode: %v", err)
	}
	if len(ps) != len(as) {
		t.Fatalf("shard count mismatch: %d vs %d", len(ps), len(as))
	}
	for i := range ps {
		if !bytes.Equal(ps[i], as[i]) {
			t.Fatalf("shard %d differs between backends", i)
		}
	}
}

func lrcParams(k, l, g int) Params {
	return Params{ECType: objmodel.ECTypeLRC, K: k, L: l, G: g, GroupSize: k / l}
}

// TestLRCLocalRecovery is Testable Property 3: for any single-position
// failure in a local group, TryLocalRecovery produces the same bytes as
// full Decode.
func TestLRCLocalRecovery(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	c, err := New(lrcParams(6, 2, 2), BackendPortable)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data := make([]byte, 6000)
	rng.Read(data)

	shards, err := c.Encode(data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for missing := 0; missing < 6; missing++ {
		present := make([][]byte, len(shards))
		copy(present, shards)
		want := present[missing]
		present[missing] = nil

		got, err := c.TryLocalRecovery(present, missing)
		if err != nil {
			t.Fatalf("position %d: TryLocalRecovery: %v", missing, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("position %d: local recovery mismatch", missing)
		}

		full, err := c.Decode(present, 6000)
		if err != nil {
			t.Fatalf("position %d: Decode: %v", missing, err)
		}
		if !bytes.Equal(full, data) {
			t.Fatalf("position %d: full decode mismatch", missing)
		}
	}
}

// TestLRCGlobalRecoveryWhenGroupDoubleFails exercises the E5-adjacent
// case of two missing shards inside one group, which forces a fall
// through to the global-parity reconstruction path.
func TestLRCGlobalRecoveryWhenGroupDoubleFails(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	c, err := New(lrcParams(6, 2, 2), BackendPortable)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data := make([]byte, 6000)
	rng.Read(data)
	shards, _ := c.Encode(data)

	present := make([][]byte, len(shards))
	copy(present, shards)
	present[0] = nil // data, group 0
	present[1] = nil // data, group 0 — local recovery for group 0 is impossible now

	got, err := c.Decode(present, 6000)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("global-parity recovery mismatch")
	}
}

func TestLRCNotLocallyRecoverable(t *testing.T) {
	c, _ := New(lrcParams(6, 2, 2), BackendPortable)
	shards, _ := c.Encode(make([]byte, 600))
	present := make([][]byte, len(shards))
	copy(present, shards)
	present[0] = nil
	present[1] = nil // two data shards missing in the same group

	_, err := c.TryLocalRecovery(present, 0)
	if objerr.KindOf(err) != objerr.InsufficientShards {
		t.Fatalf("expected InsufficientShards (not locally recoverable), got %v", err)
	}
}

func TestReplicationRoundTrip(t *testing.T) {
	c, err := New(Params{ECType: objmodel.ECTypeReplication, N: 3}, BackendPortable)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data := []byte("replicated payload")
	shards, _ := c.Encode(data)
	if len(shards) != 3 {
		t.Fatalf("expected 3 replicas, got %d", len(shards))
	}

	present := make([][]byte, 3)
	present[1] = shards[1] // only one replica present
	got, err := c.Decode(present, int64(len(data)))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("replication round trip mismatch")
	}

	_, err = c.Decode(make([][]byte, 3), int64(len(data)))
	if objerr.KindOf(err) != objerr.InsufficientShards {
		t.Fatalf("expected InsufficientShards with no replicas present")
	}
}
