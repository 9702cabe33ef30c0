package bitmap

import "testing"

func TestAllocAndFree(t *testing.T) {
	b := New(16)
	start, err := b.AllocContiguous(4)
	if err != nil {
		t.Fatalf("AllocContiguous: %v", err)
	}
	if start != 0 {
		t.Fatalf("expected first alloc at 0, got %d", start)
	}
	if b.FreeCount() != 12 {
		t.Fatalf("expected 12 free, got %d", b.FreeCount())
	}

	if err := b.Free(start, 4); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if b.FreeCount() != 16 {
		t.Fatalf("expected 16 free after release, got %d", b.FreeCount())
	}
}

func TestAllocContiguousFailsWhenFragmented(t *testing.T) {
	b := New(8)
	// Allocate every other block so no 2-block run exists.
	for i := uint64(0); i < 8; i += 2 {
		b.MarkAllocated(i, 1)
	}
	if _, err := b.AllocContiguous(2); err == nil {
		t.Fatalf("expected failure to find a contiguous 2-block run")
	}
	if _, err := b.AllocContiguous(1); err != nil {
		t.Fatalf("expected success finding a single free block: %v", err)
	}
}

func TestSnapshotRestore(t *testing.T) {
	b := New(128)
	b.AllocContiguous(10)
	b.AllocContiguous(5)

	words := b.Snapshot()
	restored := Restore(128, words)
	if restored.FreeCount() != b.FreeCount() {
		t.Fatalf("restored free count mismatch: got %d want %d", restored.FreeCount(), b.FreeCount())
	}
	if _, err := restored.AllocContiguous(15); err != nil {
		t.Fatalf("restored bitmap should still find free space: %v", err)
	}
}

func TestDoubleFreeRejected(t *testing.T) {
	b := New(4)
	if err := b.Free(0, 1); err == nil {
		t.Fatalf("expected error freeing an already-free block")
	}
}
