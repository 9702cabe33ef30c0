// Package bitmap implements a 1-bit-per-block free space allocator over an
// OSD disk's data region, captured as a plain bit vector by Snapshot and
// rebuilt from one by Restore (the allocator itself is not WAL-logged —
// its state is rederivable by replaying datawal, so a snapshot is only an
// optimization to skip that replay on mount).
package bitmap

import (
	"sync"

	"github.com/cloudomate/objectio/internal/objerr"
)

// Bitmap tracks allocation state for a contiguous range of block numbers
// [0, NumBlocks).
type Bitmap struct {
	mu        sync.Mutex
	bits      []uint64
	numBlocks uint64
	free      uint64
	lastHint  uint64 // last allocated block, for contiguous-run preference
}

// New creates an all-free bitmap for numBlocks blocks.
func New(numBlocks uint64) *Bitmap {
	return &Bitmap{
		bits:      make([]uint64, (numBlocks+63)/64),
		numBlocks: numBlocks,
		free:      numBlocks,
	}
}

// Snapshot returns the raw words backing the bitmap, for persistence.
func (b *Bitmap) Snapshot() []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]uint64, len(b.bits))
	copy(out, b.bits)
	return out
}

// Restore replaces the bitmap's state from a previously captured
// Snapshot.
func Restore(numBlocks uint64, words []uint64) *Bitmap {
	b := New(numBlocks)
	copy(b.bits, words)
	var free uint64
	for i := uint64(0); i < numBlocks; i++ {
		if !b.isSet(i) {
			free++
		}
	}
	b.free = free
	return b
}

func (b *Bitmap) isSet(i uint64) bool {
	return b.bits[i/64]&(1<<(i%64)) != 0
}

func (b *Bitmap) set(i uint64)   { b.bits[i/64] |= 1 << (i % 64) }
func (b *Bitmap) clear(i uint64) { b.bits[i/64] &^= 1 << (i % 64) }

// FreeCount returns the number of unallocated blocks.
func (b *Bitmap) FreeCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.free
}

// AllocContiguous finds and marks allocated the first free run of n
// contiguous blocks, searching forward from the last allocation point
// first (to favor sequential layout for large objects) and wrapping
// around once if that fails.
func (b *Bitmap) AllocContiguous(n uint64) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n == 0 || n > b.free {
		return 0, objerr.New(objerr.BadInput, "bitmap.AllocContiguous", nil)
	}

	if start, ok := b.findRun(b.lastHint, n); ok {
		b.markRun(start, n)
		return start, nil
	}
	if start, ok := b.findRun(0, n); ok {
		b.markRun(start, n)
		return start, nil
	}
	return 0, objerr.New(objerr.Overloaded, "bitmap.AllocContiguous", nil)
}

func (b *Bitmap) findRun(from, n uint64) (uint64, bool) {
	runStart := uint64(0)
	runLen := uint64(0)
	for i := from; i < b.numBlocks; i++ {
		if !b.isSet(i) {
			if runLen == 0 {
				runStart = i
			}
			runLen++
			if runLen == n {
				return runStart, true
			}
		} else {
			runLen = 0
		}
	}
	return 0, false
}

func (b *Bitmap) markRun(start, n uint64) {
	for i := start; i < start+n; i++ {
		b.set(i)
	}
	b.free -= n
	b.lastHint = start + n
}

// Free releases a previously allocated contiguous run.
func (b *Bitmap) Free(start, n uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if start+n > b.numBlocks {
		return objerr.New(objerr.BadInput, "bitmap.Free", nil)
	}
	for i := start; i < start+n; i++ {
		if !b.isSet(i) {
			return objerr.New(objerr.Corrupt, "bitmap.Free", nil)
		}
		b.clear(i)
	}
	b.free += n
	return nil
}

// MarkAllocated forces a range to allocated state without consulting
// free space, used when replaying a WriteBlock record during recovery.
func (b *Bitmap) MarkAllocated(start, n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := start; i < start+n; i++ {
		if !b.isSet(i) {
			b.set(i)
			b.free--
		}
	}
	if start+n > b.lastHint {
		b.lastHint = start + n
	}
}
