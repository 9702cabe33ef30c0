package disk

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestOpenTruncatesToCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk0.img")
	d, err := Open("disk-0", path, 10*BlockSize+17)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()
	if d.SizeBytes() != 10*BlockSize {
		t.Fatalf("expected size rounded down to %d, got %d", 10*BlockSize, d.SizeBytes())
	}
	if d.BlockCount() != 10 {
		t.Fatalf("expected 10 blocks, got %d", d.BlockCount())
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk0.img")
	d, err := Open("disk-0", path, 4*BlockSize)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	buf := AllocAligned(2)
	for i := range buf {
		buf[i] = byte(i)
	}
	if err := d.WriteAt(buf, BlockSize); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := d.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got := AllocAligned(2)
	if err := d.ReadAt(got, BlockSize); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(buf, got) {
		t.Fatalf("round trip mismatch")
	}
}

func TestUnalignedAccessRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk0.img")
	d, err := Open("disk-0", path, 4*BlockSize)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	if err := d.WriteAt(make([]byte, 10), 0); err == nil {
		t.Fatalf("expected error for unaligned length")
	}
	if err := d.WriteAt(AllocAligned(1), 100); err == nil {
		t.Fatalf("expected error for unaligned offset")
	}
}

func TestReadPastEndRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk0.img")
	d, err := Open("disk-0", path, 2*BlockSize)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	if err := d.ReadAt(AllocAligned(3), 0); err == nil {
		t.Fatalf("expected error reading past end of disk")
	}
}

func TestReopenGrowsToLargerCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk0.img")
	d, err := Open("disk-0", path, 8*BlockSize)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	d.Close()

	d2, err := Open("disk-0", path, 100*BlockSize)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d2.Close()
	if d2.SizeBytes() != 100*BlockSize {
		t.Fatalf("expected truncate to grow to 100 blocks, got %d", d2.SizeBytes()/BlockSize)
	}
}
