package superblock

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/cloudomate/objectio/internal/osd/disk"
)

func TestFormatAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk0.img")
	d, err := disk.Open("disk-0", path, 100*disk.BlockSize)
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	defer d.Close()

	want := Superblock{
		DiskID:       uuid.New(),
		ClusterID:    uuid.New(),
		CapacityByte: 100 * disk.BlockSize,
		WALBytes:     10 * disk.BlockSize,
		MetaBytes:    20 * disk.BlockSize,
		FormattedAt:  1700000000,
	}
	if err := Format(d, want); err != nil {
		t.Fatalf("Format: %v", err)
	}

	got, err := Read(d)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestReadRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk0.img")
	d, err := disk.Open("disk-0", path, 10*disk.BlockSize)
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	defer d.Close()

	_, err = Read(d)
	if err == nil {
		t.Fatalf("expected error reading unformatted disk")
	}
}

func TestReadDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk0.img")
	d, err := disk.Open("disk-0", path, 10*disk.BlockSize)
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	defer d.Close()

	if err := Format(d, Superblock{DiskID: uuid.New(), ClusterID: uuid.New(), CapacityByte: 10 * disk.BlockSize}); err != nil {
		t.Fatalf("Format: %v", err)
	}

	buf := disk.AllocAligned(1)
	if err := d.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	buf[offFormatted] ^= 0xff
	if err := d.WriteAt(buf, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	_, err = Read(d)
	if err == nil {
		t.Fatalf("expected checksum mismatch error")
	}
}
