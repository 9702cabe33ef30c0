// Package superblock implements the fixed-layout first block of an OSD
// disk image: a magic number, disk and cluster identity, capacity, and a
// checksum, written once at format time and verified on every mount.
package superblock

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"

	"github.com/cloudomate/objectio/internal/objerr"
	"github.com/cloudomate/objectio/internal/osd/disk"
)

// Magic identifies a formatted OSD disk image.
const Magic = "OBJIO001"

// Layout version 1:
//
//	[0:8)    magic "OBJIO001"
//	[8:9)    layout version
//	[9:25)   disk UUID
//	[25:41)  cluster UUID
//	[41:49)  capacity bytes (block-aligned)
//	[49:57)  wal reserved bytes
//	[57:65)  metadata reserved bytes
//	[65:73)  format timestamp, unix seconds
//	...
//	[4092:4096) crc32c of bytes [0:4092)
const (
	offMagic     = 0
	offVersion   = 8
	offDiskID    = 9
	offClusterID = 25
	offCapacity  = 41
	offWALSize   = 49
	offMetaSize  = 57
	offFormatted = 65
	offCRC       = disk.BlockSize - 4
)

const LayoutVersion = 1

// Superblock is the parsed contents of block 0.
type Superblock struct {
	DiskID       uuid.UUID
	ClusterID    uuid.UUID
	CapacityByte int64
	WALBytes     int64
	MetaBytes    int64
	FormattedAt  int64
}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Format writes a fresh superblock to block 0 of d and syncs it.
func Format(d *disk.Disk, sb Superblock) error {
	buf := disk.AllocAligned(1)
	copy(buf[offMagic:], []byte(Magic))
	buf[offVersion] = LayoutVersion
	copy(buf[offDiskID:], sb.DiskID[:])
	copy(buf[offClusterID:], sb.ClusterID[:])
	binary.BigEndian.PutUint64(buf[offCapacity:], uint64(sb.CapacityByte))
	binary.BigEndian.PutUint64(buf[offWALSize:], uint64(sb.WALBytes))
	binary.BigEndian.PutUint64(buf[offMetaSize:], uint64(sb.MetaBytes))
	binary.BigEndian.PutUint64(buf[offFormatted:], uint64(sb.FormattedAt))

	crc := crc32.Checksum(buf[:offCRC], crcTable)
	binary.BigEndian.PutUint32(buf[offCRC:], crc)

	if err := d.WriteAt(buf, 0); err != nil {
		return objerr.New(objerr.Fatal, "superblock.Format", err)
	}
	return d.Sync()
}

// Read loads and verifies the superblock from block 0 of d.
func Read(d *disk.Disk) (Superblock, error) {
	buf := disk.AllocAligned(1)
	if err := d.ReadAt(buf, 0); err != nil {
		return Superblock{}, objerr.New(objerr.Fatal, "superblock.Read", err)
	}
	if string(buf[offMagic:offMagic+8]) != Magic {
		return Superblock{}, objerr.New(objerr.Corrupt, "superblock.Read", fmt.Errorf("bad magic"))
	}
	if buf[offVersion] != LayoutVersion {
		return Superblock{}, objerr.New(objerr.Corrupt, "superblock.Read",
			fmt.Errorf("unsupported layout version %d", buf[offVersion]))
	}
	wantCRC := binary.BigEndian.Uint32(buf[offCRC:])
	gotCRC := crc32.Checksum(buf[:offCRC], crcTable)
	if wantCRC != gotCRC {
		return Superblock{}, objerr.New(objerr.Corrupt, "superblock.Read", fmt.Errorf("superblock checksum mismatch"))
	}

	var sb Superblock
	copy(sb.DiskID[:], buf[offDiskID:offDiskID+16])
	copy(sb.ClusterID[:], buf[offClusterID:offClusterID+16])
	sb.CapacityByte = int64(binary.BigEndian.Uint64(buf[offCapacity:]))
	sb.WALBytes = int64(binary.BigEndian.Uint64(buf[offWALSize:]))
	sb.MetaBytes = int64(binary.BigEndian.Uint64(buf[offMetaSize:]))
	sb.FormattedAt = int64(binary.BigEndian.Uint64(buf[offFormatted:]))
	return sb, nil
}
